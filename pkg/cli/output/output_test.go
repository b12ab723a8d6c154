package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	color.NoColor = true
	buf := &bytes.Buffer{}
	prev := SetWriter(buf)
	t.Cleanup(func() { SetWriter(prev) })
	return buf
}

func TestMessages(t *testing.T) {
	buf := captureOutput(t)
	Success("完成 %d", 1)
	Error("失败: %s", "x")
	Warning("注意")
	Info("提示")

	text := buf.String()
	assert.Contains(t, text, "✅ 完成 1\n")
	assert.Contains(t, text, "❌ 失败: x\n")
	assert.Contains(t, text, "⚠️  注意")
	assert.Contains(t, text, "ℹ️  提示")
}

func TestPrintJSON(t *testing.T) {
	buf := captureOutput(t)
	require.NoError(t, PrintJSON(map[string]int{"games": 3}))
	assert.Equal(t, "{\n  \"games\": 3\n}\n", buf.String())
}

func TestTable(t *testing.T) {
	buf := captureOutput(t)
	table := NewTable([]string{"FLOW", "说明"})
	table.AddRow([]string{"raw-data", "拉取比分"})
	table.AddRow([]string{"retry", "x"})
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "FLOW      说明    ", lines[0])
	assert.Equal(t, "--------  ----  ", lines[1])
	assert.Equal(t, "raw-data  拉取比分  ", lines[2])
	assert.Equal(t, "retry     x     ", lines[3])
}
