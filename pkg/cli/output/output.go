package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
)

var out io.Writer = color.Output

// SetWriter 设置输出目标（默认标准输出），返回原输出目标
func SetWriter(w io.Writer) io.Writer {
	prev := out
	out = w
	return prev
}

// PrintJSON 输出JSON格式
func PrintJSON(data any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Success 输出成功消息
func Success(format string, args ...any) {
	color.New(color.FgGreen, color.Bold).Fprintf(out, "✅ "+format+"\n", args...)
}

// Error 输出错误消息
func Error(format string, args ...any) {
	color.New(color.FgRed, color.Bold).Fprintf(out, "❌ "+format+"\n", args...)
}

// Info 输出信息
func Info(format string, args ...any) {
	color.New(color.FgCyan).Fprintf(out, "ℹ️  "+format+"\n", args...)
}

// Warning 输出警告
func Warning(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(out, "⚠️  "+format+"\n", args...)
}

// Printf 无颜色输出
func Printf(format string, args ...any) {
	fmt.Fprintf(out, format, args...)
}
