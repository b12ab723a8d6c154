package mlb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/statflow/pkg/core/task"
)

func TestCleanTimeValue(t *testing.T) {
	cases := map[string]int{
		"3:05 (1:16 delay)": 185,
		"2:41":              161,
		"2:41.":             161,
		" 3:00 ":            180,
	}
	for in, want := range cases {
		got, err := CleanTimeValue(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "Unknown", "3", "3:05:01"} {
		_, err := CleanTimeValue(bad)
		assert.True(t, task.IsPermanent(err), bad)
	}
}

func TestAnalyze(t *testing.T) {
	games := []GameData{
		{ScoreDifferential: 1, GameTimeInMinutes: 150, ChosenTeam: "143", SearchStartDate: "06/01/2024", SearchEndDate: "06/30/2024"},
		{ScoreDifferential: 5, GameTimeInMinutes: 190},
		{ScoreDifferential: 3, GameTimeInMinutes: 170},
		{ScoreDifferential: 7, GameTimeInMinutes: 210},
	}

	a, err := Analyze(games)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Games)
	assert.Equal(t, "143", a.ChosenTeam)
	assert.Equal(t, 7.0, a.MaxDifferential)
	assert.Equal(t, 1.0, a.MinDifferential, "最小值独立计算")
	assert.Equal(t, 4.0, a.MedianDifferential)
	assert.Equal(t, 4.0, a.AverageDifferential)
	assert.Equal(t, 210.0, a.MaxGameTime)
	assert.Equal(t, 150.0, a.MinGameTime)
	assert.Equal(t, 180.0, a.MedianGameTime)
	assert.Equal(t, 180.0, a.AverageGameTime)
	require.NotNil(t, a.Correlation)
	assert.InDelta(t, 1.0, *a.Correlation, 1e-9, "完全线性相关")
}

func TestAnalyze_Edges(t *testing.T) {
	_, err := Analyze(nil)
	assert.True(t, task.IsPermanent(err))

	single, err := Analyze([]GameData{{ScoreDifferential: 2, GameTimeInMinutes: 180}})
	require.NoError(t, err)
	assert.Nil(t, single.Correlation, "样本不足时相关系数未定义")
	assert.Equal(t, 2.0, single.MedianDifferential)

	flat, err := Analyze([]GameData{{ScoreDifferential: 2, GameTimeInMinutes: 180}, {ScoreDifferential: 2, GameTimeInMinutes: 200}})
	require.NoError(t, err)
	assert.Nil(t, flat.Correlation, "方差为0")
}

func TestRenderReport(t *testing.T) {
	games := []GameData{
		{GameID: 1, HomeTeam: "Phillies", AwayTeam: "Mets|NY", HomeScore: 4, AwayScore: 2, ScoreDifferential: 2, GameTime: "2:50", GameTimeInMinutes: 170},
	}
	a, err := Analyze(games)
	require.NoError(t, err)

	md := RenderReport(a, games)
	assert.Contains(t, md, "# Game Analysis Report")
	assert.Contains(t, md, "Max game time: 170.00")
	assert.Contains(t, md, "Correlation between game time and score differential: n/a")
	assert.Contains(t, md, `Mets\|NY`)
	assert.Contains(t, md, "| 1 | Phillies |")
}

func TestQualityCheck(t *testing.T) {
	raw := NewFileRawWriter()
	path := t.TempDir() + "/games.json"
	require.NoError(t, raw.WriteJSON(context.Background(), path, []GameData{{GameID: 1}, {GameID: 2}}))

	assert.NoError(t, QualityCheck(context.Background(), raw, path, 2))
	err := QualityCheck(context.Background(), raw, path, 5)
	require.Error(t, err)
	assert.True(t, task.IsPermanent(err))
	assert.Contains(t, err.Error(), "只有 2 场")
}
