package mlb

import (
	"fmt"
	"strings"
)

// RenderReport 生成Markdown分析报告
func RenderReport(a GameAnalysis, games []GameData) string {
	var b strings.Builder

	b.WriteString("# Game Analysis Report\n\n")
	b.WriteString("## Search Parameters\n\n")
	fmt.Fprintf(&b, "Search Start Date: %s\n", a.SearchStartDate)
	fmt.Fprintf(&b, "Search End Date: %s\n", a.SearchEndDate)
	fmt.Fprintf(&b, "Chosen Team: %s\n\n", a.ChosenTeam)

	b.WriteString("## Summary Statistics\n\n")
	fmt.Fprintf(&b, "Games: %d\n", a.Games)
	fmt.Fprintf(&b, "Max game time: %.2f\n", a.MaxGameTime)
	fmt.Fprintf(&b, "Min game time: %.2f\n", a.MinGameTime)
	fmt.Fprintf(&b, "Median game time: %.2f\n", a.MedianGameTime)
	fmt.Fprintf(&b, "Average game time: %.2f\n", a.AverageGameTime)
	fmt.Fprintf(&b, "Max differential: %.2f\n", a.MaxDifferential)
	fmt.Fprintf(&b, "Min differential: %.2f\n", a.MinDifferential)
	fmt.Fprintf(&b, "Median differential: %.2f\n", a.MedianDifferential)
	fmt.Fprintf(&b, "Average differential: %.2f\n", a.AverageDifferential)
	if a.Correlation != nil {
		fmt.Fprintf(&b, "Correlation between game time and score differential: %.2f\n\n", *a.Correlation)
	} else {
		b.WriteString("Correlation between game time and score differential: n/a\n\n")
	}

	b.WriteString("## Raw Data\n\n")
	b.WriteString("| game_id | home_team | away_team | home_score | away_score | score_differential | game_time | game_time_in_minutes |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, g := range games {
		fmt.Fprintf(&b, "| %d | %s | %s | %d | %d | %d | %s | %d |\n",
			g.GameID, escapeCell(g.HomeTeam), escapeCell(g.AwayTeam),
			g.HomeScore, g.AwayScore, g.ScoreDifferential,
			escapeCell(g.GameTime), g.GameTimeInMinutes)
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
