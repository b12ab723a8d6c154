package mlb

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/LENAX/statflow/pkg/core/task"
)

// CleanTimeValue 把比赛时长转换为分钟
// "3:05 (1:16 delay)" → 185；括号内的延误说明被忽略
func CleanTimeValue(raw string) (int, error) {
	s := raw
	if i := strings.Index(s, "("); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ':' {
			b.WriteRune(r)
		}
	}

	parts := strings.Split(b.String(), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return 0, task.Permanentf("比赛时长格式非法: %q", raw)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, task.Permanentf("比赛时长格式非法: %q", raw)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, task.Permanentf("比赛时长格式非法: %q", raw)
	}
	return hours*60 + minutes, nil
}

// CleanGames 为每场比赛填充 GameTimeInMinutes，返回新切片
func CleanGames(games []GameData) ([]GameData, error) {
	out := make([]GameData, len(games))
	for i, g := range games {
		minutes, err := CleanTimeValue(g.GameTime)
		if err != nil {
			return nil, err
		}
		g.GameTimeInMinutes = minutes
		out[i] = g
	}
	return out, nil
}

// Analyze 计算比分差和比赛时长的统计量
// 各统计量独立计算；空数据返回PermanentTaskError
func Analyze(games []GameData) (GameAnalysis, error) {
	if len(games) == 0 {
		return GameAnalysis{}, task.Permanentf("没有可分析的比赛数据")
	}

	diffs := make([]float64, len(games))
	times := make([]float64, len(games))
	for i, g := range games {
		diffs[i] = float64(g.ScoreDifferential)
		times[i] = float64(g.GameTimeInMinutes)
	}

	first := games[0]
	return GameAnalysis{
		SearchStartDate:     first.SearchStartDate,
		SearchEndDate:       first.SearchEndDate,
		ChosenTeam:          first.ChosenTeam,
		Games:               len(games),
		MaxGameTime:         maxOf(times),
		MinGameTime:         minOf(times),
		MedianGameTime:      median(times),
		AverageGameTime:     mean(times),
		MaxDifferential:     maxOf(diffs),
		MinDifferential:     minOf(diffs),
		MedianDifferential:  median(diffs),
		AverageDifferential: mean(diffs),
		Correlation:         pearson(times, diffs),
	}, nil
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// pearson 相关系数，少于2个样本或任一序列方差为0时无定义
func pearson(xs, ys []float64) *float64 {
	if len(xs) < 2 || len(xs) != len(ys) {
		return nil
	}
	mx, my := mean(xs), mean(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return nil
	}
	r := cov / math.Sqrt(vx*vy)
	return &r
}
