package mlb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/LENAX/statflow/pkg/core/task"
)

// 主客队
const (
	TeamHome = "home"
	TeamAway = "away"
)

// PlayerBoxscore 单场比赛的球员数据
type PlayerBoxscore struct {
	GameID int          `json:"game_id"`
	Home   TeamBoxscore `json:"home"`
	Away   TeamBoxscore `json:"away"`
}

// TeamBoxscore 一支球队的出场球员（按上场顺序）
type TeamBoxscore struct {
	TeamID   int          `json:"team_id"`
	TeamName string       `json:"team_name"`
	Batters  []PlayerLine `json:"batters"`
	Pitchers []PlayerLine `json:"pitchers"`
}

// PlayerLine 一名球员的本场数据和赛季数据
type PlayerLine struct {
	PlayerID     int          `json:"player_id"`
	Name         string       `json:"name"`
	Position     string       `json:"position"`
	BattingOrder string       `json:"batting_order"`
	Note         string       `json:"note,omitempty"`
	Batting      BattingLine  `json:"batting"`
	Pitching     PitchingLine `json:"pitching"`
}

// BattingLine 打击数据，比率为赛季值
type BattingLine struct {
	AtBats      int    `json:"atBats"`
	Runs        int    `json:"runs"`
	Hits        int    `json:"hits"`
	Doubles     int    `json:"doubles"`
	Triples     int    `json:"triples"`
	HomeRuns    int    `json:"homeRuns"`
	RBI         int    `json:"rbi"`
	BaseOnBalls int    `json:"baseOnBalls"`
	StrikeOuts  int    `json:"strikeOuts"`
	LeftOnBase  int    `json:"leftOnBase"`
	Avg         string `json:"avg,omitempty"`
	OBP         string `json:"obp,omitempty"`
	SLG         string `json:"slg,omitempty"`
	OPS         string `json:"ops,omitempty"`
}

// PitchingLine 投球数据，ERA为赛季值
type PitchingLine struct {
	InningsPitched  string `json:"inningsPitched"`
	Hits            int    `json:"hits"`
	Runs            int    `json:"runs"`
	EarnedRuns      int    `json:"earnedRuns"`
	BaseOnBalls     int    `json:"baseOnBalls"`
	StrikeOuts      int    `json:"strikeOuts"`
	HomeRuns        int    `json:"homeRuns"`
	NumberOfPitches int    `json:"numberOfPitches"`
	Strikes         int    `json:"strikes"`
	ERA             string `json:"era,omitempty"`
}

// Side 按 home / away 取球队
func (b *PlayerBoxscore) Side(teamType string) (*TeamBoxscore, error) {
	switch teamType {
	case TeamHome:
		return &b.Home, nil
	case TeamAway:
		return &b.Away, nil
	default:
		return nil, task.Permanentf("未知的球队类型: %q", teamType)
	}
}

// BattingRecord 一名打者的单场记录
type BattingRecord struct {
	GameID       int     `json:"game_id"`
	TeamID       int     `json:"team_id"`
	TeamName     string  `json:"team_name"`
	PlayerID     int     `json:"player_id"`
	PlayerName   string  `json:"player_name"`
	Position     string  `json:"position"`
	BattingOrder string  `json:"batting_order"`
	AB           int     `json:"ab"`
	R            int     `json:"r"`
	H            int     `json:"h"`
	Doubles      int     `json:"doubles"`
	Triples      int     `json:"triples"`
	HR           int     `json:"hr"`
	RBI          int     `json:"rbi"`
	BB           int     `json:"bb"`
	K            int     `json:"k"`
	LOB          int     `json:"lob"`
	AVG          float64 `json:"avg"`
	OPS          float64 `json:"ops"`
	OBP          float64 `json:"obp"`
	SLG          float64 `json:"slg"`
}

// PitchingRecord 一名投手的单场记录
type PitchingRecord struct {
	GameID     int     `json:"game_id"`
	TeamID     int     `json:"team_id"`
	TeamName   string  `json:"team_name"`
	PlayerName string  `json:"player_name"`
	PlayerID   int     `json:"player_id"`
	Note       string  `json:"note"`
	IP         string  `json:"ip"`
	H          int     `json:"h"`
	R          int     `json:"r"`
	ER         int     `json:"er"`
	BB         int     `json:"bb"`
	K          int     `json:"k"`
	HR         int     `json:"hr"`
	ERA        float64 `json:"era"`
	Pitches    int     `json:"pitches"`
	Strikes    int     `json:"strikes"`
}

var (
	battingHeader = []string{
		"game_id", "team_id", "team_name", "player_id", "player_name", "position", "batting_order",
		"ab", "r", "h", "doubles", "triples", "hr", "rbi", "bb", "k", "lob", "avg", "ops", "obp", "slg",
	}
	pitchingHeader = []string{
		"game_id", "team_id", "team_name", "player_name", "player_id", "note",
		"ip", "h", "r", "er", "bb", "k", "hr", "era", "pitches", "strikes",
	}
)

// BattingStats 一支球队的打击记录
func BattingStats(b *PlayerBoxscore, teamType string) ([]BattingRecord, error) {
	side, err := b.Side(teamType)
	if err != nil {
		return nil, err
	}
	out := make([]BattingRecord, 0, len(side.Batters))
	for _, p := range side.Batters {
		s := p.Batting
		out = append(out, BattingRecord{
			GameID:       b.GameID,
			TeamID:       side.TeamID,
			TeamName:     side.TeamName,
			PlayerID:     p.PlayerID,
			PlayerName:   p.Name,
			Position:     p.Position,
			BattingOrder: p.BattingOrder,
			AB:           s.AtBats,
			R:            s.Runs,
			H:            s.Hits,
			Doubles:      s.Doubles,
			Triples:      s.Triples,
			HR:           s.HomeRuns,
			RBI:          s.RBI,
			BB:           s.BaseOnBalls,
			K:            s.StrikeOuts,
			LOB:          s.LeftOnBase,
			AVG:          parseRate(s.Avg),
			OPS:          parseRate(s.OPS),
			OBP:          parseRate(s.OBP),
			SLG:          parseRate(s.SLG),
		})
	}
	return out, nil
}

// PitchingStats 一支球队的投球记录
func PitchingStats(b *PlayerBoxscore, teamType string) ([]PitchingRecord, error) {
	side, err := b.Side(teamType)
	if err != nil {
		return nil, err
	}
	out := make([]PitchingRecord, 0, len(side.Pitchers))
	for _, p := range side.Pitchers {
		s := p.Pitching
		out = append(out, PitchingRecord{
			GameID:     b.GameID,
			TeamID:     side.TeamID,
			TeamName:   side.TeamName,
			PlayerName: p.Name,
			PlayerID:   p.PlayerID,
			Note:       p.Note,
			IP:         s.InningsPitched,
			H:          s.Hits,
			R:          s.Runs,
			ER:         s.EarnedRuns,
			BB:         s.BaseOnBalls,
			K:          s.StrikeOuts,
			HR:         s.HomeRuns,
			ERA:        parseRate(s.ERA),
			Pitches:    s.NumberOfPitches,
			Strikes:    s.Strikes,
		})
	}
	return out, nil
}

func (r BattingRecord) row() []string {
	return []string{
		itoa(r.GameID), itoa(r.TeamID), r.TeamName, itoa(r.PlayerID), r.PlayerName, r.Position, r.BattingOrder,
		itoa(r.AB), itoa(r.R), itoa(r.H), itoa(r.Doubles), itoa(r.Triples), itoa(r.HR), itoa(r.RBI),
		itoa(r.BB), itoa(r.K), itoa(r.LOB), ftoa(r.AVG), ftoa(r.OPS), ftoa(r.OBP), ftoa(r.SLG),
	}
}

func (r PitchingRecord) row() []string {
	return []string{
		itoa(r.GameID), itoa(r.TeamID), r.TeamName, r.PlayerName, itoa(r.PlayerID), r.Note,
		r.IP, itoa(r.H), itoa(r.R), itoa(r.ER), itoa(r.BB), itoa(r.K), itoa(r.HR), ftoa(r.ERA),
		itoa(r.Pitches), itoa(r.Strikes),
	}
}

func battingRows(records []BattingRecord) [][]string {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.row()
	}
	return rows
}

func pitchingRows(records []PitchingRecord) [][]string {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.row()
	}
	return rows
}

// parseRate ".262"、"4.50" 转为数值；"-.--" 等占位符为0
func parseRate(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func itoa(n int) string { return strconv.Itoa(n) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 3, 64) }

// VenueLocation 数仓中去重后的场馆坐标
type VenueLocation struct {
	City      string  `json:"city" db:"venue_city"`
	Latitude  float64 `json:"lat" db:"venue_latitude"`
	Longitude float64 `json:"lon" db:"venue_longitude"`
}

func (l VenueLocation) String() string {
	return fmt.Sprintf("%s (%v, %v)", l.City, l.Latitude, l.Longitude)
}

// ElevationRecord 数仓elevation_data表的一行
type ElevationRecord struct {
	City      string  `json:"city" db:"city"`
	Latitude  float64 `json:"lat" db:"lat"`
	Longitude float64 `json:"lon" db:"lon"`
	Elevation float64 `json:"elevation" db:"elevation"`
}
