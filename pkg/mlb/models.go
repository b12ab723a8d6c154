// Package mlb 比赛数据流水线：拉取比分、清洗、分析并写入文件/对象存储/数仓
package mlb

import "strconv"

// Team 球队信息
type Team struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	TeamName     string `json:"teamName"`
	ShortName    string `json:"shortName"`
	Abbreviation string `json:"abbreviation"`
	LocationName string `json:"locationName"`
}

// Boxscore 单场比赛的比分摘要
type Boxscore struct {
	GameID     int
	HomeTeamID int
	HomeTeam   string
	AwayTeamID int
	AwayTeam   string
	HomeScore  int
	AwayScore  int
	GameTime   string // 原始时长，如 "3:05 (1:16 delay)"
}

// SearchParams 一次查询的参数
type SearchParams struct {
	TeamID    int    `json:"team_id,omitempty"`
	TeamName  string `json:"team_name,omitempty"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Label 用于文件名和报告的球队标识
func (p SearchParams) Label() string {
	if p.TeamName != "" {
		return p.TeamName
	}
	return strconv.Itoa(p.TeamID)
}

// GameData 原始比赛数据（写入raw文件的一行）
type GameData struct {
	SearchStartDate   string `json:"search_start_date"`
	SearchEndDate     string `json:"search_end_date"`
	ChosenTeam        string `json:"chosen_team"`
	GameID            int    `json:"game_id"`
	HomeTeam          string `json:"home_team"`
	AwayTeam          string `json:"away_team"`
	HomeScore         int    `json:"home_score"`
	AwayScore         int    `json:"away_score"`
	ScoreDifferential int    `json:"score_differential"`
	GameTime          string `json:"game_time"`
	GameTimeInMinutes int    `json:"game_time_in_minutes,omitempty"`
}

// NewGameData 由比分摘要构造比赛数据
func NewGameData(b *Boxscore, p SearchParams) GameData {
	diff := b.HomeScore - b.AwayScore
	if diff < 0 {
		diff = -diff
	}
	return GameData{
		SearchStartDate:   p.StartDate,
		SearchEndDate:     p.EndDate,
		ChosenTeam:        p.Label(),
		GameID:            b.GameID,
		HomeTeam:          b.HomeTeam,
		AwayTeam:          b.AwayTeam,
		HomeScore:         b.HomeScore,
		AwayScore:         b.AwayScore,
		ScoreDifferential: diff,
		GameTime:          b.GameTime,
	}
}

// GameScore 数仓game_scores表的一行
type GameScore struct {
	GameID            int    `json:"game_id" db:"game_id"`
	HomeTeamID        int    `json:"home_team_id" db:"home_team_id"`
	HomeTeam          string `json:"home_team" db:"home_team"`
	AwayTeamID        int    `json:"away_team_id" db:"away_team_id"`
	AwayTeam          string `json:"away_team" db:"away_team"`
	HomeScore         int    `json:"home_score" db:"home_score"`
	AwayScore         int    `json:"away_score" db:"away_score"`
	ScoreDifferential int    `json:"score_differential" db:"score_differential"`
	GameTime          string `json:"game_time" db:"game_time"`
}

// NewGameScore 由比分摘要构造数仓行
func NewGameScore(b *Boxscore) GameScore {
	g := NewGameData(b, SearchParams{})
	return GameScore{
		GameID:            b.GameID,
		HomeTeamID:        b.HomeTeamID,
		HomeTeam:          b.HomeTeam,
		AwayTeamID:        b.AwayTeamID,
		AwayTeam:          b.AwayTeam,
		HomeScore:         b.HomeScore,
		AwayScore:         b.AwayScore,
		ScoreDifferential: g.ScoreDifferential,
		GameTime:          b.GameTime,
	}
}

// GameLocation 比赛场馆信息（数仓game_locations表的一行）
type GameLocation struct {
	GameID     int     `json:"game_id" db:"game_id"`
	VenueID    int     `json:"venue_id" db:"venue_id"`
	Name       string  `json:"venue_name" db:"venue_name"`
	City       string  `json:"venue_city" db:"venue_city"`
	State      string  `json:"venue_state" db:"venue_state"`
	PostalCode string  `json:"venue_postal_code" db:"venue_postal_code"`
	Country    string  `json:"venue_country" db:"venue_country"`
	Latitude   float64 `json:"venue_latitude" db:"venue_latitude"`
	Longitude  float64 `json:"venue_longitude" db:"venue_longitude"`
	Elevation  float64 `json:"venue_elevation" db:"venue_elevation"`
}

// GameAnalysis 汇总统计
// Correlation 在样本不足或方差为0时为nil
type GameAnalysis struct {
	SearchStartDate     string   `json:"search_start_date" db:"search_start_date"`
	SearchEndDate       string   `json:"search_end_date" db:"search_end_date"`
	ChosenTeam          string   `json:"chosen_team" db:"chosen_team"`
	Games               int      `json:"games" db:"games"`
	MaxGameTime         float64  `json:"max_game_time" db:"max_game_time"`
	MinGameTime         float64  `json:"min_game_time" db:"min_game_time"`
	MedianGameTime      float64  `json:"median_game_time" db:"median_game_time"`
	AverageGameTime     float64  `json:"average_game_time" db:"average_game_time"`
	MaxDifferential     float64  `json:"max_differential" db:"max_differential"`
	MinDifferential     float64  `json:"min_differential" db:"min_differential"`
	MedianDifferential  float64  `json:"median_differential" db:"median_differential"`
	AverageDifferential float64  `json:"average_differential" db:"average_differential"`
	Correlation         *float64 `json:"time_differential_correlation" db:"time_differential_correlation"`
}
