package mlb

import "github.com/LENAX/statflow/pkg/core/lineage"

// 血缘资源
var (
	MLBAPISchedule = lineage.NewResource(
		"api://statsapi.mlb.com/api/{ver}/schedule",
		"api.mlb.statsapi.mlb.schedule", "api", "global")
	MLBAPIScore = lineage.NewResource(
		"api://statsapi.mlb.com/api/{ver}/game/{gamePk}/boxscore",
		"api.mlb.statsapi.mlb.game.gamePk.boxscore", "api", "global")
	MLBAPILocation = lineage.NewResource(
		"api://statsapi.mlb.com/api/{ver}/game/{gamePk}/feed/live",
		"api.mlb.statsapi.mlb.game.gamePk.feed.live", "api", "global")
	RawDataFile = lineage.NewResource(
		"file://raw_data/boxscore.json",
		"file.raw_data.boxscore", "file", "global")
	RawDataBucket = lineage.NewResource(
		"bucket://mlb-raw-data",
		"bucket.mlb-raw-data", "file", "global")
	WarehouseGameScores = lineage.NewResource(
		"warehouse://game_scores",
		"warehouse.game_scores", "table", "global")
	WarehouseGameLocations = lineage.NewResource(
		"warehouse://game_locations",
		"warehouse.game_locations", "table", "global")
	WarehouseAnalysis = lineage.NewResource(
		"warehouse://boxscore_analysis",
		"warehouse.boxscore_analysis", "table", "global")
	WarehouseElevationData = lineage.NewResource(
		"warehouse://elevation_data",
		"warehouse.elevation_data", "table", "global")
	OpenMeteoElevationAPI = lineage.NewResource(
		"api://api.open-meteo.com/v1/elevation",
		"api.open-meteo.elevation", "api", "global")
	GameStatsFile = lineage.NewResource(
		"file://game_stats/{batting,pitching}.csv",
		"file.game_stats", "file", "global")
)

func resources(rs ...lineage.Resource) []lineage.Resource { return rs }
