package mlb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/statflow/pkg/core/task"
	"github.com/LENAX/statflow/pkg/storage"
	"github.com/LENAX/statflow/pkg/storage/sqlstore"
)

// Warehouse 数仓写入（对外导出）
type Warehouse interface {
	CreateTables(ctx context.Context) error
	InsertGameScores(ctx context.Context, scores []GameScore) (int, error)
	InsertGameLocations(ctx context.Context, locations []GameLocation) (int, error)
	LoadAnalysis(ctx context.Context, a GameAnalysis) error
	DistinctVenueLocations(ctx context.Context) ([]VenueLocation, error)
	InsertElevations(ctx context.Context, rows []ElevationRecord) (int, error)
}

var (
	gameScoreColumns = []string{
		"game_id", "home_team_id", "home_team", "away_team_id", "away_team",
		"home_score", "away_score", "score_differential", "game_time",
	}
	gameLocationColumns = []string{
		"game_id", "venue_id", "venue_name", "venue_city", "venue_state",
		"venue_postal_code", "venue_country", "venue_latitude", "venue_longitude", "venue_elevation",
	}
	elevationColumns = []string{"city", "lat", "lon", "elevation"}
	analysisColumns  = []string{
		"search_start_date", "search_end_date", "chosen_team", "games",
		"max_game_time", "min_game_time", "median_game_time", "average_game_time",
		"max_differential", "min_differential", "median_differential", "average_differential",
		"time_differential_correlation",
	}
)

// SQLWarehouse 基于sqlx的数仓实现
type SQLWarehouse struct {
	db       *sqlx.DB
	dialect  storage.Dialect
	scoreSQL string
	locSQL   string
	elevSQL  string
	anaSQL   string
}

// NewSQLWarehouse 基于已有连接创建数仓
func NewSQLWarehouse(db *sqlx.DB, dialect storage.Dialect) *SQLWarehouse {
	return &SQLWarehouse{
		db:       db,
		dialect:  dialect,
		scoreSQL: dialect.UpsertSQL("game_scores", gameScoreColumns, "game_id"),
		locSQL:   dialect.UpsertSQL("game_locations", gameLocationColumns, "game_id"),
		elevSQL:  dialect.UpsertSQL("elevation_data", elevationColumns, "lat", "lon"),
		anaSQL:   fmt.Sprintf("INSERT INTO boxscore_analysis (%s) VALUES (%s)", joinColumns(analysisColumns, ""), joinColumns(analysisColumns, ":")),
	}
}

// OpenSQLWarehouse 通过DSN打开数仓
func OpenSQLWarehouse(dialect storage.Dialect, dsn string) (*SQLWarehouse, error) {
	db, err := sqlstore.Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	return NewSQLWarehouse(db, dialect), nil
}

// DB 底层连接
func (w *SQLWarehouse) DB() *sqlx.DB { return w.db }

// Close 关闭连接
func (w *SQLWarehouse) Close() error { return w.db.Close() }

// CreateTables 建表（幂等）
func (w *SQLWarehouse) CreateTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS game_scores (
			game_id INTEGER PRIMARY KEY,
			home_team_id INTEGER NOT NULL DEFAULT 0,
			home_team VARCHAR(255) NOT NULL,
			away_team_id INTEGER NOT NULL DEFAULT 0,
			away_team VARCHAR(255) NOT NULL,
			home_score INTEGER NOT NULL,
			away_score INTEGER NOT NULL,
			score_differential INTEGER NOT NULL,
			game_time VARCHAR(64)
		);`,
		`CREATE TABLE IF NOT EXISTS game_locations (
			game_id INTEGER PRIMARY KEY,
			venue_id INTEGER NOT NULL DEFAULT 0,
			venue_name VARCHAR(255),
			venue_city VARCHAR(255),
			venue_state VARCHAR(255),
			venue_postal_code VARCHAR(32),
			venue_country VARCHAR(64),
			venue_latitude REAL DEFAULT 0,
			venue_longitude REAL DEFAULT 0,
			venue_elevation REAL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS boxscore_analysis (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			search_start_date VARCHAR(32) NOT NULL,
			search_end_date VARCHAR(32) NOT NULL,
			chosen_team VARCHAR(255) NOT NULL,
			games INTEGER NOT NULL,
			max_game_time REAL NOT NULL,
			min_game_time REAL NOT NULL,
			median_game_time REAL NOT NULL,
			average_game_time REAL NOT NULL,
			max_differential REAL NOT NULL,
			min_differential REAL NOT NULL,
			median_differential REAL NOT NULL,
			average_differential REAL NOT NULL,
			time_differential_correlation REAL DEFAULT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS elevation_data (
			city VARCHAR(255),
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			elevation REAL NOT NULL,
			PRIMARY KEY (lat, lon)
		);`,
	}
	for _, stmt := range ddl {
		if _, err := w.db.ExecContext(ctx, w.dialect.CreateTableSQL(stmt)); err != nil {
			return task.Permanentf("创建数仓表失败: %w", err)
		}
	}
	return nil
}

// InsertGameScores 写入比分（按game_id覆盖）
func (w *SQLWarehouse) InsertGameScores(ctx context.Context, scores []GameScore) (int, error) {
	return w.upsertAll(ctx, w.scoreSQL, len(scores), func(i int) any { return &scores[i] })
}

// InsertGameLocations 写入场馆（按game_id覆盖）
func (w *SQLWarehouse) InsertGameLocations(ctx context.Context, locations []GameLocation) (int, error) {
	return w.upsertAll(ctx, w.locSQL, len(locations), func(i int) any { return &locations[i] })
}

// LoadAnalysis 追加一行分析结果
func (w *SQLWarehouse) LoadAnalysis(ctx context.Context, a GameAnalysis) error {
	if _, err := w.db.NamedExecContext(ctx, w.anaSQL, &a); err != nil {
		return task.Transientf("写入分析结果失败: %w", err)
	}
	return nil
}

// DistinctVenueLocations 已写入场馆的去重坐标（按城市排序）
func (w *SQLWarehouse) DistinctVenueLocations(ctx context.Context) ([]VenueLocation, error) {
	var out []VenueLocation
	query := `SELECT DISTINCT venue_city, venue_latitude, venue_longitude FROM game_locations
		ORDER BY venue_city, venue_latitude, venue_longitude`
	if err := w.db.SelectContext(ctx, &out, query); err != nil {
		return nil, task.Transientf("查询场馆坐标失败: %w", err)
	}
	return out, nil
}

// InsertElevations 写入海拔（按经纬度覆盖）
func (w *SQLWarehouse) InsertElevations(ctx context.Context, rows []ElevationRecord) (int, error) {
	return w.upsertAll(ctx, w.elevSQL, len(rows), func(i int) any { return &rows[i] })
}

// upsertAll 在一个数据库事务内批量写入
func (w *SQLWarehouse) upsertAll(ctx context.Context, query string, n int, row func(i int) any) (int, error) {
	if n == 0 {
		return 0, nil
	}
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, task.Transientf("开启数据库事务失败: %w", err)
	}
	for i := 0; i < n; i++ {
		if _, err := tx.NamedExecContext(ctx, query, row(i)); err != nil {
			tx.Rollback()
			return 0, task.Transientf("写入数仓失败: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, task.Transientf("提交数据库事务失败: %w", err)
	}
	return n, nil
}

func joinColumns(cols []string, prefix string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += prefix + c
	}
	return out
}

// 确保实现接口
var _ Warehouse = (*SQLWarehouse)(nil)
