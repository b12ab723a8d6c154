package sqlstore_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/statflow/pkg/core/cache"
	"github.com/LENAX/statflow/pkg/storage/mysql"
	"github.com/LENAX/statflow/pkg/storage/postgres"
	"github.com/LENAX/statflow/pkg/storage/sqlite"
	"github.com/LENAX/statflow/pkg/storage/sqlstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRepo(t *testing.T, clock *fakeClock) *sqlstore.CacheEntryRepo {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "cache.db")
	repo, err := sqlstore.NewCacheEntryRepoFromDSN(sqlite.NewSQLiteDialect(), dsn, sqlstore.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCacheEntryRepo_CRUD(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	repo := newRepo(t, clock)

	t.Run("未命中", func(t *testing.T) {
		data, ok, err := repo.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, data)
	})

	t.Run("写入后读取", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "k1", []byte(`{"a":1}`), 0))
		data, ok, err := repo.Get(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"a":1}`, string(data))
	})

	t.Run("覆盖写入", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "k1", []byte(`{"a":2}`), 0))
		data, ok, err := repo.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"a":2}`, string(data))

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("删除", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "k1"))
		_, ok, err := repo.Get(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("清空", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "a", []byte(`1`), 0))
		require.NoError(t, repo.Put(ctx, "b", []byte(`2`), time.Hour))
		require.NoError(t, repo.Clear(ctx))
		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestCacheEntryRepo_TTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	repo := newRepo(t, clock)

	require.NoError(t, repo.Put(ctx, "short", []byte(`"s"`), time.Minute))
	require.NoError(t, repo.Put(ctx, "long", []byte(`"l"`), time.Hour))
	require.NoError(t, repo.Put(ctx, "forever", []byte(`"f"`), 0))

	_, ok, err := repo.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, ok, "过期前应命中")

	clock.Advance(2 * time.Minute)

	_, ok, err = repo.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "过期后应视为不存在")

	clock.Advance(2 * time.Hour)
	purged, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged, "short已在读取时删除，只剩long过期")

	_, ok, err = repo.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok, "ttl<=0永不过期")
}

func TestCacheEntryRepo_AsPersistentCache(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	repo := newRepo(t, clock)

	type summary struct {
		GamePK int    `json:"game_pk"`
		Venue  string `json:"venue"`
	}

	store := cache.NewStore(cache.NewPersistentResultCache(repo))
	require.NoError(t, store.Set(ctx, "games", []summary{{GamePK: 1, Venue: "Citi Field"}}, time.Hour))

	v, ok, err := store.Get(ctx, "games", func(data []byte) (any, error) {
		var out []summary
		err := json.Unmarshal(data, &out)
		return out, err
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []summary{{GamePK: 1, Venue: "Citi Field"}}, v)
}

func TestDialects(t *testing.T) {
	ddl := `CREATE TABLE IF NOT EXISTS cache_entry (cache_key VARCHAR(255) PRIMARY KEY, payload BLOB NOT NULL, expires_at BIGINT NOT NULL DEFAULT 0);
CREATE TABLE IF NOT EXISTS boxscore_analysis (id INTEGER PRIMARY KEY AUTOINCREMENT, average_game_time REAL NOT NULL, time_differential_correlation REAL DEFAULT NULL);`
	elevationColumns := []string{"venue_latitude", "venue_longitude", "elevation"}

	t.Run("sqlite", func(t *testing.T) {
		d := sqlite.NewSQLiteDialect()
		assert.Equal(t, ddl, d.CreateTableSQL(ddl), "表结构本身就是SQLite写法")
		assert.Equal(t, "sqlite3", d.DriverName())
		assert.Equal(t,
			"INSERT INTO cache_entry (cache_key, payload) VALUES (:cache_key, :payload) ON CONFLICT (cache_key) DO UPDATE SET payload = excluded.payload",
			d.UpsertSQL("cache_entry", []string{"cache_key", "payload"}, "cache_key"))
		assert.Equal(t,
			"INSERT INTO elevation_data (venue_latitude, venue_longitude, elevation) VALUES (:venue_latitude, :venue_longitude, :elevation) ON CONFLICT (venue_latitude, venue_longitude) DO UPDATE SET elevation = excluded.elevation",
			d.UpsertSQL("elevation_data", elevationColumns, "venue_latitude", "venue_longitude"))
		assert.Contains(t, d.UpsertSQL("t", []string{"id"}, "id"), "DO NOTHING")
	})

	t.Run("sqlite创建数据库目录", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "dir")
		dsn := "file:" + filepath.Join(dir, "warehouse.db") + "?cache=shared"
		got, err := sqlite.NewSQLiteDialect().PrepareDSN(dsn)
		require.NoError(t, err)
		assert.Equal(t, dsn, got)
		assert.DirExists(t, dir)

		got, err = sqlite.NewSQLiteDialect().PrepareDSN(":memory:")
		require.NoError(t, err)
		assert.Equal(t, ":memory:", got)
	})

	t.Run("mysql", func(t *testing.T) {
		d := mysql.NewMySQLDialect()
		out := d.CreateTableSQL(ddl)
		assert.Contains(t, out, "payload LONGBLOB NOT NULL")
		assert.Contains(t, out, "AUTO_INCREMENT")
		assert.Contains(t, out, "average_game_time DOUBLE NOT NULL")
		assert.Contains(t, out, "time_differential_correlation DOUBLE DEFAULT NULL")
		assert.Contains(t, out, "ENGINE=InnoDB")
		assert.Equal(t,
			"INSERT INTO elevation_data (venue_latitude, venue_longitude, elevation) VALUES (:venue_latitude, :venue_longitude, :elevation) ON DUPLICATE KEY UPDATE elevation = VALUES(elevation)",
			d.UpsertSQL("elevation_data", elevationColumns, "venue_latitude", "venue_longitude"))

		dsn, err := d.PrepareDSN("user:pw@tcp(localhost:3306)/mlb")
		require.NoError(t, err)
		assert.Equal(t, "user:pw@tcp(localhost:3306)/mlb?parseTime=true", dsn)
		dsn, err = d.PrepareDSN("user:pw@tcp(localhost:3306)/mlb?charset=utf8mb4")
		require.NoError(t, err)
		assert.Equal(t, "user:pw@tcp(localhost:3306)/mlb?charset=utf8mb4&parseTime=true", dsn)
	})

	t.Run("postgres", func(t *testing.T) {
		d := postgres.NewPostgresDialect()
		out := d.CreateTableSQL(ddl)
		assert.Contains(t, out, "payload BYTEA NOT NULL")
		assert.Contains(t, out, "id SERIAL PRIMARY KEY")
		assert.Contains(t, out, "average_game_time DOUBLE PRECISION NOT NULL")
		assert.Contains(t, out, "time_differential_correlation DOUBLE PRECISION DEFAULT NULL")
		assert.Contains(t, out, "expires_at BIGINT NOT NULL", "其余类型不变")
		assert.Equal(t,
			"INSERT INTO game_scores (game_id, home_score) VALUES (:game_id, :home_score) ON CONFLICT (game_id) DO UPDATE SET home_score = EXCLUDED.home_score",
			d.UpsertSQL("game_scores", []string{"game_id", "home_score"}, "game_id"))
	})
}
