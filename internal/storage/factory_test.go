package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	for _, dbType := range []string{"sqlite", "mysql", "postgres", "postgresql"} {
		d, err := DialectFor(dbType)
		require.NoError(t, err, dbType)
		assert.NotEmpty(t, d.Name())
	}

	_, err := DialectFor("oracle")
	assert.Error(t, err)
}

func TestNewCacheEntryRepo_SQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cache.db")

	repo, err := NewCacheEntryRepo(ctx, "sqlite", dsn, ConnectOptions{MaxRetries: 1})
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Put(ctx, "k", []byte(`"v"`), time.Hour))
	data, ok, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"v"`, string(data))
}

func TestNewCacheEntryRepo_GivesUp(t *testing.T) {
	// 目录不存在，sqlite无法创建文件
	dsn := filepath.Join(t.TempDir(), "missing", "dir", "cache.db")

	start := time.Now()
	_, err := NewCacheEntryRepo(context.Background(), "sqlite", dsn, ConnectOptions{
		MaxRetries: 2,
		MaxElapsed: 5 * time.Second,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}
