package mlb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/statflow/pkg/core/cache"
	"github.com/LENAX/statflow/pkg/core/task"
)

func TestFileRawWriter_SortedIndentedJSON(t *testing.T) {
	ctx := context.Background()
	raw := NewFileRawWriter()
	path := filepath.Join(t.TempDir(), "nested", "games.json")

	games := []GameData{{GameID: 7, HomeTeam: "Phillies", GameTime: "2:50"}}
	require.NoError(t, raw.WriteJSON(ctx, path, games))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Index(text, `"away_score"`) < strings.Index(text, `"game_id"`), "键按字母序")
	assert.Contains(t, text, "\n        \"game_id\": 7", "4空格缩进")

	back, err := raw.ReadGames(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, games, back)

	require.NoError(t, raw.Remove(ctx, path))
	require.NoError(t, raw.Remove(ctx, path), "重复删除不报错")
	_, err = raw.ReadGames(ctx, path)
	assert.True(t, task.IsPermanent(err))
}

func TestLocalBucket_UploadDownloadDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bucket := NewLocalBucket(filepath.Join(dir, "bucket"))
	src := filepath.Join(dir, "raw.json")
	require.NoError(t, os.WriteFile(src, []byte(`[]`), 0o644))

	key, err := bucket.Upload(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "raw.json", key)

	dst, err := bucket.Download(ctx, key, filepath.Join(dir, "copy", "raw.json"))
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	require.NoError(t, bucket.Delete(ctx, key))
	_, err = bucket.Download(ctx, key, dst)
	assert.True(t, task.IsPermanent(err))

	_, err = bucket.Upload(ctx, filepath.Join(dir, "missing.json"))
	assert.True(t, task.IsPermanent(err))

	// 对象键不能逃逸出桶目录
	p, err := bucket.objectPath("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, bucket.Root()))
}

func TestLocalBucket_KeyStorage(t *testing.T) {
	ctx := context.Background()
	bucket := NewLocalBucket(t.TempDir())
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }

	blob := bucket.KeyStorage("cache/mlb-raw-data")
	require.NoError(t, blob.Put(ctx, "k1", []byte(`"path.json"`), time.Hour))
	require.NoError(t, blob.Put(ctx, "k2", []byte(`1`), 0))

	data, ok, err := blob.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"path.json"`, string(data))

	now = now.Add(2 * time.Hour)
	_, ok, err = blob.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "过期")
	_, ok, _ = blob.Get(ctx, "k2")
	assert.True(t, ok, "ttl=0永不过期")

	// 作为结果缓存使用
	store := cache.NewStore(cache.NewPersistentResultCache(blob))
	require.NoError(t, store.Set(ctx, "k3", "value", 0))
	v, ok, err := store.Get(ctx, "k3", func(b []byte) (any, error) { return string(b), nil })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, v, "value")

	require.NoError(t, blob.Clear(ctx))
	_, ok, _ = blob.Get(ctx, "k2")
	assert.False(t, ok)
	assert.Error(t, bucket.KeyStorage("").Clear(ctx), "不允许清空整个桶")
}
