package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(clock *fakeClock) *MemoryResultCache {
	return NewMemoryResultCache(WithCleanInterval(0), WithClock(clock.Now))
}

func TestMemoryResultCache_SetAndGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryResultCache(WithCleanInterval(0))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k1", "result", time.Hour))

	v, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "result", v)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryResultCache_TTLExpiration(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(clock)

	require.NoError(t, c.Set(ctx, "k1", 42, time.Minute))

	clock.Advance(59 * time.Second)
	_, ok, _ := c.Get(ctx, "k1")
	assert.True(t, ok, "TTL内应命中")

	clock.Advance(time.Second)
	_, ok, _ = c.Get(ctx, "k1")
	assert.False(t, ok, "TTL到期后应视为未命中")
	assert.Equal(t, 0, c.Len(), "过期条目在读取时被删除")
}

func TestMemoryResultCache_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(clock)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	clock.Advance(365 * 24 * time.Hour)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)
}

func TestMemoryResultCache_DeleteClearPurge(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(clock)

	require.NoError(t, c.Set(ctx, "a", 1, time.Second))
	require.NoError(t, c.Set(ctx, "b", 2, time.Hour))
	require.NoError(t, c.Set(ctx, "c", 3, time.Hour))

	require.NoError(t, c.Delete(ctx, "c"))
	_, ok, _ := c.Get(ctx, "c")
	assert.False(t, ok)

	clock.Advance(2 * time.Second)
	c.purge()
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryResultCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryResultCache(WithCleanInterval(0))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			key := fmt.Sprintf("task-%d", idx)
			assert.NoError(t, c.Set(ctx, key, idx, time.Hour))
			v, ok, err := c.Get(ctx, key)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, idx, v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, c.Len())
}

func TestComputeKey(t *testing.T) {
	src := KeySource{
		TaskID:            "get_schedule",
		SourceFingerprint: "v1",
		Inputs:            map[string]any{"team_id": 143, "start_date": "2024-06-01", "end_date": "2024-06-02"},
		FlowParameters:    map[string]any{"team_name": "phillies"},
	}

	t.Run("未启用返回空键", func(t *testing.T) {
		key, err := ComputeKey(NoCache(), src)
		require.NoError(t, err)
		assert.Empty(t, key)
	})

	t.Run("与输入顺序无关", func(t *testing.T) {
		other := src
		other.Inputs = map[string]any{"end_date": "2024-06-02", "team_id": 143, "start_date": "2024-06-01"}
		k1, err := ComputeKey(ByInputs(), src)
		require.NoError(t, err)
		k2, err := ComputeKey(ByInputs(), other)
		require.NoError(t, err)
		assert.Equal(t, k1, k2)
		assert.Len(t, k1, 64)
	})

	t.Run("不同输入不同键", func(t *testing.T) {
		other := src
		other.Inputs = map[string]any{"team_id": 144, "start_date": "2024-06-01", "end_date": "2024-06-02"}
		k1, _ := ComputeKey(ByInputs(), src)
		k2, _ := ComputeKey(ByInputs(), other)
		assert.NotEqual(t, k1, k2)
	})

	t.Run("排除的输入不参与计算", func(t *testing.T) {
		p := ByInputs().Without("game_data")
		a := KeySource{TaskID: "t", Inputs: map[string]any{"file_name": "x", "game_data": []int{1}}}
		b := KeySource{TaskID: "t", Inputs: map[string]any{"file_name": "x", "game_data": []int{2, 3}}}
		k1, _ := ComputeKey(p, a)
		k2, _ := ComputeKey(p, b)
		assert.Equal(t, k1, k2)
	})

	t.Run("Flow参数参与计算", func(t *testing.T) {
		other := src
		other.FlowParameters = map[string]any{"team_name": "yankees"}
		k1, _ := ComputeKey(ByInputs(), src)
		k2, _ := ComputeKey(ByInputs(), other)
		assert.Equal(t, k1, k2, "仅INPUTS时Flow参数不影响键")

		k3, _ := ComputeKey(ByInputsAndFlowParameters(), src)
		k4, _ := ComputeKey(ByInputsAndFlowParameters(), other)
		assert.NotEqual(t, k3, k4)
	})

	t.Run("源码指纹参与计算", func(t *testing.T) {
		other := src
		other.SourceFingerprint = "v2"
		k1, _ := ComputeKey(BySourceAndInputs(), src)
		k2, _ := ComputeKey(BySourceAndInputs(), other)
		assert.NotEqual(t, k1, k2)
	})

	t.Run("不同任务不共享键", func(t *testing.T) {
		other := src
		other.TaskID = "get_boxscore"
		k1, _ := ComputeKey(ByInputs(), src)
		k2, _ := ComputeKey(ByInputs(), other)
		assert.NotEqual(t, k1, k2)
	})

	t.Run("不可序列化输入返回错误", func(t *testing.T) {
		bad := KeySource{TaskID: "t", Inputs: map[string]any{"ch": make(chan int)}}
		_, err := ComputeKey(ByInputs(), bad)
		assert.Error(t, err)
	})
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "NONE", NoCache().String())
	assert.Equal(t, "INPUTS+FLOW_PARAMETERS", ByInputsAndFlowParameters().String())
	assert.Equal(t, "INPUTS-game_data", ByInputs().Without("game_data").String())
	assert.Equal(t, "TASK_SOURCE+INPUTS", BySourceAndInputs().String())
}

type memBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{data: map[string][]byte{}}
}

func (m *memBlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	d, ok := m.data[key]
	return d, ok, nil
}

func (m *memBlobStore) Put(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = data
	return nil
}

func (m *memBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBlobStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = map[string][]byte{}
	return nil
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestPersistentResultCache_RoundTripWithDecode(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewPersistentResultCache(newMemBlobStore()))

	require.NoError(t, store.Set(ctx, "p", point{X: 1, Y: 2}, time.Hour))

	decode := func(data []byte) (any, error) {
		var p point
		err := json.Unmarshal(data, &p)
		return p, err
	}
	v, ok, err := store.Get(ctx, "p", decode)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, point{X: 1, Y: 2}, v)
}

func TestTieredResultCache(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryResultCache(WithCleanInterval(0))
	blobs := newMemBlobStore()
	tiered := NewTieredResultCache(mem, NewPersistentResultCache(blobs))

	require.NoError(t, tiered.Set(ctx, "k", "v", time.Hour))
	v, ok, err := tiered.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v, "内存层优先")

	// 模拟进程重启：内存层为空
	require.NoError(t, mem.Clear(ctx))
	v, ok, err = tiered.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `"v"`, string(v.(json.RawMessage)))

	require.NoError(t, tiered.Delete(ctx, "k"))
	_, ok, _ = tiered.Get(ctx, "k")
	assert.False(t, ok)
}

func TestStore_GetOrSet(t *testing.T) {
	ctx := context.Background()

	t.Run("未命中计算并写入，再次命中", func(t *testing.T) {
		store := NewStore(NewMemoryResultCache(WithCleanInterval(0)))
		var calls int32
		load := func(context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			return "computed", nil
		}

		v, src, err := store.GetOrSet(ctx, "k", GetOrSetOptions{TTL: time.Hour}, load)
		require.NoError(t, err)
		assert.Equal(t, "computed", v)
		assert.Equal(t, SourceComputed, src)

		v, src, err = store.GetOrSet(ctx, "k", GetOrSetOptions{TTL: time.Hour}, load)
		require.NoError(t, err)
		assert.Equal(t, "computed", v)
		assert.Equal(t, SourceCache, src)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("计算失败不写入", func(t *testing.T) {
		store := NewStore(NewMemoryResultCache(WithCleanInterval(0)))
		boom := errors.New("boom")
		_, _, err := store.GetOrSet(ctx, "k", GetOrSetOptions{}, func(context.Context) (any, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
		_, ok, _ := store.Get(ctx, "k", nil)
		assert.False(t, ok)
	})

	t.Run("并发同键只计算一次", func(t *testing.T) {
		store := NewStore(NewMemoryResultCache(WithCleanInterval(0)))
		var calls int32
		release := make(chan struct{})
		load := func(context.Context) (any, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return "v", nil
		}

		var wg sync.WaitGroup
		results := make([]any, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, _, err := store.GetOrSet(ctx, "same", GetOrSetOptions{}, load)
				assert.NoError(t, err)
				results[i] = v
			}(i)
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		for _, r := range results {
			assert.Equal(t, "v", r)
		}
	})

	t.Run("计算方取消不影响其他等待者", func(t *testing.T) {
		store := NewStore(NewMemoryResultCache(WithCleanInterval(0)))
		var calls int32
		started := make(chan struct{})
		load := func(ctx context.Context) (any, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return "v", nil
		}

		leaderCtx, cancel := context.WithCancel(ctx)
		leaderErr := make(chan error, 1)
		go func() {
			_, _, err := store.GetOrSet(leaderCtx, "same", GetOrSetOptions{}, load)
			leaderErr <- err
		}()
		<-started

		type outcome struct {
			v   any
			err error
		}
		follower := make(chan outcome, 1)
		go func() {
			v, _, err := store.GetOrSet(ctx, "same", GetOrSetOptions{}, load)
			follower <- outcome{v, err}
		}()
		time.Sleep(50 * time.Millisecond)
		cancel()

		assert.ErrorIs(t, <-leaderErr, context.Canceled)
		got := <-follower
		require.NoError(t, got.err)
		assert.Equal(t, "v", got.v)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("等待者取消时立即返回", func(t *testing.T) {
		store := NewStore(NewMemoryResultCache(WithCleanInterval(0)))
		release := make(chan struct{})
		started := make(chan struct{})
		leaderDone := make(chan any, 1)
		go func() {
			v, _, _ := store.GetOrSet(ctx, "same", GetOrSetOptions{}, func(context.Context) (any, error) {
				close(started)
				<-release
				return "v", nil
			})
			leaderDone <- v
		}()
		<-started

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, _, err := store.GetOrSet(waitCtx, "same", GetOrSetOptions{}, func(context.Context) (any, error) {
			return "other", nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)
		assert.Equal(t, "v", <-leaderDone)
	})

	t.Run("读失败退化为计算", func(t *testing.T) {
		blobs := newMemBlobStore()
		blobs.err = errors.New("disk full")
		store := NewStore(NewPersistentResultCache(blobs))

		var ops []string
		v, src, err := store.GetOrSet(ctx, "k", GetOrSetOptions{
			OnError: func(op string, err error) { ops = append(ops, op) },
		}, func(context.Context) (any, error) { return 7, nil })
		require.NoError(t, err)
		assert.Equal(t, 7, v)
		assert.Equal(t, SourceComputed, src)
		assert.Equal(t, []string{"get", "set"}, ops)
	})

	t.Run("强制刷新", func(t *testing.T) {
		store := NewStore(NewMemoryResultCache(WithCleanInterval(0)))
		require.NoError(t, store.Set(ctx, "k", "old", 0))
		v, src, err := store.GetOrSet(ctx, "k", GetOrSetOptions{Refresh: true}, func(context.Context) (any, error) {
			return "new", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "new", v)
		assert.Equal(t, SourceComputed, src)
	})
}
