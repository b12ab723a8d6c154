package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/statflow/pkg/core/cache"
	"github.com/LENAX/statflow/pkg/core/lineage"
	"github.com/LENAX/statflow/pkg/core/limits"
	"github.com/LENAX/statflow/pkg/core/retry"
	"github.com/LENAX/statflow/pkg/core/task"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type events struct {
	mu   sync.Mutex
	list []*lineage.Event
}

func (r *events) Emit(_ context.Context, e *lineage.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, e)
	return nil
}

func (r *events) types() []lineage.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []lineage.EventType
	for _, e := range r.list {
		out = append(out, e.Type)
	}
	return out
}

func fastRetry(n int) retry.Policy {
	return retry.Policy{MaxAttempts: n, Schedule: retry.Constant{Interval: time.Millisecond}}
}

func TestExecute_AlwaysFailingBodyRunsMaxAttempts(t *testing.T) {
	var calls int32
	boom := errors.New("boom")
	tk := task.New("flaky", func(context.Context, task.Inputs) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, boom
	}, task.WithRetry(fastRetry(4)))

	_, err := New(Options{}).Execute(context.Background(), tk, nil, nil)

	var failure *task.TaskFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 4, failure.Attempts)
	assert.Equal(t, "flaky", failure.TaskID)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestExecute_SucceedsAfterTransientFailures(t *testing.T) {
	var calls int32
	tk := task.New("eventually", func(context.Context, task.Inputs) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", task.Transientf("503 from upstream")
		}
		return "ok", nil
	}, task.WithRetry(fastRetry(5)))

	res, err := New(Options{}).Execute(context.Background(), tk, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, task.RunStateSucceeded, res.State)
	require.Len(t, res.Runs, 3)
	assert.Equal(t, task.RunStateRetrying, res.Runs[0].State)
	assert.Equal(t, task.RunStateSucceeded, res.Runs[2].State)
}

func TestExecute_NonRetryableKindRunsOnce(t *testing.T) {
	t.Run("永久错误", func(t *testing.T) {
		var calls int32
		tk := task.New("bad-input", func(context.Context, task.Inputs) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 0, task.Permanentf("team not found")
		}, task.WithRetry(fastRetry(10)))

		_, err := New(Options{}).Execute(context.Background(), tk, nil, nil)
		var failure *task.TaskFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, 1, failure.Attempts)
		assert.Equal(t, task.KindPermanent, failure.Kind)
		assert.True(t, task.IsPermanent(err))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("只重试超时", func(t *testing.T) {
		var calls int32
		policy := fastRetry(10).WithPredicate(task.RetryOnKinds(task.KindTimeout))
		tk := task.New("schedule", func(context.Context, task.Inputs) (int, error) {
			atomic.AddInt32(&calls, 1)
			return 0, task.Transientf("connection reset")
		}, task.WithRetry(policy))

		_, err := New(Options{}).Execute(context.Background(), tk, nil, nil)
		var failure *task.TaskFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, 1, failure.Attempts)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})
}

func TestExecute_TimeoutIsRetriedAsTimeoutKind(t *testing.T) {
	var calls int32
	policy := fastRetry(3).WithPredicate(task.RetryOnKinds(task.KindTimeout))
	tk := task.New("slow", func(ctx context.Context, _ task.Inputs) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 7, nil
	}, task.WithRetry(policy), task.WithTimeout(20*time.Millisecond))

	res, err := New(Options{}).Execute(context.Background(), tk, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Value)
	assert.Equal(t, 3, res.Attempts)
}

func TestExecute_BodyIgnoringTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	tk := task.New("stuck", func(context.Context, task.Inputs) (int, error) {
		<-block
		return 1, nil
	}, task.WithTimeout(20*time.Millisecond))

	_, err := New(Options{}).Execute(context.Background(), tk, nil, nil)
	var failure *task.TaskFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, task.KindTimeout, failure.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_PanicIsPermanent(t *testing.T) {
	var calls int32
	tk := task.New("panics", func(context.Context, task.Inputs) (int, error) {
		atomic.AddInt32(&calls, 1)
		panic("nil map")
	}, task.WithRetry(fastRetry(5)))

	_, err := New(Options{}).Execute(context.Background(), tk, nil, nil)
	assert.True(t, task.IsPermanent(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_CancelAbortsRetrySleep(t *testing.T) {
	tk := task.New("sleepy", func(context.Context, task.Inputs) (int, error) {
		return 0, errors.New("fail")
	}, task.WithRetry(retry.Policy{MaxAttempts: 5, Schedule: retry.Constant{Interval: time.Hour}}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := New(Options{}).Execute(ctx, tk, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	var failure *task.TaskFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, failure.Attempts)
}

func TestExecute_CacheRoundTripSkipsBody(t *testing.T) {
	var calls int32
	tk := task.New("get_schedule", func(_ context.Context, in task.Inputs) ([]int, error) {
		atomic.AddInt32(&calls, 1)
		return []int{1, 2, 3}, nil
	}, task.WithCache(cache.ByInputs().WithTTL(time.Hour)))

	rec := &events{}
	exec := New(Options{Cache: cache.NewStore(cache.NewMemoryResultCache(cache.WithCleanInterval(0))), Emitter: rec})
	inputs := task.NewInputs(task.In("team_id", 143), task.In("start_date", "2024-06-01"))

	first, err := exec.Execute(context.Background(), tk, inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, task.RunStateSucceeded, first.State)
	assert.NotEmpty(t, first.CacheKey)

	// 同样的输入，不同的顺序
	reordered := task.NewInputs(task.In("start_date", "2024-06-01"), task.In("team_id", 143))
	second, err := exec.Execute(context.Background(), tk, reordered, nil)
	require.NoError(t, err)
	assert.Equal(t, task.RunStateCacheHit, second.State)
	assert.Equal(t, []int{1, 2, 3}, second.Value)
	assert.Equal(t, first.CacheKey, second.CacheKey)
	assert.Equal(t, 0, second.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Contains(t, rec.types(), lineage.EventTaskCacheHit)
}

func TestExecute_CacheTTLExpiry(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := cache.NewMemoryResultCache(cache.WithCleanInterval(0), cache.WithClock(clk.Now))
	exec := New(Options{Cache: cache.NewStore(mem)})

	var calls int32
	tk := task.New("boxscore", func(context.Context, task.Inputs) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}, task.WithCache(cache.ByInputs().WithTTL(time.Hour)))
	inputs := task.NewInputs(task.In("game_id", 745804))

	res, err := exec.Execute(context.Background(), tk, inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Value)

	clk.Advance(30 * time.Minute)
	res, err = exec.Execute(context.Background(), tk, inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, task.RunStateCacheHit, res.State)

	clk.Advance(31 * time.Minute)
	res, err = exec.Execute(context.Background(), tk, inputs, nil)
	require.NoError(t, err)
	assert.Equal(t, task.RunStateSucceeded, res.State)
	assert.Equal(t, 2, res.Value)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_FlowParametersInKey(t *testing.T) {
	var calls int32
	tk := task.New("analyze", func(context.Context, task.Inputs) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}, task.WithCache(cache.ByInputsAndFlowParameters()))
	exec := New(Options{Cache: cache.NewStore(cache.NewMemoryResultCache(cache.WithCleanInterval(0)))})

	_, err := exec.Execute(context.Background(), tk, nil, map[string]any{"team_name": "phillies"})
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), tk, nil, map[string]any{"team_name": "phillies"})
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), tk, nil, map[string]any{"team_name": "mets"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_FailedResultIsNotCached(t *testing.T) {
	var calls int32
	tk := task.New("fails-then-ok", func(context.Context, task.Inputs) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return 0, task.Permanentf("bad")
		}
		return 5, nil
	}, task.WithCache(cache.ByInputs()))
	exec := New(Options{Cache: cache.NewStore(cache.NewMemoryResultCache(cache.WithCleanInterval(0)))})

	_, err := exec.Execute(context.Background(), tk, nil, nil)
	require.Error(t, err)
	res, err := exec.Execute(context.Background(), tk, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Value)
}

type brokenBlobs struct{}

func (brokenBlobs) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("db down")
}
func (brokenBlobs) Put(context.Context, string, []byte, time.Duration) error {
	return errors.New("db down")
}
func (brokenBlobs) Delete(context.Context, string) error { return nil }
func (brokenBlobs) Clear(context.Context) error          { return nil }

func TestExecute_CacheErrorFallsBackToExecution(t *testing.T) {
	var calls int32
	tk := task.New("resilient", func(context.Context, task.Inputs) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "fresh", nil
	}, task.WithCache(cache.ByInputs()))
	exec := New(Options{Cache: cache.NewStore(cache.NewPersistentResultCache(brokenBlobs{}))})

	for i := 0; i < 2; i++ {
		res, err := exec.Execute(context.Background(), tk, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "fresh", res.Value)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memBlobs) Get(_ context.Context, k string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[k]
	return d, ok, nil
}
func (m *memBlobs) Put(_ context.Context, k string, d []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[k] = d
	return nil
}
func (m *memBlobs) Delete(_ context.Context, k string) error { return nil }
func (m *memBlobs) Clear(_ context.Context) error            { return nil }

type gameSummary struct {
	GameID int    `json:"game_id"`
	Winner string `json:"winner"`
}

func TestExecute_KeyStorageDecodesTypedResult(t *testing.T) {
	blobs := &memBlobs{data: map[string][]byte{}}
	persistent := cache.NewStore(cache.NewPersistentResultCache(blobs))

	var calls int32
	newTask := func() *task.Task {
		return task.New("summary", func(context.Context, task.Inputs) ([]gameSummary, error) {
			atomic.AddInt32(&calls, 1)
			return []gameSummary{{GameID: 1, Winner: "PHI"}}, nil
		}, task.WithCache(cache.ByInputs().Without("game_data").WithKeyStorage("bucket")))
	}

	opts := Options{KeyStorages: map[string]*cache.Store{"bucket": persistent}}
	_, err := New(opts).Execute(context.Background(), newTask(), task.NewInputs(task.In("file_name", "a"), task.In("game_data", 1)), nil)
	require.NoError(t, err)

	// 新的执行器模拟另一个进程
	res, err := New(opts).Execute(context.Background(), newTask(), task.NewInputs(task.In("file_name", "a"), task.In("game_data", 2)), nil)
	require.NoError(t, err)
	assert.Equal(t, task.RunStateCacheHit, res.State)
	assert.Equal(t, []gameSummary{{GameID: 1, Winner: "PHI"}}, res.Value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_ConcurrentSameKeyRunsOnce(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	tk := task.New("collapse", func(context.Context, task.Inputs) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 9, nil
	}, task.WithCache(cache.ByInputs()))
	exec := New(Options{Cache: cache.NewStore(cache.NewMemoryResultCache(cache.WithCleanInterval(0)))})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := exec.Execute(context.Background(), tk, nil, nil)
			assert.NoError(t, err)
			assert.Equal(t, 9, res.Value)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_CancelledCallerDoesNotFailSameKeyCallers(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	tk := task.New("slow", func(ctx context.Context, _ task.Inputs) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 9, nil
	}, task.WithCache(cache.ByInputs()))
	exec := New(Options{Cache: cache.NewStore(cache.NewMemoryResultCache(cache.WithCleanInterval(0)))})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := exec.Execute(ctxA, tk, nil, nil)
		errA <- err
	}()
	<-started

	type outcome struct {
		res *Result
		err error
	}
	doneB := make(chan outcome, 1)
	go func() {
		res, err := exec.Execute(context.Background(), tk, nil, nil)
		doneB <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancelA()

	assert.Error(t, <-errA)
	b := <-doneB
	require.NoError(t, b.err, "同键的其他调用方未被取消")
	assert.Equal(t, 9, b.res.Value)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecute_ConcurrencyLimitHeldPerAttempt(t *testing.T) {
	reg := limits.NewRegistry()
	require.NoError(t, reg.SetConcurrency("statsapi", 1))
	exec := New(Options{Limits: reg})

	var running, peak int32
	tk := task.New("limited", func(context.Context, task.Inputs) (int, error) {
		n := atomic.AddInt32(&running, 1)
		if n > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, n)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return 1, nil
	}, task.WithConcurrency("statsapi", 1))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.Execute(context.Background(), tk, nil, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestExecute_EmitsLineageEvents(t *testing.T) {
	rec := &events{}
	up := []lineage.Resource{lineage.NewResource("api://statsapi.mlb.com/api/v1/schedule", "schedule", "data-source", "source")}
	var calls int32
	tk := task.New("get_schedule", func(context.Context, task.Inputs) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return 0, errors.New("flaky")
		}
		return 1, nil
	}, task.WithRetry(fastRetry(2)), task.WithLineage(up, nil))

	ctx := task.WithFlowRun(context.Background(), "raw-data", "run-42")
	_, err := New(Options{Emitter: rec}).Execute(ctx, tk, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []lineage.EventType{
		lineage.EventTaskStarted,
		lineage.EventTaskRetrying,
		lineage.EventTaskStarted,
		lineage.EventTaskCompleted,
	}, rec.types())
	assert.Equal(t, "run-42", rec.list[0].FlowRunID)
	assert.Equal(t, up, rec.list[3].Upstream)
}

func TestExecute_InvalidTask(t *testing.T) {
	_, err := New(Options{}).Execute(context.Background(), &task.Task{ID: "empty"}, nil, nil)
	assert.True(t, task.IsPermanent(err))
}

func TestExecute_MissingDeclaredInputRunsNothing(t *testing.T) {
	var calls int32
	tk := task.New("get_schedule", func(context.Context, task.Inputs) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	}, task.WithInputs("team", "start_date", "end_date"), task.WithRetry(fastRetry(3)))

	_, err := New(Options{}).Execute(context.Background(), tk, task.NewInputs(task.In("team", "phillies")), nil)
	require.Error(t, err)
	assert.True(t, task.IsPermanent(err))
	assert.Contains(t, err.Error(), "start_date, end_date")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestExecute_ContextCarriesRunInfo(t *testing.T) {
	var gotID string
	var gotAttempt int
	tk := task.New("introspect", func(ctx context.Context, _ task.Inputs) (int, error) {
		gotID = task.GetTaskID(ctx)
		gotAttempt = task.GetAttempt(ctx)
		return 0, nil
	})
	_, err := New(Options{}).Execute(context.Background(), tk, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "introspect", gotID)
	assert.Equal(t, 1, gotAttempt)
}
