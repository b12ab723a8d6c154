package lineage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	up := []Resource{NewResource("api://statsapi.mlb.com/api/v1/schedule", "schedule", "data-source", "source")}
	down := []Resource{NewResource("file://data/raw/games.json", "raw", "data-sink", "raw")}

	e := NewEvent(EventTaskCompleted, "get_schedule", "run-1").
		WithResources(up, down).
		WithRun("tr-1", 2).
		WithMetadata("team_id", "143")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventTaskCompleted, e.Type)
	assert.Equal(t, "run-1", e.FlowRunID)
	assert.Equal(t, 2, e.Attempt)
	assert.Equal(t, "143", e.Metadata["team_id"])
	assert.Len(t, e.Upstream, 1)
	assert.Equal(t, "data-sink", e.Downstream[0].Role)
	assert.NotZero(t, e.Timestamp)

	e.WithError(nil)
	assert.Empty(t, e.Error)
	e.WithError(errors.New("boom"))
	assert.Equal(t, "boom", e.Error)
}

type recorder struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (r *recorder) Emit(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	a := &recorder{}
	b := &recorder{err: errors.New("sink down")}

	m := Multi(a, nil, b, NopEmitter{}, LogEmitter{})
	err := m.Emit(ctx, NewEvent(EventFlowStarted, "retry", "run-1"))

	assert.Error(t, err)
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestEmitSafe_SwallowsErrors(t *testing.T) {
	r := &recorder{err: errors.New("boom")}
	assert.NotPanics(t, func() {
		EmitSafe(context.Background(), r, NewEvent(EventTaskFailed, "t", "run"))
		EmitSafe(context.Background(), nil, NewEvent(EventTaskFailed, "t", "run"))
		EmitSafe(context.Background(), r, nil)
	})
	assert.Len(t, r.events, 1)
}

func TestBusEmitter_PublishSubscribe(t *testing.T) {
	bus := NewBusEmitter("", 16, nil)
	defer bus.Close()
	assert.Equal(t, DefaultTopic, bus.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	sent := NewEvent(EventTxRolledBack, "mlb-tx", "run-9").WithMetadata("outcome", "RolledBack")
	require.NoError(t, bus.Emit(ctx, sent))

	select {
	case got := <-events:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, EventTxRolledBack, got.Type)
		assert.Equal(t, "RolledBack", got.Metadata["outcome"])
	case <-time.After(2 * time.Second):
		t.Fatal("未收到事件")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBuffer_DropsWhenFull(t *testing.T) {
	b := NewBuffer(2)
	assert.True(t, b.Push(NewEvent(EventTaskStarted, "a", "r")))
	assert.True(t, b.Push(NewEvent(EventTaskStarted, "b", "r")))
	assert.False(t, b.Push(NewEvent(EventTaskStarted, "c", "r")))
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 2, b.Cap())

	done := make(chan struct{})
	e, ok := b.PopWithDone(done)
	require.True(t, ok)
	assert.Equal(t, "a", e.Name)

	in, out, dropped := b.Stats()
	assert.Equal(t, int64(2), in)
	assert.Equal(t, int64(1), out)
	assert.Equal(t, int64(1), dropped)

	_, _ = b.PopWithDone(done)
	close(done)
	_, ok = b.PopWithDone(done)
	assert.False(t, ok)
}
