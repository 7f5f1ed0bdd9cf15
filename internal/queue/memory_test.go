package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collector struct {
	mu  sync.Mutex
	ids []string
	ch  chan string
}

func newCollector() *collector { return &collector{ch: make(chan string, 16)} }

func (c *collector) handle(_ context.Context, id string) error {
	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()
	c.ch <- id
	return nil
}

func (c *collector) wait(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case id := <-c.ch:
		return id
	case <-time.After(timeout):
		t.Fatal("timed out waiting for task")
		return ""
	}
}

func TestMemoryQueueRunsDueTask(t *testing.T) {
	q := NewMemoryQueue(2, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCollector()
	done := make(chan struct{})
	go func() {
		_ = q.Start(ctx, c.handle)
		close(done)
	}()

	require.NoError(t, q.Enqueue(ctx, "d1", time.Now()))
	assert.Equal(t, "d1", c.wait(t, time.Second))

	cancel()
	<-done
}

func TestMemoryQueueDelaysTask(t *testing.T) {
	q := NewMemoryQueue(1, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCollector()
	go func() { _ = q.Start(ctx, c.handle) }()

	start := time.Now()
	require.NoError(t, q.Enqueue(ctx, "later", start.Add(50*time.Millisecond)))
	assert.Equal(t, "later", c.wait(t, time.Second))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(1, 1, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "d1", time.Time{}))
	assert.ErrorIs(t, q.Enqueue(ctx, "d2", time.Time{}), ErrQueueFull)
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1, 1, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "parked", time.Now().Add(time.Hour)))

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, "d1", time.Time{}), ErrClosed)
	assert.ErrorIs(t, q.Enqueue(ctx, "d2", time.Now().Add(time.Minute)), ErrClosed)
}
