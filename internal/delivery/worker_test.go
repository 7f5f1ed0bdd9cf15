package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coffeeshop/internal/models"
	"coffeeshop/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type enqueued struct {
	id        string
	notBefore time.Time
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []enqueued
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, id string, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, enqueued{id: id, notBefore: notBefore})
	return nil
}

type endpoint struct {
	srv    *httptest.Server
	hits   atomic.Int32
	status atomic.Int32
}

func newEndpoint(t *testing.T, status int) *endpoint {
	t.Helper()
	e := &endpoint{}
	e.status.Store(int32(status))
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		e.hits.Add(1)
		w.WriteHeader(int(e.status.Load()))
	}))
	t.Cleanup(e.srv.Close)
	return e
}

type fixture struct {
	store *repository.MemoryStore
	queue *fakeQueue
	w     *Worker
	clock time.Time
	msg   *models.Message
	sub   *models.Subscriber
	d     *models.Delivery
}

func newFixture(t *testing.T, resource string, policy RetryPolicy) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: repository.NewMemoryStore(),
		queue: &fakeQueue{},
		clock: time.Now().UTC(),
	}

	ch, err := f.store.CreateChannel(ctx, func(int64) *models.Channel {
		return &models.Channel{Name: "c"}
	})
	require.NoError(t, err)
	chID := ch.ID

	f.sub, err = f.store.CreateSubscriber(ctx, func(int64) *models.Subscriber {
		return &models.Subscriber{Channel: chID, Name: "s", Resource: resource}
	})
	require.NoError(t, err)
	subID := f.sub.ID

	f.msg = &models.Message{ID: "01MSG", Channel: chID, ContentType: "text/plain", Body: []byte("hello")}
	require.NoError(t, f.store.CreateMessage(ctx, f.msg))

	now := f.clock
	f.d = &models.Delivery{ID: "d-1", Message: f.msg.ID, Recipient: subID, NextAttempt: &now}
	require.NoError(t, f.store.CreateDelivery(ctx, f.d))

	f.w = NewWorker(f.store, NewHTTPPusher(time.Second, "test"), f.queue, policy, nil, zap.NewNop())
	f.w.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) delivery(t *testing.T) *models.Delivery {
	t.Helper()
	d, err := f.store.GetDelivery(context.Background(), f.d.ID)
	require.NoError(t, err)
	return d
}

func TestWorkerDelivers(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	f := newFixture(t, ep.srv.URL, DefaultRetryPolicy())

	require.NoError(t, f.w.Process(context.Background(), f.d.ID))

	d := f.delivery(t)
	assert.Equal(t, models.DeliveryDelivered, d.Status)
	assert.Equal(t, 1, d.Attempts)
	require.NotNil(t, d.LastAttempt)
	assert.Nil(t, d.NextAttempt)
	require.NotNil(t, d.LastStatusCode)
	assert.Equal(t, http.StatusOK, *d.LastStatusCode)
	assert.Equal(t, int32(1), ep.hits.Load())
	assert.Empty(t, f.queue.tasks)
}

func TestWorkerDeliveredIsNoop(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	f := newFixture(t, ep.srv.URL, DefaultRetryPolicy())

	require.NoError(t, f.w.Process(context.Background(), f.d.ID))
	before := f.delivery(t)

	// повторная задача не пушит и не трогает запись
	require.NoError(t, f.w.Process(context.Background(), f.d.ID))
	assert.Equal(t, int32(1), ep.hits.Load())
	assert.Equal(t, before, f.delivery(t))
}

func TestWorkerSchedulesRetry(t *testing.T) {
	ep := newEndpoint(t, http.StatusServiceUnavailable)
	f := newFixture(t, ep.srv.URL, DefaultRetryPolicy())

	require.NoError(t, f.w.Process(context.Background(), f.d.ID))

	d := f.delivery(t)
	assert.Equal(t, models.DeliveryPending, d.Status)
	assert.Equal(t, 1, d.Attempts)
	require.NotNil(t, d.NextAttempt)
	assert.Equal(t, f.clock.Add(30*time.Second), *d.NextAttempt)
	require.NotNil(t, d.LastError)
	assert.Contains(t, *d.LastError, "503")

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, enqueued{id: d.ID, notBefore: *d.NextAttempt}, f.queue.tasks[0])

	// задача раньше срока пропускается
	require.NoError(t, f.w.Process(context.Background(), f.d.ID))
	assert.Equal(t, int32(1), ep.hits.Load())
}

func TestWorkerExhaustsAttempts(t *testing.T) {
	ep := newEndpoint(t, http.StatusInternalServerError)
	policy := RetryPolicy{MaxAttempts: 3, BackoffBase: time.Second, BackoffMax: time.Minute}
	f := newFixture(t, ep.srv.URL, policy)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.w.Process(ctx, f.d.ID))
		if next := f.delivery(t).NextAttempt; next != nil {
			f.clock = *next
		}
	}

	d := f.delivery(t)
	assert.Equal(t, models.DeliveryFailed, d.Status)
	assert.Equal(t, 3, d.Attempts)
	assert.Nil(t, d.NextAttempt)
	assert.Len(t, f.queue.tasks, 2)

	// после failed пушей больше нет
	ep.status.Store(http.StatusOK)
	require.NoError(t, f.w.Process(ctx, f.d.ID))
	assert.Equal(t, int32(3), ep.hits.Load())
	assert.Equal(t, models.DeliveryFailed, f.delivery(t).Status)
}

func TestWorkerMissingSubscriberFails(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	f := newFixture(t, ep.srv.URL, DefaultRetryPolicy())
	require.NoError(t, f.store.DeleteSubscriber(context.Background(), f.sub.ID))

	require.NoError(t, f.w.Process(context.Background(), f.d.ID))

	d := f.delivery(t)
	assert.Equal(t, models.DeliveryFailed, d.Status)
	assert.Zero(t, d.Attempts)
	require.NotNil(t, d.LastError)
	assert.Contains(t, *d.LastError, ErrDataIntegrity.Error())
	assert.Zero(t, ep.hits.Load())
}

func TestWorkerMissingMessageFails(t *testing.T) {
	ep := newEndpoint(t, http.StatusOK)
	f := newFixture(t, ep.srv.URL, DefaultRetryPolicy())
	ctx := context.Background()

	orphan := &models.Delivery{ID: "d-orphan", Message: "gone", Recipient: f.sub.ID}
	require.NoError(t, f.store.CreateDelivery(ctx, orphan))

	require.NoError(t, f.w.Process(ctx, orphan.ID))

	d, err := f.store.GetDelivery(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, d.Status)
	assert.Zero(t, ep.hits.Load())
}

func TestWorkerUnknownDelivery(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1", DefaultRetryPolicy())
	assert.NoError(t, f.w.Process(context.Background(), "nope"))
}

func TestWorkerRequeueErrorKeepsSchedule(t *testing.T) {
	ep := newEndpoint(t, http.StatusBadGateway)
	f := newFixture(t, ep.srv.URL, DefaultRetryPolicy())
	f.queue.err = errors.New("queue down")

	require.NoError(t, f.w.Process(context.Background(), f.d.ID))

	d := f.delivery(t)
	assert.Equal(t, models.DeliveryPending, d.Status)
	assert.NotNil(t, d.NextAttempt)
}
