//go:build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"coffeeshop/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -tags integration ./internal/repository/ с DB_DSN на пустую БД.
func newPostgresStore(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		t.Skip("DB_DSN is not set")
	}
	ctx := context.Background()

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE deliveries, messages, subscribers, channels RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return NewPostgresStore(pool), pool
}

func pgChannel(t *testing.T, s *PostgresStore, name string) *models.Channel {
	t.Helper()
	ch, err := s.CreateChannel(context.Background(), func(id int64) *models.Channel {
		if name == "" {
			return &models.Channel{Name: fmt.Sprintf("channel-%d", id)}
		}
		return &models.Channel{Name: name}
	})
	require.NoError(t, err)
	return ch
}

func pgSubscriber(t *testing.T, s *PostgresStore, channelID int64) *models.Subscriber {
	t.Helper()
	sub, err := s.CreateSubscriber(context.Background(), func(int64) *models.Subscriber {
		return &models.Subscriber{Channel: channelID, Name: "s", Resource: "http://localhost/hook"}
	})
	require.NoError(t, err)
	return sub
}

func TestPostgresChannelLifecycle(t *testing.T) {
	s, _ := newPostgresStore(t)
	ctx := context.Background()

	a := pgChannel(t, s, "")
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, "channel-1", a.Name)
	assert.False(t, a.Created.IsZero())

	b := pgChannel(t, s, "b")
	list, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)

	require.NoError(t, s.DeleteChannel(ctx, a.ID))
	_, err = s.GetChannel(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteChannel(ctx, a.ID), ErrNotFound)
}

func TestPostgresConcurrentCreatesKeepIDOrder(t *testing.T) {
	s, _ := newPostgresStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateChannel(ctx, func(id int64) *models.Channel {
				return &models.Channel{Name: fmt.Sprintf("channel-%d", id)}
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 20)
	for i := 1; i < len(list); i++ {
		assert.Greater(t, list[i-1].ID, list[i].ID)
		assert.False(t, list[i-1].Created.Before(list[i].Created))
	}
}

func TestPostgresSubscriberOfDeletedChannel(t *testing.T) {
	s, _ := newPostgresStore(t)
	ctx := context.Background()

	ch := pgChannel(t, s, "c")
	require.NoError(t, s.DeleteChannel(ctx, ch.ID))

	_, err := s.CreateSubscriber(ctx, func(int64) *models.Subscriber {
		return &models.Subscriber{Channel: ch.ID, Resource: "http://localhost"}
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresMessageKeepsCallerCreated(t *testing.T) {
	s, _ := newPostgresStore(t)
	ctx := context.Background()
	ch := pgChannel(t, s, "c")

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := &models.Message{ID: "01HMSG", Channel: ch.ID, ContentType: "text/plain", Body: []byte("hi"), Created: at}
	require.NoError(t, s.CreateMessage(ctx, msg))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.Created))
	assert.Equal(t, "hi", string(got.Body))
}

func TestPostgresDeliveries(t *testing.T) {
	s, _ := newPostgresStore(t)
	ctx := context.Background()
	ch := pgChannel(t, s, "c")
	sub := pgSubscriber(t, s, ch.ID)

	msg := &models.Message{ID: "01HMSG", Channel: ch.ID, Body: []byte("x")}
	require.NoError(t, s.CreateMessage(ctx, msg))

	due := time.Now().Add(-time.Minute)
	d1 := &models.Delivery{ID: "6f1c1f0e-0000-4000-8000-000000000001", Message: msg.ID, Recipient: sub.ID, NextAttempt: &due}
	d2 := &models.Delivery{ID: "6f1c1f0e-0000-4000-8000-000000000002", Message: msg.ID, Recipient: sub.ID}
	require.NoError(t, s.CreateDelivery(ctx, d1))
	require.NoError(t, s.CreateDelivery(ctx, d2))

	n, err := s.CountOutstandingDeliveries(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dueList, err := s.ListDueDeliveries(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, dueList, 1)
	assert.Equal(t, d1.ID, dueList[0].ID)

	// failed тоже блокирует удаление подписчика
	d1.Status = models.DeliveryDelivered
	d1.Attempts = 1
	require.NoError(t, s.UpdateDelivery(ctx, d1))
	d2.Status = models.DeliveryFailed
	require.NoError(t, s.UpdateDelivery(ctx, d2))

	n, err = s.CountOutstandingDeliveries(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := s.CountDeliveriesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.DeliveryDelivered])
	assert.Equal(t, int64(1), counts[models.DeliveryFailed])

	failed, err := s.ListDeliveriesBySubscriber(ctx, sub.ID, models.DeliveryFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, d2.ID, failed[0].ID)

	// история доставок переживает удаление подписчика
	require.NoError(t, s.DeleteSubscriber(ctx, sub.ID))
	byMsg, err := s.ListDeliveriesByMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, byMsg, 2)
}
