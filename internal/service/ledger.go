package service

import (
	"context"
	"fmt"
)

type LedgerStore interface {
	CountSubscribersByChannel(ctx context.Context, channelID int64) (int, error)
	CountOutstandingDeliveries(ctx context.Context, subscriberID int64) (int, error)
}

// Ledger - read-only проекции над хранилищем доставок.
type Ledger struct {
	store LedgerStore
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store}
}

// HasOutstanding: у подписчика есть доставка не в статусе delivered
// (failed тоже считается).
func (l *Ledger) HasOutstanding(ctx context.Context, subscriberID int64) (bool, error) {
	n, err := l.store.CountOutstandingDeliveries(ctx, subscriberID)
	if err != nil {
		return false, fmt.Errorf("count outstanding deliveries: %w", err)
	}
	return n > 0, nil
}

func (l *Ledger) HasSubscribers(ctx context.Context, channelID int64) (bool, error) {
	n, err := l.store.CountSubscribersByChannel(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("count subscribers: %w", err)
	}
	return n > 0, nil
}
