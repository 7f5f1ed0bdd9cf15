package service

import "context"

type Guard struct {
	ledger *Ledger
}

func NewGuard(ledger *Ledger) *Guard {
	return &Guard{ledger: ledger}
}

func (g *Guard) CanDeleteChannel(ctx context.Context, channelID int64) (bool, error) {
	has, err := g.ledger.HasSubscribers(ctx, channelID)
	if err != nil {
		return false, err
	}
	return !has, nil
}

func (g *Guard) CanDeleteSubscriber(ctx context.Context, subscriberID int64) (bool, error) {
	has, err := g.ledger.HasOutstanding(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	return !has, nil
}
