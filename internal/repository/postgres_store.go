package repository

import "github.com/jackc/pgx/v5/pgxpool"

// PostgresStore собирает репозитории таблиц в один Store.
type PostgresStore struct {
	*ChannelRepository
	*SubscriberRepository
	*MessageRepository
	*DeliveryRepository
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		ChannelRepository:    NewChannelRepository(db),
		SubscriberRepository: NewSubscriberRepository(db),
		MessageRepository:    NewMessageRepository(db),
		DeliveryRepository:   NewDeliveryRepository(db),
	}
}
