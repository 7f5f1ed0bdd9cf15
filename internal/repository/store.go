package repository

import (
	"context"
	"time"

	"coffeeshop/internal/models"
)

// Store - хранилище сущностей хаба. Запись одной сущности атомарна,
// межсущностных транзакций нет.
//
// CreateChannel и CreateSubscriber выдают id и created одним атомарным шагом:
// build получает зарезервированный id и возвращает запись (имя по умолчанию
// считается от id), хранилище проставляет ID и Created.
type Store interface {
	CreateChannel(ctx context.Context, build func(id int64) *models.Channel) (*models.Channel, error)
	GetChannel(ctx context.Context, id int64) (*models.Channel, error)
	ListChannels(ctx context.Context) ([]*models.Channel, error)
	DeleteChannel(ctx context.Context, id int64) error

	CreateSubscriber(ctx context.Context, build func(id int64) *models.Subscriber) (*models.Subscriber, error)
	GetSubscriber(ctx context.Context, id int64) (*models.Subscriber, error)
	ListSubscribersByChannel(ctx context.Context, channelID int64) ([]*models.Subscriber, error)
	// ListSubscribers: channel ASC, created DESC.
	ListSubscribers(ctx context.Context) ([]*models.Subscriber, error)
	CountSubscribersByChannel(ctx context.Context, channelID int64) (int, error)
	DeleteSubscriber(ctx context.Context, id int64) error

	// CreateMessage: created берётся из m.Created, если он задан.
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessagesByChannel(ctx context.Context, channelID int64) ([]*models.Message, error)

	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	ListDeliveriesByMessage(ctx context.Context, messageID string) ([]*models.Delivery, error)
	// status == "" - все статусы.
	ListDeliveriesBySubscriber(ctx context.Context, subscriberID int64, status string) ([]*models.Delivery, error)
	CountOutstandingDeliveries(ctx context.Context, subscriberID int64) (int, error)
	// ListDueDeliveries - pending доставки с next_attempt раньше before.
	ListDueDeliveries(ctx context.Context, before time.Time, limit int) ([]*models.Delivery, error)
	CountDeliveriesByStatus(ctx context.Context) (map[string]int64, error)
}

var allowedDeliveryStatuses = map[string]struct{}{
	models.DeliveryPending:   {},
	models.DeliveryDelivered: {},
	models.DeliveryFailed:    {},
}

func validDeliveryStatus(s string) bool {
	_, ok := allowedDeliveryStatuses[s]
	return ok
}
