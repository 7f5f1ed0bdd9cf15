package models

import "time"

type Channel struct {
	ID      int64     `db:"id" json:"id"`
	Name    string    `db:"name" json:"name"`
	Created time.Time `db:"created" json:"created"`
}

type Subscriber struct {
	ID       int64     `db:"id" json:"id"`
	Channel  int64     `db:"channel_id" json:"channel"`
	Name     string    `db:"name" json:"name"`
	Resource string    `db:"resource" json:"resource"` // URL сообщения пушатся сюда
	Created  time.Time `db:"created" json:"created"`
}

// Message неизменяем после создания.
type Message struct {
	ID          string    `db:"id" json:"id"` // ULID
	Channel     int64     `db:"channel_id" json:"channel"`
	ContentType string    `db:"content_type" json:"contenttype"`
	Body        []byte    `db:"body" json:"-"`
	Created     time.Time `db:"created" json:"created"`
}

type Delivery struct {
	ID        string `db:"id" json:"id"` // UUID
	Message   string `db:"message_id" json:"message"`
	Recipient int64  `db:"recipient_id" json:"recipient"`

	Status         string     `db:"status" json:"status"` // pending, delivered, failed
	Attempts       int        `db:"attempts" json:"attempts"`
	LastAttempt    *time.Time `db:"last_attempt" json:"last_attempt"` // NULL до первой попытки
	NextAttempt    *time.Time `db:"next_attempt" json:"next_attempt,omitempty"`
	LastError      *string    `db:"last_error" json:"last_error,omitempty"`
	LastStatusCode *int       `db:"last_status_code" json:"last_status_code,omitempty"`
	Created        time.Time  `db:"created" json:"created"`
}

const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Terminal сообщает, что по доставке больше не будет попыток.
func (d *Delivery) Terminal() bool {
	return d.Status == DeliveryDelivered || d.Status == DeliveryFailed
}

// Outstanding: всё, что не delivered, блокирует удаление подписчика.
func (d *Delivery) Outstanding() bool {
	return d.Status != DeliveryDelivered
}
