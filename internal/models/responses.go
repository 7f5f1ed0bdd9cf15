package models

import "time"

type ChannelItemResponse struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Created    time.Time `json:"created"`
	CreatedAgo string    `json:"created_ago"`
}

type ChannelDetailResponse struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Created        time.Time `json:"created"`
	HasSubscribers bool      `json:"has_subscribers"`
}

type SubscriberItemResponse struct {
	ID         int64     `json:"id"`
	Channel    int64     `json:"channel"`
	Name       string    `json:"name"`
	Resource   string    `json:"resource"`
	Created    time.Time `json:"created"`
	CreatedAgo string    `json:"created_ago"`
}

type MessageItemResponse struct {
	ID          string    `json:"id"`
	Channel     int64     `json:"channel"`
	ContentType string    `json:"contenttype"`
	Size        int       `json:"size"`
	Created     time.Time `json:"created"`
	CreatedAgo  string    `json:"created_ago"`
}

type DeliveryItemResponse struct {
	ID          string     `json:"id"`
	Recipient   int64      `json:"recipient"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"last_attempt"`
	NextAttempt *time.Time `json:"next_attempt,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	Created     time.Time  `json:"created"`
}

// MessageDetailResponse: сообщение + статусы всех его доставок.
type MessageDetailResponse struct {
	ID          string                 `json:"id"`
	Channel     int64                  `json:"channel"`
	ContentType string                 `json:"contenttype"`
	Body        string                 `json:"body"`
	Created     time.Time              `json:"created"`
	Deliveries  []DeliveryItemResponse `json:"deliveries"`
	Summary     DeliverySummary        `json:"summary"`
}

type DeliverySummary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
