package kafka

import "time"

// DeliveryTask - то, что летит в топик: только ссылка на доставку и момент,
// раньше которого её нельзя пушить. Состояние доставки живёт в хранилище.
type DeliveryTask struct {
	DeliveryID string    `json:"delivery_id"`
	NotBefore  time.Time `json:"not_before"`
}
