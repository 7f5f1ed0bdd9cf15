// Package queue доставляет id доставок до воркера не раньше notBefore.
// Семантика at-least-once: одна задача может прийти дважды, обработчик
// обязан быть идемпотентным.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrClosed    = errors.New("delivery queue closed")
)

// Handler обрабатывает одну задачу. Ошибка логируется драйвером, доставка
// остаётся pending и её переотправит sweeper.
type Handler func(ctx context.Context, deliveryID string) error

type Queue interface {
	Enqueue(ctx context.Context, deliveryID string, notBefore time.Time) error
	// Start блокируется до отмены ctx.
	Start(ctx context.Context, h Handler) error
	Close() error
}

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverKafka  = "kafka"
)
