package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

type Producer struct {
	topic    string
	producer sarama.SyncProducer
}

func NewSyncProducer(brokers []string, topic string) (*Producer, error) {
	cfg := sarama.NewConfig()

	// SyncProducer обязательно:
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create sarama sync producer: %w", err)
	}

	return NewProducer(prod, topic), nil
}

// NewProducer оборачивает готовый sarama.SyncProducer (в тестах - mocks).
func NewProducer(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{
		topic:    topic,
		producer: p,
	}
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

func (p *Producer) SendTask(task DeliveryTask) error {
	if task.DeliveryID == "" {
		return errors.New("delivery id is empty")
	}

	b, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal delivery task: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(task.DeliveryID),
		Value:     sarama.ByteEncoder(b),
		Timestamp: time.Now(),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send kafka message: %w", err)
	}
	return nil
}
