package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coffeeshop/internal/metrics"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// TaskProcessor обрабатывает задачу из топика. Ошибка = задачу стоит повторить.
type TaskProcessor interface {
	ProcessDeliveryTask(ctx context.Context, task DeliveryTask) error
}

const maxProcessAttempts = 3

type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler sarama.ConsumerGroupHandler
	logger  *zap.Logger
}

func NewConsumer(
	brokers []string,
	groupID string,
	topic string,
	processor TaskProcessor,
	logger *zap.Logger,
) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := sarama.NewConfig()

	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	// Важно: коммит только руками после обработки
	cfg.Consumer.Offsets.AutoCommit.Enable = false

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRange(),
	}
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &Consumer{
		group:   group,
		topic:   topic,
		handler: newTaskGroupHandler(processor, logger),
		logger:  logger,
	}, nil
}

// Start блокируется до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Warn("consumer group error", zap.Error(err))
			metrics.IncQueueError("kafka", "group")
		}
	}()

	for {
		err := c.group.Consume(ctx, []string{c.topic}, c.handler)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("consume loop error", zap.Error(err))
			time.Sleep(1 * time.Second)
			continue
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type taskGroupHandler struct {
	processor TaskProcessor
	logger    *zap.Logger
	backoff   func(attempt int) time.Duration
}

func newTaskGroupHandler(p TaskProcessor, logger *zap.Logger) *taskGroupHandler {
	return &taskGroupHandler{processor: p, logger: logger, backoff: retryBackoff}
}

func (h *taskGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *taskGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *taskGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for kafkaMsg := range claim.Messages() {
		lag := claim.HighWaterMarkOffset() - kafkaMsg.Offset - 1
		metrics.SetKafkaConsumerLag(kafkaMsg.Topic, kafkaMsg.Partition, lag)

		var task DeliveryTask
		if err := json.Unmarshal(kafkaMsg.Value, &task); err != nil || task.DeliveryID == "" {
			// битое сообщение повторять бессмысленно
			h.logger.Error("drop malformed delivery task",
				zap.String("topic", kafkaMsg.Topic),
				zap.Int32("partition", kafkaMsg.Partition),
				zap.Int64("offset", kafkaMsg.Offset),
				zap.Error(err),
			)
			metrics.IncQueueError("kafka", "decode")
			session.MarkMessage(kafkaMsg, "")
			session.Commit()
			continue
		}

		if err := h.processWithRetry(session.Context(), kafkaMsg, task); err != nil {
			if session.Context().Err() != nil {
				// ребаланс или остановка: оффсет не коммитим, сообщение перечитают
				return nil
			}
			// доставка осталась pending в хранилище, её подберёт sweeper
			h.logger.Error("give up on delivery task",
				zap.String("delivery_id", task.DeliveryID),
				zap.Error(err),
			)
			metrics.IncQueueError("kafka", "process")
		}

		session.MarkMessage(kafkaMsg, "")
		session.Commit()
	}
	return nil
}

func (h *taskGroupHandler) processWithRetry(ctx context.Context, m *sarama.ConsumerMessage, task DeliveryTask) error {
	var err error
	for attempt := 1; attempt <= maxProcessAttempts; attempt++ {
		if err = h.processor.ProcessDeliveryTask(ctx, task); err == nil {
			return nil
		}
		if attempt == maxProcessAttempts {
			break
		}

		backoff := h.backoff(attempt)
		h.logger.Warn("process delivery task failed",
			zap.String("topic", m.Topic),
			zap.Int32("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func retryBackoff(attempt int) time.Duration {
	// линейный backoff 1..30 сек
	d := time.Duration(attempt) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
