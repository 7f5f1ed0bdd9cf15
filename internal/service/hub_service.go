package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"coffeeshop/internal/metrics"
	"coffeeshop/internal/models"
	"coffeeshop/internal/repository"

	"go.uber.org/zap"
)

// Методы, которые ресурс продолжает принимать после отказа в DELETE.
var (
	ChannelAllow    = []string{http.MethodGet, http.MethodPost}
	SubscriberAllow = []string{http.MethodGet}
)

// HubService - операции ядра, на которые маппятся HTTP-маршруты.
type HubService struct {
	store      repository.Store
	ledger     *Ledger
	guard      *Guard
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewHubService(store repository.Store, dispatcher *Dispatcher, logger *zap.Logger) *HubService {
	if logger == nil {
		logger = zap.NewNop()
	}
	ledger := NewLedger(store)
	return &HubService{
		store:      store,
		ledger:     ledger,
		guard:      NewGuard(ledger),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// --- channels ---

func (s *HubService) CreateChannel(ctx context.Context, name string) (*models.Channel, error) {
	ch, err := s.store.CreateChannel(ctx, func(id int64) *models.Channel {
		return &models.Channel{Name: defaultName(name, "channel", id)}
	})
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	s.logger.Info("channel created", zap.Int64("channel_id", ch.ID))
	return ch, nil
}

func (s *HubService) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	if id <= 0 {
		return nil, ErrChannelNotFound
	}
	ch, err := s.store.GetChannel(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, ErrChannelNotFound)
	}
	return ch, nil
}

func (s *HubService) ChannelDetail(ctx context.Context, id int64) (*models.ChannelDetailResponse, error) {
	ch, err := s.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	has, err := s.ledger.HasSubscribers(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ChannelDetailResponse{
		ID:             ch.ID,
		Name:           ch.Name,
		Created:        ch.Created,
		HasSubscribers: has,
	}, nil
}

func (s *HubService) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	return s.store.ListChannels(ctx)
}

// DeleteChannel удаляет только запись канала, сообщения и доставки остаются.
func (s *HubService) DeleteChannel(ctx context.Context, id int64) error {
	if _, err := s.GetChannel(ctx, id); err != nil {
		return err
	}
	ok, err := s.guard.CanDeleteChannel(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		metrics.IncGuardRejected("channel")
		return &ConflictError{Entity: "channel", Reason: "it still has subscribers", Allow: ChannelAllow}
	}
	if err := s.store.DeleteChannel(ctx, id); err != nil {
		return mapNotFound(err, ErrChannelNotFound)
	}
	s.logger.Info("channel deleted", zap.Int64("channel_id", id))
	return nil
}

// --- subscribers ---

func (s *HubService) CreateSubscriber(ctx context.Context, channelID int64, name, resource string) (*models.Subscriber, error) {
	if _, err := s.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	resource, err := validateResource(resource)
	if err != nil {
		return nil, err
	}

	sub, err := s.store.CreateSubscriber(ctx, func(id int64) *models.Subscriber {
		return &models.Subscriber{
			Channel:  channelID,
			Name:     defaultName(name, "subscriber", id),
			Resource: resource,
		}
	})
	if err != nil {
		// канал могли удалить между проверкой и вставкой
		return nil, fmt.Errorf("create subscriber: %w", mapNotFound(err, ErrChannelNotFound))
	}
	s.logger.Info("subscriber created",
		zap.Int64("channel_id", channelID),
		zap.Int64("subscriber_id", sub.ID),
	)
	return sub, nil
}

// GetSubscriber отвечает NotFound и для подписчика чужого канала.
func (s *HubService) GetSubscriber(ctx context.Context, channelID, subscriberID int64) (*models.Subscriber, error) {
	if _, err := s.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	if subscriberID <= 0 {
		return nil, ErrSubscriberNotFound
	}
	sub, err := s.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, mapNotFound(err, ErrSubscriberNotFound)
	}
	if sub.Channel != channelID {
		return nil, ErrSubscriberNotFound
	}
	return sub, nil
}

func (s *HubService) ListChannelSubscribers(ctx context.Context, channelID int64) ([]*models.Subscriber, error) {
	if _, err := s.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return s.store.ListSubscribersByChannel(ctx, channelID)
}

// ListSubscribers - все подписчики, по каналу, внутри канала новые первыми.
func (s *HubService) ListSubscribers(ctx context.Context) ([]*models.Subscriber, error) {
	return s.store.ListSubscribers(ctx)
}

func (s *HubService) SubscriberDeliveries(ctx context.Context, channelID, subscriberID int64, status string) ([]*models.Delivery, error) {
	sub, err := s.GetSubscriber(ctx, channelID, subscriberID)
	if err != nil {
		return nil, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", models.DeliveryPending, models.DeliveryDelivered, models.DeliveryFailed:
	default:
		return nil, fmt.Errorf("%w: status must be pending|delivered|failed", ErrInvalidInput)
	}
	return s.store.ListDeliveriesBySubscriber(ctx, sub.ID, status)
}

// DeleteSubscriber: пока есть не delivered доставки - ConflictError.
// История доставок остаётся.
func (s *HubService) DeleteSubscriber(ctx context.Context, channelID, subscriberID int64) error {
	if _, err := s.GetSubscriber(ctx, channelID, subscriberID); err != nil {
		return err
	}
	ok, err := s.guard.CanDeleteSubscriber(ctx, subscriberID)
	if err != nil {
		return err
	}
	if !ok {
		metrics.IncGuardRejected("subscriber")
		return &ConflictError{Entity: "subscriber", Reason: "it has outstanding deliveries", Allow: SubscriberAllow}
	}
	if err := s.store.DeleteSubscriber(ctx, subscriberID); err != nil {
		return mapNotFound(err, ErrSubscriberNotFound)
	}
	s.logger.Info("subscriber deleted",
		zap.Int64("channel_id", channelID),
		zap.Int64("subscriber_id", subscriberID),
	)
	return nil
}

// --- messages ---

func (s *HubService) Publish(ctx context.Context, channelID int64, contentType string, body []byte) (*models.Message, error) {
	if channelID <= 0 {
		return nil, ErrChannelNotFound
	}
	return s.dispatcher.Publish(ctx, channelID, contentType, body)
}

func (s *HubService) ListMessages(ctx context.Context, channelID int64) ([]*models.Message, error) {
	if _, err := s.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return s.store.ListMessagesByChannel(ctx, channelID)
}

// MessageDetail - сообщение и статусы всех его доставок. Канал к этому
// моменту может быть уже удалён, сообщение всё равно отдаём.
func (s *HubService) MessageDetail(ctx context.Context, channelID int64, messageID string) (*models.MessageDetailResponse, error) {
	if channelID <= 0 || strings.TrimSpace(messageID) == "" {
		return nil, ErrMessageNotFound
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, mapNotFound(err, ErrMessageNotFound)
	}
	if msg.Channel != channelID {
		return nil, ErrMessageNotFound
	}

	deliveries, err := s.store.ListDeliveriesByMessage(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}

	resp := &models.MessageDetailResponse{
		ID:          msg.ID,
		Channel:     msg.Channel,
		ContentType: msg.ContentType,
		Body:        string(msg.Body),
		Created:     msg.Created,
		Deliveries:  make([]models.DeliveryItemResponse, 0, len(deliveries)),
	}
	for _, d := range deliveries {
		resp.Deliveries = append(resp.Deliveries, DeliveryItem(d))
		resp.Summary.Total++
		switch d.Status {
		case models.DeliveryPending:
			resp.Summary.Pending++
		case models.DeliveryDelivered:
			resp.Summary.Delivered++
		case models.DeliveryFailed:
			resp.Summary.Failed++
		}
	}
	return resp, nil
}

func DeliveryItem(d *models.Delivery) models.DeliveryItemResponse {
	return models.DeliveryItemResponse{
		ID:          d.ID,
		Recipient:   d.Recipient,
		Status:      d.Status,
		Attempts:    d.Attempts,
		LastAttempt: d.LastAttempt,
		NextAttempt: d.NextAttempt,
		LastError:   d.LastError,
		Created:     d.Created,
	}
}

// defaultName режет хвостовые переводы строк; пустое имя -> "<kind>-<id>".
func defaultName(name, kind string, id int64) string {
	name = strings.TrimRight(name, "\n")
	if strings.TrimSpace(name) == "" {
		return kind + "-" + strconv.FormatInt(id, 10)
	}
	return name
}

func validateResource(raw string) (string, error) {
	resource := strings.TrimSpace(raw)
	if resource == "" {
		return "", fmt.Errorf("%w: resource is required", ErrInvalidInput)
	}
	u, err := url.Parse(resource)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: resource must be an absolute http(s) URL", ErrInvalidInput)
	}
	return resource, nil
}

// IsNotFound - любая из NotFound ошибок сервиса или хранилища.
func IsNotFound(err error) bool { return errors.Is(err, repository.ErrNotFound) }
