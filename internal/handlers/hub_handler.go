package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"coffeeshop/internal/cache"
	"coffeeshop/internal/metrics"
	"coffeeshop/internal/models"
	"coffeeshop/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Маркеры HTML-форм: такой POST редиректим обратно на контейнер.
const (
	channelFormField    = "channelsubmissionform"
	subscriberFormField = "subscribersubmissionform"
)

type HubHandler struct {
	service *service.HubService
	cache   cache.Cache
	ttl     time.Duration
	logger  *zap.Logger
}

func NewHubHandler(svc *service.HubService, c cache.Cache, ttl time.Duration, logger *zap.Logger) *HubHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &HubHandler{
		service: svc,
		cache:   c,
		ttl:     ttl,
		logger:  logger,
	}
}

// GET /channels
// 200: { "items": [...], "total": n }, новые первыми
func (h *HubHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.service.ListChannels(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	items := make([]models.ChannelItemResponse, 0, len(channels))
	for _, ch := range channels {
		items = append(items, models.ChannelItemResponse{
			ID:         ch.ID,
			Name:       ch.Name,
			Created:    ch.Created,
			CreatedAgo: createdAgo(ch.Created),
		})
	}
	writeJSON(w, http.StatusOK, models.ListResponse[models.ChannelItemResponse]{Items: items, Total: len(items)})
}

// POST /channels  (form или JSON: name)
// 201 + Location: /channels/{id}
// 303 -> /channels, если пришла HTML-форма
func (h *HubHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	in, fromForm, err := readCreateInput(r, channelFormField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid input: "+err.Error())
		return
	}

	ch, err := h.service.CreateChannel(r.Context(), in.Name)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if fromForm {
		http.Redirect(w, r, "/channels", http.StatusSeeOther)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/channels/%d", ch.ID))
	writeJSON(w, http.StatusCreated, models.ChannelItemResponse{
		ID:         ch.ID,
		Name:       ch.Name,
		Created:    ch.Created,
		CreatedAgo: createdAgo(ch.Created),
	})
}

// GET /channels/{id}
// 200: { "id", "name", "created", "has_subscribers" }
// 404: нет канала
func (h *HubHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}

	// 1) cache lookup
	key := cache.ChannelDetailKey(id)
	if h.cache != nil {
		if b, ok, err := h.cache.Get(r.Context(), key); err == nil && ok {
			metrics.IncRedisHit()
			w.Header().Set("X-Cache", "HIT")
			writeRawJSON(w, http.StatusOK, b)
			return
		}
	}

	// 2) store via service
	detail, err := h.service.ChannelDetail(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	b, _ := json.Marshal(detail)

	// 3) cache store + ключ в set канала для инвалидации
	if h.cache != nil {
		_ = cache.RememberChannelView(r.Context(), h.cache, id, key, b, h.ttl)
		metrics.IncRedisMiss()
		w.Header().Set("X-Cache", "MISS")
	}
	writeRawJSON(w, http.StatusOK, b)
}

// DELETE /channels/{id}
// 204, 404 или 405 + Allow, если у канала есть подписчики
func (h *HubHandler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	if err := h.service.DeleteChannel(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.invalidateChannel(r, id)
	w.WriteHeader(http.StatusNoContent)
}

// POST /channels/{id}  тело как есть + Content-Type
// 201 + Location: /channels/{id}/messages/{mid}
func (h *HubHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "message body is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	msg, err := h.service.Publish(r.Context(), id, r.Header.Get("Content-Type"), body)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.invalidateChannel(r, id)

	w.Header().Set("Location", fmt.Sprintf("/channels/%d/messages/%s", id, msg.ID))
	writeJSON(w, http.StatusCreated, messageItem(msg))
}

// GET /channels/{id}/subscribers
func (h *HubHandler) ListChannelSubscribers(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	subs, err := h.service.ListChannelSubscribers(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeSubscribers(w, subs)
}

// POST /channels/{id}/subscribers  (form или JSON: name, resource)
// 201 + Location: /channels/{id}/subscribers/{sid}
// 303 -> /channels/{id}/subscribers для HTML-формы
func (h *HubHandler) CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	in, fromForm, err := readCreateInput(r, subscriberFormField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid input: "+err.Error())
		return
	}

	sub, err := h.service.CreateSubscriber(r.Context(), id, in.Name, in.Resource)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.invalidateChannel(r, id)

	container := fmt.Sprintf("/channels/%d/subscribers", id)
	if fromForm {
		http.Redirect(w, r, container, http.StatusSeeOther)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/%d", container, sub.ID))
	writeJSON(w, http.StatusCreated, subscriberItem(sub))
}

// GET /channels/{id}/subscribers/{sid}
func (h *HubHandler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	id, sid, ok := subscriberPath(w, r)
	if !ok {
		return
	}
	sub, err := h.service.GetSubscriber(r.Context(), id, sid)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriberItem(sub))
}

// DELETE /channels/{id}/subscribers/{sid}
// 204, 404 или 405 + Allow, пока есть не доставленные сообщения
func (h *HubHandler) DeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	id, sid, ok := subscriberPath(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteSubscriber(r.Context(), id, sid); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.invalidateChannel(r, id)
	w.WriteHeader(http.StatusNoContent)
}

// GET /channels/{id}/subscribers/{sid}/deliveries?status=
func (h *HubHandler) ListSubscriberDeliveries(w http.ResponseWriter, r *http.Request) {
	id, sid, ok := subscriberPath(w, r)
	if !ok {
		return
	}
	deliveries, err := h.service.SubscriberDeliveries(r.Context(), id, sid, r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	items := make([]models.DeliveryItemResponse, 0, len(deliveries))
	for _, d := range deliveries {
		items = append(items, service.DeliveryItem(d))
	}
	writeJSON(w, http.StatusOK, models.ListResponse[models.DeliveryItemResponse]{Items: items, Total: len(items)})
}

// GET /subscribers  по каналу, внутри канала новые первыми
func (h *HubHandler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubscribers(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeSubscribers(w, subs)
}

// GET /channels/{id}/messages
func (h *HubHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	msgs, err := h.service.ListMessages(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	items := make([]models.MessageItemResponse, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, messageItem(m))
	}
	writeJSON(w, http.StatusOK, models.ListResponse[models.MessageItemResponse]{Items: items, Total: len(items)})
}

// GET /channels/{id}/messages/{mid}
// 200: сообщение + статусы доставок
func (h *HubHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	mid := chi.URLParam(r, "mid")

	key := cache.MessageDetailKey(mid)
	if h.cache != nil {
		if b, ok, err := h.cache.Get(r.Context(), key); err == nil && ok {
			var cached struct {
				Channel int64 `json:"channel"`
			}
			if json.Unmarshal(b, &cached) == nil && cached.Channel == id {
				metrics.IncRedisHit()
				w.Header().Set("X-Cache", "HIT")
				writeRawJSON(w, http.StatusOK, b)
				return
			}
		}
	}

	detail, err := h.service.MessageDetail(r.Context(), id, mid)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	b, _ := json.Marshal(detail)

	if h.cache != nil {
		// кешируем только итоговое состояние: pending ещё поменяется воркером,
		// а его Del может обогнать этот Set
		if detail.Summary.Pending == 0 {
			_ = h.cache.Set(r.Context(), key, b, h.ttl)
		}
		metrics.IncRedisMiss()
		w.Header().Set("X-Cache", "MISS")
	}
	writeRawJSON(w, http.StatusOK, b)
}

func (h *HubHandler) invalidateChannel(r *http.Request, channelID int64) {
	if h.cache == nil {
		return
	}
	if err := cache.InvalidateChannel(r.Context(), h.cache, channelID); err != nil {
		h.logger.Debug("invalidate channel cache", zap.Int64("channel_id", channelID), zap.Error(err))
	}
}

func subscriberPath(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return 0, 0, false
	}
	sid, ok := parseID(chi.URLParam(r, "sid"))
	if !ok {
		writeError(w, http.StatusNotFound, "subscriber not found")
		return 0, 0, false
	}
	return id, sid, true
}

func writeSubscribers(w http.ResponseWriter, subs []*models.Subscriber) {
	items := make([]models.SubscriberItemResponse, 0, len(subs))
	for _, s := range subs {
		items = append(items, subscriberItem(s))
	}
	writeJSON(w, http.StatusOK, models.ListResponse[models.SubscriberItemResponse]{Items: items, Total: len(items)})
}

func subscriberItem(s *models.Subscriber) models.SubscriberItemResponse {
	return models.SubscriberItemResponse{
		ID:         s.ID,
		Channel:    s.Channel,
		Name:       s.Name,
		Resource:   s.Resource,
		Created:    s.Created,
		CreatedAgo: createdAgo(s.Created),
	}
}

func messageItem(m *models.Message) models.MessageItemResponse {
	return models.MessageItemResponse{
		ID:          m.ID,
		Channel:     m.Channel,
		ContentType: m.ContentType,
		Size:        len(m.Body),
		Created:     m.Created,
		CreatedAgo:  createdAgo(m.Created),
	}
}

type createInput struct {
	Name     string `json:"name"`
	Resource string `json:"resource"`
}

// readCreateInput читает name/resource из JSON или из формы. fromForm=true,
// если в форме есть маркер formField.
func readCreateInput(r *http.Request, formField string) (createInput, bool, error) {
	var in createInput

	mediaType := ""
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil {
			return in, false, fmt.Errorf("bad content type: %w", err)
		}
		mediaType = mt
	}

	switch mediaType {
	case "application/json":
		if err := decodeJSON(r, &in); err != nil {
			return in, false, err
		}
		return in, false, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return in, false, err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return in, false, err
		}
	}

	in.Name = r.PostForm.Get("name")
	in.Resource = r.PostForm.Get("resource")
	_, fromForm := r.PostForm[formField]
	return in, fromForm, nil
}
