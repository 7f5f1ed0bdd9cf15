package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"coffeeshop/internal/models"
)

// MemoryStore - in-memory Store для тестов и STORE_DRIVER=memory.
// Все записи копируются на входе и выходе, наружу ссылки не уходят.
type MemoryStore struct {
	mu sync.RWMutex

	channelSeq    int64
	subscriberSeq int64
	insertSeq     int64
	lastCreated   time.Time

	channels    map[int64]*models.Channel
	subscribers map[int64]*models.Subscriber
	messages    map[string]*models.Message
	deliveries  map[string]*models.Delivery

	// порядок вставки; по нему сортируются доставки (UUID не упорядочены)
	order map[string]int64

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels:    make(map[int64]*models.Channel),
		subscribers: make(map[int64]*models.Subscriber),
		messages:    make(map[string]*models.Message),
		deliveries:  make(map[string]*models.Delivery),
		order:       make(map[string]int64),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// created монотонно не убывает, даже если часы пошли назад.
func (m *MemoryStore) stamp(key string) time.Time {
	t := m.now()
	if t.Before(m.lastCreated) {
		t = m.lastCreated
	}
	m.lastCreated = t
	m.insertSeq++
	m.order[key] = m.insertSeq
	return t
}

// ---------- channels ----------

// CreateChannel выдаёт id и created под одним локом: порядок id
// совпадает с порядком created.
func (m *MemoryStore) CreateChannel(_ context.Context, build func(id int64) *models.Channel) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.channelSeq + 1
	ch := build(id)
	if ch == nil {
		return nil, fmt.Errorf("channel is nil")
	}
	m.channelSeq = id
	ch.ID = id
	ch.Created = m.stamp(channelKey(id))
	c := *ch
	m.channels[id] = &c
	return ch, nil
}

func (m *MemoryStore) GetChannel(_ context.Context, id int64) (*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *ch
	return &c, nil
}

func (m *MemoryStore) ListChannels(_ context.Context) ([]*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*models.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		c := *ch
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool {
		return newerFirst(res[i].Created, res[j].Created, res[i].ID > res[j].ID)
	})
	return res, nil
}

func (m *MemoryStore) DeleteChannel(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[id]; !ok {
		return ErrNotFound
	}
	delete(m.channels, id)
	return nil
}

// ---------- subscribers ----------

func (m *MemoryStore) CreateSubscriber(_ context.Context, build func(id int64) *models.Subscriber) (*models.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.subscriberSeq + 1
	sub := build(id)
	if sub == nil {
		return nil, fmt.Errorf("subscriber is nil")
	}
	if _, ok := m.channels[sub.Channel]; !ok {
		return nil, fmt.Errorf("subscriber channel %d: %w", sub.Channel, ErrNotFound)
	}
	m.subscriberSeq = id
	sub.ID = id
	sub.Created = m.stamp(subscriberKey(id))
	c := *sub
	m.subscribers[id] = &c
	return sub, nil
}

func (m *MemoryStore) GetSubscriber(_ context.Context, id int64) (*models.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscribers[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) ListSubscribersByChannel(_ context.Context, channelID int64) ([]*models.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*models.Subscriber, 0)
	for _, s := range m.subscribers {
		if s.Channel != channelID {
			continue
		}
		c := *s
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool {
		return newerFirst(res[i].Created, res[j].Created, res[i].ID > res[j].ID)
	})
	return res, nil
}

func (m *MemoryStore) ListSubscribers(_ context.Context) ([]*models.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*models.Subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		c := *s
		res = append(res, &c)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Channel != res[j].Channel {
			return res[i].Channel < res[j].Channel
		}
		return newerFirst(res[i].Created, res[j].Created, res[i].ID > res[j].ID)
	})
	return res, nil
}

func (m *MemoryStore) CountSubscribersByChannel(_ context.Context, channelID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.subscribers {
		if s.Channel == channelID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteSubscriber(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[id]; !ok {
		return ErrNotFound
	}
	delete(m.subscribers, id)
	return nil
}

// ---------- messages ----------

func (m *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if msg.ID == "" {
		return fmt.Errorf("message id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return fmt.Errorf("message %s already exists", msg.ID)
	}
	// created задаёт вызывающий (время из ULID), иначе штампуем сами
	if msg.Created.IsZero() {
		msg.Created = m.stamp(messageKey(msg.ID))
	}
	c := cloneMessage(msg)
	m.messages[msg.ID] = c
	return nil
}

func (m *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (m *MemoryStore) ListMessagesByChannel(_ context.Context, channelID int64) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*models.Message, 0)
	for _, msg := range m.messages {
		if msg.Channel == channelID {
			res = append(res, cloneMessage(msg))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return newerFirst(res[i].Created, res[j].Created, res[i].ID > res[j].ID)
	})
	return res, nil
}

// ---------- deliveries ----------

func (m *MemoryStore) CreateDelivery(_ context.Context, d *models.Delivery) error {
	if d == nil {
		return fmt.Errorf("delivery is nil")
	}
	if d.ID == "" {
		return fmt.Errorf("delivery id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.ID]; ok {
		return fmt.Errorf("delivery %s already exists", d.ID)
	}
	d.Status = models.DeliveryPending
	d.Attempts = 0
	d.LastAttempt = nil
	d.LastError = nil
	d.LastStatusCode = nil
	d.Created = m.stamp(deliveryKey(d.ID))
	m.deliveries[d.ID] = cloneDelivery(d)
	return nil
}

func (m *MemoryStore) GetDelivery(_ context.Context, id string) (*models.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDelivery(d), nil
}

func (m *MemoryStore) UpdateDelivery(_ context.Context, d *models.Delivery) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("delivery id is empty")
	}
	if !validDeliveryStatus(d.Status) {
		return fmt.Errorf("invalid status: %s", d.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.deliveries[d.ID]
	if !ok {
		return ErrNotFound
	}
	next := cloneDelivery(d)
	// неизменяемые поля берём из хранилища
	next.Message = cur.Message
	next.Recipient = cur.Recipient
	next.Created = cur.Created
	m.deliveries[d.ID] = next
	return nil
}

func (m *MemoryStore) ListDeliveriesByMessage(_ context.Context, messageID string) ([]*models.Delivery, error) {
	return m.filterDeliveries(func(d *models.Delivery) bool {
		return d.Message == messageID
	}, false), nil
}

func (m *MemoryStore) ListDeliveriesBySubscriber(_ context.Context, subscriberID int64, status string) ([]*models.Delivery, error) {
	if status != "" && !validDeliveryStatus(status) {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	return m.filterDeliveries(func(d *models.Delivery) bool {
		return d.Recipient == subscriberID && (status == "" || d.Status == status)
	}, true), nil
}

func (m *MemoryStore) CountOutstandingDeliveries(_ context.Context, subscriberID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, d := range m.deliveries {
		if d.Recipient == subscriberID && d.Outstanding() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListDueDeliveries(_ context.Context, before time.Time, limit int) ([]*models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	res := m.filterDeliveries(func(d *models.Delivery) bool {
		return d.Status == models.DeliveryPending && d.NextAttempt != nil && d.NextAttempt.Before(before)
	}, false)
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].NextAttempt.Before(*res[j].NextAttempt)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *MemoryStore) CountDeliveriesByStatus(_ context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(allowedDeliveryStatuses))
	for _, d := range m.deliveries {
		res[d.Status]++
	}
	return res, nil
}

func (m *MemoryStore) filterDeliveries(match func(*models.Delivery) bool, newestFirst bool) []*models.Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*models.Delivery, 0)
	for _, d := range m.deliveries {
		if match(d) {
			res = append(res, cloneDelivery(d))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		oi, oj := m.order[deliveryKey(res[i].ID)], m.order[deliveryKey(res[j].ID)]
		if newestFirst {
			return oi > oj
		}
		return oi < oj
	})
	return res
}

// ---------- helpers ----------

// newerFirst: created DESC, при равенстве решает idDesc (как ORDER BY created DESC, id DESC).
func newerFirst(a, b time.Time, idDesc bool) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idDesc
}

func channelKey(id int64) string    { return fmt.Sprintf("c:%d", id) }
func subscriberKey(id int64) string { return fmt.Sprintf("s:%d", id) }
func messageKey(id string) string   { return "m:" + id }
func deliveryKey(id string) string  { return "d:" + id }

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	c.Body = append([]byte(nil), m.Body...)
	return &c
}

func cloneDelivery(d *models.Delivery) *models.Delivery {
	c := *d
	c.LastAttempt = cloneTime(d.LastAttempt)
	c.NextAttempt = cloneTime(d.NextAttempt)
	if d.LastError != nil {
		s := *d.LastError
		c.LastError = &s
	}
	if d.LastStatusCode != nil {
		n := *d.LastStatusCode
		c.LastStatusCode = &n
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
