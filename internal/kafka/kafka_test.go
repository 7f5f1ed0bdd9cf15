package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProducerSendTask(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var task DeliveryTask
		if err := json.Unmarshal(val, &task); err != nil {
			return err
		}
		if task.DeliveryID != "d1" {
			return errors.New("unexpected delivery id " + task.DeliveryID)
		}
		return nil
	})

	p := NewProducer(sp, "deliveries")
	require.NoError(t, p.SendTask(DeliveryTask{DeliveryID: "d1", NotBefore: time.Now()}))
	require.NoError(t, p.Close())
}

func TestProducerRejectsEmptyTask(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducer(sp, "deliveries")
	assert.Error(t, p.SendTask(DeliveryTask{}))
	require.NoError(t, p.Close())
}

func TestProducerSendError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducer(sp, "deliveries")
	err := p.SendTask(DeliveryTask{DeliveryID: "d1"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
	commit int
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit()                                  { s.commit++ }
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, m.Offset)
}

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "deliveries" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return int64(cap(c.msgs)) }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

type recordingProcessor struct {
	failures map[string]int
	seen     []string
}

func (p *recordingProcessor) ProcessDeliveryTask(_ context.Context, task DeliveryTask) error {
	p.seen = append(p.seen, task.DeliveryID)
	if p.failures[task.DeliveryID] > 0 {
		p.failures[task.DeliveryID]--
		return errors.New("store unavailable")
	}
	return nil
}

func claimOf(values ...[]byte) *fakeClaim {
	c := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		c.msgs <- &sarama.ConsumerMessage{Topic: "deliveries", Offset: int64(i), Value: v}
	}
	close(c.msgs)
	return c
}

func taskJSON(t *testing.T, id string) []byte {
	t.Helper()
	b, err := json.Marshal(DeliveryTask{DeliveryID: id, NotBefore: time.Now()})
	require.NoError(t, err)
	return b
}

func TestConsumeClaimCommitsEveryMessage(t *testing.T) {
	proc := &recordingProcessor{failures: map[string]int{"d2": 1, "d3": maxProcessAttempts}}
	h := newTaskGroupHandler(proc, zap.NewNop())
	h.backoff = func(int) time.Duration { return time.Millisecond }

	sess := &fakeSession{ctx: context.Background()}
	claim := claimOf(taskJSON(t, "d1"), []byte("{not json"), taskJSON(t, "d2"), taskJSON(t, "d3"))

	require.NoError(t, h.ConsumeClaim(sess, claim))

	// d2 прошёл со второй попытки, d3 исчерпал попытки и отдан sweeper'у
	assert.Equal(t, []string{"d1", "d2", "d2", "d3", "d3", "d3"}, proc.seen)
	assert.Equal(t, []int64{0, 1, 2, 3}, sess.marked)
	assert.Equal(t, 4, sess.commit)
}

func TestConsumeClaimStopsWithoutCommitOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &recordingProcessor{failures: map[string]int{"d1": maxProcessAttempts}}
	h := newTaskGroupHandler(proc, zap.NewNop())
	h.backoff = func(int) time.Duration {
		cancel()
		return time.Hour
	}

	sess := &fakeSession{ctx: ctx}
	require.NoError(t, h.ConsumeClaim(sess, claimOf(taskJSON(t, "d1"))))

	assert.Empty(t, sess.marked)
	assert.Zero(t, sess.commit)
}
