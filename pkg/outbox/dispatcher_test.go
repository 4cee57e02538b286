package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coachly/pkg/trace"
)

type fakeStore struct {
	pending []*Event
	sent    []int64
	failed  []int64
}

func (s *fakeStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	var out []*Event
	for _, e := range s.pending {
		if e.Status != StatusPending {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) MarkAsSent(_ context.Context, id int64) error {
	s.sent = append(s.sent, id)
	s.setStatus(id, StatusSent)
	return nil
}

func (s *fakeStore) MarkAsFailed(_ context.Context, id int64, _ int) error {
	s.failed = append(s.failed, id)
	// 模拟 next_retry_at 推迟：本次 Drain 不再取到
	s.setStatus(id, "retry_later")
	return nil
}

func (s *fakeStore) setStatus(id int64, status string) {
	for _, e := range s.pending {
		if e.ID == id {
			e.Status = status
		}
	}
}

type published struct {
	key   string
	body  string
	runID string
}

type fakePublisher struct {
	calls  []published
	failOn string
}

func (p *fakePublisher) PublishRaw(ctx context.Context, key string, body []byte) error {
	if key == p.failOn {
		return errors.New("channel closed")
	}
	p.calls = append(p.calls, published{key: key, body: string(body), runID: trace.FromContext(ctx)})
	return nil
}

func event(id int64, key, payload string) *Event {
	return &Event{ID: id, RoutingKey: key, Payload: json.RawMessage(payload), Status: StatusPending}
}

func TestDispatcher_DrainPublishesAndMarks(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		event(1, "commitment.follow_up.sent", `{"commitment_id":7,"run_id":"run-9"}`),
		event(2, "dispatch.completed", `{"sent":1}`),
	}}
	pub := &fakePublisher{}

	n, err := NewDispatcher(store, pub, zap.NewNop()).Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, store.sent)
	require.Len(t, pub.calls, 2)
	assert.Equal(t, "run-9", pub.calls[0].runID)
	assert.Empty(t, pub.calls[1].runID)
}

func TestDispatcher_DrainMarksFailures(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		event(1, "broken", `{}`),
		event(2, "ok", `{}`),
		event(3, "bad-json", `{`),
	}}
	pub := &fakePublisher{failOn: "broken"}

	n, err := NewDispatcher(store, pub, zap.NewNop()).Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{2}, store.sent)
	assert.ElementsMatch(t, []int64{1, 3}, store.failed)
}

func TestDispatcher_DrainMultipleBatches(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 5; i++ {
		store.pending = append(store.pending, event(i, "k", `{}`))
	}
	pub := &fakePublisher{}

	n, err := NewDispatcher(store, pub, zap.NewNop()).WithBatchSize(2).Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
