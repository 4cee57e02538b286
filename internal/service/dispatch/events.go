package dispatch

import (
	"context"

	"coachly/pkg/outbox"
)

// OutboxSink writes run-level events straight to the outbox table.
type OutboxSink struct {
	db   outbox.Querier
	repo *outbox.Repository
}

func NewOutboxSink(db outbox.Querier, repo *outbox.Repository) *OutboxSink {
	return &OutboxSink{db: db, repo: repo}
}

func (s *OutboxSink) Enqueue(ctx context.Context, routingKey string, payload any) error {
	return outbox.Enqueue(ctx, s.db, s.repo, "dispatch", nil, routingKey, payload)
}
