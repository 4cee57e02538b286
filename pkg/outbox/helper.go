package outbox

import (
	"context"
	"encoding/json"
	"fmt"
)

// Enqueue 把 payload 编码为 JSON 写入 outbox，q 通常是调用方的事务
func Enqueue(ctx context.Context, q Querier, repo *Repository, aggregateType string, aggregateID *int64, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", routingKey, err)
	}
	return repo.InsertEvent(ctx, q, &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       body,
	})
}
