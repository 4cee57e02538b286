package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"coachly/pkg/trace"

	"go.uber.org/zap"
)

// Publisher 由 *mq.Publisher 满足
type Publisher interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
}

type store interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
// 批处理任务在运行结束时调用 Drain，而不是常驻轮询
type Dispatcher struct {
	repo       store
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
	batchSize  int
	maxBatches int
}

// NewDispatcher 创建新的 Dispatcher
func NewDispatcher(repo store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,
		batchSize:  100,
		maxBatches: 50,
	}
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

// WithBatchSize 设置批次大小
func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	d.batchSize = batchSize
	return d
}

// Drain 发布当前所有到期的 pending 事件，返回成功发布的数量
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	published := 0
	for batch := 0; batch < d.maxBatches; batch++ {
		events, err := d.repo.GetPendingEvents(ctx, d.batchSize)
		if err != nil {
			return published, err
		}

		sentInBatch := 0
		for _, event := range events {
			if d.dispatchOne(ctx, event) {
				sentInBatch++
			}
		}
		published += sentInBatch

		// 失败的事件会推迟 next_retry_at，下一批不会再取到
		if len(events) < d.batchSize || sentInBatch == 0 {
			break
		}
	}

	d.logger.Info("Outbox drained", zap.Int("published", published))
	return published, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, event *Event) bool {
	if err := d.publishEvent(ctx, event); err != nil {
		d.logger.Error("Failed to publish event",
			zap.Int64("event_id", event.ID),
			zap.String("routing_key", event.RoutingKey),
			zap.Error(err),
		)
		if err := d.repo.MarkAsFailed(ctx, event.ID, d.maxRetries); err != nil {
			d.logger.Error("Failed to mark event as failed",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
		}
		return false
	}

	if err := d.repo.MarkAsSent(ctx, event.ID); err != nil {
		// 已发布但未标记：下次会重复发布，消费方需要幂等
		d.logger.Error("Failed to mark event as sent",
			zap.Int64("event_id", event.ID),
			zap.Error(err),
		)
		return true
	}

	d.logger.Debug("Event published successfully",
		zap.Int64("event_id", event.ID),
		zap.String("routing_key", event.RoutingKey),
	)
	return true
}

func (d *Dispatcher) publishEvent(ctx context.Context, event *Event) error {
	if !json.Valid(event.Payload) {
		return fmt.Errorf("invalid payload for event %d", event.ID)
	}
	ctx = runIDFromPayload(ctx, event.Payload)
	if err := d.publisher.PublishRaw(ctx, event.RoutingKey, event.Payload); err != nil {
		return fmt.Errorf("failed to publish to MQ: %w", err)
	}
	return nil
}

// runIDFromPayload 从 payload 中提取 run_id（如果存在）
func runIDFromPayload(ctx context.Context, payload json.RawMessage) context.Context {
	var fields struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil || fields.RunID == "" {
		return ctx
	}
	return trace.WithContext(ctx, fields.RunID)
}
