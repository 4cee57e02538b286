package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"coachly/pkg/trace"
)

// channel 由 *amqp091.Channel 满足
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type Publisher struct {
	conn    *amqp091.Connection
	channel channel
	now     func() time.Time
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareExchange(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, channel: ch, now: time.Now}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// newPublishing 构造持久化 JSON 消息，ctx 中的 run id 放入消息头
func newPublishing(ctx context.Context, body []byte, at time.Time) amqp091.Publishing {
	headers := amqp091.Table{}
	if runID := trace.FromContext(ctx); runID != "" {
		headers[trace.RunIDField] = runID
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    at,
		Headers:      headers,
	}
}

// PublishRaw 发布已编码的 JSON body
func (p *Publisher) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	msg := newPublishing(ctx, body, p.now())
	if err := p.channel.PublishWithContext(ctx, ExchangeName, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Publish 把 payload 编码为 JSON 后发布
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", routingKey, err)
	}
	return p.PublishRaw(ctx, routingKey, body)
}
