package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/mail.v2"

	"coachly/pkg/circuitbreaker"
	"coachly/pkg/config"
	"coachly/pkg/metrics"
)

// Message is one outbound HTML email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Sender delivers a message. A nil error means the provider accepted it.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var ErrNoRecipient = errors.New("message has no recipient")

// SendError wraps a delivery failure from the SMTP provider.
type SendError struct {
	To  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send email to %s: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) ErrorClass() string { return "smtp_send_failed" }

// SMTPSender sends through one SMTP relay. After repeated failures the
// circuit breaker opens and sends fail fast until it half-opens again.
type SMTPSender struct {
	from    string
	dialer  *mail.Dialer
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	deliver func(msgs ...*mail.Message) error
}

func NewSMTPSender(cfg config.SMTPConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *SMTPSender {
	dialer := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.Timeout = 10 * time.Second
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	return &SMTPSender{
		from:    cfg.From,
		dialer:  dialer,
		breaker: breaker,
		logger:  logger,
		deliver: dialer.DialAndSend,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTMLBody)

	start := time.Now()
	err := s.breaker.Execute(func() error {
		return s.deliver(m)
	})
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			metrics.RecordEmailSendLatency("circuit_open", duration)
			return fmt.Errorf("send email to %s: %w", msg.To, err)
		}
		metrics.RecordEmailSendLatency("failed", duration)
		s.logger.Warn("SMTP send failed",
			zap.String("to", msg.To),
			zap.String("breaker_state", s.breaker.GetState().String()),
			zap.Error(err),
		)
		return &SendError{To: msg.To, Err: err}
	}

	metrics.RecordEmailSendLatency("sent", duration)
	s.logger.Debug("Email sent",
		zap.String("to", msg.To),
		zap.Duration("duration", duration),
	)
	return nil
}

// LogSender only logs. Used for dry runs.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	s.logger.Info("Dry run: email not sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.HTMLBody)),
	)
	return nil
}
