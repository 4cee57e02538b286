package util

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"coachly/pkg/circuitbreaker"
)

// Classified 错误自带分类（例如邮件发送错误）
type Classified interface {
	ErrorClass() string
}

// ClassifyError 判断错误是否可以在下一次调度中重试，并返回错误类型
// Returns: (isRetryable, errorType)
func ClassifyError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// 熔断器打开：SMTP 不可用，下次运行重试
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "smtp_circuit_open"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	// 记录不存在 - 不可重试
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23xxx 约束冲突 - 数据问题，重试无意义
		if strings.HasPrefix(pgErr.Code, "23") {
			return false, "db_constraint"
		}
		return true, "db_error"
	}

	// SMTP 5xx 为永久失败（地址被拒等），4xx 为临时失败
	var smtpErr *textproto.Error
	if errors.As(err, &smtpErr) {
		if smtpErr.Code >= 500 {
			return false, "smtp_rejected"
		}
		return true, "smtp_temporary"
	}

	var classified Classified
	if errors.As(err, &classified) {
		return true, classified.ErrorClass()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if strings.Contains(err.Error(), "connection") {
		return true, "db_connection_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}
