package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry 批处理任务使用独立的 registry，运行结束后推送到 Pushgateway
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// 通知结果计数
	NotificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitment_notifications_total",
			Help: "Notifications handled by the dispatch runner",
		},
		[]string{"pass", "outcome"}, // outcome: sent, skipped, failed
	)

	// 失败原因分类
	NotificationFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commitment_notification_failures_total",
			Help: "Failed notifications by error class",
		},
		[]string{"pass", "error_class"},
	)

	// 邮件发送延迟（毫秒）
	EmailSendLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "email_send_latency_ms",
			Help:    "Outbound email send latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"status"},
	)

	// 单次调度运行耗时（秒）
	DispatchRunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_run_duration_seconds",
			Help:    "Duration of one dispatch tick",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
	)

	// 最近一次成功运行的时间戳
	DispatchLastSuccess = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_last_success_timestamp_seconds",
			Help: "Unix time of the last dispatch tick that finished without pass errors",
		},
	)

	// 慢查询计数
	SlowQueryCount = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// 慢查询耗时（秒）
	SlowQueryDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow queries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
	)
)

// RecordNotification 记录一次通知结果
func RecordNotification(pass, outcome string) {
	NotificationsTotal.WithLabelValues(pass, outcome).Inc()
}

// RecordNotificationFailure 记录失败原因
func RecordNotificationFailure(pass, errorClass string) {
	NotificationFailures.WithLabelValues(pass, errorClass).Inc()
}

// RecordEmailSendLatency 记录邮件发送延迟
func RecordEmailSendLatency(status string, duration time.Duration) {
	EmailSendLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordDispatchRun 记录调度运行耗时，ok 为 true 时更新最近成功时间
func RecordDispatchRun(duration time.Duration, finishedAt time.Time, ok bool) {
	DispatchRunDuration.Observe(duration.Seconds())
	if ok {
		DispatchLastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}

// Push 把 Registry 中的指标推送到 Pushgateway
func Push(ctx context.Context, url, job string) error {
	if job == "" {
		job = "commitment_dispatch"
	}
	return push.New(url, job).Gatherer(Registry).PushContext(ctx)
}
