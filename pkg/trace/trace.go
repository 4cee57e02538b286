package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// RunIDField 日志中的字段名
const RunIDField = "run_id"

// NewRunID 为一次调度运行生成 ID
func NewRunID() string {
	return uuid.NewString()
}

// FromContext 从 context 中获取 run id
func FromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(ctxKey{}).(string); ok {
		return runID
	}
	return ""
}

// WithContext 将 run id 添加到 context 中
func WithContext(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, runID)
}
