package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 记录某个用户在某个时间桶内已经收到过哪类通知
// nil *Deduper 表示未启用 Redis：Seen 总是 false，Mark 什么也不做
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if rdb == nil {
		return nil
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func dedupKey(kind string, userID int64, bucket string) string {
	return fmt.Sprintf("dedup:%s:%d:%s", kind, userID, bucket)
}

// Seen 返回 true 表示该通知在这个时间桶内已经成功发送过
func (d *Deduper) Seen(ctx context.Context, kind string, userID int64, bucket string) bool {
	if d == nil {
		return false
	}
	key := dedupKey(kind, userID, bucket)

	n, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		// Redis 不可用时不阻止发送
		d.logger.Warn("Redis dedup check failed, allowing send",
			zap.String("kind", kind),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return false
	}

	if n > 0 {
		d.logger.Info("Skipped duplicated notification",
			zap.String("kind", kind),
			zap.Int64("user_id", userID),
			zap.String("dedup_key", key),
		)
	}
	return n > 0
}

// Mark 在发送成功后调用
func (d *Deduper) Mark(ctx context.Context, kind string, userID int64, bucket string) error {
	if d == nil {
		return nil
	}
	return d.rdb.Set(ctx, dedupKey(kind, userID, bucket), 1, d.ttl).Err()
}
