package util

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 仅当值仍是自己的 token 时才删除，避免释放别人持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock 保证同一时间只有一个调度进程在运行
type RunLock struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	token string
}

func NewRunLock(rdb *redis.Client, key string, ttl time.Duration) *RunLock {
	return &RunLock{
		rdb:   rdb,
		key:   key,
		ttl:   ttl,
		token: uuid.NewString(),
	}
}

// Acquire 返回 false 表示锁已被其他进程持有
func (l *RunLock) Acquire(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Release 释放自己持有的锁；锁已过期或被他人持有时返回 false
func (l *RunLock) Release(ctx context.Context) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
