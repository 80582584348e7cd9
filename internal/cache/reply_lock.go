package cache

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// ReplyLock is an advisory per-chat lock held while a reply dispatch is in
// flight. The TTL must outlive the dispatch timeout so an abandoned lock
// cannot wedge a chat.
type ReplyLock struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewReplyLock(client *redisv9.Client, ttl time.Duration) *ReplyLock {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &ReplyLock{client: client, ttl: ttl}
}

func (l *ReplyLock) TryLock(ctx context.Context, chatID uint) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key(chatID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis acquire reply lock failed: %w", err)
	}
	return acquired, nil
}

func (l *ReplyLock) Unlock(ctx context.Context, chatID uint) {
	_ = l.client.Del(ctx, l.key(chatID)).Err()
}

func (l *ReplyLock) key(chatID uint) string {
	return fmt.Sprintf("chat:reply:lock:%d", chatID)
}
