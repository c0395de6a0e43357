package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SentCache mirrors confirmed deliveries so the dashboard's conversation
// view can answer "did this go out?" without hitting Postgres.
type SentCache interface {
	StoreSent(ctx context.Context, messageID, externalID string, sentAt time.Time) error
}

type RedisSentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSentCache(rdb *redis.Client, ttl time.Duration) *RedisSentCache {
	return &RedisSentCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	ExternalID string    `json:"externalId"`
	SentAt     time.Time `json:"sentAt"`
}

func (c *RedisSentCache) StoreSent(ctx context.Context, messageID, externalID string, sentAt time.Time) error {
	key := fmt.Sprintf("sent:%s", messageID)
	val := sentValue{
		ExternalID: externalID,
		SentAt:     sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}
