package cache

import (
	"context"
	"fmt"
	"time"

	"fulfillment-svc/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr()))
	return rdb, nil
}

// EventDeduper remembers processed webhook event ids for ttl. It only short
// circuits replays; a lost key means the event is processed again, which is
// harmless.
type EventDeduper struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewEventDeduper(rdb redis.Cmdable, ttl time.Duration) *EventDeduper {
	return &EventDeduper{rdb: rdb, ttl: ttl}
}

func eventKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

func (d *EventDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.rdb.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return n > 0, nil
}

func (d *EventDeduper) MarkProcessed(ctx context.Context, eventID string) error {
	processedAt := time.Now().UTC().Format(time.RFC3339)
	if err := d.rdb.Set(ctx, eventKey(eventID), processedAt, d.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark webhook event: %w", err)
	}
	return nil
}
