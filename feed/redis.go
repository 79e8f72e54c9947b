// Package feed holds change feeds that are independent of the table store.
package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisFeed fans table change notifications out over Redis pub/sub, so every API
// instance re-fetches after a mutation made through any other instance.
type RedisFeed struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisClient creates a Redis client
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisFeed publishes and subscribes on channels named prefix+table.
func NewRedisFeed(client *redis.Client, prefix string, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{client: client, prefix: prefix, logger: logger}
}

// Channel is the pub/sub channel used for table.
func (f *RedisFeed) Channel(table string) string {
	return f.prefix + table
}

// Ping tests the Redis connection
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Notify publishes a change of table.
func (f *RedisFeed) Notify(ctx context.Context, table string) error {
	payload := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := f.client.Publish(ctx, f.Channel(table), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change for %s: %w", table, err)
	}
	return nil
}

// Watch subscribes to table's channel and calls onChange for every message until ctx is done.
func (f *RedisFeed) Watch(ctx context.Context, table string, onChange func()) error {
	sub := f.client.Subscribe(ctx, f.Channel(table))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", f.Channel(table), err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", f.Channel(table))
			}
			onChange()
		}
	}
}
