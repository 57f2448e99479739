package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/pkg/logger"
)

// RedisNotifier publishes level-up events to a per-user Redis channel so
// edge services can fan them out to connected clients.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// NewRedisNotifier connects a notifier to the given Redis address. The
// prefix namespaces the per-user channels, e.g. "progression.user.42".
func NewRedisNotifier(ctx context.Context, addr, password string, db int, prefix string, log *logger.Logger) (*RedisNotifier, error) {
	if log == nil {
		log = logger.NewDefault("notify-redis")
	}
	if prefix == "" {
		prefix = "progression"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisNotifier{client: client, prefix: prefix, log: log}, nil
}

func (n *RedisNotifier) Name() string { return "redis" }

// Channel returns the pub/sub channel for one user.
func (n *RedisNotifier) Channel(userID string) string {
	return fmt.Sprintf("%s.user.%s", n.prefix, userID)
}

func (n *RedisNotifier) Emit(ctx context.Context, event progression.LevelUpEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode level-up event: %w", err)
	}
	if err := n.client.Publish(ctx, n.Channel(event.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish level-up event: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
