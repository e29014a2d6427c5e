package enforcement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBackend maintains a shared blocklist set in Redis and announces
// changes on a pub/sub channel so remote enforcement nodes converge without
// polling.
type RedisBackend struct {
	client  *redis.Client
	setKey  string
	channel string
}

// RedisBackendConfig configures the Redis blocklist backend.
type RedisBackendConfig struct {
	Addr     string // host:port
	Password string
	DB       int
	SetKey   string // Blocklist set key (default: ipsentinel:blocked)
	Channel  string // Pub/sub announcement channel (default: ipsentinel:events)
}

type redisEvent struct {
	Action  string `json:"action"`
	Subject string `json:"subject"`
}

// NewRedisBackend connects to Redis and verifies the connection with a
// ping before returning.
func NewRedisBackend(ctx context.Context, config RedisBackendConfig) (*RedisBackend, error) {
	if config.SetKey == "" {
		config.SetKey = "ipsentinel:blocked"
	}
	if config.Channel == "" {
		config.Channel = "ipsentinel:events"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	log.Info().Str("set", config.SetKey).Str("channel", config.Channel).Msg("Connected to Redis blocklist")
	return &RedisBackend{client: client, setKey: config.SetKey, channel: config.Channel}, nil
}

func (b *RedisBackend) Ban(ctx context.Context, subject string) error {
	if err := b.client.SAdd(ctx, b.setKey, subject).Err(); err != nil {
		return fmt.Errorf("adding %s to blocklist set: %w", subject, err)
	}
	return b.announce(ctx, "ban", subject)
}

func (b *RedisBackend) Unban(ctx context.Context, subject string) error {
	if err := b.client.SRem(ctx, b.setKey, subject).Err(); err != nil {
		return fmt.Errorf("removing %s from blocklist set: %w", subject, err)
	}
	return b.announce(ctx, "unban", subject)
}

func (b *RedisBackend) announce(ctx context.Context, action, subject string) error {
	body, err := json.Marshal(redisEvent{Action: action, Subject: subject})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		// The set is already updated; the announcement is best effort.
		log.Warn().Err(err).Str("subject", subject).Msg("Blocklist change announcement failed")
	}
	return nil
}

// IsBlocked checks set membership, used by external consumers sharing the
// blocklist.
func (b *RedisBackend) IsBlocked(ctx context.Context, subject string) (bool, error) {
	return b.client.SIsMember(ctx, b.setKey, subject).Result()
}

// Ping reports connection health.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) Name() string {
	return "redis"
}
