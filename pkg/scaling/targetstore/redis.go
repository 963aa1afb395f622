package targetstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// DefaultPrefix namespaces the Redis keys of a RedisStore.
const DefaultPrefix = "goboot"

// RedisConfig holds configuration for a RedisStore.
type RedisConfig struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// Prefix namespaces keys and channels. Defaults to DefaultPrefix.
	Prefix string

	// Timeout bounds each Redis command. Defaults to 500ms.
	Timeout time.Duration

	// CloseClient makes Close also close Client.
	CloseClient bool

	// Logger receives malformed notifications. Nil disables logging.
	Logger *zerolog.Logger
}

// RedisStore keeps targets in Redis strings and announces changes on a
// pub/sub channel, so every control process sharing the Redis instance
// follows the same target.
//
// Keys:
//
//	<prefix>:<app>:target          current target
//	<prefix>:<app>:target:changed  channel carrying each new target
type RedisStore struct {
	config RedisConfig
	logger zerolog.Logger
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	if config.Client == nil {
		return nil, gberrors.NewValidationError("targetstore", "Client", nil, "cannot be nil")
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Timeout <= 0 {
		config.Timeout = 500 * time.Millisecond
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "targetstore").Logger()
	}
	return &RedisStore{config: config, logger: logger}, nil
}

func (s *RedisStore) key(app string) string {
	return fmt.Sprintf("%s:%s:target", s.config.Prefix, app)
}

func (s *RedisStore) channel(app string) string {
	return s.key(app) + ":changed"
}

func (s *RedisStore) Target(ctx context.Context, app string) (int, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	n, err := s.config.Client.Get(ctx, s.key(app)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, gberrors.NewOperationError("targetstore", "target", err).WithContext(app)
	}
	if err := validate(app, n); err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (s *RedisStore) SetTarget(ctx context.Context, app string, n int) error {
	if err := validate(app, n); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	pipe := s.config.Client.Pipeline()
	pipe.Set(ctx, s.key(app), n, 0)
	pipe.Publish(ctx, s.channel(app), n)
	if _, err := pipe.Exec(ctx); err != nil {
		return gberrors.NewOperationError("targetstore", "set_target", err).WithContext(app)
	}
	return nil
}

// Watch subscribes to the application's change channel. It returns once
// the subscription is confirmed by the server.
func (s *RedisStore) Watch(ctx context.Context, app string) (<-chan int, error) {
	sub := s.config.Client.Subscribe(ctx, s.channel(app))

	confirmCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	_, err := sub.Receive(confirmCtx)
	cancel()
	if err != nil {
		_ = sub.Close()
		return nil, gberrors.NewOperationError("targetstore", "watch", err).WithContext(app)
	}

	out := make(chan int, 1)
	msgs := sub.Channel()
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				n, err := strconv.Atoi(msg.Payload)
				if err != nil || n < 0 {
					s.logger.Warn().Str("app", app).Str("payload", msg.Payload).Msg("ignoring malformed target")
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis client when CloseClient is set. Watches end with
// their contexts.
func (s *RedisStore) Close() error {
	if s.config.CloseClient {
		return s.config.Client.Close()
	}
	return nil
}
