package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/models"
)

const (
	lockPrefix    = "challenge-engine:lock:"
	channelPrefix = "challenge-engine:events:"

	// DefaultLockTTL bounds how long a crashed holder can block a user. Live
	// holders extend it every third of the TTL.
	DefaultLockTTL = 2 * time.Minute

	lockRetry = 50 * time.Millisecond
)

// releaseScript deletes the lock only when it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only when it is still held by the caller's token
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisProvider serialises per-user work across engine instances and
// fans challenge events out to every API instance
type RedisProvider struct {
	BaseProvider
	client  *redis.Client
	lockTTL time.Duration
	logger  *zap.SugaredLogger
}

// NewRedisProvider connects to the redis server at address
func NewRedisProvider(ctx context.Context, address, password string, logger *zap.SugaredLogger) (*RedisProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisProviderFromClient(client, logger), nil
}

// NewRedisProviderFromClient wraps an existing client
func NewRedisProviderFromClient(client *redis.Client, logger *zap.SugaredLogger) *RedisProvider {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisProvider{
		BaseProvider: BaseProvider{serviceType: "redis"},
		client:       client,
		lockTTL:      DefaultLockTTL,
		logger:       logger,
	}
}

// SetLockTTL changes the expiry of locks taken afterwards
func (p *RedisProvider) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		p.lockTTL = ttl
	}
}

// Lock blocks until key is held or ctx is done. The lock is kept alive until
// the returned func releases it; release never removes a lock that expired
// and was taken by someone else.
func (p *RedisProvider) Lock(ctx context.Context, key string) (func(), error) {
	name := lockPrefix + key
	token := uuid.NewString()
	ttl := p.lockTTL

	for {
		ok, err := p.client.SetNX(ctx, name, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
		case <-time.After(lockRetry):
		}
	}

	renewCtx, stop := context.WithCancel(context.Background())
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		p.renew(renewCtx, name, token, ttl)
	}()

	return func() {
		stop()
		<-renewed

		// the caller's context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, p.client, []string{name}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			p.logger.Warnw("failed to release lock", "lock", key, "error", err)
		}
	}, nil
}

// renew pushes the expiry of a held lock forward until ctx is done or the
// lock turns out to belong to someone else
func (p *RedisProvider) renew(ctx context.Context, name, token string, ttl time.Duration) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		held, err := renewScript.Run(ctx, p.client, []string{name}, token, ttl.Milliseconds()).Int()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warnw("failed to extend lock", "lock", name, "error", err)
			continue
		}
		if held == 0 {
			p.logger.Warnw("lock expired while held", "lock", name)
			return
		}
	}
}

// Publish sends event to the subscribers of its project
func (p *RedisProvider) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channelPrefix+event.Project, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscribe streams the events of project until ctx is done
func (p *RedisProvider) Subscribe(ctx context.Context, project string) (<-chan models.Event, error) {
	sub := p.client.Subscribe(ctx, channelPrefix+project)

	// wait for the subscription confirmation so no event published afterwards is lost
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", project, err)
	}

	out := make(chan models.Event, eventBuffer)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					p.logger.Warnw("dropping malformed event", "project", project, "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// HealthCheck verifies Redis connectivity
func (p *RedisProvider) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
