package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds Redis connection settings for the broker.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379)
	URL string

	PoolSize     int
	MinIdleConns int

	// Prefix namespaces every key and channel.
	Prefix string
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          "redis://localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		Prefix:       "duelo:signal",
	}
}

// RedisBroker shares the id namespace between signaling replicas: claims
// are SET NX keys with a TTL and frames travel over PUBLISH/SUBSCRIBE.
type RedisBroker struct {
	client *redis.Client
	cfg    RedisConfig
	log    *zap.Logger
}

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(cfg RedisConfig, logger *zap.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewRedisBrokerWithClient(client, cfg, logger), nil
}

// NewRedisBrokerWithClient wraps an existing client (for testing).
func NewRedisBrokerWithClient(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisBroker {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisConfig().Prefix
	}
	return &RedisBroker{
		client: client,
		cfg:    cfg,
		log:    logger.Named("redis"),
	}
}

var _ Broker = (*RedisBroker)(nil)

func (b *RedisBroker) claimKey(id string) string {
	return b.cfg.Prefix + ":peer:" + id
}

func (b *RedisBroker) relayChannel(id string) string {
	return b.cfg.Prefix + ":relay:" + id
}

func (b *RedisBroker) Claim(ctx context.Context, id, owner string, ttl time.Duration) error {
	ok, err := b.client.SetNX(ctx, b.claimKey(id), owner, ttl).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Re-claiming our own id is allowed.
	current, err := b.client.Get(ctx, b.claimKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if current == owner {
		return b.Refresh(ctx, id, owner, ttl)
	}
	return ErrIDTaken
}

func (b *RedisBroker) Refresh(ctx context.Context, id, owner string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, b.client, []string{b.claimKey(id)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

func (b *RedisBroker) Release(ctx context.Context, id, owner string) error {
	return releaseScript.Run(ctx, b.client, []string{b.claimKey(id)}, owner).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, id string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.relayChannel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	s := &redisSub{
		ps:   ps,
		ch:   make(chan Message, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go s.run(b.log.With(zap.String("peer", id)))
	return s, nil
}

func (b *RedisBroker) Publish(ctx context.Context, msg Message) error {
	n, err := b.client.Exists(ctx, b.claimKey(msg.Dst)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPeerUnavailable
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	receivers, err := b.client.Publish(ctx, b.relayChannel(msg.Dst), data).Result()
	if err != nil {
		return err
	}
	if receivers == 0 {
		return ErrPeerUnavailable
	}
	return nil
}

// Close closes the Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSub) C() <-chan Message { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSub) run(log *zap.Logger) {
	defer close(s.ch)

	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				log.Warn("dropping undecodable relay frame", zap.Error(err))
				continue
			}
			select {
			case s.ch <- msg:
			case <-s.done:
				return
			}
		}
	}
}
