package pubsub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on Redis PUBLISH/SUBSCRIBE.
type RedisBroker struct {
	client *redis.Client
	owned  bool
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(cfg RedisConfig) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBroker{client: client, owned: true}, nil
}

// NewRedisBrokerFromClient wraps an existing client. Close leaves the client open.
func NewRedisBrokerFromClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish publishes payload on topic.
func (r *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// NewSubscription opens a dedicated subscriber connection.
func (r *RedisBroker) NewSubscription(ctx context.Context) (Subscription, error) {
	return &redisSubscription{ps: r.client.Subscribe(ctx), topics: make(map[string]struct{})}, nil
}

// Close closes the Redis client if this broker created it.
func (r *RedisBroker) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

// Client returns the underlying Redis client.
func (r *RedisBroker) Client() *redis.Client {
	return r.client
}

type redisSubscription struct {
	ps     *redis.PubSub
	topics map[string]struct{}
}

func (s *redisSubscription) Subscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	if err := s.ps.Subscribe(ctx, topics...); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	return nil
}

func (s *redisSubscription) Unsubscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	if err := s.ps.Unsubscribe(ctx, topics...); err != nil {
		return fmt.Errorf("redis unsubscribe: %w", err)
	}
	for _, t := range topics {
		delete(s.topics, t)
	}
	return nil
}

func (s *redisSubscription) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	if len(s.topics) == 0 {
		return nil, idle(ctx, timeout)
	}

	msg, err := s.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("redis receive: %w", err)
	}

	switch m := msg.(type) {
	case *redis.Message:
		return &Message{Topic: m.Channel, Payload: []byte(m.Payload)}, nil
	default:
		// Subscription confirmations and pongs carry no payload.
		return nil, nil
	}
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
