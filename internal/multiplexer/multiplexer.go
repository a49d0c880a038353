// Package multiplexer bridges one dedicated broker subscription to many
// local consumers.
//
// Consumers register per topic and receive payloads on their own Queue. The
// Run loop keeps the broker-level subscription set equal to the set of
// topics that have at least one consumer; that equality is eventual and is
// restored at most one poll interval after a change.
package multiplexer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-broadcast/pkg/log"
	"github.com/weiawesome/wes-io-broadcast/pkg/pubsub"
)

// Config tunes the multiplexer.
type Config struct {
	// PollTimeout bounds each broker read, and so the re-diff latency.
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	// MaxQueue bounds each consumer queue; 0 means unbounded.
	MaxQueue int `mapstructure:"max_queue"`
	// ErrorBackoff is the pause after a failed broker read.
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// DefaultConfig returns a one-second poll with unbounded queues.
func DefaultConfig() Config {
	return Config{PollTimeout: time.Second, ErrorBackoff: time.Second}
}

// Multiplexer fans broker messages out to local consumers.
type Multiplexer struct {
	broker pubsub.Broker
	cfg    Config
	logger zerolog.Logger

	mu      sync.RWMutex
	buckets map[string]map[string]*Queue // topic -> consumer id -> queue
}

// New creates a multiplexer over broker. Run must be started for consumers
// to receive anything.
func New(broker pubsub.Broker, cfg Config) *Multiplexer {
	def := DefaultConfig()
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	return &Multiplexer{
		broker:  broker,
		cfg:     cfg,
		logger:  log.Component("multiplexer"),
		buckets: make(map[string]map[string]*Queue),
	}
}

// Subscribe registers consumerID on topic and returns the queue its payloads
// arrive on. Subscribing the same consumer to the same topic again replaces
// (and closes) the previous queue.
func (m *Multiplexer) Subscribe(consumerID, topic string) *Queue {
	q := newQueue(m.cfg.MaxQueue)

	m.mu.Lock()
	defer m.mu.Unlock()

	consumers, ok := m.buckets[topic]
	if !ok {
		consumers = make(map[string]*Queue)
		m.buckets[topic] = consumers
	}
	if old, ok := consumers[consumerID]; ok {
		old.Close()
	}
	consumers[consumerID] = q
	return q
}

// Remove deregisters consumerID from every topic and closes its queues.
// It is idempotent.
func (m *Multiplexer) Remove(consumerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(consumerID)
}

func (m *Multiplexer) removeLocked(consumerID string) {
	for topic, consumers := range m.buckets {
		q, ok := consumers[consumerID]
		if !ok {
			continue
		}
		q.Close()
		delete(consumers, consumerID)
		if len(consumers) == 0 {
			delete(m.buckets, topic)
		}
	}
}

// SubscribedCount returns the number of local consumers on topic.
func (m *Multiplexer) SubscribedCount(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buckets[topic])
}

// Publish sends payload to topic through the broker. It does not touch the
// local consumer map; local consumers see the message once the broker
// delivers it back.
func (m *Multiplexer) Publish(ctx context.Context, topic string, payload []byte) error {
	return m.broker.Publish(ctx, topic, payload)
}

// Run owns the broker subscription until ctx is cancelled. Per-iteration
// failures are logged and retried.
func (m *Multiplexer) Run(ctx context.Context) error {
	sub, err := m.broker.NewSubscription(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	subscribed := make(map[string]struct{})
	m.logger.Info().Dur("poll_timeout", m.cfg.PollTimeout).Int("max_queue", m.cfg.MaxQueue).Msg("multiplexer started")

	for {
		if ctx.Err() != nil {
			m.logger.Info().Msg("multiplexer stopped")
			return nil
		}

		m.reconcile(ctx, sub, subscribed)

		msg, err := sub.Receive(ctx, m.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			m.logger.Error().Err(err).Msg("broker receive failed")
			sleep(ctx, m.cfg.ErrorBackoff)
			continue
		}
		if msg != nil {
			m.fanOut(msg)
		}
	}
}

// reconcile subscribes to newly demanded topics and drops idle ones.
func (m *Multiplexer) reconcile(ctx context.Context, sub pubsub.Subscription, subscribed map[string]struct{}) {
	m.mu.RLock()
	var toSubscribe []string
	for topic := range m.buckets {
		if _, ok := subscribed[topic]; !ok {
			toSubscribe = append(toSubscribe, topic)
		}
	}
	var toUnsubscribe []string
	for topic := range subscribed {
		if _, ok := m.buckets[topic]; !ok {
			toUnsubscribe = append(toUnsubscribe, topic)
		}
	}
	m.mu.RUnlock()

	if len(toSubscribe) > 0 {
		sort.Strings(toSubscribe)
		if err := sub.Subscribe(ctx, toSubscribe...); err != nil {
			m.logger.Error().Err(err).Strs("topics", toSubscribe).Msg("broker subscribe failed")
		} else {
			for _, t := range toSubscribe {
				subscribed[t] = struct{}{}
			}
			m.logger.Debug().Strs("topics", toSubscribe).Msg("subscribed")
		}
	}

	if len(toUnsubscribe) > 0 {
		sort.Strings(toUnsubscribe)
		if err := sub.Unsubscribe(ctx, toUnsubscribe...); err != nil {
			m.logger.Error().Err(err).Strs("topics", toUnsubscribe).Msg("broker unsubscribe failed")
		} else {
			for _, t := range toUnsubscribe {
				delete(subscribed, t)
			}
			m.logger.Debug().Strs("topics", toUnsubscribe).Msg("unsubscribed")
		}
	}
}

// fanOut pushes msg to every consumer of its topic. Consumers whose push
// fails are removed after the pass.
func (m *Multiplexer) fanOut(msg *pubsub.Message) {
	var dead []string

	m.mu.RLock()
	for id, q := range m.buckets[msg.Topic] {
		if err := q.push(msg.Payload); err != nil {
			dead = append(dead, id)
		}
	}
	m.mu.RUnlock()

	if len(dead) == 0 {
		return
	}

	m.mu.Lock()
	for _, id := range dead {
		m.removeLocked(id)
	}
	m.mu.Unlock()

	m.logger.Debug().Str(log.FieldRoomID, msg.Topic).Strs("consumers", dead).Msg("dropped departed consumers")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
