package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-broadcast/pkg/log"
)

// KafkaBroker implements Broker on a single Kafka topic. Every broker topic
// maps to a message key; subscriptions consume the whole Kafka topic and keep
// only the keys they are subscribed to.
type KafkaBroker struct {
	producer *kafka.Producer
	config   KafkaConfig
	doneCh   chan struct{}
}

// NewKafkaBroker creates the producer and makes sure the shared topic exists.
func NewKafkaBroker(cfg KafkaConfig) (*KafkaBroker, error) {
	if cfg.Topic == "" {
		cfg.Topic = "broadcast-rooms"
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = "broadcast"
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kb := &KafkaBroker{
		producer: p,
		config:   cfg,
		doneCh:   make(chan struct{}),
	}
	go kb.deliveryReportHandler()

	if err := kb.ensureTopic(); err != nil {
		l := log.Component("pubsub.kafka")
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure kafka topic (may already exist)")
	}

	return kb, nil
}

func (k *KafkaBroker) ensureTopic() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             k.config.Topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("create topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (k *KafkaBroker) deliveryReportHandler() {
	l := log.Component("pubsub.kafka")
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l.Error().Err(m.TopicPartition.Error).Str("key", string(m.Key)).Msg("kafka delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish produces payload keyed by topic.
func (k *KafkaBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(topic),
		Value: payload,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// NewSubscription creates a consumer in its own consumer group so this
// process sees every message on the shared topic.
func (k *KafkaBroker) NewSubscription(ctx context.Context) (Subscription, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.config.Brokers,
		"group.id":           fmt.Sprintf("%s-%s", k.config.GroupPrefix, uuid.NewString()),
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(k.config.Topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", k.config.Topic, err)
	}
	return &kafkaSubscription{consumer: c, keys: make(map[string]struct{})}, nil
}

// Close flushes pending messages and closes the producer.
func (k *KafkaBroker) Close() error {
	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh
	return nil
}

type kafkaSubscription struct {
	consumer *kafka.Consumer
	keys     map[string]struct{}
}

func (s *kafkaSubscription) Subscribe(_ context.Context, topics ...string) error {
	for _, t := range topics {
		s.keys[t] = struct{}{}
	}
	return nil
}

func (s *kafkaSubscription) Unsubscribe(_ context.Context, topics ...string) error {
	for _, t := range topics {
		delete(s.keys, t)
	}
	return nil
}

func (s *kafkaSubscription) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		switch e := s.consumer.Poll(int(remaining.Milliseconds()) + 1).(type) {
		case nil:
			return nil, nil
		case *kafka.Message:
			key := string(e.Key)
			if _, ok := s.keys[key]; !ok {
				continue
			}
			return &Message{Topic: key, Payload: e.Value}, nil
		case kafka.Error:
			if e.IsFatal() {
				return nil, fmt.Errorf("kafka consumer: %w", e)
			}
		}
	}
}

func (s *kafkaSubscription) Close() error {
	return s.consumer.Close()
}
