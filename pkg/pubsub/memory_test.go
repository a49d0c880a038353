package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerDeliversOnlySubscribedTopics(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	sub, err := b.NewSubscription(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sub.Subscribe(ctx, "room-a"))
	require.NoError(t, b.Publish(ctx, "room-b", []byte("ignored")))
	require.NoError(t, b.Publish(ctx, "room-a", []byte("hello")))

	msg, err := sub.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "room-a", msg.Topic)
	assert.Equal(t, []byte("hello"), msg.Payload)

	msg, err = sub.Receive(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestMemoryBrokerUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	sub, err := b.NewSubscription(ctx)
	require.NoError(t, err)

	require.NoError(t, sub.Subscribe(ctx, "a", "b"))
	assert.Equal(t, []string{"a", "b"}, b.SubscribedTopics())

	require.NoError(t, sub.Unsubscribe(ctx, "a"))
	assert.Equal(t, []string{"b"}, b.SubscribedTopics())

	require.NoError(t, b.Publish(ctx, "a", []byte("x")))
	msg, err := sub.Receive(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)

	require.NoError(t, sub.Close())
	assert.Empty(t, b.SubscribedTopics())
	_, err = sub.Receive(ctx, time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryReceiveHonoursContext(t *testing.T) {
	b := NewMemoryBroker()
	sub, err := b.NewSubscription(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sub.Receive(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewBrokerRejectsUnknownDriver(t *testing.T) {
	_, err := NewBroker(Config{Driver: "nats"})
	assert.Error(t, err)

	b, err := NewBroker(Config{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBroker{}, b)
}
