package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisBrokerFromClient(client)
}

func TestRedisSubscriptionReceivesPublishedPayload(t *testing.T) {
	ctx := context.Background()
	b := newTestRedisBroker(t)

	sub, err := b.NewSubscription(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, sub.Subscribe(ctx, "v1"))

	// The first frame may be the subscribe confirmation.
	require.Eventually(t, func() bool {
		if err := b.Publish(ctx, "v1", []byte(`{"UpdateViewers":{"viewers":2}}`)); err != nil {
			return false
		}
		msg, err := sub.Receive(ctx, 100*time.Millisecond)
		return err == nil && msg != nil && msg.Topic == "v1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisSubscriptionWithoutTopicsTimesOut(t *testing.T) {
	ctx := context.Background()
	b := newTestRedisBroker(t)

	sub, err := b.NewSubscription(ctx)
	require.NoError(t, err)
	defer sub.Close()

	start := time.Now()
	msg, err := sub.Receive(ctx, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
