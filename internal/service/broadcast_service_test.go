package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-broadcast/internal/boost"
	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/multiplexer"
	"github.com/weiawesome/wes-io-broadcast/internal/payment"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
	"github.com/weiawesome/wes-io-broadcast/pkg/pubsub"
)

const poll = 10 * time.Millisecond

type fakeConn struct {
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 64)}
}

func (c *fakeConn) Send(data []byte) error {
	c.frames <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) next(t *testing.T) domain.Packet {
	t.Helper()
	select {
	case data := <-c.frames:
		p, err := domain.DecodePacket(data)
		require.NoError(t, err)
		return p
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func (c *fakeConn) none(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.frames:
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(5 * poll):
	}
}

type fakePayments struct {
	mu    sync.Mutex
	next  int
	err   error
	asked []uint64
}

func (f *fakePayments) CreateInvoice(_ context.Context, amountSats uint64, _ string) (payment.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return payment.Invoice{}, f.err
	}
	f.next++
	f.asked = append(f.asked, amountSats)
	return payment.Invoice{ID: "inv-" + string(rune('0'+f.next))}, nil
}

type env struct {
	broker   *pubsub.MemoryBroker
	mux      *multiplexer.Multiplexer
	videos   *repository.MemoryRepository[domain.Video]
	invoices *repository.MemoryRepository[domain.BoostMessageInvoice]
	payments *fakePayments
	svc      *BroadcastService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		broker:   pubsub.NewMemoryBroker(),
		videos:   repository.NewMemoryRepository[domain.Video](domain.CollectionVideos),
		invoices: repository.NewMemoryRepository[domain.BoostMessageInvoice](domain.CollectionInvoices),
		payments: &fakePayments{},
	}
	e.mux = multiplexer.New(e.broker, multiplexer.Config{PollTimeout: poll})
	e.svc = NewBroadcastService(e.videos, e.invoices, e.mux, e.payments)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.mux.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func (e *env) open(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s, err := e.svc.Open(context.Background(), conn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, conn
}

func (e *env) join(t *testing.T, s *Session, conn *fakeConn, room string) {
	t.Helper()
	require.NoError(t, s.Handle(context.Background(), []byte(`{"Join":{"room":"`+room+`"}}`)))
	assert.Equal(t, domain.AssignedUsername{Username: s.Name()}, conn.next(t))
}

func (e *env) waitSubscribed(t *testing.T, topic string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, got := range e.broker.SubscribedTopics() {
			if got == topic {
				return true
			}
		}
		return false
	}, time.Second, poll)
}

func TestDisplayNameShape(t *testing.T) {
	name, err := NewDisplayName()
	require.NoError(t, err)
	assert.Regexp(t, `^Anon[0-9]{5}$`, name)
}

func TestJoinRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.videos.Save(ctx, domain.Video{ID: "done", Status: domain.Processing{}}))

	s, conn := e.open(t)

	require.NoError(t, s.Handle(ctx, []byte(`{"ClientMessage":{"message":"hi"}}`)))
	assert.IsType(t, domain.Error{}, conn.next(t))

	require.NoError(t, s.Handle(ctx, []byte(`{"Join":{"room":"missing"}}`)))
	assert.IsType(t, domain.Error{}, conn.next(t))

	require.NoError(t, s.Handle(ctx, []byte(`{"Join":{"room":"done"}}`)))
	assert.IsType(t, domain.Error{}, conn.next(t))

	require.NoError(t, s.Handle(ctx, []byte(`not json`)))
	assert.IsType(t, domain.Error{}, conn.next(t))

	assert.False(t, s.State().Joined())
	assert.Equal(t, 0, e.mux.SubscribedCount("missing"))
}

// Two viewers in a live room both receive a third viewer's chat message.
func TestScenarioChatRelay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.videos.Save(ctx, domain.Video{ID: "v1", Status: domain.Live{StartedTimestamp: 1}}))

	a, connA := e.open(t)
	b, connB := e.open(t)
	sender, connS := e.open(t)
	e.join(t, a, connA, "v1")
	e.join(t, b, connB, "v1")
	e.join(t, sender, connS, "v1")
	assert.Equal(t, 3, e.mux.SubscribedCount("v1"))
	e.waitSubscribed(t, "v1")

	require.NoError(t, sender.Handle(ctx, []byte(`{"ClientMessage":{"message":"hi"}}`)))

	want := domain.ServerMessage{From: sender.Name(), Message: "hi"}
	assert.Equal(t, want, connA.next(t))
	assert.Equal(t, want, connB.next(t))
	assert.Equal(t, want, connS.next(t))
}

func TestEmptyMessageRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.videos.Save(ctx, domain.Video{ID: "v1", Status: domain.Scheduled{}}))

	s, conn := e.open(t)
	e.join(t, s, conn, "v1")

	require.NoError(t, s.Handle(ctx, []byte(`{"ClientMessage":{"message":""}}`)))
	assert.IsType(t, domain.Error{}, conn.next(t))
	assert.True(t, s.State().Joined())
}

// A paid boost invoice is delivered once with its duration tier.
func TestScenarioBoostedMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.videos.Save(ctx, domain.Video{ID: "v1", Status: domain.Live{StartedTimestamp: 1}}))

	viewer, connV := e.open(t)
	payer, connP := e.open(t)
	e.join(t, viewer, connV, "v1")
	e.join(t, payer, connP, "v1")
	e.waitSubscribed(t, "v1")

	require.NoError(t, payer.Handle(ctx, []byte(`{"GetInvoice":{"amount":5000,"message":"gg"}}`)))
	inv, ok := connP.next(t).(domain.Invoice)
	require.True(t, ok)
	assert.Equal(t, []uint64{5000}, e.payments.asked)

	stored, err := e.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BoostMessageInvoice{ID: inv.ID, Message: "gg", From: payer.Name(), Room: "v1"}, stored)

	boosts := boost.NewService(e.invoices, e.broker)
	sent, err := boosts.Confirm(ctx, inv.ID, 5000)
	require.NoError(t, err)
	assert.True(t, sent)

	want := domain.ServerMessage{
		From:    payer.Name(),
		Message: "gg",
		Extra:   &domain.MessageExtra{Amount: 5000, Timestamp: 0, Duration: 30},
	}
	assert.Equal(t, want, connV.next(t))
	assert.Equal(t, want, connP.next(t))

	_, err = e.invoices.Get(ctx, inv.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	sent, err = boosts.Confirm(ctx, inv.ID, 5000)
	require.NoError(t, err)
	assert.False(t, sent)
	connV.none(t)
}

func TestInvoiceFailureIsFatal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.videos.Save(ctx, domain.Video{ID: "v1", Status: domain.Live{}}))
	e.payments.err = errors.New("btcpay down")

	s, conn := e.open(t)
	e.join(t, s, conn, "v1")

	err := s.Handle(ctx, []byte(`{"GetInvoice":{"amount":100,"message":"x"}}`))
	require.Error(t, err)
	assert.IsType(t, domain.Error{}, conn.next(t))

	all, err := e.invoices.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCloseRemovesConsumer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.videos.Save(ctx, domain.Video{ID: "v1", Status: domain.Live{}}))

	conn := newFakeConn()
	s, err := e.svc.Open(ctx, conn)
	require.NoError(t, err)
	e.join(t, s, conn, "v1")
	assert.Equal(t, 1, e.mux.SubscribedCount("v1"))

	s.Close()
	assert.Equal(t, 0, e.mux.SubscribedCount("v1"))
	require.Eventually(t, func() bool { return len(e.broker.SubscribedTopics()) == 0 }, time.Second, poll)
}
