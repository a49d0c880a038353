package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-broadcast/internal/audit"
	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/multiplexer"
	"github.com/weiawesome/wes-io-broadcast/internal/payment"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
	"github.com/weiawesome/wes-io-broadcast/internal/session"
	"github.com/weiawesome/wes-io-broadcast/pkg/log"
)

// BroadcastService runs realtime sessions: it feeds frames through the
// session state machine and executes the resulting actions.
type BroadcastService struct {
	videos   session.VideoLookup
	invoices repository.Repository[domain.BoostMessageInvoice]
	rooms    Rooms
	payments payment.InvoiceCreator
}

// NewBroadcastService creates a broadcast service.
func NewBroadcastService(
	videos session.VideoLookup,
	invoices repository.Repository[domain.BoostMessageInvoice],
	rooms Rooms,
	payments payment.InvoiceCreator,
) *BroadcastService {
	return &BroadcastService{
		videos:   videos,
		invoices: invoices,
		rooms:    rooms,
		payments: payments,
	}
}

// Session is one connected client.
type Session struct {
	svc        *BroadcastService
	conn       Conn
	consumerID string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu    sync.Mutex
	state session.State
}

// Open starts a session for conn. The caller must Close it when the
// connection ends.
func (s *BroadcastService) Open(ctx context.Context, conn Conn) (*Session, error) {
	name, err := NewDisplayName()
	if err != nil {
		return nil, err
	}
	consumerID := uuid.New().String()

	ctx = log.WithLogger(ctx, log.Ctx(ctx).With().
		Str(log.FieldConsumerID, consumerID).
		Str(log.FieldUsername, name).
		Logger())
	ctx, cancel := context.WithCancel(ctx)

	return &Session{
		svc:        s,
		conn:       conn,
		consumerID: consumerID,
		ctx:        ctx,
		cancel:     cancel,
		state:      session.New(name),
	}, nil
}

// Name returns the session's display name.
func (ss *Session) Name() string {
	return ss.State().SessionID
}

// State returns the current state machine state.
func (ss *Session) State() session.State {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state
}

// Context carries the session's logger and ends when the session closes.
func (ss *Session) Context() context.Context {
	return ss.ctx
}

// Handle processes one inbound frame. Undecodable frames and protocol
// rejections are answered with an error frame and return nil. A non-nil
// error is fatal to the connection.
func (ss *Session) Handle(ctx context.Context, frame []byte) error {
	in, err := domain.DecodePacket(frame)
	if err != nil {
		return ss.reject(ctx, err)
	}

	ss.mu.Lock()
	next, action, err := ss.state.Apply(ctx, in, ss.svc.videos)
	ss.state = next
	ss.mu.Unlock()

	if err != nil {
		if errors.Is(err, session.ErrRejected) {
			return ss.reject(ctx, err)
		}
		return err
	}
	if action == nil {
		return nil
	}
	return ss.execute(ctx, next, action)
}

func (ss *Session) reject(ctx context.Context, cause error) error {
	l := log.Ctx(ctx)
	l.Debug().Err(cause).Msg("frame rejected")
	return ss.send(domain.Error{Message: cause.Error()})
}

func (ss *Session) send(p domain.Packet) error {
	data, err := domain.EncodePacket(p)
	if err != nil {
		return err
	}
	return ss.conn.Send(data)
}

func (ss *Session) execute(ctx context.Context, st session.State, action session.Action) error {
	switch a := action.(type) {
	case session.Subscribe:
		return ss.subscribe(ctx, st, a.Room)
	case session.Broadcast:
		payload, err := domain.EncodePacket(a.Message)
		if err != nil {
			return err
		}
		if err := ss.svc.rooms.Publish(ctx, a.Room, payload); err != nil {
			return fmt.Errorf("publish chat message: %w", err)
		}
		audit.Log(ctx, audit.ActionSendMessage, st.SessionID, a.Room, "chat message sent")
		return nil
	case session.CreateInvoice:
		return ss.createInvoice(ctx, a)
	default:
		return fmt.Errorf("unhandled action %T", action)
	}
}

// subscribe confirms the display name and starts forwarding room traffic.
func (ss *Session) subscribe(ctx context.Context, st session.State, room string) error {
	if err := ss.send(domain.AssignedUsername{Username: st.SessionID}); err != nil {
		return err
	}

	q := ss.svc.rooms.Subscribe(ss.consumerID, room)
	ss.wg.Add(1)
	go ss.forward(q)

	audit.Log(ctx, audit.ActionJoinRoom, st.SessionID, room, "joined room")
	return nil
}

// forward drains the consumer queue into the connection. A queue closed by
// the multiplexer while the session is still open means the consumer was
// dropped as too slow, so the connection is closed.
func (ss *Session) forward(q *multiplexer.Queue) {
	defer ss.wg.Done()
	l := log.Ctx(ss.ctx)

	for {
		payload, err := q.Recv(ss.ctx)
		if err != nil {
			if ss.ctx.Err() == nil {
				l.Warn().Err(err).Msg("consumer dropped, closing connection")
				ss.conn.Close()
			}
			return
		}
		if err := ss.conn.Send(payload); err != nil {
			return
		}
	}
}

func (ss *Session) createInvoice(ctx context.Context, a session.CreateInvoice) error {
	inv, err := ss.svc.payments.CreateInvoice(ctx, a.Amount, "")
	if err != nil {
		ss.send(domain.Error{Message: "could not create invoice"})
		return fmt.Errorf("create invoice: %w", err)
	}

	err = ss.svc.invoices.Save(ctx, domain.BoostMessageInvoice{
		ID:      inv.ID,
		Message: a.Message,
		From:    a.From,
		Room:    a.Room,
	})
	if err != nil {
		ss.send(domain.Error{Message: "could not create invoice"})
		return fmt.Errorf("save invoice %s: %w", inv.ID, err)
	}

	audit.LogWithDetail(ctx, audit.ActionRequestInvoice, a.From, a.Room, inv.ID, "boost invoice created")
	return ss.send(domain.Invoice{ID: inv.ID})
}

// Close removes the session's consumer from every room and waits for its
// forwarder to exit.
func (ss *Session) Close() {
	ss.cancel()
	ss.svc.rooms.Remove(ss.consumerID)
	ss.wg.Wait()

	st := ss.State()
	audit.Log(ss.ctx, audit.ActionDisconnect, st.SessionID, st.Room, "session closed")
}
