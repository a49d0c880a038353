// Package session is the per-connection protocol state machine. It decides
// what a frame means; executing the resulting Action is the caller's job.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
)

// ErrRejected is the root of every input rejection. A rejection leaves the
// state unchanged and is not fatal to the connection.
var ErrRejected = errors.New("rejected")

var (
	ErrNotJoined        = fmt.Errorf("%w: join a room first", ErrRejected)
	ErrAlreadyJoined    = fmt.Errorf("%w: already joined a room", ErrRejected)
	ErrRoomNotFound     = fmt.Errorf("%w: room not found", ErrRejected)
	ErrRoomNotJoinable  = fmt.Errorf("%w: room is not scheduled or live", ErrRejected)
	ErrEmptyMessage     = fmt.Errorf("%w: empty message", ErrRejected)
	ErrUnexpectedPacket = fmt.Errorf("%w: unexpected packet", ErrRejected)
)

// VideoLookup resolves a room to its Video. repository.Repository[domain.Video]
// satisfies it.
type VideoLookup interface {
	Get(ctx context.Context, id string) (domain.Video, error)
}

// State is the immutable connection state: Unjoined when Room is empty,
// Joined(Room) otherwise.
type State struct {
	SessionID string
	Room      string
}

// New returns the initial Unjoined state for a session.
func New(sessionID string) State {
	return State{SessionID: sessionID}
}

// Joined reports whether the session has joined a room.
func (s State) Joined() bool { return s.Room != "" }

// Action is a side effect requested by a transition.
type Action interface {
	isAction()
}

// Subscribe asks the caller to attach the session to Room.
type Subscribe struct {
	Room string
}

// Broadcast asks the caller to publish Message to Room.
type Broadcast struct {
	Room    string
	Message domain.ServerMessage
}

// CreateInvoice asks the caller to request a boost invoice.
type CreateInvoice struct {
	Room    string
	From    string
	Amount  uint64
	Message string
}

func (Subscribe) isAction()     {}
func (Broadcast) isAction()     {}
func (CreateInvoice) isAction() {}

// Apply runs one transition. On a rejection it returns the unchanged state,
// a nil action and an error wrapping ErrRejected. Any other error comes from
// the video lookup.
func (s State) Apply(ctx context.Context, in domain.Packet, videos VideoLookup) (State, Action, error) {
	if !s.Joined() {
		join, ok := in.(domain.Join)
		if !ok {
			return s, nil, ErrNotJoined
		}
		return s.join(ctx, join.Room, videos)
	}

	switch p := in.(type) {
	case domain.ClientMessage:
		if p.Message == "" {
			return s, nil, ErrEmptyMessage
		}
		return s, Broadcast{
			Room:    s.Room,
			Message: domain.ServerMessage{From: s.SessionID, Message: p.Message},
		}, nil
	case domain.GetInvoice:
		return s, CreateInvoice{Room: s.Room, From: s.SessionID, Amount: p.Amount, Message: p.Message}, nil
	case domain.Join:
		return s, nil, ErrAlreadyJoined
	default:
		return s, nil, ErrUnexpectedPacket
	}
}

func (s State) join(ctx context.Context, room string, videos VideoLookup) (State, Action, error) {
	if room == "" {
		return s, nil, ErrRoomNotFound
	}
	video, err := videos.Get(ctx, room)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s, nil, ErrRoomNotFound
		}
		return s, nil, fmt.Errorf("look up room %s: %w", room, err)
	}
	if !video.Joinable() {
		return s, nil, ErrRoomNotJoinable
	}

	next := s
	next.Room = room
	return next, Subscribe{Room: room}, nil
}
