package service

import (
	"context"

	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/multiplexer"
)

// Conn is the outbound side of a realtime connection.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Rooms is the multiplexer surface sessions use.
type Rooms interface {
	Subscribe(consumerID, topic string) *multiplexer.Queue
	Remove(consumerID string)
	Publish(ctx context.Context, topic string, payload []byte) error
}

// VideoService manages the video catalogue.
type VideoService interface {
	List(ctx context.Context) ([]domain.Video, error)
	Get(ctx context.Context, id string) (domain.Video, error)
	Schedule(ctx context.Context, req ScheduleRequest) (domain.Video, error)
	Playback(ctx context.Context, id string) ([]PlaybackSource, error)
}
