// Package lifecycle drives a Video through its states: the ingest callback
// moves it from Scheduled to Live, and the Monitor moves it from Live to
// Processing and on to Published or Failed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-broadcast/internal/audit"
	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
)

var (
	// ErrVideoNotFound means no video exists for the stream name.
	ErrVideoNotFound = errors.New("video not found")
	// ErrNotAcceptable means the video exists but is not Scheduled.
	ErrNotAcceptable = errors.New("video not in an acceptable state")
)

// Ingest handles callbacks from the ingest server.
type Ingest struct {
	videos repository.Repository[domain.Video]
	now    func() time.Time
}

// NewIngest creates an ingest handler.
func NewIngest(videos repository.Repository[domain.Video]) *Ingest {
	return &Ingest{videos: videos, now: time.Now}
}

// Published marks the video named by the stream key as Live.
func (i *Ingest) Published(ctx context.Context, name string) (domain.Video, error) {
	v, err := i.videos.Get(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Video{}, fmt.Errorf("%w: %s", ErrVideoNotFound, name)
		}
		return domain.Video{}, fmt.Errorf("get video %s: %w", name, err)
	}
	if _, ok := v.Status.(domain.Scheduled); !ok {
		return domain.Video{}, fmt.Errorf("%w: %s is %s", ErrNotAcceptable, name, domain.StatusName(v.Status))
	}

	v.Status = domain.Live{StartedTimestamp: uint64(i.now().Unix()), Viewers: 0}
	if err := i.videos.Save(ctx, v); err != nil {
		return domain.Video{}, fmt.Errorf("save video %s: %w", name, err)
	}
	audit.Log(ctx, audit.ActionStreamLive, audit.ActorIngest, v.ID, "stream went live")
	return v, nil
}
