package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-broadcast/internal/audit"
	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
	"github.com/weiawesome/wes-io-broadcast/pkg/storage"
)

var (
	ErrVideoNotFound    = errors.New("video not found")
	ErrNotPublished     = errors.New("video is not published")
	ErrPlaybackDisabled = errors.New("vod storage is not configured")
)

// PlaybackSource is one variant a player can fetch.
type PlaybackSource struct {
	Height   int    `json:"height"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url"`
}

// ScheduleRequest creates a Scheduled video.
type ScheduleRequest struct {
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
	// StartTimestamp is in unix seconds; zero means now.
	StartTimestamp uint64 `json:"start_timestamp"`
}

// videoServiceImpl implements VideoService.
type videoServiceImpl struct {
	repo      repository.Repository[domain.Video]
	vod       storage.Storage
	urlExpiry time.Duration
	now       func() time.Time
}

// NewVideoService creates a new video service. vod may be nil, which
// disables Playback.
func NewVideoService(repo repository.Repository[domain.Video], vod storage.Storage, urlExpiry time.Duration) VideoService {
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}
	return &videoServiceImpl{repo: repo, vod: vod, urlExpiry: urlExpiry, now: time.Now}
}

func (s *videoServiceImpl) List(ctx context.Context) ([]domain.Video, error) {
	return s.repo.List(ctx)
}

func (s *videoServiceImpl) Get(ctx context.Context, id string) (domain.Video, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Video{}, ErrVideoNotFound
		}
		return domain.Video{}, err
	}
	return v, nil
}

// Schedule stores a new video under a generated stream key.
func (s *videoServiceImpl) Schedule(ctx context.Context, req ScheduleRequest) (domain.Video, error) {
	id, err := NewStreamKey()
	if err != nil {
		return domain.Video{}, err
	}
	start := req.StartTimestamp
	if start == 0 {
		start = uint64(s.now().Unix())
	}

	v := domain.Video{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Status:      domain.Scheduled{Timestamp: start},
	}
	if err := s.repo.Save(ctx, v); err != nil {
		return domain.Video{}, fmt.Errorf("save video: %w", err)
	}
	audit.Log(ctx, audit.ActionScheduleVideo, audit.ActorAPI, id, "video scheduled")
	return v, nil
}

// Playback returns fetchable URLs for the uploaded variants of a published
// video. Variants missing from storage are left out.
func (s *videoServiceImpl) Playback(ctx context.Context, id string) ([]PlaybackSource, error) {
	if s.vod == nil {
		return nil, ErrPlaybackDisabled
	}
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	published, ok := v.Status.(domain.Published)
	if !ok {
		return nil, ErrNotPublished
	}

	prefix := "vod/" + id + "/"
	objects, err := s.vod.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list vod objects: %w", err)
	}
	stored := make(map[string]struct{}, len(objects))
	for _, o := range objects {
		stored[o.Key] = struct{}{}
	}

	sources := make([]PlaybackSource, 0, len(published.Variants))
	for _, variant := range published.Variants {
		key := prefix + variant.Filename
		if _, ok := stored[key]; !ok {
			continue
		}
		url, err := s.vod.URL(ctx, key, s.urlExpiry)
		if err != nil {
			return nil, fmt.Errorf("url for %s: %w", key, err)
		}
		sources = append(sources, PlaybackSource{Height: variant.Height, MimeType: variant.MimeType, URL: url})
	}
	return sources, nil
}
