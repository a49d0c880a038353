package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/weiawesome/wes-io-broadcast/internal/audit"
	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
	"github.com/weiawesome/wes-io-broadcast/internal/telemetry"
	"github.com/weiawesome/wes-io-broadcast/internal/transcode"
	"github.com/weiawesome/wes-io-broadcast/pkg/log"
	"github.com/weiawesome/wes-io-broadcast/pkg/storage"
)

// Config configures the Monitor.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	// Grace is the minimum live time before a stream can be considered ended.
	Grace time.Duration `mapstructure:"grace"`
	// Application is the ingest application whose streams are tracked.
	Application        string `mapstructure:"application"`
	PurgeInvoicesOnEnd bool   `mapstructure:"purge_invoices_on_end"`

	MaxAttempts   int           `mapstructure:"-"`
	MaxConcurrent int           `mapstructure:"-"`
	RetryDelay    time.Duration `mapstructure:"-"`
}

// DefaultConfig returns the stock monitor settings.
func DefaultConfig() Config {
	return Config{
		Interval:           5 * time.Second,
		Grace:              60 * time.Second,
		Application:        "src",
		PurgeInvoicesOnEnd: true,
		MaxAttempts:        3,
		MaxConcurrent:      1,
		RetryDelay:         10 * time.Second,
	}
}

// Telemetry reports ingest statistics.
type Telemetry interface {
	GetNewerThan(ctx context.Context, maxAge time.Duration) (*telemetry.Stat, error)
}

// Rooms counts local viewers and publishes to rooms.
type Rooms interface {
	SubscribedCount(topic string) int
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Transcoder produces the variants of a finished recording.
type Transcoder interface {
	Run(ctx context.Context, videoID string) (transcode.Result, error)
	OutputDir(videoID string) string
}

// InvoicePurger drops pending invoices of a room.
type InvoicePurger interface {
	PurgeRoom(ctx context.Context, room string) (int, error)
}

// Deps are the Monitor's collaborators. Invoices and VOD are optional.
type Deps struct {
	Videos     repository.Repository[domain.Video]
	Telemetry  Telemetry
	Rooms      Rooms
	Transcoder Transcoder
	Invoices   InvoicePurger
	VOD        storage.Storage
}

// Monitor reconciles ingest telemetry into Video state transitions and runs
// the transcoding of ended streams in the background.
type Monitor struct {
	Deps
	cfg Config
	now func() time.Time

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}

	taskCtx    context.Context
	cancelTask context.CancelFunc

	quit     chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewMonitor creates a Monitor. Zero config values fall back to DefaultConfig.
func NewMonitor(deps Deps, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.Application == "" {
		cfg.Application = def.Application
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		Deps:       deps,
		cfg:        cfg,
		now:        time.Now,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		inflight:   make(map[string]struct{}),
		taskCtx:    taskCtx,
		cancelTask: cancel,
		quit:       make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start resumes interrupted transcodes and launches the tick loop.
func (m *Monitor) Start(ctx context.Context) {
	m.taskCtx = log.WithLogger(m.taskCtx, log.Ctx(ctx))
	if err := m.Resume(ctx); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("monitor: failed to resume processing videos")
	}
	go m.run(ctx)
}

// Stop ends the tick loop and cancels running transcodes. Cancelled videos
// stay Processing and are resumed on the next Start. Call Done() to wait.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)
		m.cancelTask()
	})
}

// Done returns a channel that is closed when the loop and every background
// transcode have exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.doneCh
}

func (m *Monitor) run(ctx context.Context) {
	defer func() {
		m.cancelTask()
		m.wg.Wait()
		close(m.doneCh)
	}()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				l := log.Ctx(ctx)
				l.Error().Err(err).Msg("monitor: tick failed")
			}
		}
	}
}

// Tick runs one reconciliation pass over every Live video.
func (m *Monitor) Tick(ctx context.Context) error {
	stat, err := m.Telemetry.GetNewerThan(ctx, m.cfg.Interval)
	if err != nil {
		return fmt.Errorf("fetch telemetry: %w", err)
	}
	app := stat.Application(m.cfg.Application)

	videos, err := m.Videos.List(ctx)
	if err != nil {
		return fmt.Errorf("list videos: %w", err)
	}

	now := m.now()
	for _, v := range videos {
		live, ok := v.Status.(domain.Live)
		if !ok {
			continue
		}
		l := log.Ctx(ctx).With().Str(log.FieldVideoID, v.ID).Logger()

		viewers := m.Rooms.SubscribedCount(v.ID)
		if payload, err := domain.EncodePacket(domain.UpdateViewers{Viewers: viewers}); err == nil {
			if err := m.Rooms.Publish(ctx, v.ID, payload); err != nil {
				l.Warn().Err(err).Msg("monitor: failed to publish viewer count")
			}
		}

		elapsed := now.Sub(time.Unix(int64(live.StartedTimestamp), 0))
		if elapsed <= m.cfg.Grace {
			continue
		}
		stream := app.Stream(v.ID)
		if stream != nil && stream.BWIn > 0 {
			continue
		}

		reason := "no inbound bandwidth"
		if stream == nil {
			reason = "absent from telemetry"
		}
		if err := m.end(log.WithLogger(ctx, l), v, live, reason); err != nil {
			l.Error().Err(err).Msg("monitor: failed to end stream")
		}
	}
	return nil
}

// end moves v to Processing and hands it to the pipeline.
func (m *Monitor) end(ctx context.Context, v domain.Video, live domain.Live, reason string) error {
	v.Status = domain.Processing{}
	if err := m.Videos.Save(ctx, v); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	audit.LogWithDetail(ctx, audit.ActionStreamEnded, audit.ActorMonitor, v.ID, reason, "stream ended")

	if m.Invoices != nil && m.cfg.PurgeInvoicesOnEnd {
		n, err := m.Invoices.PurgeRoom(ctx, v.ID)
		l := log.Ctx(ctx)
		if err != nil {
			l.Warn().Err(err).Msg("monitor: failed to purge pending invoices")
		} else if n > 0 {
			l.Info().Int("count", n).Msg("monitor: purged pending invoices")
		}
	}

	m.handoff(v.ID, live.StartedTimestamp)
	return nil
}

// Resume hands every video left in Processing back to the pipeline.
func (m *Monitor) Resume(ctx context.Context) error {
	videos, err := m.Videos.List(ctx)
	if err != nil {
		return fmt.Errorf("list videos: %w", err)
	}
	for _, v := range videos {
		if _, ok := v.Status.(domain.Processing); ok {
			l := log.Ctx(ctx)
			l.Info().Str(log.FieldVideoID, v.ID).Msg("monitor: resuming transcode")
			m.handoff(v.ID, uint64(m.now().Unix()))
		}
	}
	return nil
}

// handoff starts a background transcode of id unless one is already running.
func (m *Monitor) handoff(id string, started uint64) {
	m.mu.Lock()
	if _, busy := m.inflight[id]; busy {
		m.mu.Unlock()
		return
	}
	m.inflight[id] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.inflight, id)
			m.mu.Unlock()
		}()

		ctx := log.With(m.taskCtx, log.FieldVideoID, id)
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer m.sem.Release(1)

		m.process(ctx, id, started)
	}()
}

// process runs the pipeline with bounded retries and records the outcome.
func (m *Monitor) process(ctx context.Context, id string, started uint64) {
	l := log.Ctx(ctx)

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				l.Info().Msg("monitor: transcode interrupted, will resume on restart")
				return
			case <-time.After(m.cfg.RetryDelay * time.Duration(attempt-1)):
			}
		}

		res, err := m.Transcoder.Run(ctx, id)
		if err == nil {
			err = m.upload(ctx, id, res.Variants)
		}
		if err == nil {
			m.publish(ctx, id, started, res)
			return
		}
		if ctx.Err() != nil {
			l.Info().Err(err).Msg("monitor: transcode interrupted, will resume on restart")
			return
		}

		lastErr = err
		l.Warn().Err(err).Int(log.FieldAttempt, attempt).Msg("monitor: transcode attempt failed")
		if errors.Is(err, transcode.ErrMissingInput) {
			break
		}
	}
	m.fail(ctx, id, lastErr)
}

// upload copies produced variants to the VOD store under vod/<id>/.
func (m *Monitor) upload(ctx context.Context, id string, variants []domain.Variant) error {
	if m.VOD == nil {
		return nil
	}
	dir := m.Transcoder.OutputDir(id)
	for _, v := range variants {
		key := "vod/" + id + "/" + v.Filename
		exists, err := m.VOD.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check %s: %w", key, err)
		}
		if exists {
			continue
		}
		if err := m.uploadFile(ctx, key, filepath.Join(dir, v.Filename), v.MimeType); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) uploadFile(ctx context.Context, key, path, mime string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := m.VOD.Write(ctx, key, f, info.Size(), mime); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (m *Monitor) publish(ctx context.Context, id string, started uint64, res transcode.Result) {
	l := log.Ctx(ctx)
	v, err := m.Videos.Get(ctx, id)
	if err != nil {
		l.Error().Err(err).Msg("monitor: failed to load video after transcode")
		return
	}
	v.Status = domain.Published{
		Timestamp: started,
		Duration:  res.Duration,
		Views:     0,
		Variants:  res.Variants,
	}
	if err := m.Videos.Save(ctx, v); err != nil {
		l.Error().Err(err).Msg("monitor: failed to save published video")
		return
	}
	audit.LogWithDetail(ctx, audit.ActionPublished, audit.ActorMonitor, id,
		fmt.Sprintf("%d variants", len(res.Variants)), "video published")
}

func (m *Monitor) fail(ctx context.Context, id string, cause error) {
	l := log.Ctx(ctx)
	v, err := m.Videos.Get(ctx, id)
	if err != nil {
		l.Error().Err(err).Msg("monitor: failed to load video after failed transcode")
		return
	}
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	if m.VOD != nil {
		if err := m.VOD.DeletePrefix(ctx, "vod/"+id+"/"); err != nil {
			l.Warn().Err(err).Msg("monitor: failed to remove partial vod upload")
		}
	}

	v.Status = domain.Failed{Timestamp: uint64(m.now().Unix()), Reason: reason}
	if err := m.Videos.Save(ctx, v); err != nil {
		l.Error().Err(err).Msg("monitor: failed to save failed video")
		return
	}
	audit.LogWithDetail(ctx, audit.ActionFailed, audit.ActorMonitor, id, reason, "video transcode failed")
}
