// Package telemetry polls ingest statistics from an nginx-rtmp stat endpoint.
package telemetry

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-broadcast/pkg/log"
)

var (
	// ErrUnavailable means the stat endpoint could not be reached or answered
	// with a non-2xx status.
	ErrUnavailable = errors.New("telemetry unavailable")
	// ErrMalformed means the endpoint answered with a document that does not parse.
	ErrMalformed = errors.New("malformed telemetry")
)

// Config configures the stat client.
type Config struct {
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// Client fetches and caches the stat document.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	last      *Stat
	fetchedAt time.Time
}

// NewClient creates a stat client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient, now: time.Now}
}

// GetNewerThan returns the cached document if it is at most maxAge old and
// refreshes it otherwise. Concurrent refreshes share one request.
func (c *Client) GetNewerThan(ctx context.Context, maxAge time.Duration) (*Stat, error) {
	c.mu.RLock()
	last, at := c.last, c.fetchedAt
	c.mu.RUnlock()

	if last != nil && c.now().Sub(at) <= maxAge {
		return last, nil
	}

	v, err, _ := c.group.Do("stat", func() (interface{}, error) {
		return c.Update(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Stat), nil
}

// Update fetches a fresh document, retrying transport failures with a
// linearly growing delay. Malformed documents are not retried.
func (c *Client) Update(ctx context.Context) (*Stat, error) {
	l := log.Ctx(ctx)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		stat, err := c.fetch(ctx)
		if err == nil {
			c.mu.Lock()
			c.last, c.fetchedAt = stat, c.now()
			c.mu.Unlock()
			return stat, nil
		}
		if errors.Is(err, ErrMalformed) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		l.Warn().Err(err).Int(log.FieldAttempt, attempt+1).Msg("telemetry fetch failed")
	}
	return nil, lastErr
}

func (c *Client) fetch(ctx context.Context) (*Stat, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return Parse(body)
}

// Parse decodes a stat document.
func Parse(data []byte) (*Stat, error) {
	var stat Stat
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&stat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &stat, nil
}
