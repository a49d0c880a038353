// Package payment talks to a BTCPay Server (BitPay-compatible invoice API)
// and interprets its webhook notifications.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// ErrInvoiceRejected is returned when the server answers with a non-2xx status.
var ErrInvoiceRejected = errors.New("invoice request rejected")

const satsPerBTC = 100_000_000

// Invoice is the part of a created invoice the platform uses.
type Invoice struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// InvoiceCreator creates invoices for an amount in satoshis. notifyURL
// receives the processor's status webhooks.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, amountSats uint64, notifyURL string) (Invoice, error)
}

// Config configures the BTCPay client.
type Config struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Currency   string        `mapstructure:"currency"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Client is a BTCPay legacy API client.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Currency == "" {
		cfg.Currency = "BTC"
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type createInvoiceRequest struct {
	Price                 json.Number `json:"price"`
	Currency              string      `json:"currency"`
	NotificationURL       string      `json:"notificationURL,omitempty"`
	FullNotifications     bool        `json:"fullNotifications"`
	ExtendedNotifications bool        `json:"extendedNotifications"`
}

type createInvoiceResponse struct {
	Data Invoice `json:"data"`
}

// CreateInvoice requests an invoice priced at amountSats. It is not retried:
// a retry after a lost response would create a second invoice.
func (c *Client) CreateInvoice(ctx context.Context, amountSats uint64, notifyURL string) (Invoice, error) {
	if notifyURL == "" {
		notifyURL = c.cfg.WebhookURL
	}
	body, err := json.Marshal(createInvoiceRequest{
		Price:                 json.Number(FormatBTC(amountSats)),
		Currency:              c.cfg.Currency,
		NotificationURL:       notifyURL,
		FullNotifications:     true,
		ExtendedNotifications: true,
	})
	if err != nil {
		return Invoice{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.cfg.URL, "/")+"/invoices", bytes.NewReader(body))
	if err != nil {
		return Invoice{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Accept-Version", "2.0.0")
	req.SetBasicAuth(c.cfg.APIKey, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Invoice{}, fmt.Errorf("%w: status %d: %s", ErrInvoiceRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out createInvoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Invoice{}, fmt.Errorf("decode invoice: %w", err)
	}
	if out.Data.ID == "" {
		return Invoice{}, fmt.Errorf("%w: response has no invoice id", ErrInvoiceRejected)
	}
	return out.Data, nil
}

// FormatBTC renders satoshis as an exact decimal BTC amount.
func FormatBTC(sats uint64) string {
	return fmt.Sprintf("%d.%08d", sats/satsPerBTC, sats%satsPerBTC)
}

// ParseBTC converts a decimal BTC string into satoshis, truncating any
// sub-satoshi remainder. It never goes through floating point.
func ParseBTC(s string) (uint64, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return 0, fmt.Errorf("invalid btc amount %q", s)
	}
	if r.Sign() < 0 {
		return 0, fmt.Errorf("negative btc amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt64(satsPerBTC))
	sats := new(big.Int).Quo(r.Num(), r.Denom())
	if !sats.IsUint64() {
		return 0, fmt.Errorf("btc amount %q out of range", s)
	}
	return sats.Uint64(), nil
}
