package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInvoiceSendsBTCPrice(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices", r.URL.Path)
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "secret", user)

		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		require.NoError(t, dec.Decode(&got))
		w.Write([]byte(`{"data":{"id":"inv-1","url":"https://pay/i/inv-1","status":"new"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL + "/", APIKey: "secret", WebhookURL: "https://example/btcpay_webhook"}, srv.Client())
	inv, err := c.CreateInvoice(context.Background(), 5000, "")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", inv.ID)

	assert.Equal(t, json.Number("0.00005000"), got["price"])
	assert.Equal(t, "BTC", got["currency"])
	assert.Equal(t, "https://example/btcpay_webhook", got["notificationURL"])
	assert.Equal(t, true, got["fullNotifications"])
	assert.Equal(t, true, got["extendedNotifications"])
}

func TestCreateInvoiceRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(Config{URL: srv.URL}, srv.Client()).CreateInvoice(context.Background(), 1, "cb")
	assert.ErrorIs(t, err, ErrInvoiceRejected)
}

func TestParseBTC(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0.00005", 5000},
		{"0.00005000", 5000},
		{"1", 100_000_000},
		{"0.000000019", 1},
		{"0.1", 10_000_000},
		{"0", 0},
	}
	for _, tt := range tests {
		got, err := ParseBTC(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "abc", "-1"} {
		_, err := ParseBTC(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatBTC(t *testing.T) {
	assert.Equal(t, "0.00005000", FormatBTC(5000))
	assert.Equal(t, "1.50000000", FormatBTC(150_000_000))
	assert.Equal(t, "0.00000000", FormatBTC(0))
}

func TestWebhookSettled(t *testing.T) {
	for status, want := range map[string]bool{
		"paid": true, "Confirmed": true, "complete": true, "completed": true,
		"new": false, "expired": false, "invalid": false,
	} {
		var w Webhook
		w.Data.Status = status
		assert.Equal(t, want, w.Settled(), status)
	}
}
