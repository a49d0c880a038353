package payment

import "strings"

// Webhook is an invoice status notification.
type Webhook struct {
	Event struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"event"`
	Data struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		BTCPaid string `json:"btcPaid"`
	} `json:"data"`
}

// Settled reports whether the invoice status means the payment went through.
func (w Webhook) Settled() bool {
	switch strings.ToLower(w.Data.Status) {
	case "paid", "confirmed", "complete", "completed":
		return true
	default:
		return false
	}
}

// PaidSats returns the paid amount in satoshis. An empty amount counts as zero.
func (w Webhook) PaidSats() (uint64, error) {
	if strings.TrimSpace(w.Data.BTCPaid) == "" {
		return 0, nil
	}
	return ParseBTC(w.Data.BTCPaid)
}
