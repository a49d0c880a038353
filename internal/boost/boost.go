// Package boost turns confirmed payments into emphasized chat messages.
package boost

import (
	"context"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
	"github.com/weiawesome/wes-io-broadcast/pkg/log"
	"github.com/weiawesome/wes-io-broadcast/pkg/pubsub"
)

// DurationForAmount maps a paid amount in satoshis to a display duration.
// Tiers are checked in order and the first match wins.
func DurationForAmount(amount uint64) uint64 {
	switch {
	case amount <= 1000:
		return 20
	case amount <= 10000:
		return 30
	case amount <= 25000:
		return 60
	case amount <= 50000:
		return 100
	default:
		return 120
	}
}

// Service handles boost invoices after they are created.
type Service struct {
	invoices repository.Repository[domain.BoostMessageInvoice]
	pub      pubsub.Publisher
}

// NewService creates a boost service.
func NewService(invoices repository.Repository[domain.BoostMessageInvoice], pub pubsub.Publisher) *Service {
	return &Service{invoices: invoices, pub: pub}
}

// Confirm consumes the invoice and publishes its message to the invoice's
// room. The invoice is taken atomically, so repeated or concurrent
// confirmations publish at most once. It reports whether a message was sent.
func (s *Service) Confirm(ctx context.Context, invoiceID string, amountSats uint64) (bool, error) {
	inv, err := s.invoices.Take(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("take invoice %s: %w", invoiceID, err)
	}

	payload, err := domain.EncodePacket(domain.ServerMessage{
		From:    inv.From,
		Message: inv.Message,
		Extra: &domain.MessageExtra{
			Amount:    amountSats,
			Timestamp: 0,
			Duration:  DurationForAmount(amountSats),
		},
	})
	if err != nil {
		return false, err
	}

	if err := s.pub.Publish(ctx, inv.Room, payload); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldInvoiceID, inv.ID).Str(log.FieldRoomID, inv.Room).Msg("boosted message lost after invoice was consumed")
		return false, fmt.Errorf("publish boost %s: %w", invoiceID, err)
	}
	return true, nil
}

// PurgeRoom deletes pending invoices of room and returns how many were removed.
func (s *Service) PurgeRoom(ctx context.Context, room string) (int, error) {
	all, err := s.invoices.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, inv := range all {
		if inv.Room != room {
			continue
		}
		if err := s.invoices.Delete(ctx, inv.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
