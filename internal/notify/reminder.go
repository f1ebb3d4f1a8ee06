package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evslots/internal/model"
)

// PendingLister finds bookings that still wait for approval.
type PendingLister interface {
	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error)
}

// StartPendingDigest sends operators a daily list of Pending bookings that
// start within the next day. The first digest goes out at hour:00 UTC.
func (n *Notifier) StartPendingDigest(ctx context.Context, store PendingLister, hour int) {
	go func() {
		timer := time.NewTimer(timeUntilNextHour(time.Now().UTC(), hour))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if err := n.SendPendingDigest(ctx, store, time.Now().UTC()); err != nil {
					n.logger.Error().Err(err).Msg("pending digest failed")
				}
				timer.Reset(24 * time.Hour)
			}
		}
	}()
}

// SendPendingDigest sends one digest for bookings starting in [now, now+24h).
func (n *Notifier) SendPendingDigest(ctx context.Context, store PendingLister, now time.Time) error {
	pending, err := store.ListBookings(ctx, model.BookingFilter{
		Status: model.StatusPending,
		From:   now,
		To:     now.Add(24 * time.Hour),
	})
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	var upcoming []model.Booking
	for _, b := range pending {
		if !b.Start.Before(now) {
			upcoming = append(upcoming, b)
		}
	}
	if len(upcoming) == 0 {
		return nil
	}
	return n.Broadcast(ctx, formatDigest(upcoming))
}

func formatDigest(bookings []model.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⏳ %d bookings starting within 24h still need approval:\n", len(bookings))
	for _, b := range bookings {
		fmt.Fprintf(&sb, "• #%d %s %s–%s UTC (%s)\n",
			b.ID, b.StationID, b.Start.Format("01-02 15:04"), b.End.Format("15:04"), b.OwnerID)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func timeUntilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
