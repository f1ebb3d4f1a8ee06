package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// RetryPolicy controls how often a failed Telegram call is repeated.
type RetryPolicy struct {
	MaxRetries int
	Delays     []time.Duration
}

// DefaultRetryPolicy waits 1s, 5s and 30s between attempts.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	Delays:     []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
}

// Telegram allows about 30 messages per second per bot.
const (
	sendRate  = 20
	sendBurst = 30
)

func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < len(p.Delays) {
		return p.Delays[attempt]
	}
	return p.Delays[len(p.Delays)-1]
}

// WithRetry overrides the retry policy.
func (n *Notifier) WithRetry(p RetryPolicy) *Notifier {
	n.retry = p
	return n
}

// send pushes one message through the rate limiter. Flood-control replies
// are retried after the delay Telegram asks for. A blocked bot or a
// malformed request is not retried.
func (n *Notifier) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.retry.MaxRetries; attempt++ {
		_, err := n.bot.Send(c)
		if err == nil {
			return nil
		}
		lastErr = err

		wait := n.retry.delay(attempt)
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case http.StatusTooManyRequests:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
				n.logger.Info().Dur("retry_after", wait).Int("attempt", attempt).Msg("rate limited by Telegram")
			case http.StatusForbidden, http.StatusBadRequest:
				return err
			}
		}
		if attempt == n.retry.MaxRetries {
			break
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func newSendLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(sendRate), sendBurst)
}
