// Package notify pushes booking lifecycle news to station operators over
// Telegram.
package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	"evslots/internal/events"
	"evslots/internal/metrics"
	"evslots/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TelegramSender is the part of *tgbotapi.BotAPI the notifier needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends messages to every configured operator chat.
type Notifier struct {
	bot     TelegramSender
	chatIDs []int64
	limiter *rate.Limiter
	retry   RetryPolicy
	logger  zerolog.Logger
}

// NewTelegramNotifier connects to the Bot API with token.
func NewTelegramNotifier(token string, chatIDs []int64, logger *zerolog.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewNotifier(api, chatIDs, logger), nil
}

func NewNotifier(bot TelegramSender, chatIDs []int64, logger *zerolog.Logger) *Notifier {
	return &Notifier{
		bot:     bot,
		chatIDs: chatIDs,
		limiter: newSendLimiter(),
		retry:   DefaultRetryPolicy,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// HandleEvent is an events.EventHandler. Events nobody needs to act on are ignored.
func (n *Notifier) HandleEvent(ctx context.Context, e events.Event) error {
	text := FormatEvent(e)
	if text == "" {
		return nil
	}
	return n.Broadcast(ctx, text)
}

// Broadcast sends text to every operator chat and returns the last failure.
func (n *Notifier) Broadcast(ctx context.Context, text string) error {
	var lastErr error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.send(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send notification failed")
			metrics.IncNotification("error")
			lastErr = err
			continue
		}
		metrics.IncNotification("sent")
	}
	return lastErr
}

// SendDocument uploads a report to every operator chat.
func (n *Notifier) SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	var lastErr error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: content})
		doc.Caption = caption
		if err := n.send(ctx, doc); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("file", filename).Msg("send document failed")
			lastErr = err
		}
	}
	return lastErr
}

// FormatEvent renders an operator message, or "" for events that need none.
func FormatEvent(e events.Event) string {
	switch e.Type {
	case events.BookingCreated:
		return "🆕 New booking awaiting approval\n" + describe(e.Booking)
	case events.BookingRescheduled:
		return "🔁 Booking moved\n" + describe(e.Booking)
	case events.BookingCancelled:
		return "❌ Booking cancelled\n" + describe(e.Booking)
	case events.StationDeactivated:
		return fmt.Sprintf("⛔ Station %s no longer accepts bookings", e.StationID)
	case events.ScheduleChanged:
		dates := make([]string, 0, len(e.Dates))
		for _, d := range e.Dates {
			dates = append(dates, d.Format(model.DateLayout))
		}
		return fmt.Sprintf("🗓 Schedule of station %s changed for %s", e.StationID, strings.Join(dates, ", "))
	default:
		return ""
	}
}

func describe(b *model.Booking) string {
	if b == nil {
		return ""
	}
	return fmt.Sprintf("#%d at %s\n%s – %s UTC\nOwner: %s\nStatus: %s",
		b.ID, b.StationID,
		b.Start.UTC().Format("2006-01-02 15:04"), b.End.UTC().Format("15:04"),
		b.OwnerID, b.Status)
}
