package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"evslots/internal/domain"
	"evslots/internal/events"
	"evslots/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

type stubLister struct {
	bookings []model.Booking
	filter   model.BookingFilter
}

func (s *stubLister) ListBookings(_ context.Context, f model.BookingFilter) ([]model.Booking, error) {
	s.filter = f
	return s.bookings, nil
}

func booking() *model.Booking {
	return &model.Booking{
		ID: 42, OwnerID: "owner-1", StationID: "st-1",
		Start:  time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		End:    time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC),
		Status: model.StatusPending,
	}
}

func TestHandleEvent_BroadcastsToEveryChat(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && (msg.ChatID == 100 || msg.ChatID == 200)
	})).Return(nil).Twice()

	logger := zerolog.Nop()
	n := NewNotifier(sender, []int64{100, 200}, &logger)

	err := n.HandleEvent(context.Background(), events.BookingEvent(events.BookingCreated, booking(), domain.Principal{ID: "owner-1"}))
	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestHandleEvent_IgnoredTypes(t *testing.T) {
	sender := new(mockSender)
	logger := zerolog.Nop()
	n := NewNotifier(sender, []int64{100}, &logger)

	err := n.HandleEvent(context.Background(), events.BookingEvent(events.BookingApproved, booking(), domain.Principal{}))
	require.NoError(t, err)
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestBroadcast_ReportsFailure(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.Anything).Return(errors.New("blocked by user")).Once()
	sender.On("Send", mock.Anything).Return(nil).Once()

	logger := zerolog.Nop()
	n := NewNotifier(sender, []int64{1, 2}, &logger).WithRetry(RetryPolicy{})

	err := n.Broadcast(context.Background(), "hello")
	assert.EqualError(t, err, "blocked by user")
	sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestSend_RetriesFloodControl(t *testing.T) {
	sender := new(mockSender)
	flood := &tgbotapi.Error{Code: 429, Message: "Too Many Requests"}
	sender.On("Send", mock.Anything).Return(flood).Once()
	sender.On("Send", mock.Anything).Return(nil).Once()

	logger := zerolog.Nop()
	n := NewNotifier(sender, []int64{1}, &logger).
		WithRetry(RetryPolicy{MaxRetries: 2, Delays: []time.Duration{time.Millisecond}})

	require.NoError(t, n.Broadcast(context.Background(), "hello"))
	sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestSend_GivesUp(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		calls int
	}{
		{"blocked", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked"}, 1},
		{"bad request", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, 1},
		{"network", errors.New("connection reset"), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := new(mockSender)
			sender.On("Send", mock.Anything).Return(tt.err)

			logger := zerolog.Nop()
			n := NewNotifier(sender, []int64{1}, &logger).
				WithRetry(RetryPolicy{MaxRetries: 2, Delays: []time.Duration{time.Millisecond}})

			assert.Error(t, n.Broadcast(context.Background(), "hello"))
			sender.AssertNumberOfCalls(t, "Send", tt.calls)
		})
	}
}

func TestSendDocument(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		doc, ok := c.(tgbotapi.DocumentConfig)
		return ok && doc.Caption == "March report"
	})).Return(nil).Once()

	logger := zerolog.Nop()
	n := NewNotifier(sender, []int64{7}, &logger)
	require.NoError(t, n.SendDocument(context.Background(), "bookings.xlsx", bytes.NewReader([]byte("xlsx")), "March report"))
	sender.AssertExpectations(t)
}

func TestFormatEvent(t *testing.T) {
	text := FormatEvent(events.BookingEvent(events.BookingCancelled, booking(), domain.Principal{}))
	assert.Contains(t, text, "#42 at st-1")
	assert.Contains(t, text, "2026-03-03 10:00 – 12:00 UTC")

	text = FormatEvent(events.Event{Type: events.ScheduleChanged, StationID: "st-1", Dates: []time.Time{time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)}})
	assert.Contains(t, text, "2026-03-05")

	assert.Empty(t, FormatEvent(events.Event{Type: events.BookingCompleted}))
}

func TestSendPendingDigest(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	started := booking()
	started.ID = 1
	started.Start = now.Add(-time.Hour)
	lister := &stubLister{bookings: []model.Booking{*started, *booking()}}

	var sent string
	sender := new(mockSender)
	sender.On("Send", mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(0).(tgbotapi.MessageConfig).Text
	}).Return(nil).Once()

	logger := zerolog.Nop()
	n := NewNotifier(sender, []int64{1}, &logger)
	require.NoError(t, n.SendPendingDigest(context.Background(), lister, now))

	assert.Equal(t, model.StatusPending, lister.filter.Status)
	assert.True(t, lister.filter.To.Equal(now.Add(24*time.Hour)))
	assert.Contains(t, sent, "1 bookings")
	assert.Contains(t, sent, "#42")
	assert.NotContains(t, sent, "#1 ")
}

func TestSendPendingDigest_NothingPending(t *testing.T) {
	sender := new(mockSender)
	logger := zerolog.Nop()
	n := NewNotifier(sender, []int64{1}, &logger)

	require.NoError(t, n.SendPendingDigest(context.Background(), &stubLister{}, time.Now()))
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestTimeUntilNextHour(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Minute, timeUntilNextHour(now, 10))
	assert.Equal(t, 23*time.Hour+30*time.Minute, timeUntilNextHour(now, 9))
}
