package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"evslots/internal/domain"

	"github.com/rs/zerolog"
)

// Notifier delivers finished reports.
type Notifier interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// Reporter sends last month's report on the first day of every month.
type Reporter struct {
	exporter *Exporter
	notifier Notifier
	logger   zerolog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

var reportPrincipal = domain.Principal{ID: "monthly-report", Role: domain.RoleBackoffice}

func NewReporter(exporter *Exporter, notifier Notifier, logger *zerolog.Logger) *Reporter {
	return &Reporter{
		exporter: exporter,
		notifier: notifier,
		logger:   logger.With().Str("component", "audit").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the monthly schedule.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.wg.Add(1)
	go r.loop()
}

// Stop waits for the scheduler to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()
}

func (r *Reporter) loop() {
	defer r.wg.Done()

	next := nextFirstOfMonth(time.Now().UTC())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	r.logger.Info().Time("next", next).Msg("next report scheduled")

	for {
		select {
		case <-r.stopCh:
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			if err := r.SendMonth(ctx, time.Now().UTC().AddDate(0, -1, 0)); err != nil {
				r.logger.Error().Err(err).Msg("monthly report failed")
			}
			cancel()

			next = nextFirstOfMonth(time.Now().UTC())
			timer.Reset(time.Until(next))
			r.logger.Info().Time("next", next).Msg("next report scheduled")
		}
	}
}

// SendMonth exports the calendar month containing month and delivers it.
func (r *Reporter) SendMonth(ctx context.Context, month time.Time) error {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	var buf bytes.Buffer
	if err := r.exporter.Export(ctx, reportPrincipal, &buf, from, to); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	filename := ReportFilename(from)
	if err := r.notifier.SendDocument(ctx, filename, &buf, fmt.Sprintf("📊 Bookings %s", from.Format("January 2006"))); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	r.logger.Info().Str("filename", filename).Msg("report sent")
	return nil
}

func nextFirstOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, time.UTC)
}
