// Package reminder periodically nudges users who forgot to check out of a
// finished measurement or to check in when their machine is ready.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cryoqueue-backend/config"
	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/metrics"
	"cryoqueue-backend/internal/model"
	"cryoqueue-backend/internal/notification"
	"cryoqueue-backend/internal/store"
)

// Result counts the reminders one scan sent.
type Result struct {
	Checkout int
	Checkin  int
	Quiet    bool
}

// Scanner runs the two reminder scans on a fixed interval.
type Scanner struct {
	cfg      config.ReminderConfig
	store    store.Store
	policy   *notification.Policy
	delivery notification.Deliverer
	clock    clock.Clock
	loc      *time.Location
	log      zerolog.Logger
}

// New creates a Scanner. The timezone in cfg decides the quiet window.
func New(cfg config.ReminderConfig, st store.Store, policy *notification.Policy, d notification.Deliverer, c clock.Clock, log zerolog.Logger) (*Scanner, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid reminder timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.RepeatHours <= 0 {
		cfg.RepeatHours = 12
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Scanner{
		cfg:      cfg,
		store:    st,
		policy:   policy,
		delivery: d,
		clock:    c,
		loc:      loc,
		log:      log.With().Str("component", "reminder").Logger(),
	}, nil
}

// Run scans once immediately and then every configured interval until ctx
// is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info().Msg("reminder scanner is disabled")
		return
	}
	s.log.Info().Dur("interval", s.cfg.Interval).Str("timezone", s.loc.String()).Msg("starting reminder scanner")

	s.scan(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reminder scanner shutting down")
			return
		case <-timer.C:
			s.scan(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	res, err := s.ScanOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error().Err(err).Msg("reminder scan failed")
		return
	}
	if res.Checkout > 0 || res.Checkin > 0 {
		s.log.Info().Int("checkout", res.Checkout).Int("checkin", res.Checkin).Msg("reminders sent")
	}
}

// ScanOnce sends every due checkout and check-in reminder. Nothing is sent
// inside the quiet window.
func (s *Scanner) ScanOnce(ctx context.Context) (Result, error) {
	now := s.clock.Now()
	if s.quiet(now) {
		metrics.Reminders.WithLabelValues("all", "quiet").Inc()
		return Result{Quiet: true}, nil
	}

	var res Result
	var errs []error

	sent, err := s.sweep(ctx, "checkout", now, store.Store.DueCheckoutReminders, func(e *model.QueueEntry) (*time.Time, string, notification.Intent) {
		return e.LastReminderSentAt, "last_reminder_sent_at", notification.CheckoutReminder(e, nil)
	})
	res.Checkout = sent
	errs = append(errs, err)

	sent, err = s.sweep(ctx, "checkin", now, store.Store.DueCheckinReminders, func(e *model.QueueEntry) (*time.Time, string, notification.Intent) {
		return e.LastCheckinReminderSentAt, "last_checkin_reminder_sent_at", notification.CheckinReminder(e, nil)
	})
	res.Checkin = sent
	errs = append(errs, err)

	return res, errors.Join(errs...)
}

type dueFunc func(st store.Store, ctx context.Context, now time.Time) ([]model.QueueEntry, error)

// reminderFor returns the last send time, the column recording it and the
// notice of an entry.
type reminderFor func(e *model.QueueEntry) (*time.Time, string, notification.Intent)

// sweep locks the due rows, skipping those another scanner holds, and sends
// at most one reminder per entry per repeat period.
func (s *Scanner) sweep(ctx context.Context, kind string, now time.Time, due dueFunc, build reminderFor) (int, error) {
	var sent []model.Notification
	err := s.store.Transaction(ctx, func(tx store.Store) error {
		sent = sent[:0]
		entries, err := due(tx, ctx, now)
		if err != nil {
			return err
		}
		for i := range entries {
			e := &entries[i]
			last, column, in := build(e)
			if !s.repeatDue(last, now) {
				metrics.Reminders.WithLabelValues(kind, "too_soon").Inc()
				continue
			}
			if e.MachineNameText == "" {
				if m, err := tx.GetMachine(ctx, e.MachineID()); err == nil {
					e.MachineNameText = m.Name
					_, _, in = build(e)
				}
			}
			n, err := s.policy.Send(ctx, tx, in)
			if err != nil {
				return err
			}
			if err := tx.UpdateEntry(ctx, e.ID, map[string]any{column: now}); err != nil {
				return err
			}
			metrics.Reminders.WithLabelValues(kind, "sent").Inc()
			sent = append(sent, *n)
		}
		return nil
	})
	if err != nil {
		metrics.Reminders.WithLabelValues(kind, "error").Inc()
		return 0, fmt.Errorf("%s reminder scan: %w", kind, err)
	}
	for _, n := range sent {
		s.delivery.Deliver(n)
	}
	return len(sent), nil
}

func (s *Scanner) repeatDue(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= time.Duration(s.cfg.RepeatHours)*time.Hour
}

// quiet reports whether now falls in the configured quiet hours of the
// operating timezone. A window whose start is after its end wraps midnight.
func (s *Scanner) quiet(now time.Time) bool {
	start, end := s.cfg.QuietStartHour, s.cfg.QuietEndHour
	if start == end {
		return false
	}
	h := now.In(s.loc).Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}
