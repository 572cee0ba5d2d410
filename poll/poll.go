// Package poll runs the scrape cycle: fetch each weekday page, detect which
// timetable rows are new for which subscriber, deliver each one exactly once,
// and persist the delivered-state bookkeeping.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"vplan-notifier/pkg/timetable"
)

// Fetcher downloads and parses weekday pages.
type Fetcher interface {
	Fetch(ctx context.Context, weekday string) ([]byte, error)
}

// Parser turns raw page bytes into a day plan.
type Parser func(body []byte, weekday string) (*timetable.DayPlan, error)

// SubscriberStore supplies the subscription snapshot for a cycle.
type SubscriberStore interface {
	Snapshot(ctx context.Context) ([]timetable.Subscriber, error)
}

// StateStore persists the per-weekday scrape state.
type StateStore interface {
	Load(ctx context.Context) (map[string]*timetable.DayState, error)
	Save(ctx context.Context, state map[string]*timetable.DayState) error
}

// Notifier delivers one notification, or fails without sending anything.
type Notifier interface {
	Dispatch(ctx context.Context, recipientID string, row *timetable.Row) error
}

// Monitor is the change-detection engine.
type Monitor struct {
	fetcher  Fetcher
	parse    Parser
	subs     SubscriberStore
	states   StateStore
	notifier Notifier
	logger   *slog.Logger
	mu       sync.Mutex // one cycle in flight at a time
}

// New creates a monitor.
func New(fetcher Fetcher, parse Parser, subs SubscriberStore, states StateStore, notifier Notifier, logger *slog.Logger) *Monitor {
	return &Monitor{
		fetcher:  fetcher,
		parse:    parse,
		subs:     subs,
		states:   states,
		notifier: notifier,
		logger:   logger,
	}
}

// CheckAll runs one full scrape cycle over all weekdays. The scheduled timer
// and the manual trigger share this entry point; the lock makes them mutually
// exclusive. Per-weekday failures are contained, and the state document is
// written once at the end if anything changed.
func (m *Monitor) CheckAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.states.Load(ctx)
	if err != nil {
		return fmt.Errorf("load scrape state: %w", err)
	}

	// One consistent snapshot per cycle: subscription changes made while the
	// cycle runs are picked up next time.
	subs, err := m.subs.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot subscribers: %w", err)
	}

	m.logger.Info("Starting scrape cycle", "subscribers", len(subs))

	dirty := false
	for _, weekday := range timetable.Weekdays {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping scrape cycle", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		if m.checkDay(ctx, weekday, state, subs) {
			dirty = true
		}
	}

	if dirty {
		if err := m.states.Save(ctx, state); err != nil {
			// Delivered fingerprints are lost for this cycle; the affected
			// notifications will be re-sent next cycle (at-least-once).
			return fmt.Errorf("save scrape state: %w", err)
		}
	}

	m.logger.Info("Scrape cycle completed", "state_changed", dirty)
	return nil
}

// checkDay processes one weekday and reports whether its state changed.
// All failures are logged and contained here; a broken weekday never stops
// the rest of the cycle.
func (m *Monitor) checkDay(ctx context.Context, weekday string, state map[string]*timetable.DayState, subs []timetable.Subscriber) bool {
	body, err := m.fetcher.Fetch(ctx, weekday)
	if err != nil {
		m.logger.Warn("Fetch failed, skipping weekday", "weekday", weekday, "error", err)
		return false
	}
	fingerprint := timetable.Fingerprint(body)

	plan, err := m.parse(body, weekday)
	if err != nil {
		m.logger.Warn("Parse failed, skipping weekday", "weekday", weekday, "error", err)
		return false
	}

	day := state[weekday]
	if day == nil {
		day = timetable.NewDayState()
		state[weekday] = day
	}

	dirty := false

	// A new schedule date voids all delivered bookkeeping for this weekday:
	// the page now describes a different day.
	if day.ScheduleDate != plan.Date {
		m.logger.Info("Schedule date changed, clearing delivered set",
			"weekday", weekday, "old_date", day.ScheduleDate, "new_date", plan.Date)
		day.Delivered = make(map[string]bool)
		day.ScheduleDate = plan.Date
		dirty = true
	}

	// Expansion runs even when the page content is unchanged, so new
	// subscriptions and resets pick up currently displayed rows.
	for _, sub := range subs {
		for _, class := range sub.Classes {
			for _, row := range plan.ForClass(class) {
				caption := row.Caption()
				fp := timetable.NotificationFingerprint(sub.ID, &row, caption, sub.Version)
				if day.Delivered[fp] {
					continue
				}

				if err := m.notifier.Dispatch(ctx, sub.ID, &row); err != nil {
					m.logger.Warn("Notification failed, will retry next cycle",
						"weekday", weekday, "recipient", sub.ID, "class", class,
						"occurrence", row.Occurrence, "error", err)
					continue
				}

				day.Delivered[fp] = true
				dirty = true
			}
		}
	}

	// Advance the content baseline even when no subscriber was affected.
	if day.ContentFingerprint != fingerprint {
		day.ContentFingerprint = fingerprint
		dirty = true
	}

	return dirty
}
