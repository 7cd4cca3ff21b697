package job

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/notify"
	"calsync/internal/paginate"
	"calsync/internal/store"
)

// Reminder announces the published upcoming events that start tomorrow.
type Reminder struct {
	Store     store.Store
	Publisher notify.Publisher
	// Location decides what "tomorrow" is. Nil means UTC.
	Location *time.Location
	Clock    Clock
}

// ReminderSummary reports what a reminder run did.
type ReminderSummary struct {
	RunID    string   `json:"run_id"`
	Skipped  bool     `json:"skipped"`
	Checked  int      `json:"checked"`
	Reminded []string `json:"reminded,omitempty"`
	Errors   int      `json:"errors"`
}

// Run loads index.json and publishes one reminder per event starting
// tomorrow in Location. A missing index skips the run without error.
func (r *Reminder) Run(ctx context.Context) (*ReminderSummary, error) {
	run := newRun(r.Clock)
	sum := &ReminderSummary{RunID: run.ID}

	events, rejected, err := paginate.LoadUpcoming(ctx, r.Store)
	if errors.Is(err, store.ErrNotFound) {
		appLog.Info("no published index yet, reminder skipped", "run_id", run.ID)
		sum.Skipped = true
		return sum, nil
	}
	if err != nil {
		return sum, err
	}
	sum.Checked = len(events)

	var errs error
	for _, rej := range rejected {
		appLog.Warn("upcoming record skipped", "run_id", run.ID, "index", rej.Index, "uid", rej.UID, "error", rej.Err)
		errs = multierr.Append(errs, rej)
	}

	due := StartingTomorrow(events, run.FetchTime, r.Location)
	for _, e := range due {
		sum.Reminded = append(sum.Reminded, e.UID)
	}

	if len(due) > 0 && r.Publisher != nil {
		rep := notify.Dispatcher{Publisher: r.Publisher}.Remind(ctx, due)
		sum.Errors = len(rep.Errors)
		errs = multierr.Append(errs, rep.Err())
	}

	appLog.Info("reminder run finished", "run_id", run.ID, "checked", sum.Checked, "reminded", len(due))
	return sum, errs
}

// StartingTomorrow returns the events whose start date in loc is the day
// after now's date in loc.
func StartingTomorrow(events []model.CalendarEvent, now time.Time, loc *time.Location) []model.CalendarEvent {
	if loc == nil {
		loc = time.UTC
	}
	ty, tm, td := now.In(loc).AddDate(0, 0, 1).Date()

	var out []model.CalendarEvent
	for _, e := range events {
		y, m, d := e.Start.In(loc).Date()
		if y == ty && m == tm && d == td {
			out = append(out, e)
		}
	}
	return out
}
