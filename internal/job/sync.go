// Package job runs the two scheduled entry points: the sync run (fetch,
// diff, notify, publish pages) and the daily reminder run.
package job

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"

	"calsync/internal/cdn"
	"calsync/internal/diff"
	"calsync/internal/ics"
	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/notify"
	"calsync/internal/paginate"
	"calsync/internal/store"
)

// Fetcher retrieves the raw feed body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (ics.FetchResult, error)
}

// SyncConfig holds the values a sync run reads from configuration.
type SyncConfig struct {
	CalendarLink  string
	EventsPerPage int
	Location      *time.Location

	NearTermMonths int
	HorizonMonths  int
}

// Syncer performs sync runs. Publisher and Invalidator may be nil, in
// which case notifications are dropped and no invalidation is requested.
type Syncer struct {
	Config      SyncConfig
	Fetcher     Fetcher
	Store       store.Store
	Publisher   notify.Publisher
	Invalidator cdn.Invalidator
	Clock       Clock
}

// Summary reports what a sync run did. It is returned even when the run
// ends with an aggregated error.
type Summary struct {
	RunID     string    `json:"run_id"`
	FetchTime time.Time `json:"fetch_time"`
	FromCache bool      `json:"from_cache"`
	Bootstrap bool      `json:"bootstrap"`

	EventsDetected int `json:"events_detected"`
	EventsSaved    int `json:"events_saved"`

	New        int      `json:"new"`
	Updated    int      `json:"updated"`
	Deleted    int      `json:"deleted"`
	Duplicates []string `json:"duplicates,omitempty"`
	Unchanged  bool     `json:"unchanged"`

	NotificationsPublished int `json:"notifications_published"`
	NotificationErrors     int `json:"notification_errors"`

	PagesDetected           int      `json:"pages_detected"`
	PagesUpdated            int      `json:"pages_updated"`
	PreviouslyExistingPages int      `json:"previously_existing_pages"`
	PagesToBeDeleted        int      `json:"pages_to_be_deleted"`
	PagesDeleted            int      `json:"pages_deleted"`
	DeletionErrors          []string `json:"deletion_errors,omitempty"`
}

// Run executes one sync. Configuration, fetch, parse, snapshot write and
// index write failures abort the run. Rejected baseline records, failed
// notifications, failed page writes and a failed invalidation are collected
// and returned together once every step has had its chance to run.
func (s *Syncer) Run(ctx context.Context) (*Summary, error) {
	if err := paginate.CheckPerPage(s.Config.EventsPerPage); err != nil {
		return nil, err
	}

	run := newRun(s.Clock)
	sum := &Summary{RunID: run.ID, FetchTime: run.FetchTime}
	appLog.Info("sync run started", "run_id", run.ID, "fetch_time", run.FetchTime)

	fetched, err := s.Fetcher.Fetch(ctx, s.Config.CalendarLink)
	if err != nil {
		return sum, err
	}
	sum.FromCache = fetched.FromCache

	cal, err := ics.Materialize(fetched.Body, run.FetchTime, ics.Options{
		Location:       s.Config.Location,
		NearTermMonths: s.Config.NearTermMonths,
		HorizonMonths:  s.Config.HorizonMonths,
	})
	if err != nil {
		return sum, err
	}

	snapshots := store.Snapshots{Store: s.Store}
	previous, rejected, err := snapshots.LoadEvents(ctx)
	if err != nil {
		var vErr *model.ValidationError
		switch {
		case errors.Is(err, store.ErrNotFound):
			appLog.Info("no previous snapshot, every event is new", "run_id", run.ID)
		case errors.As(err, &vErr):
			appLog.Warn("previous snapshot unreadable, every event is new", "run_id", run.ID, "error", err)
		default:
			return sum, err
		}
		sum.Bootstrap = true
		previous, rejected = nil, nil
	}

	res := diff.Compare(previous, cal.Events, rejected)
	sum.New, sum.Updated, sum.Deleted = len(res.New), len(res.Updated), len(res.Deleted)
	sum.Duplicates = res.Duplicates
	sum.Unchanged = res.Empty()
	if sum.Unchanged {
		appLog.Info("no calendar changes since previous snapshot", "run_id", run.ID)
	}

	if err := snapshots.SaveEvents(ctx, cal.Events); err != nil {
		return sum, err
	}

	var errs error
	errs = multierr.Append(errs, res.Err())

	if s.Publisher != nil {
		rep := notify.Dispatcher{Publisher: s.Publisher}.Dispatch(ctx, res)
		sum.NotificationsPublished = rep.Total()
		sum.NotificationErrors = len(rep.Errors)
		errs = multierr.Append(errs, rep.Err())
	}

	pub := paginate.Publisher{Store: s.Store}
	existing, err := pub.Existing(ctx)
	if err != nil {
		appLog.Warn("existing pages could not be listed", "run_id", run.ID, "error", err)
		sum.DeletionErrors = append(sum.DeletionErrors, err.Error())
		existing = nil
	}
	sum.PreviouslyExistingPages = len(existing)

	upcoming := cal.RecurringEvents
	sum.EventsDetected = len(upcoming)
	pages, err := paginate.Paginate(upcoming, s.Config.EventsPerPage, run.FetchTime, s.Config.CalendarLink)
	if err != nil {
		return sum, err
	}
	sum.PagesDetected = len(pages)

	prep, pageErr := pub.Publish(ctx, pages)
	sum.PagesUpdated = prep.PagesUpdated
	sum.EventsSaved = prep.EventsSaved
	errs = multierr.Append(errs, pageErr)

	idx, err := paginate.NewIndex(upcoming, s.Config.EventsPerPage, run.FetchTime, s.Config.CalendarLink)
	if err != nil {
		return sum, err
	}
	if err := pub.PublishIndex(ctx, idx); err != nil {
		return sum, multierr.Append(errs, err)
	}

	rrep := pub.Retract(ctx, len(pages), existing)
	sum.PagesToBeDeleted = len(rrep.Expired)
	sum.PagesDeleted = len(rrep.Deleted)
	for _, dErr := range rrep.Errors {
		sum.DeletionErrors = append(sum.DeletionErrors, dErr.Error())
	}

	if s.Invalidator != nil {
		if err := s.Invalidator.Invalidate(ctx, cdn.AllPaths); err != nil {
			appLog.Error("cache invalidation failed", err, "run_id", run.ID)
			errs = multierr.Append(errs, err)
		}
	}

	appLog.Info("sync run finished",
		"run_id", run.ID,
		"new", sum.New,
		"updated", sum.Updated,
		"deleted", sum.Deleted,
		"pages", sum.PagesDetected,
		"pages_deleted", sum.PagesDeleted,
		"errors", len(multierr.Errors(errs)),
	)
	return sum, errs
}
