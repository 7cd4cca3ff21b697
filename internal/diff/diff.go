// Package diff classifies the events of two snapshots as new, updated or
// deleted.
package diff

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

// ErrMissingUID is recorded for events that cannot be keyed.
var ErrMissingUID = errors.New("event has no uid")

// Change pairs the stored and the fetched version of an updated event.
type Change struct {
	Old model.CalendarEvent
	New model.CalendarEvent
}

// Result is the classification of one comparison. The three classes are
// disjoint and each lists uids in first-seen order of its side.
type Result struct {
	New     []model.CalendarEvent
	Updated []Change
	Deleted []model.CalendarEvent

	// Errors holds per-item failures. They never stop classification of
	// the remaining items.
	Errors []error
	// Duplicates lists uids that occurred more than once on either side.
	Duplicates []string
}

// Err aggregates Errors, or returns nil.
func (r *Result) Err() error {
	return multierr.Combine(r.Errors...)
}

// Empty reports whether nothing changed.
func (r *Result) Empty() bool {
	return len(r.New) == 0 && len(r.Updated) == 0 && len(r.Deleted) == 0
}

// NewIDs returns the uids of new events in emission order.
func (r *Result) NewIDs() []string {
	return uidsOf(r.New)
}

// UpdatedIDs returns the uids of updated events in emission order.
func (r *Result) UpdatedIDs() []string {
	out := make([]string, 0, len(r.Updated))
	for _, c := range r.Updated {
		out = append(out, c.New.UID)
	}
	return out
}

// DeletedIDs returns the uids of deleted events in emission order.
func (r *Result) DeletedIDs() []string {
	return uidsOf(r.Deleted)
}

func uidsOf(events []model.CalendarEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.UID)
	}
	return out
}

// keyed is a uid -> event map that remembers first insertion order.
type keyed struct {
	order []string
	byUID map[string]model.CalendarEvent
}

func index(events []model.CalendarEvent, side string, res *Result, seenDup map[string]bool) keyed {
	k := keyed{byUID: make(map[string]model.CalendarEvent, len(events))}
	for i, e := range events {
		if e.UID == "" {
			res.Errors = append(res.Errors, fmt.Errorf("%s event %d: %w", side, i, ErrMissingUID))
			continue
		}
		if _, ok := k.byUID[e.UID]; ok {
			if !seenDup[e.UID] {
				seenDup[e.UID] = true
				res.Duplicates = append(res.Duplicates, e.UID)
			}
			appLog.Warn("diff: duplicate uid, last occurrence wins", "side", side, "uid", e.UID)
		} else {
			k.order = append(k.order, e.UID)
		}
		// Last write wins.
		k.byUID[e.UID] = e
	}
	return k
}

// Compare classifies newEvents against oldEvents. rejected lists baseline
// records that failed to deserialize: each becomes an error, and its uid is
// left out of classification so a corrupt stored record does not surface as
// a new event.
func Compare(oldEvents, newEvents []model.CalendarEvent, rejected []model.RecordError) *Result {
	res := &Result{}
	seenDup := make(map[string]bool)

	skip := make(map[string]bool, len(rejected))
	for _, r := range rejected {
		res.Errors = append(res.Errors, r)
		if r.UID != "" {
			skip[r.UID] = true
		}
	}

	oldMap := index(oldEvents, "old", res, seenDup)
	newMap := index(newEvents, "new", res, seenDup)

	for _, uid := range newMap.order {
		if skip[uid] {
			continue
		}
		ne := newMap.byUID[uid]
		oe, ok := oldMap.byUID[uid]
		switch {
		case !ok:
			res.New = append(res.New, ne)
		case !model.ContentEqual(oe, ne):
			res.Updated = append(res.Updated, Change{Old: oe, New: ne})
		}
	}

	for _, uid := range oldMap.order {
		if skip[uid] {
			continue
		}
		if _, ok := newMap.byUID[uid]; !ok {
			res.Deleted = append(res.Deleted, oldMap.byUID[uid])
		}
	}

	appLog.Info("diff completed",
		"new", len(res.New),
		"updated", len(res.Updated),
		"deleted", len(res.Deleted),
		"errors", len(res.Errors),
		"duplicates", len(res.Duplicates),
	)
	return res
}
