package ics

import (
	"errors"
	"math"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the timezone all occurrences are converted to.
	// If nil, UTC is used.
	Location *time.Location

	// RangeStart / RangeEnd define the half-open window [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// FetchTime stands in for Created on events carrying neither CREATED
	// nor DTSTAMP.
	FetchTime time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	// Events are in walk order: feed order, and for a recurring event the
	// order its instances were generated in. Callers sort.
	Events []model.CalendarEvent
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences turns parsed VEVENTs into concrete occurrences within
// the configured window. It handles:
//
//   - Single non-recurring events, kept when they overlap the window
//   - RRULE-based recurrence, one occurrence per instance starting inside
//     the window
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides, including instances moved into the window
//     and overrides without a master
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overridesByUID := make(map[string][]ParsedEvent)
	hasMaster := make(map[string]bool)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			hasMaster[ev.UID] = true
		}
	}

	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			// Overrides are emitted alongside their master.
			if !hasMaster[ev.UID] && timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
				out = append(out, makeEvent(ev, ev.Start, ev.End, "", cfg))
			}
			continue
		}

		occ, hitCap := expandEvent(ev, overridesByUID[ev.UID], cfg)
		out = append(out, occ...)

		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Events = out
	return result, nil
}

// expandEvent expands a master event with its overrides, returning
// occurrences and whether the cap was hit.
func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("expand: unparseable RRULE; treating event as single",
			"uid", ev.UID, "rrule", ev.RawRRule, "error", err)
		ev.RawRRule = ""
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, r, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.CalendarEvent {
	// Apply any override whose RECURRENCE-ID matches this start.
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		o.RawRRule = ev.RawRRule
		ev = o
	}

	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.CalendarEvent{makeEvent(ev, ev.Start, ev.End, ev.RawRRule, cfg)}
}

func expandRecurringEvent(ev ParsedEvent, r *rrule.RRule, overrides []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, bool) {
	out := make([]model.CalendarEvent, 0)
	hitCap := false

	// Instances are generated in the master's own zone so BYDAY and
	// wall-clock times survive DST changes.
	r.DTStart(ev.Start)

	// Build a set so we can apply EXDATE.
	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	allDayDays := 0
	if ev.AllDay {
		allDayDays = int(math.Round(ev.End.Sub(ev.Start).Hours() / 24))
	}
	dur := ev.End.Sub(ev.Start)

	used := make([]bool, len(overrides))
	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			// All-day: whole calendar days in the event's zone.
			occEnd = occStart.AddDate(0, 0, allDayDays)
		} else {
			occEnd = occStart.Add(dur)
		}

		baseEv := ev
		if i, ok := overrideIndex(overrides, occStart); ok {
			used[i] = true
			baseEv = overrides[i]
			occStart, occEnd = baseEv.Start, baseEv.End
		}

		if !inWindow(occStart, cfg) {
			continue
		}
		out = append(out, makeEvent(baseEv, occStart, occEnd, ev.RawRRule, cfg))
	}

	// Overrides for instances outside the generated range still count when
	// the instance was moved into the window.
	for i, o := range overrides {
		if used[i] || isExcluded(ev, *o.Recurrence) {
			continue
		}
		if inWindow(o.Start, cfg) {
			out = append(out, makeEvent(o, o.Start, o.End, ev.RawRRule, cfg))
		}
	}

	return out, hitCap
}

// findOverrideForStart finds an override event whose RECURRENCE-ID matches
// the given instance start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	if i, ok := overrideIndex(overrides, start); ok {
		return overrides[i], true
	}
	return ParsedEvent{}, false
}

func overrideIndex(overrides []ParsedEvent, start time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return i, true
		}
	}
	return -1, false
}

func isExcluded(ev ParsedEvent, t time.Time) bool {
	for _, ex := range ev.ExDates {
		if ex.Equal(t) {
			return true
		}
	}
	return false
}

// makeEvent converts a (possibly overridden) ParsedEvent plus a specific
// start/end into a model.CalendarEvent in the configured zone.
func makeEvent(ev ParsedEvent, start, end time.Time, rawRRule string, cfg ExpandConfig) model.CalendarEvent {
	if end.Before(start) {
		end = start
	}
	created := ev.Created
	if created.IsZero() {
		created = cfg.FetchTime
	}
	return model.CalendarEvent{
		UID:         ev.UID,
		Start:       start.In(cfg.Location),
		End:         end.In(cfg.Location),
		Created:     created,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		RRule:       rawRRule,
		Status:      ev.Status,
	}
}

func inWindow(t time.Time, cfg ExpandConfig) bool {
	return !t.Before(cfg.RangeStart) && t.Before(cfg.RangeEnd)
}

// timeRangesOverlap reports whether [aStart, aEnd) meets [bStart, bEnd).
// A zero-length event counts when its instant lies inside the window.
func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Equal(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
