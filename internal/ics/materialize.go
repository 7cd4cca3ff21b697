package ics

import (
	"slices"
	"time"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

const (
	DefaultNearTermMonths = 3
	DefaultHorizonMonths  = 6
)

// Options configures Materialize.
type Options struct {
	// Location is used when the feed's X-WR-TIMEZONE is unusable, and for
	// all emitted times. Nil means UTC.
	Location *time.Location

	NearTermMonths int // window A length, default 3
	HorizonMonths  int // window B length, default 6

	MaxOccurrencesPerEvent int
}

// Materialize parses body and expands it over two windows starting at
// fetchTime: the near-term window (Calendar.Events, the diff baseline) and
// the long horizon (Calendar.RecurringEvents, used for pagination). Both
// lists are sorted by start; events starting together keep feed order.
func Materialize(body []byte, fetchTime time.Time, opts Options) (*model.Calendar, error) {
	if opts.NearTermMonths <= 0 {
		opts.NearTermMonths = DefaultNearTermMonths
	}
	if opts.HorizonMonths <= 0 {
		opts.HorizonMonths = DefaultHorizonMonths
	}

	parsed, err := Parse(body, opts.Location)
	if err != nil {
		return nil, err
	}

	loc := opts.Location
	if loc == nil {
		loc = parsed.Location
	}

	window := func(months int) ([]model.CalendarEvent, error) {
		res, err := ExpandOccurrences(parsed.Events, ExpandConfig{
			Location:               loc,
			RangeStart:             fetchTime,
			RangeEnd:               fetchTime.AddDate(0, months, 0),
			FetchTime:              fetchTime,
			MaxOccurrencesPerEvent: opts.MaxOccurrencesPerEvent,
		})
		if err != nil {
			return nil, err
		}
		SortByStart(res.Events)
		return res.Events, nil
	}

	near, err := window(opts.NearTermMonths)
	if err != nil {
		return nil, err
	}
	horizon, err := window(opts.HorizonMonths)
	if err != nil {
		return nil, err
	}

	appLog.Info("ics materialized",
		"calendar", parsed.Name,
		"near_term", len(near),
		"horizon", len(horizon),
	)

	return &model.Calendar{
		Events:          near,
		RecurringEvents: horizon,
		ProdID:          parsed.ProdID,
		Version:         parsed.Version,
		Scale:           parsed.Scale,
		Timezone:        parsed.Timezone,
		Name:            parsed.Name,
		Description:     parsed.Description,
	}, nil
}

// SortByStart orders events by start time, keeping the relative order of
// events that start at the same instant.
func SortByStart(events []model.CalendarEvent) {
	slices.SortStableFunc(events, func(a, b model.CalendarEvent) int {
		return a.Start.Compare(b.Start)
	})
}
