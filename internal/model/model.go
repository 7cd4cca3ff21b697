package model

import "time"

// CalendarEvent is one materialized occurrence of a calendar event. Values
// are immutable once built; UID identifies the event across snapshots.
type CalendarEvent struct {
	UID string

	Start   time.Time
	End     time.Time
	Created time.Time

	Summary     string
	Description string
	Location    string

	// RRule is the raw RRULE text of the series, empty for single events.
	RRule  string
	Status string
}

// Duration is End - Start, never negative.
func (e CalendarEvent) Duration() time.Duration {
	if e.End.Before(e.Start) {
		return 0
	}
	return e.End.Sub(e.Start)
}

// Identical reports whether every attribute of a and b is equal. Times are
// compared as instants, so the same moment in two zones is equal.
func Identical(a, b CalendarEvent) bool {
	return a.UID == b.UID &&
		a.Start.Equal(b.Start) &&
		a.End.Equal(b.End) &&
		a.Created.Equal(b.Created) &&
		a.Summary == b.Summary &&
		a.Description == b.Description &&
		a.Location == b.Location &&
		a.RRule == b.RRule &&
		a.Status == b.Status
}

// ContentEqual compares only the fields whose change is worth announcing:
// start, end, summary, description, location and rrule. Status, created
// and uid are ignored.
func ContentEqual(a, b CalendarEvent) bool {
	return a.Start.Equal(b.Start) &&
		a.End.Equal(b.End) &&
		a.Summary == b.Summary &&
		a.Description == b.Description &&
		a.Location == b.Location &&
		a.RRule == b.RRule
}

// Calendar is a fetched-and-expanded snapshot of a feed.
type Calendar struct {
	// Events holds occurrences in the near-term window; it is the diff baseline.
	Events []CalendarEvent
	// RecurringEvents holds occurrences in the long-horizon window used
	// for public pagination.
	RecurringEvents []CalendarEvent

	ProdID      string
	Version     string
	Scale       string
	Timezone    string
	Name        string
	Description string
}
