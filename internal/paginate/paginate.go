// Package paginate splits the upcoming events into fixed-size numbered
// pages and keeps the published page set in step with the event count.
package paginate

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"calsync/internal/config"
	"calsync/internal/model"
)

// PagePrefix is the store prefix all pages live under.
const PagePrefix = "pages/"

var pageKeyRe = regexp.MustCompile(`^pages/(\d+)\.json$`)

// Page is one published slice of the upcoming events.
type Page struct {
	SourceURL    string         `json:"source-url"`
	LastUpdated  string         `json:"last-updated"`
	EventsInPage int            `json:"events-in-page"`
	TotalEvents  int            `json:"total-events"`
	Page         int            `json:"page"`
	TotalPages   int            `json:"total-pages"`
	PerPage      int            `json:"per-page"`
	HasMore      bool           `json:"has-more"`
	Events       []model.Record `json:"events"`
}

// Index summarizes the page set and carries the full upcoming list.
type Index struct {
	SourceURL   string         `json:"source-url"`
	LastUpdated string         `json:"last-updated"`
	TotalEvents int            `json:"total-events"`
	TotalPages  int            `json:"total-pages"`
	PerPage     int            `json:"per-page"`
	Events      []model.Record `json:"events"`
}

// PageKey returns the store key of page i.
func PageKey(i int) string {
	return fmt.Sprintf("%s%d.json", PagePrefix, i)
}

// TotalPages is ceil(n / perPage), but never less than one.
func TotalPages(n, perPage int) int {
	if n == 0 || perPage <= 0 {
		return 1
	}
	total := n / perPage
	if n%perPage != 0 {
		total++
	}
	return max(total, 1)
}

// CheckPerPage rejects a page size that is not a positive integer.
func CheckPerPage(perPage int) error {
	if perPage <= 0 {
		return &config.Error{Key: "events_per_page", Reason: fmt.Sprintf("must be a positive integer, got %d", perPage)}
	}
	return nil
}

// Paginate splits events into pages of perPage. An empty list still yields
// page 0 with no events. perPage <= 0 fails with *config.Error.
func Paginate(events []model.CalendarEvent, perPage int, fetchTime time.Time, sourceURL string) ([]Page, error) {
	if err := CheckPerPage(perPage); err != nil {
		return nil, err
	}

	n := len(events)
	total := TotalPages(n, perPage)
	updated := lastUpdated(fetchTime)

	pages := make([]Page, 0, total)
	for i := 0; i < total; i++ {
		lo := i * perPage
		hi := lo + min(perPage, n-lo)
		records := model.SerializeAll(events[lo:hi])
		pages = append(pages, Page{
			SourceURL:    sourceURL,
			LastUpdated:  updated,
			EventsInPage: len(records),
			TotalEvents:  n,
			Page:         i,
			TotalPages:   total,
			PerPage:      perPage,
			HasMore:      i+1 < total,
			Events:       records,
		})
	}
	return pages, nil
}

// NewIndex builds index.json for events.
func NewIndex(events []model.CalendarEvent, perPage int, fetchTime time.Time, sourceURL string) (Index, error) {
	if err := CheckPerPage(perPage); err != nil {
		return Index{}, err
	}
	return Index{
		SourceURL:   sourceURL,
		LastUpdated: lastUpdated(fetchTime),
		TotalEvents: len(events),
		TotalPages:  TotalPages(len(events), perPage),
		PerPage:     perPage,
		Events:      model.SerializeAll(events),
	}, nil
}

// ExpiredPages returns the keys among existing whose page number is at or
// past totalPages. Keys that are not page keys are ignored.
func ExpiredPages(totalPages int, existing []string) []string {
	var out []string
	for _, key := range existing {
		m := pageKeyRe.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n >= totalPages {
			out = append(out, key)
		}
	}
	return out
}

func lastUpdated(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
