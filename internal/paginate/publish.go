package paginate

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"

	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/store"
)

// PublishReport counts what Publish wrote.
type PublishReport struct {
	PagesUpdated int
	EventsSaved  int
	Errors       []error
}

// RetractReport is the outcome of deleting expired pages. Failures are
// recorded here and never returned as errors.
type RetractReport struct {
	Expired []string
	Deleted []string
	Errors  []error
}

// Publisher writes pages and the index to a store.
type Publisher struct {
	Store store.Store
}

// Existing lists the pages currently published.
func (p Publisher) Existing(ctx context.Context) ([]string, error) {
	return p.Store.List(ctx, PagePrefix)
}

// Publish writes every page. A failed page does not stop the others; the
// returned error aggregates all page failures.
func (p Publisher) Publish(ctx context.Context, pages []Page) (PublishReport, error) {
	var rep PublishReport
	for _, page := range pages {
		key := PageKey(page.Page)
		if err := p.putJSON(ctx, key, page); err != nil {
			appLog.Error("page write failed", err, "key", key)
			rep.Errors = append(rep.Errors, err)
			continue
		}
		rep.PagesUpdated++
		rep.EventsSaved += page.EventsInPage
	}
	return rep, multierr.Combine(rep.Errors...)
}

// PublishIndex writes index.json.
func (p Publisher) PublishIndex(ctx context.Context, idx Index) error {
	return p.putJSON(ctx, store.IndexKey, idx)
}

// Retract deletes the pages in existing that are past totalPages.
func (p Publisher) Retract(ctx context.Context, totalPages int, existing []string) RetractReport {
	rep := RetractReport{Expired: ExpiredPages(totalPages, existing)}
	if len(rep.Expired) == 0 {
		return rep
	}

	appLog.Info("deleting expired pages", "count", len(rep.Expired))
	res, err := p.Store.DeleteBatch(ctx, rep.Expired)
	if err != nil {
		appLog.Error("expired page deletion failed", err, "count", len(rep.Expired))
		rep.Errors = append(rep.Errors, err)
		return rep
	}
	rep.Deleted = res.Deleted
	for _, dErr := range res.Errors {
		appLog.Warn("expired page not deleted", "key", dErr.Key, "error", dErr.Err)
		rep.Errors = append(rep.Errors, dErr)
	}
	return rep
}

func (p Publisher) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &store.StorageError{Op: "put", Key: key, Err: err}
	}
	return p.Store.Put(ctx, key, data, store.ContentTypeJSON)
}

// LoadUpcoming reads the upcoming events carried by index.json. Malformed
// records are returned separately. A missing index yields an error matching
// store.ErrNotFound.
func LoadUpcoming(ctx context.Context, s store.Store) ([]model.CalendarEvent, []model.RecordError, error) {
	data, err := s.Get(ctx, store.IndexKey)
	if err != nil {
		return nil, nil, err
	}
	var doc struct {
		Events json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", store.IndexKey, err)
	}
	if len(doc.Events) == 0 {
		return nil, nil, nil
	}
	return model.DeserializeRecords(doc.Events)
}
