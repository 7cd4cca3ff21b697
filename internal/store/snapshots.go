package store

import (
	"context"

	"calsync/internal/model"
)

// Snapshots reads and writes the events snapshot (events.json), the diff
// baseline of the next run.
type Snapshots struct {
	Store Store
}

// LoadEvents returns the previous snapshot. Malformed records are returned
// separately and do not fail the load. A missing snapshot yields an error
// matching ErrNotFound.
func (s Snapshots) LoadEvents(ctx context.Context) ([]model.CalendarEvent, []model.RecordError, error) {
	data, err := s.Store.Get(ctx, EventsKey)
	if err != nil {
		return nil, nil, err
	}
	return model.DeserializeRecords(data)
}

// SaveEvents overwrites the snapshot with events.
func (s Snapshots) SaveEvents(ctx context.Context, events []model.CalendarEvent) error {
	data, err := model.Marshal(events)
	if err != nil {
		return &StorageError{Op: "put", Key: EventsKey, Err: err}
	}
	return s.Store.Put(ctx, EventsKey, data, ContentTypeJSON)
}
