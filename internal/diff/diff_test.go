package diff

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/model"
)

var t0 = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func ev(uid, summary string) model.CalendarEvent {
	return model.CalendarEvent{
		UID:     uid,
		Start:   t0,
		End:     t0.Add(time.Hour),
		Created: t0.AddDate(0, -1, 0),
		Summary: summary,
		Status:  "CONFIRMED",
	}
}

func TestCompare_Classification(t *testing.T) {
	oldEvents := []model.CalendarEvent{ev("a", "A"), ev("b", "B"), ev("c", "C")}

	cancelled := ev("c", "C")
	cancelled.Status = "CANCELLED"
	newEvents := []model.CalendarEvent{ev("d", "D"), ev("b", "B renamed"), cancelled, ev("e", "E")}

	res := Compare(oldEvents, newEvents, nil)

	assert.Equal(t, []string{"d", "e"}, res.NewIDs())
	assert.Equal(t, []string{"b"}, res.UpdatedIDs())
	assert.Equal(t, []string{"a"}, res.DeletedIDs())
	assert.Equal(t, "B", res.Updated[0].Old.Summary)
	assert.Equal(t, "B renamed", res.Updated[0].New.Summary)
	assert.NoError(t, res.Err())
	assert.False(t, res.Empty())
}

func TestCompare_StatusOnlyChangeIsNotUpdate(t *testing.T) {
	old := ev("a", "A")
	changed := old
	changed.Status = "TENTATIVE"
	changed.Created = old.Created.Add(time.Hour)

	res := Compare([]model.CalendarEvent{old}, []model.CalendarEvent{changed}, nil)
	assert.True(t, res.Empty())
}

func TestCompare_Bootstrap(t *testing.T) {
	newEvents := []model.CalendarEvent{ev("a", "A"), ev("b", "B")}
	res := Compare(nil, newEvents, nil)
	assert.False(t, res.Empty())
	assert.Equal(t, []string{"a", "b"}, res.NewIDs())
	assert.Empty(t, res.Updated)
	assert.Empty(t, res.Deleted)
}

func TestCompare_SameSnapshotIsEmpty(t *testing.T) {
	events := []model.CalendarEvent{ev("a", "A"), ev("b", "B")}
	assert.True(t, Compare(events, events, nil).Empty())
}

func TestCompare_DuplicatesLastWriteWins(t *testing.T) {
	oldEvents := []model.CalendarEvent{ev("a", "A")}
	newEvents := []model.CalendarEvent{ev("a", "first"), ev("b", "B"), ev("a", "A")}

	res := Compare(oldEvents, newEvents, nil)
	assert.Empty(t, res.Updated, "the last 'a' matches the stored one")
	assert.Equal(t, []string{"b"}, res.NewIDs())
	assert.Equal(t, []string{"a"}, res.Duplicates)
}

func TestCompare_RejectedBaselineRecords(t *testing.T) {
	badErr := errors.New("bad start")
	rejected := []model.RecordError{
		{Index: 1, UID: "b", Err: badErr},
		{Index: 2, Err: badErr},
	}
	oldEvents := []model.CalendarEvent{ev("a", "A")}
	newEvents := []model.CalendarEvent{ev("a", "A2"), ev("b", "B")}

	res := Compare(oldEvents, newEvents, rejected)

	assert.Empty(t, res.New, "b must not be announced as new")
	assert.Equal(t, []string{"a"}, res.UpdatedIDs())
	require.Len(t, res.Errors, 2)
	assert.ErrorIs(t, res.Err(), badErr)
}

func TestCompare_MissingUID(t *testing.T) {
	res := Compare(nil, []model.CalendarEvent{ev("", "anon"), ev("a", "A")}, nil)
	assert.Equal(t, []string{"a"}, res.NewIDs())
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], ErrMissingUID)
}
