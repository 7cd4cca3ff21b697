package paginate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/config"
	"calsync/internal/model"
	"calsync/internal/store"
)

var fetchTime = time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))

func makeEvents(n int) []model.CalendarEvent {
	base := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	out := make([]model.CalendarEvent, 0, n)
	for i := 0; i < n; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		out = append(out, model.CalendarEvent{
			UID:     fmt.Sprintf("ev-%02d", i),
			Start:   start,
			End:     start.Add(time.Hour),
			Created: base,
			Summary: fmt.Sprintf("Event %d", i),
		})
	}
	return out
}

func TestPaginate_TwentyFiveByTen(t *testing.T) {
	pages, err := Paginate(makeEvents(25), 10, fetchTime, "https://cal.example/feed.ics")
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i, p.Page)
		assert.Equal(t, 3, p.TotalPages)
		assert.Equal(t, 25, p.TotalEvents)
		assert.Equal(t, 10, p.PerPage)
		assert.Equal(t, "2026-03-01T12:00:00Z", p.LastUpdated)
		assert.Equal(t, "https://cal.example/feed.ics", p.SourceURL)
	}
	assert.True(t, pages[0].HasMore)
	assert.True(t, pages[1].HasMore)
	assert.False(t, pages[2].HasMore)

	assert.Equal(t, 10, pages[0].EventsInPage)
	assert.Equal(t, 5, pages[2].EventsInPage)
	assert.Equal(t, "ev-20", pages[2].Events[0].UID)
	assert.Equal(t, "ev-24", pages[2].Events[4].UID)
}

func TestPaginate_EmptyYieldsPageZero(t *testing.T) {
	pages, err := Paginate(nil, 10, fetchTime, "src")
	require.NoError(t, err)
	require.Len(t, pages, 1)

	assert.Equal(t, 0, pages[0].Page)
	assert.Equal(t, 1, pages[0].TotalPages)
	assert.False(t, pages[0].HasMore)

	data, err := json.Marshal(pages[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"events":[]`)
}

func TestPaginate_ExactMultiple(t *testing.T) {
	pages, err := Paginate(makeEvents(20), 10, fetchTime, "src")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.False(t, pages[1].HasMore)
}

func TestPaginate_HugePerPage(t *testing.T) {
	assert.Equal(t, 1, TotalPages(2, math.MaxInt))
	assert.Equal(t, 1, TotalPages(math.MaxInt, math.MaxInt))
	assert.Equal(t, 2, TotalPages(math.MaxInt, math.MaxInt-1))

	var pages []Page
	require.NotPanics(t, func() {
		var err error
		pages, err = Paginate(makeEvents(2), math.MaxInt, fetchTime, "src")
		require.NoError(t, err)
	})
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].EventsInPage)
	assert.Equal(t, 1, pages[0].TotalPages)
	assert.False(t, pages[0].HasMore)

	idx, err := NewIndex(makeEvents(2), math.MaxInt, fetchTime, "src")
	require.NoError(t, err)
	assert.Equal(t, 1, idx.TotalPages)
}

func TestPaginate_InvalidPerPage(t *testing.T) {
	for _, perPage := range []int{0, -1} {
		_, err := Paginate(makeEvents(3), perPage, fetchTime, "src")
		var cfgErr *config.Error
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "events_per_page", cfgErr.Key)

		_, err = NewIndex(makeEvents(3), perPage, fetchTime, "src")
		assert.ErrorAs(t, err, &cfgErr)
	}
}

func TestExpiredPages(t *testing.T) {
	existing := []string{
		"pages/0.json", "pages/1.json", "pages/2.json", "pages/3.json", "pages/4.json",
		"pages/readme.txt", "pages/10.json.bak", "index.json",
	}
	assert.Equal(t, []string{"pages/3.json", "pages/4.json"}, ExpiredPages(3, existing))
	assert.Empty(t, ExpiredPages(5, existing))
	assert.Len(t, ExpiredPages(1, existing), 4)
}

func TestPublisher_PublishAndRetract(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	pub := Publisher{Store: mem}

	// Previous run published five pages.
	old, err := Paginate(makeEvents(45), 10, fetchTime, "src")
	require.NoError(t, err)
	_, err = pub.Publish(ctx, old)
	require.NoError(t, err)

	existing, err := pub.Existing(ctx)
	require.NoError(t, err)
	require.Len(t, existing, 5)

	pages, err := Paginate(makeEvents(25), 10, fetchTime, "src")
	require.NoError(t, err)
	rep, err := pub.Publish(ctx, pages)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.PagesUpdated)
	assert.Equal(t, 25, rep.EventsSaved)

	mem.Fail("delete", "pages/4.json", errors.New("busy"))
	ret := pub.Retract(ctx, len(pages), existing)
	assert.Equal(t, []string{"pages/3.json", "pages/4.json"}, ret.Expired)
	assert.Equal(t, []string{"pages/3.json"}, ret.Deleted)
	require.Len(t, ret.Errors, 1)

	left, err := pub.Existing(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pages/0.json", "pages/1.json", "pages/2.json", "pages/4.json"}, left)
}

func TestPublisher_PageFailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	boom := errors.New("boom")
	mem.Fail("put", "pages/1.json", boom)

	pages, err := Paginate(makeEvents(25), 10, fetchTime, "src")
	require.NoError(t, err)

	rep, err := Publisher{Store: mem}.Publish(ctx, pages)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, rep.PagesUpdated)
	assert.Equal(t, 15, rep.EventsSaved)

	_, err = mem.Get(ctx, "pages/2.json")
	assert.NoError(t, err)
}

func TestLoadUpcoming(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	_, _, err := LoadUpcoming(ctx, mem)
	require.ErrorIs(t, err, store.ErrNotFound)

	events := makeEvents(4)
	idx, err := NewIndex(events, 3, fetchTime, "src")
	require.NoError(t, err)
	assert.Equal(t, 2, idx.TotalPages)
	require.NoError(t, Publisher{Store: mem}.PublishIndex(ctx, idx))

	loaded, rejected, err := LoadUpcoming(ctx, mem)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, loaded, 4)
	assert.True(t, model.Identical(events[3], loaded[3]))
}
