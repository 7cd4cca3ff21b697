package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/model"
)

// backends runs the same contract against every Store implementation.
func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"fs":     NewFS(filepath.Join(t.TempDir(), "dist")),
		"memory": NewMemory(),
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "index.json")
			require.ErrorIs(t, err, ErrNotFound)

			keys, err := s.List(ctx, "pages/")
			require.NoError(t, err)
			assert.Empty(t, keys)

			require.NoError(t, s.Put(ctx, "index.json", []byte(`{"a":1}`), ContentTypeJSON))
			require.NoError(t, s.Put(ctx, "pages/0.json", []byte(`[]`), ContentTypeJSON))
			require.NoError(t, s.Put(ctx, "pages/1.json", []byte(`[1]`), ContentTypeJSON))
			require.NoError(t, s.Put(ctx, "pages/1.json", []byte(`[2]`), ContentTypeJSON))

			data, err := s.Get(ctx, "pages/1.json")
			require.NoError(t, err)
			assert.Equal(t, `[2]`, string(data))

			keys, err = s.List(ctx, "pages/")
			require.NoError(t, err)
			assert.Equal(t, []string{"pages/0.json", "pages/1.json"}, keys)

			ct, err := s.(ContentTyper).ContentType(ctx, "index.json")
			require.NoError(t, err)
			assert.Equal(t, ContentTypeJSON, ct)

			res, err := s.DeleteBatch(ctx, []string{"pages/1.json", "pages/9.json"})
			require.NoError(t, err)
			assert.Equal(t, []string{"pages/1.json", "pages/9.json"}, res.Deleted)
			assert.Empty(t, res.Errors)

			keys, err = s.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"index.json", "pages/0.json"}, keys)
		})
	}
}

func TestFS_RejectsEscapingKeys(t *testing.T) {
	s := NewFS(t.TempDir())
	err := s.Put(context.Background(), "../outside.json", []byte("x"), "")
	var sErr *StorageError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "put", sErr.Op)

	res, err := s.DeleteBatch(context.Background(), []string{"/etc/passwd"})
	require.NoError(t, err)
	assert.Len(t, res.Errors, 1)
}

func TestFS_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFS(dir)
	require.NoError(t, s.Put(context.Background(), "events.json", []byte("[]"), ContentTypeJSON))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"events.json", "events.json.meta"}, names)
}

func TestMemory_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")

	m.Fail("put", "pages/0.json", boom)
	err := m.Put(ctx, "pages/0.json", []byte("x"), "")
	require.ErrorIs(t, err, boom)

	m.Fail("put", "pages/0.json", nil)
	require.NoError(t, m.Put(ctx, "pages/0.json", []byte("x"), ""))
	require.NoError(t, m.Put(ctx, "pages/1.json", []byte("x"), ""))

	m.Fail("delete", "pages/1.json", boom)
	res, err := m.DeleteBatch(ctx, []string{"pages/0.json", "pages/1.json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pages/0.json"}, res.Deleted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "pages/1.json", res.Errors[0].Key)
	assert.ErrorIs(t, res.Errors[0], boom)
}

func TestSnapshots_RoundTrip(t *testing.T) {
	ctx := context.Background()
	snaps := Snapshots{Store: NewMemory()}

	_, _, err := snaps.LoadEvents(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	start := time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC)
	events := []model.CalendarEvent{{
		UID: "a", Start: start, End: start.Add(time.Hour), Created: start.AddDate(0, -1, 0), Summary: "A",
	}}
	require.NoError(t, snaps.SaveEvents(ctx, events))

	loaded, rejected, err := snaps.LoadEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, loaded, 1)
	assert.True(t, model.Identical(events[0], loaded[0]))
}

func TestSnapshots_EmptySnapshotIsArray(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, Snapshots{Store: m}.SaveEvents(ctx, nil))

	data, err := m.Get(ctx, EventsKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
