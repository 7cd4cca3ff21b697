package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/cdn"
	"calsync/internal/store"
)

func setupServer(t *testing.T, opts Options) (*Server, *store.Memory) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Put(ctx, "index.json", []byte(`{"v":1}`), store.ContentTypeJSON))
	require.NoError(t, mem.Put(ctx, "pages/0.json", []byte(`{"page":0}`), store.ContentTypeJSON))
	return NewServer(mem, opts), mem
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := setupServer(t, Options{})
	rec := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServer_ServesDocuments(t *testing.T) {
	srv, _ := setupServer(t, Options{})

	rec := get(t, srv.Handler(), "/index.json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"v":1}`, rec.Body.String())
	assert.Equal(t, store.ContentTypeJSON, rec.Header().Get("Content-Type"))

	rec = get(t, srv.Handler(), "/pages/0.json")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"page":0}`, rec.Body.String())

	rec = get(t, srv.Handler(), "/pages/7.json")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, srv.Handler(), "/pages/x.json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CacheAndInvalidate(t *testing.T) {
	srv, mem := setupServer(t, Options{CacheTTL: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return now }
	ctx := context.Background()

	rec := get(t, srv.Handler(), "/index.json")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	require.NoError(t, mem.Put(ctx, "index.json", []byte(`{"v":2}`), store.ContentTypeJSON))
	rec = get(t, srv.Handler(), "/index.json")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, `{"v":1}`, rec.Body.String(), "stale until invalidated")

	var inv cdn.Invalidator = srv
	require.NoError(t, inv.Invalidate(ctx, cdn.AllPaths))
	rec = get(t, srv.Handler(), "/index.json")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, `{"v":2}`, rec.Body.String())

	require.NoError(t, mem.Put(ctx, "index.json", []byte(`{"v":3}`), store.ContentTypeJSON))
	now = now.Add(2 * time.Minute)
	rec = get(t, srv.Handler(), "/index.json")
	assert.Equal(t, `{"v":3}`, rec.Body.String(), "ttl expired")
}

func TestServer_InvalidateSinglePath(t *testing.T) {
	srv, mem := setupServer(t, Options{})
	ctx := context.Background()

	get(t, srv.Handler(), "/index.json")
	get(t, srv.Handler(), "/pages/0.json")
	require.NoError(t, mem.Put(ctx, "pages/0.json", []byte(`{"page":"new"}`), store.ContentTypeJSON))

	require.NoError(t, srv.Invalidate(ctx, []string{"/pages/0.json"}))
	assert.Equal(t, "MISS", get(t, srv.Handler(), "/pages/0.json").Header().Get("X-Cache"))
	assert.Equal(t, "HIT", get(t, srv.Handler(), "/index.json").Header().Get("X-Cache"))
}

func TestServer_CORS(t *testing.T) {
	srv, _ := setupServer(t, Options{CORSOrigins: []string{"https://site.example"}})

	rec := get(t, srv.Handler(), "/index.json", "Origin", "https://site.example")
	assert.Equal(t, "https://site.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(t, srv.Handler(), "/index.json", "Origin", "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/index.json", nil)
	req.Header.Set("Origin", "https://site.example")
	pre := httptest.NewRecorder()
	srv.Handler().ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Equal(t, "GET, HEAD, OPTIONS", pre.Header().Get("Access-Control-Allow-Methods"))
}
