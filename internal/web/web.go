// Package web serves the published documents (index, snapshot and pages)
// over HTTP, standing in for the CDN in front of the snapshot store.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"calsync/internal/cdn"
	appLog "calsync/internal/log"
	"calsync/internal/paginate"
	"calsync/internal/store"
)

// DefaultCacheTTL bounds how long a document is served from memory.
const DefaultCacheTTL = 60 * time.Second

// Options configures a Server.
type Options struct {
	CacheTTL time.Duration
	// CORSOrigins is the allow-list for cross-origin reads; "*" allows any.
	CORSOrigins []string
}

// Server serves documents from a Store through an in-memory response cache.
// Invalidate purges the cache, which makes Server a cdn.Invalidator.
type Server struct {
	store   store.Store
	ttl     time.Duration
	origins []string
	router  *mux.Router
	now     func() time.Time

	cacheMu sync.RWMutex
	cache   map[string]cachedDoc
}

// cachedDoc holds a cached document and its timestamp.
type cachedDoc struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

var _ cdn.Invalidator = (*Server)(nil)

// NewServer constructs a new Server.
func NewServer(s store.Store, opts Options) *Server {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	srv := &Server{
		store:   s,
		ttl:     opts.CacheTTL,
		origins: opts.CORSOrigins,
		router:  mux.NewRouter(),
		now:     time.Now,
		cache:   make(map[string]cachedDoc),
	}
	srv.registerRoutes()
	return srv
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartServer serves s on listen until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, listen string, s *Server) error {
	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/"+store.IndexKey, s.handleDocument(store.IndexKey)).
		Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	s.router.HandleFunc("/"+store.EventsKey, s.handleDocument(store.EventsKey)).
		Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	s.router.HandleFunc("/pages/{page:[0-9]+}.json", s.handlePage).
		Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	key := paginate.PagePrefix + mux.Vars(r)["page"] + ".json"
	s.handleDocument(key)(w, r)
}

func (s *Server) handleDocument(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		doc, hit, err := s.load(r.Context(), key)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			appLog.Error("failed to load document", err, "key", key)
			writeError(w, http.StatusInternalServerError, "failed to load document")
			return
		}

		w.Header().Set("Content-Type", doc.contentType)
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.ttl.Seconds())))
		if hit {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(doc.data)
		}
	}
}

// load returns the document for key, from cache when it is fresh enough.
func (s *Server) load(ctx context.Context, key string) (cachedDoc, bool, error) {
	now := s.now()

	s.cacheMu.RLock()
	doc, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok && now.Sub(doc.updatedAt) < s.ttl {
		return doc, true, nil
	}

	data, err := s.store.Get(ctx, key)
	if err != nil {
		return cachedDoc{}, false, err
	}
	contentType := store.ContentTypeJSON
	if ct, ok := s.store.(store.ContentTyper); ok {
		if v, err := ct.ContentType(ctx, key); err == nil && v != "" {
			contentType = v
		}
	}

	doc = cachedDoc{data: data, contentType: contentType, updatedAt: now}
	s.cacheMu.Lock()
	s.cache[key] = doc
	s.cacheMu.Unlock()
	return doc, false, nil
}

// Invalidate drops cached documents. "/*" drops everything; other paths
// drop the matching document.
func (s *Server) Invalidate(_ context.Context, paths []string) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	for _, p := range paths {
		if p == "/*" || p == "*" {
			purged := len(s.cache)
			s.cache = make(map[string]cachedDoc)
			appLog.Debug("response cache purged", "documents", purged)
			return nil
		}
		delete(s.cache, strings.TrimPrefix(p, "/"))
	}
	return nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
