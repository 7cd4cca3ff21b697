package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"

	appLog "calsync/internal/log"
)

// DefaultFetchTimeout bounds a single feed request.
const DefaultFetchTimeout = 10 * time.Second

// FetchError reports a feed that could not be retrieved. It is fatal for a
// sync run: nothing is written when fetching fails.
type FetchError struct {
	URL    string // redacted
	Status int    // HTTP status, 0 for transport errors
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchResult contains the outcome of fetching the feed.
type FetchResult struct {
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused cached body due to 304
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves ICS feeds. When cacheDir is set it sends conditional
// requests (ETag / Last-Modified) and serves the cached body on 304. The
// cache is never used to mask a failed request.
type Fetcher struct {
	client   *resty.Client
	cacheDir string
}

// NewFetcher creates a Fetcher with the given request timeout. An empty
// cacheDir disables conditional requests.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "text/calendar, */*;q=0.5").
		SetHeader("User-Agent", "calsync/1.0")
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch downloads the feed at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (FetchResult, error) {
	redacted := redactURL(url)
	if url == "" {
		return FetchResult{}, &FetchError{URL: redacted, Err: errors.New("feed URL is empty")}
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(url)
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	req := f.client.R().SetContext(ctx)
	// Conditional headers only make sense when there is a body to fall back on.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.SetHeader("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.SetHeader("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics fetch start", "url", redacted)

	resp, err := req.Get(url)
	if err != nil {
		return FetchResult{}, &FetchError{URL: redacted, Err: err}
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		body := resp.Body()
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          url,
				ETag:         resp.Header().Get("ETag"),
				LastModified: resp.Header().Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("ics cache save failed", err, "url", redacted)
			}
		}
		appLog.Info("ics fetch success", "url", redacted, "bytes", len(body), "from_cache", false)
		return FetchResult{Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, &FetchError{URL: redacted, Status: http.StatusNotModified,
				Err: errors.New("304 Not Modified without cached body")}
		}
		appLog.Info("ics fetch not modified; using cache", "url", redacted)
		return FetchResult{Body: cachedBody, FromCache: true}, nil

	default:
		return FetchResult{}, &FetchError{URL: redacted, Status: resp.StatusCode(), Err: errors.New(resp.Status())}
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return err
	}

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	// Find scheme separator.
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
