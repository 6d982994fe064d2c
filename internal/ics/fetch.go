package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appLog "taskcal/internal/log"
)

const (
	defaultFetchTimeout = 15 * time.Second
	// defaultMaxFeedBytes bounds the accepted response body size.
	defaultMaxFeedBytes = 32 << 20
)

// cacheEntry holds HTTP validators for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FetcherOptions configures a Fetcher. Zero values are usable.
type FetcherOptions struct {
	// CacheDir enables the on-disk ETag / Last-Modified cache when set.
	CacheDir string
	// RelayPrefix is prepended to every URL when non-empty.
	RelayPrefix string
	Timeout     time.Duration
	// MaxBytes rejects larger bodies with a FormatError. Defaults to 32 MiB.
	MaxBytes int64
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Fetcher retrieves raw feed text. It remembers the most recent
// successful payload for diagnostics.
type Fetcher struct {
	client      *http.Client
	cacheDir    string
	relayPrefix string
	maxBytes    int64

	mu          sync.RWMutex
	lastPayload []byte
	lastURL     string
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultFetchTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFeedBytes
	}
	return &Fetcher{
		client:      client,
		cacheDir:    opts.CacheDir,
		relayPrefix: opts.RelayPrefix,
		maxBytes:    maxBytes,
	}
}

// LastPayload returns the most recent successfully fetched body and the
// URL it came from.
func (f *Fetcher) LastPayload() ([]byte, string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.lastPayload == nil {
		return nil, ""
	}
	out := make([]byte, len(f.lastPayload))
	copy(out, f.lastPayload)
	return out, f.lastURL
}

// Fetch downloads the feed at url.
//
// Transport failures and non-success statuses are returned as
// *NetworkError; a body without the VCALENDAR / VEVENT markers is a
// *FormatError. A 304 answered against a cached body returns that body.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, &NetworkError{URL: url, Err: errors.New("feed URL is empty")}
	}
	target := f.relayPrefix + httpURL(url)

	cachePath := f.cachePathForURL(url)
	var meta cacheEntry
	var cachedBody []byte
	if cachePath != "" {
		meta, _ = loadCacheMeta(cachePath)
		cachedBody, _ = os.ReadFile(filepath.Join(cachePath, "body.ics"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &NetworkError{URL: appLog.RedactURL(url), Err: err}
	}
	req.Header.Set("Accept", "text/calendar, text/plain, */*")
	req.Header.Set("Cache-Control", "no-cache")
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics fetch start", "url", appLog.RedactURL(url), "relay", f.relayPrefix != "")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: appLog.RedactURL(url), Err: err}
	}
	defer resp.Body.Close()

	var body []byte
	switch {
	case resp.StatusCode == http.StatusNotModified && len(cachedBody) > 0:
		appLog.Info("ics fetch not modified; using cache", "url", appLog.RedactURL(url))
		body = cachedBody

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return nil, &NetworkError{URL: appLog.RedactURL(url), Err: err}
		}
		if int64(len(body)) > f.maxBytes {
			return nil, &FormatError{Reason: fmt.Sprintf("payload exceeds %d bytes", f.maxBytes), EventIndex: -1}
		}
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          url,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				appLog.Error("ics cache save failed", err, "url", appLog.RedactURL(url))
			}
		}

	default:
		return nil, &NetworkError{URL: appLog.RedactURL(url), StatusCode: resp.StatusCode}
	}

	if err := checkMarkers(body); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.lastPayload = body
	f.lastURL = url
	f.mu.Unlock()

	appLog.Info("ics fetch success", "url", appLog.RedactURL(url), "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

// httpURL rewrites the webcal:// scheme some calendar apps publish.
func httpURL(url string) string {
	if rest, ok := strings.CutPrefix(url, "webcal://"); ok {
		return "https://" + rest
	}
	return url
}

func (f *Fetcher) cachePathForURL(url string) string {
	if f.cacheDir == "" || url == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
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

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return err
	}
	// Body first so meta never points at a missing body.
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
