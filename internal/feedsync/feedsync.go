// Package feedsync keeps the in-memory set of external calendar events up
// to date: fetch, parse, expand recurrences, normalize.
package feedsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

var (
	ErrSyncInProgress = errors.New("feedsync: sync already in progress")
	ErrNoFeedURL      = errors.New("feedsync: no calendar url configured")
)

// Fetcher retrieves raw feed text. *ics.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SettingsSource supplies the user's calendar URL.
type SettingsSource interface {
	GetSettings(ctx context.Context) (model.Settings, error)
}

type Options struct {
	// FallbackURL is used when the settings carry no calendar URL.
	FallbackURL string
	Horizon     time.Duration
	Backfill    time.Duration
	IDMode      ics.IDMode
	Now         func() time.Time
}

// SyncResult describes one successful sync.
type SyncResult struct {
	FetchedAt time.Time `json:"fetchedAt"`
	Events    int       `json:"events"`
	Skipped   []int     `json:"skipped,omitempty"`
	Truncated []string  `json:"truncated,omitempty"`
}

// Status is the externally visible sync state.
type Status struct {
	LastSync   *time.Time `json:"lastSync,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	EventCount int        `json:"eventCount"`
	InProgress bool       `json:"inProgress"`
}

type Syncer struct {
	fetcher  Fetcher
	settings SettingsSource
	opts     Options

	running atomic.Bool

	mu        sync.RWMutex
	events    []model.CalendarEvent
	lastSync  time.Time
	lastError string
}

func New(fetcher Fetcher, settings SettingsSource, opts Options) *Syncer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		fetcher:  fetcher,
		settings: settings,
		opts:     opts,
		events:   []model.CalendarEvent{},
	}
}

// Sync runs one fetch-parse-expand-normalize cycle. On failure the
// previous events stay in place. Only one sync runs at a time; overlapping
// calls fail fast with ErrSyncInProgress.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer s.running.Store(false)

	res, events, err := s.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastError = err.Error()
		return SyncResult{}, err
	}
	s.events = events
	s.lastSync = res.FetchedAt
	s.lastError = ""
	return res, nil
}

func (s *Syncer) run(ctx context.Context) (SyncResult, []model.CalendarEvent, error) {
	url, err := s.feedURL(ctx)
	if err != nil {
		return SyncResult{}, nil, err
	}

	start := s.opts.Now()
	body, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		appLog.Error("feed fetch failed", err, "url", appLog.RedactURL(url))
		return SyncResult{}, nil, err
	}

	parsed, err := ics.Parse(body)
	if err != nil {
		appLog.Error("feed parse failed", err, "url", appLog.RedactURL(url))
		return SyncResult{}, nil, err
	}

	expanded, err := ics.Expand(parsed.Events, ics.ExpandConfig{
		RangeStart: start.Add(-s.opts.Backfill),
		RangeEnd:   start.Add(s.opts.Horizon),
	})
	if err != nil {
		return SyncResult{}, nil, fmt.Errorf("expanding recurrences: %w", err)
	}

	events := ics.Normalizer{Mode: s.opts.IDMode}.NormalizeAll(expanded.Events, start)
	res := SyncResult{
		FetchedAt: start,
		Events:    len(events),
		Skipped:   parsed.Skipped,
		Truncated: expanded.TruncatedEvents,
	}
	appLog.Info("feed synced",
		"url", appLog.RedactURL(url),
		"events", len(events),
		"skipped", len(parsed.Skipped),
		"elapsed", s.opts.Now().Sub(start).String(),
	)
	return res, events, nil
}

func (s *Syncer) feedURL(ctx context.Context) (string, error) {
	url := ""
	if s.settings != nil {
		settings, err := s.settings.GetSettings(ctx)
		if err != nil {
			return "", fmt.Errorf("reading settings: %w", err)
		}
		url = strings.TrimSpace(settings.CalendarURL)
	}
	if url == "" {
		url = strings.TrimSpace(s.opts.FallbackURL)
	}
	if url == "" {
		return "", ErrNoFeedURL
	}
	return url, nil
}

// Events returns a copy of the current external events.
func (s *Syncer) Events() []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CalendarEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Syncer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		LastError:  s.lastError,
		EventCount: len(s.events),
		InProgress: s.running.Load(),
	}
	if !s.lastSync.IsZero() {
		t := s.lastSync
		st.LastSync = &t
	}
	return st
}

// Job adapts Sync to the scheduler's job signature. Overlaps and missing
// URLs are expected and only logged at debug level.
func (s *Syncer) Job(ctx context.Context) {
	_, err := s.Sync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrNoFeedURL):
		appLog.Debug("scheduled sync skipped", "reason", err.Error())
	default:
		appLog.Error("scheduled sync failed", err)
	}
}
