package feedsync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taskcal/internal/ics"
	"taskcal/internal/model"
)

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func feed() []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//taskcal//test//EN",
		"BEGIN:VEVENT",
		"UID:exam@example.com",
		"DTSTAMP:20260301T000000Z",
		"DTSTART:20260305T090000Z",
		"DTEND:20260305T110000Z",
		"SUMMARY:Examen final",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:class@example.com",
		"DTSTAMP:20260301T000000Z",
		"DTSTART:20260302T080000Z",
		"DTEND:20260302T093000Z",
		"RRULE:FREQ=DAILY;COUNT=3",
		"SUMMARY:Clase de algebra",
		"END:VEVENT",
		"END:VCALENDAR",
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

type staticSettings model.Settings

func (s staticSettings) GetSettings(context.Context) (model.Settings, error) {
	return model.Settings(s), nil
}

func newSyncer(f Fetcher, url string) *Syncer {
	return New(f, staticSettings{CalendarURL: url}, Options{
		Horizon:  90 * 24 * time.Hour,
		Backfill: 30 * 24 * time.Hour,
		Now:      func() time.Time { return now },
	})
}

func TestSyncPopulatesEvents(t *testing.T) {
	var gotURL string
	s := newSyncer(fetchFunc(func(_ context.Context, url string) ([]byte, error) {
		gotURL = url
		return feed(), nil
	}), "https://example.com/cal.ics")

	res, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if gotURL != "https://example.com/cal.ics" {
		t.Fatalf("fetched wrong url %q", gotURL)
	}
	if res.Events != 4 {
		t.Fatalf("expected 1 single + 3 expanded events, got %d", res.Events)
	}

	events := s.Events()
	if len(events) != 4 {
		t.Fatalf("expected 4 stored events, got %d", len(events))
	}
	if events[0].Title != "Examen final" || events[0].BackgroundColor != ics.ColorRed {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	for _, ev := range events {
		if !ev.ExtendedProps.IsExternal || ev.ExtendedProps.IsTask {
			t.Fatalf("feed event not marked external: %+v", ev)
		}
	}

	st := s.Status()
	if st.LastSync == nil || !st.LastSync.Equal(now) || st.LastError != "" || st.EventCount != 4 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestSyncFailureKeepsPreviousEvents(t *testing.T) {
	fail := false
	s := newSyncer(fetchFunc(func(context.Context, string) ([]byte, error) {
		if fail {
			return nil, &ics.NetworkError{URL: "https://example.com/cal.ics", StatusCode: 503}
		}
		return feed(), nil
	}), "https://example.com/cal.ics")

	if _, err := s.Sync(context.Background()); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	before := s.Events()

	fail = true
	_, err := s.Sync(context.Background())
	var netErr *ics.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}

	after := s.Events()
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Fatal("failed sync replaced previous events")
	}
	if st := s.Status(); st.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
}

func TestSyncFormatError(t *testing.T) {
	s := newSyncer(fetchFunc(func(context.Context, string) ([]byte, error) {
		return []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"), nil
	}), "https://example.com/cal.ics")

	_, err := s.Sync(context.Background())
	var fmtErr *ics.FormatError
	if !errors.As(err, &fmtErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestSyncURLFallback(t *testing.T) {
	var gotURL string
	f := fetchFunc(func(_ context.Context, url string) ([]byte, error) {
		gotURL = url
		return feed(), nil
	})

	s := New(f, staticSettings{}, Options{FallbackURL: "https://fallback.example.com/a.ics", Now: func() time.Time { return now }})
	if _, err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if gotURL != "https://fallback.example.com/a.ics" {
		t.Fatalf("expected fallback url, got %q", gotURL)
	}

	empty := New(f, staticSettings{}, Options{})
	if _, err := empty.Sync(context.Background()); !errors.Is(err, ErrNoFeedURL) {
		t.Fatalf("expected ErrNoFeedURL, got %v", err)
	}
}

func TestConcurrentSyncIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s := newSyncer(fetchFunc(func(context.Context, string) ([]byte, error) {
		close(entered)
		<-release
		return feed(), nil
	}), "https://example.com/cal.ics")

	done := make(chan error, 1)
	go func() {
		_, err := s.Sync(context.Background())
		done <- err
	}()

	<-entered
	if !s.Status().InProgress {
		t.Fatal("status should report a sync in progress")
	}
	if _, err := s.Sync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if s.Status().InProgress {
		t.Fatal("sync should be finished")
	}
}

func TestEventsReturnsCopy(t *testing.T) {
	s := newSyncer(fetchFunc(func(context.Context, string) ([]byte, error) {
		return feed(), nil
	}), "https://example.com/cal.ics")
	if _, err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	events := s.Events()
	events[0].Title = "mutated"
	if s.Events()[0].Title == "mutated" {
		t.Fatal("Events must return a copy")
	}
}
