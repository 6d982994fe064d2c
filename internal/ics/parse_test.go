package ics

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// crlf joins lines the way feeds put them on the wire.
func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func sampleFeed() []byte {
	return crlf(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//taskcal//test//EN",
		"BEGIN:VEVENT",
		"UID:one@example.com",
		"DTSTART:20260302T090000Z",
		"DTEND:20260302T103000Z",
		"SUMMARY:Weekly team meet",
		" ing",
		"DESCRIPTION:Agenda: budget\\, hiring\\nBring notes",
		"LOCATION:Room 4",
		"ORGANIZER;CN=Ana Ruiz:mailto:ana@example.com",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:broken@example.com",
		"SUMMARY:No start here",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:allday@example.com",
		"DTSTART;VALUE=DATE:20260305",
		"SUMMARY:Entrega informe",
		"END:VEVENT",
		"END:VCALENDAR",
	)
}

func TestParseReadsEventsAndSkipsMissingStart(t *testing.T) {
	res, err := Parse(sampleFeed())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(res.Events))
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != 1 {
		t.Fatalf("expected event index 1 to be skipped, got %v", res.Skipped)
	}

	first := res.Events[0]
	if first.Summary != "Weekly team meeting" {
		t.Fatalf("folded summary not unfolded: %q", first.Summary)
	}
	if first.Description != "Agenda: budget, hiring\nBring notes" {
		t.Fatalf("escapes not decoded: %q", first.Description)
	}
	if first.Organizer != "Ana Ruiz" {
		t.Fatalf("unexpected organizer: %q", first.Organizer)
	}
	if first.Location != "Room 4" {
		t.Fatalf("unexpected location: %q", first.Location)
	}
	wantStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !first.Start.Equal(wantStart) || !first.End.Equal(wantStart.Add(90*time.Minute)) {
		t.Fatalf("unexpected range: %s - %s", first.Start, first.End)
	}

	allDay := res.Events[1]
	if !allDay.AllDay {
		t.Fatal("expected VALUE=DATE event to be all-day")
	}
	if allDay.Index != 2 {
		t.Fatalf("expected feed index 2, got %d", allDay.Index)
	}
	if got := allDay.End.Sub(allDay.Start); got != 24*time.Hour {
		t.Fatalf("all-day event without DTEND should span a day, got %s", got)
	}
}

func TestParseRejectsMissingMarkers(t *testing.T) {
	cases := map[string][]byte{
		"no calendar": []byte("hello world"),
		"no events":   crlf("BEGIN:VCALENDAR", "VERSION:2.0", "END:VCALENDAR"),
		"empty":       nil,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(body)
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %v", err)
			}
		})
	}
}

func TestParseOrganizerWithoutCN(t *testing.T) {
	body := crlf(
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:x",
		"DTSTART:20260302T090000Z",
		"ORGANIZER:mailto:dean@example.com",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	res, err := Parse(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Events[0].Organizer != "dean@example.com" {
		t.Fatalf("unexpected organizer: %q", res.Events[0].Organizer)
	}
	if res.Events[0].Summary != "" {
		t.Fatalf("expected empty summary, got %q", res.Events[0].Summary)
	}
}

func TestParseICSTimeIn(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	got, err := parseICSTimeIn("20260302T090000", loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Location() != loc || got.Hour() != 9 {
		t.Fatalf("unexpected time: %s", got)
	}
	if _, err := parseICSTimeIn("2026", loc); err == nil {
		t.Fatal("expected error for short value")
	}
}
