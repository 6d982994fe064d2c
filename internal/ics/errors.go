package ics

import (
	"fmt"
	"strings"
)

// NetworkError reports that the feed (or the relay in front of it) could
// not be reached or answered with a non-success status.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ics: fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("ics: fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FormatError reports a payload that is not a usable iCalendar document.
// EventIndex is -1 when the problem is not tied to a single VEVENT.
type FormatError struct {
	Reason     string
	EventIndex int
	Err        error
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("ics: invalid calendar")
	if e.EventIndex >= 0 {
		fmt.Fprintf(&b, " (event %d)", e.EventIndex)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FormatError) Unwrap() error { return e.Err }

// checkMarkers verifies the two structural markers every feed must carry.
func checkMarkers(body []byte) error {
	s := string(body)
	if !strings.Contains(s, "BEGIN:VCALENDAR") {
		return &FormatError{Reason: "missing BEGIN:VCALENDAR", EventIndex: -1}
	}
	if !strings.Contains(s, "VEVENT") {
		return &FormatError{Reason: "missing VEVENT", EventIndex: -1}
	}
	return nil
}
