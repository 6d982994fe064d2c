package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "taskcal/internal/log"
)

// RawFeedEvent is one VEVENT as read from the feed, before
// normalization. It only lives for the duration of a sync.
type RawFeedEvent struct {
	// Index is the position of the VEVENT inside the feed.
	Index int

	UID         string
	Summary     string
	Description string
	Location    string
	Organizer   string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on override instances
}

// IsOverride reports whether this VEVENT replaces one instance of a
// recurring series.
func (e RawFeedEvent) IsOverride() bool {
	return e.Recurrence != nil
}

// ParseResult is the outcome of parsing one feed payload.
type ParseResult struct {
	Events []RawFeedEvent
	// Skipped lists the feed indexes of VEVENTs dropped for lacking a
	// usable DTSTART.
	Skipped []int
}

// Parse reads an iCalendar payload into raw events.
//
// Line folding and TEXT escaping are handled by the underlying parser.
// VEVENTs without a usable DTSTART are skipped and reported in
// ParseResult.Skipped; the rest of the feed still parses. A payload that
// is not a calendar at all yields a *FormatError.
func Parse(body []byte) (ParseResult, error) {
	var result ParseResult
	if len(body) == 0 {
		return result, &FormatError{Reason: "empty payload", EventIndex: -1}
	}
	if err := checkMarkers(body); err != nil {
		return result, err
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return result, &FormatError{Reason: "unparseable calendar", EventIndex: -1, Err: err}
	}

	vevents := cal.Events()
	result.Events = make([]RawFeedEvent, 0, len(vevents))
	for i, ve := range vevents {
		ev, perr := parseVEvent(i, ve)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "index", i, "reason", perr.Error())
			result.Skipped = append(result.Skipped, i)
			continue
		}
		result.Events = append(result.Events, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(result.Events), "skipped", len(result.Skipped))
	return result, nil
}

func parseVEvent(index int, ve *ical.VEvent) (RawFeedEvent, error) {
	out := RawFeedEvent{Index: index}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, &FormatError{Reason: "missing DTSTART", EventIndex: index}
	}
	out.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		// Unknown TZIDs (e.g. Windows zone names) fail in the library;
		// fall back to reading the wall clock in the local zone.
		start, err = parseICSTime(dtStart.Value)
		if err != nil {
			return out, &FormatError{Reason: "bad DTSTART", EventIndex: index, Err: err}
		}
	}
	out.Start = start

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, err := ve.GetEndAt()
		if err != nil {
			end, err = parseICSTime(dtEnd.Value)
		}
		if err == nil {
			out.End = end
		}
	}
	if out.End.IsZero() || out.End.Before(out.Start) {
		// No usable DTEND: all-day events span one day, timed events are
		// instantaneous.
		if out.AllDay {
			out.End = out.Start.AddDate(0, 0, 1)
		} else {
			out.End = out.Start
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		out.Organizer = organizerName(p)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTimeIn(part, paramLocation(p)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, err := parseICSTimeIn(p.Value, paramLocation(p)); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// organizerName prefers the CN parameter and otherwise strips the
// mailto: scheme from the calendar address.
func organizerName(p *ical.IANAProperty) string {
	if cn, ok := p.ICalParameters[string(ical.ParameterCn)]; ok && len(cn) > 0 && cn[0] != "" {
		return strings.Trim(cn[0], `"`)
	}
	v := p.Value
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return v
}

func paramLocation(p *ical.IANAProperty) *time.Location {
	if tz, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(tz) == 1 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	return time.Local
}

func parseICSTime(v string) (time.Time, error) {
	return parseICSTimeIn(v, time.Local)
}

// parseICSTimeIn parses the DATE / DATE-TIME / UTC forms of an iCalendar
// time value. Floating values are read in loc.
func parseICSTimeIn(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	case len(v) == 8:
		return time.ParseInLocation("20060102", v, loc)
	}
	return time.Time{}, fmt.Errorf("unsupported time value %q", v)
}
