package ics

import (
	"errors"
	"strconv"
	"time"

	"github.com/teambition/rrule-go"

	appLog "taskcal/internal/log"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd is the inclusive window recurring series are
	// expanded into. Non-recurring events are kept regardless of it.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single series. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult carries the flattened events and the UIDs whose series
// hit the cap.
type ExpandResult struct {
	Events          []RawFeedEvent
	TruncatedEvents []string
}

// Expand flattens recurring VEVENTs into one RawFeedEvent per instance.
//
// Output order follows the feed: a series is replaced in place by its
// instances. EXDATEs remove instances and RECURRENCE-ID overrides
// replace them. Overrides whose series is missing are emitted as plain
// events.
func Expand(events []RawFeedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overridesByUID := make(map[string][]RawFeedEvent)
	seriesUIDs := make(map[string]bool)
	for _, ev := range events {
		if ev.IsOverride() && ev.UID != "" {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else if ev.RawRRule != "" && ev.UID != "" {
			seriesUIDs[ev.UID] = true
		}
	}

	out := make([]RawFeedEvent, 0, len(events))
	for _, ev := range events {
		if ev.IsOverride() {
			if ev.UID == "" || !seriesUIDs[ev.UID] {
				out = append(out, ev)
			}
			continue
		}
		if ev.RawRRule == "" {
			out = append(out, ev)
			continue
		}

		occ, hitCap := expandSeries(ev, overridesByUID[ev.UID], cfg)
		out = append(out, occ...)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Warn("expand: series truncated", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	result.Events = out
	return result, nil
}

func expandSeries(ev RawFeedEvent, overrides []RawFeedEvent, cfg ExpandConfig) ([]RawFeedEvent, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		// Keep the first instance rather than dropping the event.
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return []RawFeedEvent{ev}, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	times := set.Between(cfg.RangeStart.In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]RawFeedEvent, 0, len(times))
	for _, start := range times {
		inst := ev
		inst.RawRRule = ""
		inst.ExDates = nil
		inst.Start = start
		inst.End = start.Add(dur)
		if ev.AllDay {
			day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
			inst.Start = day
			inst.End = day.AddDate(0, 0, 1)
		}
		if o, ok := findOverride(overrides, start); ok {
			inst = o
		}
		inst.UID = ev.UID + "#" + strconv.FormatInt(start.Unix(), 10)
		out = append(out, inst)
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []RawFeedEvent, start time.Time) (RawFeedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return RawFeedEvent{}, false
}
