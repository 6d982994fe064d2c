package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"taskcal/internal/keyword"
	"taskcal/internal/model"
)

// UntitledEvent replaces an empty SUMMARY.
const UntitledEvent = "Untitled"

// Event colors.
const (
	ColorBlue   = "#3B82F6"
	ColorRed    = "#EF4444"
	ColorAmber  = "#F59E0B"
	ColorGreen  = "#10B981"
	ColorPurple = "#8B5CF6"
	ColorGray   = "#6B7280"
)

type colorGroup struct {
	color    string
	keywords []string
}

// colorGroups is evaluated top to bottom; the first group with a keyword
// among the title's words wins. Do not reorder.
var colorGroups = []colorGroup{
	{ColorBlue, []string{"clase", "cátedra", "class", "lecture"}},
	{ColorRed, []string{"examen", "prueba", "exam", "quiz"}},
	{ColorAmber, []string{"reunión", "meeting"}},
	{ColorGreen, []string{"taller", "laboratorio", "workshop", "laboratory"}},
	{ColorPurple, []string{"entrega", "deadline", "submission"}},
}

// EventColor classifies a title into a color tag.
func EventColor(title string) string {
	tokens := keyword.Tokens(title)
	for _, g := range colorGroups {
		if keyword.Match(tokens, g.keywords) {
			return g.color
		}
	}
	return ColorGray
}

// IDMode selects how feed events get their ids.
type IDMode int

const (
	// IDByIndex derives ids from batch index and fetch time. Ids change on
	// every sync.
	IDByIndex IDMode = iota
	// IDByContent hashes UID, summary and start so re-syncs keep ids.
	// Events without a UID also hash their feed index.
	IDByContent
)

// Normalizer maps raw feed events to calendar events.
type Normalizer struct {
	Mode IDMode
}

// Normalize converts one raw event at position index of a batch fetched
// at fetchedAt.
func (n Normalizer) Normalize(ev RawFeedEvent, index int, fetchedAt time.Time) model.CalendarEvent {
	title := ev.Summary
	if title == "" {
		title = UntitledEvent
	}
	color := EventColor(ev.Summary)

	out := model.CalendarEvent{
		ID:              n.eventID(ev, index, fetchedAt),
		Title:           title,
		Start:           ev.Start,
		BackgroundColor: color,
		BorderColor:     color,
		ExtendedProps: model.ExtendedProps{
			IsExternal:  true,
			Description: ev.Description,
			Location:    ev.Location,
			Organizer:   ev.Organizer,
		},
	}
	if !ev.End.IsZero() {
		end := ev.End
		out.End = &end
	}
	return out
}

// NormalizeAll converts a batch, numbering events by their position.
func (n Normalizer) NormalizeAll(events []RawFeedEvent, fetchedAt time.Time) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(events))
	for i, ev := range events {
		out = append(out, n.Normalize(ev, i, fetchedAt))
	}
	return out
}

func (n Normalizer) eventID(ev RawFeedEvent, index int, fetchedAt time.Time) string {
	if n.Mode == IDByContent {
		key := ev.UID + "|" + ev.Summary + "|" + ev.Start.UTC().Format(time.RFC3339)
		if ev.UID == "" {
			// without a UID, identical summary+start would collide
			key += "|" + strconv.Itoa(ev.Index)
		}
		sum := sha256.Sum256([]byte(key))
		return "cal-" + hex.EncodeToString(sum[:8])
	}
	return fmt.Sprintf("cal-%d-%d", index, fetchedAt.UnixMilli())
}
