package analytics

import (
	"taskcal/internal/keyword"
	"taskcal/internal/model"
)

// Category labels, in classification priority order.
const (
	CategoryAcademic       = "Academic"
	CategoryMeetings       = "Meetings"
	CategoryEvents         = "Events"
	CategoryAdministrative = "Administrative"
	CategoryOther          = "Other"
)

// Categories lists every label Categorize can return.
var Categories = []string{
	CategoryAcademic,
	CategoryMeetings,
	CategoryEvents,
	CategoryAdministrative,
	CategoryOther,
}

type categoryRule struct {
	label    string
	keywords []string
}

// categoryRules is scanned in order; first hit wins.
var categoryRules = []categoryRule{
	{CategoryAcademic, []string{"clase", "examen", "estudio", "tarea", "class", "exam", "study", "homework"}},
	{CategoryMeetings, []string{"reunión", "junta", "meeting"}},
	{CategoryEvents, []string{"evento", "actividad", "celebración", "event", "activity", "celebration"}},
	{CategoryAdministrative, []string{"documento", "trámite", "gestión", "document", "paperwork", "administrative"}},
}

// Categorize assigns a task to exactly one category using the words of its
// title and description.
func Categorize(t model.Task) string {
	tokens := keyword.Tokens(t.Title + " " + t.Description)
	for _, r := range categoryRules {
		if keyword.Match(tokens, r.keywords) {
			return r.label
		}
	}
	return CategoryOther
}

func categoryBreakdown(tasks []model.Task) map[string]int {
	out := make(map[string]int, len(Categories))
	for _, c := range Categories {
		out[c] = 0
	}
	for _, t := range tasks {
		out[Categorize(t)]++
	}
	return out
}
