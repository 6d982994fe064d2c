// Package merge combines task-derived and feed-derived calendar events and
// merges imported tasks into the local collection.
package merge

import (
	"taskcal/internal/ics"
	"taskcal/internal/model"
)

// TaskEvent maps a task onto the calendar: green when completed, blue
// otherwise.
func TaskEvent(t model.Task) model.CalendarEvent {
	color := ics.ColorBlue
	if t.IsCompleted() {
		color = ics.ColorGreen
	}
	end := t.EndDate
	return model.CalendarEvent{
		ID:              t.ID,
		Title:           t.Title,
		Start:           t.StartDate,
		End:             &end,
		BackgroundColor: color,
		BorderColor:     color,
		ExtendedProps: model.ExtendedProps{
			IsTask:      true,
			Status:      t.Status,
			Description: t.Description,
		},
	}
}

// Events returns task events followed by the external events, each group
// in input order. Task ids and feed ids live in disjoint spaces, so no
// cross-set dedup happens here.
func Events(tasks []model.Task, external []model.CalendarEvent) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(tasks)+len(external))
	for _, t := range tasks {
		out = append(out, TaskEvent(t))
	}
	return append(out, external...)
}

// ImportTasks appends imported to existing and drops every task whose id
// was already seen. Existing tasks therefore always win over imported
// ones sharing their id.
func ImportTasks(existing, imported []model.Task) []model.Task {
	out := make([]model.Task, 0, len(existing)+len(imported))
	seen := make(map[string]struct{}, len(existing)+len(imported))
	for _, group := range [][]model.Task{existing, imported} {
		for _, t := range group {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
