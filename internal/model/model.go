package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation is wrapped by every task validation failure.
var ErrValidation = errors.New("model: validation failed")

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusCompleted
}

// Label is the human-facing status name used in tabular exports.
func (s Status) Label() string {
	if s == StatusCompleted {
		return "Completed"
	}
	return "Pending"
}

// Task is a user-owned unit of work. The JSON shape is also the
// export/import format.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (t Task) IsCompleted() bool {
	return t.Status == StatusCompleted
}

// Validate checks the invariants every accepted task must hold.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if t.StartDate.IsZero() || t.EndDate.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrValidation)
	}
	if t.EndDate.Before(t.StartDate) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrValidation,
			t.EndDate.Format(time.RFC3339), t.StartDate.Format(time.RFC3339))
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, t.Status)
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return fmt.Errorf("%w: updatedAt is before createdAt", ErrValidation)
	}
	return nil
}

// CalendarEvent is the unified renderable event. Task-derived events reuse
// the task id; feed-derived events carry a synthetic id.
type CalendarEvent struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Start           time.Time     `json:"start"`
	End             *time.Time    `json:"end,omitempty"`
	BackgroundColor string        `json:"backgroundColor,omitempty"`
	BorderColor     string        `json:"borderColor,omitempty"`
	ExtendedProps   ExtendedProps `json:"extendedProps"`
}

// ExtendedProps distinguishes event origin. Exactly one of IsTask and
// IsExternal is set.
type ExtendedProps struct {
	IsTask      bool   `json:"isTask,omitempty"`
	Status      Status `json:"status,omitempty"`
	IsExternal  bool   `json:"isExternal,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Organizer   string `json:"organizer,omitempty"`
}

// Settings is the persisted user settings record.
type Settings struct {
	CalendarURL string `json:"calendarUrl"`
	UserName    string `json:"userName,omitempty"`
	IsFirstRun  bool   `json:"isFirstRun"`
}

func DefaultSettings() Settings {
	return Settings{IsFirstRun: true}
}
