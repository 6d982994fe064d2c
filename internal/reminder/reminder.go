// Package reminder decides which pending tasks deserve a notification and
// runs that check, together with the feed refresh, on a cron schedule.
package reminder

import (
	"context"
	"fmt"
	"time"

	"taskcal/internal/analytics"
	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

type Kind string

const (
	KindUpcoming Kind = "upcoming"
	KindTomorrow Kind = "tomorrow"
	KindOverdue  Kind = "overdue"
)

// upcoming notifications fire when a task starts within this many hours
const upcomingHours = 2

type Notification struct {
	Kind    Kind
	TaskID  string
	Title   string
	Message string
}

// Check applies the reminder rules to every pending task. The rules are
// independent, so a task can yield more than one notification.
// Calendar days are taken in now's location.
func Check(tasks []model.Task, now time.Time) []Notification {
	var out []Notification
	today := dateOf(now)
	tomorrow := today.AddDate(0, 0, 1)

	for _, t := range tasks {
		if t.IsCompleted() {
			continue
		}
		start := t.StartDate.In(now.Location())
		hours := int(start.Sub(now) / time.Hour)
		days := analytics.WholeDays(start.Sub(now))

		if dateOf(start).Equal(today) && hours > 0 && hours <= upcomingHours {
			out = append(out, Notification{
				Kind:    KindUpcoming,
				TaskID:  t.ID,
				Title:   t.Title,
				Message: fmt.Sprintf("%q starts in %d hour(s)", t.Title, hours),
			})
		}
		if dateOf(start).Equal(tomorrow) {
			out = append(out, Notification{
				Kind:    KindTomorrow,
				TaskID:  t.ID,
				Title:   t.Title,
				Message: fmt.Sprintf("Tomorrow: %q", t.Title),
			})
		}
		if days < 0 {
			out = append(out, Notification{
				Kind:    KindOverdue,
				TaskID:  t.ID,
				Title:   t.Title,
				Message: fmt.Sprintf("%q was due %d day(s) ago", t.Title, -days),
			})
		}
	}
	return out
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	appLog.Info("reminder", "kind", string(n.Kind), "task", n.TaskID, "message", n.Message)
	return nil
}

// TaskSource lists the current task collection.
type TaskSource interface {
	List(ctx context.Context) ([]model.Task, error)
}

// CheckJob returns a job that loads the tasks, applies Check at the
// current time and hands every notification to notifier.
func CheckJob(src TaskSource, notifier Notifier, now func() time.Time) func(context.Context) {
	return func(ctx context.Context) {
		tasks, err := src.List(ctx)
		if err != nil {
			appLog.Error("reminder: list tasks failed", err)
			return
		}
		notes := Check(tasks, now())
		for _, n := range notes {
			if err := notifier.Notify(ctx, n); err != nil {
				appLog.Error("reminder: notify failed", err, "task", n.TaskID, "kind", string(n.Kind))
			}
		}
		appLog.Debug("reminder check done", "tasks", len(tasks), "notifications", len(notes))
	}
}
