// Package analytics derives productivity metrics from the task collection.
// Everything here is a pure function of its inputs.
package analytics

import (
	"sort"
	"time"

	"taskcal/internal/model"
)

const (
	day = 24 * time.Hour

	upcomingWindowDays = 7
	upcomingLimit      = 5
	recentWindowDays   = 14
	trendThreshold     = 10.0
)

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// PeriodStats buckets tasks of one period.
type PeriodStats struct {
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Overdue   int `json:"overdue"`
}

// Snapshot is the derived analytics view. It is never persisted.
type Snapshot struct {
	CompletionRate        float64        `json:"completionRate"`
	AverageCompletionTime float64        `json:"averageCompletionTime"`
	ProductivityTrend     Trend          `json:"productivityTrend"`
	WeeklyStats           PeriodStats    `json:"weeklyStats"`
	MonthlyStats          PeriodStats    `json:"monthlyStats"`
	CategoryBreakdown     map[string]int `json:"categoryBreakdown"`
	UpcomingDeadlines     []model.Task   `json:"upcomingDeadlines"`
}

// Analyze computes a Snapshot as of now. Week and month boundaries are
// taken in now's location; weekStart picks the first weekday.
func Analyze(tasks []model.Task, now time.Time, weekStart time.Weekday) Snapshot {
	weekFrom, weekTo := WeekBounds(now, weekStart)
	monthFrom, monthTo := MonthBounds(now)

	overall := completionRate(tasks)
	return Snapshot{
		CompletionRate:        overall,
		AverageCompletionTime: averageCompletionDays(tasks),
		ProductivityTrend:     trend(tasks, now, overall),
		WeeklyStats:           periodStats(tasks, now, weekFrom, weekTo),
		MonthlyStats:          periodStats(tasks, now, monthFrom, monthTo),
		CategoryBreakdown:     categoryBreakdown(tasks),
		UpcomingDeadlines:     upcomingDeadlines(tasks, now),
	}
}

// WholeDays truncates d to full days toward zero.
func WholeDays(d time.Duration) int {
	return int(d / day)
}

// WeekBounds returns the inclusive bounds of the week containing now.
func WeekBounds(now time.Time, weekStart time.Weekday) (time.Time, time.Time) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := (int(now.Weekday()) - int(weekStart) + 7) % 7
	from := midnight.AddDate(0, 0, -offset)
	return from, from.AddDate(0, 0, 7).Add(-time.Nanosecond)
}

// MonthBounds returns the inclusive bounds of the month containing now.
func MonthBounds(now time.Time) (time.Time, time.Time) {
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return from, from.AddDate(0, 1, 0).Add(-time.Nanosecond)
}

func completionRate(tasks []model.Task) float64 {
	if len(tasks) == 0 {
		return 0
	}
	completed := 0
	for _, t := range tasks {
		if t.IsCompleted() {
			completed++
		}
	}
	return float64(completed) / float64(len(tasks)) * 100
}

func averageCompletionDays(tasks []model.Task) float64 {
	total, n := 0, 0
	for _, t := range tasks {
		if !t.IsCompleted() {
			continue
		}
		total += WholeDays(t.UpdatedAt.Sub(t.CreatedAt))
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(total) / float64(n)
}

func periodStats(tasks []model.Task, now, from, to time.Time) PeriodStats {
	var s PeriodStats
	for _, t := range tasks {
		if t.StartDate.Before(from) || t.StartDate.After(to) {
			continue
		}
		switch {
		case t.IsCompleted():
			s.Completed++
		case t.StartDate.Before(now):
			s.Overdue++
		default:
			s.Pending++
		}
	}
	return s
}

func upcomingDeadlines(tasks []model.Task, now time.Time) []model.Task {
	out := make([]model.Task, 0, upcomingLimit)
	for _, t := range tasks {
		if t.IsCompleted() {
			continue
		}
		days := WholeDays(t.StartDate.Sub(now))
		if days >= 0 && days <= upcomingWindowDays {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate.Before(out[j].StartDate)
	})
	if len(out) > upcomingLimit {
		out = out[:upcomingLimit]
	}
	return out
}

// trend compares the completion rate of tasks created in the last two
// weeks with the overall rate.
func trend(tasks []model.Task, now time.Time, overall float64) Trend {
	recent := make([]model.Task, 0)
	for _, t := range tasks {
		if WholeDays(now.Sub(t.CreatedAt)) <= recentWindowDays {
			recent = append(recent, t)
		}
	}
	rate := completionRate(recent)
	switch {
	case rate > overall+trendThreshold:
		return TrendUp
	case rate < overall-trendThreshold:
		return TrendDown
	default:
		return TrendStable
	}
}
