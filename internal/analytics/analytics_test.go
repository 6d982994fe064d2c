package analytics

import (
	"fmt"
	"testing"
	"time"

	"taskcal/internal/model"
)

// Wednesday.
var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func mkTask(id string, status model.Status, start time.Time) model.Task {
	return model.Task{
		ID:        id,
		Title:     "task " + id,
		StartDate: start,
		EndDate:   start.Add(time.Hour),
		Status:    status,
		CreatedAt: now.AddDate(0, 0, -1),
		UpdatedAt: now.AddDate(0, 0, -1),
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	s := Analyze(nil, now, time.Monday)
	if s.CompletionRate != 0 || s.AverageCompletionTime != 0 {
		t.Fatalf("expected zeros, got %+v", s)
	}
	if s.ProductivityTrend != TrendStable {
		t.Fatalf("expected stable trend, got %s", s.ProductivityTrend)
	}
	if len(s.UpcomingDeadlines) != 0 {
		t.Fatalf("expected no deadlines, got %d", len(s.UpcomingDeadlines))
	}
	for _, c := range Categories {
		if v, ok := s.CategoryBreakdown[c]; !ok || v != 0 {
			t.Fatalf("expected zero count for %s, got %d (present=%v)", c, v, ok)
		}
	}
}

func TestCompletionRate(t *testing.T) {
	tasks := []model.Task{
		mkTask("1", model.StatusCompleted, now),
		mkTask("2", model.StatusPending, now),
		mkTask("3", model.StatusPending, now),
		mkTask("4", model.StatusCompleted, now),
	}
	if got := Analyze(tasks, now, time.Monday).CompletionRate; got != 50 {
		t.Fatalf("expected 50, got %v", got)
	}
}

func TestAverageCompletionTime(t *testing.T) {
	done := mkTask("done", model.StatusCompleted, now)
	done.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	done.UpdatedAt = time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	open := mkTask("open", model.StatusPending, now)
	open.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	open.UpdatedAt = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	if got := Analyze([]model.Task{done, open}, now, time.Monday).AverageCompletionTime; got != 3 {
		t.Fatalf("expected 3 days, got %v", got)
	}

	same := mkTask("same", model.StatusCompleted, now)
	same.UpdatedAt = same.CreatedAt
	if got := Analyze([]model.Task{same}, now, time.Monday).AverageCompletionTime; got != 0 {
		t.Fatalf("expected 0 days, got %v", got)
	}
}

func TestPendingTomorrow(t *testing.T) {
	tomorrow := now.AddDate(0, 0, 1)
	s := Analyze([]model.Task{mkTask("t", model.StatusPending, tomorrow)}, now, time.Monday)

	if len(s.UpcomingDeadlines) != 1 || s.UpcomingDeadlines[0].ID != "t" {
		t.Fatalf("expected task in upcoming deadlines, got %+v", s.UpcomingDeadlines)
	}
	if s.WeeklyStats.Overdue != 0 || s.WeeklyStats.Pending != 1 {
		t.Fatalf("unexpected weekly stats: %+v", s.WeeklyStats)
	}
}

func TestPeriodBuckets(t *testing.T) {
	tasks := []model.Task{
		mkTask("done-this-week", model.StatusCompleted, now.AddDate(0, 0, -1)),
		mkTask("overdue-this-week", model.StatusPending, now.AddDate(0, 0, -2)), // Monday
		mkTask("pending-later-month", model.StatusPending, now.AddDate(0, 0, 10)),
		mkTask("overdue-last-month", model.StatusPending, now.AddDate(0, -1, 0)),
	}
	s := Analyze(tasks, now, time.Monday)

	wantWeek := PeriodStats{Completed: 1, Pending: 0, Overdue: 1}
	if s.WeeklyStats != wantWeek {
		t.Fatalf("weekly = %+v, want %+v", s.WeeklyStats, wantWeek)
	}
	wantMonth := PeriodStats{Completed: 1, Pending: 1, Overdue: 1}
	if s.MonthlyStats != wantMonth {
		t.Fatalf("monthly = %+v, want %+v", s.MonthlyStats, wantMonth)
	}

	// With a Sunday week start, Monday Mar 2 is still inside Sun Mar 1..Sat Mar 7.
	sunday := Analyze(tasks, now, time.Sunday)
	if sunday.WeeklyStats != wantWeek {
		t.Fatalf("sunday weekly = %+v, want %+v", sunday.WeeklyStats, wantWeek)
	}
}

func TestWeekBounds(t *testing.T) {
	from, to := WeekBounds(now, time.Monday)
	if !from.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week start: %s", from)
	}
	if !to.Equal(time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)) {
		t.Fatalf("unexpected week end: %s", to)
	}
	from, _ = WeekBounds(now, time.Sunday)
	if !from.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected sunday week start: %s", from)
	}
}

func TestUpcomingDeadlinesOrderingAndLimit(t *testing.T) {
	var tasks []model.Task
	for i := 8; i >= 0; i-- {
		tasks = append(tasks, mkTask(fmt.Sprintf("d%d", i), model.StatusPending, now.Add(time.Duration(i)*20*time.Hour)))
	}
	tasks = append(tasks,
		mkTask("done", model.StatusCompleted, now.Add(time.Hour)),
		mkTask("far", model.StatusPending, now.AddDate(0, 0, 9)),
		mkTask("past", model.StatusPending, now.AddDate(0, 0, -2)),
	)

	got := Analyze(tasks, now, time.Monday).UpcomingDeadlines
	if len(got) != upcomingLimit {
		t.Fatalf("expected %d deadlines, got %d", upcomingLimit, len(got))
	}
	for i, tk := range got {
		if tk.ID != fmt.Sprintf("d%d", i) {
			t.Fatalf("position %d: got %s", i, tk.ID)
		}
		days := WholeDays(tk.StartDate.Sub(now))
		if days < 0 || days > upcomingWindowDays {
			t.Fatalf("deadline %s outside window: %d days", tk.ID, days)
		}
		if i > 0 && tk.StartDate.Before(got[i-1].StartDate) {
			t.Fatal("deadlines not ascending")
		}
	}
}

func TestProductivityTrend(t *testing.T) {
	old := func(id string, st model.Status) model.Task {
		tk := mkTask(id, st, now)
		tk.CreatedAt = now.AddDate(0, 0, -30)
		tk.UpdatedAt = tk.CreatedAt
		return tk
	}
	recent := func(id string, st model.Status) model.Task {
		return mkTask(id, st, now)
	}

	up := []model.Task{
		old("1", model.StatusPending), old("2", model.StatusPending),
		old("3", model.StatusPending), old("4", model.StatusPending),
		recent("5", model.StatusCompleted), recent("6", model.StatusCompleted),
	}
	if got := Analyze(up, now, time.Monday).ProductivityTrend; got != TrendUp {
		t.Fatalf("expected up, got %s", got)
	}

	down := []model.Task{
		old("1", model.StatusCompleted), old("2", model.StatusCompleted),
		old("3", model.StatusCompleted), old("4", model.StatusCompleted),
		recent("5", model.StatusPending), recent("6", model.StatusPending),
	}
	if got := Analyze(down, now, time.Monday).ProductivityTrend; got != TrendDown {
		t.Fatalf("expected down, got %s", got)
	}

	stable := []model.Task{recent("1", model.StatusCompleted), recent("2", model.StatusPending)}
	if got := Analyze(stable, now, time.Monday).ProductivityTrend; got != TrendStable {
		t.Fatalf("expected stable, got %s", got)
	}
}
