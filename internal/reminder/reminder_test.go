package reminder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"taskcal/internal/model"
)

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func pending(id string, start time.Time) model.Task {
	return model.Task{
		ID:        id,
		Title:     "Task " + id,
		StartDate: start,
		EndDate:   start.Add(time.Hour),
		Status:    model.StatusPending,
	}
}

func kinds(notes []Notification, id string) []Kind {
	var out []Kind
	for _, n := range notes {
		if n.TaskID == id {
			out = append(out, n.Kind)
		}
	}
	return out
}

func TestCheckRules(t *testing.T) {
	done := pending("done", now.Add(-48*time.Hour))
	done.Status = model.StatusCompleted

	tasks := []model.Task{
		pending("soon", now.Add(90*time.Minute)),
		pending("too-soon", now.Add(30*time.Minute)),
		pending("later-today", now.Add(5*time.Hour)),
		pending("tomorrow", now.Add(20*time.Hour)),
		pending("overdue", now.Add(-50*time.Hour)),
		pending("earlier-today", now.Add(-3*time.Hour)),
		done,
	}
	notes := Check(tasks, now)

	cases := map[string][]Kind{
		"soon":          {KindUpcoming},
		"too-soon":      nil, // under one whole hour
		"later-today":   nil,
		"tomorrow":      {KindTomorrow},
		"overdue":       {KindOverdue},
		"earlier-today": nil, // less than a whole day late
		"done":          nil,
	}
	for id, want := range cases {
		got := kinds(notes, id)
		if len(got) != len(want) {
			t.Errorf("%s: got %v, want %v", id, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s: got %v, want %v", id, got, want)
			}
		}
	}
}

type listFunc func(ctx context.Context) ([]model.Task, error)

func (f listFunc) List(ctx context.Context) ([]model.Task, error) { return f(ctx) }

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func TestCheckJobDeliversNotifications(t *testing.T) {
	src := listFunc(func(context.Context) ([]model.Task, error) {
		return []model.Task{pending("t", now.Add(24*time.Hour))}, nil
	})
	rec := &recordingNotifier{}

	CheckJob(src, rec, func() time.Time { return now })(context.Background())
	if len(rec.notes) != 1 || rec.notes[0].Kind != KindTomorrow {
		t.Fatalf("unexpected notifications: %+v", rec.notes)
	}

	failing := listFunc(func(context.Context) ([]model.Task, error) { return nil, errors.New("db down") })
	CheckJob(failing, rec, func() time.Time { return now })(context.Background())
	if len(rec.notes) != 1 {
		t.Fatalf("failing source must not notify, got %+v", rec.notes)
	}
}

func TestSchedulerRunsAndStops(t *testing.T) {
	s := NewScheduler(time.UTC)
	ran := make(chan struct{}, 4)

	if err := s.AddJob("tick", "@every 1s", func(ctx context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("add job: %v", err)
	}
	if err := s.AddJob("broken", "not a cron", func(context.Context) {}); err == nil {
		t.Fatal("expected invalid spec error")
	}

	s.Start()
	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.AddJob("late", "@every 1s", func(context.Context) {}); !errors.Is(err, ErrSchedulerStopped) {
		t.Fatalf("expected ErrSchedulerStopped, got %v", err)
	}
	// second stop is a no-op
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestSchedulerJobContextCancelledOnStop(t *testing.T) {
	s := NewScheduler(time.UTC)
	started := make(chan struct{})
	finished := make(chan struct{})

	var once sync.Once
	if err := s.AddJob("blocking", "@every 1s", func(ctx context.Context) {
		once.Do(func() {
			close(started)
			<-ctx.Done()
			close(finished)
		})
	}); err != nil {
		t.Fatalf("add job: %v", err)
	}
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-finished:
	default:
		t.Fatal("job context was not cancelled before Stop returned")
	}
}

func TestJobChainSkipsOverlappingRuns(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	job := jobChain("slow").Then(cron.FuncJob(func() {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	}))

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-entered

	job.Run() // overlaps the blocked run and must return immediately
	close(release)
	<-done
	if got := calls.Load(); got != 1 {
		t.Fatalf("overlapping run executed, calls = %d", got)
	}

	job.Run()
	if got := calls.Load(); got != 2 {
		t.Fatalf("run after completion skipped, calls = %d", got)
	}
}

func TestJobChainRecoversPanics(t *testing.T) {
	var calls int
	job := jobChain("flaky").Then(cron.FuncJob(func() {
		calls++
		panic("boom")
	}))

	job.Run()
	job.Run() // a panic must not leave the job marked as running
	if calls != 2 {
		t.Fatalf("expected 2 runs after panics, got %d", calls)
	}
}
