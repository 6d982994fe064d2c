// Package tasks applies user intents (create, edit, toggle, delete, import)
// to the persisted task collection.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "taskcal/internal/log"
	"taskcal/internal/merge"
	"taskcal/internal/model"
	"taskcal/internal/store"
)

// ErrNotFound is returned when an intent targets an unknown task id.
var ErrNotFound = store.ErrNotFound

// Repository is the persistence the service needs. *store.Store satisfies it.
type Repository interface {
	GetTasks(ctx context.Context) ([]model.Task, error)
	SaveTasks(ctx context.Context, tasks []model.Task) error
	AddTask(ctx context.Context, t model.Task) error
	UpdateTask(ctx context.Context, t model.Task) error
	DeleteTask(ctx context.Context, id string) error
}

// Input carries the user-editable fields of a task. An empty Status means
// pending on create and "unchanged" on update.
type Input struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	StartDate   time.Time    `json:"startDate"`
	EndDate     time.Time    `json:"endDate"`
	Status      model.Status `json:"status,omitempty"`
}

type Service struct {
	repo Repository
	now  func() time.Time
	mu   sync.Mutex
}

type Option func(*Service)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) List(ctx context.Context) ([]model.Task, error) {
	return s.repo.GetTasks(ctx)
}

// Get returns the task with the given id.
func (s *Service) Get(ctx context.Context, id string) (model.Task, error) {
	tasks, err := s.repo.GetTasks(ctx)
	if err != nil {
		return model.Task{}, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return model.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
}

func (s *Service) Create(ctx context.Context, in Input) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	status := in.Status
	if status == "" {
		status = model.StatusPending
	}
	t := model.Task{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	if err := s.repo.AddTask(ctx, t); err != nil {
		return model.Task{}, fmt.Errorf("adding task: %w", err)
	}
	appLog.Info("task created", "id", t.ID)
	return t, nil
}

func (s *Service) Update(ctx context.Context, id string, in Input) (model.Task, error) {
	return s.modify(ctx, id, func(t *model.Task) {
		t.Title = strings.TrimSpace(in.Title)
		t.Description = in.Description
		t.StartDate = in.StartDate
		t.EndDate = in.EndDate
		if in.Status != "" {
			t.Status = in.Status
		}
	})
}

func (s *Service) SetStatus(ctx context.Context, id string, status model.Status) (model.Task, error) {
	if !status.IsValid() {
		return model.Task{}, fmt.Errorf("%w: invalid status %q", model.ErrValidation, status)
	}
	return s.modify(ctx, id, func(t *model.Task) { t.Status = status })
}

// Toggle flips a task between pending and completed.
func (s *Service) Toggle(ctx context.Context, id string) (model.Task, error) {
	return s.modify(ctx, id, func(t *model.Task) {
		if t.IsCompleted() {
			t.Status = model.StatusPending
		} else {
			t.Status = model.StatusCompleted
		}
	})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	appLog.Info("task deleted", "id", id)
	return nil
}

// Import merges imported into the collection; existing ids win. It returns
// the number of tasks actually added.
func (s *Service) Import(ctx context.Context, imported []model.Task) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.GetTasks(ctx)
	if err != nil {
		return 0, err
	}
	merged := merge.ImportTasks(existing, imported)
	added := len(merged) - len(existing)
	if added == 0 {
		return 0, nil
	}
	if err := s.repo.SaveTasks(ctx, merged); err != nil {
		return 0, fmt.Errorf("saving imported tasks: %w", err)
	}
	appLog.Info("tasks imported", "added", added, "ignored", len(imported)-added)
	return added, nil
}

func (s *Service) modify(ctx context.Context, id string, apply func(*model.Task)) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.repo.GetTasks(ctx)
	if err != nil {
		return model.Task{}, err
	}
	var t model.Task
	found := false
	for _, cur := range tasks {
		if cur.ID == id {
			t, found = cur, true
			break
		}
	}
	if !found {
		return model.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}

	apply(&t)
	t.UpdatedAt = s.now()
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	if err := s.repo.UpdateTask(ctx, t); err != nil {
		return model.Task{}, fmt.Errorf("updating task %s: %w", id, err)
	}
	return t, nil
}
