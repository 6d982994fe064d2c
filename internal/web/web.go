package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskcal/internal/analytics"
	"taskcal/internal/config"
	"taskcal/internal/feedsync"
	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
	"taskcal/internal/merge"
	"taskcal/internal/model"
	"taskcal/internal/tasks"
	"taskcal/internal/transfer"
)

// request bodies above this size are rejected
const maxBodyBytes = 1 << 20

// TaskService is the subset of *tasks.Service the API drives.
type TaskService interface {
	List(ctx context.Context) ([]model.Task, error)
	Get(ctx context.Context, id string) (model.Task, error)
	Create(ctx context.Context, in tasks.Input) (model.Task, error)
	Update(ctx context.Context, id string, in tasks.Input) (model.Task, error)
	Toggle(ctx context.Context, id string) (model.Task, error)
	SetStatus(ctx context.Context, id string, status model.Status) (model.Task, error)
	Delete(ctx context.Context, id string) error
	Import(ctx context.Context, imported []model.Task) (int, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

// FeedSyncer is the subset of *feedsync.Syncer the API drives.
type FeedSyncer interface {
	Sync(ctx context.Context) (feedsync.SyncResult, error)
	Events() []model.CalendarEvent
	Status() feedsync.Status
}

type Deps struct {
	Tasks    TaskService
	Settings SettingsStore
	Feed     FeedSyncer
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server exposes tasks, merged calendar events, analytics and settings
// over HTTP.
type Server struct {
	cfg  *config.Config
	mux  *http.ServeMux
	deps Deps
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{
		cfg:  cfg,
		mux:  http.NewServeMux(),
		deps: deps,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// empty credentials disable auth
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="taskcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/sync", s.handleSyncStatus)
	s.mux.HandleFunc("POST /api/sync", s.handleSync)
	s.mux.HandleFunc("GET /api/analytics", s.handleAnalytics)

	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/export", s.handleExport)
	s.mux.HandleFunc("POST /api/tasks/import", s.handleImport)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/toggle", s.handleToggleTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}/status", s.handleSetTaskStatus)

	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleEvents returns task events followed by feed events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tasks.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merge.Events(list, s.deps.Feed.Events()))
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Feed.Status())
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Feed.Sync(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, res)
		return
	}

	var netErr *ics.NetworkError
	var fmtErr *ics.FormatError
	switch {
	case errors.Is(err, feedsync.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, feedsync.ErrNoFeedURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &netErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &fmtErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		appLog.Error("sync failed", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tasks.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	now := s.deps.Now().In(s.location())
	writeJSON(w, http.StatusOK, analytics.Analyze(list, now, s.weekStart()))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tasks.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.Input
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.deps.Tasks.Create(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.Input
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.deps.Tasks.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tasks.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Tasks.Toggle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type statusRequest struct {
	Status model.Status `json:"status"`
}

func (s *Server) handleSetTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.deps.Tasks.SetStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type importResponse struct {
	Added   int `json:"added"`
	Ignored int `json:"ignored"`
	Dropped int `json:"dropped"`
}

// handleImport accepts a JSON backup. Invalid records are dropped and
// records whose id already exists are ignored.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	res, err := transfer.DecodeImport(r.Body, s.deps.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.deps.Tasks.Import(r.Context(), res.Tasks)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		Added:   added,
		Ignored: len(res.Tasks) - added,
		Dropped: res.Dropped,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Tasks.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	stamp := s.deps.Now().In(s.location()).Format("2006-01-02")
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="tasks-%s.json"`, stamp))
		err = transfer.ExportJSON(w, list)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="tasks-%s.csv"`, stamp))
		err = transfer.ExportCSV(w, list)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}
	if err != nil {
		appLog.Error("export failed", err)
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Settings.GetSettings(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := decodeBody(w, r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings.CalendarURL = strings.TrimSpace(settings.CalendarURL)
	if err := validateFeedURL(settings.CalendarURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Settings.SaveSettings(r.Context(), settings); err != nil {
		s.writeServiceError(w, err)
		return
	}
	appLog.Info("settings saved", "calendar_url", appLog.RedactURL(settings.CalendarURL))
	writeJSON(w, http.StatusOK, settings)
}

// validateFeedURL accepts an empty value (no feed) or an absolute
// http(s)/webcal URL.
func validateFeedURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid calendarUrl %q", raw)
	}
	switch u.Scheme {
	case "http", "https", "webcal":
		return nil
	}
	return fmt.Errorf("unsupported calendarUrl scheme %q", u.Scheme)
}

func (s *Server) location() *time.Location {
	if s.cfg == nil {
		return time.Local
	}
	return s.cfg.Location()
}

func (s *Server) weekStart() time.Weekday {
	if s.cfg == nil {
		return time.Monday
	}
	return s.cfg.WeekStartDay()
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tasks.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
