// Package transfer moves the task collection in and out of the system as
// JSON backups and CSV reports.
package transfer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"taskcal/internal/model"
)

// maximum accepted import payload
const maxImportBytes = 16 << 20

var csvHeader = []string{"Title", "Description", "Start", "End", "Status", "Created", "Updated"}

// ExportJSON writes tasks as an indented JSON array.
func ExportJSON(w io.Writer, tasks []model.Task) error {
	if tasks == nil {
		tasks = []model.Task{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tasks); err != nil {
		return fmt.Errorf("encoding tasks: %w", err)
	}
	return nil
}

// ExportCSV writes one row per task. Title and description are always
// quoted; the remaining columns never contain separators.
func ExportCSV(w io.Writer, tasks []model.Task) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(csvHeader, ","))
	bw.WriteString("\n")
	for _, t := range tasks {
		row := []string{
			quote(t.Title),
			quote(t.Description),
			t.StartDate.Format(time.RFC3339),
			t.EndDate.Format(time.RFC3339),
			t.Status.Label(),
			t.CreatedAt.Format(time.RFC3339),
			t.UpdatedAt.Format(time.RFC3339),
		}
		bw.WriteString(strings.Join(row, ","))
		bw.WriteString("\n")
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ImportResult is the outcome of decoding an import payload.
type ImportResult struct {
	Tasks   []model.Task
	Dropped int
}

var ErrNotArray = errors.New("import payload is not a JSON array")

// DecodeImport reads a JSON array of task records. Records missing id,
// title, startDate or endDate, or with unparsable or inverted dates, are
// dropped and counted. Missing timestamps default to now.
func DecodeImport(r io.Reader, now time.Time) (ImportResult, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxImportBytes))
	if err != nil {
		return ImportResult{}, fmt.Errorf("reading import: %w", err)
	}

	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		return ImportResult{}, ErrNotArray
	}
	var records []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
		return ImportResult{}, fmt.Errorf("decoding import: %w", err)
	}

	res := ImportResult{Tasks: make([]model.Task, 0, len(records))}
	for _, raw := range records {
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			res.Dropped++
			continue
		}
		t, ok := taskFromRecord(rec, now)
		if !ok {
			res.Dropped++
			continue
		}
		res.Tasks = append(res.Tasks, t)
	}
	return res, nil
}

func taskFromRecord(rec map[string]any, now time.Time) (model.Task, bool) {
	if rec == nil {
		return model.Task{}, false
	}
	id, title := strings.TrimSpace(str(rec, "id")), str(rec, "title")
	rawStart, rawEnd := strings.TrimSpace(str(rec, "startDate")), strings.TrimSpace(str(rec, "endDate"))
	if id == "" || strings.TrimSpace(title) == "" || rawStart == "" || rawEnd == "" {
		return model.Task{}, false
	}
	start, err1 := time.Parse(time.RFC3339, rawStart)
	end, err2 := time.Parse(time.RFC3339, rawEnd)
	if err1 != nil || err2 != nil || end.Before(start) {
		return model.Task{}, false
	}

	status := model.Status(str(rec, "status"))
	if !status.IsValid() {
		status = model.StatusPending
	}
	created := timeOr(strings.TrimSpace(str(rec, "createdAt")), now)
	updated := timeOr(strings.TrimSpace(str(rec, "updatedAt")), now)
	if updated.Before(created) {
		updated = created
	}

	return model.Task{
		ID:          id,
		Title:       title,
		Description: str(rec, "description"),
		StartDate:   start,
		EndDate:     end,
		Status:      status,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, true
}

func str(rec map[string]any, key string) string {
	s, _ := rec[key].(string)
	return s
}

func timeOr(v string, fallback time.Time) time.Time {
	if v == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fallback
	}
	return t
}
