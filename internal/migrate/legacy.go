// Package migrate imports the single-file JSON backups written before data
// lived in per-entity files.
//
// A backup is either an object
//
//	{"tasks": [...], "journals": [...], "projects": [...]}
//
// or a bare array of tasks, as the oldest clients exported. Entities that
// already exist in the store are kept unless Options.Overwrite is set.
package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flowy-gtd/flowy/internal/format"
	"github.com/flowy-gtd/flowy/internal/fs"
	"github.com/flowy-gtd/flowy/internal/store"
)

// ErrEmptyBackup is returned by Parse when the input holds no JSON value.
var ErrEmptyBackup = errors.New("backup is empty")

// LegacyJournal is a journal as stored in a backup. Date is YYYY-MM-DD;
// longer timestamps are truncated to their day.
type LegacyJournal struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Backup is the decoded content of a legacy backup file.
type Backup struct {
	Tasks    []format.Task     `json:"tasks"`
	Journals []LegacyJournal   `json:"journals"`
	Projects []*format.Project `json:"projects"`
}

// Options controls an import.
type Options struct {
	DryRun    bool // Count what would change without writing
	Overwrite bool // Replace entities that already exist
}

// Result contains statistics about the import
type Result struct {
	TasksImported    int
	TasksSkipped     int
	JournalsImported int
	JournalsSkipped  int
	ProjectsImported int
	ProjectsSkipped  int
	Errors           []string
}

// Parse decodes a backup from r.
func Parse(r io.Reader) (*Backup, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyBackup
	}

	var b Backup
	if data[0] == '[' {
		if err := json.Unmarshal(data, &b.Tasks); err != nil {
			return nil, fmt.Errorf("invalid task array: %w", err)
		}
		return &b, nil
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("invalid backup: %w", err)
	}
	return &b, nil
}

// ReadFile parses the backup at path.
func ReadFile(path string) (*Backup, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Import writes the contents of b into st and flushes it. Invalid entities
// are recorded in Result.Errors and skipped; the import continues.
func Import(ctx context.Context, st *store.Store, b *Backup, opts Options) (*Result, error) {
	result := &Result{}

	if err := importTasks(ctx, st, b.Tasks, opts, result); err != nil {
		return result, err
	}
	if err := importJournals(ctx, st, b.Journals, opts, result); err != nil {
		return result, err
	}
	if err := importProjects(ctx, st, b.Projects, opts, result); err != nil {
		return result, err
	}

	if opts.DryRun {
		return result, nil
	}
	if err := st.Flush(ctx); err != nil {
		return result, fmt.Errorf("failed to flush imported data: %w", err)
	}
	return result, nil
}

func importTasks(ctx context.Context, st *store.Store, tasks []format.Task, opts Options, result *Result) error {
	if len(tasks) == 0 {
		return nil
	}

	merge := func(existing []format.Task) ([]format.Task, error) {
		index := make(map[string]int, len(existing))
		for i, t := range existing {
			index[t.ID] = i
		}
		for _, t := range tasks {
			t.SetDefaults()
			if t.Completed {
				t.List = format.ListDone
			}
			if err := t.Validate(); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("task %q: %v", t.Title, err))
				continue
			}
			i, ok := index[t.ID]
			switch {
			case !ok:
				index[t.ID] = len(existing)
				existing = append(existing, t)
				result.TasksImported++
			case opts.Overwrite:
				existing[i] = t
				result.TasksImported++
			default:
				result.TasksSkipped++
			}
		}
		return existing, nil
	}

	if opts.DryRun {
		existing, err := st.LoadTasks(ctx)
		if err != nil {
			return fmt.Errorf("failed to load tasks: %w", err)
		}
		_, err = merge(existing)
		return err
	}
	if err := st.UpdateTasks(ctx, merge); err != nil {
		return fmt.Errorf("failed to save tasks: %w", err)
	}
	return nil
}

func importJournals(ctx context.Context, st *store.Store, journals []LegacyJournal, opts Options, result *Result) error {
	for _, lj := range journals {
		day, err := parseDay(lj.Date)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("journal %q: %v", lj.ID, err))
			continue
		}

		exists, err := st.Exists(ctx, format.JournalPath(day))
		if err != nil {
			return fmt.Errorf("failed to check journal %s: %w", lj.Date, err)
		}
		if exists && !opts.Overwrite {
			result.JournalsSkipped++
			continue
		}
		result.JournalsImported++
		if opts.DryRun {
			continue
		}

		j := &format.Journal{
			ID:        lj.ID,
			Date:      day,
			Title:     lj.Title,
			Content:   lj.Content,
			CreatedAt: lj.CreatedAt,
		}
		if err := st.SaveJournal(ctx, j); err != nil {
			return fmt.Errorf("failed to save journal %s: %w", lj.Date, err)
		}
	}
	return nil
}

func importProjects(ctx context.Context, st *store.Store, projects []*format.Project, opts Options, result *Result) error {
	for _, p := range projects {
		if p == nil || p.ID == "" || p.Title == "" {
			result.Errors = append(result.Errors, "project without id or title")
			continue
		}
		if err := format.ValidateProjectID(p.ID); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		_, err := st.LoadProject(ctx, p.ID)
		switch {
		case err == nil && !opts.Overwrite:
			result.ProjectsSkipped++
			continue
		case err != nil && !fs.IsNotFound(err) && !format.IsFormatError(err):
			return fmt.Errorf("failed to check project %s: %w", p.ID, err)
		}
		result.ProjectsImported++
		if opts.DryRun {
			continue
		}
		if err := st.SaveProject(ctx, p); err != nil {
			return fmt.Errorf("failed to save project %s: %w", p.ID, err)
		}
	}
	return nil
}

// parseDay accepts YYYY-MM-DD or any longer string starting with it.
func parseDay(s string) (time.Time, error) {
	if len(s) < len("2006-01-02") {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	day, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return day, nil
}
