// Package store is the application's view of the GTD tree: tasks, journals
// and projects loaded from and saved to an fs.Adapter through the format
// codecs.
//
// Saves are debounced per entity by a WriteQueue. Reads see queued content
// immediately, so callers never observe their own writes going missing.
// Pass the queue to the sync engine as its Flusher so pending edits reach
// the local tree before every sync:
//
//	a, err := fs.Default(fs.Options{})
//	if err != nil {
//	    return err
//	}
//	st := store.New(a, nil)
//	defer st.Close(ctx)
//
//	cfg := sync.DefaultConfig()
//	cfg.Flusher = st
//	engine := sync.NewEngine(a, cfg)
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowy-gtd/flowy/internal/format"
	"github.com/flowy-gtd/flowy/internal/fs"
)

const (
	journalsDir = "journals"
	projectsDir = "projects"
)

// Options configures a Store.
type Options struct {
	// Delay is the debounce delay of saves. Zero uses DefaultDelay.
	Delay time.Duration

	// Now stamps createdAt and updatedAt fields.
	Now func() time.Time

	// NewID generates task and project ids.
	NewID func() string

	// Logger for store activity
	Logger *log.Logger
}

// Store loads and saves GTD entities.
type Store struct {
	fs     fs.Adapter
	queue  *WriteQueue
	now    func() time.Time
	newID  func() string
	logger *log.Logger

	// tasksMu orders read-modify-write cycles of the task file.
	tasksMu sync.Mutex
}

// New creates a store over a.
func New(a fs.Adapter, opts *Options) *Store {
	if opts == nil {
		opts = &Options{}
	}
	s := &Store{
		fs:     a,
		now:    opts.Now,
		newID:  opts.NewID,
		logger: opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	s.queue = NewWriteQueue(a, opts.Delay, s.logger)
	return s
}

// Adapter returns the adapter the store writes to.
func (s *Store) Adapter() fs.Adapter { return s.fs }

// Read returns the content of p, including a queued write not yet flushed.
func (s *Store) Read(ctx context.Context, p string) ([]byte, error) {
	if data, ok := s.queue.Lookup(p); ok {
		return data, nil
	}
	return s.fs.Read(ctx, p)
}

// Write queues data for p.
func (s *Store) Write(ctx context.Context, p string, data []byte) error {
	return s.queue.Enqueue("file:"+p, p, data)
}

// WriteNow writes data to p immediately, superseding any queued write.
func (s *Store) WriteNow(ctx context.Context, p string, data []byte) error {
	s.queue.Cancel(p)
	return s.fs.Write(ctx, p, data)
}

// List lists the directory p.
func (s *Store) List(ctx context.Context, p string) ([]fs.FileInfo, error) {
	return s.fs.List(ctx, p)
}

// Delete removes p along with any queued write to it.
func (s *Store) Delete(ctx context.Context, p string) error {
	s.queue.Cancel(p)
	return s.fs.Delete(ctx, p)
}

// Exists reports whether p exists or has a queued write.
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	if _, ok := s.queue.Lookup(p); ok {
		return true, nil
	}
	return s.fs.Exists(ctx, p)
}

// Flush writes all queued saves now.
func (s *Store) Flush(ctx context.Context) error {
	return s.queue.Flush(ctx)
}

// Close flushes queued saves. Later saves fail with ErrClosed.
func (s *Store) Close(ctx context.Context) error {
	return s.queue.Close(ctx)
}

// NewTask returns a task with a fresh id in list.
func (s *Store) NewTask(title string, list format.List) format.Task {
	if list == "" {
		list = format.ListInbox
	}
	now := s.now().UnixMilli()
	return format.Task{
		ID:        s.newID(),
		Title:     title,
		List:      list,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LoadTasks returns every task. A missing task file is an empty list.
func (s *Store) LoadTasks(ctx context.Context) ([]format.Task, error) {
	data, err := s.Read(ctx, format.TasksPath)
	if fs.IsNotFound(err) {
		return []format.Task{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	return format.DeserializeTasks(format.TasksPath, data)
}

// SaveTasks replaces the task list. Tasks without an id get one.
func (s *Store) SaveTasks(ctx context.Context, tasks []format.Task) error {
	data, err := s.encodeTasks(tasks)
	if err != nil {
		return err
	}
	return s.queue.Enqueue("tasks", format.TasksPath, data)
}

func (s *Store) encodeTasks(tasks []format.Task) ([]byte, error) {
	out := make([]format.Task, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = s.newID()
		}
		t.SetDefaults()
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("task %s: %v: %w", t.ID, err, ErrInvalidEntity)
		}
		out[i] = t
	}
	return format.SerializeTasks(out, s.now().UnixMilli())
}

// LoadJournal returns the journal of the day of date. A missing journal
// fails with fs.ErrNotFound.
func (s *Store) LoadJournal(ctx context.Context, date time.Time) (*format.Journal, error) {
	p := format.JournalPath(format.CivilDate(date))
	data, err := s.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	return format.DeserializeJournal(p, data)
}

// SaveJournal queues j, stamping UpdatedAt. The journal of a day is stored
// at a path derived from its date, so there is at most one per day.
func (s *Store) SaveJournal(ctx context.Context, j *format.Journal) error {
	if j.Date.IsZero() {
		return fmt.Errorf("journal %q has no date: %w", j.ID, ErrInvalidEntity)
	}
	day := format.CivilDate(j.Date)
	out := *j
	out.Date = day
	if out.ID == "" {
		out.ID = format.JournalID(day)
	}
	if out.Title == "" {
		out.Title = format.DefaultJournalTitle(day)
	}
	now := s.now().UnixMilli()
	if out.CreatedAt == 0 {
		out.CreatedAt = now
	}
	out.UpdatedAt = now

	data, err := format.SerializeJournal(&out)
	if err != nil {
		return err
	}
	return s.queue.Enqueue("journal:"+day.Format("2006-01-02"), format.JournalPath(day), data)
}

// ListJournals returns the journals dated within [from, to], oldest first.
// A zero bound is open. Journals that fail to decode are skipped; their
// errors are joined into the returned error alongside the rest.
func (s *Store) ListJournals(ctx context.Context, from, to time.Time) ([]*format.Journal, error) {
	paths, err := s.collect(ctx, journalsDir, func(p string) bool {
		return strings.HasSuffix(p, ".md") && !format.IsConflictCopy(p)
	})
	if err != nil {
		return nil, err
	}

	var (
		out  []*format.Journal
		errs []error
	)
	for _, p := range paths {
		day, ok := format.ParseDateFromPath(p)
		if !ok {
			continue
		}
		if !from.IsZero() && day.Before(format.CivilDate(from)) {
			continue
		}
		if !to.IsZero() && day.After(format.CivilDate(to)) {
			continue
		}
		data, err := s.Read(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read %s: %w", p, err))
			continue
		}
		j, err := format.DeserializeJournal(p, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Date.Before(out[k].Date) })
	return out, errors.Join(errs...)
}

// LoadProject returns the project with id.
func (s *Store) LoadProject(ctx context.Context, id string) (*format.Project, error) {
	if err := format.ValidateProjectID(id); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidEntity)
	}
	p := format.ProjectPath(id)
	data, err := s.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	return format.DeserializeProject(p, data)
}

// CreateProject saves a new project with default columns.
func (s *Store) CreateProject(ctx context.Context, title string) (*format.Project, error) {
	p := &format.Project{Title: title}
	if err := s.SaveProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveProject queues p, assigning an id and default columns when missing.
// p is updated in place.
func (s *Store) SaveProject(ctx context.Context, p *format.Project) error {
	if p.Title == "" {
		return fmt.Errorf("project %q has no title: %w", p.ID, ErrInvalidEntity)
	}
	if p.ID == "" {
		p.ID = s.newID()
	}
	if err := format.ValidateProjectID(p.ID); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidEntity)
	}
	if len(p.Columns) == 0 {
		p.Columns = format.DefaultColumns()
	}
	now := s.now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	data, err := format.SerializeProject(p)
	if err != nil {
		return err
	}
	return s.queue.Enqueue("project:"+p.ID, format.ProjectPath(p.ID), data)
}

// ListProjects returns every project ordered by title. Projects that fail
// to decode are skipped; their errors are joined into the returned error.
func (s *Store) ListProjects(ctx context.Context) ([]*format.Project, error) {
	paths, err := s.collect(ctx, projectsDir, func(p string) bool {
		_, ok := format.ProjectIDFromPath(p)
		return ok && !format.IsConflictCopy(p)
	})
	if err != nil {
		return nil, err
	}

	var (
		out  []*format.Project
		errs []error
	)
	for _, p := range paths {
		data, err := s.Read(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read %s: %w", p, err))
			continue
		}
		proj, err := format.DeserializeProject(p, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, proj)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].Title < out[k].Title })
	return out, errors.Join(errs...)
}

// DeleteProject removes the project and detaches its tasks. Tasks are kept
// with their project and column cleared.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if err := format.ValidateProjectID(id); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidEntity)
	}
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	tasks, err := s.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}
	orphaned := 0
	now := s.now().UnixMilli()
	for i := range tasks {
		if tasks[i].ProjectID == id {
			tasks[i].ProjectID = ""
			tasks[i].ColumnID = ""
			tasks[i].UpdatedAt = now
			orphaned++
		}
	}
	if orphaned > 0 {
		data, err := s.encodeTasks(tasks)
		if err != nil {
			return err
		}
		if err := s.WriteNow(ctx, format.TasksPath, data); err != nil {
			return fmt.Errorf("failed to save tasks: %w", err)
		}
		s.logger.Printf("Detached %d tasks from project %s", orphaned, id)
	}

	if err := s.Delete(ctx, format.ProjectPath(id)); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// UpdateTasks loads the tasks, applies fn and saves the result, holding
// the task lock throughout.
func (s *Store) UpdateTasks(ctx context.Context, fn func([]format.Task) ([]format.Task, error)) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	tasks, err := s.LoadTasks(ctx)
	if err != nil {
		return err
	}
	tasks, err = fn(tasks)
	if err != nil {
		return err
	}
	return s.SaveTasks(ctx, tasks)
}

// collect returns the files below dir accepted by keep, including queued
// ones not yet written.
func (s *Store) collect(ctx context.Context, dir string, keep func(p string) bool) ([]string, error) {
	seen := make(map[string]bool)
	err := fs.Walk(ctx, s.fs, dir, func(fi fs.FileInfo) error {
		if !fi.IsDir && keep(fi.Path) {
			seen[fi.Path] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, p := range s.queue.Paths() {
		if strings.HasPrefix(p, dir+"/") && keep(p) {
			seen[p] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Init creates the top-level directories of the tree.
func (s *Store) Init(ctx context.Context) error {
	for _, dir := range []string{path.Dir(format.TasksPath), journalsDir, projectsDir} {
		if err := s.fs.EnsureDir(ctx, dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
