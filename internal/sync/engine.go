package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowy-gtd/flowy/internal/conflict"
	"github.com/flowy-gtd/flowy/internal/format"
	"github.com/flowy-gtd/flowy/internal/fs"
	"github.com/flowy-gtd/flowy/internal/webdav"
)

// Remote is the server side of a sync. Paths are logical, relative to the
// synced directory. *webdav.Client implements it.
type Remote interface {
	List(ctx context.Context) ([]fs.FileInfo, error)
	Stat(ctx context.Context, p string) (fs.FileInfo, error)
	Get(ctx context.Context, p string) ([]byte, error)
	Put(ctx context.Context, p string, data []byte) error
	Delete(ctx context.Context, p string) error
}

// Flusher is implemented by write buffers that must reach the local tree
// before a sync reads it.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Config holds engine settings.
type Config struct {
	// Concurrency bounds the number of paths transferred at once.
	Concurrency int

	// Retries is how many times a transfer failing with a network error
	// is retried, waiting RetryDelay times the attempt number in between.
	Retries    int
	RetryDelay time.Duration

	// Timeout bounds a whole SyncAll.
	Timeout time.Duration

	// Policy controls conflict resolution.
	Policy conflict.Policy

	// Flusher, when set, is flushed before every sync.
	Flusher Flusher

	// Dial connects to a server for Configure.
	Dial func(ctx context.Context, opts webdav.Options) (Remote, error)

	// Now stamps summaries and events.
	Now func() time.Time

	// Logger for engine activity
	Logger *log.Logger
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency: 4,
		Retries:     2,
		RetryDelay:  500 * time.Millisecond,
		Timeout:     2 * time.Minute,
		Dial:        dialWebDAV,
		Now:         time.Now,
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

func dialWebDAV(ctx context.Context, opts webdav.Options) (Remote, error) {
	c, err := webdav.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) fill() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Concurrency <= 0 {
		out.Concurrency = d.Concurrency
	}
	if out.Retries < 0 {
		out.Retries = 0
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = d.RetryDelay
	}
	if out.Timeout <= 0 {
		out.Timeout = d.Timeout
	}
	if out.Dial == nil {
		out.Dial = d.Dial
	}
	if out.Now == nil {
		out.Now = d.Now
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	return &out
}

// Phase is the step a sync is in.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseListing      Phase = "listing"
	PhaseComparing    Phase = "comparing"
	PhaseTransferring Phase = "transferring"
	PhaseError        Phase = "error"
)

// Status is a snapshot of the engine for display.
type Status struct {
	Phase      Phase  `json:"phase"`
	Syncing    bool   `json:"syncing"`
	Configured bool   `json:"configured"`
	Remote     string `json:"remote,omitempty"`
	LastSync   int64  `json:"lastSync,omitempty"`
	LastError  string `json:"lastError,omitempty"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
}

// Failure is one path that could not be synced.
type Failure struct {
	Path      string             `json:"path"`
	Direction conflict.Direction `json:"direction"`
	Err       error              `json:"-"`
	Message   string             `json:"error"`
}

// Summary reports the outcome of one SyncAll.
type Summary struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Pushed     int `json:"pushed"`
	Pulled     int `json:"pulled"`
	Merged     int `json:"merged"`
	Conflicted int `json:"conflicted"`
	Deleted    int `json:"deleted"`
	Unchanged  int `json:"unchanged"`
	Failed     int `json:"failed"`

	ConflictCopies []string  `json:"conflictCopies"`
	Failures       []Failure `json:"failures,omitempty"`

	// Canceled is set when the sync was canceled or timed out before
	// every path was handled.
	Canceled bool `json:"canceled,omitempty"`
}

// Duration is the wall time the sync took.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Err joins the per-path failures, or returns nil.
func (s *Summary) Err() error {
	errs := make([]error, 0, len(s.Failures))
	for _, f := range s.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return errors.Join(errs...)
}

func (s *Summary) fail(p string, dir conflict.Direction, err error) {
	s.Failed++
	s.Failures = append(s.Failures, Failure{Path: p, Direction: dir, Err: err, Message: err.Error()})
}

// EventType classifies an Event.
type EventType string

const (
	EventStarted  EventType = "started"
	EventPhase    EventType = "phase"
	EventFile     EventType = "file"
	EventFinished EventType = "finished"
	EventFailed   EventType = "failed"
)

// Event reports sync progress to subscribers.
type Event struct {
	Type       EventType           `json:"type"`
	Time       time.Time           `json:"time"`
	Phase      Phase               `json:"phase,omitempty"`
	Path       string              `json:"path,omitempty"`
	Direction  conflict.Direction  `json:"direction,omitempty"`
	Resolution conflict.Resolution `json:"resolution,omitempty"`
	Done       int                 `json:"done,omitempty"`
	Total      int                 `json:"total,omitempty"`
	Error      string              `json:"error,omitempty"`
	Summary    *Summary            `json:"summary,omitempty"`
}

// PlanEntry is the action a sync would take for one path.
type PlanEntry struct {
	Path      string             `json:"path"`
	Direction conflict.Direction `json:"direction"`
	Local     *fs.FileInfo       `json:"local,omitempty"`
	Remote    *fs.FileInfo       `json:"remote,omitempty"`
}

// Engine synchronizes the local tree with a remote one.
type Engine struct {
	local fs.Adapter
	cfg   *Config

	mu       gosync.Mutex
	remote   Remote
	remoteID string
	state    *State
	running  bool
	cancel   context.CancelFunc
	status   Status
	last     *Summary
	copies   []string
	subs     map[int]func(Event)
	nextSub  int
}

// NewEngine creates an engine over the local adapter. Route every local
// write of the application through the same adapter, ideally the
// *fs.SerializedAdapter returned by fs.Default, so that sync and editing
// never write one path at the same time.
func NewEngine(local fs.Adapter, cfg *Config) *Engine {
	return &Engine{
		local:  local,
		cfg:    cfg.fill(),
		status: Status{Phase: PhaseIdle},
		subs:   make(map[int]func(Event)),
	}
}

// RemoteID identifies the synced tree of a server.
func RemoteID(opts webdav.Options) string {
	rp := strings.Trim(opts.RemotePath, "/")
	if rp == "" {
		rp = strings.Trim(webdav.DefaultRemotePath, "/")
	}
	return strings.TrimRight(opts.URL, "/") + "/" + rp
}

// Configure connects to a server, failing with webdav.ErrAuth or
// webdav.ErrNetwork when the server check fails. The previous remote stays in
// place on failure.
func (e *Engine) Configure(ctx context.Context, opts webdav.Options) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		return ErrAlreadySyncing
	}

	r, err := e.cfg.Dial(ctx, opts)
	if err != nil {
		e.mu.Lock()
		e.status.LastError = err.Error()
		e.mu.Unlock()
		return fmt.Errorf("failed to configure %s: %w", opts.URL, err)
	}
	return e.Attach(RemoteID(opts), r)
}

// Attach uses r as the remote. id names the remote tree; baselines recorded
// against a different id are discarded.
func (e *Engine) Attach(id string, r Remote) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadySyncing
	}
	if id != e.remoteID {
		e.state = nil
		e.status.LastSync = 0
	}
	e.remote = r
	e.remoteID = id
	e.status.Configured = true
	e.status.Remote = id
	e.status.LastError = ""
	return nil
}

// Status returns the current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastResult returns the summary of the last finished sync, or nil.
func (e *Engine) LastResult() *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// ConflictCopies lists the conflict copies created since the engine
// started.
func (e *Engine) ConflictCopies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.copies...)
}

// Subscribe registers fn for every Event. Events are delivered
// synchronously from the sync goroutines; fn must not block. The returned
// function unsubscribes.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) emit(ev Event) {
	ev.Time = e.cfg.Now()
	e.mu.Lock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.status.Phase = p
	e.mu.Unlock()
	e.emit(Event{Type: EventPhase, Phase: p})
}

func (e *Engine) setProgress(done, total int) {
	e.mu.Lock()
	e.status.Done, e.status.Total = done, total
	e.mu.Unlock()
}

// Cancel stops a running sync. Transfers already finished stay committed;
// paths not yet handled are reported as failed.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// SyncAll brings every managed path in line on both sides. It fails only
// when the trees cannot be listed; per-path failures are counted in the
// summary. A call while another sync runs returns ErrAlreadySyncing.
func (e *Engine) SyncAll(ctx context.Context) (*Summary, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadySyncing
	}
	if e.remote == nil {
		e.mu.Unlock()
		return nil, ErrNotConfigured
	}
	remote, remoteID := e.remote, e.remoteID
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	e.running = true
	e.cancel = cancel
	e.status.Syncing = true
	e.status.LastError = ""
	e.status.Done, e.status.Total = 0, 0
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.status.Syncing = false
		e.status.Phase = PhaseIdle
		e.mu.Unlock()
	}()

	e.emit(Event{Type: EventStarted})
	sum, err := e.run(ctx, remote, remoteID)
	if err != nil {
		e.cfg.Logger.Printf("Sync failed: %v", err)
		e.mu.Lock()
		e.status.Phase = PhaseError
		e.status.LastError = err.Error()
		e.mu.Unlock()
		e.emit(Event{Type: EventFailed, Phase: PhaseError, Error: err.Error()})
		return nil, err
	}

	e.mu.Lock()
	e.last = sum
	e.copies = appendUnique(e.copies, sum.ConflictCopies...)
	if !sum.Canceled {
		e.status.LastSync = sum.FinishedAt.UnixMilli()
	}
	if sum.Failed > 0 {
		e.status.LastError = fmt.Sprintf("%d files failed to sync", sum.Failed)
	}
	e.mu.Unlock()

	e.cfg.Logger.Printf("Sync complete: pushed=%d pulled=%d merged=%d conflicted=%d deleted=%d unchanged=%d failed=%d (%s)",
		sum.Pushed, sum.Pulled, sum.Merged, sum.Conflicted, sum.Deleted, sum.Unchanged, sum.Failed, sum.Duration().Round(time.Millisecond))
	e.emit(Event{Type: EventFinished, Summary: sum})
	return sum, nil
}

// Plan lists the actions a sync would take without transferring anything.
// Conflicts are reported as such even when the content turns out identical
// or merges cleanly.
func (e *Engine) Plan(ctx context.Context) ([]PlanEntry, error) {
	e.mu.Lock()
	remote, remoteID := e.remote, e.remoteID
	e.mu.Unlock()
	if remote == nil {
		return nil, ErrNotConfigured
	}

	state, err := e.loadState(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	localFiles, remoteFiles, err := e.list(ctx, remote)
	if err != nil {
		return nil, err
	}
	var out []PlanEntry
	for _, entry := range buildPlan(localFiles, remoteFiles, state) {
		if entry.Direction != conflict.None {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (e *Engine) loadState(ctx context.Context, remoteID string) (*State, error) {
	e.mu.Lock()
	if e.state != nil && e.state.Remote() == remoteID {
		s := e.state
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	s, err := LoadState(ctx, e.local, remoteID)
	if err != nil {
		var fe *format.FormatError
		if !errors.As(err, &fe) {
			return nil, err
		}
		e.cfg.Logger.Printf("WARNING: ignoring unreadable sync state: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remoteID == remoteID {
		e.state = s
		if e.status.LastSync == 0 {
			e.status.LastSync = s.LastSync()
		}
	}
	return s, nil
}

// list returns the managed files on both sides keyed by path.
func (e *Engine) list(ctx context.Context, remote Remote) (map[string]fs.FileInfo, map[string]fs.FileInfo, error) {
	localFiles := make(map[string]fs.FileInfo)
	err := fs.Walk(ctx, e.local, "", func(fi fs.FileInfo) error {
		if !IsManaged(fi.Path) {
			if fi.IsDir {
				return fs.SkipDir
			}
			return nil
		}
		if !fi.IsDir {
			localFiles[fi.Path] = fi
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list local files: %w", err)
	}

	var listed []fs.FileInfo
	err = e.retry(ctx, "list", func() error {
		var err error
		listed, err = remote.List(ctx)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list remote files: %w", err)
	}
	remoteFiles := make(map[string]fs.FileInfo, len(listed))
	for _, fi := range listed {
		if IsManaged(fi.Path) && !fi.IsDir {
			remoteFiles[fi.Path] = fi
		}
	}
	return localFiles, remoteFiles, nil
}

// buildPlan runs Detect for every path known to either side or to the
// state, in path order.
func buildPlan(localFiles, remoteFiles map[string]fs.FileInfo, state *State) []PlanEntry {
	seen := make(map[string]bool, len(localFiles)+len(remoteFiles))
	var paths []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for p := range localFiles {
		add(p)
	}
	for p := range remoteFiles {
		add(p)
	}
	for _, p := range state.Paths() {
		add(p)
	}
	sort.Strings(paths)

	plan := make([]PlanEntry, 0, len(paths))
	for _, p := range paths {
		entry := PlanEntry{Path: p}
		var local, remote conflict.FileState
		if fi, ok := localFiles[p]; ok {
			entry.Local = &fi
			local = conflict.FileState{Exists: true, ModifiedAt: fi.ModifiedAt}
		}
		if fi, ok := remoteFiles[p]; ok {
			entry.Remote = &fi
			remote = conflict.FileState{Exists: true, ModifiedAt: fi.ModifiedAt}
		}
		entry.Direction = conflict.Detect(local, remote, state.Baseline(p))
		plan = append(plan, entry)
	}
	return plan
}

func (e *Engine) run(ctx context.Context, remote Remote, remoteID string) (*Summary, error) {
	sum := &Summary{StartedAt: e.cfg.Now(), ConflictCopies: []string{}}

	if e.cfg.Flusher != nil {
		if err := e.cfg.Flusher.Flush(ctx); err != nil {
			e.cfg.Logger.Printf("WARNING: failed to flush pending writes: %v", err)
		}
	}

	state, err := e.loadState(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	e.setPhase(PhaseListing)
	localFiles, remoteFiles, err := e.list(ctx, remote)
	if err != nil {
		return nil, err
	}

	e.setPhase(PhaseComparing)
	plan := buildPlan(localFiles, remoteFiles, state)
	e.cfg.Logger.Printf("Comparing %d local and %d remote files", len(localFiles), len(remoteFiles))

	e.setPhase(PhaseTransferring)
	t := &transfer{
		engine:      e,
		remote:      remote,
		state:       state,
		localFiles:  localFiles,
		remoteFiles: remoteFiles,
		reserved:    make(map[string]bool),
	}

	var (
		mu   gosync.Mutex
		done int
	)
	total := len(plan)
	e.setProgress(0, total)
	finish := func(entry PlanEntry, res result, err error) {
		mu.Lock()
		done++
		n := done
		if err != nil {
			sum.fail(entry.Path, entry.Direction, err)
		} else {
			res.count(sum)
		}
		mu.Unlock()

		e.setProgress(n, total)
		ev := Event{Type: EventFile, Path: entry.Path, Direction: entry.Direction, Resolution: res.resolution, Done: n, Total: total}
		if err != nil {
			ev.Error = err.Error()
			e.cfg.Logger.Printf("WARNING: failed to sync %s (%s): %v", entry.Path, entry.Direction, err)
		}
		e.emit(ev)
	}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for _, entry := range plan {
		if entry.Direction == conflict.None {
			if entry.Local == nil && entry.Remote == nil {
				state.Forget(entry.Path)
				finish(entry, result{}, nil)
				continue
			}
			finish(entry, result{kind: outcomeUnchanged}, nil)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				finish(entry, result{}, fmt.Errorf("sync abandoned: %w", err))
				return nil
			}
			res, err := t.apply(ctx, entry)
			finish(entry, res, err)
			return nil
		})
	}
	_ = g.Wait()

	sum.Canceled = ctx.Err() != nil
	sum.FinishedAt = e.cfg.Now()
	sort.Strings(sum.ConflictCopies)
	sort.Slice(sum.Failures, func(i, j int) bool { return sum.Failures[i].Path < sum.Failures[j].Path })
	if !sum.Canceled {
		state.MarkSynced(sum.FinishedAt.UnixMilli())
	}

	// The state must be saved even when ctx ended: it records the
	// transfers that did complete.
	if err := state.Save(context.WithoutCancel(ctx), e.local); err != nil {
		e.cfg.Logger.Printf("WARNING: %v", err)
	}
	return sum, nil
}

// retry runs fn until it succeeds, fails with a non-network error or runs
// out of retries.
func (e *Engine) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !webdav.IsRetryable(err) || attempt >= e.cfg.Retries {
			return err
		}
		e.cfg.Logger.Printf("Retrying %s after error: %v", op, err)

		timer := time.NewTimer(e.cfg.RetryDelay * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, have := range list {
			if have == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}
