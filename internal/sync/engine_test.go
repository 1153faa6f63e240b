package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/flowy-gtd/flowy/internal/conflict"
	"github.com/flowy-gtd/flowy/internal/format"
	"github.com/flowy-gtd/flowy/internal/fs"
	"github.com/flowy-gtd/flowy/internal/webdav"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu gosync.Mutex
	t  time.Time
}

func newClock(start int64) *fakeClock {
	return &fakeClock{t: time.UnixMilli(start)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memRemote is a Remote over an in-memory tree.
type memRemote struct {
	tree *fs.Memory

	mu        gosync.Mutex
	gets      map[string]int
	beforeGet func(ctx context.Context, p string) error
	listErr   error
}

func newMemRemote(clock *fakeClock) *memRemote {
	return &memRemote{
		tree: fs.NewMemory(fs.WithClock(clock.Now)),
		gets: make(map[string]int),
	}
}

func (r *memRemote) List(ctx context.Context) ([]fs.FileInfo, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []fs.FileInfo
	err := fs.Walk(ctx, r.tree, "", func(fi fs.FileInfo) error {
		if !fi.IsDir {
			out = append(out, fi)
		}
		return nil
	})
	return out, err
}

func (r *memRemote) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	return r.tree.Stat(ctx, p)
}

func (r *memRemote) Get(ctx context.Context, p string) ([]byte, error) {
	r.mu.Lock()
	r.gets[p]++
	hook := r.beforeGet
	r.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, p); err != nil {
			return nil, err
		}
	}
	return r.tree.Read(ctx, p)
}

func (r *memRemote) Put(ctx context.Context, p string, data []byte) error {
	return r.tree.Write(ctx, p, data)
}

func (r *memRemote) Delete(ctx context.Context, p string) error {
	return r.tree.Delete(ctx, p)
}

func (r *memRemote) getCount(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets[p]
}

type fixture struct {
	ctx         context.Context
	localClock  *fakeClock
	remoteClock *fakeClock
	local       *fs.SerializedAdapter
	remote      *memRemote
	engine      *Engine
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newFixture(t *testing.T, tweak func(*Config)) *fixture {
	return newFixtureWith(t, nil, tweak)
}

// newFixtureWith is newFixture with the local tree wrapped by wrap.
func newFixtureWith(t *testing.T, wrap func(*fs.Memory) fs.Adapter, tweak func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		ctx:         context.Background(),
		localClock:  newClock(1_700_000_000_000),
		remoteClock: newClock(1_600_000_000_000),
	}
	var local fs.Adapter = fs.NewMemory(fs.WithClock(f.localClock.Now))
	if wrap != nil {
		local = wrap(local.(*fs.Memory))
	}
	f.local = fs.Serialized(local)
	f.remote = newMemRemote(f.remoteClock)

	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.Logger = quietLogger()
	cfg.Now = f.localClock.Now
	if tweak != nil {
		tweak(cfg)
	}
	f.engine = NewEngine(f.local, cfg)
	if err := f.engine.Attach("mem://remote/GTD", f.remote); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return f
}

func (f *fixture) writeLocal(t *testing.T, p, content string) {
	t.Helper()
	f.localClock.Advance(time.Second)
	if err := f.local.Write(f.ctx, p, []byte(content)); err != nil {
		t.Fatalf("local Write(%s) error = %v", p, err)
	}
}

func (f *fixture) writeRemote(t *testing.T, p, content string) {
	t.Helper()
	f.remoteClock.Advance(time.Second)
	if err := f.remote.tree.Write(f.ctx, p, []byte(content)); err != nil {
		t.Fatalf("remote Write(%s) error = %v", p, err)
	}
}

func (f *fixture) readLocal(t *testing.T, p string) string {
	t.Helper()
	data, err := f.local.Read(f.ctx, p)
	if err != nil {
		t.Fatalf("local Read(%s) error = %v", p, err)
	}
	return string(data)
}

func (f *fixture) readRemote(t *testing.T, p string) string {
	t.Helper()
	data, err := f.remote.tree.Read(f.ctx, p)
	if err != nil {
		t.Fatalf("remote Read(%s) error = %v", p, err)
	}
	return string(data)
}

func (f *fixture) sync(t *testing.T) *Summary {
	t.Helper()
	f.localClock.Advance(time.Second)
	sum, err := f.engine.SyncAll(f.ctx)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	return sum
}

type counts struct {
	Pushed, Pulled, Merged, Conflicted, Deleted, Unchanged, Failed int
}

func countsOf(s *Summary) counts {
	return counts{s.Pushed, s.Pulled, s.Merged, s.Conflicted, s.Deleted, s.Unchanged, s.Failed}
}

func tasksJSON(t *testing.T, tasks ...format.Task) string {
	t.Helper()
	data, err := format.SerializeTasks(tasks, 0)
	if err != nil {
		t.Fatalf("SerializeTasks() error = %v", err)
	}
	return string(data)
}

func TestSyncAll_FirstSync(t *testing.T) {
	f := newFixture(t, nil)
	f.writeLocal(t, format.TasksPath, tasksJSON(t, format.Task{ID: "a", Title: "A"}))
	f.writeLocal(t, "projects/p1.json", `{"id":"p1"}`)
	f.writeRemote(t, "journals/2024/01/2024-01-15.md", "---\ntitle: remote\n---\nbody")

	sum := f.sync(t)
	if diff := cmp.Diff(counts{Pushed: 2, Pulled: 1}, countsOf(sum)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}

	if got := f.readRemote(t, "projects/p1.json"); got != `{"id":"p1"}` {
		t.Errorf("remote project = %q", got)
	}
	if got := f.readLocal(t, "journals/2024/01/2024-01-15.md"); !strings.Contains(got, "body") {
		t.Errorf("local journal = %q", got)
	}
	if ok, _ := f.remote.tree.Exists(f.ctx, StatePath); ok {
		t.Error("sync state was uploaded")
	}
	if ok, _ := f.local.Exists(f.ctx, StatePath); !ok {
		t.Error("sync state was not saved locally")
	}

	again := f.sync(t)
	if diff := cmp.Diff(counts{Unchanged: 3}, countsOf(again)); diff != "" {
		t.Errorf("second sync mismatch (-want +got):\n%s", diff)
	}
}

// statHookAdapter runs onStat once, before the next Stat of path.
type statHookAdapter struct {
	*fs.Memory
	path string

	mu     gosync.Mutex
	onStat func()
}

func (a *statHookAdapter) arm(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStat = fn
}

func (a *statHookAdapter) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	a.mu.Lock()
	hook := a.onStat
	if p != a.path {
		hook = nil
	} else {
		a.onStat = nil
	}
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	return a.Memory.Stat(ctx, p)
}

func TestSyncAll_EditRightAfterPullIsPushed(t *testing.T) {
	const p = "journals/2024/01/2024-01-15.md"
	var hooked *statHookAdapter
	f := newFixtureWith(t, func(m *fs.Memory) fs.Adapter {
		hooked = &statHookAdapter{Memory: m, path: p}
		return hooked
	}, nil)
	f.writeRemote(t, p, "---\ntitle: remote\n---\nbody")

	// A user edit arrives while the pulled file is being stat'ed. It must
	// not become the synced baseline.
	edited := make(chan error, 1)
	f.remote.beforeGet = func(ctx context.Context, got string) error {
		if got != p {
			return nil
		}
		hooked.arm(func() {
			go func() {
				f.localClock.Advance(time.Second)
				edited <- f.local.Write(f.ctx, p, []byte("user edit"))
			}()
			select {
			case <-edited:
				t.Error("user write landed while the sync held the path")
			case <-time.After(50 * time.Millisecond):
			}
		})
		return nil
	}

	sum := f.sync(t)
	if diff := cmp.Diff(counts{Pulled: 1}, countsOf(sum)); diff != "" {
		t.Errorf("first sync mismatch (-want +got):\n%s", diff)
	}
	select {
	case err := <-edited:
		if err != nil {
			t.Fatalf("user Write() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("user write never landed")
	}

	sum = f.sync(t)
	if diff := cmp.Diff(counts{Pushed: 1}, countsOf(sum)); diff != "" {
		t.Errorf("second sync mismatch (-want +got):\n%s", diff)
	}
	if got := f.readRemote(t, p); got != "user edit" {
		t.Errorf("remote = %q, want the user edit", got)
	}
	if got := f.readLocal(t, p); got != "user edit" {
		t.Errorf("local = %q, want the user edit", got)
	}
}

func TestSyncAll_StateSurvivesRestart(t *testing.T) {
	f := newFixture(t, nil)
	f.writeLocal(t, "projects/p1.json", `{"id":"p1"}`)
	f.sync(t)

	cfg := DefaultConfig()
	cfg.Logger = quietLogger()
	restarted := NewEngine(f.local, cfg)
	if err := restarted.Attach("mem://remote/GTD", f.remote); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	sum, err := restarted.SyncAll(f.ctx)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if diff := cmp.Diff(counts{Unchanged: 1}, countsOf(sum)); diff != "" {
		t.Errorf("sync after restart mismatch (-want +got):\n%s", diff)
	}
	if restarted.Status().LastSync == 0 {
		t.Error("Status().LastSync not restored")
	}
}

func TestSyncAll_MergesEditsToDifferentTasks(t *testing.T) {
	f := newFixture(t, nil)
	a := format.Task{ID: "a", Title: "A", List: format.ListInbox}
	b := format.Task{ID: "b", Title: "B", List: format.ListInbox}
	f.writeLocal(t, format.TasksPath, tasksJSON(t, a, b))
	f.sync(t)

	localA, remoteB := a, b
	localA.Title = "A local"
	remoteB.Title = "B remote"
	f.writeLocal(t, format.TasksPath, tasksJSON(t, localA, b))
	f.writeRemote(t, format.TasksPath, tasksJSON(t, a, remoteB))

	sum := f.sync(t)
	if diff := cmp.Diff(counts{Merged: 1}, countsOf(sum)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if len(sum.ConflictCopies) != 0 {
		t.Errorf("ConflictCopies = %v, want none", sum.ConflictCopies)
	}

	for side, content := range map[string]string{
		"local":  f.readLocal(t, format.TasksPath),
		"remote": f.readRemote(t, format.TasksPath),
	} {
		tasks, err := format.DeserializeTasks(format.TasksPath, []byte(content))
		if err != nil {
			t.Fatalf("%s tasks do not parse: %v", side, err)
		}
		got := map[string]string{}
		for _, task := range tasks {
			got[task.ID] = task.Title
		}
		if diff := cmp.Diff(map[string]string{"a": "A local", "b": "B remote"}, got); diff != "" {
			t.Errorf("%s tasks mismatch (-want +got):\n%s", side, diff)
		}
	}

	if diff := cmp.Diff(counts{Unchanged: 1}, countsOf(f.sync(t))); diff != "" {
		t.Errorf("sync after merge mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncAll_ConflictKeepsLosingVersion(t *testing.T) {
	f := newFixture(t, nil)
	const p = "journals/2024/01/2024-01-15.md"
	f.writeLocal(t, p, "original")
	f.sync(t)

	// The local clock runs ahead of the remote one, so the local edit is
	// the later write.
	f.writeRemote(t, p, "remote edit")
	remoteAt := f.remoteClock.Now().UnixMilli()
	f.writeLocal(t, p, "local edit")

	sum := f.sync(t)
	if sum.Conflicted != 1 {
		t.Fatalf("Conflicted = %d, want 1 (summary %+v)", sum.Conflicted, sum)
	}
	if len(sum.ConflictCopies) != 1 {
		t.Fatalf("ConflictCopies = %v, want one", sum.ConflictCopies)
	}
	copyPath := sum.ConflictCopies[0]
	if want := conflict.CopyPath(p, remoteAt); copyPath != want {
		t.Errorf("copy path = %q, want %q", copyPath, want)
	}

	if got := f.readLocal(t, p); got != "local edit" {
		t.Errorf("local = %q, want the later local edit", got)
	}
	if got := f.readRemote(t, p); got != "local edit" {
		t.Errorf("remote = %q, want the later local edit", got)
	}
	if got := f.readLocal(t, copyPath); got != "remote edit" {
		t.Errorf("local copy = %q, want the remote edit", got)
	}
	if got := f.readRemote(t, copyPath); got != "remote edit" {
		t.Errorf("remote copy = %q, want the remote edit", got)
	}
	if diff := cmp.Diff([]string{copyPath}, f.engine.ConflictCopies()); diff != "" {
		t.Errorf("ConflictCopies() mismatch (-want +got):\n%s", diff)
	}

	found, err := FindConflictCopies(f.ctx, f.local)
	if err != nil {
		t.Fatalf("FindConflictCopies() error = %v", err)
	}
	if len(found) != 1 || found[0].Path != copyPath {
		t.Errorf("FindConflictCopies() = %v, want [%s]", found, copyPath)
	}

	if diff := cmp.Diff(counts{Unchanged: 2}, countsOf(f.sync(t))); diff != "" {
		t.Errorf("sync after conflict mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncAll_StrictPolicyReportsConflict(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Policy = conflict.Policy{Strict: true} })
	f.writeLocal(t, "projects/p1.json", `{"id":"p1"}`)
	f.sync(t)

	f.writeLocal(t, "projects/p1.json", `{"id":"p1","title":"L"}`)
	f.writeRemote(t, "projects/p1.json", `{"id":"p1","title":"R"}`)

	sum := f.sync(t)
	if sum.Failed != 1 || !errors.Is(sum.Failures[0].Err, conflict.ErrConflictUnresolved) {
		t.Fatalf("summary = %+v, want one unresolved conflict", sum)
	}
	if !IsUserActionRequired(sum.Failures[0].Err) {
		t.Error("unresolved conflict does not require user action")
	}
	if got := f.readLocal(t, "projects/p1.json"); got != `{"id":"p1","title":"L"}` {
		t.Errorf("local changed to %q under strict policy", got)
	}
}

func TestSyncAll_NetworkFailureIsIsolated(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Retries = 2 })
	for _, p := range []string{"projects/a.json", "projects/b.json", "projects/c.json"} {
		f.writeRemote(t, p, p)
	}
	f.remote.beforeGet = func(_ context.Context, p string) error {
		if p == "projects/b.json" {
			return &webdav.Error{Op: "get", Path: p, Status: 503, Err: webdav.ErrNetwork}
		}
		return nil
	}

	sum := f.sync(t)
	if diff := cmp.Diff(counts{Pulled: 2, Failed: 1}, countsOf(sum)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if len(sum.Failures) != 1 || sum.Failures[0].Path != "projects/b.json" {
		t.Fatalf("Failures = %+v, want projects/b.json", sum.Failures)
	}
	if !errors.Is(sum.Failures[0].Err, webdav.ErrNetwork) {
		t.Errorf("failure error = %v, want ErrNetwork", sum.Failures[0].Err)
	}
	if got := f.remote.getCount("projects/b.json"); got != 3 {
		t.Errorf("Get attempts = %d, want 3 (1 + 2 retries)", got)
	}
	if ok, _ := f.local.Exists(f.ctx, "projects/b.json"); ok {
		t.Error("failed download left a local file")
	}

	f.remote.beforeGet = nil
	if diff := cmp.Diff(counts{Pulled: 1, Unchanged: 2}, countsOf(f.sync(t))); diff != "" {
		t.Errorf("retry sync mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncAll_DeletePropagation(t *testing.T) {
	f := newFixture(t, nil)
	f.writeLocal(t, "projects/gone-local.json", "1")
	f.writeLocal(t, "projects/gone-remote.json", "2")
	f.writeLocal(t, "projects/kept.json", "3")
	f.sync(t)

	if err := f.local.Delete(f.ctx, "projects/gone-local.json"); err != nil {
		t.Fatal(err)
	}
	if err := f.remote.tree.Delete(f.ctx, "projects/gone-remote.json"); err != nil {
		t.Fatal(err)
	}

	sum := f.sync(t)
	if diff := cmp.Diff(counts{Deleted: 2, Unchanged: 1}, countsOf(sum)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if ok, _ := f.remote.tree.Exists(f.ctx, "projects/gone-local.json"); ok {
		t.Error("local delete did not reach the remote")
	}
	if ok, _ := f.local.Exists(f.ctx, "projects/gone-remote.json"); ok {
		t.Error("remote delete did not reach the local tree")
	}
}

func TestSyncAll_EditBeatsDelete(t *testing.T) {
	f := newFixture(t, nil)
	f.writeLocal(t, "projects/p.json", "v1")
	f.sync(t)

	if err := f.remote.tree.Delete(f.ctx, "projects/p.json"); err != nil {
		t.Fatal(err)
	}
	f.writeLocal(t, "projects/p.json", "v2")

	sum := f.sync(t)
	if sum.Pushed != 1 || sum.Deleted != 0 {
		t.Errorf("summary = %+v, want the edit pushed", countsOf(sum))
	}
	if got := f.readRemote(t, "projects/p.json"); got != "v2" {
		t.Errorf("remote = %q, want v2", got)
	}
}

func TestSyncAll_AlreadySyncing(t *testing.T) {
	f := newFixture(t, nil)
	f.writeRemote(t, "projects/p.json", "x")

	entered := make(chan struct{})
	release := make(chan struct{})
	f.remote.beforeGet = func(ctx context.Context, _ string) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.SyncAll(f.ctx)
		done <- err
	}()
	<-entered

	if !f.engine.Status().Syncing {
		t.Error("Status().Syncing = false during sync")
	}
	if _, err := f.engine.SyncAll(f.ctx); !errors.Is(err, ErrAlreadySyncing) {
		t.Errorf("concurrent SyncAll() error = %v, want ErrAlreadySyncing", err)
	}
	if err := f.engine.Configure(f.ctx, webdav.Options{URL: "http://other"}); !errors.Is(err, ErrAlreadySyncing) {
		t.Errorf("Configure() during sync error = %v, want ErrAlreadySyncing", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first SyncAll() error = %v", err)
	}
	if f.engine.Status().Syncing {
		t.Error("Status().Syncing = true after sync")
	}
}

func TestSyncAll_Cancel(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Concurrency = 1 })
	for _, p := range []string{"projects/a.json", "projects/b.json", "projects/c.json"} {
		f.writeRemote(t, p, p)
	}

	entered := make(chan struct{})
	f.remote.beforeGet = func(ctx context.Context, p string) error {
		if p != "projects/b.json" {
			return nil
		}
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}
	go func() {
		<-entered
		f.engine.Cancel()
	}()

	sum, err := f.engine.SyncAll(f.ctx)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if !sum.Canceled {
		t.Error("Summary.Canceled = false")
	}
	if diff := cmp.Diff(counts{Pulled: 1, Failed: 2}, countsOf(sum)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if got := f.readLocal(t, "projects/a.json"); got != "projects/a.json" {
		t.Errorf("completed transfer lost: %q", got)
	}

	state, err := LoadState(f.ctx, f.local, "mem://remote/GTD")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if diff := cmp.Diff([]string{"projects/a.json"}, state.Paths()); diff != "" {
		t.Errorf("recorded paths mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncAll_Timeout(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Timeout = 50 * time.Millisecond })
	f.writeRemote(t, "projects/slow.json", "x")
	f.remote.beforeGet = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	sum, err := f.engine.SyncAll(f.ctx)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if !sum.Canceled || sum.Failed != 1 {
		t.Errorf("summary = %+v canceled=%v, want one failed and canceled", countsOf(sum), sum.Canceled)
	}
	if !errors.Is(sum.Failures[0].Err, context.DeadlineExceeded) {
		t.Errorf("failure = %v, want deadline exceeded", sum.Failures[0].Err)
	}
}

func TestSyncAll_ListingFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.writeLocal(t, "projects/p.json", "local")
	f.remote.listErr = &webdav.Error{Op: "list", Status: 401, Err: webdav.ErrAuth}

	var events []Event
	var mu gosync.Mutex
	f.engine.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	_, err := f.engine.SyncAll(f.ctx)
	if !errors.Is(err, webdav.ErrAuth) {
		t.Fatalf("SyncAll() error = %v, want ErrAuth", err)
	}
	if !IsUserActionRequired(err) {
		t.Error("auth failure does not require user action")
	}
	if got := f.readLocal(t, "projects/p.json"); got != "local" {
		t.Errorf("local file changed to %q", got)
	}

	st := f.engine.Status()
	if st.Phase != PhaseIdle || st.LastError == "" {
		t.Errorf("Status() = %+v, want idle with an error recorded", st)
	}
	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	if last.Type != EventFailed || last.Phase != PhaseError {
		t.Errorf("last event = %+v, want a failure in the error phase", last)
	}
}

func TestSyncAll_NotConfigured(t *testing.T) {
	e := NewEngine(fs.NewMemory(), &Config{Logger: quietLogger()})
	if _, err := e.SyncAll(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SyncAll() error = %v, want ErrNotConfigured", err)
	}
	if _, err := e.Plan(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Plan() error = %v, want ErrNotConfigured", err)
	}
}

type flushFunc func(ctx context.Context) error

func (f flushFunc) Flush(ctx context.Context) error { return f(ctx) }

func TestSyncAll_FlushesPendingWrites(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(c *Config) {
		c.Flusher = flushFunc(func(ctx context.Context) error {
			return f.local.Write(ctx, "projects/pending.json", []byte("queued"))
		})
	})

	sum := f.sync(t)
	if sum.Pushed != 1 {
		t.Fatalf("Pushed = %d, want the flushed write pushed", sum.Pushed)
	}
	if got := f.readRemote(t, "projects/pending.json"); got != "queued" {
		t.Errorf("remote = %q", got)
	}
}

func TestSyncAll_Events(t *testing.T) {
	f := newFixture(t, nil)
	f.writeLocal(t, "projects/p.json", "x")

	var (
		mu    gosync.Mutex
		types []EventType
	)
	unsubscribe := f.engine.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, ev.Type)
	})
	f.sync(t)
	unsubscribe()
	f.sync(t)

	want := []EventType{EventStarted, EventPhase, EventPhase, EventPhase, EventFile, EventFinished}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan(t *testing.T) {
	f := newFixture(t, nil)
	f.writeLocal(t, "projects/same.json", "s")
	f.sync(t)

	f.writeLocal(t, "projects/new-local.json", "l")
	f.writeRemote(t, "projects/new-remote.json", "r")

	plan, err := f.engine.Plan(f.ctx)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	got := map[string]conflict.Direction{}
	for _, entry := range plan {
		got[entry.Path] = entry.Direction
	}
	want := map[string]conflict.Direction{
		"projects/new-local.json":  conflict.Push,
		"projects/new-remote.json": conflict.Pull,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Plan() mismatch (-want +got):\n%s", diff)
	}
	if ok, _ := f.remote.tree.Exists(f.ctx, "projects/new-local.json"); ok {
		t.Error("Plan() transferred a file")
	}
}

func TestConfigure(t *testing.T) {
	dialErr := &webdav.Error{Op: "check", Status: 401, Err: webdav.ErrAuth}
	var dialed webdav.Options
	remote := newMemRemote(newClock(0))

	e := NewEngine(fs.NewMemory(), &Config{
		Logger: quietLogger(),
		Dial: func(_ context.Context, opts webdav.Options) (Remote, error) {
			dialed = opts
			if opts.Password != "right" {
				return nil, dialErr
			}
			return remote, nil
		},
	})

	err := e.Configure(context.Background(), webdav.Options{URL: "https://dav.example.com", Password: "wrong"})
	if !errors.Is(err, webdav.ErrAuth) {
		t.Fatalf("Configure() error = %v, want ErrAuth", err)
	}
	if st := e.Status(); st.Configured || st.LastError == "" {
		t.Errorf("Status() after failed configure = %+v", st)
	}

	opts := webdav.Options{URL: "https://dav.example.com/", Password: "right"}
	if err := e.Configure(context.Background(), opts); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if dialed.URL != opts.URL {
		t.Errorf("dialed %q, want %q", dialed.URL, opts.URL)
	}
	st := e.Status()
	if !st.Configured || st.Remote != "https://dav.example.com/GTD" || st.LastError != "" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestLoadState_OtherRemote(t *testing.T) {
	ctx := context.Background()
	a := fs.NewMemory()
	s := NewState("https://one/GTD")
	s.Record("projects/p.json", 1, 2, nil)
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	same, err := LoadState(ctx, a, "https://one/GTD")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if b := same.Baseline("projects/p.json"); b == nil || b.Local != 1 || b.Remote != 2 {
		t.Errorf("Baseline() = %+v, want {1 2}", b)
	}

	other, err := LoadState(ctx, a, "https://two/GTD")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if len(other.Paths()) != 0 {
		t.Errorf("state of another remote leaked: %v", other.Paths())
	}
}

func TestLoadState_Corrupt(t *testing.T) {
	ctx := context.Background()
	a := fs.NewMemory()
	if err := a.Write(ctx, StatePath, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	s, err := LoadState(ctx, a, "r")
	if !format.IsFormatError(err) {
		t.Errorf("LoadState() error = %v, want FormatError", err)
	}
	if s == nil || len(s.Paths()) != 0 {
		t.Errorf("LoadState() = %v, want an empty usable state", s)
	}
}

func TestIsManaged(t *testing.T) {
	tests := map[string]bool{
		"tasks/tasks.json":       true,
		".gtd":                   false,
		".gtd/sync-state.json":   false,
		".gtd/base/tasks/x.json": false,
		".gtdx/file":             true,
	}
	for p, want := range tests {
		if got := IsManaged(p); got != want {
			t.Errorf("IsManaged(%q) = %v, want %v", p, got, want)
		}
	}
}

func ExampleRemoteID() {
	fmt.Println(RemoteID(webdav.Options{URL: "https://dav.example.com/"}))
	fmt.Println(RemoteID(webdav.Options{URL: "https://dav.example.com", RemotePath: "/sync/gtd/"}))
	// Output:
	// https://dav.example.com/GTD
	// https://dav.example.com/sync/gtd
}
