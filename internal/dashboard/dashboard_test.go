package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flowy-gtd/flowy/internal/sync"
)

type fakeEngine struct {
	mu       gosync.Mutex
	status   sync.Status
	last     *sync.Summary
	copies   []string
	syncErr  error
	syncs    int
	listener func(sync.Event)
	done     chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		status: sync.Status{Phase: sync.PhaseIdle, Configured: true, Remote: "https://dav.example.com/GTD"},
		done:   make(chan struct{}, 10),
	}
}

func (f *fakeEngine) Status() sync.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) LastResult() *sync.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeEngine) ConflictCopies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copies
}

func (f *fakeEngine) SyncAll(ctx context.Context) (*sync.Summary, error) {
	f.mu.Lock()
	f.syncs++
	err := f.syncErr
	f.mu.Unlock()
	defer func() { f.done <- struct{}{} }()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sum := &sync.Summary{StartedAt: now, FinishedAt: now, Pushed: 1, ConflictCopies: []string{}}
	f.emit(sync.Event{Type: sync.EventFinished, Time: now, Summary: sum})
	return sum, nil
}

func (f *fakeEngine) Subscribe(fn func(sync.Event)) func() {
	f.mu.Lock()
	f.listener = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listener = nil
		f.mu.Unlock()
	}
}

func (f *fakeEngine) emit(ev sync.Event) {
	f.mu.Lock()
	fn := f.listener
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func newTestServer(t *testing.T, engine *fakeEngine) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(engine, &Config{Logger: log.New(io.Discard, "", 0)})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
		ts.Close()
	})
	return s, ts
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(newFakeEngine(), &Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", resp.StatusCode)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestStatus(t *testing.T) {
	engine := newFakeEngine()
	engine.copies = []string{"tasks/tasks.conflict-20240115-093000.json"}
	_, ts := newTestServer(t, engine)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode /status: %v", err)
	}
	if !got.Status.Configured || got.Status.Phase != sync.PhaseIdle {
		t.Errorf("status = %+v", got.Status)
	}
	if len(got.ConflictCopies) != 1 {
		t.Errorf("conflictCopies = %v, want 1 entry", got.ConflictCopies)
	}
	if got.LastResult != nil {
		t.Errorf("lastResult = %+v, want nil", got.LastResult)
	}

	resp, err = http.Post(ts.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d, want 405", resp.StatusCode)
	}
}

func TestSync(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeEngine)
		query  string
		status int
		runs   bool
	}{
		{name: "accepted", status: http.StatusAccepted, runs: true},
		{name: "wait", query: "?wait=1", status: http.StatusOK, runs: true},
		{
			name:   "already syncing",
			setup:  func(f *fakeEngine) { f.status.Syncing = true },
			status: http.StatusConflict,
		},
		{
			name:   "not configured",
			setup:  func(f *fakeEngine) { f.status.Configured = false },
			status: http.StatusPreconditionFailed,
		},
		{
			name:   "wait reports busy engine",
			setup:  func(f *fakeEngine) { f.syncErr = sync.ErrAlreadySyncing },
			query:  "?wait=1",
			status: http.StatusConflict,
			runs:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			if tt.setup != nil {
				tt.setup(engine)
			}
			_, ts := newTestServer(t, engine)

			resp, err := http.Post(ts.URL+"/sync"+tt.query, "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("POST /sync%s = %d, want %d", tt.query, resp.StatusCode, tt.status)
			}

			if tt.runs {
				select {
				case <-engine.done:
				case <-time.After(2 * time.Second):
					t.Fatal("SyncAll() was not called")
				}
			} else if engine.syncs != 0 {
				t.Errorf("SyncAll() called %d times, want 0", engine.syncs)
			}
		})
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	engine := newFakeEngine()
	s, ts := newTestServer(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readMessage(ctx, t, conn)
	if hello.Type != MessageTypeHello {
		t.Fatalf("first message type = %q, want %q", hello.Type, MessageTypeHello)
	}
	var snap StatusResponse
	if err := json.Unmarshal(hello.Data, &snap); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if snap.Status.Remote != "https://dav.example.com/GTD" {
		t.Errorf("hello remote = %q", snap.Status.Remote)
	}

	waitFor(t, func() bool { return s.ClientCount() == 1 })

	engine.emit(sync.Event{Type: sync.EventFile, Time: time.Now(), Path: "tasks/tasks.json", Done: 1, Total: 2})

	msg := readMessage(ctx, t, conn)
	if msg.Type != MessageTypeEvent {
		t.Fatalf("message type = %q, want %q", msg.Type, MessageTypeEvent)
	}
	var ev sync.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Path != "tasks/tasks.json" || ev.Done != 1 || ev.Total != 2 {
		t.Errorf("event = %+v", ev)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return s.ClientCount() == 0 })
}

func TestMetrics(t *testing.T) {
	engine := newFakeEngine()
	_, ts := newTestServer(t, engine)

	resp, err := http.Post(ts.URL+"/sync?wait=1", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	<-engine.done

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		`flowy_sync_runs_total{result="ok"} 1`,
		`flowy_sync_files_total{outcome="pushed"} 1`,
		`flowy_dashboard_requests_total{method="POST",route="/sync",status="200"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func readMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
