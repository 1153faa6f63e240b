package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"
)

// DaemonConfig holds configuration for the daemon.
type DaemonConfig struct {
	// Interval is how often a full sync runs. Zero disables periodic
	// syncs, leaving only change-triggered ones.
	Interval time.Duration

	// DebounceInterval is how long local changes must settle before they
	// trigger a sync. This batches rapid edits together.
	DebounceInterval time.Duration

	// Dir is the directory of the local tree to watch. Empty disables
	// change triggers, as for the browser backend.
	Dir string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultDaemonConfig returns sensible defaults.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Interval:         5 * time.Minute,
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// syncer is the part of Engine the daemon drives.
type syncer interface {
	SyncAll(ctx context.Context) (*Summary, error)
}

// Daemon keeps the local tree in sync in the background: on a timer and
// shortly after local files change.
type Daemon struct {
	engine syncer
	config *DaemonConfig

	watcher       *Watcher
	changeQueue   map[string]time.Time // logical path -> last change
	changeQueueMu gosync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewDaemon creates a daemon driving engine. Use Start to run it.
func NewDaemon(engine *Engine, config *DaemonConfig) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	return newDaemon(engine, config)
}

func newDaemon(engine syncer, config *DaemonConfig) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultDaemonConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultDaemonConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultDaemonConfig().DebounceInterval
	}

	d := &Daemon{
		engine:      engine,
		config:      config,
		changeQueue: make(map[string]time.Time),
	}
	if config.Dir != "" {
		w, err := NewWatcher(config.Dir)
		if err != nil {
			return nil, err
		}
		d.watcher = w
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start runs an initial sync, then watches and syncs until ctx is
// canceled or Stop is called. It blocks.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Canceling ctx cancels any running sync, the startup one included.
	stop := context.AfterFunc(ctx, d.cancel)
	defer stop()

	d.runSync("startup")
	if ctx.Err() != nil {
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("failed to watch local tree: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.config.Dir)
		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}
	if d.config.Interval > 0 {
		d.wg.Add(1)
		go d.periodicSync()
	}

	<-d.ctx.Done()
	if ctx.Err() == nil {
		// Stop was called.
		return nil
	}
	d.config.Logger.Println("Shutdown signal received")
	return d.Stop()
}

// Stop shuts the daemon down, canceling a running sync and waiting for it
// to return.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Pending returns the number of queued local changes.
func (d *Daemon) Pending() int {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	return len(d.changeQueue)
}

func (d *Daemon) runSync(reason string) bool {
	sum, err := d.engine.SyncAll(d.ctx)
	switch {
	case errors.Is(err, ErrAlreadySyncing):
		return false
	case err != nil:
		d.config.Logger.Printf("Sync (%s) failed: %v", reason, err)
		if IsUserActionRequired(err) {
			d.config.Logger.Printf("Sync needs attention: run `flowy configure`")
		}
		return true
	}
	if sum.Failed > 0 || len(sum.ConflictCopies) > 0 {
		d.config.Logger.Printf("Sync (%s): %d failed, %d conflict copies", reason, sum.Failed, len(sum.ConflictCopies))
	}
	return true
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange records a change with debouncing.
func (d *Daemon) queueChange(p string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[p] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges(time.Now())
		}
	}
}

// processPendingChanges syncs once every queued change has settled. A
// change arriving while the queue drains keeps the sync waiting.
func (d *Daemon) processPendingChanges(now time.Time) {
	d.changeQueueMu.Lock()
	if len(d.changeQueue) == 0 {
		d.changeQueueMu.Unlock()
		return
	}
	for _, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			d.changeQueueMu.Unlock()
			return
		}
	}
	n := len(d.changeQueue)
	d.changeQueue = make(map[string]time.Time)
	d.changeQueueMu.Unlock()

	d.config.Logger.Printf("Processing %d local changes", n)
	if !d.runSync("local change") {
		// Another sync is running; try again on the next tick.
		d.queueChange("")
	}
}

func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runSync("interval")
		}
	}
}
