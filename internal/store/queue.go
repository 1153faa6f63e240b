package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/flowy-gtd/flowy/internal/fs"
)

// DefaultDelay is how long a queued write waits for newer content.
const DefaultDelay = 500 * time.Millisecond

type pendingWrite struct {
	path  string
	data  []byte
	timer *time.Timer
	seq   uint64
}

// WriteQueue coalesces writes per entity. Only the latest content queued
// for a key reaches the adapter, Delay after the last Enqueue, on Flush or
// on Close. It implements sync.Flusher so the engine can drain it before a
// sync.
type WriteQueue struct {
	fs     fs.Adapter
	delay  time.Duration
	logger *log.Logger

	mu       sync.Mutex
	pending  map[string]*pendingWrite // entity key -> latest content
	inflight map[string]string        // entity key -> path being written
	written  map[string]uint64        // entity key -> seq of the last landed write
	keyLocks map[string]*sync.Mutex   // held across the adapter write of a key
	seq      uint64
	closed   bool
	lastErr  error
}

// NewWriteQueue creates a queue writing to a.
func NewWriteQueue(a fs.Adapter, delay time.Duration, logger *log.Logger) *WriteQueue {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &WriteQueue{
		fs:       a,
		delay:    delay,
		logger:   logger,
		pending:  make(map[string]*pendingWrite),
		inflight: make(map[string]string),
		written:  make(map[string]uint64),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// Enqueue schedules data to be written to p under key, replacing content
// queued earlier for the same key.
func (q *WriteQueue) Enqueue(key, p string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if w, ok := q.pending[key]; ok {
		w.timer.Stop()
		if w.path != p {
			// The entity moved; the old file is written as it was.
			q.logger.Printf("WARNING: %s moved from %s to %s before flush", key, w.path, p)
		}
	}

	q.seq++
	w := &pendingWrite{path: p, data: append([]byte(nil), data...), seq: q.seq}
	w.timer = time.AfterFunc(q.delay, func() { q.flushKey(key, w.seq) })
	q.pending[key] = w
	return nil
}

// Cancel drops the write queued for any key targeting p and waits for a
// write of p already under way to land.
func (q *WriteQueue) Cancel(p string) {
	q.mu.Lock()
	for key, w := range q.pending {
		if w.path == p {
			w.timer.Stop()
			delete(q.pending, key)
		}
	}
	var busy []*sync.Mutex
	for key, ip := range q.inflight {
		if ip == p {
			busy = append(busy, q.keyLocks[key])
		}
	}
	q.mu.Unlock()

	// Taking the key lock waits for the in-flight write to land.
	for _, l := range busy {
		l.Lock()
		l.Unlock()
	}
}

// Lookup returns the content queued for p.
func (q *WriteQueue) Lookup(p string) ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, w := range q.pending {
		if w.path == p {
			return append([]byte(nil), w.data...), true
		}
	}
	return nil, false
}

// Paths lists the paths with queued content.
func (q *WriteQueue) Paths() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.pending))
	for _, w := range q.pending {
		out = append(out, w.path)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of queued writes.
func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Err returns the error of the last failed background write, if any.
func (q *WriteQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErr
}

// keyLock returns the mutex serializing adapter writes of key.
func (q *WriteQueue) keyLock(key string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		q.keyLocks[key] = l
	}
	return l
}

// flushKey writes the entry for key if it is still the one the timer was
// armed for.
func (q *WriteQueue) flushKey(key string, seq uint64) {
	if err := q.write(context.Background(), key, seq); err != nil {
		q.logger.Printf("WARNING: %v", err)
	}
}

// write takes the entry queued for key and writes it. A nonzero seq
// restricts the write to that entry. Writes of one key never overlap, so
// content queued later always lands later.
func (q *WriteQueue) write(ctx context.Context, key string, seq uint64) error {
	l := q.keyLock(key)
	l.Lock()
	defer l.Unlock()

	q.mu.Lock()
	w, ok := q.pending[key]
	if !ok || (seq != 0 && w.seq != seq) {
		q.mu.Unlock()
		return nil
	}
	w.timer.Stop()
	delete(q.pending, key)
	q.inflight[key] = w.path
	q.mu.Unlock()

	err := q.fs.Write(ctx, w.path, w.data)

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, key)
	if err != nil {
		q.requeueLocked(key, w, err)
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	if w.seq > q.written[key] {
		q.written[key] = w.seq
	}
	return nil
}

// requeueLocked puts a failed write back unless newer content was queued
// or written meanwhile. q.mu must be held.
func (q *WriteQueue) requeueLocked(key string, w *pendingWrite, err error) {
	q.lastErr = err
	if _, ok := q.pending[key]; ok || q.closed || q.written[key] > w.seq {
		return
	}
	w.timer = time.AfterFunc(q.delay, func() { q.flushKey(key, w.seq) })
	q.pending[key] = w
}

// Flush writes everything queued now. It waits for writes already under
// way for the same keys.
func (q *WriteQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	keys := make([]string, 0, len(q.pending)+len(q.inflight))
	for key := range q.pending {
		keys = append(keys, key)
	}
	for key := range q.inflight {
		if _, ok := q.pending[key]; !ok {
			keys = append(keys, key)
		}
	}
	q.mu.Unlock()
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := q.write(ctx, key, 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes the queue and rejects further writes.
func (q *WriteQueue) Close(ctx context.Context) error {
	err := q.Flush(ctx)
	q.mu.Lock()
	q.closed = true
	for key, w := range q.pending {
		w.timer.Stop()
		delete(q.pending, key)
	}
	q.mu.Unlock()
	return err
}
