// Package logging builds the component loggers used across flowy.
//
// Every component logs through a *log.Logger with a bracketed prefix:
//
//	logger := logging.New("sync", opts)
//	logger.Printf("Sync complete") // 2024/01/15 09:30:00 [sync] Sync complete
//
// When Options.File is set, all loggers created from the same Options
// share one rotating file.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where logs go.
type Options struct {
	// File is the log file. Empty logs to stderr.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int

	// Verbose also copies file output to stderr.
	Verbose bool
}

var (
	writersMu sync.Mutex
	writers   = make(map[string]*lumberjack.Logger)
)

// New returns a logger for component.
func New(component string, opts Options) *log.Logger {
	return log.New(Writer(opts), "["+component+"] ", log.LstdFlags)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Writer returns the destination described by opts. Rotating writers are
// shared per file.
func Writer(opts Options) io.Writer {
	if opts.File == "" {
		return os.Stderr
	}

	writersMu.Lock()
	w, ok := writers[opts.File]
	if !ok {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		writers[opts.File] = w
	}
	writersMu.Unlock()

	if opts.Verbose {
		return io.MultiWriter(w, os.Stderr)
	}
	return w
}

// Close closes every rotating file opened by Writer.
func Close() error {
	writersMu.Lock()
	defer writersMu.Unlock()

	var first error
	for name, w := range writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(writers, name)
	}
	return first
}
