package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/flowy-gtd/flowy/internal/config"
	"github.com/flowy-gtd/flowy/internal/fs"
	"github.com/flowy-gtd/flowy/internal/logging"
	"github.com/flowy-gtd/flowy/internal/store"
	"github.com/flowy-gtd/flowy/internal/sync"
	"github.com/flowy-gtd/flowy/internal/ui"
)

// errNoServer is returned by commands that need a configured server.
var errNoServer = errors.New("no sync server configured; run 'flowy configure' first")

// app is the wiring shared by the commands.
type app struct {
	cfg     *config.Config
	cfgPath string
	logOpts logging.Options

	local  *fs.SerializedAdapter
	store  *store.Store
	engine *sync.Engine
	out    *ui.Printer
}

// appOptions tunes openApp per command.
type appOptions struct {
	// AlwaysLog sends logs to stderr when no log file is configured.
	// Long-running commands set it.
	AlwaysLog bool
}

// openApp loads the configuration and opens the local tree. The engine is
// created but not connected; see connect.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		cfgPath: path,
		logOpts: cfg.LogOptions(),
		out:     ui.NewPrinter(os.Stdout),
	}
	a.logOpts.Verbose = logToStderr(verbose, opts, a.logOpts.File)

	fsOpts, err := cfg.FSOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	a.local, err = fs.Default(fsOpts)
	if err != nil {
		return nil, err
	}

	a.store = store.New(a.local, &store.Options{Logger: a.logger("store")})
	if err := a.store.Init(ctx); err != nil {
		a.close()
		return nil, err
	}

	engineCfg := cfg.EngineConfig(nil)
	engineCfg.Flusher = a.store
	engineCfg.Logger = a.logger("sync")
	a.engine = sync.NewEngine(a.local, engineCfg)
	return a, nil
}

// logToStderr reports whether logs go to stderr: on --verbose, or for
// commands asking for logs when no log file is set.
func logToStderr(verbose bool, opts appOptions, logFile string) bool {
	return verbose || (opts.AlwaysLog && logFile == "")
}

// logger returns a component logger. One-shot commands stay quiet unless
// a log file or --verbose is set.
func (a *app) logger(component string) *log.Logger {
	if a.logOpts.File == "" && !a.logOpts.Verbose {
		return logging.Discard()
	}
	return logging.New(component, a.logOpts)
}

// connect attaches the engine to the configured server.
func (a *app) connect(ctx context.Context) error {
	if !a.cfg.SyncConfigured() {
		return errNoServer
	}
	return a.engine.Configure(ctx, a.cfg.WebDAVOptions())
}

// close flushes pending writes and releases the local tree.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.store.Close(ctx); err != nil {
		a.out.Error("failed to save pending changes: %v", err)
	}
	fs.ResetDefault()
}
