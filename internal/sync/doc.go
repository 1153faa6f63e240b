// Package sync keeps the local GTD tree and a WebDAV copy of it in step.
//
// # Engine
//
// Engine runs one sync cycle at a time: it lists both trees, decides per
// path with the conflict package and applies the result with a bounded
// pool of workers. A path is never handled by two workers at once.
//
//	local, err := fs.Default(fs.Options{})
//	if err != nil {
//	    return err
//	}
//	engine := sync.NewEngine(local, sync.DefaultConfig())
//	if err := engine.Configure(ctx, webdav.Options{
//	    URL:      "https://dav.example.com/remote.php/webdav",
//	    Username: "alice",
//	    Password: "app-password",
//	}); err != nil {
//	    if errors.Is(err, webdav.ErrAuth) {
//	        // bad credentials
//	    }
//	    return err
//	}
//
//	summary, err := engine.SyncAll(ctx)
//	if err != nil {
//	    return err // listing failed; local files are untouched
//	}
//	for _, f := range summary.Failures {
//	    log.Printf("%s: %s", f.Path, f.Message)
//	}
//
// A call to SyncAll while another runs fails with ErrAlreadySyncing.
//
// # State
//
// The engine records, per path, the modification time each side had after
// the last successful transfer in .gtd/sync-state.json. Each side is only
// compared with its own recorded time, so the server clock never has to
// agree with the local one. Task files also keep the last agreed content
// under .gtd/base/, which lets edits to different tasks merge without a
// conflict copy. Nothing under .gtd/ is synced.
//
// # Failures
//
// A failure on one path is recorded in Summary.Failures and never stops
// the cycle. Network errors are retried Config.Retries times. When the
// cycle times out or is canceled, paths not yet handled are counted as
// failed; finished transfers stay committed and recorded.
//
// # Daemon
//
// Daemon runs SyncAll on a timer and, for directory-backed adapters, a
// short while after local files change, using a Watcher over the tree:
//
//	d, err := sync.NewDaemon(engine, &sync.DaemonConfig{
//	    Interval:         5 * time.Minute,
//	    DebounceInterval: 2 * time.Second,
//	    Dir:              local.Dir(),
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx)
package sync
