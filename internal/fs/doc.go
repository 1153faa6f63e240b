// Package fs provides a platform-neutral file system adapter for the flowy
// data tree.
//
// Every consumer (the store, the sync engine, importers) talks to an
// Adapter using slash-separated logical paths relative to the adapter root,
// such as "tasks/tasks.json" or "journals/2024/01/2024-01-15.md". The root
// itself is addressed by "" or ".". Paths that would escape the root fail
// with ErrInvalidPath.
//
// # Backends
//
//   - Local: a directory on the desktop file system (default ~/GTD). Writes
//     go through a temporary file and a rename so readers never observe a
//     partially written file.
//   - Mobile: the same directory semantics rooted at the application
//     documents directory (default <documents>/GTD).
//   - Browser: an emulation of the web client's IndexedDB storage on top of
//     SQLite, with a "files" table for content and a "meta" table for
//     directory structure. Each write is a single transaction.
//   - Memory: an in-memory tree with an injectable clock, used by tests.
//
// Backends register themselves per Platform. Open builds an adapter for a
// set of Options and Default returns a process-wide shared instance:
//
//	adapter, err := fs.Default(fs.Options{BasePath: "~/GTD"})
//	if err != nil {
//	    return err
//	}
//	data, err := adapter.Read(ctx, "tasks/tasks.json")
//	if fs.IsNotFound(err) {
//	    data = format.CreateEmptyTaskFile()
//	}
//
// # Concurrency
//
// Adapters are safe for concurrent use, but two writers to one path may
// interleave. Wrap the adapter with Serialized when several components (the
// store and the sync engine) share it:
//
//	shared := fs.Serialized(adapter)
//
// # Archives
//
// ExportArchive and ImportArchive move a whole tree through a zip archive
// whose entry names are the logical paths, so an export from one backend
// imports unchanged into any other.
package fs
