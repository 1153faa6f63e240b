// Package format defines the durable file formats for tasks, journals and
// projects, and the codecs that convert them to and from their in-memory
// form.
//
// # File Layout
//
// All paths are logical, slash-separated and relative to the root of the
// managed tree:
//
//	tasks/tasks.json                     → the whole task list (one file)
//	journals/YYYY/MM/YYYY-MM-DD.md       → one journal per calendar day
//	projects/<id>.json                   → one project (board) per file
//
// # Task Files
//
// The task list is a single JSON document:
//
//	{
//	  "version": 1,
//	  "updatedAt": 1760522400000,
//	  "tasks": [
//	    {"id": "t-1", "title": "Buy milk", "list": "inbox", "completed": false,
//	     "createdAt": 1760522400000, "dueDate": null, "notes": ""}
//	  ]
//	}
//
// Decoding also accepts a bare array of tasks. Unknown fields are ignored
// and missing optional fields are filled with defaults.
//
// # Journal Files
//
// Journals are Markdown with a YAML frontmatter block:
//
//	---
//	id: journal-2026-10-15
//	date: "2026-10-15"
//	title: 2026.10.15
//	---
//	Body text in Markdown.
//
// The file path is derived from the journal date, so listing a date range
// needs only path construction and directory listing.
//
// # Project Files
//
// A project file holds the Project object verbatim. The older
// {"version": 1, "project": {...}} wrapper is still accepted on read.
//
// # Errors
//
// Every decode failure is returned as a *FormatError carrying the path of
// the offending file. Callers treat one bad file as an isolated failure.
package format
