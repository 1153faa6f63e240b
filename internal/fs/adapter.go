package fs

import (
	"context"
	"path"
	"strings"
	"time"
)

// FileInfo describes a file or directory. ModifiedAt is in epoch
// milliseconds.
type FileInfo struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	IsDir      bool   `json:"isDir"`
	ModifiedAt int64  `json:"modifiedAt"`
	Size       int64  `json:"size"`
}

// ModTime returns ModifiedAt as a time.Time.
func (fi FileInfo) ModTime() time.Time {
	return time.UnixMilli(fi.ModifiedAt)
}

// Adapter is the uniform file API over every storage backend.
type Adapter interface {
	// Exists reports whether a file or directory exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Read returns the full content of a file.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write replaces the content of a file, creating parent directories.
	// A reader sees either the old or the new content, never a mix.
	Write(ctx context.Context, path string, data []byte) error

	// List returns the direct children of a directory.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// Delete removes a file or directory tree. Deleting a missing path
	// succeeds.
	Delete(ctx context.Context, path string) error

	// EnsureDir creates a directory and its parents.
	EnsureDir(ctx context.Context, path string) error

	// Stat describes a file or directory.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// Root identifies the tree: a base path or a storage namespace.
	Root() string
}

// DirBacked is implemented by adapters stored in an operating system
// directory, which can therefore be watched for changes.
type DirBacked interface {
	Dir() string
}

// CleanPath normalizes a logical path. The root is returned as "".
func CleanPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) || strings.Contains(p, `\`) {
		return "", ErrInvalidPath
	}
	c := path.Clean(p)
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", ErrInvalidPath
	}
	c = strings.TrimPrefix(c, "/")
	if c == "." {
		c = ""
	}
	return c, nil
}

// parentOf returns the parent of a cleaned logical path ("" for top level).
func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// joinPath joins a cleaned directory and a child name.
func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// ancestors returns every parent directory of p, outermost first.
func ancestors(p string) []string {
	var out []string
	for dir := parentOf(p); dir != ""; dir = parentOf(dir) {
		out = append(out, dir)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
