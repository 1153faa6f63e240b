package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

const (
	// DefaultDesktopBasePath is the desktop data directory.
	DefaultDesktopBasePath = "~/GTD"

	// DefaultMobileBasePath is the data directory inside the documents
	// directory on mobile platforms.
	DefaultMobileBasePath = "GTD"

	tempPrefix = ".flowy-tmp-"
)

// IsTempFile reports whether name is a temporary file of an in-progress
// atomic write.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

// Local is an Adapter over a directory of the host file system.
type Local struct {
	root string
}

// NewLocal opens the directory at basePath, creating it if needed. A
// leading "~" is expanded to the user's home directory.
func NewLocal(basePath string) (*Local, error) {
	if basePath == "" {
		basePath = DefaultDesktopBasePath
	}
	root, err := ExpandHome(basePath)
	if err != nil {
		return nil, err
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path %s: %w", basePath, err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", root, err)
	}
	return &Local{root: root}, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// Root returns the absolute base directory.
func (l *Local) Root() string { return l.root }

// Dir returns the absolute base directory.
func (l *Local) Dir() string { return l.root }

// resolve cleans a logical path and maps it into the base directory.
func (l *Local) resolve(op, p string) (string, string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", "", pathErr(op, p, err)
	}
	return clean, filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

func (l *Local) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, full, err := l.resolve("exists", p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, pathErr("exists", p, err)
	}
	return true, nil
}

func (l *Local) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, full, err := l.resolve("read", p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, pathErr("read", clean, osErr(err))
	}
	return data, nil
}

func (l *Local) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, full, err := l.resolve("write", p)
	if err != nil {
		return err
	}
	if clean == "" {
		return pathErr("write", p, ErrInvalidPath)
	}
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return pathErr("write", clean, ErrIsDir)
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return pathErr("write", clean, osErr(err))
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return pathErr("write", clean, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return pathErr("write", clean, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return pathErr("write", clean, err)
	}
	if err := tmp.Close(); err != nil {
		return pathErr("write", clean, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return pathErr("write", clean, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return pathErr("write", clean, err)
	}
	committed = true
	return nil
}

func (l *Local) List(ctx context.Context, p string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, full, err := l.resolve("list", p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, pathErr("list", clean, osErr(err))
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if IsTempFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, pathErr("list", clean, err)
		}
		out = append(out, fileInfo(joinPath(clean, e.Name()), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *Local) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, full, err := l.resolve("delete", p)
	if err != nil {
		return err
	}
	if clean == "" {
		return pathErr("delete", p, ErrInvalidPath)
	}
	if err := os.RemoveAll(full); err != nil {
		return pathErr("delete", clean, err)
	}
	return nil
}

func (l *Local) EnsureDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, full, err := l.resolve("mkdir", p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return pathErr("mkdir", clean, osErr(err))
	}
	return nil
}

func (l *Local) Stat(ctx context.Context, p string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}
	clean, full, err := l.resolve("stat", p)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return FileInfo{}, pathErr("stat", clean, osErr(err))
	}
	return fileInfo(clean, info), nil
}

func fileInfo(logical string, info os.FileInfo) FileInfo {
	fi := FileInfo{
		Name:       info.Name(),
		Path:       logical,
		IsDir:      info.IsDir(),
		ModifiedAt: info.ModTime().UnixMilli(),
	}
	if logical == "" {
		fi.Name = ""
	}
	if !fi.IsDir {
		fi.Size = info.Size()
	}
	return fi
}

// osErr maps os errors onto the adapter sentinels.
func osErr(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, syscall.EISDIR):
		return ErrIsDir
	case errors.Is(err, syscall.ENOTDIR):
		return ErrNotDir
	}
	return err
}

// Mobile is an Adapter rooted at basePath inside the application documents
// directory.
type Mobile struct {
	*Local
	basePath string
}

// NewMobile opens documentsDir/basePath, creating it if needed. An empty
// documentsDir resolves through DefaultDocumentsDir.
func NewMobile(documentsDir, basePath string) (*Mobile, error) {
	if basePath == "" {
		basePath = DefaultMobileBasePath
	}
	if documentsDir == "" {
		dir, err := DefaultDocumentsDir()
		if err != nil {
			return nil, err
		}
		documentsDir = dir
	}
	clean, err := CleanPath(filepath.ToSlash(basePath))
	if err != nil || clean == "" {
		return nil, fmt.Errorf("invalid mobile base path %q", basePath)
	}
	local, err := NewLocal(filepath.Join(documentsDir, filepath.FromSlash(clean)))
	if err != nil {
		return nil, err
	}
	return &Mobile{Local: local, basePath: clean}, nil
}

// Root returns the base path relative to the documents directory.
func (m *Mobile) Root() string { return m.basePath }

// DefaultDocumentsDir returns $FLOWY_DOCUMENTS_DIR or ~/Documents.
func DefaultDocumentsDir() (string, error) {
	if dir := os.Getenv("FLOWY_DOCUMENTS_DIR"); dir != "" {
		return ExpandHome(dir)
	}
	return ExpandHome("~/Documents")
}
