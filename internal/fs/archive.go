package fs

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// maxArchiveEntry bounds the size of a single imported file.
const maxArchiveEntry = 64 << 20

// ExportArchive writes every file under the adapter root to w as a zip
// archive. Entry names are the logical paths, so the archive imports into
// any backend. It returns the number of files written.
func ExportArchive(ctx context.Context, a Adapter, w io.Writer) (int, error) {
	zw := zip.NewWriter(w)
	count := 0

	err := Walk(ctx, a, "", func(fi FileInfo) error {
		if fi.IsDir {
			return nil
		}
		data, err := a.Read(ctx, fi.Path)
		if err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
		hdr := &zip.FileHeader{
			Name:     fi.Path,
			Method:   zip.Deflate,
			Modified: time.UnixMilli(fi.ModifiedAt).UTC(),
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", fi.Path, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("failed to write %s to archive: %w", fi.Path, err)
		}
		count++
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return count, err
	}
	if err := zw.Close(); err != nil {
		return count, fmt.Errorf("failed to finish archive: %w", err)
	}
	return count, nil
}

// ImportArchive writes every file entry of the zip archive into the
// adapter, overwriting existing files. Entries whose names escape the root
// are rejected before anything is written. It returns the number of files
// written.
func ImportArchive(ctx context.Context, a Adapter, r io.ReaderAt, size int64) (int, error) {
	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return 0, pathErr("import", "archive", ErrInvalidPath)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}

	type entry struct {
		file *zip.File
		path string
	}
	entries := make([]entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		clean, err := CleanPath(f.Name)
		if err != nil || clean == "" {
			return 0, pathErr("import", f.Name, ErrInvalidPath)
		}
		if f.UncompressedSize64 > maxArchiveEntry {
			return 0, fmt.Errorf("archive entry %s is too large (%d bytes)", f.Name, f.UncompressedSize64)
		}
		entries = append(entries, entry{file: f, path: clean})
	}

	count := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		data, err := readZipEntry(e.file, maxArchiveEntry)
		if err != nil {
			return count, fmt.Errorf("failed to read archive entry %s: %w", e.file.Name, err)
		}
		if err := a.Write(ctx, e.path, data); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// readZipEntry reads f, failing when it holds more than limit bytes
// whatever its header claims.
func readZipEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("entry exceeds %d bytes", limit)
	}
	return data, nil
}
