package fs

import (
	"context"
	"errors"
	iofs "io/fs"
)

// SkipDir can be returned by a WalkFunc to skip the directory it was
// called for.
var SkipDir = iofs.SkipDir

// WalkFunc is called for every entry below the walk root.
type WalkFunc func(fi FileInfo) error

// Walk visits the tree below root depth first in name order. A missing root
// is not an error.
func Walk(ctx context.Context, a Adapter, root string, fn WalkFunc) error {
	entries, err := a.List(ctx, root)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	for _, fi := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(fi); err != nil {
			if fi.IsDir && errors.Is(err, SkipDir) {
				continue
			}
			return err
		}
		if fi.IsDir {
			if err := Walk(ctx, a, fi.Path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Copy duplicates the file at from to to.
func Copy(ctx context.Context, a Adapter, from, to string) error {
	data, err := a.Read(ctx, from)
	if err != nil {
		return err
	}
	return a.Write(ctx, to, data)
}

// Move renames the file at from to to. The destination is written before
// the source is removed, so a failure never loses the content.
func Move(ctx context.Context, a Adapter, from, to string) error {
	src, err := CleanPath(from)
	if err != nil {
		return pathErr("move", from, err)
	}
	dst, err := CleanPath(to)
	if err != nil {
		return pathErr("move", to, err)
	}
	if src == dst {
		return nil
	}
	if err := Copy(ctx, a, src, dst); err != nil {
		return err
	}
	return a.Delete(ctx, src)
}
