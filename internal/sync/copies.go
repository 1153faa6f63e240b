package sync

import (
	"context"

	"github.com/flowy-gtd/flowy/internal/format"
	"github.com/flowy-gtd/flowy/internal/fs"
)

// FindConflictCopies lists the conflict copies present in the local tree.
func FindConflictCopies(ctx context.Context, a fs.Adapter) ([]fs.FileInfo, error) {
	var out []fs.FileInfo
	err := fs.Walk(ctx, a, "", func(fi fs.FileInfo) error {
		if !IsManaged(fi.Path) {
			if fi.IsDir {
				return fs.SkipDir
			}
			return nil
		}
		if !fi.IsDir && format.IsConflictCopy(fi.Path) {
			out = append(out, fi)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
