// Package walker traverses remote trees and media collections, handing
// each leaf to the executor one at a time.
package walker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/yuya-takeyama/icloud-mirror/pkg/executor"
	"github.com/yuya-takeyama/icloud-mirror/pkg/logger"
	"github.com/yuya-takeyama/icloud-mirror/pkg/planner"
	"github.com/yuya-takeyama/icloud-mirror/pkg/remote"
)

// Stats accumulates per-run outcome counters across walkers.
type Stats struct {
	Fetched      int64
	Resumed      int64
	Skipped      int64
	Failed       int64
	BytesWritten int64
}

// Record tallies one fetch outcome.
func (s *Stats) Record(res executor.Result) {
	s.BytesWritten += res.BytesWritten
	switch res.Decision {
	case planner.DecisionSkip:
		s.Skipped++
	case planner.DecisionResume:
		s.Resumed++
	case planner.DecisionFresh:
		s.Fetched++
	}
}

// TreeWalker mirrors a remote drive tree depth-first, pre-order, in the
// order children are reported by the remote. Exactly one item is in
// flight at a time.
type TreeWalker struct {
	Drive    remote.Drive
	Fetcher  *executor.Fetcher
	Logger   logger.Logger
	Excludes []string
	Stats    *Stats
}

// Walk mirrors node (and, for folders, all descendants) to destPath.
// Transfer failures abort only the current item; filesystem failures
// abort the walk.
func (w *TreeWalker) Walk(ctx context.Context, node *remote.Node, destPath string) error {
	return w.walk(ctx, node, destPath, "")
}

func (w *TreeWalker) walk(ctx context.Context, node *remote.Node, destPath, relPath string) error {
	if relPath != "" {
		excluded, err := isExcluded(relPath, w.Excludes)
		if err != nil {
			return err
		}
		if excluded {
			return nil
		}
	}

	if node.Kind == remote.KindFolder {
		if err := os.MkdirAll(destPath, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		children, err := w.Drive.Children(ctx, node)
		if err != nil {
			return fmt.Errorf("list %s: %w", node.Name, err)
		}
		for _, child := range children {
			childDest := filepath.Join(destPath, child.Name)
			childRel := path.Join(relPath, child.Name)
			if err := w.walk(ctx, child, childDest, childRel); err != nil {
				return err
			}
		}
		return nil
	}

	res, err := w.Fetcher.FetchFile(ctx, node, destPath)
	return w.finish(res, err)
}

// finish records one fetch outcome. A *TransferError is logged and
// absorbed so the walk continues with the next item; everything else
// propagates.
func (w *TreeWalker) finish(res executor.Result, err error) error {
	if err == nil {
		w.Stats.Record(res)
		return nil
	}
	var terr *executor.TransferError
	if errors.As(err, &terr) {
		w.Logger.Error("download", res.Path, err)
		w.Stats.Failed++
		w.Stats.BytesWritten += res.BytesWritten
		return nil
	}
	return err
}

func isExcluded(relPath string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, relPath)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
