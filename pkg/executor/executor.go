// Package executor fetches single remote items: it asks the planner for a
// decision, opens the remote byte stream (ranged for resume), and drives
// it through the byte sink.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yuya-takeyama/icloud-mirror/pkg/logger"
	"github.com/yuya-takeyama/icloud-mirror/pkg/planner"
	"github.com/yuya-takeyama/icloud-mirror/pkg/remote"
)

// assetFallbackExt names assets that carry no filename: <id>.bin.
const assetFallbackExt = ".bin"

// TransferError is a network or protocol failure while streaming one
// item. It aborts only that item; walkers log it and continue. The
// partial file stays on disk for a future resumed run.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// FileOpener opens a drive file's byte stream, optionally from an offset.
type FileOpener interface {
	OpenFile(ctx context.Context, node *remote.Node, offset int64) (io.ReadCloser, error)
}

// AssetOpener opens a media asset's byte stream, optionally from an offset.
type AssetOpener interface {
	OpenAsset(ctx context.Context, asset *remote.Asset, offset int64) (io.ReadCloser, error)
}

// Result is the outcome of fetching one item.
type Result struct {
	Path         string
	Decision     planner.Decision
	BytesWritten int64 // bytes written by this run, excluding pre-existing
}

// Fetcher downloads single items sequentially.
type Fetcher struct {
	Files    FileOpener
	Assets   AssetOpener
	Logger   logger.Logger
	Resume   bool
	Progress bool
}

// FetchFile mirrors one drive file node to destPath.
func (f *Fetcher) FetchFile(ctx context.Context, node *remote.Node, destPath string) (Result, error) {
	return f.fetch(ctx, destPath, node.Size, func(offset int64) (io.ReadCloser, error) {
		return f.Files.OpenFile(ctx, node, offset)
	})
}

// FetchAsset mirrors one media asset into destDir, deriving the filename
// from the asset (or its ID when the remote reports none).
func (f *Fetcher) FetchAsset(ctx context.Context, asset *remote.Asset, destDir string) (Result, error) {
	name := asset.Filename
	if name == "" {
		name = asset.ID + assetFallbackExt
	}
	destPath := filepath.Join(destDir, name)
	return f.fetch(ctx, destPath, asset.Size, func(offset int64) (io.ReadCloser, error) {
		return f.Assets.OpenAsset(ctx, asset, offset)
	})
}

func (f *Fetcher) fetch(ctx context.Context, destPath string, expected *int64, open func(offset int64) (io.ReadCloser, error)) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return Result{Path: destPath}, fmt.Errorf("create directory: %w", err)
	}

	pl, err := planner.Make(destPath, expected, f.Resume)
	if err != nil {
		return Result{Path: destPath}, err
	}

	res := Result{Path: destPath, Decision: pl.Decision}

	mode := modeTruncate
	switch pl.Decision {
	case planner.DecisionSkip:
		f.Logger.Skip(destPath, pl.ExistingSize)
		return res, nil
	case planner.DecisionResume:
		f.Logger.Resume(destPath, pl.ExistingSize, *pl.ExpectedSize)
		mode = modeAppend
	default:
		if expected != nil && pl.ExistingSize > *expected {
			f.Logger.Mismatch(destPath, pl.ExistingSize, *expected)
		}
		f.Logger.Fetch(destPath, sizeOrUnknown(expected))
	}

	body, err := open(pl.Offset)
	if err != nil {
		return res, &TransferError{Path: destPath, Err: err}
	}
	defer body.Close()

	total, err := writeStream(streamRequest{
		destPath:    destPath,
		mode:        mode,
		body:        body,
		startOffset: pl.Offset,
		expected:    expected,
		label:       filepath.Base(destPath),
		progress:    f.Progress,
	}, f.Logger)
	res.BytesWritten = total - pl.Offset
	if err != nil {
		return res, err
	}
	return res, nil
}

func sizeOrUnknown(size *int64) int64 {
	if size == nil {
		return -1
	}
	return *size
}
