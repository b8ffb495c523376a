package walker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/yuya-takeyama/icloud-mirror/pkg/executor"
	"github.com/yuya-takeyama/icloud-mirror/pkg/logger"
	"github.com/yuya-takeyama/icloud-mirror/pkg/remote"
)

// CollectionWalker iterates flat media collections page by page, so
// arbitrarily long libraries are never loaded into memory up front.
type CollectionWalker struct {
	Photos  remote.Photos
	Fetcher *executor.Fetcher
	Logger  logger.Logger
	Stats   *Stats
}

// WalkAll mirrors every asset in the library into destDir.
func (w *CollectionWalker) WalkAll(ctx context.Context, destDir string) error {
	pager, err := w.Photos.All(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	return w.walkPager(ctx, pager, destDir)
}

// WalkAlbum mirrors one named album into destRoot/<album>. A lookup
// miss returns an error wrapping remote.ErrNotFound; the caller logs it
// and continues with any remaining requested names.
func (w *CollectionWalker) WalkAlbum(ctx context.Context, name, destRoot string) error {
	album, err := w.Photos.Album(ctx, name)
	if err != nil {
		return err
	}
	pager, err := w.Photos.AlbumAssets(ctx, album)
	if err != nil {
		return fmt.Errorf("list album %s: %w", name, err)
	}
	return w.walkPager(ctx, pager, filepath.Join(destRoot, album.Title))
}

func (w *CollectionWalker) walkPager(ctx context.Context, pager remote.AssetPager, destDir string) error {
	for pager.HasMorePages() {
		assets, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("next page: %w", err)
		}
		for _, asset := range assets {
			res, err := w.Fetcher.FetchAsset(ctx, asset, destDir)
			if err := w.finish(res, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *CollectionWalker) finish(res executor.Result, err error) error {
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
