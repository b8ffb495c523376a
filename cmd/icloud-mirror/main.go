package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuya-takeyama/icloud-mirror/pkg/executor"
	"github.com/yuya-takeyama/icloud-mirror/pkg/logger"
	"github.com/yuya-takeyama/icloud-mirror/pkg/remote"
	"github.com/yuya-takeyama/icloud-mirror/pkg/remote/icloud"
	"github.com/yuya-takeyama/icloud-mirror/pkg/walker"
	"golang.org/x/term"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	appleID          string
	password         string
	dest             string
	cookieDir        string
	items            []string
	photosAll        bool
	photosAlbums     []string
	photosList       bool
	photosListAlbum  []string
	photosListAlbums bool
	resumeFlag       bool
	progressFlag     bool
	excludes         []string
	quiet            bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "icloud-mirror",
		Short: "Mirror iCloud Drive and iCloud Photos to a local folder",
		Long: `icloud-mirror downloads iCloud Drive files and iCloud Photos to a
destination folder (e.g. a USB mount), skipping files whose size already
matches and optionally resuming partial downloads via HTTP ranges.`,
		Version: fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		Args:    cobra.NoArgs,
		RunE:    run,
	}

	rootCmd.Flags().StringVar(&appleID, "apple-id", "", "Apple ID email (required)")
	rootCmd.Flags().StringVar(&password, "password", "", "Password (omit to prompt or set ICLOUD_PWD)")
	rootCmd.Flags().StringVar(&dest, "dest", "", "Destination path (required for download operations)")
	rootCmd.Flags().StringVar(&cookieDir, "cookie-dir", "", "Directory to cache session cookies (default ~/.icloud-mirror)")
	rootCmd.Flags().StringArrayVar(&items, "item", nil, "Drive path to download, relative to the root (repeatable)")
	rootCmd.Flags().BoolVar(&photosAll, "photos-all", false, "Download all iCloud Photos to DEST/Photos")
	rootCmd.Flags().StringArrayVar(&photosAlbums, "photos-album", nil, "Album name to download to DEST/Photos/<Album> (repeatable)")
	rootCmd.Flags().BoolVar(&photosList, "photos-list", false, "List all iCloud Photos filenames (no download)")
	rootCmd.Flags().StringArrayVar(&photosListAlbum, "photos-list-album", nil, "List filenames in an album (repeatable)")
	rootCmd.Flags().BoolVar(&photosListAlbums, "photos-list-albums", false, "List all album names")
	rootCmd.Flags().BoolVar(&resumeFlag, "resume", false, "Resume partial downloads using HTTP ranges")
	rootCmd.Flags().BoolVar(&progressFlag, "progress", false, "Show per-file download progress")
	rootCmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Exclude patterns for drive paths (multiple allowed)")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress non-error output")

	if err := rootCmd.MarkFlagRequired("apple-id"); err != nil {
		panic(err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := logger.NewSyncLogger(quiet)

	listingOnly := (photosList || len(photosListAlbum) > 0 || photosListAlbums) &&
		len(items) == 0 && !photosAll && len(photosAlbums) == 0

	// Destination is required iff any download operation is requested.
	if !listingOnly && dest == "" {
		return fmt.Errorf("--dest is required for download operations")
	}

	if cookieDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		cookieDir = filepath.Join(home, ".icloud-mirror")
	}
	if err := os.MkdirAll(cookieDir, 0700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	if dest != "" {
		if err := os.MkdirAll(dest, 0755); err != nil {
			return fmt.Errorf("create destination: %w", err)
		}
	}

	client, err := login(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	stats := &walker.Stats{}
	fetcher := &executor.Fetcher{
		Logger:   log,
		Resume:   resumeFlag,
		Progress: progressFlag,
	}

	// Drive operations: explicit --item targets, or a full mirror when no
	// photos or listing mode was requested.
	driveDefault := len(items) == 0 && !photosAll && len(photosAlbums) == 0 && !listingOnly
	if len(items) > 0 || driveDefault {
		drive, err := client.Drive()
		if err != nil {
			return err
		}
		fetcher.Files = drive
		tw := &walker.TreeWalker{
			Drive:    drive,
			Fetcher:  fetcher,
			Logger:   log,
			Excludes: excludes,
			Stats:    stats,
		}

		if len(items) > 0 {
			log.Info("Downloading specified items...")
			for _, target := range items {
				node, err := drive.LookupPath(ctx, target)
				if errors.Is(err, remote.ErrNotFound) {
					log.NotFound("iCloud Drive path " + target)
					continue
				}
				if err != nil {
					return err
				}
				if err := tw.Walk(ctx, node, filepath.Join(dest, filepath.FromSlash(target))); err != nil {
					return err
				}
			}
		} else {
			log.Info("Mirroring iCloud Drive root...")
			root, err := drive.Root(ctx)
			if err != nil {
				return err
			}
			if err := tw.Walk(ctx, root, dest); err != nil {
				return err
			}
		}
	}

	needPhotos := photosAll || len(photosAlbums) > 0 || photosList || len(photosListAlbum) > 0 || photosListAlbums
	if needPhotos {
		photos, err := client.Photos()
		if err != nil {
			return err
		}
		fetcher.Assets = photos

		if err := runPhotoListings(ctx, photos, log); err != nil {
			return err
		}

		cw := &walker.CollectionWalker{
			Photos:  photos,
			Fetcher: fetcher,
			Logger:  log,
			Stats:   stats,
		}
		photosRoot := filepath.Join(dest, "Photos")

		if photosAll {
			log.Info("Downloading all iCloud Photos (this may take a while)...")
			if err := cw.WalkAll(ctx, photosRoot); err != nil {
				return err
			}
		}
		for _, name := range photosAlbums {
			log.Info("Downloading album: %s", name)
			err := cw.WalkAlbum(ctx, name, photosRoot)
			if errors.Is(err, remote.ErrNotFound) {
				log.NotFound("album " + name)
				continue
			}
			if err != nil {
				return err
			}
		}
	}

	if !listingOnly {
		log.PrintSummary(stats.Fetched, stats.Resumed, stats.Skipped, stats.Failed, stats.BytesWritten, time.Since(start))
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d transfers failed", stats.Failed)
	}
	return nil
}

// login authenticates, walking the 2FA challenge when the service asks
// for one and trusting the session so the next run skips it.
func login(ctx context.Context) (*icloud.Client, error) {
	pw := password
	if pw == "" {
		pw = os.Getenv("ICLOUD_PWD")
	}
	if pw == "" {
		fmt.Fprint(os.Stderr, "Apple ID password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		pw = string(raw)
	}

	client, err := icloud.New(icloud.Config{
		AppleID:   appleID,
		CookieDir: cookieDir,
	})
	if err != nil {
		return nil, err
	}

	if err := client.Login(ctx, pw); err != nil {
		return nil, err
	}

	if client.Requires2FA() {
		fmt.Fprintln(os.Stderr, "Two-factor authentication required.")
		fmt.Fprint(os.Stderr, "Enter the 2FA code sent to your device: ")
		code, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read 2FA code: %w", err)
		}

		ok, err := client.Validate2FACode(ctx, strings.TrimSpace(code))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("invalid 2FA code")
		}

		if !client.IsTrustedSession() {
			if err := client.TrustSession(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to trust session; you may be prompted for 2FA again next run: %v\n", err)
			}
		}
	}

	return client, nil
}

// runPhotoListings handles the three list-only modes. Listing output is
// data, so it goes to stdout directly rather than through the logger.
func runPhotoListings(ctx context.Context, photos *icloud.PhotoLibrary, log logger.Logger) error {
	if photosList {
		log.Info("Listing all iCloud Photos:")
		pager, err := photos.All(ctx)
		if err != nil {
			return err
		}
		if err := listAssets(ctx, pager); err != nil {
			return err
		}
	}

	for _, name := range photosListAlbum {
		album, err := photos.Album(ctx, name)
		if errors.Is(err, remote.ErrNotFound) {
			log.NotFound("album " + name)
			continue
		}
		if err != nil {
			return err
		}
		log.Info("Listing album: %s", name)
		pager, err := photos.AlbumAssets(ctx, album)
		if err != nil {
			return err
		}
		if err := listAssets(ctx, pager); err != nil {
			return err
		}
	}

	if photosListAlbums {
		log.Info("Listing all iCloud Photos albums:")
		albums, err := photos.Albums(ctx)
		if err != nil {
			return err
		}
		for _, album := range albums {
			fmt.Println(formatAlbumName(album))
		}
	}

	return nil
}

func listAssets(ctx context.Context, pager remote.AssetPager) error {
	for pager.HasMorePages() {
		assets, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, asset := range assets {
			fmt.Println(assetLabel(asset))
		}
	}
	return nil
}

func assetLabel(asset *remote.Asset) string {
	if asset.Filename != "" {
		return asset.Filename
	}
	return asset.ID
}

// formatAlbumName includes the album key when it differs from the title.
func formatAlbumName(album *remote.Album) string {
	if album.Key != album.Title {
		return fmt.Sprintf("%s (id: %s)", album.Title, album.Key)
	}
	return album.Title
}
