package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"github.com/yuya-takeyama/icloud-mirror/internal/s3remote"
	"github.com/yuya-takeyama/icloud-mirror/pkg/executor"
	"github.com/yuya-takeyama/icloud-mirror/pkg/logger"
	"github.com/yuya-takeyama/icloud-mirror/pkg/walker"
)

type mirrorConfig struct {
	s3URI     string
	localPath string
	excludes  []string
	resume    bool
	progress  bool
	profile   string
	region    string
	quiet     bool
}

func main() {
	var cfg mirrorConfig

	rootCmd := &cobra.Command{
		Use:   "s3-mirror <S3Uri> <LocalPath>",
		Short: "Mirror an S3 bucket/prefix to a local folder",
		Long: `s3-mirror downloads an S3 bucket or prefix to a local folder through
the same skip/resume engine as icloud-mirror, skipping objects whose size
already matches and optionally resuming partial downloads.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.s3URI = args[0]
			cfg.localPath = args[1]

			ctx := context.Background()
			return run(ctx, &cfg)
		},
	}

	rootCmd.Flags().StringSliceVar(&cfg.excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	rootCmd.Flags().BoolVar(&cfg.resume, "resume", false, "Resume partial downloads using ranged GETs")
	rootCmd.Flags().BoolVar(&cfg.progress, "progress", false, "Show per-file download progress")
	rootCmd.Flags().StringVar(&cfg.profile, "profile", "", "AWS profile to use")
	rootCmd.Flags().StringVar(&cfg.region, "region", "", "AWS region (uses default if not specified)")
	rootCmd.Flags().BoolVar(&cfg.quiet, "quiet", false, "Suppress non-error output")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *mirrorConfig) error {
	start := time.Now()
	log := logger.NewSyncLogger(cfg.quiet)

	bucket, prefix, err := s3remote.ParseURI(cfg.s3URI)
	if err != nil {
		return fmt.Errorf("invalid S3 URI: %w", err)
	}

	var configOpts []func(*config.LoadOptions) error
	if cfg.profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(cfg.profile))
	}
	if cfg.region != "" {
		configOpts = append(configOpts, config.WithRegion(cfg.region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	drive := s3remote.New(awsCfg, bucket, prefix)

	if err := os.MkdirAll(cfg.localPath, 0755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	log.Info("Mirroring s3://%s/%s to %s", bucket, prefix, cfg.localPath)

	stats := &walker.Stats{}
	fetcher := &executor.Fetcher{
		Files:    drive,
		Logger:   log,
		Resume:   cfg.resume,
		Progress: cfg.progress,
	}
	tw := &walker.TreeWalker{
		Drive:    drive,
		Fetcher:  fetcher,
		Logger:   log,
		Excludes: cfg.excludes,
		Stats:    stats,
	}

	root, err := drive.Root(ctx)
	if err != nil {
		return err
	}
	if err := tw.Walk(ctx, root, cfg.localPath); err != nil {
		return err
	}

	log.PrintSummary(stats.Fetched, stats.Resumed, stats.Skipped, stats.Failed, stats.BytesWritten, time.Since(start))

	if stats.Failed > 0 {
		return fmt.Errorf("%d transfers failed", stats.Failed)
	}
	return nil
}
