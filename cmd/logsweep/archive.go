package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"logsweep/internal/metrics"
	"logsweep/internal/worker"
)

func newArchiveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage archived destinations",
	}

	flush := &cobra.Command{
		Use:   "flush",
		Short: "Re-upload archives left in the local DLQ",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load(cmd)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Bucket) == "" {
				return errors.New("archive flush requires --bucket")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			up, err := worker.NewS3Uploader(ctx, cfg, m)
			if err != nil {
				return err
			}
			arc, err := worker.NewArchiver(cfg, m, up)
			if err != nil {
				return err
			}
			arc.Flush(ctx)
			return nil
		},
	}

	f := flush.Flags()
	f.String("bucket", "", "S3 bucket")
	f.String("prefix", "alerts", "S3 key prefix")
	f.String("aws-region", "us-east-1", "AWS region")
	f.String("dlq-dir", ".logsweep-dlq", "local DLQ directory")

	cmd.AddCommand(flush)
	return cmd
}
