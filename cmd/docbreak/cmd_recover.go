package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/docbreak/internal/lifecycle"
	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/pipeline"
)

func recoverCmd() *cobra.Command {
	var (
		dryRun    bool
		resume    bool
		threshold time.Duration
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Find breakdowns that stopped making progress and fail or resume them",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, resume && !dryRun)
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}
			defer a.Close(ctx)

			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.Pipeline.StallThreshold
			}

			var resumer lifecycle.Resumer
			if a.pipeline != nil {
				resumer = lifecycle.ResumerFunc(func(ctx context.Context, id string) (*models.Breakdown, error) {
					return a.pipeline.Resume(ctx, id, pipeline.RunOptions{})
				})
			}

			m := lifecycle.NewManager(a.store, resumer, threshold, logger)
			report, err := m.Run(ctx, lifecycle.Options{DryRun: dryRun, Resume: resume && !dryRun})
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}

			fmt.Printf("Recovery report:\n")
			fmt.Printf("  Stalled:        %d\n", report.Stalled)
			fmt.Printf("  Marked failed:  %d\n", report.MarkedFailed)
			fmt.Printf("  Resumed:        %d\n", report.Resumed)
			fmt.Printf("  Resume failed:  %d\n", report.ResumeFailed)
			for _, id := range report.IDs {
				fmt.Printf("    %s\n", id)
			}
			if dryRun {
				fmt.Println("  (dry run; no changes applied)")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report stalled breakdowns without changing them")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume stalled breakdowns instead of marking them failed")
	cmd.Flags().DurationVar(&threshold, "threshold", lifecycle.DefaultStallThreshold, "how long without a checkpoint counts as stalled (default from config)")
	return cmd
}
