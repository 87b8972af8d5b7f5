package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/pipeline"
)

func breakdownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakdown",
		Short: "Run, inspect and resume breakdowns",
	}
	cmd.AddCommand(breakdownRunCmd(), breakdownGetCmd(), breakdownListCmd(), breakdownResumeCmd())
	return cmd
}

// runFlags are the per-run overrides shared by run and resume.
type runFlags struct {
	strategy   string
	retry      bool
	chunkLimit int
}

func (f *runFlags) register(cmd *cobra.Command, withStrategy bool) {
	if withStrategy {
		cmd.Flags().StringVar(&f.strategy, "strategy", "", "summarization strategy: quick or growing-summary (default from config)")
		cmd.Flags().IntVar(&f.chunkLimit, "chunk-limit", 0, "process only the first N chunks")
	}
	cmd.Flags().BoolVar(&f.retry, "retry", false, "retry transient generation failures with backoff")
}

func (f *runFlags) options(cmd *cobra.Command) (pipeline.RunOptions, error) {
	opts := pipeline.RunOptions{ChunkLimit: f.chunkLimit}
	if f.chunkLimit < 0 {
		return opts, errors.New("--chunk-limit must be >= 0")
	}
	if f.strategy != "" {
		s := models.Strategy(f.strategy)
		if !s.IsValid() {
			return opts, fmt.Errorf("invalid --strategy %q: must be quick or growing-summary", f.strategy)
		}
		opts.Strategy = s
	}
	if cmd.Flags().Changed("retry") {
		retry := f.retry
		opts.Retry = &retry
	}
	return opts, nil
}

func breakdownRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [source-id]",
		Short: "Break a source down and merge the result into the corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}

			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, true)
			if err != nil {
				return fmt.Errorf("breakdown run: %w", err)
			}
			defer a.Close(ctx)

			b, err := a.pipeline.Run(ctx, args[0], opts)
			if b != nil {
				printBreakdown(b)
			}
			if err != nil {
				return fmt.Errorf("breakdown run: %w", err)
			}
			return nil
		},
	}

	flags.register(cmd, true)
	return cmd
}

func breakdownResumeCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "resume [breakdown-id]",
		Short: "Resume a failed or interrupted breakdown from its saved stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}

			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, true)
			if err != nil {
				return fmt.Errorf("breakdown resume: %w", err)
			}
			defer a.Close(ctx)

			b, err := a.pipeline.Resume(ctx, args[0], opts)
			if b != nil {
				printBreakdown(b)
			}
			if err != nil {
				return fmt.Errorf("breakdown resume: %w", err)
			}
			return nil
		},
	}

	flags.register(cmd, false)
	return cmd
}

func breakdownGetCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get [breakdown-id]",
		Short: "Show a breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("breakdown get: %w", err)
			}
			defer a.Close(ctx)

			b, err := a.store.GetBreakdown(ctx, args[0])
			if err != nil {
				return fmt.Errorf("breakdown get: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			}
			printBreakdown(b)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full breakdown record as JSON")
	return cmd
}

func breakdownListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [source-id]",
		Short: "List a source's breakdowns, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("breakdown list: %w", err)
			}
			defer a.Close(ctx)

			list, err := a.store.ListBreakdownsBySource(ctx, args[0])
			if err != nil {
				return fmt.Errorf("breakdown list: %w", err)
			}
			for i := range list {
				b := &list[i]
				fmt.Printf("[%d] %s  %-16s %-11s %s\n", i+1, b.ID, b.Strategy, b.Stage, b.UpdatedAt.Format("2006-01-02 15:04"))
			}
			if len(list) == 0 {
				fmt.Println("No breakdowns found.")
			}
			return nil
		},
	}
}

func printBreakdown(b *models.Breakdown) {
	fmt.Printf("Breakdown %s\n", b.ID)
	fmt.Printf("  Source:   %s\n", b.SourceID)
	fmt.Printf("  Strategy: %s\n", b.Strategy)
	fmt.Printf("  Stage:    %s\n", b.Stage)
	if b.Stage == models.StageFailed {
		fmt.Printf("  Failed:   %s (%s)\n", b.FailedStage, b.Error)
	}
	fmt.Printf("  Chunks:   %d\n", b.ChunkCount)
	fmt.Printf("  Tokens:   %d in / %d out\n", b.InputTokens, b.OutputTokens)
	if b.Summary != "" {
		fmt.Printf("  Summary:  %s\n", truncate(b.Summary, 300))
	}
	if b.Result == nil {
		return
	}
	fmt.Printf("  Parties (%d):\n", len(b.Result.Parties))
	for _, p := range b.Result.Parties {
		fmt.Printf("    - %s [%s]\n", p.Name, p.Type)
	}
	fmt.Printf("  Locations (%d):\n", len(b.Result.Locations))
	for _, l := range b.Result.Locations {
		fmt.Printf("    - %s\n", l.Name())
	}
	fmt.Printf("  Timeline (%d):\n", len(b.Result.Timeline))
	for _, e := range b.Result.Timeline {
		fmt.Printf("    - %s: %s\n", e.When(), e.Name)
	}
}
