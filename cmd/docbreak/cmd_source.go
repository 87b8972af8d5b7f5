package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Create, inspect and delete sources",
	}
	cmd.AddCommand(sourceCreateCmd(), sourceListCmd(), sourceGetCmd(), sourceDeleteCmd())
	return cmd
}

func sourceCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [url]",
		Short: "Fetch a URL and record it as a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("source create: %w", err)
			}
			defer a.Close(ctx)

			src, err := a.sources.Create(ctx, args[0])
			if err != nil {
				return fmt.Errorf("source create: %w", err)
			}

			fmt.Printf("Created source %s\n", src.ID)
			fmt.Printf("  URL:       %s\n", src.URL)
			fmt.Printf("  HTTP code: %d\n", src.HTTPCode)
			if !src.Available() {
				fmt.Println("  Content unavailable; this source cannot be broken down.")
			}
			return nil
		},
	}
}

func sourceListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("source list: %w", err)
			}
			defer a.Close(ctx)

			sources, err := a.sources.List(ctx, limit)
			if err != nil {
				return fmt.Errorf("source list: %w", err)
			}
			for i, src := range sources {
				fmt.Printf("[%d] %s  %s\n", i+1, src.ID, truncate(src.URL, 100))
				fmt.Printf("    HTTP %d | accessed %s\n", src.HTTPCode, src.AccessedAt.Format("2006-01-02 15:04"))
			}
			if len(sources) == 0 {
				fmt.Println("No sources found.")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func sourceGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [source-id]",
		Short: "Show a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("source get: %w", err)
			}
			defer a.Close(ctx)

			src, err := a.sources.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("source get: %w", err)
			}
			fmt.Printf("ID:        %s\n", src.ID)
			fmt.Printf("URL:       %s\n", src.URL)
			fmt.Printf("HTTP code: %d\n", src.HTTPCode)
			fmt.Printf("Accessed:  %s\n", src.AccessedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("Available: %t\n", src.Available())
			fmt.Printf("Content:   %d bytes\n", len(src.Content))
			return nil
		},
	}
}

func sourceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [source-id]",
		Short: "Delete a source and its breakdowns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("source delete: %w", err)
			}
			defer a.Close(ctx)

			if err := a.sources.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("source delete: %w", err)
			}
			fmt.Printf("Deleted source %s\n", args[0])
			return nil
		},
	}
}
