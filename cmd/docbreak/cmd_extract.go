package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/docbreak/internal/chunker"
	"github.com/ajitpratap0/docbreak/pkg/tokenizer"
)

func extractCmd() *cobra.Command {
	var showChunks bool

	cmd := &cobra.Command{
		Use:   "extract [source-id]",
		Short: "Print the prose extracted from a source",
		Long:  "Prints the text the pipeline would chunk. With --chunks, prints each chunk with its size and token estimate instead.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}
			defer a.Close(ctx)

			src, err := a.sources.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}
			text, err := a.sources.Text(src)
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}

			if !showChunks {
				fmt.Println(text)
				return nil
			}

			chunks := chunker.New(chunker.WithMaxChars(cfg.Pipeline.ChunkSize)).Chunk(text)
			for i, c := range chunks {
				fmt.Printf("--- chunk %d/%d (%d chars, ~%d tokens) ---\n", i+1, len(chunks), len([]rune(c)), tokenizer.EstimateTokens(c))
				fmt.Println(c)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showChunks, "chunks", false, "print the chunks instead of the full text")
	return cmd
}
