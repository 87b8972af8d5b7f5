package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/docbreak/internal/embedder"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to required services",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			allOK := true

			// Record store, plus the Qdrant index when enabled.
			st, err := newStore(ctx, logger)
			if err != nil {
				fmt.Printf("Store: FAIL (%v)\n", err)
				allOK = false
			} else {
				defer func() { _ = st.Close() }()
				if _, err := st.ListSources(ctx, 1); err != nil {
					fmt.Printf("Store: FAIL (%v)\n", err)
					allOK = false
				} else {
					fmt.Println("Store: OK")
					if cfg.Qdrant.Enabled {
						fmt.Println("Qdrant: OK")
					}
				}
			}

			emb, err := embedder.New(cfg.Embedding, logger)
			if err == nil {
				_, err = emb.Embed(ctx, "health check")
			}
			if err != nil {
				fmt.Printf("Embedder (%s): FAIL (%v)\n", cfg.Embedding.Provider, err)
				allOK = false
			} else {
				fmt.Printf("Embedder (%s): OK\n", cfg.Embedding.Provider)
			}

			if cfg.Neo4j.Enabled {
				sink, err := newGraphSink(ctx, logger)
				if err != nil {
					fmt.Printf("Neo4j: FAIL (%v)\n", err)
					allOK = false
				} else {
					_ = sink.Close(ctx)
					fmt.Println("Neo4j: OK")
				}
			}

			if cfg.Claude.APIKey == "" {
				fmt.Println("Claude API: FAIL (no API key configured)")
				allOK = false
			} else {
				fmt.Println("Claude API: OK")
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}
}
