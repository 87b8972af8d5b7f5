package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	docmcp "github.com/ajitpratap0/docbreak/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  create_source            fetch a URL and record it as a source
  breakdown_source         run a breakdown of a source
  get_breakdown            get a breakdown by ID
  timeline                 the master timeline across all sources
  parties                  list parties or get one by ID with its relationships
  create_party             add a party by hand
  delete_party             delete a party and its relationships
  relate_parties           record a relationship between two parties
  set_relationship_status  activate or deactivate a relationship

If the pipeline cannot be wired at startup (for example, no Claude API key)
the server still starts; breakdown tools return MCP error responses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, true)
			if err != nil {
				logger.Error("mcp: pipeline unavailable; breakdown tools will fail", "error", err)
				a, err = openApp(ctx, logger, false)
				if err != nil {
					return err
				}
			}
			defer a.Close(ctx)

			var breakdowns docmcp.Breakdowns
			if a.pipeline != nil {
				breakdowns = a.pipeline
			}
			srv := docmcp.NewServer(a.sources, breakdowns, a.store, a.parties, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: docbreak MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
