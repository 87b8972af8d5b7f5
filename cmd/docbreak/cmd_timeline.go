package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/docbreak/internal/assembler"
	"github.com/ajitpratap0/docbreak/internal/models"
)

func timelineCmd() *cobra.Command {
	var (
		asJSON      bool
		breakdownID string
	)

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Print the master timeline across all sources",
		Long:  "Prints the resolved corpus timeline ordered by start date, undated events last. With --breakdown, prints one breakdown's own timeline instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("timeline: %w", err)
			}
			defer a.Close(ctx)

			var events []models.Event
			if breakdownID != "" {
				b, err := a.store.GetBreakdown(ctx, breakdownID)
				if err != nil {
					return fmt.Errorf("timeline: %w", err)
				}
				if b.Result == nil {
					return fmt.Errorf("timeline: breakdown %s has no result (stage %s)", b.ID, b.Stage)
				}
				events = b.Result.Timeline
			} else {
				events, err = a.store.ListTimeline(ctx)
				if err != nil {
					return fmt.Errorf("timeline: %w", err)
				}
			}

			if asJSON {
				persisted := assembler.ToPersisted(&models.BreakdownResult{Timeline: events})
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(persisted.Timeline)
			}

			for _, e := range events {
				fmt.Printf("%-28s %s\n", e.When(), e.Name)
				if e.Description != "" {
					fmt.Printf("%-28s %s\n", "", truncate(e.Description, 120))
				}
			}
			if len(events) == 0 {
				fmt.Println("No events found.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print events in the persisted JSON shape")
	cmd.Flags().StringVar(&breakdownID, "breakdown", "", "print the timeline of one breakdown")
	return cmd
}
