package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/docbreak/internal/models"
)

func partiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parties",
		Short: "List, inspect and relate parties",
	}
	cmd.AddCommand(
		partiesListCmd(),
		partiesGetCmd(),
		partiesCreateCmd(),
		partiesDeleteCmd(),
		partiesRelateCmd(),
		relationshipStatusCmd("activate", models.RelationshipActive),
		relationshipStatusCmd("deactivate", models.RelationshipInactive),
	)
	return cmd
}

func partiesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all resolved parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("parties list: %w", err)
			}
			defer a.Close(ctx)

			parties, err := a.store.ListParties(ctx)
			if err != nil {
				return fmt.Errorf("parties list: %w", err)
			}
			for i, p := range parties {
				fmt.Printf("[%d] %s [%s]\n", i+1, p.Name, p.Type)
				fmt.Printf("    ID: %s\n", p.ID)
			}
			if len(parties) == 0 {
				fmt.Println("No parties found.")
			}
			return nil
		},
	}
}

func partiesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [party-id]",
		Short: "Show a party with its aliases and relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("parties get: %w", err)
			}
			defer a.Close(ctx)

			d, err := a.parties.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("parties get: %w", err)
			}
			p := d.Party
			fmt.Printf("ID:      %s\n", p.ID)
			fmt.Printf("Name:    %s\n", p.Name)
			fmt.Printf("Type:    %s\n", p.Type)
			if len(p.Aliases) > 0 {
				fmt.Printf("Aliases: %s\n", strings.Join(p.Aliases, ", "))
			}
			if p.DisambiguationDescription != "" {
				fmt.Printf("About:   %s\n", p.DisambiguationDescription)
			}
			fmt.Printf("Created: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05 MST"))

			if len(d.Relationships) == 0 {
				return nil
			}
			fmt.Println("Relationships:")
			for _, r := range d.Relationships {
				other := r.Other(p.ID)
				name := other
				if rp, ok := d.RelatedParties[other]; ok {
					name = rp.Name
				}
				arrow := "->"
				if r.ToPartyID == p.ID {
					arrow = "<-"
				}
				fmt.Printf("  %s %s %s [%s, %s]\n", r.ID, arrow, name, r.Type, r.Status)
			}
			return nil
		},
	}
}

func partiesCreateCmd() *cobra.Command {
	var (
		name        string
		partyType   string
		aliases     []string
		description string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a party by hand",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("parties create: %w", err)
			}
			defer a.Close(ctx)

			p, err := a.parties.Create(ctx, models.Party{
				Name:                      name,
				Type:                      models.PartyType(strings.ToLower(partyType)),
				Aliases:                   aliases,
				DisambiguationDescription: description,
			})
			if err != nil {
				return fmt.Errorf("parties create: %w", err)
			}
			fmt.Printf("Created party %s (%s [%s])\n", p.ID, p.Name, p.Type)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "party name (required)")
	cmd.Flags().StringVar(&partyType, "type", "", "individual or organization (required)")
	cmd.Flags().StringSliceVar(&aliases, "alias", nil, "alternative name (repeatable)")
	cmd.Flags().StringVar(&description, "description", "", "short description of the party")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func partiesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [party-id]",
		Short: "Delete a party and all of its relationships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("parties delete: %w", err)
			}
			defer a.Close(ctx)

			if err := a.parties.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("parties delete: %w", err)
			}
			fmt.Printf("Deleted party %s\n", args[0])
			return nil
		},
	}
}

func partiesRelateCmd() *cobra.Command {
	var relType, status string
	cmd := &cobra.Command{
		Use:   "relate [from-party-id] [to-party-id]",
		Short: "Record a relationship from one party to another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := models.ParseRelationshipType(relType)
			if err != nil {
				return fmt.Errorf("parties relate: %w", err)
			}
			st, err := models.ParseRelationshipStatus(status)
			if err != nil {
				return fmt.Errorf("parties relate: %w", err)
			}

			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("parties relate: %w", err)
			}
			defer a.Close(ctx)

			r, err := a.parties.Relate(ctx, args[0], args[1], typ, st)
			if err != nil {
				return fmt.Errorf("parties relate: %w", err)
			}
			fmt.Printf("Created relationship %s (%s, %s)\n", r.ID, r.Type, r.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&relType, "type", "", "employment, membership or association (required)")
	cmd.Flags().StringVar(&status, "status", "active", "active or inactive")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func relationshipStatusCmd(use string, status models.RelationshipStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [relationship-id]",
		Short: fmt.Sprintf("Mark a relationship %s", status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger, false)
			if err != nil {
				return fmt.Errorf("parties %s: %w", use, err)
			}
			defer a.Close(ctx)

			r, err := a.parties.SetStatus(ctx, args[0], status)
			if err != nil {
				return fmt.Errorf("parties %s: %w", use, err)
			}
			fmt.Printf("Relationship %s is %s\n", r.ID, r.Status)
			return nil
		},
	}
}
