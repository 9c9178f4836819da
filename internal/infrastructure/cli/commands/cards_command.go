package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/doeshing/flowcard/internal/app"
)

// NewCardsCommand creates the cards command with all subcommands
func NewCardsCommand(container *app.Container) *cobra.Command {
	cardsCmd := &cobra.Command{
		Use:   "cards",
		Short: "Browse the card catalog",
	}
	cardsCmd.AddCommand(
		newCardsListCommand(container),
		newCardsShowCommand(container),
		newCardsSyncCommand(container),
	)
	return cardsCmd
}

func newCardsListCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listCards(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}
}

func listCards(ctx context.Context, out io.Writer, container *app.Container) error {
	if container.Catalog == nil {
		return errors.New(ErrCatalogUnavailable)
	}
	cards, err := container.Catalog.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cards: %w", err)
	}
	if len(cards) == 0 {
		fmt.Fprintln(out, MsgNoCards)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tWORKFLOW")
	for _, card := range cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", card.ID, card.Title, card.WorkflowID)
	}
	return tw.Flush()
}

func newCardsShowCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "show <card-id>",
		Short: "Show a card and the parameters it takes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Catalog == nil {
				return errors.New(ErrCatalogUnavailable)
			}
			card, err := container.Catalog.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", card.Title, card.ID)
			if card.Description != "" {
				fmt.Fprintf(out, "%s\n", card.Description)
			}
			fmt.Fprintf(out, "Workflow: %s\n", card.WorkflowID)
			for _, p := range card.Parameters {
				var notes []string
				if p.Required {
					notes = append(notes, "required")
				}
				if p.Default != nil {
					notes = append(notes, fmt.Sprintf("default %v", p.Default))
				}
				fmt.Fprintf(out, "  --param %s=...  %s\n", p.Name, strings.Join(notes, ", "))
			}
			return nil
		},
	}
}

func newCardsSyncCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reload the catalog from its source and update the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Catalog == nil {
				return errors.New(ErrCatalogUnavailable)
			}
			outcome, err := container.Catalog.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to sync cards: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog %s\n", outcome)
			return nil
		},
	}
}
