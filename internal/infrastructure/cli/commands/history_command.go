package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/doeshing/flowcard/internal/app"
	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cli/helpers"
)

// NewHistoryCommand creates the history command with all subcommands
func NewHistoryCommand(container *app.Container) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage execution history",
	}

	historyCmd.AddCommand(
		newHistoryListCommand(container),
		newHistoryShowCommand(container),
		newHistoryStatsCommand(container),
		newHistoryDeleteCommand(container),
		newHistoryClearCommand(container),
		newHistoryExportCommand(container),
		newHistoryImportCommand(container),
	)

	return historyCmd
}

type historyListOptions struct {
	cardID string
	status string
	sortBy string
	order  string
	offset int
	limit  int
}

func newHistoryListCommand(container *app.Container) *cobra.Command {
	var opts historyListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List history records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listHistoryEntries(cmd.Context(), cmd.OutOrStdout(), container, opts)
		},
	}
	cmd.Flags().StringVar(&opts.cardID, "card", "", "Only records of this card")
	cmd.Flags().StringVar(&opts.status, "status", "", "Only records with this status (running|completed|failed|cancelled)")
	cmd.Flags().StringVar(&opts.sortBy, "sort", string(domain.SortByTimestamp), "Sort key (timestamp|executionTime)")
	cmd.Flags().StringVar(&opts.order, "order", string(domain.SortDesc), "Sort order (asc|desc)")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Skip this many records")
	cmd.Flags().IntVar(&opts.limit, "limit", DefaultHistoryLimit, "Max entries to show (0 for all)")
	return cmd
}

func (o historyListOptions) query() (domain.HistoryQuery, error) {
	q := domain.HistoryQuery{
		CardID:    o.cardID,
		SortBy:    domain.HistorySortKey(o.sortBy),
		SortOrder: domain.SortOrder(o.order),
		Offset:    o.offset,
		Limit:     o.limit,
	}
	switch q.SortBy {
	case domain.SortByTimestamp, domain.SortByExecutionTime:
	default:
		return q, fmt.Errorf("unknown sort key %q", o.sortBy)
	}
	switch q.SortOrder {
	case domain.SortAsc, domain.SortDesc:
	default:
		return q, fmt.Errorf("unknown sort order %q", o.order)
	}
	if o.offset < 0 || o.limit < 0 {
		return q, errors.New("--offset and --limit must be >= 0")
	}
	if o.status != "" {
		status, ok := domain.ParseExecutionStatus(o.status)
		if !ok {
			return q, fmt.Errorf("unknown status %q", o.status)
		}
		q.Status = status
	}
	return q, nil
}

func listHistoryEntries(ctx context.Context, out io.Writer, container *app.Container, opts historyListOptions) error {
	if container.HistoryStore == nil {
		return errors.New(ErrHistoryStoreUnavailable)
	}
	q, err := opts.query()
	if err != nil {
		return err
	}
	items, err := container.HistoryStore.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}
	if len(items) == 0 {
		fmt.Fprintln(out, MsgNoHistoryRecorded)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCARD\tSTATUS\tDURATION\tWHEN")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			item.ID,
			item.CardID,
			helpers.StatusLabel(item),
			helpers.Seconds(item.ExecutionTimeSeconds),
			helpers.RelativeTime(item.Timestamp))
	}
	return tw.Flush()
}

func newHistoryShowCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "show <history-id>",
		Short: "Show one history record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistoryEntry(cmd.Context(), cmd.OutOrStdout(), container, args[0])
		},
	}
}

func showHistoryEntry(ctx context.Context, out io.Writer, container *app.Container, id string) error {
	if container.HistoryStore == nil {
		return errors.New(ErrHistoryStoreUnavailable)
	}
	item, ok, err := container.HistoryStore.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("history %s: %w", id, domain.ErrNotFound)
	}
	fmt.Fprintf(out, "History ID: %s\n", item.ID)
	fmt.Fprintf(out, "Card:       %s (%s)\n", item.CardTitle, item.CardID)
	fmt.Fprintf(out, "Started:    %s (%s)\n", helpers.AbsoluteTime(item.Timestamp), helpers.RelativeTime(item.Timestamp))
	if len(item.Inputs) > 0 {
		fmt.Fprintln(out, "Inputs:")
		if err := writeJSON(out, item.Inputs); err != nil {
			return err
		}
	}
	if item.Result == nil {
		fmt.Fprintln(out, "Status:     pending")
		return nil
	}
	res := *item.Result
	if res.ExecutionTimeSeconds == nil {
		res.ExecutionTimeSeconds = item.ExecutionTimeSeconds
	}
	renderExecution(out, res)
	return nil
}

func newHistoryStatsCommand(container *app.Container) *cobra.Command {
	var cardID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show execution outcome statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistoryStatistics(cmd.Context(), cmd.OutOrStdout(), container, cardID)
		},
	}
	cmd.Flags().StringVar(&cardID, "card", "", "Only records of this card")
	return cmd
}

func showHistoryStatistics(ctx context.Context, out io.Writer, container *app.Container, cardID string) error {
	if container.Executor == nil {
		return errors.New(ErrExecutorUnavailable)
	}
	stats, err := container.Executor.Stats(ctx, cardID)
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}

	fmt.Fprintf(out, "Total:      %d\n", stats.Total)
	fmt.Fprintf(out, "Completed:  %d\n", stats.Completed)
	fmt.Fprintf(out, "Failed:     %d\n", stats.Failed)
	fmt.Fprintf(out, "Cancelled:  %d\n", stats.Cancelled)
	fmt.Fprintf(out, "Running:    %d (%d pending)\n", stats.Running, stats.Pending)
	fmt.Fprintf(out, "Success:    %.1f%%\n", helpers.SuccessRate(stats))
	if stats.AvgExecutionTime != nil {
		fmt.Fprintf(out, "Avg time:   %s\n", helpers.Seconds(stats.AvgExecutionTime))
	}
	return nil
}

func newHistoryDeleteCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <history-id>...",
		Short: "Delete history records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Executor == nil {
				return errors.New(ErrExecutorUnavailable)
			}
			n, err := container.Executor.DeleteHistory(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("failed to delete history: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d of %d records\n", n, len(args))
			return nil
		},
	}
}

func newHistoryClearCommand(container *app.Container) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every history record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Executor == nil {
				return errors.New(ErrExecutorUnavailable)
			}
			out := cmd.OutOrStdout()
			if !yes && !helpers.PromptForConfirmation(out, cmd.InOrStdin(), "Delete all execution history?") {
				fmt.Fprintln(out, MsgAborted)
				return nil
			}
			if err := container.Executor.ClearHistory(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}
			fmt.Fprintln(out, "History cleared")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newHistoryExportCommand(container *app.Container) *cobra.Command {
	var cardID, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export history records as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportHistoryEntries(cmd.Context(), cmd.OutOrStdout(), container, cardID, output)
		},
	}
	cmd.Flags().StringVar(&cardID, "card", "", "Only records of this card")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func exportHistoryEntries(ctx context.Context, out io.Writer, container *app.Container, cardID, output string) error {
	if container.HistoryStore == nil {
		return errors.New(ErrHistoryStoreUnavailable)
	}
	data, err := container.HistoryStore.ExportAll(ctx, cardID)
	if err != nil {
		return fmt.Errorf("failed to export history: %w", err)
	}
	if output == "" {
		_, err := fmt.Fprintln(out, string(data))
		return err
	}
	if err := os.WriteFile(output, data, domain.SecureFilePermissions); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Fprintf(out, "Exported history to %s\n", output)
	return nil
}

func newHistoryImportCommand(container *app.Container) *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import exported history records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Executor == nil {
				return errors.New(ErrExecutorUnavailable)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			n, err := container.Executor.ImportHistory(cmd.Context(), data, merge)
			if err != nil {
				return fmt.Errorf("failed to import history: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", true, "Merge with existing records instead of replacing them")
	return cmd
}
