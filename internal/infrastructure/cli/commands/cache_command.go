package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/flowcard/internal/app"
	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cli/helpers"
)

// NewCacheCommand creates the cache command with all subcommands
func NewCacheCommand(container *app.Container) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local cache",
	}

	cacheCmd.AddCommand(
		newCacheListCommand(container),
		newCacheGetCommand(container),
		newCacheDeleteCommand(container),
		newCacheClearCommand(container),
		newCachePurgeCommand(container),
	)

	return cacheCmd
}

func newCacheListCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listCacheEntries(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}
}

func listCacheEntries(ctx context.Context, out io.Writer, container *app.Container) error {
	if container.CacheStore == nil {
		return errors.New(ErrCacheStoreUnavailable)
	}
	keys, err := container.CacheStore.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(out, MsgNoCachedEntries)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tEXPIRES")
	for _, key := range keys {
		entry, ok := container.CacheStore.Entry(ctx, key)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			key,
			humanize.IBytes(uint64(len(entry.Data))),
			helpers.RelativeTime(entry.ExpiresAt))
	}
	return tw.Flush()
}

func newCacheGetCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.CacheStore == nil {
				return errors.New(ErrCacheStoreUnavailable)
			}
			data, ok := container.CacheStore.Get(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("cache key %s: %w", args[0], domain.ErrNotFound)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newCacheDeleteCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete cache entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.CacheStore == nil {
				return errors.New(ErrCacheStoreUnavailable)
			}
			for _, key := range args {
				if err := container.CacheStore.Delete(cmd.Context(), key); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries\n", len(args))
			return nil
		},
	}
}

func newCacheClearCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.CacheStore == nil {
				return errors.New(ErrCacheStoreUnavailable)
			}
			if err := container.CacheStore.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	}
}

func newCachePurgeCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired cache entries from storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.CacheStore == nil {
				return errors.New(ErrCacheStoreUnavailable)
			}
			n, err := container.CacheStore.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired entries\n", n)
			return nil
		},
	}
}
