// Package cli assembles the flowcard command tree.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/doeshing/flowcard/internal/app"
	"github.com/doeshing/flowcard/internal/infrastructure/cli/commands"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose bool
}

// NewRootCmd wires the cobra root command. The container is closed once the
// command finishes.
func NewRootCmd(ctx context.Context, opts Options) (*cobra.Command, error) {
	container, err := app.BuildContainer(ctx, app.Options{Verbose: opts.Verbose})
	if err != nil {
		return nil, err
	}
	root := NewCommandTree(container)
	cobra.OnFinalize(func() {
		if err := container.Close(); err != nil {
			container.Logger.Error("close container", err, nil)
		}
	})
	return root, nil
}

// NewCommandTree builds the command tree around an existing container.
func NewCommandTree(container *app.Container) *cobra.Command {
	root := &cobra.Command{
		Use:   "flowcard",
		Short: "flowcard - run remote workflows from a card catalog",
		Long: "flowcard launches remote workflow executions from catalog cards, " +
			"polls them to completion and keeps a local history of every run.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		commands.NewRunCommand(container),
		commands.NewStatusCommand(container),
		commands.NewRecheckCommand(container),
		commands.NewCardsCommand(container),
		commands.NewHistoryCommand(container),
		commands.NewCacheCommand(container),
		commands.NewConfigCommand(container),
		commands.NewDoctorCommand(container),
		commands.NewServeCommand(container),
		commands.NewVersionCommand(),
	)
	return root
}
