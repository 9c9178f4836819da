package commands

import "github.com/spf13/cobra"

// action is the body of a subcommand that only needs its context and args.
type action func(cmd *cobra.Command, args []string) error

// leaf builds a flagless subcommand.
func leaf(use, short string, args cobra.PositionalArgs, run action) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE:  run,
	}
}
