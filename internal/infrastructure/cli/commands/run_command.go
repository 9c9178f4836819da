package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/flowcard/internal/app"
	"github.com/doeshing/flowcard/internal/application/execution"
	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cli/helpers"
)

type runOptions struct {
	params     []string
	paramsJSON string
	botID      string
	token      string
	timeout    time.Duration
	asJSON     bool
}

// NewRunCommand creates the run command, which launches a card's workflow
// and waits for it to finish.
func NewRunCommand(container *app.Container) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <card-id>",
		Short: "Run a card's workflow and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCard(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), container, args[0], opts)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "Workflow parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.paramsJSON, "params", "", "Workflow parameters as a JSON object")
	cmd.Flags().StringVar(&opts.botID, "bot-id", "", "Bot id forwarded with the run (default from config)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Bearer token overriding the configured credential")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Give up after this long (0 waits for the poll budget)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func runCard(ctx context.Context, out, errOut io.Writer, container *app.Container, cardID string, opts runOptions) error {
	if container.Executor == nil || container.Catalog == nil {
		return errors.New(ErrExecutorUnavailable)
	}
	params, err := helpers.ParseParams(opts.params, opts.paramsJSON)
	if err != nil {
		return err
	}
	card, err := container.Catalog.Find(ctx, cardID)
	if err != nil {
		return err
	}
	in, err := execution.CardInput(card, params, opts.botID)
	if err != nil {
		return err
	}
	in.Request.Credential = opts.token

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	spinner := helpers.NewSpinner(errOut)
	spinner.SetMessage(fmt.Sprintf("Submitting %s", card.Title))
	var historyID string
	in.OnStarted = func(id string) { historyID = id }
	in.OnProgress = func(res domain.ExecutionResult) {
		spinner.SetMessage(fmt.Sprintf("%s: %s (execution %s)", card.Title, res.Status, res.ID))
	}

	spinner.Start()
	result, runErr := container.Executor.Execute(ctx, in)
	spinner.Stop()

	if historyID == "" {
		return runErr
	}
	if opts.asJSON {
		if err := writeJSON(out, map[string]any{"historyId": historyID, "result": result}); err != nil {
			return err
		}
	} else {
		renderResult(out, card, historyID, result)
	}
	return runErr
}

func renderResult(out io.Writer, card domain.Card, historyID string, result domain.ExecutionResult) {
	fmt.Fprintf(out, "Card:       %s (%s)\n", card.Title, card.ID)
	fmt.Fprintf(out, "History ID: %s\n", historyID)
	renderExecution(out, result)
}

func renderExecution(out io.Writer, result domain.ExecutionResult) {
	if result.ID != "" {
		fmt.Fprintf(out, "Execution:  %s\n", result.ID)
	}
	fmt.Fprintf(out, "Status:     %s\n", result.Status)
	if result.ExecutionTimeSeconds != nil {
		fmt.Fprintf(out, "Duration:   %s\n", helpers.Seconds(result.ExecutionTimeSeconds))
	}
	if result.DebugURL != "" {
		fmt.Fprintf(out, "Debug URL:  %s\n", result.DebugURL)
	}
	if result.Error != nil {
		if result.Error.Kind != "" {
			fmt.Fprintf(out, "Error:      [%s] %s\n", result.Error.Kind, result.Error.Message)
		} else {
			fmt.Fprintf(out, "Error:      code %d: %s\n", result.Error.Code, result.Error.Message)
		}
	}
	if output := result.OutputString(); output != "" {
		fmt.Fprintf(out, "\n%s\n", output)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewStatusCommand creates the status command, a single remote status check.
func NewStatusCommand(container *app.Container) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Check the remote status of an execution once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Executor == nil {
				return errors.New(ErrExecutorUnavailable)
			}
			result, err := container.Executor.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			renderExecution(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

// NewRecheckCommand creates the recheck command, which refreshes a history
// record from the remote status.
func NewRecheckCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "recheck <history-id>",
		Short: "Refresh a history record from the remote execution status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.Executor == nil {
				return errors.New(ErrExecutorUnavailable)
			}
			item, err := container.Executor.Recheck(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "History ID: %s\n", item.ID)
			if item.Result != nil {
				renderExecution(out, *item.Result)
			} else {
				fmt.Fprintln(out, "Status:     pending")
			}
			return nil
		},
	}
}
