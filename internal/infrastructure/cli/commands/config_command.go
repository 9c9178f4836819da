package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/flowcard/internal/app"
	configapp "github.com/doeshing/flowcard/internal/application/config"
	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cli/helpers"
	configinfra "github.com/doeshing/flowcard/internal/infrastructure/config"
)

// NewConfigCommand creates the config command with all subcommands
func NewConfigCommand(container *app.Container) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or modify ~/.flowcard/config.yaml",
	}

	configCmd.AddCommand(
		leaf("show", "Print the effective configuration, environment overrides included", cobra.NoArgs,
			func(cmd *cobra.Command, _ []string) error {
				return showConfiguration(cmd.Context(), cmd.OutOrStdout(), container)
			}),
		leaf("path", "Print the config file location", cobra.NoArgs,
			func(cmd *cobra.Command, _ []string) error {
				loader, err := helpers.GetConfigLoader(container)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), loader.Path())
				return nil
			}),
		leaf("get <key>", "Get a config value by dotted path (e.g. workflow.base_url)", cobra.ExactArgs(1),
			func(cmd *cobra.Command, args []string) error {
				return getConfigurationValue(cmd.Context(), cmd.OutOrStdout(), container, args[0])
			}),
		leaf("set <key> <value>", "Set a config value by dotted path; the value is parsed as YAML", cobra.ExactArgs(2),
			func(cmd *cobra.Command, args []string) error {
				return setConfigurationValue(cmd.OutOrStdout(), container, args[0], args[1])
			}),
		leaf("validate", "Validate the configuration file", cobra.NoArgs,
			func(cmd *cobra.Command, _ []string) error {
				return validateConfiguration(cmd.Context(), cmd.OutOrStdout(), container)
			}),
		leaf("edit", "Open the config file in $EDITOR", cobra.NoArgs,
			func(cmd *cobra.Command, _ []string) error {
				return editConfigurationInEditor(cmd.Context(), container)
			}),
		leaf("reset", "Reset configuration to defaults, keeping a backup", cobra.NoArgs,
			func(cmd *cobra.Command, _ []string) error {
				return resetConfigurationToDefaults(cmd.OutOrStdout(), container)
			}),
		leaf("diff", "Show diff versus default configuration", cobra.NoArgs,
			func(cmd *cobra.Command, _ []string) error {
				return showConfigurationDiff(cmd.Context(), cmd.OutOrStdout(), container)
			}),
	)

	return configCmd
}

// loadFileConfig reads the config without validation, so a broken file can
// still be shown and repaired.
func loadFileConfig(ctx context.Context, container *app.Container) (domain.Config, error) {
	loader, err := helpers.GetConfigLoader(container)
	if err != nil {
		return domain.Config{}, err
	}
	cfg, err := loader.Load(ctx)
	if err != nil {
		return domain.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func validateConfiguration(ctx context.Context, out io.Writer, container *app.Container) error {
	cfg, err := loadFileConfig(ctx, container)
	if err != nil {
		return err
	}
	if err := configapp.Validate(cfg); err != nil {
		return err
	}
	fmt.Fprintln(out, MsgConfigurationValid)
	return nil
}

func showConfiguration(ctx context.Context, out io.Writer, container *app.Container) error {
	cfg, err := loadFileConfig(ctx, container)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	fmt.Fprint(out, string(data))
	return nil
}

func getConfigurationValue(ctx context.Context, out io.Writer, container *app.Container, keyPath string) error {
	cfg, err := loadFileConfig(ctx, container)
	if err != nil {
		return err
	}
	cfgMap, err := helpers.ConfigToMap(cfg)
	if err != nil {
		return err
	}
	value, found := helpers.TraverseNestedMap(cfgMap, helpers.SplitKeyPath(keyPath))
	if !found {
		return fmt.Errorf("key %s not found in configuration", keyPath)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	fmt.Fprint(out, string(data))
	return nil
}

// setConfigurationValue edits the file as written, without the environment
// overrides, so an override is never persisted by accident.
func setConfigurationValue(out io.Writer, container *app.Container, keyPath, value string) error {
	loader, err := helpers.GetConfigLoader(container)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(loader.Path())
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	cfgMap := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &cfgMap); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}
	if !helpers.SetNestedMapValue(cfgMap, helpers.SplitKeyPath(keyPath), helpers.ParseYAMLValue(value)) {
		return fmt.Errorf("unable to set key %s", keyPath)
	}
	updated, err := helpers.MapToConfig(cfgMap)
	if err != nil {
		return err
	}
	backup, err := helpers.SaveConfigWithValidation(container, updated)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Updated %s\n", keyPath)
	if backup != "" {
		fmt.Fprintf(out, "Backup: %s\n", backup)
	}
	return nil
}

func editConfigurationInEditor(ctx context.Context, container *app.Container) error {
	loader, err := helpers.GetConfigLoader(container)
	if err != nil {
		return err
	}

	editor := getEditorCommand()
	parts := strings.Fields(editor)
	cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], loader.Path())...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor %s: %w", editor, err)
	}

	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	return configapp.Validate(cfg)
}

func resetConfigurationToDefaults(out io.Writer, container *app.Container) error {
	loader, err := helpers.GetConfigLoader(container)
	if err != nil {
		return err
	}
	if _, err := os.Stat(loader.Path()); err == nil {
		backup, err := loader.Backup()
		if err != nil {
			return fmt.Errorf("failed to create configuration backup: %w", err)
		}
		fmt.Fprintf(out, "Backup: %s\n", backup)
	}
	if _, err := loader.Reset(); err != nil {
		return fmt.Errorf("failed to reset configuration: %w", err)
	}
	fmt.Fprintf(out, "Configuration reset at %s\n", loader.Path())
	return nil
}

func showConfigurationDiff(ctx context.Context, out io.Writer, container *app.Container) error {
	current, err := loadFileConfig(ctx, container)
	if err != nil {
		return err
	}
	defaults, err := configinfra.DefaultConfig()
	if err != nil {
		return err
	}
	diff := configapp.Diff(defaults, current)
	if diff == "" {
		fmt.Fprintln(out, MsgNoDifferencesFromDefault)
		return nil
	}
	fmt.Fprintln(out, diff)
	return nil
}

func getEditorCommand() string {
	if editor := strings.TrimSpace(os.Getenv(envKeyEditor)); editor != "" {
		return editor
	}
	return DefaultEditorCommand
}
