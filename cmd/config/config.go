// Package config implements the config command for validating, showing and pinning the projects configuration.
package config

import (
	"fmt"
	"log/slog"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/commands"
	"github.com/alan/recombine/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates and returns the config command
func NewConfigCmd(opts *commands.GlobalOptions, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and update the projects configuration",
	}

	configCmd.AddCommand(newValidateCmd(opts, loadConfig))
	configCmd.AddCommand(newShowCmd(opts, loadConfig))
	configCmd.AddCommand(newSetLockCmd(opts, loadConfig, saveConfig))
	return configCmd
}

func newValidateCmd(opts *commands.GlobalOptions, loadConfig func(string) (*cmd.Config, error)) *cobra.Command {
	builder := &commands.CommandBuilder{
		Use:   "validate",
		Short: "Check the projects configuration",
		Long: `Validate checks repository types, watch methods and that every branch mapping is
bijective, then applies the project filters.`,
	}
	return builder.BuildCommand(func(_ *cobra.Command, _ []string) error {
		return runValidate(&commands.BaseCommand{Options: opts, LoadConfig: loadConfig})
	})
}

func runValidate(bc *commands.BaseCommand) error {
	if err := bc.Init(); err != nil {
		return err
	}
	fmt.Printf("✅ Configuration %s is valid\n", bc.Options.ConfigFile)
	for _, name := range config.ProjectNames(bc.Selected) {
		p := bc.Selected.Projects[name]
		fmt.Printf("  %s: %s %s (%s), %d branch(es)\n", name, p.Original.Type, p.Original.Name,
			cmd.ParseWatchMethod(p.Original.WatchMethod), len(p.Original.WatchBranches))
	}
	return nil
}

func newShowCmd(opts *commands.GlobalOptions, loadConfig func(string) (*cmd.Config, error)) *cobra.Command {
	builder := &commands.CommandBuilder{
		Use:   "show",
		Short: "Print the selected configuration",
	}
	return builder.BuildCommand(func(_ *cobra.Command, _ []string) error {
		out, err := renderSelected(&commands.BaseCommand{Options: opts, LoadConfig: loadConfig})
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	})
}

// renderSelected returns the filtered configuration as YAML
func renderSelected(bc *commands.BaseCommand) (string, error) {
	if err := bc.Init(); err != nil {
		return "", err
	}
	data, err := yaml.Marshal(bc.Selected)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

func newSetLockCmd(opts *commands.GlobalOptions, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	builder := &commands.CommandBuilder{
		Use:   "set-lock <project> <branch> [revision]",
		Short: "Pin a watched branch to an upstream revision",
		Long: `Set-lock records an explicit start revision for a watched branch. The changeset
of a locked branch starts there and its base tag is no longer advanced.
Without a revision the lock is removed.`,
		MinArgs: 2,
		MaxArgs: 3,
		ExampleUsage: []string{
			"recombine config set-lock nova master 1a2b3c4d",
			"recombine config set-lock nova master",
		},
	}
	return builder.BuildCommand(func(_ *cobra.Command, args []string) error {
		revision := ""
		if len(args) == 3 {
			revision = args[2]
		}
		bc := &commands.BaseCommand{Options: opts, LoadConfig: loadConfig, SaveConfig: saveConfig}
		return runSetLock(bc, args[0], args[1], revision)
	})
}

func runSetLock(bc *commands.BaseCommand, projectName, branch, revision string) error {
	cfg, err := bc.LoadConfig(bc.Options.ConfigFile)
	if err != nil {
		return err
	}

	name := config.ProjectName(projectName)
	p, ok := cfg.Projects[name]
	if !ok {
		return fmt.Errorf("project %s is not configured", name)
	}

	found := false
	for i := range p.Original.WatchBranches {
		if p.Original.WatchBranches[i].Name == branch {
			p.Original.WatchBranches[i].Lock = revision
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("project %s does not watch branch %s", name, branch)
	}
	cfg.Projects[name] = p

	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := bc.SaveConfigWithErrorHandling(cfg); err != nil {
		return err
	}

	if revision == "" {
		slog.Info("Branch lock removed", "project", name, "branch", branch)
		fmt.Printf("🔓 Removed lock of %s %s\n", name, branch)
		return nil
	}
	slog.Info("Branch locked", "project", name, "branch", branch, "revision", revision)
	fmt.Printf("🔒 Locked %s %s at %s\n", name, branch, revision)
	return nil
}
