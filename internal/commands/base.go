package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/config"
	"github.com/alan/recombine/internal/project"
)

// DefaultBaseDir holds the project workspaces when neither the flag nor the config sets one
const DefaultBaseDir = ".recombine"

// GlobalOptions holds the persistent root flags shared by every command
type GlobalOptions struct {
	ConfigFile    string
	BaseDir       string
	Projects      string
	WatchMethod   string
	WatchBranches string
	NoFetch       bool
	SSHKey        string
}

// BaseCommand provides common fields and initialization for all commands
type BaseCommand struct {
	Options    *GlobalOptions
	LoadConfig func(string) (*cmd.Config, error)
	SaveConfig func(string, *cmd.Config) error
	// Config is the loaded configuration, Selected the part the filters keep
	Config   *cmd.Config
	Selected *cmd.Config
}

// Init loads and validates the configuration and applies the project filters
func (bc *BaseCommand) Init() error {
	cfg, err := bc.LoadConfig(bc.Options.ConfigFile)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	bc.Config = cfg

	selected, err := config.Filter(cfg, config.FilterOptions{
		Projects:      bc.Options.Projects,
		WatchMethod:   bc.Options.WatchMethod,
		WatchBranches: bc.Options.WatchBranches,
	})
	if err != nil {
		return err
	}
	bc.Selected = selected
	return nil
}

// BaseDir returns the workspace root: the flag, then the config, then DefaultBaseDir
func (bc *BaseCommand) BaseDir() string {
	switch {
	case bc.Options.BaseDir != "":
		return bc.Options.BaseDir
	case bc.Config != nil && bc.Config.BaseDir != "":
		return bc.Config.BaseDir
	default:
		return DefaultBaseDir
	}
}

// ProjectOptions returns the options projects are opened with
func (bc *BaseCommand) ProjectOptions() project.Options {
	return project.Options{
		BaseDir:     bc.BaseDir(),
		SSHKey:      bc.Options.SSHKey,
		GitHubToken: getGitHubToken(),
	}
}

// Opener returns the project opener for the selected configuration
func (bc *BaseCommand) Opener() project.Opener {
	opts := bc.ProjectOptions()
	return func(ctx context.Context, name string, p cmd.Project) (*project.Project, error) {
		return project.Open(ctx, name, p, opts)
	}
}

// getGitHubToken returns the token for github upstreams. Without it the client is anonymous.
func getGitHubToken() string {
	return os.Getenv("GITHUB_TOKEN")
}

// SaveConfigWithErrorHandling saves the full configuration
func (bc *BaseCommand) SaveConfigWithErrorHandling(cfg *cmd.Config) error {
	if err := bc.SaveConfig(bc.Options.ConfigFile, cfg); err != nil {
		return fmt.Errorf("failed to save %s: %w", bc.Options.ConfigFile, err)
	}
	return nil
}
