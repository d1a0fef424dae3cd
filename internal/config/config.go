// Package config provides functions for loading, saving, validating and filtering recombine project configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/alan/recombine/cmd"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// ErrNoProjects is returned when filtering leaves nothing to operate on
var ErrNoProjects = errors.New("project list to operate on is empty")

// LoadConfig loads the configuration from the specified file
func LoadConfig(filename string) (*cmd.Config, error) {
	data, err := os.ReadFile(filename) //nolint:gosec // Config filename is from command-line flag
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config cmd.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveConfig saves the configuration to the specified file
func SaveConfig(filename string, config *cmd.Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks repository types, watch methods and that every branch mapping is bijective
func Validate(config *cmd.Config) error {
	if len(config.Projects) == 0 {
		return ErrNoProjects
	}

	var problems []string
	for _, name := range ProjectNames(config) {
		project := config.Projects[name]
		problems = append(problems, validateProject(name, project)...)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

func validateProject(name string, project cmd.Project) []string {
	var problems []string

	if cmd.ParseRepoType(project.Original.Type) == cmd.RepoTypeUnknown {
		problems = append(problems, fmt.Sprintf("project %s: unknown original type %q", name, project.Original.Type))
	}
	switch project.Original.WatchMethod {
	case "", string(cmd.WatchChangeByChange), string(cmd.WatchLockAndBackports):
	default:
		problems = append(problems, fmt.Sprintf("project %s: unknown watch method %q", name, project.Original.WatchMethod))
	}
	if project.Original.Location == "" || project.Original.Name == "" {
		problems = append(problems, fmt.Sprintf("project %s: original location and name are required", name))
	}
	if project.Replica.Location == "" || project.Replica.Name == "" {
		problems = append(problems, fmt.Sprintf("project %s: replica location and name are required", name))
	}
	if len(project.Original.WatchBranches) == 0 {
		problems = append(problems, fmt.Sprintf("project %s: no watch-branches", name))
	}

	columns := map[string]func(cmd.BranchMapping) string{
		"original": func(b cmd.BranchMapping) string { return b.Name },
		"replica":  cmd.BranchMapping.Replica,
		"patches":  cmd.BranchMapping.Patches,
		"target":   cmd.BranchMapping.Target,
	}
	for _, column := range []string{"original", "replica", "patches", "target"} {
		seen := make(map[string]bool)
		for _, branch := range project.Original.WatchBranches {
			value := columns[column](branch)
			if value == "" {
				problems = append(problems, fmt.Sprintf("project %s: empty %s branch name", name, column))
				continue
			}
			if seen[value] {
				problems = append(problems, fmt.Sprintf("project %s: %s branch %q mapped more than once", name, column, value))
			}
			seen[value] = true
		}
	}

	for _, branch := range project.Original.WatchBranches {
		if branch.WedgePorts < 0 {
			problems = append(problems, fmt.Sprintf("project %s: branch %s has negative wedge-ports", name, branch.Name))
		}
	}

	return problems
}

// FilterOptions restricts the projects and branches a run operates on
type FilterOptions struct {
	Projects      string // Comma separated project names
	WatchMethod   string
	WatchBranches string // Comma separated branch names or glob patterns
}

// Filter returns a copy of the configuration restricted by the given options
func Filter(config *cmd.Config, opts FilterOptions) (*cmd.Config, error) {
	filtered := &cmd.Config{
		BaseDir:  config.BaseDir,
		Projects: make(map[string]cmd.Project),
	}
	for name, project := range config.Projects {
		filtered.Projects[name] = project
	}

	if opts.WatchMethod != "" {
		slog.Info("Filtering projects with watch method", "watch_method", opts.WatchMethod)
		for name, project := range filtered.Projects {
			if cmd.ParseWatchMethod(project.Original.WatchMethod) != cmd.ParseWatchMethod(opts.WatchMethod) {
				delete(filtered.Projects, name)
			}
		}
	}

	if opts.Projects != "" {
		slog.Info("Filtering projects with names", "projects", opts.Projects)
		selected := make(map[string]cmd.Project)
		for _, name := range splitList(opts.Projects) {
			name = ProjectName(name)
			if _, known := config.Projects[name]; !known {
				slog.Error("Project is not present in projects configuration", "project", name)
				continue
			}
			project, ok := filtered.Projects[name]
			if !ok {
				slog.Warn("Project already discarded by previous filter", "project", name)
				continue
			}
			selected[name] = project
		}
		filtered.Projects = selected
	}

	if opts.WatchBranches != "" {
		slog.Info("Filtering branches", "branches", opts.WatchBranches)
		patterns := splitList(opts.WatchBranches)
		for name, project := range filtered.Projects {
			branches, err := filterBranches(project.Original.WatchBranches, patterns)
			if err != nil {
				return nil, err
			}
			project.Original.WatchBranches = branches
			filtered.Projects[name] = project
		}
	}

	if len(filtered.Projects) == 0 {
		return nil, ErrNoProjects
	}

	return filtered, nil
}

// filterBranches keeps mappings matching any pattern; plain names not yet mapped get default mappings
func filterBranches(branches []cmd.BranchMapping, patterns []string) ([]cmd.BranchMapping, error) {
	var result []cmd.BranchMapping
	matched := make(map[string]bool)

	for _, branch := range branches {
		for _, pattern := range patterns {
			ok, err := doublestar.Match(pattern, branch.Name)
			if err != nil {
				return nil, fmt.Errorf("invalid branch pattern %q: %w", pattern, err)
			}
			if ok {
				result = append(result, branch)
				matched[pattern] = true
				break
			}
		}
	}

	for _, pattern := range patterns {
		if matched[pattern] || strings.ContainsAny(pattern, "*?[{") {
			continue
		}
		result = append(result, cmd.BranchMapping{Name: pattern})
	}

	return result, nil
}

// ProjectNames returns the configured project names in stable order
func ProjectNames(config *cmd.Config) []string {
	names := make([]string, 0, len(config.Projects))
	for name := range config.Projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProjectName strips any namespace prefix from a project name ("openstack/nova" -> "nova")
func ProjectName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
