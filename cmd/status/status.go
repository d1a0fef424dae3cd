// Package status implements the status command for displaying the reconciliation state of watched branches.
package status

import (
	"context"
	"fmt"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/commands"
	"github.com/alan/recombine/internal/project"
	"github.com/spf13/cobra"
)

// NewStatusCmd creates and returns the status command
func NewStatusCmd(opts *commands.GlobalOptions, loadConfig func(string) (*cmd.Config, error)) *cobra.Command {
	builder := &commands.CommandBuilder{
		Use:   "status",
		Short: "Show recombination status of watched branches",
		Long: `Display, for every selected branch, the upstream commits still to absorb grouped
in segments (MERGED, APPROVED, PRESENT, UPLOADED, MISSING) with the status of each
recombination. Nothing is uploaded, commented or abandoned.`,
	}

	return builder.BuildCommand(func(cobraCmd *cobra.Command, _ []string) error {
		bc := &commands.BaseCommand{Options: opts, LoadConfig: loadConfig}
		if err := bc.Init(); err != nil {
			return err
		}
		return runStatus(cobraCmd.Context(), bc, bc.Opener())
	})
}

func runStatus(ctx context.Context, bc *commands.BaseCommand, open project.Opener) error {
	summary := project.Cycle(ctx, bc.Selected, open, project.PollOptions{
		Fetch:    !bc.Options.NoFetch,
		ReadOnly: true,
	})

	for _, result := range summary.Results {
		if result.Err != nil {
			fmt.Printf("❌ %s %s: %v\n\n", result.Project, result.Branch, result.Err)
			continue
		}
		commands.DisplayBranchStatus(result.Report)
		fmt.Println()
	}

	if failures := summary.Failures(); len(failures) > 0 {
		return fmt.Errorf("status unavailable for %d of %d branch result(s)", len(failures), len(summary.Results))
	}
	return nil
}
