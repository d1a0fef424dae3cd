// Package poll implements the poll command running one reconciliation cycle over the selected projects.
package poll

import (
	"context"
	"fmt"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/commands"
	"github.com/alan/recombine/internal/project"
	"github.com/spf13/cobra"
)

// NewPollCmd creates and returns the poll command
func NewPollCmd(opts *commands.GlobalOptions, loadConfig func(string) (*cmd.Config, error)) *cobra.Command {
	var originalBranch string

	builder := &commands.CommandBuilder{
		Use:   "poll",
		Short: "Run one reconciliation cycle",
		Long: `Poll fetches every selected project, computes the upstream commits each watched
branch still has to absorb and reconciles them with the review system: missing
recombinations are cherry-picked and uploaded, conflicts are escalated as failed
attempts, comment commands are served and approved recombinations are proposed.

A failing project or branch is reported and the cycle moves on.`,
		ExampleUsage: []string{
			"recombine poll",
			"recombine poll -p nova -b master",
			"recombine poll --no-fetch -m lock-and-backports",
		},
	}

	pollCmd := builder.BuildCommand(func(cobraCmd *cobra.Command, _ []string) error {
		bc := &commands.BaseCommand{Options: opts, LoadConfig: loadConfig}
		if err := bc.Init(); err != nil {
			return err
		}
		return runPoll(cobraCmd.Context(), bc, bc.Opener(), originalBranch)
	})
	pollCmd.Flags().StringVarP(&originalBranch, "original-branch", "b", "", "Poll only this original branch")

	return pollCmd
}

func runPoll(ctx context.Context, bc *commands.BaseCommand, open project.Opener, originalBranch string) error {
	fmt.Printf("🔍 Polling %d project(s)...\n", len(bc.Selected.Projects))
	summary := project.Cycle(ctx, bc.Selected, open, project.PollOptions{
		Branch: originalBranch,
		Fetch:  !bc.Options.NoFetch,
	})
	return commands.HandleCycleResult(summary)
}
