package commands

import (
	"fmt"
	"strings"

	"github.com/alan/recombine/internal/project"
	"github.com/spf13/cobra"
)

// HandleCycleResult reports the cycle outcome and fails when no branch could be processed
func HandleCycleResult(summary *project.Summary) error {
	DisplayRunSummary(summary)

	failures := summary.Failures()
	if len(summary.Results) == 0 {
		return fmt.Errorf("no branches matched the selection")
	}
	if len(failures) == len(summary.Results) {
		return fmt.Errorf("all %d branch result(s) failed", len(failures))
	}
	if len(failures) > 0 {
		fmt.Printf("⚠️  %d branch result(s) failed, see the log for details\n", len(failures))
	}
	return nil
}

// CommandBuilder describes a leaf command: its help texts, accepted argument count and examples
type CommandBuilder struct {
	Use          string
	Short        string
	Long         string
	MinArgs      int
	MaxArgs      int
	ExampleUsage []string
}

// args returns the positional argument validator
func (cb *CommandBuilder) args() cobra.PositionalArgs {
	if cb.MaxArgs == 0 {
		return cobra.NoArgs
	}
	return cobra.RangeArgs(cb.MinArgs, cb.MaxArgs)
}

// BuildCommand creates the cobra command running runFunc. Usage is not printed on run errors.
func (cb *CommandBuilder) BuildCommand(runFunc func(cobraCmd *cobra.Command, args []string) error) *cobra.Command {
	long := cb.Long
	if long == "" {
		long = cb.Short
	}
	if len(cb.ExampleUsage) > 0 {
		var examples strings.Builder
		examples.WriteString("\n\nExamples:\n")
		for _, example := range cb.ExampleUsage {
			fmt.Fprintf(&examples, "  %s\n", example)
		}
		long += examples.String()
	}

	return &cobra.Command{
		Use:          cb.Use,
		Short:        cb.Short,
		Long:         long,
		Args:         cb.args(),
		SilenceUsage: true,
		RunE:         runFunc,
	}
}
