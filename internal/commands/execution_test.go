package commands

import (
	"errors"
	"strings"
	"testing"

	"github.com/alan/recombine/internal/project"
	"github.com/spf13/cobra"
)

func TestHandleCycleResult(t *testing.T) {
	ok := project.BranchResult{Project: "nova", Branch: "master", Report: &project.BranchReport{Project: "nova", Branch: "master"}}
	failed := project.BranchResult{Project: "glance", Err: errors.New("remote unreachable")}

	tests := []struct {
		name              string
		results           []project.BranchResult
		wantErr           bool
		wantErrorContains string
	}{
		{
			name:    "all branches polled",
			results: []project.BranchResult{ok},
		},
		{
			name:    "partial failure",
			results: []project.BranchResult{ok, failed},
		},
		{
			name:              "everything failed",
			results:           []project.BranchResult{failed},
			wantErr:           true,
			wantErrorContains: "all 1 branch result(s) failed",
		},
		{
			name:              "nothing selected",
			wantErr:           true,
			wantErrorContains: "no branches matched",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HandleCycleResult(&project.Summary{Results: tt.results})
			if (err != nil) != tt.wantErr {
				t.Errorf("HandleCycleResult() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.wantErrorContains) {
				t.Errorf("HandleCycleResult() error = %v, want error containing %v", err, tt.wantErrorContains)
			}
		})
	}
}

func TestCommandBuilder_BuildCommand(t *testing.T) {
	builder := &CommandBuilder{
		Use:          "set-lock",
		Short:        "Pin a branch",
		Long:         "Pin a branch to a revision",
		MinArgs:      3,
		MaxArgs:      3,
		ExampleUsage: []string{"recombine config set-lock nova master 1a2b3c"},
	}

	cobraCmd := builder.BuildCommand(func(_ *cobra.Command, _ []string) error {
		return nil
	})

	if cobraCmd.Use != "set-lock" {
		t.Errorf("BuildCommand() Use = %v, want %v", cobraCmd.Use, "set-lock")
	}
	if !strings.Contains(cobraCmd.Long, "Examples:") {
		t.Errorf("BuildCommand() Long should contain examples, got %v", cobraCmd.Long)
	}
	if !strings.Contains(cobraCmd.Long, "set-lock nova master") {
		t.Errorf("BuildCommand() Long should contain example usage, got %v", cobraCmd.Long)
	}
	if !cobraCmd.SilenceUsage {
		t.Errorf("BuildCommand() SilenceUsage should be true")
	}
	if err := cobraCmd.Args(cobraCmd, []string{"nova"}); err == nil {
		t.Errorf("BuildCommand() should reject too few arguments")
	}
}

func TestCommandBuilder_BuildCommandWithoutExamples(t *testing.T) {
	builder := &CommandBuilder{
		Use:     "show",
		Short:   "Show configuration",
		Long:    "Show the selected configuration",
		MaxArgs: 0,
	}

	cobraCmd := builder.BuildCommand(func(_ *cobra.Command, _ []string) error {
		return nil
	})

	if strings.Contains(cobraCmd.Long, "Examples:") {
		t.Errorf("BuildCommand() Long should not contain examples when none provided, got %v", cobraCmd.Long)
	}
	if err := cobraCmd.Args(cobraCmd, []string{"extra"}); err == nil {
		t.Errorf("BuildCommand() should reject arguments when MaxArgs is 0")
	}
}
