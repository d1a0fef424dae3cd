package status

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/commands"
	"github.com/alan/recombine/internal/project"
)

func TestNewStatusCmd(t *testing.T) {
	statusCmd := NewStatusCmd(&commands.GlobalOptions{}, nil)

	if statusCmd.Use != "status" {
		t.Errorf("NewStatusCmd() Use = %v, want %v", statusCmd.Use, "status")
	}
	if statusCmd.Flags().NFlag() != 0 {
		t.Errorf("NewStatusCmd() should have no local flags, got %d", statusCmd.Flags().NFlag())
	}
}

func TestRunStatus_OpenFailure(t *testing.T) {
	open := func(_ context.Context, _ string, _ cmd.Project) (*project.Project, error) {
		return nil, errors.New("workspace locked")
	}
	bc := &commands.BaseCommand{
		Options: &commands.GlobalOptions{NoFetch: true},
		Selected: &cmd.Config{Projects: map[string]cmd.Project{
			"nova": {Original: cmd.Original{Type: "gerrit"}},
		}},
	}

	err := runStatus(context.Background(), bc, open)
	assert.ErrorContains(t, err, "status unavailable for 1 of 1 branch result(s)")
}
