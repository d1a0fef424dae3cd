package recombination

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMetadata() *Metadata {
	return &Metadata{
		Sources: Sources{
			Main: Source{
				Name:     "upstream/nova",
				Branch:   "master",
				Revision: "abcdef0123456789",
				ID:       "I1",
				Body:     "Fix scheduler race\n\nChange-Id: I1\n",
			},
			Patches: Source{
				Name:          "nova",
				Branch:        "master-patches",
				Revision:      "0123456789abcdef",
				ID:            "0123456789abcdef",
				CommitMessage: "Local tweak",
			},
		},
		Status:                StatusSuccessful,
		RemovedPatchesCommits: []string{"feedbeef"},
		BackportTestResults: &TestResults{
			Message:    "Tests passed",
			CodeReview: 1,
			Verified:   1,
			Reviewers:  []string{"ci@example.org"},
		},
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	m := sampleMetadata()
	changeID := ChangeID("I1", "master")

	message, err := m.Encode(changeID)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(message, "Recombination: upstream/nova:abcdef-nova:012345~master\n\n"))
	assert.Contains(t, message, "recombine-status: SUCCESSFUL")
	assert.True(t, strings.HasSuffix(message, "\nChange-Id: "+changeID+"\n"))

	decoded, err := Decode(message)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestMetadataConflictsRoundTrip(t *testing.T) {
	m := sampleMetadata()
	m.Status = StatusFailed
	m.Conflicts = []string{"UU fileA", "AA fileB"}

	message, err := m.Encode("")
	require.NoError(t, err)
	assert.NotContains(t, message, "\nChange-Id: ")

	decoded, err := Decode(message)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, decoded.Status)
	assert.Equal(t, []string{"UU fileA", "AA fileB"}, decoded.Conflicts)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{"plain commit", "Fix scheduler race\n\nChange-Id: I1\n"},
		{"bad header", "Recombination: nova\n\nsources: {}\n"},
		{"malformed document", "Recombination: a:abc-b:def~master\n\nsources: [\n"},
		{"missing identity", "Recombination: a:abc-b:def~master\n\nrecombine-status: FAILED\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.message)
			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr), "got %v", err)
		})
	}
}

func TestChangeID(t *testing.T) {
	id := ChangeID("I1", "master")
	assert.Len(t, id, 41)
	assert.True(t, strings.HasPrefix(id, "I"))
	assert.Equal(t, id, ChangeID("I1", "master"))
	assert.NotEqual(t, id, ChangeID("I1", "stable"))
}

func TestContentBody(t *testing.T) {
	message, err := sampleMetadata().Encode(ChangeID("I1", "master"))
	require.NoError(t, err)

	assert.Equal(t, "Fix scheduler race\n\nChange-Id: I1\n", ContentBody(message))
	assert.Equal(t, "Plain message\n", ContentBody("Plain message\n"))
	assert.Equal(t, "Recombination: broken\n", ContentBody("Recombination: broken\n"))
}
