package gerrit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alan/recombine/internal/change"
)

type call struct {
	command string
	stdin   string
}

// fakeRunner answers commands by substring match and records them
type fakeRunner struct {
	responses map[string]string
	failures  map[string]error
	calls     []call
}

func (f *fakeRunner) Run(_ context.Context, command, stdin string) (string, error) {
	f.calls = append(f.calls, call{command: command, stdin: stdin})
	for key, err := range f.failures {
		if strings.Contains(command, key) {
			return "", err
		}
	}
	for key, out := range f.responses {
		if strings.Contains(command, key) {
			return out, nil
		}
	}
	return `{"type":"stats","rowCount":0}`, nil
}

type fakePusher struct {
	head    string
	message string
	pushed  []string
	deleted []string
	pushErr error
}

func (f *fakePusher) Push(_ context.Context, _, refspec string, _ bool) (string, error) {
	f.pushed = append(f.pushed, refspec)
	return "", f.pushErr
}

func (f *fakePusher) GetRevision(_ context.Context, _ string) (string, error) {
	return f.head, nil
}

func (f *fakePusher) CommitMessage(_ context.Context, _ string) (string, error) {
	return f.message, nil
}

func (f *fakePusher) DeleteRemoteBranch(_ context.Context, _, branch string) error {
	f.deleted = append(f.deleted, branch)
	return nil
}

const queryOutput = `{"project":"nova","branch":"recomb-original-master-abc","topic":"Iabc","id":"I2","number":"12","url":"https://review/12","commitMessage":"Second","status":"NEW","currentPatchSet":{"number":"3","revision":"bbb","parents":["aaa"],"approvals":[{"type":"Code-Review","value":"1"},{"type":"Code-Review","value":"2"},{"type":"Verified","value":"1"}]},"comments":[{"timestamp":1700000000,"reviewer":{"name":"Jane","username":"jane"},"message":"Patch Set 3:\n\nDISCARD"}]}
{"project":"nova","branch":"master","id":"I1","number":11,"status":"MERGED","currentPatchSet":{"number":1,"revision":"aaa","parents":["000"]},"neededBy":[{"id":"I2","number":"12","revision":"bbb"}]}
{"type":"stats","rowCount":2,"runTimeMilliseconds":5}
`

func TestParseRowsAndNormalize(t *testing.T) {
	rows, err := parseRows(queryOutput)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := normalize(rows[0])
	assert.Equal(t, 11, first.Number)
	assert.Equal(t, change.RemoteStatusMerged, first.RemoteStatus)
	assert.Equal(t, 0, first.CodeReview)
	assert.Equal(t, 0, first.Verified)
	assert.Equal(t, []change.Link{{ID: "I2", Number: 12, Revision: "bbb"}}, first.NeededBy)

	second := normalize(rows[1])
	assert.Equal(t, "I2", second.UUID)
	assert.Equal(t, 3, second.PatchsetNumber)
	assert.Equal(t, "aaa", second.Parent)
	assert.Equal(t, 2, second.CodeReview)
	assert.Equal(t, 1, second.Verified)
	assert.True(t, second.IsApproved())
	require.Len(t, second.Comments, 1)
	assert.Equal(t, "jane", second.Comments[0].Author)
	assert.Equal(t, int64(1700000000), second.Comments[0].Timestamp)
}

func TestParseRowsInvalid(t *testing.T) {
	_, err := parseRows("not json\n")
	assert.Error(t, err)
}

func TestQueryString(t *testing.T) {
	c := NewClient("replica", "nova", &fakeRunner{}, &fakePusher{})

	tests := []struct {
		name     string
		search   Search
		expected string
	}{
		{
			name:     "single id open only",
			search:   Search{Field: "change", Values: []string{"I1"}},
			expected: "(change:I1) AND project:nova AND NOT status:abandoned AND NOT status:merged",
		},
		{
			name:     "several topics on branch with merged",
			search:   Search{Field: "topic", Values: []string{"a", "b"}, Branch: "master", IncludeMerged: true},
			expected: "(topic:a OR topic:b) AND project:nova AND NOT status:abandoned AND branch:master",
		},
		{
			name:     "everything",
			search:   Search{Field: "topic", Values: []string{"a"}, IncludeMerged: true, IncludeAbandoned: true},
			expected: "(topic:a) AND project:nova",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.queryString(tt.search))
		})
	}
}

func TestGetChange(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{"gerrit query": queryOutput}}
	c := NewClient("replica", "nova", runner, &fakePusher{})

	ch, err := c.GetChange(context.Background(), Search{Field: "change", Values: []string{"I1", "I2"}, IncludeMerged: true})
	require.NoError(t, err)
	assert.Equal(t, 12, ch.Number)
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0].command, "--dependencies")
	assert.Contains(t, runner.calls[0].command, "'(change:I1 OR change:I2) AND project:nova AND NOT status:abandoned'")

	empty := NewClient("replica", "nova", &fakeRunner{}, &fakePusher{})
	_, err = empty.GetChange(context.Background(), Search{Field: "change", Values: []string{"I9"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReviewCommands(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{"status:merged": queryOutput}}
	c := NewClient("replica", "nova", runner, &fakePusher{})
	ctx := context.Background()
	ch := &change.Change{UUID: "I2", Number: 12, PatchsetNumber: 3, RemoteStatus: change.RemoteStatusDraft}

	require.NoError(t, c.Abandon(ctx, ch))
	require.NoError(t, c.Submit(ctx, ch))
	assert.Equal(t, change.RemoteStatusMerged, ch.RemoteStatus)

	commands := make([]string, 0, len(runner.calls))
	for _, call := range runner.calls {
		commands = append(commands, call.command)
	}
	assert.Equal(t, "gerrit review --abandon --project 'nova' 12,3", commands[0])
	assert.Equal(t, "gerrit review --publish --project 'nova' 12,3", commands[1])
	assert.Equal(t, "gerrit review --submit --project 'nova' 12,3", commands[2])
	assert.Contains(t, commands[3], "change:12 AND status:merged")

	assert.Error(t, c.Abandon(ctx, &change.Change{Branch: "master"}))
}

func TestSubmitNotMerged(t *testing.T) {
	c := NewClient("replica", "nova", &fakeRunner{}, &fakePusher{})
	err := c.Submit(context.Background(), &change.Change{UUID: "I2", Number: 12, PatchsetNumber: 1, RemoteStatus: change.RemoteStatusNew})
	assert.Error(t, err)
}

func TestComment(t *testing.T) {
	runner := &fakeRunner{}
	c := NewClient("replica", "nova", runner, &fakePusher{})
	ch := &change.Change{UUID: "I2", Number: 12, PatchsetNumber: 3}

	require.NoError(t, c.Comment(context.Background(), ch, "it's done", change.Scores{CodeReview: change.Score(-2)}))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "gerrit review --json 12,3", runner.calls[0].command)

	var input reviewInput
	require.NoError(t, json.Unmarshal([]byte(runner.calls[0].stdin), &input))
	assert.Equal(t, "it's done", input.Message)
	assert.Equal(t, map[string]int{"Code-Review": -2}, input.Labels)
}

func TestCommentFailure(t *testing.T) {
	runner := &fakeRunner{failures: map[string]error{"review": errors.New("permission denied")}}
	c := NewClient("replica", "nova", runner, &fakePusher{})
	err := c.Comment(context.Background(), &change.Change{UUID: "I2", Number: 12, PatchsetNumber: 3}, "x", change.Scores{})
	assert.ErrorContains(t, err, "permission denied")
}

func TestUpload(t *testing.T) {
	t.Run("prefers pushed head", func(t *testing.T) {
		runner := &fakeRunner{responses: map[string]string{"topic:Iabc": queryOutput}}
		pusher := &fakePusher{head: "aaa"}
		c := NewClient("replica", "nova", runner, pusher)

		ch, err := c.Upload(context.Background(), UploadRequest{
			LocalBranch:  "recomb-original-master-abc",
			TargetBranch: "recomb-original-master-abc",
			Topic:        "Iabc",
			Reviewers:    []string{"bot", "jane"},
		})
		require.NoError(t, err)
		assert.Equal(t, 11, ch.Number)
		assert.Equal(t, []string{"recomb-original-master-abc:refs/for/recomb-original-master-abc%topic=Iabc,r=bot,r=jane"}, pusher.pushed)
		require.Len(t, runner.calls, 1)
		assert.Contains(t, runner.calls[0].command, "topic:Iabc AND status:open AND project:nova AND branch:recomb-original-master-abc")
	})

	t.Run("matches the Change-Id of the pushed head", func(t *testing.T) {
		runner := &fakeRunner{responses: map[string]string{"topic:Iabc": queryOutput}}
		pusher := &fakePusher{head: "zzz", message: "Second\n\nChange-Id: I2\n", pushErr: errors.New("no new changes")}
		c := NewClient("replica", "nova", runner, pusher)

		ch, err := c.Upload(context.Background(), UploadRequest{LocalBranch: "x", TargetBranch: "x", Topic: "Iabc"})
		require.NoError(t, err)
		assert.Equal(t, 12, ch.Number)
	})

	t.Run("other changes on the topic are not taken", func(t *testing.T) {
		runner := &fakeRunner{responses: map[string]string{"topic:Iabc": queryOutput}}
		pushErr := errors.New("prohibited by Gerrit")
		pusher := &fakePusher{head: "zzz", message: "Third\n\nChange-Id: I3\n", pushErr: pushErr}
		c := NewClient("replica", "nova", runner, pusher)

		_, err := c.Upload(context.Background(), UploadRequest{LocalBranch: "x", TargetBranch: "recomb-x", Topic: "Iabc", RemoveOnFailure: true})
		assert.ErrorIs(t, err, pushErr)
		assert.Equal(t, []string{"recomb-x"}, pusher.deleted)
	})

	t.Run("no change removes branch", func(t *testing.T) {
		pusher := &fakePusher{head: "zzz"}
		c := NewClient("replica", "nova", &fakeRunner{}, pusher)

		_, err := c.Upload(context.Background(), UploadRequest{LocalBranch: "x", TargetBranch: "recomb-x", Topic: "Iabc", RemoveOnFailure: true})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, []string{"recomb-x"}, pusher.deleted)
	})
}

func TestResolveEndpoint(t *testing.T) {
	config := map[string]map[string]string{
		"review": {"HostName": "review.example.org", "Port": "29418", "User": "bot", "IdentityFile": "~/.ssh/bot"},
	}
	lookup := func(alias, key string) string {
		return config[alias][key]
	}

	ep := resolveEndpoint("review", lookup)
	assert.Equal(t, endpoint{User: "bot", Host: "review.example.org", Port: "29418", IdentityFile: "~/.ssh/bot"}, ep)
	assert.Equal(t, "review.example.org:29418", ep.Address())

	explicit := resolveEndpoint("jane@gerrit.example.org:2222", lookup)
	assert.Equal(t, "jane", explicit.User)
	assert.Equal(t, "gerrit.example.org", explicit.Host)
	assert.Equal(t, "2222", explicit.Port)

	defaulted := resolveEndpoint("ci@gerrit.example.org", lookup)
	assert.Equal(t, DefaultPort, defaulted.Port)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'topic:a'`, shellQuote("topic:a"))
	assert.Equal(t, `'it'"'"'s'`, shellQuote("it's"))
	assert.Equal(t, "ssh://review.example.org:29418/nova", URL("review.example.org:29418", "nova"))
}
