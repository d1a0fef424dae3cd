// Package gerrit is the review-system adapter: queries, review mutations and uploads
// against a Gerrit server reached over SSH.
package gerrit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/alan/recombine/internal/change"
)

// ErrNotFound is returned when a lookup expected exactly one change and got none
var ErrNotFound = errors.New("change not found")

// Pusher is the part of the workspace the client needs to upload changes
type Pusher interface {
	Push(ctx context.Context, remote, refspec string, force bool) (string, error)
	GetRevision(ctx context.Context, ref string) (string, error)
	CommitMessage(ctx context.Context, rev string) (string, error)
	DeleteRemoteBranch(ctx context.Context, remote, branch string) error
}

// Client talks to one project on one Gerrit server
type Client struct {
	// Remote is the workspace remote name pointing at this server
	Remote  string
	Project string

	runner Runner
	pusher Pusher
}

// NewClient returns a client for project using runner for commands and pusher for uploads
func NewClient(remote, project string, runner Runner, pusher Pusher) *Client {
	return &Client{Remote: remote, Project: project, runner: runner, pusher: pusher}
}

// URL returns the git URL of the project on a Gerrit SSH location
func URL(location, project string) string {
	return fmt.Sprintf("ssh://%s/%s", location, project)
}

// Search describes a change lookup
type Search struct {
	// Field is the search operator: change, topic, commit, status...
	Field  string
	Values []string
	Branch string
	// IncludeMerged keeps merged changes in the results
	IncludeMerged bool
	// IncludeAbandoned keeps abandoned changes in the results
	IncludeAbandoned bool
}

// String renders the search in Gerrit query syntax
func (s Search) String() string {
	terms := make([]string, 0, len(s.Values))
	for _, v := range s.Values {
		terms = append(terms, s.Field+":"+v)
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}

// queryString renders a search scoped to the client's project
func (c *Client) queryString(s Search) string {
	q := s.String() + " AND project:" + c.Project
	if !s.IncludeAbandoned {
		q += " AND NOT status:abandoned"
	}
	if !s.IncludeMerged {
		q += " AND NOT status:merged"
	}
	if s.Branch != "" {
		q += " AND branch:" + s.Branch
	}
	return q
}

// shellQuote quotes a single argument for the remote command line
func shellQuote(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}

// Query runs a raw query and returns the normalized changes sorted by number
func (c *Client) Query(ctx context.Context, query string) ([]*change.Change, error) {
	slog.Debug("Querying review system", "project", c.Project, "query", query)
	command := "gerrit query --format json --current-patch-set --comments --dependencies " + shellQuote(query)
	output, err := c.runner.Run(ctx, command, "")
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", query, err)
	}
	rows, err := parseRows(output)
	if err != nil {
		return nil, err
	}
	changes := make([]*change.Change, 0, len(rows))
	for _, row := range rows {
		changes = append(changes, normalize(row))
	}
	return changes, nil
}

// GetChanges runs a search and returns the normalized changes sorted by number
func (c *Client) GetChanges(ctx context.Context, s Search) ([]*change.Change, error) {
	if len(s.Values) == 0 {
		return nil, nil
	}
	return c.Query(ctx, c.queryString(s))
}

// GetChange returns the single change matched by s, or ErrNotFound. With several matches the
// highest-numbered change wins.
func (c *Client) GetChange(ctx context.Context, s Search) (*change.Change, error) {
	changes, err := c.GetChanges(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, ErrNotFound
	}
	if len(changes) > 1 {
		slog.Warn("Search matched several changes", "query", c.queryString(s), "count", len(changes))
	}
	return changes[len(changes)-1], nil
}

func (c *Client) review(ctx context.Context, ch *change.Change, flags ...string) error {
	if !ch.Uploaded() {
		return fmt.Errorf("cannot review %s", ch)
	}
	args := append([]string{"gerrit", "review"}, flags...)
	args = append(args, "--project", shellQuote(c.Project), fmt.Sprintf("%d,%d", ch.Number, ch.PatchsetNumber))
	if _, err := c.runner.Run(ctx, strings.Join(args, " "), ""); err != nil {
		return fmt.Errorf("review of %s failed: %w", ch, err)
	}
	return nil
}

// Publish turns a draft into a regular change
func (c *Client) Publish(ctx context.Context, ch *change.Change) error {
	return c.review(ctx, ch, "--publish")
}

// Abandon abandons the change
func (c *Client) Abandon(ctx context.Context, ch *change.Change) error {
	return c.review(ctx, ch, "--abandon")
}

// Submit merges the change, publishing it first when it is a draft, and verifies that the
// server reports it merged.
func (c *Client) Submit(ctx context.Context, ch *change.Change) error {
	if ch.RemoteStatus == change.RemoteStatusDraft {
		if err := c.Publish(ctx, ch); err != nil {
			return err
		}
	}
	if err := c.review(ctx, ch, "--submit"); err != nil {
		return err
	}
	merged, err := c.Query(ctx, fmt.Sprintf("change:%d AND status:merged", ch.Number))
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return fmt.Errorf("%s was submitted but is not merged", ch)
	}
	ch.RemoteStatus = change.RemoteStatusMerged
	return nil
}

// Comment posts a message with optional scores
func (c *Client) Comment(ctx context.Context, ch *change.Change, message string, scores change.Scores) error {
	if !ch.Uploaded() {
		return fmt.Errorf("cannot comment on %s", ch)
	}
	input, err := json.Marshal(newReviewInput(message, scores))
	if err != nil {
		return fmt.Errorf("failed to encode review input: %w", err)
	}
	command := fmt.Sprintf("gerrit review --json %d,%d", ch.Number, ch.PatchsetNumber)
	if _, err := c.runner.Run(ctx, command, string(input)); err != nil {
		return fmt.Errorf("comment on %s failed: %w", ch, err)
	}
	return nil
}

// UploadRequest describes a push for review
type UploadRequest struct {
	// LocalBranch holds the commit(s) to upload
	LocalBranch string
	// TargetBranch is the review target on the server
	TargetBranch string
	Topic        string
	Reviewers    []string
	// RemoveOnFailure deletes TargetBranch from the server when no change was created
	RemoveOnFailure bool
}

// refspec renders the push destination with review options
func (r UploadRequest) refspec() string {
	spec := r.LocalBranch + ":refs/for/" + r.TargetBranch
	var opts []string
	if r.Topic != "" {
		opts = append(opts, "topic="+r.Topic)
	}
	for _, reviewer := range r.Reviewers {
		opts = append(opts, "r="+reviewer)
	}
	if len(opts) > 0 {
		spec += "%" + strings.Join(opts, ",")
	}
	return spec
}

var changeIDTrailer = regexp.MustCompile(`(?m)^Change-Id: (I[0-9a-f]+)\s*$`)

// changeID returns the last Change-Id trailer of message
func changeID(message string) string {
	m := changeIDTrailer.FindAllStringSubmatch(message, -1)
	if len(m) == 0 {
		return ""
	}
	return m[len(m)-1][1]
}

// Upload pushes LocalBranch for review and returns the change the server created or updated.
// The change is looked up by topic on the target branch of the project and must carry the
// pushed head, either as its revision or through its Change-Id.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*change.Change, error) {
	head, err := c.pusher.GetRevision(ctx, req.LocalBranch)
	if err != nil {
		return nil, err
	}
	message, err := c.pusher.CommitMessage(ctx, head)
	if err != nil {
		return nil, err
	}
	id := changeID(message)

	slog.Info("Uploading for review", "project", c.Project, "branch", req.TargetBranch, "topic", req.Topic, "revision", head)
	_, pushErr := c.pusher.Push(ctx, c.Remote, req.refspec(), false)
	if pushErr != nil {
		// "no new changes" still leaves the existing change queryable
		slog.Warn("Push for review reported an error", "branch", req.TargetBranch, "error", pushErr)
	}

	query := fmt.Sprintf("topic:%s AND status:open AND project:%s AND branch:%s", req.Topic, c.Project, req.TargetBranch)
	changes, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	var found *change.Change
	for _, ch := range changes {
		if ch.Revision == head {
			found = ch
			break
		}
		if id != "" && ch.UUID == id {
			found = ch
		}
	}
	if found != nil {
		return found, nil
	}

	if req.RemoveOnFailure {
		if err := c.pusher.DeleteRemoteBranch(ctx, c.Remote, req.TargetBranch); err != nil {
			slog.Warn("Failed to remove branch after failed upload", "branch", req.TargetBranch, "error", err)
		}
	}
	if pushErr != nil {
		return nil, fmt.Errorf("push of %s to %s failed: %w", head, req.TargetBranch, pushErr)
	}
	return nil, fmt.Errorf("no open change with topic %s carries %s: %w", req.Topic, head, ErrNotFound)
}
