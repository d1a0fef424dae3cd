package project

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/git"
)

// fakeWorkspace answers history reads from fixed tables and records every mutation
type fakeWorkspace struct {
	revisions map[string]string
	commits   map[string]*git.Commit
	// histories maps the end argument of GetCommits to the commits returned
	histories   map[string][]git.Commit
	equivalents map[string]string
	same        map[string]bool
	conflicts   map[string]bool
	ancestors   map[string]bool
	remoteErr   map[string]error
	mirror      []string

	remotes   []string
	created   map[string]string
	pushed    []string
	picked    []string
	messages  map[string]string
	deleted   []string
	purged    []string
	tags      map[string]string
	patchedOn []string
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		revisions:   make(map[string]string),
		commits:     make(map[string]*git.Commit),
		histories:   make(map[string][]git.Commit),
		equivalents: make(map[string]string),
		same:        make(map[string]bool),
		conflicts:   make(map[string]bool),
		ancestors:   make(map[string]bool),
		remoteErr:   make(map[string]error),
		created:     make(map[string]string),
		messages:    make(map[string]string),
		tags:        make(map[string]string),
	}
}

func (f *fakeWorkspace) Init(context.Context) error {
	return nil
}

func (f *fakeWorkspace) AddRemote(_ context.Context, name, url string, withChanges bool) error {
	f.remotes = append(f.remotes, fmt.Sprintf("%s=%s changes=%t", name, url, withChanges))
	return f.remoteErr[name]
}

func (f *fakeWorkspace) GetRevision(_ context.Context, ref string) (string, error) {
	if rev, ok := f.revisions[ref]; ok {
		return rev, nil
	}
	if _, ok := f.created[ref]; ok {
		return fmt.Sprintf("e%015d", len(f.picked)), nil
	}
	return "", fmt.Errorf("unknown revision %s", ref)
}

func (f *fakeWorkspace) GetCommit(_ context.Context, rev string) (*git.Commit, error) {
	if c, ok := f.commits[rev]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown commit %s", rev)
}

func (f *fakeWorkspace) GetCommits(_ context.Context, _, end string, _ git.LogOptions) ([]git.Commit, error) {
	return f.histories[end], nil
}

func (f *fakeWorkspace) FindEquivalentCommit(_ context.Context, revision, _ string) (string, error) {
	return f.equivalents[revision], nil
}

func (f *fakeWorkspace) CommitsDiffer(_ context.Context, a, b string) (bool, error) {
	return !f.same[a+"|"+b], nil
}

func (f *fakeWorkspace) CreateBranch(_ context.Context, name, base string) error {
	f.created[name] = base
	return nil
}

func (f *fakeWorkspace) DeleteBranch(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeWorkspace) PushBranch(_ context.Context, _, _, branch string) error {
	f.pushed = append(f.pushed, branch)
	return nil
}

func (f *fakeWorkspace) CherryPick(_ context.Context, _, revision string) (*git.PickResult, error) {
	if f.conflicts[revision] {
		return &git.PickResult{
			Status: []git.StatusEntry{{Code: "UU", Path: "fileA"}},
			Blocks: map[string]string{"fileA": "<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> " + revision},
		}, nil
	}
	f.picked = append(f.picked, revision)
	return &git.PickResult{Clean: true}, nil
}

func (f *fakeWorkspace) AmendMessage(_ context.Context, branch, message string) error {
	f.messages[branch] = message
	return nil
}

func (f *fakeWorkspace) CommitEmpty(_ context.Context, branch, message, _ string, _ int64) error {
	f.messages[branch] = message
	return nil
}

func (f *fakeWorkspace) FormatPatch(_ context.Context, revision string) (string, error) {
	return "patch of " + revision, nil
}

func (f *fakeWorkspace) ApplyPatch(_ context.Context, branch, _, message string) error {
	f.patchedOn = append(f.patchedOn, branch)
	f.messages[branch] = message
	return nil
}

func (f *fakeWorkspace) ListRemoteBranches(_ context.Context, _ string, _ ...string) ([]string, error) {
	return f.mirror, nil
}

func (f *fakeWorkspace) DeleteRemoteBranch(_ context.Context, remote, branch string) error {
	f.purged = append(f.purged, remote+"/"+branch)
	return nil
}

func (f *fakeWorkspace) IsAncestor(_ context.Context, ancestor, descendant string) (bool, error) {
	return f.ancestors[ancestor+"|"+descendant], nil
}

func (f *fakeWorkspace) TagAndPush(_ context.Context, _, tag, revision string) error {
	f.tags[tag] = revision
	return nil
}

var changeIDTrailer = regexp.MustCompile(`(?m)^Change-Id: (I[0-9a-f]+)\s*$`)

// fakeReviewer is an in-memory review system: uploads become changes that later searches return
type fakeReviewer struct {
	workspace *fakeWorkspace
	changes   []*change.Change
	clock     int64

	uploads   []gerrit.UploadRequest
	comments  []string
	abandoned []int
	submitted []int
}

func newFakeReviewer(workspace *fakeWorkspace) *fakeReviewer {
	return &fakeReviewer{workspace: workspace, clock: 1700000000}
}

func (f *fakeReviewer) matches(s gerrit.Search, ch *change.Change) bool {
	if s.Branch != "" && ch.Branch != s.Branch {
		return false
	}
	if ch.RemoteStatus == change.RemoteStatusMerged && !s.IncludeMerged {
		return false
	}
	if ch.RemoteStatus == change.RemoteStatusAbandoned && !s.IncludeAbandoned {
		return false
	}
	switch s.Field {
	case "topic":
		return slices.Contains(s.Values, ch.Topic)
	case "change":
		return slices.Contains(s.Values, ch.UUID)
	case "status":
		return ch.RemoteStatus.IsOpen()
	}
	return false
}

func (f *fakeReviewer) GetChanges(_ context.Context, s gerrit.Search) ([]*change.Change, error) {
	var out []*change.Change
	for _, ch := range f.changes {
		if f.matches(s, ch) {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeReviewer) GetChange(ctx context.Context, s gerrit.Search) (*change.Change, error) {
	changes, _ := f.GetChanges(ctx, s)
	if len(changes) == 0 {
		return nil, gerrit.ErrNotFound
	}
	return changes[len(changes)-1], nil
}

func (f *fakeReviewer) Upload(_ context.Context, req gerrit.UploadRequest) (*change.Change, error) {
	f.uploads = append(f.uploads, req)
	message := f.workspace.messages[req.LocalBranch]
	number := 100 + len(f.changes)
	uuid := fmt.Sprintf("I%040d", number)
	if m := changeIDTrailer.FindAllStringSubmatch(message, -1); len(m) > 0 {
		uuid = m[len(m)-1][1]
	}
	ch := &change.Change{
		UUID:           uuid,
		Number:         number,
		PatchsetNumber: 1,
		Revision:       fmt.Sprintf("b%015d", number),
		Branch:         req.TargetBranch,
		RemoteStatus:   change.RemoteStatusNew,
		Topic:          req.Topic,
		CommitMessage:  message,
	}
	f.changes = append(f.changes, ch)
	return ch, nil
}

func (f *fakeReviewer) Comment(_ context.Context, ch *change.Change, message string, _ change.Scores) error {
	f.comments = append(f.comments, message)
	f.clock++
	ch.Comments = append(ch.Comments, change.Comment{Author: "recombine", Timestamp: f.clock, Message: "Patch Set 1:\n\n" + message})
	return nil
}

func (f *fakeReviewer) Publish(_ context.Context, ch *change.Change) error {
	ch.RemoteStatus = change.RemoteStatusNew
	return nil
}

func (f *fakeReviewer) Abandon(_ context.Context, ch *change.Change) error {
	f.abandoned = append(f.abandoned, ch.Number)
	ch.RemoteStatus = change.RemoteStatusAbandoned
	return nil
}

func (f *fakeReviewer) Submit(_ context.Context, ch *change.Change) error {
	f.submitted = append(f.submitted, ch.Number)
	ch.RemoteStatus = change.RemoteStatusMerged
	return nil
}

// upstream returns an upstream commit carrying Change-Id id
func upstream(hash, id, subject string) git.Commit {
	return git.Commit{
		Hash:       hash,
		Parents:    []string{"a0a0a0a0a0a0a0a0"},
		Message:    subject + "\n\nChange-Id: " + id + "\n",
		Author:     "Upstream Dev <dev@example.org>",
		AuthorTime: 1704103200,
	}
}

func projectConfig(method cmd.WatchMethod, mappings ...cmd.BranchMapping) cmd.Project {
	return cmd.Project{
		Original: cmd.Original{
			Type:          "gerrit",
			Location:      "review.example.org:29418",
			Name:          "upstream/nova",
			WatchMethod:   string(method),
			WatchBranches: mappings,
		},
		Replica: cmd.Replica{Location: "gerrit.example.org:29418", Name: "nova"},
	}
}

var master = cmd.BranchMapping{Name: "master", PatchesBranch: "master-patches"}

// seed prepares a workspace where the master branch has to absorb commits
func seed(commits ...git.Commit) *fakeWorkspace {
	ws := newFakeWorkspace()
	ws.revisions["remotes/replica/master"] = "a0a0a0a0a0a0a0a0"
	ws.revisions["remotes/original/master"] = "f1f1f1f1f1f1f1f1"
	ws.histories["f1f1f1f1f1f1f1f1"] = commits
	ws.commits["remotes/replica/master-patches"] = &git.Commit{Hash: "d0d0d0d0d0d0d0d0", Message: "Downstream patches\n"}
	return ws
}

func newProject(ws *fakeWorkspace, reviewer *fakeReviewer, method cmd.WatchMethod, mappings ...cmd.BranchMapping) *Project {
	return New("nova", projectConfig(method, mappings...), ws, reviewer, NewLocalDescriber("upstream/nova"))
}

// find returns the stored change on a branch with prefix
func (f *fakeReviewer) find(prefix string) *change.Change {
	for _, ch := range f.changes {
		if strings.HasPrefix(ch.Branch, prefix) {
			return ch
		}
	}
	return nil
}
