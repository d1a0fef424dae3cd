package recombination

import (
	"context"
	"errors"

	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/git"
)

type posted struct {
	number  int
	message string
	scores  change.Scores
}

// fakeReviewer records every mutation and answers lookups from a fixed table
type fakeReviewer struct {
	changes   map[string]*change.Change
	uploaded  *change.Change
	uploadErr error
	submitErr error

	uploads   []gerrit.UploadRequest
	comments  []posted
	published []int
	abandoned []int
	submitted []int
}

func (f *fakeReviewer) GetChange(_ context.Context, s gerrit.Search) (*change.Change, error) {
	for _, v := range s.Values {
		if ch, ok := f.changes[v]; ok {
			return ch, nil
		}
	}
	return nil, gerrit.ErrNotFound
}

func (f *fakeReviewer) Upload(_ context.Context, req gerrit.UploadRequest) (*change.Change, error) {
	f.uploads = append(f.uploads, req)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return f.uploaded, nil
}

func (f *fakeReviewer) Comment(_ context.Context, ch *change.Change, message string, scores change.Scores) error {
	f.comments = append(f.comments, posted{number: ch.Number, message: message, scores: scores})
	return nil
}

func (f *fakeReviewer) Publish(_ context.Context, ch *change.Change) error {
	f.published = append(f.published, ch.Number)
	return nil
}

func (f *fakeReviewer) Abandon(_ context.Context, ch *change.Change) error {
	f.abandoned = append(f.abandoned, ch.Number)
	return nil
}

func (f *fakeReviewer) Submit(_ context.Context, ch *change.Change) error {
	f.submitted = append(f.submitted, ch.Number)
	return f.submitErr
}

// fakeWorkspace stands in for the git workspace
type fakeWorkspace struct {
	pick       *git.PickResult
	equivalent string

	created  map[string]string
	pushed   []string
	picked   []string
	amended  map[string]string
	empty    map[string]string
	applied  map[string]string
	author   string
	patchErr error
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		pick:    &git.PickResult{Clean: true},
		created: make(map[string]string),
		amended: make(map[string]string),
		empty:   make(map[string]string),
		applied: make(map[string]string),
	}
}

func (f *fakeWorkspace) CreateBranch(_ context.Context, name, base string) error {
	f.created[name] = base
	return nil
}

func (f *fakeWorkspace) PushBranch(_ context.Context, _, _, branch string) error {
	f.pushed = append(f.pushed, branch)
	return nil
}

func (f *fakeWorkspace) CherryPick(_ context.Context, branch, revision string) (*git.PickResult, error) {
	f.picked = append(f.picked, branch+"<-"+revision)
	return f.pick, nil
}

func (f *fakeWorkspace) AmendMessage(_ context.Context, branch, message string) error {
	f.amended[branch] = message
	return nil
}

func (f *fakeWorkspace) CommitEmpty(_ context.Context, branch, message, author string, _ int64) error {
	f.empty[branch] = message
	f.author = author
	return nil
}

func (f *fakeWorkspace) FindEquivalentCommit(_ context.Context, _, _ string) (string, error) {
	return f.equivalent, nil
}

func (f *fakeWorkspace) FormatPatch(_ context.Context, revision string) (string, error) {
	if revision == "" {
		return "", errors.New("no revision")
	}
	return "patch of " + revision, nil
}

func (f *fakeWorkspace) ApplyPatch(_ context.Context, branch, _, message string) error {
	if f.patchErr != nil {
		return f.patchErr
	}
	f.applied[branch] = message
	return nil
}

func newRecord() *Recombination {
	main := &change.Change{
		UUID:          "I1",
		Project:       "upstream/nova",
		Branch:        "master",
		Revision:      "c1c1c1c1c1c1c1c1",
		URL:           "https://review.example.org/101",
		CommitMessage: "Fix scheduler race\n\nChange-Id: I1\n",
	}
	patches := &change.Change{
		UUID:     "d0d0d0d0d0d0",
		Project:  "nova",
		Branch:   "master-patches",
		Revision: "d0d0d0d0d0d0",
	}
	r := New(main, patches, "master")
	r.Author, r.AuthorTime = "Upstream Dev <dev@example.org>", 1704103200
	return r
}

// uploadedBackport returns the backport of r as the review system would report it
func uploadedBackport(r *Recombination, status Status, remote change.RemoteStatus) *change.Change {
	r.Status = status
	message, err := r.CommitMessage()
	if err != nil {
		panic(err)
	}
	return &change.Change{
		UUID:           r.ChangeID(),
		Number:         7,
		PatchsetNumber: 1,
		Revision:       "b7b7b7b7",
		Branch:         "recomb-nova-master-c1c1c1c1c1c1",
		RemoteStatus:   remote,
		Topic:          r.ID,
		CommitMessage:  message,
	}
}
