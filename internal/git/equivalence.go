package git

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"lukechampine.com/blake3"
)

// authorKey identifies a commit across cherry-picks: author identity and author date survive them
type authorKey struct {
	author string
	when   int64
}

// equivalenceIndex caches author-keyed indexes per searched tip
type equivalenceIndex struct {
	mu    sync.Mutex
	byTip map[plumbing.Hash]map[authorKey][]string
}

func (w *Workspace) authorIndex(ctx context.Context, tip *object.Commit) (map[authorKey][]string, error) {
	if w.index == nil {
		w.index = &equivalenceIndex{byTip: make(map[plumbing.Hash]map[authorKey][]string)}
	}
	w.index.mu.Lock()
	defer w.index.mu.Unlock()

	if idx, ok := w.index.byTip[tip.Hash]; ok {
		return idx, nil
	}

	idx := make(map[authorKey][]string)
	iter := object.NewCommitPreorderIter(tip, nil, nil)
	defer iter.Close()
	err := iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := authorKey{author: c.Author.Name + " <" + c.Author.Email + ">", when: c.Author.When.Unix()}
		idx[key] = append(idx[key], c.Hash.String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index history of %s: %w", tip.Hash, err)
	}
	w.index.byTip[tip.Hash] = idx
	return idx, nil
}

// FindEquivalentCommit searches the history of searchRef for a commit with the same author
// and author timestamp as revision, other than revision itself. It returns the newest such
// commit, or "" when there is none.
func (w *Workspace) FindEquivalentCommit(ctx context.Context, revision, searchRef string) (string, error) {
	repo, err := w.open()
	if err != nil {
		return "", err
	}
	c, err := resolve(repo, revision)
	if err != nil {
		return "", err
	}
	tip, err := resolve(repo, searchRef)
	if err != nil {
		return "", err
	}
	idx, err := w.authorIndex(ctx, tip)
	if err != nil {
		return "", err
	}

	key := authorKey{author: c.Author.Name + " <" + c.Author.Email + ">", when: c.Author.When.Unix()}
	for _, candidate := range idx[key] {
		if candidate != c.Hash.String() {
			return candidate, nil
		}
	}
	return "", nil
}

var ignoredTrailer = regexp.MustCompile(`^(Change-Id|Upstream-[A-Za-z-]+|Signed-off-by|Conflicts):|^\(cherry picked from commit [0-9a-f]+\)$`)

// NormalizeBody reduces a commit message to the content that matters for comparison:
// bookkeeping trailers are dropped and whitespace is canonicalized.
func NormalizeBody(message string) string {
	var kept []string
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if ignoredTrailer.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// Digest returns the content digest of a commit message
func Digest(message string) [32]byte {
	return blake3.Sum256([]byte(NormalizeBody(message)))
}

func (w *Workspace) contentDigest(c *object.Commit) [32]byte {
	message := c.Message
	if w.bodyFilter != nil {
		message = w.bodyFilter(message)
	}
	return Digest(message)
}

// CommitsDiffer reports whether two commits carry different content
func (w *Workspace) CommitsDiffer(ctx context.Context, a, b string) (bool, error) {
	repo, err := w.open()
	if err != nil {
		return false, err
	}
	ca, err := resolve(repo, a)
	if err != nil {
		return false, err
	}
	cb, err := resolve(repo, b)
	if err != nil {
		return false, err
	}
	return w.contentDigest(ca) != w.contentDigest(cb), nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
