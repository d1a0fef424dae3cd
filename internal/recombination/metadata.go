package recombination

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"
)

const headerPrefix = "Recombination: "

var (
	headerPattern  = regexp.MustCompile(`^Recombination: ([^:\s]+):([0-9a-f]*)-([^:\s]+):([0-9a-f]*)~(\S+)$`)
	changeIDFooter = regexp.MustCompile(`(?m)^Change-Id: I[0-9a-f]+\s*$`)
)

// Source describes one side of a recombination
type Source struct {
	Name     string `yaml:"name"`
	Branch   string `yaml:"branch"`
	Revision string `yaml:"revision"`
	ID       string `yaml:"id"`
	// Body is the upstream commit message, kept so content comparison sees what was ported
	Body          string `yaml:"body,omitempty"`
	CommitMessage string `yaml:"commit-message,omitempty"`
}

// Sources pairs the upstream commit with the downstream integration point
type Sources struct {
	Main    Source `yaml:"main"`
	Patches Source `yaml:"patches"`
}

// TestResults is a comment replayed on the proposal once it is created
type TestResults struct {
	Message    string   `yaml:"message"`
	CodeReview int      `yaml:"Code-Review"`
	Verified   int      `yaml:"Verified"`
	Reviewers  []string `yaml:"reviewers,omitempty"`
}

// Metadata is the structured document carried in every recombination commit message
type Metadata struct {
	Sources                 Sources      `yaml:"sources"`
	Status                  Status       `yaml:"recombine-status"`
	TargetReplacementBranch string       `yaml:"target-replacement-branch,omitempty"`
	RemovedPatchesCommits   []string     `yaml:"removed-patches-commits,omitempty"`
	BackportID              string       `yaml:"backport-id,omitempty"`
	BackportTestResults     *TestResults `yaml:"backport-test-results,omitempty"`
	Conflicts               []string     `yaml:"conflicts,omitempty"`
}

func shortHash(rev string) string {
	if len(rev) > 6 {
		return rev[:6]
	}
	return rev
}

// Header returns the first line of the commit message
func (m *Metadata) Header() string {
	return fmt.Sprintf("%s%s:%s-%s:%s~%s", headerPrefix,
		m.Sources.Main.Name, shortHash(m.Sources.Main.Revision),
		m.Sources.Patches.Name, shortHash(m.Sources.Patches.Revision),
		m.Sources.Main.Branch)
}

// ChangeID derives a deterministic review identity for the recombination of id onto target
func ChangeID(id, target string) string {
	sum := blake3.Sum256([]byte(id + "~" + target))
	return "I" + hex.EncodeToString(sum[:20])
}

// Encode renders the commit message: header, blank line, YAML document and, when changeID is
// set, a Change-Id footer paragraph.
func (m *Metadata) Encode(changeID string) (string, error) {
	doc, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal recombination metadata: %w", err)
	}

	var b strings.Builder
	b.WriteString(m.Header())
	b.WriteString("\n\n")
	b.Write(doc)
	if changeID != "" {
		b.WriteString("\nChange-Id: ")
		b.WriteString(changeID)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// IsRecombinationMessage reports whether message starts with a recombination header
func IsRecombinationMessage(message string) bool {
	return strings.HasPrefix(message, headerPrefix)
}

// Decode parses a commit message produced by Encode
func Decode(message string) (*Metadata, error) {
	header, rest, _ := strings.Cut(strings.TrimLeft(message, "\n"), "\n")
	if !headerPattern.MatchString(strings.TrimSpace(header)) {
		return nil, &DecodeError{Reason: fmt.Sprintf("unexpected header %q", header)}
	}

	doc := changeIDFooter.ReplaceAllString(rest, "")
	m := &Metadata{}
	if err := yaml.Unmarshal([]byte(doc), m); err != nil {
		return nil, &DecodeError{Reason: "malformed document", Err: err}
	}
	if m.Sources.Main.ID == "" {
		return nil, &DecodeError{Reason: "missing sources.main.id"}
	}
	return m, nil
}

// ContentBody returns the ported upstream message for a recombination commit message and the
// message itself for anything else. It is the body filter used for content comparison.
func ContentBody(message string) string {
	if !IsRecombinationMessage(message) {
		return message
	}
	m, err := Decode(message)
	if err != nil || m.Sources.Main.Body == "" {
		return message
	}
	return m.Sources.Main.Body
}
