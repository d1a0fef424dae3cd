// Package change defines the review-system change model shared by the reconciliation engine.
package change

import (
	"fmt"
	"time"
)

// RemoteStatus represents the status of a change as reported by the review system
type RemoteStatus string

const (
	// RemoteStatusNone indicates the change was never uploaded
	RemoteStatusNone RemoteStatus = ""
	// RemoteStatusNew indicates an open change
	RemoteStatusNew RemoteStatus = "NEW"
	// RemoteStatusDraft indicates an unpublished open change
	RemoteStatusDraft RemoteStatus = "DRAFT"
	// RemoteStatusMerged indicates a submitted change
	RemoteStatusMerged RemoteStatus = "MERGED"
	// RemoteStatusAbandoned indicates an abandoned change
	RemoteStatusAbandoned RemoteStatus = "ABANDONED"
)

// ParseRemoteStatus converts a review-system status string to RemoteStatus
func ParseRemoteStatus(s string) RemoteStatus {
	switch s {
	case "NEW":
		return RemoteStatusNew
	case "DRAFT":
		return RemoteStatusDraft
	case "MERGED":
		return RemoteStatusMerged
	case "ABANDONED":
		return RemoteStatusAbandoned
	default:
		return RemoteStatusNone
	}
}

// IsOpen reports whether a change with this status can still be reviewed
func (s RemoteStatus) IsOpen() bool {
	return s == RemoteStatusNew || s == RemoteStatusDraft
}

// Comment is a single review comment
type Comment struct {
	Author    string
	Timestamp int64 // Unix seconds, used as request id by the command protocol
	Message   string
}

// Time returns the comment timestamp as time.Time
func (c Comment) Time() time.Time {
	return time.Unix(c.Timestamp, 0)
}

// Link is a dependency reference to another change
type Link struct {
	ID       string
	Number   int
	Revision string
}

// Change is a review-system tracked unit of code. Before its first upload it only
// carries intent (Branch, Topic, CommitMessage) and has no UUID or Number.
type Change struct {
	UUID           string
	Number         int
	Revision       string
	Parent         string
	Parents        []string
	Branch         string
	Project        string
	PatchsetNumber int
	RemoteStatus   RemoteStatus
	CodeReview     int
	Verified       int
	Topic          string
	URL            string
	CommitMessage  string
	Comments       []Comment
	DependsOn      []Link
	NeededBy       []Link
}

// IsApproved reports whether review scores allow the change to proceed.
// Both code-review >= 2 and verified >= 1 are required.
func (c *Change) IsApproved() bool {
	if c == nil {
		return false
	}
	return c.CodeReview >= 2 && c.Verified >= 1
}

// Uploaded reports whether the review system assigned an identity to the change
func (c *Change) Uploaded() bool {
	return c != nil && c.UUID != "" && c.Number != 0
}

// String returns a short human readable description
func (c *Change) String() string {
	if c == nil {
		return "<nil change>"
	}
	if !c.Uploaded() {
		return fmt.Sprintf("change (not uploaded) on %s topic %s", c.Branch, c.Topic)
	}
	return fmt.Sprintf("change %d,%d (%s) on %s", c.Number, c.PatchsetNumber, c.UUID, c.Branch)
}

// Scores holds optional review labels attached to a comment
type Scores struct {
	CodeReview *int
	Verified   *int
}

// Score returns a pointer to v, for building Scores literals
func Score(v int) *int {
	return &v
}
