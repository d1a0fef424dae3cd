package recombination

import (
	"github.com/alan/recombine/internal/change"
)

// Status is the locally computed state of a recombination
type Status string

const (
	StatusUnattempted Status = "UNATTEMPTED"
	StatusMissing     Status = "MISSING"
	StatusPresent     Status = "PRESENT"
	StatusApproved    Status = "APPROVED"
	StatusMerged      Status = "MERGED"
	StatusBlocked     Status = "BLOCKED"
	StatusDiscarded   Status = "DISCARDED"
	StatusAbandoned   Status = "ABANDONED"
	StatusSuccessful  Status = "SUCCESSFUL"
	StatusFailed      Status = "FAILED"
)

// Outcome tells the caller what to do with a record after its status is resolved
type Outcome int

const (
	// Continue dispatches the record on its status
	Continue Outcome = iota
	// Terminal records need no further action
	Terminal
	// Canceled records are dropped and rebuilt from scratch
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Terminal:
		return "terminal"
	case Canceled:
		return "canceled"
	default:
		return "continue"
	}
}

// Inputs are everything status resolution depends on
type Inputs struct {
	// Stored is the recombine-status embedded in the commit message, after comment merges
	Stored Status
	Remote change.RemoteStatus
	// Approved is the review score conjunction of the recombination's change
	Approved bool
	// Discarded is set when a DISCARD request has been completed
	Discarded bool
}

// Resolve is the status table. Precedence, first match wins:
//
//	never uploaded                              -> MISSING     continue
//	remote MERGED                               -> MERGED      terminal
//	discarded, remote ABANDONED                 -> DISCARDED   terminal
//	discarded, remote open                      -> DISCARDED   continue (abandon pending)
//	remote ABANDONED                            -> ABANDONED   canceled
//	remote open, approved                       -> APPROVED    continue
//	remote open, stored SUCCESSFUL or PRESENT   -> PRESENT     continue
//	remote open, stored FAILED                  -> FAILED      continue
//	remote open, anything else                  -> MISSING     continue
func Resolve(in Inputs) (Status, Outcome) {
	discarded := in.Discarded || in.Stored == StatusDiscarded

	switch {
	case in.Remote == change.RemoteStatusNone:
		return StatusMissing, Continue
	case in.Remote == change.RemoteStatusMerged:
		return StatusMerged, Terminal
	case discarded && in.Remote == change.RemoteStatusAbandoned:
		return StatusDiscarded, Terminal
	case discarded:
		return StatusDiscarded, Continue
	case in.Remote == change.RemoteStatusAbandoned:
		return StatusAbandoned, Canceled
	case in.Approved:
		return StatusApproved, Continue
	case in.Stored == StatusSuccessful || in.Stored == StatusPresent:
		return StatusPresent, Continue
	case in.Stored == StatusFailed:
		return StatusFailed, Continue
	default:
		return StatusMissing, Continue
	}
}

// Category is the coarse status used to slice a branch into segments
type Category string

const (
	CategoryUploaded Category = "UPLOADED"
	CategoryMissing  Category = "MISSING"
	CategoryPresent  Category = "PRESENT"
	CategoryApproved Category = "APPROVED"
	CategoryMerged   Category = "MERGED"
)

// CategoryOf maps a status to its segment category
func CategoryOf(s Status) Category {
	switch s {
	case StatusMissing, StatusUnattempted, StatusBlocked:
		return CategoryMissing
	case StatusPresent:
		return CategoryPresent
	case StatusApproved:
		return CategoryApproved
	case StatusMerged:
		return CategoryMerged
	default:
		return CategoryUploaded
	}
}

// Segment is a maximal run of records sharing one category
type Segment struct {
	Category Category
	Start    int // index of the first record
	Records  []*Recombination
}

// End returns the index after the last record
func (s Segment) End() int {
	return s.Start + len(s.Records)
}

// Segments slices an ordered record sequence into maximal same-category runs
func Segments(records []*Recombination) []Segment {
	var segments []Segment
	for i, r := range records {
		category := CategoryOf(r.Status)
		if n := len(segments); n > 0 && segments[n-1].Category == category {
			segments[n-1].Records = append(segments[n-1].Records, r)
			continue
		}
		segments = append(segments, Segment{Category: category, Start: i, Records: []*Recombination{r}})
	}
	return segments
}

// BlockAfterFailure marks MISSING records that come after an open FAILED record as BLOCKED.
// It returns the number of records blocked.
func BlockAfterFailure(records []*Recombination) int {
	blocked := 0
	failed := false
	for _, r := range records {
		if r.Status == StatusFailed {
			failed = true
			continue
		}
		if failed && r.Status == StatusMissing {
			r.Status = StatusBlocked
			blocked++
		}
	}
	return blocked
}
