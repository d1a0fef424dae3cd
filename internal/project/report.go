package project

import (
	"log/slog"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/recombination"
)

// BranchReport is the outcome of polling or inspecting one watched branch
type BranchReport struct {
	Project string
	Branch  string
	Target  string
	Method  cmd.WatchMethod

	// Records holds the upstream sequence in order with its reconciled statuses
	Records []*recombination.Recombination
	// Errors maps record ids to failures that did not stop the branch
	Errors map[string]error

	Uploaded int
	Failed   int
	Proposed int
	// LockMovedTo is the revision the base tag was advanced to, if any
	LockMovedTo string
}

func newReport(p *Project, mapping cmd.BranchMapping, records []*recombination.Recombination) *BranchReport {
	return &BranchReport{
		Project: p.Name,
		Branch:  mapping.Name,
		Target:  mapping.Target(),
		Method:  p.method,
		Records: records,
		Errors:  make(map[string]error),
	}
}

// fail records an error attributed to one record
func (r *BranchReport) fail(rec *recombination.Recombination, err error) {
	slog.Error("Recombination failed", "project", r.Project, "branch", r.Branch, "recombination", rec.ID, "error", err)
	r.Errors[rec.ID] = err
}

// Segments slices the records into same-category runs
func (r *BranchReport) Segments() []recombination.Segment {
	return recombination.Segments(r.Records)
}

// Count returns the number of records in status
func (r *BranchReport) Count(status recombination.Status) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Status == status {
			n++
		}
	}
	return n
}
