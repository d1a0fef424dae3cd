package commands

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/alan/recombine/internal/project"
	"github.com/alan/recombine/internal/recombination"
)

// statusIcon returns the emoji shown in front of a record status
func statusIcon(status recombination.Status) string {
	switch status {
	case recombination.StatusMerged:
		return "✅"
	case recombination.StatusApproved:
		return "👍"
	case recombination.StatusPresent, recombination.StatusSuccessful:
		return "🔄"
	case recombination.StatusFailed:
		return "❌"
	case recombination.StatusBlocked:
		return "⛔"
	case recombination.StatusDiscarded, recombination.StatusAbandoned:
		return "🗑️"
	default:
		return "⏳"
	}
}

func shortRevision(revision string) string {
	if len(revision) > 8 {
		return revision[:8]
	}
	return revision
}

// formatRecord renders one record line: status, upstream revision, identity and review link
func formatRecord(r *recombination.Recombination) string {
	var line strings.Builder
	fmt.Fprintf(&line, "    %s %-10s %s %s", statusIcon(r.Status), r.Status, shortRevision(r.Mainline), r.ID)
	if r.Backport.Uploaded() {
		if r.Backport.URL != "" {
			fmt.Fprintf(&line, " (%s)", r.Backport.URL)
		} else {
			fmt.Fprintf(&line, " (change %d)", r.Backport.Number)
		}
	}
	return line.String()
}

// FormatBranchStatus renders the segments and record statuses of one branch
func FormatBranchStatus(report *project.BranchReport) string {
	var out strings.Builder
	fmt.Fprintf(&out, "📋 %s %s -> %s (%s)\n", report.Project, report.Branch, report.Target, report.Method)
	if len(report.Records) == 0 {
		out.WriteString("  Up to date, nothing to recombine\n")
		return out.String()
	}
	for _, segment := range report.Segments() {
		fmt.Fprintf(&out, "  %s [%d-%d]\n", segment.Category, segment.Start+1, segment.End())
		for _, r := range segment.Records {
			out.WriteString(formatRecord(r))
			out.WriteString("\n")
		}
	}
	for _, id := range slices.Sorted(maps.Keys(report.Errors)) {
		fmt.Fprintf(&out, "  ⚠️  %s: %v\n", id, report.Errors[id])
	}
	return out.String()
}

// DisplayBranchStatus prints the status of one branch
func DisplayBranchStatus(report *project.BranchReport) {
	fmt.Print(FormatBranchStatus(report))
}

// formatResult renders the one-line outcome of a polled branch
func formatResult(result project.BranchResult) string {
	name := result.Project
	if result.Branch != "" {
		name += " " + result.Branch
	}
	if result.Err != nil {
		return fmt.Sprintf("❌ %s: %v\n", name, result.Err)
	}
	r := result.Report
	line := fmt.Sprintf("✅ %s: %d upstream change(s), %d uploaded, %d failed, %d proposed, %d merged",
		name, len(r.Records), r.Uploaded, r.Failed, r.Proposed, r.Count(recombination.StatusMerged))
	if r.LockMovedTo != "" {
		line += fmt.Sprintf(", base moved to %s", shortRevision(r.LockMovedTo))
	}
	return line + "\n"
}

// FormatRunSummary renders the outcome of a poll cycle
func FormatRunSummary(summary *project.Summary) string {
	var out strings.Builder
	for _, result := range summary.Results {
		out.WriteString(formatResult(result))
	}
	failures := len(summary.Failures())
	fmt.Fprintf(&out, "📊 %d branch result(s), %d failure(s)\n", len(summary.Results), failures)
	return out.String()
}

// DisplayRunSummary prints the outcome of a poll cycle
func DisplayRunSummary(summary *project.Summary) {
	fmt.Print(FormatRunSummary(summary))
}
