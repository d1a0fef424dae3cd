package git

import (
	"strings"
)

const (
	conflictStartMarker = "<<<<<<<"
	conflictEndMarker   = ">>>>>>>"
)

// unmergedCodes are the porcelain XY codes git uses for paths with unresolved conflicts
var unmergedCodes = map[string]bool{
	"DD": true,
	"AU": true,
	"UD": true,
	"UA": true,
	"DU": true,
	"AA": true,
	"UU": true,
}

// StatusEntry is one line of `git status --porcelain`
type StatusEntry struct {
	Code string
	Path string
}

// String returns the entry in porcelain format
func (e StatusEntry) String() string {
	return e.Code + " " + e.Path
}

// Unmerged reports whether the entry is a conflicted path
func (e StatusEntry) Unmerged() bool {
	return unmergedCodes[e.Code]
}

// ParsePorcelain parses `git status --porcelain` output
func ParsePorcelain(output string) []StatusEntry {
	var entries []StatusEntry
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		// Renames are reported as "old -> new"
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		entries = append(entries, StatusEntry{
			Code: line[:2],
			Path: strings.Trim(path, `"`),
		})
	}
	return entries
}

// ExtractConflictBlock returns the first conflict region in content, from the line
// holding the first start marker through the first end marker after it, inclusive.
// It returns an empty string when content holds no complete region.
func ExtractConflictBlock(content string) string {
	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if start < 0 {
			if strings.HasPrefix(line, conflictStartMarker) {
				start = i
			}
			continue
		}
		if strings.HasPrefix(line, conflictEndMarker) {
			return strings.Join(lines[start:i+1], "\n")
		}
	}
	return ""
}
