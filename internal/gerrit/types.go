package gerrit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alan/recombine/internal/change"
)

// flexInt accepts numbers encoded either as JSON numbers or strings; Gerrit versions differ
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", data, err)
	}
	*f = flexInt(v)
	return nil
}

type account struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

func (a account) String() string {
	switch {
	case a.Username != "":
		return a.Username
	case a.Email != "":
		return a.Email
	default:
		return a.Name
	}
}

type approval struct {
	Type  string  `json:"type"`
	Value flexInt `json:"value"`
}

type patchSet struct {
	Number    flexInt    `json:"number"`
	Revision  string     `json:"revision"`
	Parents   []string   `json:"parents"`
	Approvals []approval `json:"approvals"`
}

type comment struct {
	Timestamp int64   `json:"timestamp"`
	Reviewer  account `json:"reviewer"`
	Message   string  `json:"message"`
}

type dependency struct {
	ID       string  `json:"id"`
	Number   flexInt `json:"number"`
	Revision string  `json:"revision"`
}

// changeRow is one JSON line of `gerrit query --format json`
type changeRow struct {
	Type            string       `json:"type"`
	Project         string       `json:"project"`
	Branch          string       `json:"branch"`
	Topic           string       `json:"topic"`
	ID              string       `json:"id"`
	Number          flexInt      `json:"number"`
	URL             string       `json:"url"`
	CommitMessage   string       `json:"commitMessage"`
	Status          string       `json:"status"`
	Comments        []comment    `json:"comments"`
	CurrentPatchSet *patchSet    `json:"currentPatchSet"`
	DependsOn       []dependency `json:"dependsOn"`
	NeededBy        []dependency `json:"neededBy"`
}

// parseRows decodes query output, dropping the trailing stats row and error rows
func parseRows(output string) ([]changeRow, error) {
	var rows []changeRow
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row changeRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("failed to decode query row: %w", err)
		}
		if row.Type == "stats" || row.Type == "error" {
			continue
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Number < rows[j].Number })
	return rows, nil
}

func links(deps []dependency) []change.Link {
	if len(deps) == 0 {
		return nil
	}
	result := make([]change.Link, 0, len(deps))
	for _, d := range deps {
		result = append(result, change.Link{ID: d.ID, Number: int(d.Number), Revision: d.Revision})
	}
	return result
}

// normalize converts a query row into a change. Scores are the maxima over the current
// patch set approvals, or 0/0 when there are none.
func normalize(row changeRow) *change.Change {
	c := &change.Change{
		UUID:          row.ID,
		Number:        int(row.Number),
		Branch:        row.Branch,
		Project:       row.Project,
		RemoteStatus:  change.ParseRemoteStatus(row.Status),
		Topic:         row.Topic,
		URL:           row.URL,
		CommitMessage: row.CommitMessage,
		DependsOn:     links(row.DependsOn),
		NeededBy:      links(row.NeededBy),
	}

	for _, cm := range row.Comments {
		c.Comments = append(c.Comments, change.Comment{
			Author:    cm.Reviewer.String(),
			Timestamp: cm.Timestamp,
			Message:   cm.Message,
		})
	}

	ps := row.CurrentPatchSet
	if ps == nil {
		return c
	}
	c.Revision = ps.Revision
	c.PatchsetNumber = int(ps.Number)
	c.Parents = ps.Parents
	if len(ps.Parents) > 0 {
		c.Parent = ps.Parents[0]
	}

	if len(ps.Approvals) > 0 {
		codeReview, verified := -2, -1
		for _, a := range ps.Approvals {
			switch a.Type {
			case "Code-Review":
				codeReview = max(codeReview, int(a.Value))
			case "Verified":
				verified = max(verified, int(a.Value))
			}
		}
		c.CodeReview, c.Verified = codeReview, verified
	}
	return c
}

// reviewInput is the JSON document accepted by `gerrit review --json`
type reviewInput struct {
	Message string         `json:"message"`
	Labels  map[string]int `json:"labels"`
}

func newReviewInput(message string, scores change.Scores) reviewInput {
	input := reviewInput{Message: message, Labels: map[string]int{}}
	if scores.CodeReview != nil {
		input.Labels["Code-Review"] = *scores.CodeReview
	}
	if scores.Verified != nil {
		input.Labels["Verified"] = *scores.Verified
	}
	return input
}
