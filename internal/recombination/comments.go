package recombination

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alan/recombine/internal/change"
)

// RequestType is a command a reviewer can issue in a comment
type RequestType string

// RequestDiscard abandons the recombination for good
const RequestDiscard RequestType = "DISCARD"

// RequestOutcome tracks whether a request has been served
type RequestOutcome string

const (
	OutcomeOpen      RequestOutcome = "open"
	OutcomeCompleted RequestOutcome = "completed"
)

var commands = map[string]RequestType{
	string(RequestDiscard): RequestDiscard,
}

// Request is a user command read from a review comment
type Request struct {
	Type    RequestType
	Outcome RequestOutcome
}

var patchSetPreamble = regexp.MustCompile(`^Patch Set \d+:[^\n]*(\n+|$)`)

// StripPreamble removes the "Patch Set N:" line the review system prefixes to comments
func StripPreamble(message string) string {
	return strings.TrimSpace(patchSetPreamble.ReplaceAllString(strings.TrimSpace(message), ""))
}

type userRequest struct {
	CommentID string         `yaml:"comment-id"`
	Type      RequestType    `yaml:"type,omitempty"`
	Outcome   RequestOutcome `yaml:"outcome"`
}

// acknowledgement is the document posted when a request is served
type acknowledgement struct {
	UserRequest userRequest `yaml:"user-request"`
	Status      Status      `yaml:"recombine-status,omitempty"`
}

// AnalyzeComments replays the backport comments in order. Structured comments merge into the
// metadata; plain comments are scanned line by line for commands.
func (r *Recombination) AnalyzeComments() {
	if r.Backport == nil {
		return
	}
	for _, c := range r.Backport.Comments {
		r.analyzeComment(c)
	}
}

func (r *Recombination) analyzeComment(c change.Comment) {
	text := StripPreamble(c.Message)
	if text == "" {
		return
	}

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(text), &doc); err == nil && len(doc) > 0 {
		r.mergeDocument(doc)
		return
	}

	key := strconv.FormatInt(c.Timestamp, 10)
	for _, line := range strings.Split(text, "\n") {
		requestType, ok := commands[strings.TrimSuffix(line, "\r")]
		if !ok {
			continue
		}
		if _, seen := r.Requests[key]; seen {
			continue
		}
		slog.Info("Recorded user request", "recombination", r.ID, "request", requestType, "comment", key, "author", c.Author)
		r.Requests[key] = &Request{Type: requestType, Outcome: OutcomeOpen}
	}
}

func (r *Recombination) mergeDocument(doc map[string]any) {
	if raw, ok := doc["user-request"].(map[string]any); ok {
		id := fmt.Sprint(raw["comment-id"])
		outcome := RequestOutcome(fmt.Sprint(raw["outcome"]))
		if req, found := r.Requests[id]; found {
			req.Outcome = outcome
		} else if t, ok := raw["type"]; ok {
			r.Requests[id] = &Request{Type: RequestType(fmt.Sprint(t)), Outcome: outcome}
		}
		delete(doc, "user-request")
	}
	if len(doc) == 0 {
		return
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		slog.Warn("Ignoring comment document", "recombination", r.ID, "error", err)
		return
	}
	if err := yaml.Unmarshal(data, r.Metadata); err != nil {
		slog.Warn("Ignoring comment document that does not fit the metadata", "recombination", r.ID, "error", err)
	}
}

// ServeRequests executes every open request once. A completed request is never served again.
func (r *Recombination) ServeRequests(ctx context.Context, reviewer Reviewer) error {
	for _, id := range sortedRequestIDs(r.Requests) {
		req := r.Requests[id]
		if req.Outcome == OutcomeCompleted {
			continue
		}
		switch req.Type {
		case RequestDiscard:
			if err := r.serveDiscard(ctx, reviewer, id); err != nil {
				return fmt.Errorf("failed to serve %s request %s on %s: %w", req.Type, id, r.ID, err)
			}
		default:
			slog.Warn("Unknown request type", "recombination", r.ID, "request", req.Type)
			continue
		}
		req.Outcome = OutcomeCompleted
	}
	return nil
}

func (r *Recombination) serveDiscard(ctx context.Context, reviewer Reviewer, id string) error {
	slog.Info("Discarding recombination on user request", "recombination", r.ID, "comment", id)

	ack, err := yaml.Marshal(acknowledgement{
		UserRequest: userRequest{CommentID: id, Type: RequestDiscard, Outcome: OutcomeCompleted},
		Status:      StatusDiscarded,
	})
	if err != nil {
		return err
	}
	if err := reviewer.Comment(ctx, r.Backport, string(ack), change.Scores{CodeReview: change.Score(-2)}); err != nil {
		return err
	}
	r.Metadata.Status = StatusDiscarded
	return AbandonChange(ctx, reviewer, r.Backport)
}
