package recombination

import (
	"fmt"
)

// RemoteFetchError reports a remote that could not be synchronized; the project is skipped
type RemoteFetchError struct {
	Remote string
	Err    error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("failed to fetch remote %s: %v", e.Remote, e.Err)
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

// UploadError reports a push for review that produced no change; retried next cycle
type UploadError struct {
	Branch string
	Topic  string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s with topic %s failed: %v", e.Branch, e.Topic, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// DecodeError reports commit-message metadata that cannot be parsed
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid recombination metadata: %s: %v", e.Reason, e.Err)
	}
	return "invalid recombination metadata: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// MergeError reports a branch advancement that is not a fast-forward
type MergeError struct {
	Ref      string
	From, To string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("cannot advance %s from %s to %s: not a fast-forward", e.Ref, e.From, e.To)
}

// PushError reports a failed push during branch advancement
type PushError struct {
	Ref string
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("failed to push %s: %v", e.Ref, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// CanceledError signals a stale record to be dropped and rebuilt from scratch
type CanceledError struct {
	ID string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("recombination %s canceled: abandoned without discard", e.ID)
}
