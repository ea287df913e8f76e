// Package block defines the identity and lifecycle types shared by every
// codedrop component: the content fingerprint, the filename marker that
// flags a code block for submission, and the per-block submission status.
//
// These are the public API contract. The engine, the stores and any
// external consumer (CLI, MCP tools, outcome sinks) speak in these types.
package block

import "fmt"

// Status is the submission state of one block content (one fingerprint)
// within one session.
type Status string

const (
	StatusAbsent  Status = "absent"  // never attempted, or reset after marker loss
	StatusPending Status = "pending" // submission started, outcome unknown
	StatusSent    Status = "sent"    // backend accepted the block (terminal)
	StatusError   Status = "error"   // submission failed (terminal)
)

// IsTerminal reports whether s is absorbing: once reached for a
// fingerprint, that exact content is never submitted again.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusError
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAbsent, StatusPending, StatusSent, StatusError:
		return true
	}
	return false
}

// ParseStatus converts a wire value into a Status. The empty string maps
// to StatusAbsent.
func ParseStatus(v string) (Status, error) {
	if v == "" {
		return StatusAbsent, nil
	}
	s := Status(v)
	if !s.Valid() {
		return StatusAbsent, fmt.Errorf("block: unknown status %q", v)
	}
	return s, nil
}

// CanTransition reports whether moving from -> to is allowed.
// Terminal statuses only accept themselves. pending may fall back to
// absent when the marker disappears before the submission is sent.
//
// absent -> sent and absent -> error are accepted for external callers
// marking content as already handled. The engine never takes them: it
// always records pending before a terminal status.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return from == to
	}
	return to.Valid()
}
