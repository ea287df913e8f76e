// Package document defines the narrow capability codedrop needs from the
// live page it watches: enumerate candidate code blocks, re-read the text
// of one block by handle, and apply or remove a small set of visual state
// tags. The page owns its nodes; codedrop only holds opaque handles.
package document

import "context"

// Handle is an opaque, stable reference to one block element in the host
// document. Handles are assigned by the host and survive text changes of
// the element they designate.
type Handle string

// Candidate is one code block found during a scan.
type Candidate struct {
	Handle Handle
	Text   string
}

// State is a visual state tag. The empty State removes any tag.
type State string

const (
	StateNone       State = ""
	StatePending    State = "pending"    // marked block waiting to stabilize
	StateSubmitting State = "submitting" // submission in flight
	StateSuccess    State = "success"    // terminal: sent
	StateError      State = "error"      // terminal: error
)

// Host is the live document seen by one session.
type Host interface {
	// Candidates returns every block currently matching the container
	// selector, in document order.
	Candidates(ctx context.Context) ([]Candidate, error)
	// Text re-reads the text of h. ok is false when the element is gone.
	Text(ctx context.Context, h Handle) (text string, ok bool, err error)
	// SetState replaces the visual state tag of h.
	SetState(ctx context.Context, h Handle, s State) error
	// RenderOutput replaces the output panel attached to h with the given
	// sanitized HTML fragment. An empty fragment removes the panel.
	RenderOutput(ctx context.Context, h Handle, fragment string) error
}
