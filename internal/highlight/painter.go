// Package highlight applies the visual cues of the submission lifecycle to
// blocks of the live document and renders backend output under them.
//
// Cosmetic only: host failures are logged and never propagate to the
// engine, so a page that refuses a class change cannot stall submissions.
package highlight

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/codedrop/block"
	"github.com/hazyhaar/codedrop/internal/document"
	"github.com/hazyhaar/codedrop/internal/submit"
)

// Painter maps lifecycle steps to document visual states.
type Painter struct {
	host   document.Host
	logger *slog.Logger
}

// New creates a Painter drawing on host.
func New(host document.Host, logger *slog.Logger) *Painter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Painter{host: host, logger: logger}
}

// Pending marks h as waiting for its text to stabilize.
func (p *Painter) Pending(ctx context.Context, h document.Handle) {
	p.set(ctx, h, document.StatePending)
}

// Submitting marks h as being sent.
func (p *Painter) Submitting(ctx context.Context, h document.Handle) {
	p.set(ctx, h, document.StateSubmitting)
}

// Clear removes every transient cue and the output panel of h.
func (p *Painter) Clear(ctx context.Context, h document.Handle) {
	p.set(ctx, h, document.StateNone)
	if err := p.host.RenderOutput(ctx, h, ""); err != nil {
		p.logger.Debug("highlight: clear output failed", "handle", h, "error", err)
	}
}

// Terminal replaces any transient cue of h with the cue of a terminal
// status. Non-terminal statuses clear the block.
func (p *Painter) Terminal(ctx context.Context, h document.Handle, st block.Status) {
	switch st {
	case block.StatusSent:
		p.set(ctx, h, document.StateSuccess)
	case block.StatusError:
		p.set(ctx, h, document.StateError)
	default:
		p.Clear(ctx, h)
	}
}

// Outcome applies the cue of a finished submission and renders its output.
func (p *Painter) Outcome(ctx context.Context, h document.Handle, st block.Status, res *submit.Result, note string) {
	p.Terminal(ctx, h, st)
	if err := p.host.RenderOutput(ctx, h, RenderOutput(res, note)); err != nil {
		p.logger.Warn("highlight: render output failed", "handle", h, "error", err)
	}
}

func (p *Painter) set(ctx context.Context, h document.Handle, s document.State) {
	if err := p.host.SetState(ctx, h, s); err != nil {
		p.logger.Debug("highlight: set state failed", "handle", h, "state", s, "error", err)
	}
}
