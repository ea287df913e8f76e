// Package engine turns a noisy stream of document changes into exactly one
// submission per stabilized, marked block content.
//
// One Engine serves one session. Rescans, timer expirations and
// submission completions are processed by a single goroutine (Run), so the
// timer registry and the in-flight set need no locking. Every resumption
// point (fire, completion) re-validates against the document and the
// status store instead of trusting what was seen when the work was
// scheduled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/codedrop/block"
	"github.com/hazyhaar/codedrop/internal/document"
	"github.com/hazyhaar/codedrop/internal/highlight"
	"github.com/hazyhaar/codedrop/internal/sink"
	"github.com/hazyhaar/codedrop/internal/store"
	"github.com/hazyhaar/codedrop/internal/submit"
)

// DefaultDelay is the quiet period a marked block must observe before it
// is submitted.
const DefaultDelay = 2500 * time.Millisecond

// Store is the subset of the durable stores the engine needs.
type Store interface {
	BlockStatus(ctx context.Context, session, fingerprint string) (block.Status, error)
	SetBlockStatus(ctx context.Context, session, fingerprint string, status block.Status, filename string) error
	Port(ctx context.Context, session string) (int, error)
	Activation(ctx context.Context) (bool, error)
}

// Submitter sends one block to the backend.
type Submitter interface {
	Submit(ctx context.Context, port int, code string) (*submit.Result, error)
}

// Config configures an Engine.
type Config struct {
	Session   string
	Host      document.Host
	Store     Store
	Submitter Submitter

	// Sink receives one event per terminal outcome. Optional.
	Sink sink.Sink

	Marker block.Marker  // default: block.DefaultMarker
	Delay  time.Duration // default: DefaultDelay
	Clock  Clock         // default: RealClock
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Marker == "" {
		c.Marker = block.DefaultMarker
	}
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.Clock == nil {
		c.Clock = RealClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type fireEvent struct {
	handle document.Handle
	gen    uint64
}

type outcome struct {
	handle   document.Handle
	fp       string
	filename string
	res      *submit.Result
	err      error
}

type armed struct {
	timer Timer
	gen   uint64
	fp    string // fingerprint of the text the timer was armed for
}

// Engine is the per-session stabilization scheduler and submission
// orchestrator.
type Engine struct {
	cfg     Config
	painter *highlight.Painter
	logger  *slog.Logger

	rescanCh chan struct{}
	fireCh   chan fireEvent
	doneCh   chan outcome
	stopped  chan struct{}

	// Owned by the loop goroutine.
	timers   map[document.Handle]*armed
	gen      uint64
	inflight map[string]document.Handle // fingerprint -> handle
	overlay  map[string]block.Status    // terminal outcomes the store failed to record
}

// New creates an Engine. It does nothing until Run is called.
func New(cfg Config) (*Engine, error) {
	if !store.ValidSession(cfg.Session) {
		return nil, fmt.Errorf("engine: %w", store.ErrInvalidSession)
	}
	if cfg.Host == nil || cfg.Store == nil || cfg.Submitter == nil {
		return nil, errors.New("engine: host, store and submitter are required")
	}
	cfg.defaults()
	logger := cfg.Logger.With("session", cfg.Session)
	return &Engine{
		cfg:      cfg,
		painter:  highlight.New(cfg.Host, logger),
		logger:   logger,
		rescanCh: make(chan struct{}, 1),
		fireCh:   make(chan fireEvent, 64),
		doneCh:   make(chan outcome, 16),
		stopped:  make(chan struct{}),
		timers:   make(map[document.Handle]*armed),
		inflight: make(map[string]document.Handle),
		overlay:  make(map[string]block.Status),
	}, nil
}

// Session returns the session this engine serves.
func (e *Engine) Session() string { return e.cfg.Session }

// Rescan requests a full re-evaluation of the document. Requests made
// while one is already queued are coalesced. Safe for concurrent use.
func (e *Engine) Rescan() {
	select {
	case e.rescanCh <- struct{}{}:
	default:
	}
}

// Run processes rescans, timer expirations and submission outcomes until
// ctx is cancelled. It performs an initial scan. On return all timers are
// stopped and submissions already sent have been recorded.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	e.logger.Info("engine: started")
	e.rescan(ctx)

	for {
		select {
		case <-ctx.Done():
			e.shutdown(context.WithoutCancel(ctx))
			e.logger.Info("engine: stopped")
			return nil
		case <-e.rescanCh:
			e.rescan(ctx)
		case ev := <-e.fireCh:
			e.fire(ctx, ev)
		case o := <-e.doneCh:
			e.complete(ctx, o)
		}
	}
}

// shutdown stops every timer and waits for in-flight submissions so their
// outcome reaches the store.
func (e *Engine) shutdown(ctx context.Context) {
	for h := range e.timers {
		e.cancel(h)
	}
	for len(e.inflight) > 0 {
		e.complete(ctx, <-e.doneCh)
	}
}

// rescan evaluates every candidate in document order.
func (e *Engine) rescan(ctx context.Context) {
	active, err := e.cfg.Store.Activation(ctx)
	if err != nil {
		e.logger.Warn("engine: read activation failed", "error", err)
	}

	cands, err := e.cfg.Host.Candidates(ctx)
	if err != nil {
		e.logger.Warn("engine: list candidates failed", "error", err)
		return
	}

	seen := make(map[document.Handle]struct{}, len(cands))
	for _, c := range cands {
		seen[c.Handle] = struct{}{}
		e.evaluate(ctx, c, active)
	}

	for h := range e.timers {
		if _, ok := seen[h]; !ok {
			e.cancel(h)
			e.logger.Debug("engine: element gone, timer cancelled", "handle", h)
		}
	}
}

func (e *Engine) evaluate(ctx context.Context, c document.Candidate, active bool) {
	fp := block.Fingerprint(c.Text)

	if st := e.status(ctx, fp); st.IsTerminal() {
		e.cancel(c.Handle)
		e.painter.Terminal(ctx, c.Handle, st)
		return
	}
	if _, busy := e.inflight[fp]; busy {
		e.cancel(c.Handle)
		return
	}
	if !active || !e.cfg.Marker.Present(c.Text) {
		e.cancel(c.Handle)
		e.painter.Clear(ctx, c.Handle)
		return
	}

	// Rescans are document-wide: an unchanged block keeps its deadline
	// while other blocks are still streaming.
	if a, ok := e.timers[c.Handle]; !ok || a.fp != fp {
		e.schedule(c.Handle, fp)
	}
	e.painter.Pending(ctx, c.Handle)
}

// schedule replaces the timer of h with a fresh one armed for fp.
func (e *Engine) schedule(h document.Handle, fp string) {
	e.cancel(h)
	e.gen++
	ev := fireEvent{handle: h, gen: e.gen}
	t := e.cfg.Clock.AfterFunc(e.cfg.Delay, func() {
		select {
		case e.fireCh <- ev:
		case <-e.stopped:
		}
	})
	e.timers[h] = &armed{timer: t, gen: ev.gen, fp: fp}
}

// cancel stops and forgets the timer of h. It reports whether one existed.
func (e *Engine) cancel(h document.Handle) bool {
	a, ok := e.timers[h]
	if !ok {
		return false
	}
	a.timer.Stop()
	delete(e.timers, h)
	return true
}

// status returns the known status of fp, failing open to absent.
func (e *Engine) status(ctx context.Context, fp string) block.Status {
	if st, ok := e.overlay[fp]; ok {
		return st
	}
	st, err := e.cfg.Store.BlockStatus(ctx, e.cfg.Session, fp)
	if err != nil {
		e.logger.Warn("engine: read status failed, assuming absent", "fingerprint", fp, "error", err)
		return block.StatusAbsent
	}
	return st
}

// fire runs when the timer of ev.handle expires without being reset.
func (e *Engine) fire(ctx context.Context, ev fireEvent) {
	a, ok := e.timers[ev.handle]
	if !ok || a.gen != ev.gen {
		return // superseded by a later reset or cancelled
	}
	delete(e.timers, ev.handle)
	h := ev.handle

	text, ok, err := e.cfg.Host.Text(ctx, h)
	if err != nil {
		e.logger.Warn("engine: re-read text failed", "handle", h, "error", err)
		return
	}
	if !ok {
		e.logger.Debug("engine: element gone before fire", "handle", h)
		return
	}

	fp := block.Fingerprint(text)
	if st := e.status(ctx, fp); st.IsTerminal() {
		e.painter.Terminal(ctx, h, st)
		return
	}
	if _, busy := e.inflight[fp]; busy {
		return
	}

	filename, marked := e.cfg.Marker.Parse(text)
	if !marked {
		e.painter.Clear(ctx, h)
		if err := e.cfg.Store.SetBlockStatus(ctx, e.cfg.Session, fp, block.StatusAbsent, ""); err != nil {
			e.logger.Warn("engine: reset status failed", "fingerprint", fp, "error", err)
		}
		return
	}

	active, err := e.cfg.Store.Activation(ctx)
	if err != nil {
		e.logger.Warn("engine: read activation failed", "error", err)
	}
	if !active {
		e.painter.Clear(ctx, h)
		return
	}

	port, err := e.cfg.Store.Port(ctx, e.cfg.Session)
	if err != nil {
		e.logger.Warn("engine: read port failed, using default", "port", port, "error", err)
	}

	if err := e.cfg.Store.SetBlockStatus(ctx, e.cfg.Session, fp, block.StatusPending, filename); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			e.painter.Terminal(ctx, h, e.status(ctx, fp))
			return
		}
		e.logger.Error("engine: mark pending failed, not submitting", "fingerprint", fp, "error", err)
		e.painter.Outcome(ctx, h, block.StatusError, &submit.Result{Details: submit.Details{
			Status:  "error",
			Message: "status store unavailable: " + err.Error(),
		}}, "")
		return
	}

	e.inflight[fp] = h
	e.painter.Submitting(ctx, h)
	e.logger.Info("engine: submitting block", "handle", h, "fingerprint", fp, "filename", filename, "port", port)

	sctx := context.WithoutCancel(ctx)
	go func() {
		res, err := e.cfg.Submitter.Submit(sctx, port, text)
		e.doneCh <- outcome{handle: h, fp: fp, filename: filename, res: res, err: err}
	}()
}

// complete records a finished submission, then paints it.
func (e *Engine) complete(ctx context.Context, o outcome) {
	delete(e.inflight, o.fp)

	res := o.res
	if res == nil {
		res = &submit.Result{}
	}
	st := block.StatusSent
	if o.err != nil {
		st = block.StatusError
		if res.Details.Message == "" {
			res.Details.Status = "error"
			res.Details.Message = o.err.Error()
		}
		e.logger.Warn("engine: submission failed", "handle", o.handle, "fingerprint", o.fp, "error", o.err)
	} else {
		e.logger.Info("engine: submission accepted", "handle", o.handle, "fingerprint", o.fp, "filename", o.filename)
	}

	var note string
	if err := e.cfg.Store.SetBlockStatus(ctx, e.cfg.Session, o.fp, st, o.filename); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			st = e.status(ctx, o.fp)
		} else {
			e.logger.Error("engine: record outcome failed", "fingerprint", o.fp, "status", st, "error", err)
			e.overlay[o.fp] = st
			note = "status not recorded: " + err.Error()
		}
	}

	e.painter.Outcome(ctx, o.handle, st, res, note)
	// Other elements holding the same content were skipped while this
	// one was in flight; repaint them from the recorded status.
	e.Rescan()

	if e.cfg.Sink == nil {
		return
	}
	ev := sink.NewEvent(e.cfg.Session, string(o.handle), o.fp, o.filename, st)
	ev.Message = res.Details.Message
	ev.HTTPStatus = res.HTTPStatus
	if err := e.cfg.Sink.Send(ctx, ev); err != nil {
		e.logger.Warn("engine: emit outcome failed", "error", err)
	}
}
