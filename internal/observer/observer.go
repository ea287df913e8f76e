// Package observer watches one tab for changes that can affect its code
// blocks and turns bursts of them into debounced rescan requests.
//
// An injected MutationObserver reports child list and character data
// changes through a CDP binding. Attribute changes are not observed: the
// visual cues codedrop applies are attributes, and observing them would
// make every repaint trigger a rescan.
package observer

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/codedrop/internal/browser"
)

//go:embed observer.js
var observerJS string

const bindingName = "__codedrop_binding"

// Config for creating an Observer.
type Config struct {
	Tab *browser.Tab

	// RootSelector is the subtree observed. Default: "body".
	RootSelector string
	// Container is the simple selector of block elements. Default: "pre".
	Container string

	Window    time.Duration // debounce window, default 300ms
	MaxBuffer int           // default 500

	// OnRescan is called once per debounced burst of relevant changes.
	OnRescan func()

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.RootSelector == "" {
		c.RootSelector = "body"
	}
	if c.Container == "" {
		c.Container = "pre"
	}
	if c.OnRescan == nil {
		c.OnRescan = func() {}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Observer manages change observation for a single tab.
type Observer struct {
	cfg    Config
	rel    *Relevance
	logger *slog.Logger

	rawCh     chan Record
	debouncer *debouncer

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	removeJS  func() error
	relevant  uint64
	discarded uint64
}

// New creates an Observer. It fails on an unsupported container selector.
func New(cfg Config) (*Observer, error) {
	cfg.defaults()
	rel, err := NewRelevance(cfg.Container)
	if err != nil {
		return nil, err
	}
	o := &Observer{
		cfg:    cfg,
		rel:    rel,
		logger: cfg.Logger,
		rawCh:  make(chan Record, 4096),
	}
	o.debouncer = newDebouncer(debounceConfig{
		Window:    cfg.Window,
		MaxBuffer: cfg.MaxBuffer,
	}, o.onFlush)
	return o, nil
}

// Start injects the MutationObserver into the tab (now and on every
// future document) and runs the processing loop until Stop or ctx ends.
func (o *Observer) Start(ctx context.Context) error {
	if o.cfg.Tab == nil || o.cfg.Tab.Page == nil {
		return fmt.Errorf("observer: no tab")
	}
	ctx, cancel := context.WithCancel(ctx)

	// Subscribe before injecting so the first batch is not lost.
	wait := o.listenBinding(ctx)
	if err := o.inject(ctx); err != nil {
		cancel()
		return fmt.Errorf("observer: inject JS: %w", err)
	}

	o.mu.Lock()
	o.cancel = cancel
	o.done = make(chan struct{})
	o.mu.Unlock()

	go wait()
	go func() {
		defer close(o.done)
		o.loop(ctx)
	}()
	return nil
}

// Stop ends observation and removes the injected script from future
// documents. The observer already running in the page stays inert: its
// binding calls are no longer read.
func (o *Observer) Stop() {
	o.mu.Lock()
	cancel, done, remove := o.cancel, o.done, o.removeJS
	o.cancel, o.removeJS = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if remove != nil {
		if err := remove(); err != nil {
			o.logger.Debug("observer: remove new-document script failed", "error", err)
		}
	}
}

func (o *Observer) script() (string, error) {
	cfg, err := json.Marshal(map[string]any{
		"binding":   bindingName,
		"root":      o.cfg.RootSelector,
		"container": o.rel.container.String(),
	})
	if err != nil {
		return "", err
	}
	return "window.__codedrop_cfg = " + string(cfg) + ";\n" + observerJS, nil
}

func (o *Observer) inject(ctx context.Context) error {
	page := o.cfg.Tab.Page.Context(ctx)

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		o.logger.Warn("observer: addBinding failed (may already exist)", "error", err)
	}

	js, err := o.script()
	if err != nil {
		return err
	}

	// Registered without ctx: Stop calls remove after cancelling it.
	remove, err := o.cfg.Tab.Page.EvalOnNewDocument(js)
	if err != nil {
		return fmt.Errorf("register new-document script: %w", err)
	}
	o.mu.Lock()
	o.removeJS = remove
	o.mu.Unlock()

	if _, err := (proto.RuntimeEvaluate{Expression: js}).Call(page); err != nil {
		return fmt.Errorf("evaluate observer: %w", err)
	}
	o.logger.Debug("observer: JS injected", "tab", o.cfg.Tab.ID, "url", o.cfg.Tab.PageURL)
	return nil
}

// listenBinding subscribes to Runtime.bindingCalled. The returned wait
// function delivers batches until ctx ends.
func (o *Observer) listenBinding(ctx context.Context) func() {
	page := o.cfg.Tab.Page.Context(ctx)
	return page.EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var recs []Record
		if err := json.Unmarshal([]byte(e.Payload), &recs); err != nil {
			o.logger.Warn("observer: parse binding payload", "error", err)
			return
		}
		for _, rec := range recs {
			select {
			case o.rawCh <- rec:
			case <-ctx.Done():
				return
			}
		}
	})
}

// loop filters records and feeds the debouncer.
func (o *Observer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.debouncer.flush()
			return

		case rec := <-o.rawCh:
			if !o.rel.Relevant(rec) {
				o.discarded++
				continue
			}
			o.relevant++
			o.debouncer.add()

		case <-o.debouncer.timerC():
			o.debouncer.flush()
		}
	}
}

func (o *Observer) onFlush(n int) {
	o.logger.Debug("observer: rescan", "changes", n, "relevant_total", o.relevant, "discarded_total", o.discarded)
	o.cfg.OnRescan()
}
