// Package codedrop watches AI chat tabs for code blocks tagged with a
// filename marker, waits until each block stops changing, and submits it
// exactly once to a local backend.
//
// The Daemon attaches to Chrome, runs one observer and one engine per
// watched tab (session), and keeps per-session state in SQLite so that
// re-scans and restarts never resend a block. Outcomes are emitted to
// sinks (stdout, webhook, callback).
package codedrop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/codedrop/block"
	"github.com/hazyhaar/codedrop/internal/browser"
	"github.com/hazyhaar/codedrop/internal/config"
	"github.com/hazyhaar/codedrop/internal/engine"
	"github.com/hazyhaar/codedrop/internal/observer"
	"github.com/hazyhaar/codedrop/internal/sink"
	"github.com/hazyhaar/codedrop/internal/store"
	"github.com/hazyhaar/codedrop/internal/submit"
)

// SessionInfo describes one watched tab.
type SessionInfo struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
	Port  int    `json:"port"`
}

type session struct {
	tab    *browser.Tab
	host   *browser.Host
	obs    *observer.Observer
	eng    *engine.Engine
	cancel context.CancelFunc
	done   chan struct{}
}

// Daemon is the top-level orchestrator. Create one per codedrop instance.
type Daemon struct {
	cfg     *Config
	store   *store.Store
	client  *submit.Client
	svc     *Service
	mgr     *browser.Manager
	matcher *browser.Matcher
	sinkR   sink.Sink
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New opens the store and prepares a Daemon. The caller must blank-import
// the SQLite driver (modernc.org/sqlite).
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) (*Daemon, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.DBPath, store.WithDefaultPort(cfg.Submit.DefaultPort))
	if err != nil {
		return nil, fmt.Errorf("codedrop: %w", err)
	}

	client := newClient(cfg, logger)
	return &Daemon{
		cfg:    cfg,
		store:  st,
		client: client,
		svc:    NewService(st, client, logger),
		mgr: browser.NewManager(browser.Config{
			RemoteURL: cfg.Browser.Remote,
			Headless:  cfg.Browser.Headless,
			Stealth:   cfg.Browser.StealthEnabled(),
			Logger:    logger,
		}),
		matcher:  browser.NewMatcher(cfg.Attach),
		sinkR:    sink.NewAsync(sink.NewRouter(logger, sinks...), 0, logger),
		logger:   logger,
		sessions: make(map[string]*session),
	}, nil
}

func newClient(cfg *Config, logger *slog.Logger) *submit.Client {
	return submit.New(
		submit.WithHost(cfg.Submit.Host),
		submit.WithTimeout(cfg.Submit.Timeout),
		submit.WithSubmitPath(cfg.Submit.SubmitPath),
		submit.WithStatusPath(cfg.Submit.StatusPath),
		submit.WithLogger(logger),
	)
}

// Service returns the request/response contract backed by this daemon's
// store.
func (d *Daemon) Service() *Service { return d.svc }

// Start connects to Chrome, ends stored sessions whose tab is gone, opens
// the configured pages, attaches to matching tabs and starts the
// discovery and settings loops.
func (d *Daemon) Start(ctx context.Context) error {
	if _, err := d.mgr.Start(ctx); err != nil {
		return fmt.Errorf("codedrop: start browser: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	targets, err := d.mgr.Targets(ctx)
	if err != nil {
		d.logger.Warn("codedrop: list tabs failed", "error", err)
	} else {
		live := make([]string, len(targets))
		for i, t := range targets {
			live[i] = t.ID
		}
		ended, err := d.store.PruneSessions(ctx, live)
		if err != nil {
			d.logger.Warn("codedrop: prune sessions failed", "error", err)
		}
		if len(ended) > 0 {
			d.logger.Info("codedrop: pruned stale sessions", "count", len(ended))
		}
	}

	for _, p := range d.cfg.Pages {
		tab, err := d.mgr.OpenTab(ctx, p.URL, p.ID)
		if err != nil {
			d.logger.Error("codedrop: open page failed", "page", p.ID, "url", p.URL, "error", err)
			continue
		}
		if err := d.attach(ctx, tab); err != nil {
			d.logger.Error("codedrop: attach page failed", "page", p.ID, "error", err)
		}
	}

	d.discover(ctx)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.discoverLoop(ctx)
	}()
	go func() {
		defer d.wg.Done()
		w := config.NewWatcher(d.store.SettingsVersion, config.WatchOptions{
			Interval: d.cfg.Settings.PollInterval,
			Debounce: d.cfg.Settings.Debounce,
			Logger:   d.logger,
		})
		w.OnChange(ctx, func() error {
			d.RescanAll()
			return nil
		})
	}()

	d.logger.Info("codedrop: started", "sessions", len(d.Sessions()))
	return nil
}

// Stop detaches every session, closes Chrome (when launched locally), the
// sinks and the store. Sessions are not ended: their tabs are still open
// and the next Start picks them up again.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	for _, id := range ids {
		d.detach(id, false)
	}

	var errs []error
	if err := d.mgr.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.sinkR.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.store.Close(); err != nil {
		errs = append(errs, err)
	}
	d.logger.Info("codedrop: stopped")
	return errors.Join(errs...)
}

// Sessions lists the watched tabs, sorted by id.
func (d *Daemon) Sessions() []SessionInfo {
	d.mu.Lock()
	out := make([]SessionInfo, 0, len(d.sessions))
	for id, s := range d.sessions {
		out = append(out, SessionInfo{ID: id, URL: s.tab.PageURL, Label: s.tab.Label})
	}
	d.mu.Unlock()

	for i := range out {
		out[i].Port, _ = d.store.Port(context.Background(), out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RescanAll asks every session to re-evaluate its document.
func (d *Daemon) RescanAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		s.eng.Rescan()
	}
}

// Rescan asks the session id, if watched, to re-evaluate its document.
func (d *Daemon) Rescan(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[id]; ok {
		s.eng.Rescan()
	}
}

// EndSession detaches the tab of id, if watched, and deletes its state.
func (d *Daemon) EndSession(ctx context.Context, id string) *SuccessResponse {
	d.detach(id, false)
	return d.svc.EndSession(ctx, id)
}

func (d *Daemon) attach(ctx context.Context, tab *browser.Tab) error {
	d.mu.Lock()
	_, exists := d.sessions[tab.ID]
	d.mu.Unlock()
	if exists {
		return nil
	}

	logger := d.logger.With("session", tab.ID)
	host := browser.NewHost(tab, d.cfg.Watch.ContainerSelector)
	if err := host.Install(ctx); err != nil {
		logger.Warn("codedrop: install stylesheet failed", "error", err)
	}

	eng, err := engine.New(engine.Config{
		Session:   tab.ID,
		Host:      host,
		Store:     d.store,
		Submitter: d.client,
		Sink:      d.sinkR,
		Marker:    block.Marker(d.cfg.Marker),
		Delay:     d.cfg.Stabilize.Delay,
		Logger:    d.logger,
	})
	if err != nil {
		return err
	}
	obs, err := observer.New(observer.Config{
		Tab:          tab,
		RootSelector: d.cfg.Watch.RootSelector,
		Container:    d.cfg.Watch.ContainerSelector,
		Window:       d.cfg.Watch.Window,
		MaxBuffer:    d.cfg.Watch.MaxBuffer,
		OnRescan:     eng.Rescan,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	// Create the session with its default port on first sight.
	if _, err := d.store.Port(ctx, tab.ID); err != nil {
		logger.Warn("codedrop: create session failed", "error", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{tab: tab, host: host, obs: obs, eng: eng, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		eng.Run(sctx)
	}()
	if err := obs.Start(sctx); err != nil {
		cancel()
		<-s.done
		host.Close()
		return fmt.Errorf("codedrop: start observer: %w", err)
	}

	d.mu.Lock()
	d.sessions[tab.ID] = s
	d.mu.Unlock()
	logger.Info("codedrop: session attached", "url", tab.PageURL, "label", tab.Label)
	return nil
}

// detach stops watching id. With end set, the session's stored state is
// deleted as well.
func (d *Daemon) detach(id string, end bool) {
	d.mu.Lock()
	s, ok := d.sessions[id]
	delete(d.sessions, id)
	d.mu.Unlock()

	if ok {
		s.obs.Stop()
		s.cancel()
		<-s.done
		if err := s.host.Close(); err != nil {
			d.logger.Debug("codedrop: remove stylesheet failed", "session", id, "error", err)
		}
		d.logger.Info("codedrop: session detached", "session", id)
	}
	if end {
		// The tab is gone: best effort, bounded.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.svc.EndSession(ctx, id)
	}
}

func (d *Daemon) discoverLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Browser.DiscoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.discover(ctx)
		}
	}
}

// discover attaches to new matching tabs and ends sessions whose tab
// closed.
func (d *Daemon) discover(ctx context.Context) {
	targets, err := d.mgr.Targets(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("codedrop: list tabs failed", "error", err)
		}
		return
	}

	live := make(map[string]bool, len(targets))
	for _, t := range targets {
		live[t.ID] = true
	}

	d.mu.Lock()
	var gone []string
	for id := range d.sessions {
		if !live[id] {
			gone = append(gone, id)
		}
	}
	tracked := make(map[string]bool, len(d.sessions))
	for id := range d.sessions {
		tracked[id] = true
	}
	d.mu.Unlock()

	for _, id := range gone {
		d.logger.Info("codedrop: tab closed", "session", id)
		d.detach(id, true)
	}

	for _, t := range targets {
		if tracked[t.ID] || !d.matcher.Match(t.URL) {
			continue
		}
		tab, err := d.mgr.AttachTab(t)
		if err != nil {
			d.logger.Warn("codedrop: attach tab failed", "target", t.ID, "url", t.URL, "error", err)
			continue
		}
		if err := d.attach(ctx, tab); err != nil {
			d.logger.Warn("codedrop: watch tab failed", "target", t.ID, "error", err)
		}
	}
}
