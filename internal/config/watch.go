package config

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// VersionFunc reads a token that changes whenever stored settings change.
type VersionFunc func(ctx context.Context) (int64, error)

// WatchOptions tunes the settings watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action
	// fires. 0 fires immediately.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// WatchStats are point-in-time counters.
type WatchStats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Reloads int64 `json:"reloads"`
}

// Watcher polls a settings version and runs an action when it moves.
// Another process (the CLI flipping activation, for instance) writes the
// database; the daemon picks the change up here.
type Watcher struct {
	version VersionFunc
	opts    WatchOptions

	current atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// NewWatcher creates a Watcher. Call OnChange to start the loop.
func NewWatcher(version VersionFunc, opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{version: version, opts: opts}
}

// Version returns the last version the action succeeded for.
func (w *Watcher) Version() int64 { return w.current.Load() }

// Stats returns the current counters.
func (w *Watcher) Stats() WatchStats {
	return WatchStats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
}

// OnChange blocks until ctx is cancelled. When the version moves and the
// debounce window passes without further movement, action is called. If
// action fails the version is not advanced and the change is retried on
// the next poll.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if v, err := w.version(ctx); err != nil {
		log.Warn("config: initial settings version failed", "error", err)
	} else {
		w.current.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.version(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("config: settings version failed", "error", err)
				continue
			}
			if cur == w.current.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur

			if w.opts.Debounce <= 0 {
				w.fire(action, pending)
				pending = -1
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.opts.Debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				w.fire(action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(action func() error, ver int64) {
	if err := action(); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("config: settings reload failed", "error", err, "version", ver)
		return
	}
	w.reloads.Add(1)
	w.current.Store(ver)
	w.opts.Logger.Info("config: settings changed", "version", ver)
}
