package observer

import "time"

// debounceConfig controls how relevant changes collapse into rescans.
type debounceConfig struct {
	// Window is the quiet period after the last change. Default: 300ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many changes accumulate, so
	// a page that never goes quiet still gets rescanned. Default: 500.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 300 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 500
	}
}

// debouncer counts relevant changes and calls flushFn once per burst.
// Not safe for concurrent use: owned by the observer loop.
type debouncer struct {
	cfg     debounceConfig
	pending int
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func(n int)
}

func newDebouncer(cfg debounceConfig, flushFn func(n int)) *debouncer {
	cfg.defaults()
	return &debouncer{cfg: cfg, flushFn: flushFn}
}

// add records one change. Returns true if an immediate flush was
// triggered (buffer full).
func (d *debouncer) add() bool {
	d.pending++

	if d.pending >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}

	// (Re)start the window timer.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC returns the channel that fires when the window expires. Nil
// while nothing is pending, which blocks forever in a select.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

// flush emits the pending burst, if any, and resets.
func (d *debouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
	if d.pending == 0 {
		return
	}
	n := d.pending
	d.pending = 0
	d.flushFn(n)
}
