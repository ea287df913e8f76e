package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DBPath != "codedrop.db" {
		t.Errorf("DBPath: got %q", cfg.DBPath)
	}
	if cfg.Watch.Window != 300*time.Millisecond || cfg.Watch.MaxBuffer != 500 {
		t.Errorf("Watch: got %+v", cfg.Watch)
	}
	if cfg.Watch.ContainerSelector != "pre" || cfg.Watch.RootSelector != "body" {
		t.Errorf("selectors: got %+v", cfg.Watch)
	}
	if cfg.Stabilize.Delay != 2500*time.Millisecond {
		t.Errorf("Delay: got %v", cfg.Stabilize.Delay)
	}
	if cfg.Marker != "@@FILE@@" {
		t.Errorf("Marker: got %q", cfg.Marker)
	}
	if cfg.Submit.DefaultPort != 5000 || cfg.Submit.Host != "127.0.0.1" || cfg.Submit.SubmitPath != "/submit_code" {
		t.Errorf("Submit: got %+v", cfg.Submit)
	}
	if cfg.Submit.Timeout != 30*time.Second {
		t.Errorf("Timeout: got %v", cfg.Submit.Timeout)
	}
	if !cfg.Browser.StealthEnabled() {
		t.Error("StealthEnabled: got false")
	}
	if cfg.API.Addr != "" {
		t.Errorf("API.Addr: got %q, want disabled", cfg.API.Addr)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codedrop.yaml")
	data := `
db_path: /tmp/cd.db
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/x
  stealth: false
  discover_interval: 5s
pages:
  - url: https://chat.example.com/
attach: ["https://chat.example.com/*"]
watch:
  container_selector: div.code-block
  window: 150ms
stabilize:
  delay: 4s
marker: "##FILE##"
submit:
  default_port: 6000
api:
  addr: 127.0.0.1:7420
sinks:
  - type: stdout
  - type: webhook
    url: http://127.0.0.1:9000/hook
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Browser.StealthEnabled() {
		t.Error("stealth: got true, want false")
	}
	if cfg.Browser.DiscoverInterval != 5*time.Second {
		t.Errorf("discover_interval: got %v", cfg.Browser.DiscoverInterval)
	}
	if len(cfg.Pages) != 1 || cfg.Pages[0].ID != "page-1" {
		t.Errorf("pages: got %+v", cfg.Pages)
	}
	if cfg.Watch.ContainerSelector != "div.code-block" || cfg.Watch.Window != 150*time.Millisecond {
		t.Errorf("watch: got %+v", cfg.Watch)
	}
	if cfg.Stabilize.Delay != 4*time.Second || cfg.Marker != "##FILE##" {
		t.Errorf("stabilize/marker: got %v %q", cfg.Stabilize.Delay, cfg.Marker)
	}
	if cfg.Submit.DefaultPort != 6000 || cfg.API.Addr != "127.0.0.1:7420" {
		t.Errorf("submit/api: got %+v %+v", cfg.Submit, cfg.API)
	}
	if len(cfg.Sinks) != 2 || cfg.Sinks[1].URL != "http://127.0.0.1:9000/hook" {
		t.Errorf("sinks: got %+v", cfg.Sinks)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFile: want error")
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"port":        "submit: {default_port: 80}",
		"page url":    "pages: [{id: x}]",
		"sink type":   "sinks: [{type: nats}]",
		"webhook url": "sinks: [{type: webhook}]",
		"bad yaml":    "watch: [",
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestWatcher_FiresOnVersionChange(t *testing.T) {
	var version atomic.Int64
	version.Store(1)
	w := NewWatcher(func(context.Context) (int64, error) { return version.Load(), nil },
		WatchOptions{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	go w.OnChange(ctx, func() error {
		fired.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired without change: %d", fired.Load())
	}

	version.Store(2)
	waitFor(t, func() bool { return w.Version() == 2 })
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired: got %d, want 1", got)
	}
	if s := w.Stats(); s.Changes != 1 || s.Reloads != 1 || s.Checks == 0 {
		t.Fatalf("stats: got %+v", s)
	}
}

func TestWatcher_RetriesFailedAction(t *testing.T) {
	var version atomic.Int64
	w := NewWatcher(func(context.Context) (int64, error) { return version.Load(), nil },
		WatchOptions{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return errors.New("busy")
		}
		return nil
	})

	time.Sleep(30 * time.Millisecond)
	version.Store(7)
	waitFor(t, func() bool { return w.Version() == 7 })
	if calls.Load() < 2 {
		t.Fatalf("calls: got %d, want >= 2", calls.Load())
	}
}

func TestWatcher_Debounce(t *testing.T) {
	var version atomic.Int64
	w := NewWatcher(func(context.Context) (int64, error) { return version.Load(), nil },
		WatchOptions{Interval: 5 * time.Millisecond, Debounce: 60 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	go w.OnChange(ctx, func() error {
		fired.Add(1)
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	for v := int64(1); v <= 3; v++ {
		version.Store(v)
		time.Sleep(15 * time.Millisecond)
	}
	waitFor(t, func() bool { return w.Version() == 3 })
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired: got %d, want 1", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !strings.HasPrefix(cfg.Submit.StatusPath, "/") {
		t.Fatalf("StatusPath: got %q", cfg.Submit.StatusPath)
	}
}
