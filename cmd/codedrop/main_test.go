package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "info", "", "warn", "error"} {
		if _, err := parseLevel(s); err != nil {
			t.Errorf("parseLevel(%q): %v", s, err)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Fatal("parseLevel(loud): want error")
	}
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func TestPortCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "codedrop.db")

	if err := execute(t, "--db", db, "--log-level", "error", "port", "set", "tab-1", "8080"); err != nil {
		t.Fatalf("port set: %v", err)
	}
	err := execute(t, "--db", db, "--log-level", "error", "port", "set", "tab-1", "80")
	if err == nil || !strings.Contains(err.Error(), "port") {
		t.Fatalf("port set 80: got %v, want port error", err)
	}
	if err := execute(t, "--db", db, "--log-level", "error", "port", "get", "tab-1"); err != nil {
		t.Fatalf("port get: %v", err)
	}
}

func TestStatusCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "codedrop.db")
	base := []string{"--db", db, "--log-level", "error"}

	if err := execute(t, append(base, "status", "--set", "sent", "--", "tab-1", "-77")...); err != nil {
		t.Fatalf("status --set sent: %v", err)
	}
	if err := execute(t, append(base, "status", "--set", "pending", "--", "tab-1", "-77")...); err == nil {
		t.Fatal("status --set pending after sent: want error")
	}
	if err := execute(t, append(base, "status", "tab-1", "--set", "sent")...); err == nil {
		t.Fatal("status --set without fingerprint: want error")
	}
	if err := execute(t, append(base, "end-session", "tab-1")...); err != nil {
		t.Fatalf("end-session: %v", err)
	}
}

func TestActivationCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "codedrop.db")
	base := []string{"--db", db, "--log-level", "error"}

	if err := execute(t, append(base, "activation", "set", "false")...); err != nil {
		t.Fatalf("activation set: %v", err)
	}
	if err := execute(t, append(base, "activation", "set", "maybe")...); err == nil {
		t.Fatal("activation set maybe: want error")
	}
}
