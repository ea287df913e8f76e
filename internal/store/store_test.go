package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/codedrop/block"
)

func TestBlockStatus_Lifecycle(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	st, err := s.BlockStatus(ctx, "tab-1", "123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st != block.StatusAbsent {
		t.Fatalf("initial: got %q, want absent", st)
	}

	if err := s.SetBlockStatus(ctx, "tab-1", "123", block.StatusPending, "a.py"); err != nil {
		t.Fatalf("set pending: %v", err)
	}
	if err := s.SetBlockStatus(ctx, "tab-1", "123", block.StatusSent, ""); err != nil {
		t.Fatalf("set sent: %v", err)
	}
	st, _ = s.BlockStatus(ctx, "tab-1", "123")
	if st != block.StatusSent {
		t.Fatalf("after sent: got %q", st)
	}

	// Filename survives an update that does not carry one.
	recs, err := s.ListBlockStatuses(ctx, "tab-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].Filename != "a.py" {
		t.Fatalf("list: got %+v", recs)
	}
}

func TestBlockStatus_TerminalIsAbsorbing(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusPending, "")
	if err := s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusError, ""); err != nil {
		t.Fatalf("set error: %v", err)
	}

	for _, next := range []block.Status{block.StatusAbsent, block.StatusPending, block.StatusSent} {
		err := s.SetBlockStatus(ctx, "tab-1", "fp", next, "")
		if !errors.Is(err, ErrTerminal) {
			t.Errorf("error -> %s: got %v, want ErrTerminal", next, err)
		}
	}
	if st, _ := s.BlockStatus(ctx, "tab-1", "fp"); st != block.StatusError {
		t.Fatalf("status changed: got %q", st)
	}

	// Re-setting the same terminal status is idempotent.
	if err := s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusError, ""); err != nil {
		t.Fatalf("idempotent set: %v", err)
	}
}

func TestBlockStatus_ClearTerminal(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusPending, "a.py")
	s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusSent, "")
	s.SetBlockStatus(ctx, "tab-1", "other", block.StatusSent, "")
	s.SetPort(ctx, "tab-1", 6001)

	if err := s.ClearBlockStatus(ctx, "tab-1", "fp"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if st, _ := s.BlockStatus(ctx, "tab-1", "fp"); st != block.StatusAbsent {
		t.Fatalf("status after clear: got %q, want absent", st)
	}
	if err := s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusPending, ""); err != nil {
		t.Fatalf("pending after clear: %v", err)
	}

	// The rest of the session is untouched.
	if st, _ := s.BlockStatus(ctx, "tab-1", "other"); st != block.StatusSent {
		t.Fatalf("other status: got %q, want sent", st)
	}
	if port, _ := s.Port(ctx, "tab-1"); port != 6001 {
		t.Fatalf("port: got %d, want 6001", port)
	}

	if err := s.ClearBlockStatus(ctx, "tab-1", "missing"); err != nil {
		t.Fatalf("clear missing: %v", err)
	}
	if err := s.ClearBlockStatus(ctx, "", "fp"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("clear invalid session: got %v, want ErrInvalidSession", err)
	}
	if err := s.ClearBlockStatus(ctx, "tab-1", ""); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("clear empty fingerprint: got %v, want ErrInvalidStatus", err)
	}
}

func TestBlockStatus_PendingResetToAbsent(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusPending, "")
	if err := s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusAbsent, ""); err != nil {
		t.Fatalf("reset: %v", err)
	}
	recs, _ := s.ListBlockStatuses(ctx, "tab-1")
	if len(recs) != 0 {
		t.Fatalf("absent must not keep a row, got %+v", recs)
	}
}

func TestBlockStatus_SessionIsolation(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	fp := block.Fingerprint("@@FILE@@ a.py\nprint(1)")

	s.SetBlockStatus(ctx, "tab-1", fp, block.StatusPending, "")
	s.SetBlockStatus(ctx, "tab-1", fp, block.StatusSent, "")

	st, err := s.BlockStatus(ctx, "tab-2", fp)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st != block.StatusAbsent {
		t.Fatalf("tab-2 sees tab-1 status: got %q", st)
	}
}

func TestBlockStatus_Validation(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	if err := s.SetBlockStatus(ctx, "", "fp", block.StatusSent, ""); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("empty session: got %v", err)
	}
	if err := s.SetBlockStatus(ctx, "tab-1", "fp", block.Status("done"), ""); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status: got %v", err)
	}
	if err := s.SetBlockStatus(ctx, "tab-1", "", block.StatusSent, ""); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("empty fingerprint: got %v", err)
	}
	st, err := s.BlockStatus(ctx, " tab ", "fp")
	if !errors.Is(err, ErrInvalidSession) || st != block.StatusAbsent {
		t.Errorf("invalid session read: got (%q, %v)", st, err)
	}
}

func TestBlockStatus_ReadFailureFailsOpen(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusPending, "")
	s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusSent, "")

	s.Close()

	st, err := s.BlockStatus(ctx, "tab-1", "fp")
	if err == nil {
		t.Fatal("expected error from closed database")
	}
	if st != block.StatusAbsent {
		t.Fatalf("fail open: got %q, want absent", st)
	}
	if err := s.SetBlockStatus(ctx, "tab-1", "fp2", block.StatusPending, ""); err == nil {
		t.Fatal("write on closed database must report an error")
	}
}

func TestPort_DefaultAndCreateOnFirstUse(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	port, err := s.Port(ctx, "tab-1")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	if port != DefaultPort {
		t.Fatalf("default: got %d, want %d", port, DefaultPort)
	}

	ids, _ := s.Sessions(ctx)
	if len(ids) != 1 || ids[0] != "tab-1" {
		t.Fatalf("session not created on first access: %v", ids)
	}
}

func TestPort_SetRejectsOutOfRange(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	if err := s.SetPort(ctx, "tab-1", 8080); err != nil {
		t.Fatalf("set 8080: %v", err)
	}
	for _, bad := range []int{80, 1024, 65536, 70000, 0, -1} {
		if err := s.SetPort(ctx, "tab-1", bad); !errors.Is(err, ErrInvalidPort) {
			t.Errorf("SetPort(%d): got %v, want ErrInvalidPort", bad, err)
		}
	}
	port, _ := s.Port(ctx, "tab-1")
	if port != 8080 {
		t.Fatalf("stored port mutated: got %d, want 8080", port)
	}

	for _, ok := range []int{MinPort, MaxPort} {
		if err := s.SetPort(ctx, "tab-2", ok); err != nil {
			t.Errorf("SetPort(%d): %v", ok, err)
		}
	}
}

func TestPort_StoredOutOfRangeYieldsDefault(t *testing.T) {
	s := OpenMemory(t, WithDefaultPort(6000))
	ctx := context.Background()

	s.DB.Exec(`INSERT INTO sessions (id, port, created_at, updated_at) VALUES ('tab-1', 80, 0, 0)`)
	port, err := s.Port(ctx, "tab-1")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	if port != 6000 {
		t.Fatalf("got %d, want configured default 6000", port)
	}
}

func TestActivation(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	active, err := s.Activation(ctx)
	if err != nil || !active {
		t.Fatalf("default: got (%v, %v), want (true, nil)", active, err)
	}

	v0, _ := s.SettingsVersion(ctx)
	if err := s.SetActivation(ctx, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	active, _ = s.Activation(ctx)
	if active {
		t.Fatal("activation: got true after SetActivation(false)")
	}
	v1, _ := s.SettingsVersion(ctx)
	s.SetActivation(ctx, false)
	v2, _ := s.SettingsVersion(ctx)
	if !(v0 < v1 && v1 < v2) {
		t.Fatalf("settings version must increase on every write: %d %d %d", v0, v1, v2)
	}
}

func TestEndSession_RemovesEverything(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	s.SetPort(ctx, "tab-1", 7000)
	s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusPending, "")
	s.SetBlockStatus(ctx, "tab-1", "fp", block.StatusSent, "")
	s.SetPort(ctx, "tab-2", 7001)

	if err := s.EndSession(ctx, "tab-1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	// A fresh session with the same id behaves as brand new.
	port, _ := s.Port(ctx, "tab-1")
	if port != DefaultPort {
		t.Errorf("port after end: got %d, want default", port)
	}
	st, _ := s.BlockStatus(ctx, "tab-1", "fp")
	if st != block.StatusAbsent {
		t.Errorf("status after end: got %q, want absent", st)
	}

	port, _ = s.Port(ctx, "tab-2")
	if port != 7001 {
		t.Errorf("other session touched: got %d", port)
	}
}

func TestPruneSessions(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	s.SetPort(ctx, "live", 7000)
	s.SetPort(ctx, "gone", 7001)
	s.SetBlockStatus(ctx, "orphan", "fp", block.StatusPending, "")

	ended, err := s.PruneSessions(ctx, []string{"live"})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(ended) != 2 {
		t.Fatalf("ended: got %v, want [gone orphan]", ended)
	}
	ids, _ := s.Sessions(ctx)
	if len(ids) != 1 || ids[0] != "live" {
		t.Fatalf("remaining: got %v", ids)
	}
}

func TestOpen_FileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "codedrop.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.SetPort(ctx, "tab-1", 9000)
	s.SetActivation(ctx, false)
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if port, _ := s.Port(ctx, "tab-1"); port != 9000 {
		t.Errorf("port: got %d", port)
	}
	if active, _ := s.Activation(ctx); active {
		t.Error("activation not persisted")
	}
}
