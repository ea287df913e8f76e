package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

const activationKey = "activation"

// Port returns the backend port configured for session. Sessions are
// created on first access with the default port. A stored value outside
// [MinPort, MaxPort] also yields the default.
func (s *Store) Port(ctx context.Context, session string) (int, error) {
	def := s.DefaultPort()
	if !ValidSession(session) {
		return def, ErrInvalidSession
	}

	var port int
	err := s.DB.QueryRowContext(ctx, `SELECT port FROM sessions WHERE id = ?`, session).Scan(&port)
	if errors.Is(err, sql.ErrNoRows) {
		now := nowMillis()
		_, err = s.DB.ExecContext(ctx, `
			INSERT INTO sessions (id, port, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`, session, def, now, now)
		if err != nil {
			return def, fmt.Errorf("store: create session: %w", err)
		}
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("store: get port: %w", err)
	}
	if !ValidPort(port) {
		return def, nil
	}
	return port, nil
}

// SetPort stores port for session. Out-of-range ports are rejected with
// ErrInvalidPort and the stored value is not modified.
func (s *Store) SetPort(ctx context.Context, session string, port int) error {
	if !ValidSession(session) {
		return ErrInvalidSession
	}
	if !ValidPort(port) {
		return ErrInvalidPort
	}
	now := nowMillis()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sessions (id, port, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET port = excluded.port, updated_at = excluded.updated_at`,
		session, port, now, now)
	if err != nil {
		return fmt.Errorf("store: set port: %w", err)
	}
	return nil
}

// Activation returns the process-wide activation flag. Default: true,
// also on read errors.
func (s *Store) Activation(ctx context.Context) (bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, activationKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("store: get activation: %w", err)
	}
	active, err := strconv.ParseBool(v)
	if err != nil {
		return true, fmt.Errorf("store: parse activation %q: %w", v, err)
	}
	return active, nil
}

// SetActivation stores the process-wide activation flag.
func (s *Store) SetActivation(ctx context.Context, active bool) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value, version, updated_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(version), 0) + 1 FROM settings), ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		activationKey, strconv.FormatBool(active), nowMillis())
	if err != nil {
		return fmt.Errorf("store: set activation: %w", err)
	}
	return nil
}

// SettingsVersion returns a token that increases on every settings write.
func (s *Store) SettingsVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM settings`).Scan(&v)
	return v, err
}

// EndSession deletes every per-session entry: the port and all block
// statuses. A later access with the same id starts from scratch.
func (s *Store) EndSession(ctx context.Context, session string) error {
	if !ValidSession(session) {
		return ErrInvalidSession
	}
	return s.runTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM block_status WHERE session_id = ?`, session); err != nil {
			return fmt.Errorf("store: end session statuses: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, session); err != nil {
			return fmt.Errorf("store: end session config: %w", err)
		}
		return nil
	})
}

// Sessions lists every session id with stored state, sorted.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM sessions
		UNION
		SELECT DISTINCT session_id FROM block_status`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// PruneSessions ends every stored session not listed in live and returns
// the ended ids. Used at startup to drop sessions whose tab closed while
// nothing was watching.
func (s *Store) PruneSessions(ctx context.Context, live []string) ([]string, error) {
	keep := make(map[string]bool, len(live))
	for _, id := range live {
		keep[id] = true
	}
	all, err := s.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var ended []string
	for _, id := range all {
		if keep[id] {
			continue
		}
		if err := s.EndSession(ctx, id); err != nil {
			return ended, err
		}
		ended = append(ended, id)
	}
	return ended, nil
}
