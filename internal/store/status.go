package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/codedrop/block"
)

// BlockRecord is one stored block status.
type BlockRecord struct {
	SessionID   string       `json:"session_id"`
	Fingerprint string       `json:"fingerprint"`
	Status      block.Status `json:"status"`
	Filename    string       `json:"filename,omitempty"`
	UpdatedAt   int64        `json:"updated_at"`
}

// BlockStatus returns the status of fingerprint in session. A missing row
// is StatusAbsent. On error the returned status is also StatusAbsent:
// an unreadable status is treated as not yet processed.
func (s *Store) BlockStatus(ctx context.Context, session, fingerprint string) (block.Status, error) {
	if !ValidSession(session) {
		return block.StatusAbsent, ErrInvalidSession
	}
	var v string
	err := s.DB.QueryRowContext(ctx,
		`SELECT status FROM block_status WHERE session_id = ? AND fingerprint = ?`,
		session, fingerprint).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return block.StatusAbsent, nil
	}
	if err != nil {
		return block.StatusAbsent, fmt.Errorf("store: get block status: %w", err)
	}
	st, err := block.ParseStatus(v)
	if err != nil {
		return block.StatusAbsent, fmt.Errorf("store: get block status: %w", err)
	}
	return st, nil
}

// SetBlockStatus records status for fingerprint in session. filename is
// informational and may be empty. Setting StatusAbsent removes the row.
// A terminal status can only be re-set to itself; any other transition
// out of it returns ErrTerminal and leaves the row untouched.
func (s *Store) SetBlockStatus(ctx context.Context, session, fingerprint string, status block.Status, filename string) error {
	if !ValidSession(session) {
		return ErrInvalidSession
	}
	if fingerprint == "" || !status.Valid() {
		return ErrInvalidStatus
	}

	return s.runTx(ctx, func(tx *sql.Tx) error {
		cur := block.StatusAbsent
		var v string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM block_status WHERE session_id = ? AND fingerprint = ?`,
			session, fingerprint).Scan(&v)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("store: read block status: %w", err)
		default:
			cur = block.Status(v)
		}

		if !block.CanTransition(cur, status) {
			return fmt.Errorf("%w: %s -> %s", ErrTerminal, cur, status)
		}

		if status == block.StatusAbsent {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM block_status WHERE session_id = ? AND fingerprint = ?`,
				session, fingerprint)
			if err != nil {
				return fmt.Errorf("store: clear block status: %w", err)
			}
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO block_status (session_id, fingerprint, status, filename, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id, fingerprint) DO UPDATE SET
				status = excluded.status,
				filename = CASE WHEN excluded.filename != '' THEN excluded.filename ELSE block_status.filename END,
				updated_at = excluded.updated_at`,
			session, fingerprint, string(status), filename, nowMillis())
		if err != nil {
			return fmt.Errorf("store: set block status: %w", err)
		}
		return nil
	})
}

// ClearBlockStatus removes the status of fingerprint in session whatever
// it is, terminal included. The next sighting of that content is treated
// as new. Clearing a missing row is not an error.
func (s *Store) ClearBlockStatus(ctx context.Context, session, fingerprint string) error {
	if !ValidSession(session) {
		return ErrInvalidSession
	}
	if fingerprint == "" {
		return ErrInvalidStatus
	}
	return s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM block_status WHERE session_id = ? AND fingerprint = ?`,
			session, fingerprint)
		if err != nil {
			return fmt.Errorf("store: clear block status: %w", err)
		}
		return nil
	})
}

// ListBlockStatuses returns every stored status of session, most recent first.
func (s *Store) ListBlockStatuses(ctx context.Context, session string) ([]BlockRecord, error) {
	if !ValidSession(session) {
		return nil, ErrInvalidSession
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, fingerprint, status, filename, updated_at
		FROM block_status
		WHERE session_id = ?
		ORDER BY updated_at DESC, fingerprint`, session)
	if err != nil {
		return nil, fmt.Errorf("store: list block statuses: %w", err)
	}
	defer rows.Close()

	var out []BlockRecord
	for rows.Next() {
		var r BlockRecord
		var st string
		if err := rows.Scan(&r.SessionID, &r.Fingerprint, &st, &r.Filename, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan block status: %w", err)
		}
		r.Status = block.Status(st)
		out = append(out, r)
	}
	return out, rows.Err()
}
