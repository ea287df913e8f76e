package store

// Schema contains the complete DDL for the codedrop tables.
const Schema = `
-- Per-session configuration. One row per observed tab, created on first access.
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    port       INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Submission status per (session, fingerprint). A missing row means absent.
CREATE TABLE IF NOT EXISTS block_status (
    session_id  TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    status      TEXT NOT NULL CHECK (status IN ('pending', 'sent', 'error')),
    filename    TEXT NOT NULL DEFAULT '',
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (session_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_block_status_session ON block_status(session_id, updated_at);

-- Process-wide settings (activation flag). version increases on every write
-- so other processes can detect changes by polling MAX(version).
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    version    INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`
