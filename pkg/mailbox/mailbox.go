// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mailbox implements a durable, host-local message store on SQLite.
//
// Several agent processes may open the same file concurrently. Every stored Envelope gets a sequence number, which
// readers use as their cursor.
package mailbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"

	"github.com/agentboard/agentboard-go/pkg/envelope"
)

// InMemory is the path of a process-local, non-persistent Mailbox.
const InMemory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS envelopes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	topic      TEXT NOT NULL,
	sender     TEXT NOT NULL,
	body       TEXT NOT NULL,
	stored_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_envelopes_topic_seq ON envelopes(topic, seq);
CREATE INDEX IF NOT EXISTS idx_envelopes_stored ON envelopes(stored_at);
`

// Entry is a stored Envelope together with its sequence number.
type Entry struct {
	Seq      int64
	Envelope envelope.Envelope
}

// Mailbox is a SQLite backed Envelope store.
type Mailbox struct {
	db   *sql.DB
	path string
}

// Open a Mailbox at the given path, creating the database if necessary. The InMemory path opens a process-local
// Mailbox.
func Open(path string) (*Mailbox, error) {
	dsn := path
	if path != InMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == InMemory {
		// Each connection would get its own in-memory database otherwise.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.WithField("path", path).Debug("Opened mailbox")

	return &Mailbox{db: db, path: path}, nil
}

// Close the Mailbox.
func (m *Mailbox) Close() error {
	return m.db.Close()
}

// Put stores an Envelope. An already known Envelope ID is ignored and reported by inserted being false.
func (m *Mailbox) Put(ctx context.Context, e envelope.Envelope) (inserted bool, err error) {
	body, err := json.Marshal(e)
	if err != nil {
		return false, err
	}

	res, err := m.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO envelopes (id, topic, sender, body, stored_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Topic, e.From, string(body), time.Now().UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to store envelope %s: %w", e.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanEntries(rows *sql.Rows) (entries []Entry, err error) {
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int64
			body string
			e    envelope.Envelope
		)
		if err = rows.Scan(&seq, &body); err != nil {
			return
		}
		if err = json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("malformed envelope at %d: %w", seq, err)
		}
		entries = append(entries, Entry{Seq: seq, Envelope: e})
	}
	err = rows.Err()
	return
}

// Since returns up to limit Entries of a topic with a sequence number greater than the cursor, oldest first.
func (m *Mailbox) Since(ctx context.Context, topic string, cursor int64, limit int) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT seq, body FROM envelopes WHERE topic = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		topic, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Latest returns the limit newest Entries of a topic, oldest first.
func (m *Mailbox) Latest(ctx context.Context, topic string, limit int) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT seq, body FROM envelopes WHERE topic = ? ORDER BY seq DESC LIMIT ?`,
		topic, limit)
	if err != nil {
		return nil, err
	}

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Head returns the highest sequence number stored for a topic or zero.
func (m *Mailbox) Head(ctx context.Context, topic string) (seq int64, err error) {
	var head sql.NullInt64
	err = m.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM envelopes WHERE topic = ?`, topic).Scan(&head)
	if head.Valid {
		seq = head.Int64
	}
	return
}

// PruneBefore deletes all Entries stored before the given time.
func (m *Mailbox) PruneBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx, `DELETE FROM envelopes WHERE stored_at < ?`, t.UnixNano())
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		log.WithFields(log.Fields{
			"path":    m.path,
			"removed": n,
		}).Info("Pruned mailbox")
	}
	return n, err
}
