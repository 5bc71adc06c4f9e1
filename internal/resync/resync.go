// Package resync persists the selected-mailbox state record (spec.md §4.6,
// §6 "Persisted state") so a later session can hand UIDVALIDITY/MODSEQ back
// to a QRESYNC SELECT instead of starting from a cold sync, adapted from the
// teacher's internal/db schema-init and query style (InitDB, single-file
// sqlite3 connection, plain db.Exec/QueryRow).
package resync

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"mailstack/internal/imap/selection"
)

// Store persists one Snapshot per (account, mailbox) pair.
type Store struct {
	db *sql.DB
}

// Open creates or opens the sqlite file at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open resync store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS selected_state (
		account TEXT NOT NULL,
		mailbox TEXT NOT NULL,
		uid_validity INTEGER NOT NULL,
		uid_next INTEGER NOT NULL,
		highest_modseq INTEGER NOT NULL,
		message_count INTEGER NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (account, mailbox)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create selected_state table: %w", err)
	}
	schema = `
	CREATE TABLE IF NOT EXISTS selected_uids (
		account TEXT NOT NULL,
		mailbox TEXT NOT NULL,
		uid INTEGER NOT NULL,
		PRIMARY KEY (account, mailbox, uid)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create selected_uids table: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save replaces the persisted snapshot for account/mailbox with snap.
func (s *Store) Save(account, mailbox string, snap selection.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO selected_state (account, mailbox, uid_validity, uid_next, highest_modseq, message_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account, mailbox) DO UPDATE SET
			uid_validity = excluded.uid_validity,
			uid_next = excluded.uid_next,
			highest_modseq = excluded.highest_modseq,
			message_count = excluded.message_count,
			updated_at = CURRENT_TIMESTAMP
	`, account, mailbox, snap.UIDValidity, snap.UIDNext, snap.HighestModSeq, snap.MessageCount)
	if err != nil {
		return fmt.Errorf("upsert selected_state: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM selected_uids WHERE account = ? AND mailbox = ?`, account, mailbox); err != nil {
		return fmt.Errorf("clear selected_uids: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO selected_uids (account, mailbox, uid) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare selected_uids insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for uid, present := range snap.UIDSet {
		if !present {
			continue
		}
		if _, err := stmt.Exec(account, mailbox, uid); err != nil {
			return fmt.Errorf("insert selected_uid %d: %w", uid, err)
		}
	}

	return tx.Commit()
}

// Load returns the most recently saved snapshot for account/mailbox, or
// ErrNoSnapshot if none has been saved yet.
func (s *Store) Load(account, mailbox string) (selection.Snapshot, error) {
	var snap selection.Snapshot
	err := s.db.QueryRow(`
		SELECT uid_validity, uid_next, highest_modseq, message_count
		FROM selected_state WHERE account = ? AND mailbox = ?
	`, account, mailbox).Scan(&snap.UIDValidity, &snap.UIDNext, &snap.HighestModSeq, &snap.MessageCount)
	if err == sql.ErrNoRows {
		return selection.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return selection.Snapshot{}, fmt.Errorf("load selected_state: %w", err)
	}

	rows, err := s.db.Query(`SELECT uid FROM selected_uids WHERE account = ? AND mailbox = ?`, account, mailbox)
	if err != nil {
		return selection.Snapshot{}, fmt.Errorf("load selected_uids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap.UIDSet = make(map[uint32]bool)
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return selection.Snapshot{}, fmt.Errorf("scan selected_uid: %w", err)
		}
		snap.UIDSet[uid] = true
	}
	return snap, rows.Err()
}

// Forget removes any persisted snapshot for account/mailbox (e.g. after a
// UIDVALIDITY change makes it unusable for QRESYNC).
func (s *Store) Forget(account, mailbox string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin forget: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM selected_state WHERE account = ? AND mailbox = ?`, account, mailbox); err != nil {
		return fmt.Errorf("delete selected_state: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM selected_uids WHERE account = ? AND mailbox = ?`, account, mailbox); err != nil {
		return fmt.Errorf("delete selected_uids: %w", err)
	}
	return tx.Commit()
}

// ErrNoSnapshot is returned by Load when no snapshot has been saved yet.
var ErrNoSnapshot = fmt.Errorf("resync: no snapshot saved")
