package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteSlotStore persists the session slot across restarts. The table holds a
// single row keyed by a fixed slot name; replacement is delete-then-insert in
// one transaction so a failed write never leaves a half-overwritten slot.
type SQLiteSlotStore struct {
	db *sql.DB
}

var _ SlotStore = &SQLiteSlotStore{}

const slotName = "current"

// SQLiteSlotDSNForFile builds a file DSN with WAL and busy timeout.
func SQLiteSlotDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite slot store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func NewSQLiteSlotStore(dsn string) (*SQLiteSlotStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite slot store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite slot store: open")
	}
	s := &SQLiteSlotStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSlotStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS session_slot (
		slot TEXT NOT NULL PRIMARY KEY,
		session_id TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);`)
	return errors.Wrap(err, "sqlite slot store: migrate")
}

func (s *SQLiteSlotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteSlotStore) Get(ctx context.Context) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM session_slot WHERE slot = ?`, slotName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "sqlite slot store: get")
	}
	return id, true, nil
}

func (s *SQLiteSlotStore) Put(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("sqlite slot store: empty session id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite slot store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_slot WHERE slot = ?`, slotName); err != nil {
		return errors.Wrap(err, "sqlite slot store: clear slot")
	}
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_slot (slot, session_id, updated_at_ms) VALUES (?, ?, ?)`,
		slotName, sessionID, now); err != nil {
		return errors.Wrap(err, "sqlite slot store: insert")
	}
	return errors.Wrap(tx.Commit(), "sqlite slot store: commit")
}

func (s *SQLiteSlotStore) Delete(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_slot WHERE slot = ?`, slotName)
	return errors.Wrap(err, "sqlite slot store: delete")
}
