package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrStoreNotOpen is returned by every call made before Open or after Close.
// Callers treat it as transient.
var ErrStoreNotOpen = errors.New("operation store not open")

// Store is the durable key/value log behind the queue. Keys are operation
// ids, values are opaque serialized records. It is a single SQLite file in
// WAL mode so pending operations survive restarts.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenStore creates or opens the log at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open operation store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect operation store: %w", err)
	}

	// SQLite has one writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) conn() (*sql.DB, func(), error) {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, nil, ErrStoreNotOpen
	}
	return s.db, s.mu.RUnlock, nil
}

// Put writes value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	db, done, err := s.conn()
	if err != nil {
		return err
	}
	defer done()
	_, err = db.ExecContext(ctx, `
		INSERT INTO operations (id, value) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns (nil, nil) when key is absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	db, done, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer done()
	var v []byte
	err = db.QueryRowContext(ctx, `SELECT value FROM operations WHERE id = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// Delete reports whether key existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	db, done, err := s.conn()
	if err != nil {
		return false, err
	}
	defer done()
	res, err := db.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Scan calls fn for every entry in key order. The rows are read fully before
// fn runs, so fn may write to the store.
func (s *Store) Scan(ctx context.Context, fn func(key string, value []byte) error) error {
	entries, err := s.readAll(ctx, `SELECT id, value FROM operations ORDER BY id`)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every live entry and returns how many there were.
func (s *Store) Clear(ctx context.Context) (int, error) {
	db, done, err := s.conn()
	if err != nil {
		return 0, err
	}
	defer done()
	res, err := db.ExecContext(ctx, `DELETE FROM operations`)
	if err != nil {
		return 0, fmt.Errorf("clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MoveToDeadLetter deletes key from the live log and stores value in the
// dead-letter table in one transaction.
func (s *Store) MoveToDeadLetter(ctx context.Context, key string, value []byte, reason string, failedAtMs int64) error {
	db, done, err := s.conn()
	if err != nil {
		return err
	}
	defer done()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, value, reason, failed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET value = excluded.value, reason = excluded.reason, failed_at = excluded.failed_at`,
		key, value, reason, failedAtMs); err != nil {
		return fmt.Errorf("insert dead letter %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type DeadLetterRecord struct {
	Key        string
	Value      []byte
	Reason     string
	FailedAtMs int64
}

func (s *Store) DeadLetters(ctx context.Context) ([]DeadLetterRecord, error) {
	db, done, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer done()
	rows, err := db.QueryContext(ctx, `SELECT id, value, reason, failed_at FROM dead_letters ORDER BY failed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetterRecord
	for rows.Next() {
		var r DeadLetterRecord
		if err := rows.Scan(&r.Key, &r.Value, &r.Reason, &r.FailedAtMs); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDeadLetter(ctx context.Context, key string) (bool, error) {
	db, done, err := s.conn()
	if err != nil {
		return false, err
	}
	defer done()
	res, err := db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete dead letter %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type rawEntry struct {
	key   string
	value []byte
}

func (s *Store) readAll(ctx context.Context, query string) ([]rawEntry, error) {
	db, done, err := s.conn()
	if err != nil {
		return nil, err
	}
	defer done()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan operations: %w", err)
	}
	defer rows.Close()

	var out []rawEntry
	for rows.Next() {
		var e rawEntry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
