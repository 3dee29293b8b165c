// Package conversation implements the Conversation Store: an ordered,
// per-session log of (timestamp, role, text) turns, persisted to
// SQLite with WAL mode and a single-writer pool. Uses one mutex per
// session rather than one mutex for the whole store, so concurrent
// requests for the same session serialize while different sessions
// proceed independently.
package conversation

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/smartrag/smartrag/internal/logging"
)

var log = logging.GetLogger("conversation")

// Turn is one recorded exchange.
type Turn struct {
	Timestamp time.Time
	Role      string
	Text      string
}

// Store persists conversation turns per session.
type Store struct {
	db *sql.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open opens (creating if needed) the SQLite-backed conversation store
// at path.
func Open(path string) (*Store, error) {
	log.Info("opening conversation store", "path", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create conversation store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping conversation store: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			ts DATETIME NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create turns table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, ts)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create turns index: %w", err)
	}

	return &Store{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockFor(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// StartNewSession allocates a new session id. No row is written until
// the first AppendTurn.
func (s *Store) StartNewSession() string {
	return uuid.New().String()
}

// AppendTurn records one turn for a session, serialized against
// concurrent appends to the same session.
func (s *Store) AppendTurn(sessionID, role, text string) error {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO turns (session_id, ts, role, text) VALUES (?, ?, ?, ?)`,
		sessionID, time.Now(), role, text,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// GetRecent returns up to n most recent turns for a session, oldest
// first.
func (s *Store) GetRecent(sessionID string, n int) ([]Turn, error) {
	rows, err := s.db.Query(
		`SELECT ts, role, text FROM turns WHERE session_id = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		sessionID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("get recent turns: %w", err)
	}
	defer rows.Close()

	var reversed []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Timestamp, &t.Role, &t.Text); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		reversed = append(reversed, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	turns := make([]Turn, len(reversed))
	for i, t := range reversed {
		turns[len(reversed)-1-i] = t
	}
	return turns, nil
}

// DeleteSession removes every turn recorded for a session.
func (s *Store) DeleteSession(sessionID string) error {
	l := s.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	if _, err := s.db.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	s.locksMu.Lock()
	delete(s.locks, sessionID)
	s.locksMu.Unlock()
	return nil
}
