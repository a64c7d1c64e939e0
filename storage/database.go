package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under the data dir.
	DefaultDBFileName = "gomint.db"
	// DefaultWALCheckpointInterval controls periodic WAL truncation.
	DefaultWALCheckpointInterval = 24 * time.Hour
	// DefaultSecurityEventRetention controls automatic security event pruning.
	DefaultSecurityEventRetention = 30 * 24 * time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS users (
  wallet_address TEXT PRIMARY KEY,
  username       TEXT NOT NULL DEFAULT '',
  created_at     INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS friends (
  id         TEXT PRIMARY KEY,
  sender     TEXT NOT NULL REFERENCES users(wallet_address),
  receiver   TEXT NOT NULL REFERENCES users(wallet_address),
  status     TEXT NOT NULL CHECK(status IN ('PENDING','ACCEPTED','REJECTED','BLOCKED')) DEFAULT 'PENDING',
  message    TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE (sender, receiver)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_friends_receiver_status
ON friends (receiver, status);
`,
	`
CREATE TABLE IF NOT EXISTS communities (
  id         TEXT PRIMARY KEY,
  name       TEXT NOT NULL,
  token_id   TEXT NOT NULL UNIQUE,
  creator    TEXT NOT NULL REFERENCES users(wallet_address),
  is_active  INTEGER NOT NULL DEFAULT 1,
  created_at INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS direct_messages (
  id             TEXT PRIMARY KEY,
  sender         TEXT NOT NULL REFERENCES users(wallet_address),
  receiver       TEXT NOT NULL REFERENCES users(wallet_address),
  ciphertext     TEXT NOT NULL,
  salt           TEXT NOT NULL,
  iv             TEXT NOT NULL,
  tag            TEXT NOT NULL,
  encryption_key TEXT NOT NULL,
  is_read        INTEGER NOT NULL DEFAULT 0,
  created_at     INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_direct_messages_pair_time
ON direct_messages (sender, receiver, created_at);
`,
	`
CREATE INDEX IF NOT EXISTS idx_direct_messages_unread
ON direct_messages (receiver, is_read, created_at);
`,
	`
CREATE TABLE IF NOT EXISTS community_messages (
  id             TEXT PRIMARY KEY,
  community_id   TEXT NOT NULL REFERENCES communities(id) ON DELETE CASCADE,
  sender         TEXT NOT NULL REFERENCES users(wallet_address),
  ciphertext     TEXT NOT NULL,
  salt           TEXT NOT NULL,
  iv             TEXT NOT NULL,
  tag            TEXT NOT NULL,
  encryption_key TEXT NOT NULL,
  created_at     INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_community_messages_time
ON community_messages (community_id, created_at);
`,
	`
CREATE TABLE IF NOT EXISTS notifications (
  id         TEXT PRIMARY KEY,
  recipient  TEXT NOT NULL,
  sender     TEXT,
  type       TEXT NOT NULL,
  message    TEXT NOT NULL,
  metadata   TEXT,
  is_read    INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_notifications_recipient
ON notifications (recipient, is_read, created_at);
`,
	`
CREATE TABLE IF NOT EXISTS security_events (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  event_type TEXT NOT NULL,
  identity   TEXT,
  remote     TEXT,
  details    TEXT NOT NULL,
  severity   TEXT NOT NULL CHECK(severity IN ('info','warning','critical')),
  timestamp  INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_security_events_time
ON security_events (timestamp DESC, id DESC);
`,
	`
CREATE INDEX IF NOT EXISTS idx_security_events_type
ON security_events (event_type, timestamp DESC, id DESC);
`,
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db    *sql.DB
	clock clock.Clock

	walCheckpointInterval  time.Duration
	walCheckpointStop      chan struct{}
	walCheckpointWG        sync.WaitGroup
	securityEventRetention time.Duration
	closeOnce              sync.Once
}

// Open opens (or creates) the database file under the given data directory and runs migrations.
func Open(dataDir string) (*Store, string, error) {
	return OpenFile(dataDir, DefaultDBFileName)
}

// OpenFile is Open with an explicit database file name.
func OpenFile(dataDir, fileName string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}
	if strings.TrimSpace(fileName) == "" {
		fileName = DefaultDBFileName
	}

	dbPath := filepath.Join(dataDir, fileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{
		db:                     db,
		clock:                  clock.New(),
		walCheckpointInterval:  DefaultWALCheckpointInterval,
		walCheckpointStop:      make(chan struct{}),
		securityEventRetention: DefaultSecurityEventRetention,
	}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.checkpointWAL(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.startWALCheckpointLoop()

	return store, nil
}

// SetClock replaces the clock used for created_at timestamps.
func (s *Store) SetClock(c clock.Clock) {
	if c == nil {
		c = clock.New()
	}
	s.clock = c
}

// Ping reports whether the database is reachable.
func (s *Store) Ping() error {
	if s == nil || s.db == nil {
		return errors.New("ping sqlite database: store closed")
	}
	return s.db.Ping()
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		if s.walCheckpointStop != nil {
			close(s.walCheckpointStop)
			s.walCheckpointWG.Wait()
		}
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

func (s *Store) nowUnixMilli() int64 {
	return s.clock.Now().UnixMilli()
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *Store) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("wal checkpoint truncate: %w", err)
	}
	return nil
}

func (s *Store) startWALCheckpointLoop() {
	interval := s.walCheckpointInterval
	if interval <= 0 || s.walCheckpointStop == nil {
		return
	}

	s.walCheckpointWG.Add(1)
	go func() {
		defer s.walCheckpointWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.checkpointWAL()
			case <-s.walCheckpointStop:
				return
			}
		}
	}()
}
