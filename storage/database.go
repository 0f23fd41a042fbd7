// Package storage is the local persistence core of the client: addresses,
// labels, messages with threaded conversations, the object inventory, the
// known-node registry and pending proof-of-work requests, all backed by a
// single SQLite database.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultDBFileName is the SQLite filename under the app data dir.
	DefaultDBFileName = "abit.db"
	// DefaultWALCheckpointInterval controls periodic WAL truncation.
	DefaultWALCheckpointInterval = 24 * time.Hour
	// DefaultInventoryGrace is how long expired inventory objects linger
	// before cleanup removes them.
	DefaultInventoryGrace = 5 * time.Minute
	// DefaultNodeMaxAge is the retention age for known-node entries. Offered
	// nodes older than this are discarded, and future-dated timestamps are
	// clamped back to it.
	DefaultNodeMaxAge = 7 * 24 * time.Hour
	// DefaultObjectCacheSize bounds the in-memory cache of decoded inventory
	// objects on the read path.
	DefaultObjectCacheSize = 256

	// nodeFutureSkew is how far in the future a gossiped node timestamp may
	// lie before it is considered spoofed.
	nodeFutureSkew = 5 * time.Minute
	// nodeCleanupSlack widens the cleanup cutoff past the offer filter so
	// entries clamped to exactly the retention boundary survive one sweep.
	nodeCleanupSlack = time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS addresses (
  address     TEXT PRIMARY KEY,
  version     INTEGER NOT NULL,
  alias       TEXT,
  public_key  BLOB,
  private_key BLOB,
  subscribed  INTEGER NOT NULL DEFAULT 0,
  chan        INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS inventory (
  hash    BLOB PRIMARY KEY,
  stream  INTEGER NOT NULL,
  expires INTEGER NOT NULL,
  data    BLOB NOT NULL,
  type    INTEGER NOT NULL,
  version INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_inventory_stream_expires
ON inventory (stream, expires);
`,
	`
CREATE TABLE IF NOT EXISTS node (
  stream   INTEGER NOT NULL,
  address  BLOB NOT NULL,
  port     INTEGER NOT NULL,
  services INTEGER NOT NULL,
  time     INTEGER NOT NULL,
  PRIMARY KEY (stream, address, port)
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_node_time
ON node (time DESC);
`,
	`
CREATE TABLE IF NOT EXISTS label (
  id    INTEGER PRIMARY KEY AUTOINCREMENT,
  label TEXT NOT NULL,
  type  TEXT,
  color INTEGER NOT NULL DEFAULT 0,
  ord   INTEGER NOT NULL DEFAULT 0
);
`,
	`
INSERT INTO label (label, type, color, ord) VALUES
  ('Inbox',      'INBOX',     0xFF00B0FF, 0),
  ('Broadcasts', 'BROADCAST', 0xFF0091EA, 5),
  ('Drafts',     'DRAFT',     0xFF808080, 10),
  ('Outbox',     'OUTBOX',    0xFFFFAB00, 15),
  ('Sent',       'SENT',      0xFF00C853, 20),
  ('Unread',     'UNREAD',    0xFF000000, 90),
  ('Trash',      'TRASH',     0xFF555555, 100);
`,
	`
CREATE TABLE IF NOT EXISTS message (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  iv           BLOB UNIQUE,
  type         TEXT NOT NULL CHECK(type IN ('MSG','BROADCAST')),
  sender       TEXT NOT NULL,
  recipient    TEXT,
  data         BLOB NOT NULL,
  ack_data     BLOB,
  sent         INTEGER,
  received     INTEGER,
  status       TEXT NOT NULL,
  ttl          INTEGER NOT NULL DEFAULT 0,
  retries      INTEGER NOT NULL DEFAULT 0,
  next_try     INTEGER,
  initial_hash BLOB UNIQUE,
  conversation BLOB
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_message_conversation
ON message (conversation);
`,
	`
CREATE INDEX IF NOT EXISTS idx_message_time
ON message (received DESC, sent DESC);
`,
	`
CREATE TABLE IF NOT EXISTS message_parent (
  parent       BLOB NOT NULL,
  child        BLOB NOT NULL,
  pos          INTEGER NOT NULL,
  conversation BLOB NOT NULL,
  PRIMARY KEY (parent, child)
);
`,
	`
CREATE TABLE IF NOT EXISTS message_label (
  message_id INTEGER NOT NULL REFERENCES message(id) ON DELETE CASCADE,
  label_id   INTEGER NOT NULL REFERENCES label(id) ON DELETE CASCADE,
  PRIMARY KEY (message_id, label_id)
);
`,
	`
CREATE TABLE IF NOT EXISTS pow (
  initial_hash          BLOB PRIMARY KEY,
  data                  BLOB NOT NULL,
  version               INTEGER NOT NULL,
  nonce_trials_per_byte INTEGER NOT NULL,
  extra_bytes           INTEGER NOT NULL,
  expiration_time       INTEGER,
  message_id            INTEGER REFERENCES message(id) ON DELETE SET NULL
);
`,
}

// Store is a thin wrapper around a SQLite connection plus the in-memory
// shadows of the inventory table.
type Store struct {
	db  *sql.DB
	clk clock.Clock
	log logrus.FieldLogger

	inventoryGrace  time.Duration
	nodeMaxAge      time.Duration
	objectCacheSize int

	// invMu guards lazy population of the per-stream maps; after population
	// each sync.Map takes concurrent reads and writes on its own.
	invMu      sync.Mutex
	invStreams map[uint64]*sync.Map
	objCache   *lru.Cache[string, *Object]

	walCheckpointInterval time.Duration
	walCheckpointStop     chan struct{}
	walCheckpointWG       sync.WaitGroup
	closeOnce             sync.Once
}

// Option adjusts Store construction.
type Option func(*Store)

// WithClock injects the time source used for expiry and eviction decisions.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) { s.clk = clk }
}

// WithLogger injects the logger used on maintenance paths.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// WithInventoryGrace overrides the expired-object grace window for cleanup.
func WithInventoryGrace(grace time.Duration) Option {
	return func(s *Store) {
		if grace > 0 {
			s.inventoryGrace = grace
		}
	}
}

// WithNodeMaxAge overrides the known-node retention age.
func WithNodeMaxAge(maxAge time.Duration) Option {
	return func(s *Store) {
		if maxAge > 0 {
			s.nodeMaxAge = maxAge
		}
	}
}

// WithObjectCacheSize overrides the decoded-object LRU capacity.
func WithObjectCacheSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.objectCacheSize = size
		}
	}
}

// Open opens (or creates) abit.db under the given data directory and runs
// migrations.
func Open(dataDir string, opts ...Option) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath, opts...)
	if err != nil {
		return nil, "", err
	}

	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string, opts ...Option) (*Store, error) {
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
		db:                    db,
		clk:                   clock.New(),
		log:                   logrus.StandardLogger(),
		inventoryGrace:        DefaultInventoryGrace,
		nodeMaxAge:            DefaultNodeMaxAge,
		objectCacheSize:       DefaultObjectCacheSize,
		invStreams:            make(map[uint64]*sync.Map),
		walCheckpointInterval: DefaultWALCheckpointInterval,
		walCheckpointStop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(store)
	}

	store.objCache, err = lru.New[string, *Object](store.objectCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create object cache: %w", err)
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

	s.log.WithFields(logrus.Fields{
		"from": version,
		"to":   len(migrations),
	}).Debug("applied schema migrations")

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
				if err := s.checkpointWAL(); err != nil {
					s.log.WithError(err).Warn("periodic wal checkpoint failed")
				}
			case <-s.walCheckpointStop:
				return
			}
		}
	}()
}
