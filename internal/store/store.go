package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a requested integration does not exist.
var ErrNotFound = errors.New("not found")

// migration upgrades a database from version-1 to version. Statements run
// in one transaction together with the user_version bump.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations lists every schema change after the base schema, in order.
// Version 0 is schema.sql alone.
var migrations = []migration{
	{
		version: 1,
		name:    "index invocation failures by kind",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_invocations_error_kind ON invocations(error_kind, seq)`,
		},
	},
}

// currentSchemaVersion is the version Open leaves a database at.
var currentSchemaVersion = migrations[len(migrations)-1].version

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Store provides durable storage for integration sources and the
// invocation log. Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

type openConfig struct {
	busyTimeout time.Duration
}

// Option configures Open.
type Option func(*openConfig)

// WithBusyTimeout sets how long writes wait for a lock held by another
// process before failing with SQLITE_BUSY.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *openConfig) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// Open creates or opens the integration database at path, configures the
// connection and brings the schema up to date. Opening an up-to-date
// database changes nothing.
//
// A database written by a newer hive, one whose schema version is past
// what this build knows, is refused rather than modified.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openConfig{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database %s: %w", path, err)
	}

	// SQLite allows one writer; a single connection keeps writes from
	// failing with SQLITE_BUSY inside this process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configure(cfg); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SchemaVersion returns the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// configure applies connection pragmas and checks that SQLite honoured
// them. SQLite ignores some pragmas silently, for example WAL on file
// systems without shared memory.
func (s *Store) configure(cfg openConfig) error {
	settings := []struct {
		name, value, want string
	}{
		{"journal_mode", "WAL", "wal"},
		{"synchronous", "NORMAL", "1"},
		{"busy_timeout", fmt.Sprint(cfg.busyTimeout.Milliseconds()), fmt.Sprint(cfg.busyTimeout.Milliseconds())},
		{"foreign_keys", "ON", "1"},
	}
	for _, p := range settings {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("set %s: %w", p.name, err)
		}
		if err := s.verifyPragma(p.name, p.want); err != nil {
			return err
		}
	}
	return nil
}

// migrate applies the base schema and any pending migrations.
func (s *Store) migrate() error {
	version, err := s.SchemaVersion(context.Background())
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	// The base schema is written with IF NOT EXISTS throughout.
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := s.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("migrate to v%d: set user_version: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v%d: %w", m.version, err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
