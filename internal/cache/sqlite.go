package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// schemaVersion is stored in PRAGMA user_version once Schema is applied.
const schemaVersion = 1

// Cache is the SQLite database recording the state of the last sync pass
type Cache struct {
	db     *sqlx.DB
	path   string
	logger *logrus.Logger
}

// NewCache opens the cache database at dbPath, creating the file, its
// directory and its schema when missing.
func NewCache(dbPath string, logger *logrus.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", dbPath, err)
	}

	c := &Cache{db: db, path: dbPath, logger: logger}
	if err := c.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Init brings the schema up to date. Calling it again is a no-op.
func (c *Cache) Init() error {
	var version int
	if err := c.db.Get(&version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("failed to read cache schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	if _, err := c.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create cache schema: %w", err)
	}
	if _, err := c.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to record cache schema version: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"path":    c.path,
		"from":    version,
		"version": schemaVersion,
	}).Debug("Migrated cache schema")
	return nil
}

// Begin starts the transaction of one sync pass. Nothing is written to the
// database until Commit.
func (c *Cache) Begin(ctx context.Context) (*Tx, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	return &Tx{tx: tx, logger: c.logger}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
