// Package idmapper persists the mapping between backend internal ids and the
// short, stable ids shown to users.
//
// The user-facing id is a prefix of the md5 digest of the internal id. The
// prefix length of a scope only grows: it is the shortest length that keeps
// every hash recorded in the scope unambiguous.
package idmapper

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// MinLength is the shortest id ever handed out.
const MinLength = 2

var (
	ErrNotFound  = errors.New("id not found")
	ErrAmbiguous = errors.New("id matches more than one message")
)

const schema = `
CREATE TABLE IF NOT EXISTS id_mapper (
    scope TEXT NOT NULL,
    hash TEXT NOT NULL,
    internal_id TEXT NOT NULL,
    UNIQUE(scope, internal_id)
);

CREATE INDEX IF NOT EXISTS idx_id_mapper_hash ON id_mapper(scope, hash);

CREATE TABLE IF NOT EXISTS id_mapper_scopes (
    scope TEXT PRIMARY KEY,
    short_len INTEGER NOT NULL
);
`

// HashFunc derives the full-length hash of an internal id.
type HashFunc func(internalID string) string

// MD5 is the default HashFunc.
func MD5(internalID string) string {
	sum := md5.Sum([]byte(internalID))
	return hex.EncodeToString(sum[:])
}

// Option configures a Store.
type Option func(*Store)

// WithHash replaces the hash function.
func WithHash(fn HashFunc) Option {
	return func(s *Store) {
		s.hash = fn
	}
}

// Store is the database holding the mappers of every scope.
type Store struct {
	db     *sqlx.DB
	hash   HashFunc
	logger *logrus.Logger
}

// Open opens (or creates) the id database at dbPath.
func Open(dbPath string, logger *logrus.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create id mapper directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open id mapper database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create id mapper schema: %w", err)
	}

	s := &Store{db: db, hash: MD5, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Mapper returns the mapper of one scope, usually one folder.
func (s *Store) Mapper(scope string) *Mapper {
	return &Mapper{store: s, scope: scope}
}

// Mapper maps ids within one scope.
type Mapper struct {
	store *Store
	scope string
}

// Insert records internalID and returns its user-facing id.
func (m *Mapper) Insert(ctx context.Context, internalID string) (string, error) {
	if _, err := m.Append(ctx, []string{internalID}); err != nil {
		return "", err
	}
	return m.GetID(ctx, internalID)
}

// Append records a batch of internal ids and returns the id length needed to
// keep all recorded entries unambiguous.
func (m *Mapper) Append(ctx context.Context, internalIDs []string) (int, error) {
	tx, err := m.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin id mapper transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, internalID := range internalIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO id_mapper (scope, hash, internal_id) VALUES (?, ?, ?)
			 ON CONFLICT(scope, internal_id) DO NOTHING`,
			m.scope, m.store.hash(internalID), internalID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert id %s: %w", internalID, err)
		}
	}

	var hashes []string
	if err := tx.SelectContext(ctx, &hashes, `SELECT DISTINCT hash FROM id_mapper WHERE scope = ?`, m.scope); err != nil {
		return 0, fmt.Errorf("failed to list hashes: %w", err)
	}

	current, err := shortLen(ctx, tx, m.scope)
	if err != nil {
		return 0, err
	}

	length := max(current, disambiguationLength(hashes))
	if length != current {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO id_mapper_scopes (scope, short_len) VALUES (?, ?)
			 ON CONFLICT(scope) DO UPDATE SET short_len = excluded.short_len`,
			m.scope, length)
		if err != nil {
			return 0, fmt.Errorf("failed to store id length: %w", err)
		}
		m.store.logger.WithFields(logrus.Fields{
			"scope":  m.scope,
			"length": length,
		}).Debug("Extended id length")
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ids: %w", err)
	}
	return length, nil
}

// Len returns the current id length of the scope.
func (m *Mapper) Len(ctx context.Context) (int, error) {
	return shortLen(ctx, m.store.db, m.scope)
}

// GetID returns the user-facing id of internalID.
func (m *Mapper) GetID(ctx context.Context, internalID string) (string, error) {
	var hash string
	err := m.store.db.GetContext(ctx, &hash,
		`SELECT hash FROM id_mapper WHERE scope = ? AND internal_id = ?`, m.scope, internalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("internal id %s: %w", internalID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get id of %s: %w", internalID, err)
	}

	length, err := m.Len(ctx)
	if err != nil {
		return "", err
	}
	return hash[:min(length, len(hash))], nil
}

// GetInternalID resolves a user-facing id, or any unambiguous hash prefix.
func (m *Mapper) GetInternalID(ctx context.Context, id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return "", fmt.Errorf("empty id: %w", ErrNotFound)
	}

	var internalIDs []string
	err := m.store.db.SelectContext(ctx, &internalIDs,
		`SELECT internal_id FROM id_mapper WHERE scope = ? AND substr(hash, 1, ?) = ? LIMIT 2`,
		m.scope, len(id), id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve id %s: %w", id, err)
	}

	switch len(internalIDs) {
	case 0:
		return "", fmt.Errorf("id %s: %w", id, ErrNotFound)
	case 1:
		return internalIDs[0], nil
	default:
		return "", fmt.Errorf("id %s: %w", id, ErrAmbiguous)
	}
}

func shortLen(ctx context.Context, q sqlx.QueryerContext, scope string) (int, error) {
	var length int
	err := sqlx.GetContext(ctx, q, &length, `SELECT short_len FROM id_mapper_scopes WHERE scope = ?`, scope)
	if errors.Is(err, sql.ErrNoRows) {
		return MinLength, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get id length: %w", err)
	}
	return length, nil
}

// disambiguationLength is one more than the longest common prefix of any two
// distinct hashes, which only needs checking between sorted neighbours.
func disambiguationLength(hashes []string) int {
	sorted := append([]string(nil), hashes...)
	sort.Strings(sorted)

	length := MinLength
	for i := 1; i < len(sorted); i++ {
		a, b := sorted[i-1], sorted[i]
		n := 0
		for n < len(a) && n < len(b) && a[n] == b[n] {
			n++
		}
		if n+1 > length {
			length = n + 1
		}
	}
	return length
}
