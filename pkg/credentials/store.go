// Package credentials provides the keyed lookup/update store for per-venue
// API secrets, backed by SQLite with optional at-rest encryption.
package credentials

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS venue_credentials (
	venue      TEXT PRIMARY KEY,
	api_key    TEXT NOT NULL,
	api_secret TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Store is a SQLite-backed credential manager. Venue names are lowercased on
// every access so lookups are case-insensitive.
type Store struct {
	db     *sql.DB
	enc    *Encryptor
	logger *zap.Logger
}

// Open creates (if needed) and opens the store at path. A 32-byte
// encryptionKey enables at-rest encryption of stored values; an empty key
// stores them in plaintext.
func Open(path, encryptionKey string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("credentials: store path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	var enc *Encryptor
	if encryptionKey != "" {
		enc, err = NewEncryptor([]byte(encryptionKey))
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db, enc: enc, logger: logger}, nil
}

// Get returns the stored key/secret pair for venue. Unknown venues yield
// empty strings, not an error.
func (s *Store) Get(venue string) (apiKey, apiSecret string, err error) {
	row := s.db.QueryRow(
		`SELECT api_key, api_secret FROM venue_credentials WHERE venue = ?`,
		strings.ToLower(venue),
	)
	if err := row.Scan(&apiKey, &apiSecret); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("credentials: get %s: %w", venue, err)
	}

	if apiKey, err = s.enc.Decrypt(apiKey); err != nil {
		return "", "", fmt.Errorf("credentials: decrypt key for %s: %w", venue, err)
	}
	if apiSecret, err = s.enc.Decrypt(apiSecret); err != nil {
		return "", "", fmt.Errorf("credentials: decrypt secret for %s: %w", venue, err)
	}
	return apiKey, apiSecret, nil
}

// Set stores the pair for venue. Setting both values empty removes the entry.
func (s *Store) Set(venue, apiKey, apiSecret string) error {
	venue = strings.ToLower(venue)

	if apiKey == "" && apiSecret == "" {
		if _, err := s.db.Exec(`DELETE FROM venue_credentials WHERE venue = ?`, venue); err != nil {
			return fmt.Errorf("credentials: delete %s: %w", venue, err)
		}
		s.logger.Info("removed credentials", zap.String("venue", venue))
		return nil
	}

	encKey, err := s.enc.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("credentials: encrypt key for %s: %w", venue, err)
	}
	encSecret, err := s.enc.Encrypt(apiSecret)
	if err != nil {
		return fmt.Errorf("credentials: encrypt secret for %s: %w", venue, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO venue_credentials (venue, api_key, api_secret, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(venue) DO UPDATE SET
			api_key    = excluded.api_key,
			api_secret = excluded.api_secret,
			updated_at = CURRENT_TIMESTAMP`,
		venue, encKey, encSecret,
	)
	if err != nil {
		return fmt.Errorf("credentials: set %s: %w", venue, err)
	}
	s.logger.Info("updated credentials", zap.String("venue", venue))
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
