package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/tomfahy/studycache/internal/domain"
	"github.com/tomfahy/studycache/internal/session"
)

// Store is the per-user local cache. Every operation is scoped to the user
// currently held by the shared session: writes are silent no-ops and reads
// yield empty results while signed out, since anonymous read-through to the
// remote is a valid mode.
type Store struct {
	conn    *sql.DB
	session *session.Session
}

// Open creates the cache database connection and ensures the schema is up
// to date.
func Open(dsn string, sess *session.Session) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply cache schema: %w", err)
	}

	return &Store{conn: db, session: sess}, nil
}

// Close closes the cache database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// PutMany upserts a batch of records into the current user's partition for
// the collection, in a single transaction: either every record is written or
// none are. An empty batch is a no-op and never clears existing rows.
//
// Conflicting rows are merged field-by-field with json_patch, so a record
// that omits a field leaves the previously cached value for that field in
// place.
func (s *Store) PutMany(ctx context.Context, collection string, entities []domain.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	userID := s.session.UserID()
	if userID == "" {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (user_id, collection, id, parent_id, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, collection, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			payload = json_patch(records.payload, excluded.payload),
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cache upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, entity := range entities {
		payload, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", entity.CacheKey(), err)
		}
		if _, err := stmt.ExecContext(ctx, userID, collection, entity.CacheKey(), entity.CacheParent(), string(payload), now); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", entity.CacheKey(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache batch: %w", err)
	}
	return nil
}

// PutOne upserts a single record.
func (s *Store) PutOne(ctx context.Context, collection string, entity domain.Entity) error {
	return s.PutMany(ctx, collection, []domain.Entity{entity})
}

// GetAll returns the payloads of every cached record in the collection for
// the current user.
func (s *Store) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	userID := s.session.UserID()
	if userID == "" {
		return nil, nil
	}
	return s.queryPayloads(ctx, `
		SELECT payload FROM records
		WHERE user_id = ? AND collection = ?
		ORDER BY id
	`, userID, collection)
}

// GetByParent returns the payloads of cached records whose parent is
// parentID, e.g. the lessons of one subject.
func (s *Store) GetByParent(ctx context.Context, collection, parentID string) ([][]byte, error) {
	userID := s.session.UserID()
	if userID == "" {
		return nil, nil
	}
	return s.queryPayloads(ctx, `
		SELECT payload FROM records
		WHERE user_id = ? AND collection = ? AND parent_id = ?
		ORDER BY id
	`, userID, collection, parentID)
}

// GetOne returns the payload of the record with the given id, or (nil, nil)
// when it is not cached.
func (s *Store) GetOne(ctx context.Context, collection, id string) ([]byte, error) {
	userID := s.session.UserID()
	if userID == "" {
		return nil, nil
	}

	var payload []byte
	row := s.conn.QueryRowContext(ctx, `
		SELECT payload FROM records
		WHERE user_id = ? AND collection = ? AND id = ?
	`, userID, collection, id)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Record not cached
		}
		return nil, fmt.Errorf("failed to load cached record %s/%s: %w", collection, id, err)
	}
	return payload, nil
}

func (s *Store) queryPayloads(ctx context.Context, query string, args ...any) ([][]byte, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached records: %w", err)
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan cached record: %w", err)
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cached records: %w", err)
	}
	return payloads, nil
}
