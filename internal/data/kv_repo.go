package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/booking-session/internal/data/pgxutil"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

// SessionKVRepo persists session keys in the session_kv table.
type SessionKVRepo struct {
	DB     *sql.DB
	Prefix string
}

var _ ports.KeyValueStore = (*SessionKVRepo)(nil)

// NewSessionKVRepo creates a new SessionKVRepo. Keys are stored as prefix+key.
func NewSessionKVRepo(db *sql.DB, prefix string) *SessionKVRepo {
	return &SessionKVRepo{DB: db, Prefix: prefix}
}

// Get returns the stored value, or a NotFound AppError when absent.
func (r *SessionKVRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `SELECT value FROM session_kv WHERE key = $1`, r.Prefix+key).Scan(&value)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.NotFound(fmt.Sprintf("key %q not found", key))
		}
		return "", fmt.Errorf("get session key: %w", apperrors.MapDBError(err))
	}
	return value, nil
}

// Set upserts value under key.
func (r *SessionKVRepo) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return apperrors.ValidationField("key", "key cannot be empty")
	}
	const q = `
		INSERT INTO session_kv (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := r.DB.ExecContext(ctx, q, r.Prefix+key, value); err != nil {
		return fmt.Errorf("set session key: %w", apperrors.MapDBError(err))
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (r *SessionKVRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM session_kv WHERE key = $1`, r.Prefix+key); err != nil {
		return fmt.Errorf("delete session key: %w", apperrors.MapDBError(err))
	}
	return nil
}
