// Package sqlite is a durable authmgr.Store backed by an SQLite file,
// holding one row per project key.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aussiebroadwan/tokenkeeper/pkg/authmgr"
)

type Store struct {
	db  *sql.DB
	dsn string
	now func() time.Time
}

var _ authmgr.Store = (*Store)(nil)

// NewStore opens the database at dsn. Call ApplyMigrations before use.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between our own goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Load(ctx context.Context, projectKey string) (authmgr.Record, error) {
	var (
		rec        authmgr.Record
		validUntil sql.NullInt64
		state      string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, valid_until, state
		FROM token_records
		WHERE project_key = ?`, projectKey,
	).Scan(&rec.AccessToken, &rec.RefreshToken, &validUntil, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return authmgr.Record{}, nil
	}
	if err != nil {
		return authmgr.Record{}, fmt.Errorf("select token record: %w", err)
	}

	if err := rec.State.UnmarshalText([]byte(state)); err != nil {
		return authmgr.Record{}, fmt.Errorf("token record for %s: %w", projectKey, err)
	}
	if validUntil.Valid {
		rec.ValidUntil = time.UnixMilli(validUntil.Int64)
	}
	return rec, nil
}

func (s *Store) Save(ctx context.Context, projectKey string, rec authmgr.Record) error {
	state, err := rec.State.MarshalText()
	if err != nil {
		return err
	}

	var validUntil sql.NullInt64
	if !rec.ValidUntil.IsZero() {
		validUntil = sql.NullInt64{Int64: rec.ValidUntil.UnixMilli(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO token_records (project_key, access_token, refresh_token, valid_until, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_key) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			valid_until   = excluded.valid_until,
			state         = excluded.state,
			updated_at    = excluded.updated_at`,
		projectKey, rec.AccessToken, rec.RefreshToken, validUntil, string(state), s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert token record: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, projectKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM token_records WHERE project_key = ?`, projectKey); err != nil {
		return fmt.Errorf("delete token record: %w", err)
	}
	return nil
}

// Projects lists the project keys that have a stored record.
func (s *Store) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project_key FROM token_records ORDER BY project_key`)
	if err != nil {
		return nil, fmt.Errorf("list token records: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
