package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"easyform/internal/security"

	_ "modernc.org/sqlite" // cgo-free driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
  shop             TEXT PRIMARY KEY,
  access_token_enc TEXT NOT NULL,
  scope            TEXT NOT NULL DEFAULT '',
  created_at       TEXT NOT NULL,
  updated_at       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS oauth_states (
  state      TEXT PRIMARY KEY,
  shop       TEXT NOT NULL,
  expires_at INTEGER NOT NULL
);`

// SQLiteStore keeps sessions in a local file for the dev server.
type SQLiteStore struct {
	db     *sql.DB
	cipher *security.TokenCipher
}

func NewSQLiteStore(path string, cipher *security.TokenCipher) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma failed: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema failed: %w", err)
	}

	return &SQLiteStore{db: db, cipher: cipher}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetSession(ctx context.Context, shop string) (*Session, error) {
	var enc, scope, created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token_enc, scope, created_at, updated_at FROM sessions WHERE shop = ?`, shop,
	).Scan(&enc, &scope, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	token, err := s.cipher.Open(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	return &Session{
		Shop:        shop,
		AccessToken: token,
		Scope:       scope,
		CreatedAt:   parseTime(created),
		UpdatedAt:   parseTime(updated),
	}, nil
}

func (s *SQLiteStore) PutSession(ctx context.Context, sess Session) error {
	enc, err := s.cipher.Seal(sess.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (shop, access_token_enc, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(shop) DO UPDATE SET
		  access_token_enc = excluded.access_token_enc,
		  scope = excluded.scope,
		  updated_at = excluded.updated_at`,
		sess.Shop, enc, sess.Scope, sess.CreatedAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, shop string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE shop = ?`, shop)
	return err
}

func (s *SQLiteStore) UpdateScope(ctx context.Context, shop, scope string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET scope = ?, updated_at = ? WHERE shop = ?`,
		scope, time.Now().UTC().Format(time.RFC3339), shop,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, st OAuthState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO oauth_states (state, shop, expires_at) VALUES (?, ?, ?)`,
		st.State, st.Shop, st.ExpiresAt.Unix(),
	)
	return err
}

func (s *SQLiteStore) TakeState(ctx context.Context, state string) (*OAuthState, error) {
	var shop string
	var exp int64
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM oauth_states WHERE state = ? RETURNING shop, expires_at`, state,
	).Scan(&shop, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	expiresAt := time.Unix(exp, 0).UTC()
	if time.Now().UTC().After(expiresAt) {
		return nil, ErrNotFound
	}
	return &OAuthState{State: state, Shop: shop, ExpiresAt: expiresAt}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}
