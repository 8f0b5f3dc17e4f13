package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const createCredentialsTable = `
CREATE TABLE IF NOT EXISTS oidc_credentials (
	account_id    TEXT PRIMARY KEY,
	account_type  TEXT NOT NULL,
	account_name  TEXT NOT NULL,
	id_token      TEXT NOT NULL DEFAULT '',
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expires_at    BIGINT NOT NULL DEFAULT 0,
	updated_at    BIGINT NOT NULL
)`

const upsertCredentials = `
INSERT INTO oidc_credentials (
	account_id, account_type, account_name, id_token, access_token,
	refresh_token, token_type, expires_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (account_id) DO UPDATE SET
	id_token = excluded.id_token,
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	token_type = excluded.token_type,
	expires_at = excluded.expires_at,
	updated_at = excluded.updated_at`

// SQLStore keeps one row per account in a sqlite3 or postgres database.
// A single upsert statement replaces the row, so a Put is all-or-nothing.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens the database with the given driver ("sqlite3" or "postgres")
// and creates the credentials table when missing.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	s := &SQLStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an already opened database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the credentials table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createCredentialsTable); err != nil {
		return fmt.Errorf("create credentials table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, accountID string) (Record, error) {
	var (
		rec                Record
		expires, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT account_type, account_name, id_token, access_token, refresh_token,
       token_type, expires_at, updated_at
FROM oidc_credentials WHERE account_id = $1`, accountID).Scan(
		&rec.Account.Type, &rec.Account.Name, &rec.Tokens.IDToken,
		&rec.Tokens.AccessToken, &rec.Tokens.RefreshToken, &rec.Tokens.TokenType,
		&expires, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, wrap("get", accountID, err)
	}
	rec.Tokens.Expiry = fromUnix(expires)
	rec.UpdatedAt = fromUnix(updatedAt)
	return rec, nil
}

func (s *SQLStore) Put(ctx context.Context, r Record) error {
	id := r.Account.ID()
	if err := validate(r); err != nil {
		return wrap("put", id, err)
	}
	_, err := s.db.ExecContext(ctx, upsertCredentials,
		id, r.Account.Type, r.Account.Name,
		r.Tokens.IDToken, r.Tokens.AccessToken, r.Tokens.RefreshToken, r.Tokens.TokenType,
		toUnix(r.Tokens.Expiry), toUnix(r.UpdatedAt),
	)
	return wrap("put", id, err)
}

func (s *SQLStore) Delete(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oidc_credentials WHERE account_id = $1`, accountID)
	return wrap("delete", accountID, err)
}

func (s *SQLStore) List(ctx context.Context, accountType string) ([]Account, error) {
	query := `SELECT account_type, account_name FROM oidc_credentials ORDER BY account_id`
	var args []any
	if accountType != "" {
		query = `SELECT account_type, account_name FROM oidc_credentials
WHERE account_type = $1 ORDER BY account_id`
		args = append(args, accountType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list", "", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.Type, &a.Name); err != nil {
			return nil, wrap("list", "", err)
		}
		out = append(out, a)
	}
	return out, wrap("list", "", rows.Err())
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
