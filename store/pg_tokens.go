package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTokensTable = `
CREATE TABLE IF NOT EXISTS fcm_tokens (
	id uuid PRIMARY KEY,
	fcm_token text NOT NULL,
	account text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (fcm_token, account)
)`

// PgxPool is the part of *pgxpool.Pool the repo needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PgTokenRepo stores push tokens in Postgres.
type PgTokenRepo struct {
	Pool PgxPool
}

var _ TokenRepo = (*PgTokenRepo)(nil)

// NewPgTokenRepo connects to dsn and makes sure the tokens table exists.
func NewPgTokenRepo(ctx context.Context, dsn string, maxConns int) (*PgTokenRepo, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTokensTable); err != nil {
		pool.Close()
		return nil, err
	}
	return &PgTokenRepo{Pool: pool}, nil
}

func (r *PgTokenRepo) Register(ctx context.Context, account, token string) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO fcm_tokens (id, fcm_token, account)
		VALUES ($1, $2, $3)
		ON CONFLICT (fcm_token, account) DO UPDATE SET updated_at = now()`,
		uuid.New(), token, account)
	return err
}

func (r *PgTokenRepo) Remove(ctx context.Context, account, token string) error {
	_, err := r.Pool.Exec(ctx, `DELETE FROM fcm_tokens WHERE fcm_token = $1`, token)
	return err
}

func (r *PgTokenRepo) Tokens(ctx context.Context, account string) ([]string, error) {
	rows, err := r.Pool.Query(ctx, `SELECT fcm_token FROM fcm_tokens WHERE account = $1 ORDER BY updated_at DESC`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (r *PgTokenRepo) Close() {
	r.Pool.Close()
}
