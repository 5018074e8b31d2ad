package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LearnWiseAI/moodle-local-learnwise/internal/domain"
)

// Compile-time interface assertion.
var _ Store = (*PostgresStore)(nil)

// querier is the subset of pgx shared by pool and transaction handles.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on pgx. Outside WithTx it runs against the
// pool; inside, every method runs on the enclosing transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   querier
	node *snowflake.Node
}

func NewPostgresStore(pool *pgxpool.Pool, node *snowflake.Node) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool, node: node}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		// Already inside a transaction; reuse it.
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresStore{db: tx, node: s.node}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const getClientSQL = `SELECT id, uniq_id, secret_hash, created_at FROM oauth_clients WHERE uniq_id = $1`

func (s *PostgresStore) GetClient(ctx context.Context, uniqID string) (domain.Client, error) {
	return s.scanClient(s.db.QueryRow(ctx, getClientSQL, uniqID))
}

const getClientByIDSQL = `SELECT id, uniq_id, secret_hash, created_at FROM oauth_clients WHERE id = $1`

func (s *PostgresStore) GetClientByID(ctx context.Context, id int64) (domain.Client, error) {
	return s.scanClient(s.db.QueryRow(ctx, getClientByIDSQL, id))
}

const firstClientSQL = `SELECT id, uniq_id, secret_hash, created_at FROM oauth_clients ORDER BY id LIMIT 1`

func (s *PostgresStore) FirstClient(ctx context.Context) (domain.Client, error) {
	return s.scanClient(s.db.QueryRow(ctx, firstClientSQL))
}

const insertClientSQL = `INSERT INTO oauth_clients (id, uniq_id, secret_hash)
VALUES ($1, $2, $3)
RETURNING id, uniq_id, secret_hash, created_at`

func (s *PostgresStore) CreateClient(ctx context.Context, client domain.Client) (domain.Client, error) {
	id := client.ID
	if id == 0 {
		id = s.node.Generate().Int64()
	}
	return s.scanClient(s.db.QueryRow(ctx, insertClientSQL, id, client.UniqID, client.SecretHash))
}

func (s *PostgresStore) scanClient(row pgx.Row) (domain.Client, error) {
	var c domain.Client
	if err := row.Scan(&c.ID, &c.UniqID, &c.SecretHash, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Client{}, domain.ErrNotFound
		}
		return domain.Client{}, fmt.Errorf("scan client: %w", err)
	}
	return c, nil
}

// getOrCreateGrantSQL relies on the unique (client_id, user_id) index. The
// no-op DO UPDATE makes RETURNING yield the existing row on conflict, so
// concurrent callers all land on the same grant.
const getOrCreateGrantSQL = `INSERT INTO user_grants (id, client_id, user_id)
VALUES ($1, $2, $3)
ON CONFLICT (client_id, user_id) DO UPDATE SET user_id = excluded.user_id
RETURNING id, client_id, user_id`

func (s *PostgresStore) GetOrCreateGrant(ctx context.Context, clientID, userID int64) (domain.Grant, error) {
	id := s.node.Generate().Int64()
	return s.scanGrant(s.db.QueryRow(ctx, getOrCreateGrantSQL, id, clientID, userID))
}

const findGrantSQL = `SELECT id, client_id, user_id FROM user_grants WHERE client_id = $1 AND user_id = $2`

func (s *PostgresStore) FindGrant(ctx context.Context, clientID, userID int64) (domain.Grant, error) {
	return s.scanGrant(s.db.QueryRow(ctx, findGrantSQL, clientID, userID))
}

const getGrantSQL = `SELECT id, client_id, user_id FROM user_grants WHERE id = $1`

func (s *PostgresStore) GetGrant(ctx context.Context, id int64) (domain.Grant, error) {
	return s.scanGrant(s.db.QueryRow(ctx, getGrantSQL, id))
}

func (s *PostgresStore) scanGrant(row pgx.Row) (domain.Grant, error) {
	var g domain.Grant
	if err := row.Scan(&g.ID, &g.ClientID, &g.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Grant{}, domain.ErrNotFound
		}
		return domain.Grant{}, fmt.Errorf("scan grant: %w", err)
	}
	return g, nil
}

// upsertCodeSQL drops any pending code for the grant in the same statement,
// so a repeated authorize never leaves two redeemable codes behind.
const upsertCodeSQL = `WITH stale AS (
	DELETE FROM auth_codes WHERE grant_id = $2
)
INSERT INTO auth_codes (code, grant_id, redirect_uri, scope, id_token, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`

func (s *PostgresStore) UpsertAuthorizationCode(ctx context.Context, code domain.AuthorizationCode) error {
	_, err := s.db.Exec(ctx, upsertCodeSQL,
		code.Code, code.GrantID, code.RedirectURI, code.Scope, code.IDToken, code.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert code: %w", err)
	}
	return nil
}

const getCodeSQL = `SELECT code, grant_id, redirect_uri, scope, id_token, expires_at
FROM auth_codes WHERE code = $1`

func (s *PostgresStore) GetAuthorizationCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	var c domain.AuthorizationCode
	err := s.db.QueryRow(ctx, getCodeSQL, code).Scan(
		&c.Code, &c.GrantID, &c.RedirectURI, &c.Scope, &c.IDToken, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuthorizationCode{}, domain.ErrNotFound
		}
		return domain.AuthorizationCode{}, fmt.Errorf("scan code: %w", err)
	}
	return c, nil
}

const deleteCodeSQL = `DELETE FROM auth_codes WHERE code = $1`

func (s *PostgresStore) DeleteAuthorizationCode(ctx context.Context, code string) (bool, error) {
	tag, err := s.db.Exec(ctx, deleteCodeSQL, code)
	if err != nil {
		return false, fmt.Errorf("delete code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// upsertAccessTokenSQL enforces one live access token per grant without a
// unique index, matching the replace-on-issue behavior.
const upsertAccessTokenSQL = `WITH stale AS (
	DELETE FROM access_tokens WHERE grant_id = $2
)
INSERT INTO access_tokens (token, grant_id, scope, expires_at)
VALUES ($1, $2, $3, $4)`

func (s *PostgresStore) UpsertAccessToken(ctx context.Context, token domain.AccessToken) error {
	_, err := s.db.Exec(ctx, upsertAccessTokenSQL, token.Token, token.GrantID, token.Scope, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert access token: %w", err)
	}
	return nil
}

const insertAccessTokenSQL = `INSERT INTO access_tokens (token, grant_id, scope, expires_at)
VALUES ($1, $2, $3, $4)`

func (s *PostgresStore) InsertAccessToken(ctx context.Context, token domain.AccessToken) error {
	_, err := s.db.Exec(ctx, insertAccessTokenSQL, token.Token, token.GrantID, token.Scope, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert access token: %w", err)
	}
	return nil
}

const getAccessTokenSQL = `SELECT token, grant_id, scope, expires_at FROM access_tokens WHERE token = $1`

func (s *PostgresStore) GetAccessToken(ctx context.Context, token string) (domain.AccessToken, error) {
	var t domain.AccessToken
	err := s.db.QueryRow(ctx, getAccessTokenSQL, token).Scan(&t.Token, &t.GrantID, &t.Scope, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AccessToken{}, domain.ErrNotFound
		}
		return domain.AccessToken{}, fmt.Errorf("scan access token: %w", err)
	}
	return t, nil
}

const deleteAccessTokenSQL = `DELETE FROM access_tokens WHERE token = $1`

func (s *PostgresStore) DeleteAccessToken(ctx context.Context, token string) (bool, error) {
	tag, err := s.db.Exec(ctx, deleteAccessTokenSQL, token)
	if err != nil {
		return false, fmt.Errorf("delete access token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const deleteAccessTokensForGrantSQL = `DELETE FROM access_tokens WHERE grant_id = $1`

func (s *PostgresStore) DeleteAccessTokensForGrant(ctx context.Context, grantID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteAccessTokensForGrantSQL, grantID)
	if err != nil {
		return 0, fmt.Errorf("delete grant access tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

const insertRefreshTokenSQL = `INSERT INTO refresh_tokens (token, grant_id, scope, expires_at)
VALUES ($1, $2, $3, $4)`

func (s *PostgresStore) InsertRefreshToken(ctx context.Context, token domain.RefreshToken) error {
	_, err := s.db.Exec(ctx, insertRefreshTokenSQL, token.Token, token.GrantID, token.Scope, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

const getRefreshTokenSQL = `SELECT token, grant_id, scope, expires_at FROM refresh_tokens WHERE token = $1`

func (s *PostgresStore) GetRefreshToken(ctx context.Context, token string) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := s.db.QueryRow(ctx, getRefreshTokenSQL, token).Scan(&t.Token, &t.GrantID, &t.Scope, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RefreshToken{}, domain.ErrNotFound
		}
		return domain.RefreshToken{}, fmt.Errorf("scan refresh token: %w", err)
	}
	return t, nil
}

const deleteRefreshTokenSQL = `DELETE FROM refresh_tokens WHERE token = $1`

func (s *PostgresStore) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	tag, err := s.db.Exec(ctx, deleteRefreshTokenSQL, token)
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

var purgeStatements = []string{
	`DELETE FROM auth_codes WHERE expires_at <= $1`,
	`DELETE FROM access_tokens WHERE expires_at <= $1`,
	`DELETE FROM refresh_tokens WHERE expires_at <= $1`,
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, stmt := range purgeStatements {
		tag, err := s.db.Exec(ctx, stmt, before)
		if err != nil {
			return total, fmt.Errorf("purge expired: %w", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
