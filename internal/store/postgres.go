package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"nepojang/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// methods serve pooled and transactional access.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

func (s *Postgres) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		// Already inside a transaction; run against the same view.
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Postgres{q: tx})
	})
}

// mapErr translates driver errors into the store taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func (s *Postgres) CreateAccount(ctx context.Context, a *models.Account) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO accounts (uuid, username, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		a.UUID, a.Username, a.PasswordHash, a.CreatedAt).Scan(&a.ID)
	return mapErr(err)
}

const accountCols = `id, uuid, username, password_hash, created_at`

func (s *Postgres) scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UUID, &a.Username, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *Postgres) AccountByID(ctx context.Context, id int64) (*models.Account, error) {
	return s.scanAccount(s.q.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
}

func (s *Postgres) AccountByUUID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.scanAccount(s.q.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE uuid = $1`, id))
}

func (s *Postgres) AccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.scanAccount(s.q.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE username = $1`, username))
}

func (s *Postgres) UpdateAccount(ctx context.Context, a *models.Account) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE accounts SET uuid = $2, username = $3, password_hash = $4 WHERE id = $1`,
		a.ID, a.UUID, a.Username, a.PasswordHash)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteAccount(ctx context.Context, id int64) error {
	// Profiles, client tokens and access tokens cascade via foreign keys.
	tag, err := s.q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateProfile(ctx context.Context, p *models.Profile) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO profiles (uuid, account_id, agent, name, name_upper, name_lower, skin_key, cape_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		p.UUID, p.AccountID, p.Agent, p.Name, p.NameUpper, p.NameLower,
		p.SkinKey, p.CapeKey, p.CreatedAt).Scan(&p.ID)
	return mapErr(err)
}

const profileCols = `id, uuid, account_id, agent, name, name_upper, name_lower, skin_key, cape_key, created_at`

func (s *Postgres) scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.UUID, &p.AccountID, &p.Agent, &p.Name,
		&p.NameUpper, &p.NameLower, &p.SkinKey, &p.CapeKey, &p.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Postgres) ProfileByID(ctx context.Context, id int64) (*models.Profile, error) {
	return s.scanProfile(s.q.QueryRow(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE id = $1`, id))
}

func (s *Postgres) ProfileByUUID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return s.scanProfile(s.q.QueryRow(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE uuid = $1`, id))
}

func (s *Postgres) ProfileByName(ctx context.Context, name string) (*models.Profile, error) {
	return s.scanProfile(s.q.QueryRow(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE name_lower = lower($1)`, name))
}

func (s *Postgres) ProfileByAccount(ctx context.Context, accountID int64) (*models.Profile, error) {
	// At most one profile per account; ORDER BY guards against legacy rows.
	return s.scanProfile(s.q.QueryRow(ctx,
		`SELECT `+profileCols+` FROM profiles WHERE account_id = $1 ORDER BY id LIMIT 1`, accountID))
}

func (s *Postgres) UpdateProfile(ctx context.Context, p *models.Profile) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE profiles SET name = $2, name_upper = $3, name_lower = $4, skin_key = $5, cape_key = $6
		 WHERE id = $1`,
		p.ID, p.Name, p.NameUpper, p.NameLower, p.SkinKey, p.CapeKey)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) AppendNameEvent(ctx context.Context, e *models.ProfileNameEvent) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO profile_name_events (profile_id, name, name_upper, name_lower, active_from, is_initial_name)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		e.ProfileID, e.Name, e.NameUpper, e.NameLower, e.ActiveFrom, e.IsInitialName).Scan(&e.ID)
	return mapErr(err)
}

const eventCols = `id, profile_id, name, name_upper, name_lower, active_from, is_initial_name`

func scanEvents(rows pgx.Rows) ([]models.ProfileNameEvent, error) {
	defer rows.Close()
	var out []models.ProfileNameEvent
	for rows.Next() {
		var e models.ProfileNameEvent
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.Name, &e.NameUpper,
			&e.NameLower, &e.ActiveFrom, &e.IsInitialName); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

func (s *Postgres) NameEvents(ctx context.Context, profileID int64) ([]models.ProfileNameEvent, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+eventCols+` FROM profile_name_events
		 WHERE profile_id = $1 ORDER BY active_from DESC, id DESC`, profileID)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanEvents(rows)
}

func (s *Postgres) LatestNameEvent(ctx context.Context, profileID int64) (*models.ProfileNameEvent, error) {
	var e models.ProfileNameEvent
	err := s.q.QueryRow(ctx,
		`SELECT `+eventCols+` FROM profile_name_events
		 WHERE profile_id = $1 ORDER BY active_from DESC, id DESC LIMIT 1`,
		profileID).Scan(&e.ID, &e.ProfileID, &e.Name, &e.NameUpper,
		&e.NameLower, &e.ActiveFrom, &e.IsInitialName)
	if err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

func (s *Postgres) NameEventsByName(ctx context.Context, name string) ([]models.ProfileNameEvent, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+eventCols+` FROM profile_name_events
		 WHERE name_lower = lower($1) ORDER BY active_from DESC, id DESC`, name)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanEvents(rows)
}

func (s *Postgres) CreateClientToken(ctx context.Context, t *models.ClientToken) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO client_tokens (uuid, account_id, created_utc, expiry_utc)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		t.UUID, t.AccountID, t.CreatedUTC, t.ExpiryUTC).Scan(&t.ID)
	return mapErr(err)
}

const clientTokenCols = `id, uuid, account_id, created_utc, expiry_utc`

func (s *Postgres) scanClientToken(row pgx.Row) (*models.ClientToken, error) {
	var t models.ClientToken
	err := row.Scan(&t.ID, &t.UUID, &t.AccountID, &t.CreatedUTC, &t.ExpiryUTC)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Postgres) ClientTokenByID(ctx context.Context, id int64) (*models.ClientToken, error) {
	return s.scanClientToken(s.q.QueryRow(ctx,
		`SELECT `+clientTokenCols+` FROM client_tokens WHERE id = $1`, id))
}

func (s *Postgres) ClientTokenByUUID(ctx context.Context, id uuid.UUID) (*models.ClientToken, error) {
	return s.scanClientToken(s.q.QueryRow(ctx,
		`SELECT `+clientTokenCols+` FROM client_tokens WHERE uuid = $1`, id))
}

func (s *Postgres) UpdateClientToken(ctx context.Context, t *models.ClientToken) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE client_tokens SET expiry_utc = $2 WHERE id = $1`,
		t.ID, t.ExpiryUTC)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO access_tokens (uuid, issuer, created_utc, expiry_utc, authentication_valid, account_id, client_token_id, profile_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		t.UUID, t.Issuer, t.CreatedUTC, t.ExpiryUTC, t.AuthenticationValid,
		t.AccountID, t.ClientTokenID, t.ProfileID).Scan(&t.ID)
	return mapErr(err)
}

func (s *Postgres) AccessTokenByUUID(ctx context.Context, id uuid.UUID) (*models.AccessToken, error) {
	var t models.AccessToken
	err := s.q.QueryRow(ctx,
		`SELECT id, uuid, issuer, created_utc, expiry_utc, authentication_valid, account_id, client_token_id, profile_id
		 FROM access_tokens WHERE uuid = $1`, id).
		Scan(&t.ID, &t.UUID, &t.Issuer, &t.CreatedUTC, &t.ExpiryUTC,
			&t.AuthenticationValid, &t.AccountID, &t.ClientTokenID, &t.ProfileID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Postgres) InvalidateAccountTokensExcept(ctx context.Context, accountID, keepID int64) error {
	_, err := s.q.Exec(ctx,
		`UPDATE access_tokens SET authentication_valid = false
		 WHERE account_id = $1 AND id <> $2`, accountID, keepID)
	return mapErr(err)
}

func (s *Postgres) DeleteAccessToken(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM access_tokens WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeleteAccessTokensByUUID(ctx context.Context, id uuid.UUID, clientToken *uuid.UUID) (int64, error) {
	if clientToken != nil {
		tag, err := s.q.Exec(ctx,
			`DELETE FROM access_tokens a
			 USING client_tokens c
			 WHERE a.client_token_id = c.id AND a.uuid = $1 AND c.uuid = $2`,
			id, *clientToken)
		return tag.RowsAffected(), mapErr(err)
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM access_tokens WHERE uuid = $1`, id)
	return tag.RowsAffected(), mapErr(err)
}

func (s *Postgres) DeleteAccountAccessTokens(ctx context.Context, accountID int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM access_tokens WHERE account_id = $1`, accountID)
	return mapErr(err)
}
