package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"nepojang/internal/models"
)

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert or update violates a uniqueness
// constraint (username, profile name variant, or entity UUID).
var ErrDuplicate = errors.New("already exists")

// Store is the transactional identity store both engines run against.
// Implementations must surface uniqueness violations as ErrDuplicate so
// read-then-decide races resolve deterministically: of two concurrent
// writers, exactly one commits and the other observes ErrDuplicate.
type Store interface {
	// WithTx runs fn against a store view whose operations are all-or-nothing.
	// fn returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	CreateAccount(ctx context.Context, a *models.Account) error
	AccountByID(ctx context.Context, id int64) (*models.Account, error)
	AccountByUUID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	AccountByUsername(ctx context.Context, username string) (*models.Account, error)
	UpdateAccount(ctx context.Context, a *models.Account) error
	DeleteAccount(ctx context.Context, id int64) error

	CreateProfile(ctx context.Context, p *models.Profile) error
	ProfileByID(ctx context.Context, id int64) (*models.Profile, error)
	ProfileByUUID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	// ProfileByName matches against the lowercase variant, making the lookup
	// case-insensitive.
	ProfileByName(ctx context.Context, name string) (*models.Profile, error)
	ProfileByAccount(ctx context.Context, accountID int64) (*models.Profile, error)
	UpdateProfile(ctx context.Context, p *models.Profile) error

	AppendNameEvent(ctx context.Context, e *models.ProfileNameEvent) error
	// NameEvents returns a profile's ledger, newest first.
	NameEvents(ctx context.Context, profileID int64) ([]models.ProfileNameEvent, error)
	LatestNameEvent(ctx context.Context, profileID int64) (*models.ProfileNameEvent, error)
	// NameEventsByName returns every ledger row whose name matches any case
	// variant of name, newest first, across all profiles.
	NameEventsByName(ctx context.Context, name string) ([]models.ProfileNameEvent, error)

	CreateClientToken(ctx context.Context, t *models.ClientToken) error
	ClientTokenByID(ctx context.Context, id int64) (*models.ClientToken, error)
	ClientTokenByUUID(ctx context.Context, id uuid.UUID) (*models.ClientToken, error)
	UpdateClientToken(ctx context.Context, t *models.ClientToken) error

	CreateAccessToken(ctx context.Context, t *models.AccessToken) error
	AccessTokenByUUID(ctx context.Context, id uuid.UUID) (*models.AccessToken, error)
	// InvalidateAccountTokensExcept flips authentication_valid off for every
	// access token of the account other than keepID.
	InvalidateAccountTokensExcept(ctx context.Context, accountID, keepID int64) error
	DeleteAccessToken(ctx context.Context, id int64) error
	// DeleteAccessTokensByUUID removes tokens matching the yggt UUID,
	// optionally restricted to one client token.
	DeleteAccessTokensByUUID(ctx context.Context, id uuid.UUID, clientToken *uuid.UUID) (int64, error)
	DeleteAccountAccessTokens(ctx context.Context, accountID int64) error
}
