package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"nepojang/internal/models"
	"nepojang/internal/store"
)

// Token lifetimes. Client tokens are a rolling window refreshed on reuse;
// access-token expiry is informational only (validation never consults it).
const (
	AccessTokenTTL = 2 * 24 * time.Hour
	ClientTokenTTL = 30 * 24 * time.Hour
)

// Engine issues, rotates, validates and revokes bearer credentials against
// the identity store. Every mutating operation runs in one store transaction.
type Engine struct {
	log    *slog.Logger
	store  store.Store
	signer *Signer

	// Now and NewUUID are injection points for deterministic tests.
	Now     func() time.Time
	NewUUID func() uuid.UUID
}

func NewEngine(log *slog.Logger, st store.Store, signer *Signer) *Engine {
	return &Engine{
		log:     log,
		store:   st,
		signer:  signer,
		Now:     func() time.Time { return time.Now().UTC() },
		NewUUID: uuid.New,
	}
}

// Session is the outcome of a successful authenticate or refresh.
type Session struct {
	Bearer      string
	AccessToken *models.AccessToken
	ClientToken *models.ClientToken
	Account     *models.Account
	Profile     *models.Profile
}

// checkCredentials resolves the account and verifies the password. Both
// failure modes collapse into ErrInvalidCredentials so callers cannot
// distinguish an unknown username from a wrong password.
func (e *Engine) checkCredentials(ctx context.Context, username, password string) (*models.Account, error) {
	account, err := e.store.AccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("account lookup: %w", err)
	}
	ok, err := VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// Authenticate verifies the credentials, resolves or creates the client
// token, binds the account's profile when an agent is named, mints a fresh
// access token, and flips authentication_valid off on every other access
// token of the account, all in one transaction.
//
// A supplied clientTokenID owned by a different account is rejected with
// ErrInvalidCredentials; re-owning another installation's identifier is not
// supported.
func (e *Engine) Authenticate(ctx context.Context, username, password string, clientTokenID *uuid.UUID, agent string) (*Session, error) {
	account, err := e.checkCredentials(ctx, username, password)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	session := &Session{Account: account}

	err = e.store.WithTx(ctx, func(tx store.Store) error {
		clientToken, err := e.resolveClientToken(ctx, tx, account, clientTokenID, now)
		if err != nil {
			return err
		}
		session.ClientToken = clientToken

		if agent != "" {
			profile, err := tx.ProfileByAccount(ctx, account.ID)
			switch {
			case err == nil && profile.Agent == agent:
				session.Profile = profile
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("profile lookup: %w", err)
			}
		}

		token := &models.AccessToken{
			UUID:                e.NewUUID(),
			Issuer:              Issuer,
			CreatedUTC:          now,
			ExpiryUTC:           now.Add(AccessTokenTTL),
			AuthenticationValid: true,
			AccountID:           account.ID,
			ClientTokenID:       clientToken.ID,
		}
		if session.Profile != nil {
			token.ProfileID = &session.Profile.ID
		}
		if err := tx.CreateAccessToken(ctx, token); err != nil {
			return fmt.Errorf("create access token: %w", err)
		}
		session.AccessToken = token

		// At most one session generation is valid per account.
		if err := tx.InvalidateAccountTokensExcept(ctx, account.ID, token.ID); err != nil {
			return fmt.Errorf("invalidate previous tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.sign(session); err != nil {
		return nil, err
	}
	e.log.Info("session_issued",
		"account", hex(account.UUID),
		"client_token", hex(session.ClientToken.UUID))
	return session, nil
}

func (e *Engine) resolveClientToken(ctx context.Context, tx store.Store, account *models.Account, clientTokenID *uuid.UUID, now time.Time) (*models.ClientToken, error) {
	if clientTokenID == nil {
		return e.newClientToken(ctx, tx, account, e.NewUUID(), now)
	}

	existing, err := tx.ClientTokenByUUID(ctx, *clientTokenID)
	if errors.Is(err, store.ErrNotFound) {
		return e.newClientToken(ctx, tx, account, *clientTokenID, now)
	}
	if err != nil {
		return nil, fmt.Errorf("client token lookup: %w", err)
	}
	if existing.AccountID != account.ID {
		return nil, ErrInvalidCredentials
	}

	existing.ExpiryUTC = now.Add(ClientTokenTTL)
	if err := tx.UpdateClientToken(ctx, existing); err != nil {
		return nil, fmt.Errorf("refresh client token window: %w", err)
	}
	return existing, nil
}

func (e *Engine) newClientToken(ctx context.Context, tx store.Store, account *models.Account, id uuid.UUID, now time.Time) (*models.ClientToken, error) {
	token := &models.ClientToken{
		UUID:       id,
		AccountID:  account.ID,
		CreatedUTC: now,
		ExpiryUTC:  now.Add(ClientTokenTTL),
	}
	if err := tx.CreateClientToken(ctx, token); err != nil {
		return nil, fmt.Errorf("create client token: %w", err)
	}
	return token, nil
}

// Refresh rotates the access token named by the bearer: the old row is
// deleted and a new one minted on the same client token, carrying the same
// profile binding. The old UUID is permanently retired.
func (e *Engine) Refresh(ctx context.Context, bearer string, clientTokenID uuid.UUID) (*Session, error) {
	yggt, err := ReadYggt(bearer)
	if err != nil {
		return nil, ErrInvalidToken
	}

	now := e.Now()
	session := &Session{}

	err = e.store.WithTx(ctx, func(tx store.Store) error {
		old, err := tx.AccessTokenByUUID(ctx, yggt)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("access token lookup: %w", err)
		}
		clientToken, err := tx.ClientTokenByID(ctx, old.ClientTokenID)
		if err != nil {
			return fmt.Errorf("client token lookup: %w", err)
		}
		if clientToken.UUID != clientTokenID {
			return ErrInvalidToken
		}
		session.ClientToken = clientToken

		account, err := tx.AccountByID(ctx, old.AccountID)
		if err != nil {
			return fmt.Errorf("account lookup: %w", err)
		}
		session.Account = account

		if old.ProfileID != nil {
			profile, err := tx.ProfileByID(ctx, *old.ProfileID)
			if err != nil {
				return fmt.Errorf("profile lookup: %w", err)
			}
			session.Profile = profile
		}

		fresh := &models.AccessToken{
			UUID:                e.NewUUID(),
			Issuer:              Issuer,
			CreatedUTC:          now,
			ExpiryUTC:           now.Add(AccessTokenTTL),
			AuthenticationValid: true,
			AccountID:           old.AccountID,
			ClientTokenID:       old.ClientTokenID,
			ProfileID:           old.ProfileID,
		}
		if err := tx.CreateAccessToken(ctx, fresh); err != nil {
			return fmt.Errorf("create access token: %w", err)
		}
		if err := tx.DeleteAccessToken(ctx, old.ID); err != nil {
			return fmt.Errorf("retire old token: %w", err)
		}
		session.AccessToken = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.sign(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Validate checks that the bearer resolves to an access token whose
// authentication_valid flag is still set. Expiry is deliberately not
// consulted; the flag is the only authority. When a clientTokenID is given, a
// client token with that UUID must exist.
func (e *Engine) Validate(ctx context.Context, bearer string, clientTokenID *uuid.UUID) error {
	yggt, err := ReadYggt(bearer)
	if err != nil {
		return ErrInvalidToken
	}

	token, err := e.store.AccessTokenByUUID(ctx, yggt)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("access token lookup: %w", err)
	}

	if clientTokenID != nil {
		if _, err := e.store.ClientTokenByUUID(ctx, *clientTokenID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("client token lookup: %w", err)
		}
	}

	if !token.AuthenticationValid {
		return ErrInvalidToken
	}
	return nil
}

// Invalidate deletes every access token matching the bearer, optionally
// narrowed to one client token. It never reports failure: an unresolvable
// bearer must be indistinguishable from a successfully revoked one, so this
// endpoint cannot be used as a token oracle.
func (e *Engine) Invalidate(ctx context.Context, bearer string, clientTokenID *uuid.UUID) {
	yggt, err := ReadYggt(bearer)
	if err != nil {
		return
	}
	removed, err := e.store.DeleteAccessTokensByUUID(ctx, yggt, clientTokenID)
	if err != nil {
		e.log.Error("invalidate_failed", "error", err)
		return
	}
	if removed > 0 {
		e.log.Info("session_invalidated", "removed", removed)
	}
}

// Signout re-verifies the credentials and deletes every access token under
// every client token the account owns.
func (e *Engine) Signout(ctx context.Context, username, password string) error {
	account, err := e.checkCredentials(ctx, username, password)
	if err != nil {
		return err
	}
	if err := e.store.DeleteAccountAccessTokens(ctx, account.ID); err != nil {
		return fmt.Errorf("delete account tokens: %w", err)
	}
	e.log.Info("account_signed_out", "account", hex(account.UUID))
	return nil
}

// CreateAccount registers a new login identity. Used by the admin tooling;
// uniqueness violations surface as store.ErrDuplicate.
func (e *Engine) CreateAccount(ctx context.Context, username, password string) (*models.Account, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	account := &models.Account{
		UUID:         e.NewUUID(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    e.Now(),
	}
	if err := e.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (e *Engine) sign(session *Session) error {
	var profileUUID *uuid.UUID
	if session.Profile != nil {
		profileUUID = &session.Profile.UUID
	}
	bearer, err := e.signer.Sign(session.AccessToken, session.Account.UUID, profileUUID)
	if err != nil {
		return err
	}
	session.Bearer = bearer
	return nil
}
