// Package names maintains the append-only profile name ledger and its
// policies: the 30-day change cooldown and the 37-day release lock.
package names

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"nepojang/internal/models"
	"nepojang/internal/store"
)

// Policy windows, measured with naive UTC arithmetic from the most recent
// relevant ledger row.
const (
	ChangeCooldown = 30 * 24 * time.Hour
	ReleaseLock    = 37 * 24 * time.Hour
)

var (
	// ErrNameUnavailable is returned when the requested name is held or
	// still inside another profile's release lock.
	ErrNameUnavailable = errors.New("name not available")

	// ErrCooldownActive is returned when the profile changed names less than
	// ChangeCooldown ago.
	ErrCooldownActive = errors.New("name change cooldown active")

	// ErrProfileExists is returned when the account already owns a profile.
	ErrProfileExists = errors.New("account already has a profile")
)

// Engine answers availability and ownership queries over the name ledger and
// performs the two mutations: profile creation and name change.
type Engine struct {
	log   *slog.Logger
	store store.Store

	Now     func() time.Time
	NewUUID func() uuid.UUID
}

func NewEngine(log *slog.Logger, st store.Store) *Engine {
	return &Engine{
		log:     log,
		store:   st,
		Now:     func() time.Time { return time.Now().UTC() },
		NewUUID: uuid.New,
	}
}

// NameAvailableForCreation reports whether a brand-new profile may take the
// name: no profile currently holds it (any case variant) and no ledger row
// for it is younger than the release lock.
func (e *Engine) NameAvailableForCreation(ctx context.Context, name string) (bool, error) {
	return e.available(ctx, name, 0)
}

// available implements the release-lock check, ignoring rows owned by
// exceptProfile (0 means ignore nothing).
func (e *Engine) available(ctx context.Context, name string, exceptProfile int64) (bool, error) {
	holder, err := e.store.ProfileByName(ctx, name)
	switch {
	case err == nil:
		if holder.ID != exceptProfile {
			return false, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("holder lookup: %w", err)
	}

	events, err := e.store.NameEventsByName(ctx, name)
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	cutoff := e.Now().Add(-ReleaseLock)
	for _, ev := range events {
		if ev.ProfileID == exceptProfile {
			continue
		}
		if ev.ActiveFrom.After(cutoff) {
			return false, nil
		}
	}
	return true, nil
}

// NameAvailableForChange reports whether profile may change to newName: the
// name was never used, is already the profile's own (recapitalization), or
// clears the creation check against every other profile.
func (e *Engine) NameAvailableForChange(ctx context.Context, profile *models.Profile, newName string) (bool, error) {
	return e.available(ctx, newName, profile.ID)
}

// CanChangeName reports whether the cooldown since the profile's most recent
// ledger row has fully elapsed.
func (e *Engine) CanChangeName(ctx context.Context, profile *models.Profile) (bool, error) {
	latest, err := e.store.LatestNameEvent(ctx, profile.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A profile without ledger rows should not exist; be permissive
			// so administrative repair stays possible.
			return true, nil
		}
		return false, fmt.Errorf("latest event lookup: %w", err)
	}
	return !e.Now().Before(latest.ActiveFrom.Add(ChangeCooldown)), nil
}

// CreateProfile creates the account's single profile together with its
// initial ledger row, in one transaction. id may be uuid.Nil to have one
// generated.
func (e *Engine) CreateProfile(ctx context.Context, account *models.Account, id uuid.UUID, agent, name string) (*models.Profile, error) {
	if id == uuid.Nil {
		id = e.NewUUID()
	}

	if _, err := e.store.ProfileByAccount(ctx, account.ID); err == nil {
		return nil, ErrProfileExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}

	ok, err := e.NameAvailableForCreation(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNameUnavailable
	}

	now := e.Now()
	profile := &models.Profile{
		UUID:      id,
		AccountID: account.ID,
		Agent:     agent,
		Name:      name,
		NameUpper: strings.ToUpper(name),
		NameLower: strings.ToLower(name),
		CreatedAt: now,
	}

	err = e.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateProfile(ctx, profile); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrNameUnavailable
			}
			return fmt.Errorf("create profile: %w", err)
		}
		event := &models.ProfileNameEvent{
			ProfileID:     profile.ID,
			Name:          profile.Name,
			NameUpper:     profile.NameUpper,
			NameLower:     profile.NameLower,
			ActiveFrom:    now,
			IsInitialName: true,
		}
		if err := tx.AppendNameEvent(ctx, event); err != nil {
			return fmt.Errorf("append initial event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("profile_created", "profile", profile.UUID.String(), "name", profile.Name)
	return profile, nil
}

// AttemptNameChange updates the profile's cached name fields and appends a
// ledger row at the current instant, in one transaction. Policy checks
// (CanChangeName, NameAvailableForChange) are the caller's responsibility so
// administrative tooling can bypass them.
func (e *Engine) AttemptNameChange(ctx context.Context, profile *models.Profile, newName string) (*models.ProfileNameEvent, error) {
	now := e.Now()
	event := &models.ProfileNameEvent{
		ProfileID:  profile.ID,
		Name:       newName,
		NameUpper:  strings.ToUpper(newName),
		NameLower:  strings.ToLower(newName),
		ActiveFrom: now,
	}

	err := e.store.WithTx(ctx, func(tx store.Store) error {
		profile.Name = newName
		profile.NameUpper = event.NameUpper
		profile.NameLower = event.NameLower
		if err := tx.UpdateProfile(ctx, profile); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrNameUnavailable
			}
			return fmt.Errorf("update profile: %w", err)
		}
		if err := tx.AppendNameEvent(ctx, event); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("profile_renamed", "profile", profile.UUID.String(), "name", newName)
	return event, nil
}

// ChangeName is the policy-enforcing wrapper around AttemptNameChange used by
// non-administrative callers.
func (e *Engine) ChangeName(ctx context.Context, profile *models.Profile, newName string) (*models.ProfileNameEvent, error) {
	ok, err := e.CanChangeName(ctx, profile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCooldownActive
	}
	ok, err = e.NameAvailableForChange(ctx, profile, newName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNameUnavailable
	}
	return e.AttemptNameChange(ctx, profile, newName)
}

// OwnerAt resolves which profile owned name at the given instant, or nil if
// nobody did. A match is discarded when the owning profile had already moved
// to a later ledger row before the instant; the name may since have been
// re-claimed by someone else, and a stale owner must never be reported.
func (e *Engine) OwnerAt(ctx context.Context, name string, at time.Time) (*models.Profile, error) {
	events, err := e.store.NameEventsByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}

	for _, ev := range events {
		if !ev.ActiveFrom.Before(at) {
			continue
		}
		// Newest qualifying row wins; events come newest first.
		ledger, err := e.store.NameEvents(ctx, ev.ProfileID)
		if err != nil {
			return nil, fmt.Errorf("profile ledger lookup: %w", err)
		}
		for _, later := range ledger {
			if later.ActiveFrom.After(ev.ActiveFrom) && later.ActiveFrom.Before(at) {
				// The profile renamed away again before the instant.
				return nil, nil
			}
		}
		profile, err := e.store.ProfileByID(ctx, ev.ProfileID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("profile lookup: %w", err)
		}
		return profile, nil
	}
	return nil, nil
}

// History returns the profile's ledger, newest first.
func (e *Engine) History(ctx context.Context, profileID int64) ([]models.ProfileNameEvent, error) {
	return e.store.NameEvents(ctx, profileID)
}
