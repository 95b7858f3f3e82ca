package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is a login identity. The UUID is the only identifier ever exposed
// externally; the integer ID is a database surrogate.
type Account struct {
	ID           int64
	UUID         uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile is the in-game identity owned by an account. At most one profile
// exists per account. Name is stored in three case variants so lookups can be
// case-insensitive while the display case is preserved; each variant is
// independently unique.
type Profile struct {
	ID        int64
	UUID      uuid.UUID
	AccountID int64
	Agent     string
	Name      string
	NameUpper string
	NameLower string
	SkinKey   *string
	CapeKey   *string
	CreatedAt time.Time
}

// ClientToken identifies a logical client installation. It outlives the
// access tokens minted under it and its expiry window rolls forward on reuse.
type ClientToken struct {
	ID         int64
	UUID       uuid.UUID
	AccountID  int64
	CreatedUTC time.Time
	ExpiryUTC  time.Time
}

// AccessToken is the short-lived session credential. Its UUID travels inside
// the signed bearer as the yggt claim. AuthenticationValid is the only field
// consulted when validating; ExpiryUTC is informational.
type AccessToken struct {
	ID                  int64
	UUID                uuid.UUID
	Issuer              string
	CreatedUTC          time.Time
	ExpiryUTC           time.Time
	AuthenticationValid bool
	AccountID           int64
	ClientTokenID       int64
	ProfileID           *int64
}

// ProfileNameEvent is one immutable row of a profile's name ledger. Rows are
// never updated or deleted; the ledger is the source of truth for history,
// the cached name fields on Profile are a denormalized convenience.
type ProfileNameEvent struct {
	ID            int64
	ProfileID     int64
	Name          string
	NameUpper     string
	NameLower     string
	ActiveFrom    time.Time
	IsInitialName bool
}
