package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown usernames, wrong passwords, and
	// client tokens owned by a different account.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers bearers that do not resolve, access tokens with
	// authentication_valid off, and client-token mismatches.
	ErrInvalidToken = errors.New("invalid token")

	// ErrProfileAssigned is returned when a refresh request tries to select a
	// profile; profile reassignment mid-session is unsupported.
	ErrProfileAssigned = errors.New("access token already has a profile assigned")

	// ErrRateLimited is returned once repeated credential failures trip the
	// failure counter.
	ErrRateLimited = errors.New("rate limited")
)
