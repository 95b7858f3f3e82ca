package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nepojang/internal/logging"
	"nepojang/internal/models"
	"nepojang/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	eng := NewEngine(logging.New("error"), mem, NewSigner(testKey(t)))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return base }
	return eng, mem
}

func mustAccount(t *testing.T, eng *Engine, username, password string) *models.Account {
	t.Helper()
	account, err := eng.CreateAccount(context.Background(), username, password)
	require.NoError(t, err)
	return account
}

func TestAuthenticate_IssuesSession(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	session, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	assert.NotEmpty(t, session.Bearer)
	assert.True(t, session.AccessToken.AuthenticationValid)
	assert.Equal(t, Issuer, session.AccessToken.Issuer)
	assert.Equal(t, session.AccessToken.CreatedUTC.Add(AccessTokenTTL), session.AccessToken.ExpiryUTC)
	assert.Nil(t, session.Profile)

	yggt, err := ReadYggt(session.Bearer)
	require.NoError(t, err)
	assert.Equal(t, session.AccessToken.UUID, yggt)
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	_, err := eng.Authenticate(ctx, "alice", "pw2", nil, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = eng.Authenticate(ctx, "nobody", "pw1", nil, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_SuppliedClientTokenIsKept(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	supplied := uuid.New()
	session, err := eng.Authenticate(ctx, "alice", "pw1", &supplied, "")
	require.NoError(t, err)
	assert.Equal(t, supplied, session.ClientToken.UUID)

	// A second login with the same identifier reuses the row.
	again, err := eng.Authenticate(ctx, "alice", "pw1", &supplied, "")
	require.NoError(t, err)
	assert.Equal(t, session.ClientToken.ID, again.ClientToken.ID)
}

func TestAuthenticate_ForeignClientTokenRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")
	mustAccount(t, eng, "bob", "pw2")

	session, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	stolen := session.ClientToken.UUID
	_, err = eng.Authenticate(ctx, "bob", "pw2", &stolen, "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_InvalidationCascade(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	first, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)
	second, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	old, err := mem.AccessTokenByUUID(ctx, first.AccessToken.UUID)
	require.NoError(t, err)
	assert.False(t, old.AuthenticationValid)

	current, err := mem.AccessTokenByUUID(ctx, second.AccessToken.UUID)
	require.NoError(t, err)
	assert.True(t, current.AuthenticationValid)
}

func TestAuthenticate_AgentBindsProfile(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	account := mustAccount(t, eng, "alice", "pw1")

	profile := &models.Profile{
		UUID:      uuid.New(),
		AccountID: account.ID,
		Agent:     "Minecraft",
		Name:      "Alice",
		NameUpper: "ALICE",
		NameLower: "alice",
		CreatedAt: eng.Now(),
	}
	require.NoError(t, mem.CreateProfile(ctx, profile))

	session, err := eng.Authenticate(ctx, "alice", "pw1", nil, "Minecraft")
	require.NoError(t, err)
	require.NotNil(t, session.Profile)
	assert.Equal(t, profile.UUID, session.Profile.UUID)
	require.NotNil(t, session.AccessToken.ProfileID)

	// A different agent gets no profile binding.
	other, err := eng.Authenticate(ctx, "alice", "pw1", nil, "Scrolls")
	require.NoError(t, err)
	assert.Nil(t, other.Profile)
}

func TestRefresh_RotatesToken(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	session, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	fresh, err := eng.Refresh(ctx, session.Bearer, session.ClientToken.UUID)
	require.NoError(t, err)
	assert.NotEqual(t, session.AccessToken.UUID, fresh.AccessToken.UUID)
	assert.Equal(t, session.ClientToken.ID, fresh.ClientToken.ID)

	// The old row is gone, not just flagged off.
	_, err = mem.AccessTokenByUUID(ctx, session.AccessToken.UUID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefresh_ClientTokenMismatch(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	session, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	_, err = eng.Refresh(ctx, session.Bearer, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_IgnoresExpiry(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	// Issue a token whose expiry is years in the past.
	eng.Now = func() time.Time { return time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC) }
	session, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)
	require.True(t, session.AccessToken.ExpiryUTC.Before(time.Now()))

	assert.NoError(t, eng.Validate(ctx, session.Bearer, nil))
}

func TestValidate_RejectsCascadedToken(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	first, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)
	_, err = eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	assert.ErrorIs(t, eng.Validate(ctx, first.Bearer, nil), ErrInvalidToken)
}

func TestValidate_UnknownClientToken(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	session, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	bogus := uuid.New()
	assert.ErrorIs(t, eng.Validate(ctx, session.Bearer, &bogus), ErrInvalidToken)

	real := session.ClientToken.UUID
	assert.NoError(t, eng.Validate(ctx, session.Bearer, &real))
}

func TestInvalidate_Silent(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	// Garbage bearers never surface anything.
	eng.Invalidate(ctx, "not-a-token", nil)

	session, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	eng.Invalidate(ctx, session.Bearer, nil)
	_, err = mem.AccessTokenByUUID(ctx, session.AccessToken.UUID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Repeating the call is indistinguishable from the first.
	eng.Invalidate(ctx, session.Bearer, nil)
}

func TestSignout_DeletesAllTokens(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	first, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)
	second, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	require.NoError(t, eng.Signout(ctx, "alice", "pw1"))

	for _, id := range []uuid.UUID{first.AccessToken.UUID, second.AccessToken.UUID} {
		_, err := mem.AccessTokenByUUID(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
}

func TestSignout_WrongPasswordKeepsTokens(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	session, err := eng.Authenticate(ctx, "alice", "pw1", nil, "")
	require.NoError(t, err)

	err = eng.Signout(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = mem.AccessTokenByUUID(ctx, session.AccessToken.UUID)
	assert.NoError(t, err)
}

func TestCreateAccount_DuplicateUsername(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	mustAccount(t, eng, "alice", "pw1")

	_, err := eng.CreateAccount(ctx, "alice", "pw2")
	assert.True(t, errors.Is(err, store.ErrDuplicate))
}
