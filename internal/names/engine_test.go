package names

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nepojang/internal/logging"
	"nepojang/internal/models"
	"nepojang/internal/store"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// testClock lets a test march the engine's notion of now forward.
type testClock struct{ now time.Time }

func (c *testClock) at(d time.Duration) { c.now = t0.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *testClock) {
	t.Helper()
	mem := store.NewMemory()
	eng := NewEngine(logging.New("error"), mem)
	clock := &testClock{now: t0}
	eng.Now = func() time.Time { return clock.now }
	return eng, mem, clock
}

func mustAccount(t *testing.T, mem *store.Memory, username string) *models.Account {
	t.Helper()
	account := &models.Account{UUID: uuid.New(), Username: username, PasswordHash: "unused", CreatedAt: t0}
	require.NoError(t, mem.CreateAccount(context.Background(), account))
	return account
}

func TestCreateProfile_InitialLedgerRow(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	ctx := context.Background()
	account := mustAccount(t, mem, "alice")

	profile, err := eng.CreateProfile(ctx, account, uuid.Nil, "Minecraft", "McAlice")
	require.NoError(t, err)

	assert.Equal(t, "McAlice", profile.Name)
	assert.Equal(t, "MCALICE", profile.NameUpper)
	assert.Equal(t, "mcalice", profile.NameLower)
	assert.NotEqual(t, uuid.Nil, profile.UUID)

	events, err := mem.NameEvents(ctx, profile.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsInitialName)
	assert.Equal(t, "McAlice", events[0].Name)
	assert.True(t, events[0].ActiveFrom.Equal(t0))
}

func TestCreateProfile_OnePerAccount(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	ctx := context.Background()
	account := mustAccount(t, mem, "alice")

	_, err := eng.CreateProfile(ctx, account, uuid.Nil, "Minecraft", "First")
	require.NoError(t, err)

	_, err = eng.CreateProfile(ctx, account, uuid.Nil, "Minecraft", "Second")
	assert.ErrorIs(t, err, ErrProfileExists)
}

func TestCreateProfile_HeldNameUnavailable(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	ctx := context.Background()
	alice := mustAccount(t, mem, "alice")
	bob := mustAccount(t, mem, "bob")

	_, err := eng.CreateProfile(ctx, alice, uuid.Nil, "Minecraft", "Steve")
	require.NoError(t, err)

	// Case variants collide too.
	_, err = eng.CreateProfile(ctx, bob, uuid.Nil, "Minecraft", "sTEVE")
	assert.ErrorIs(t, err, ErrNameUnavailable)
}

func TestChangeName_CooldownBoundary(t *testing.T) {
	eng, mem, clock := newTestEngine(t)
	ctx := context.Background()
	account := mustAccount(t, mem, "alice")

	profile, err := eng.CreateProfile(ctx, account, uuid.Nil, "Minecraft", "Steve")
	require.NoError(t, err)

	clock.at(ChangeCooldown - time.Second)
	_, err = eng.ChangeName(ctx, profile, "Alex")
	assert.ErrorIs(t, err, ErrCooldownActive)

	clock.at(ChangeCooldown)
	event, err := eng.ChangeName(ctx, profile, "Alex")
	require.NoError(t, err)
	assert.Equal(t, "Alex", event.Name)
	assert.False(t, event.IsInitialName)

	updated, err := mem.ProfileByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alex", updated.Name)
	assert.Equal(t, "ALEX", updated.NameUpper)
	assert.Equal(t, "alex", updated.NameLower)
}

func TestReleaseLock_HoldsForThirtySevenDays(t *testing.T) {
	eng, mem, clock := newTestEngine(t)
	ctx := context.Background()
	alice := mustAccount(t, mem, "alice")
	bob := mustAccount(t, mem, "bob")

	profile, err := eng.CreateProfile(ctx, alice, uuid.Nil, "Minecraft", "Steve")
	require.NoError(t, err)

	clock.at(ChangeCooldown)
	_, err = eng.ChangeName(ctx, profile, "Alex")
	require.NoError(t, err)

	// Released but still inside the lock window measured from the initial
	// claim.
	clock.at(ChangeCooldown + time.Hour)
	ok, err := eng.NameAvailableForCreation(ctx, "Steve")
	require.NoError(t, err)
	assert.False(t, ok)

	// Once every ledger row for the name is older than the lock, anyone may
	// take it.
	clock.at(ReleaseLock)
	ok, err = eng.NameAvailableForCreation(ctx, "Steve")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = eng.CreateProfile(ctx, bob, uuid.Nil, "Minecraft", "Steve")
	assert.NoError(t, err)
}

func TestNameAvailableForChange_OwnRowsIgnored(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	ctx := context.Background()
	account := mustAccount(t, mem, "alice")

	profile, err := eng.CreateProfile(ctx, account, uuid.Nil, "Minecraft", "Steve")
	require.NoError(t, err)

	// Recapitalizing a held name only touches the profile's own rows.
	ok, err := eng.NameAvailableForChange(ctx, profile, "STEVE")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOwnerAt_PointInTime(t *testing.T) {
	eng, mem, clock := newTestEngine(t)
	ctx := context.Background()
	alice := mustAccount(t, mem, "alice")
	bob := mustAccount(t, mem, "bob")

	aliceProfile, err := eng.CreateProfile(ctx, alice, uuid.Nil, "Minecraft", "Steve")
	require.NoError(t, err)

	clock.at(30 * 24 * time.Hour)
	_, err = eng.ChangeName(ctx, aliceProfile, "Alex")
	require.NoError(t, err)

	clock.at(80 * 24 * time.Hour)
	bobProfile, err := eng.CreateProfile(ctx, bob, uuid.Nil, "Minecraft", "Steve")
	require.NoError(t, err)

	// While alice held the name.
	owner, err := eng.OwnerAt(ctx, "Steve", t0.Add(10*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, aliceProfile.ID, owner.ID)

	// After alice renamed away but before bob claimed it, nobody owned it;
	// reporting alice here would be stale.
	owner, err = eng.OwnerAt(ctx, "Steve", t0.Add(40*24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, owner)

	// After bob's claim.
	owner, err = eng.OwnerAt(ctx, "Steve", t0.Add(90*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, bobProfile.ID, owner.ID)

	// Before anyone held it.
	owner, err = eng.OwnerAt(ctx, "Steve", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Nil(t, owner)
}

func TestHistory_NewestFirst(t *testing.T) {
	eng, mem, clock := newTestEngine(t)
	ctx := context.Background()
	account := mustAccount(t, mem, "alice")

	profile, err := eng.CreateProfile(ctx, account, uuid.Nil, "Minecraft", "First")
	require.NoError(t, err)

	clock.at(30 * 24 * time.Hour)
	_, err = eng.ChangeName(ctx, profile, "Second")
	require.NoError(t, err)

	clock.at(60 * 24 * time.Hour)
	_, err = eng.ChangeName(ctx, profile, "Third")
	require.NoError(t, err)

	events, err := eng.History(ctx, profile.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "Third", events[0].Name)
	assert.Equal(t, "Second", events[1].Name)
	assert.Equal(t, "First", events[2].Name)
	assert.True(t, events[2].IsInitialName)
}
