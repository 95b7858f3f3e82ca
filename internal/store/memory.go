package store

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"nepojang/internal/models"
)

// Memory is an in-process Store with the same uniqueness and transaction
// semantics as Postgres. It backs engine tests and small deployments that do
// not want a database; transactions are serialized under one mutex and rolled
// back by snapshot.
type Memory struct {
	mu   sync.Mutex
	data memData
}

type memData struct {
	accounts     []models.Account
	profiles     []models.Profile
	events       []models.ProfileNameEvent
	clientTokens []models.ClientToken
	accessTokens []models.AccessToken
	nextID       int64
}

func NewMemory() *Memory {
	return &Memory{data: memData{nextID: 1}}
}

func (d *memData) clone() memData {
	c := *d
	c.accounts = append([]models.Account(nil), d.accounts...)
	c.profiles = append([]models.Profile(nil), d.profiles...)
	c.events = append([]models.ProfileNameEvent(nil), d.events...)
	c.clientTokens = append([]models.ClientToken(nil), d.clientTokens...)
	c.accessTokens = append([]models.AccessToken(nil), d.accessTokens...)
	return c
}

func (m *Memory) WithTx(_ context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.data.clone()
	if err := fn(&memTx{m: m}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// memTx is the view handed to WithTx callbacks: same operations, no
// re-locking, already inside the transaction.
type memTx struct {
	m *Memory
}

func (t *memTx) WithTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (m *Memory) lock() func() {
	m.mu.Lock()
	return m.mu.Unlock
}

// Account operations.

func (d *memData) createAccount(a *models.Account) error {
	for i := range d.accounts {
		if d.accounts[i].UUID == a.UUID || d.accounts[i].Username == a.Username {
			return ErrDuplicate
		}
	}
	a.ID = d.nextID
	d.nextID++
	d.accounts = append(d.accounts, *a)
	return nil
}

func (d *memData) account(match func(*models.Account) bool) (*models.Account, error) {
	for i := range d.accounts {
		if match(&d.accounts[i]) {
			a := d.accounts[i]
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (d *memData) updateAccount(a *models.Account) error {
	for i := range d.accounts {
		if d.accounts[i].ID == a.ID {
			continue
		}
		if d.accounts[i].Username == a.Username || d.accounts[i].UUID == a.UUID {
			return ErrDuplicate
		}
	}
	for i := range d.accounts {
		if d.accounts[i].ID == a.ID {
			d.accounts[i].UUID = a.UUID
			d.accounts[i].Username = a.Username
			d.accounts[i].PasswordHash = a.PasswordHash
			return nil
		}
	}
	return ErrNotFound
}

func (d *memData) deleteAccount(id int64) error {
	found := false
	out := d.accounts[:0]
	for _, a := range d.accounts {
		if a.ID == id {
			found = true
			continue
		}
		out = append(out, a)
	}
	d.accounts = out
	if !found {
		return ErrNotFound
	}
	// Cascade: profiles (and their ledgers stay, the ledger is append-only),
	// client tokens, access tokens.
	profiles := d.profiles[:0]
	for _, p := range d.profiles {
		if p.AccountID != id {
			profiles = append(profiles, p)
		}
	}
	d.profiles = profiles
	clientTokens := d.clientTokens[:0]
	for _, t := range d.clientTokens {
		if t.AccountID != id {
			clientTokens = append(clientTokens, t)
		}
	}
	d.clientTokens = clientTokens
	accessTokens := d.accessTokens[:0]
	for _, t := range d.accessTokens {
		if t.AccountID != id {
			accessTokens = append(accessTokens, t)
		}
	}
	d.accessTokens = accessTokens
	return nil
}

func (m *Memory) CreateAccount(_ context.Context, a *models.Account) error {
	defer m.lock()()
	return m.data.createAccount(a)
}

func (m *Memory) AccountByID(_ context.Context, id int64) (*models.Account, error) {
	defer m.lock()()
	return m.data.account(func(a *models.Account) bool { return a.ID == id })
}

func (m *Memory) AccountByUUID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	defer m.lock()()
	return m.data.account(func(a *models.Account) bool { return a.UUID == id })
}

func (m *Memory) AccountByUsername(_ context.Context, username string) (*models.Account, error) {
	defer m.lock()()
	return m.data.account(func(a *models.Account) bool { return a.Username == username })
}

func (m *Memory) UpdateAccount(_ context.Context, a *models.Account) error {
	defer m.lock()()
	return m.data.updateAccount(a)
}

func (m *Memory) DeleteAccount(_ context.Context, id int64) error {
	defer m.lock()()
	return m.data.deleteAccount(id)
}

func (t *memTx) CreateAccount(_ context.Context, a *models.Account) error {
	return t.m.data.createAccount(a)
}

func (t *memTx) AccountByID(_ context.Context, id int64) (*models.Account, error) {
	return t.m.data.account(func(a *models.Account) bool { return a.ID == id })
}

func (t *memTx) AccountByUUID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	return t.m.data.account(func(a *models.Account) bool { return a.UUID == id })
}

func (t *memTx) AccountByUsername(_ context.Context, username string) (*models.Account, error) {
	return t.m.data.account(func(a *models.Account) bool { return a.Username == username })
}

func (t *memTx) UpdateAccount(_ context.Context, a *models.Account) error {
	return t.m.data.updateAccount(a)
}

func (t *memTx) DeleteAccount(_ context.Context, id int64) error {
	return t.m.data.deleteAccount(id)
}

// Profile operations.

func (d *memData) createProfile(p *models.Profile) error {
	for i := range d.profiles {
		q := &d.profiles[i]
		if q.UUID == p.UUID || q.Name == p.Name ||
			q.NameUpper == p.NameUpper || q.NameLower == p.NameLower {
			return ErrDuplicate
		}
	}
	p.ID = d.nextID
	d.nextID++
	d.profiles = append(d.profiles, *p)
	return nil
}

func (d *memData) profile(match func(*models.Profile) bool) (*models.Profile, error) {
	for i := range d.profiles {
		if match(&d.profiles[i]) {
			p := d.profiles[i]
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (d *memData) updateProfile(p *models.Profile) error {
	for i := range d.profiles {
		q := &d.profiles[i]
		if q.ID != p.ID && (q.Name == p.Name || q.NameUpper == p.NameUpper || q.NameLower == p.NameLower) {
			return ErrDuplicate
		}
	}
	for i := range d.profiles {
		if d.profiles[i].ID == p.ID {
			d.profiles[i].Name = p.Name
			d.profiles[i].NameUpper = p.NameUpper
			d.profiles[i].NameLower = p.NameLower
			d.profiles[i].SkinKey = p.SkinKey
			d.profiles[i].CapeKey = p.CapeKey
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CreateProfile(_ context.Context, p *models.Profile) error {
	defer m.lock()()
	return m.data.createProfile(p)
}

func (m *Memory) ProfileByID(_ context.Context, id int64) (*models.Profile, error) {
	defer m.lock()()
	return m.data.profile(func(p *models.Profile) bool { return p.ID == id })
}

func (m *Memory) ProfileByUUID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	defer m.lock()()
	return m.data.profile(func(p *models.Profile) bool { return p.UUID == id })
}

func (m *Memory) ProfileByName(_ context.Context, name string) (*models.Profile, error) {
	defer m.lock()()
	lower := strings.ToLower(name)
	return m.data.profile(func(p *models.Profile) bool { return p.NameLower == lower })
}

func (m *Memory) ProfileByAccount(_ context.Context, accountID int64) (*models.Profile, error) {
	defer m.lock()()
	return m.data.profile(func(p *models.Profile) bool { return p.AccountID == accountID })
}

func (m *Memory) UpdateProfile(_ context.Context, p *models.Profile) error {
	defer m.lock()()
	return m.data.updateProfile(p)
}

func (t *memTx) CreateProfile(_ context.Context, p *models.Profile) error {
	return t.m.data.createProfile(p)
}

func (t *memTx) ProfileByID(_ context.Context, id int64) (*models.Profile, error) {
	return t.m.data.profile(func(p *models.Profile) bool { return p.ID == id })
}

func (t *memTx) ProfileByUUID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	return t.m.data.profile(func(p *models.Profile) bool { return p.UUID == id })
}

func (t *memTx) ProfileByName(_ context.Context, name string) (*models.Profile, error) {
	lower := strings.ToLower(name)
	return t.m.data.profile(func(p *models.Profile) bool { return p.NameLower == lower })
}

func (t *memTx) ProfileByAccount(_ context.Context, accountID int64) (*models.Profile, error) {
	return t.m.data.profile(func(p *models.Profile) bool { return p.AccountID == accountID })
}

func (t *memTx) UpdateProfile(_ context.Context, p *models.Profile) error {
	return t.m.data.updateProfile(p)
}

// Name ledger operations.

func (d *memData) appendNameEvent(e *models.ProfileNameEvent) error {
	for i := range d.events {
		q := &d.events[i]
		if q.ProfileID == e.ProfileID && q.ActiveFrom.Equal(e.ActiveFrom) {
			return ErrDuplicate
		}
	}
	e.ID = d.nextID
	d.nextID++
	d.events = append(d.events, *e)
	return nil
}

// eventsWhere returns matching ledger rows newest first.
func (d *memData) eventsWhere(match func(*models.ProfileNameEvent) bool) []models.ProfileNameEvent {
	var out []models.ProfileNameEvent
	for i := range d.events {
		if match(&d.events[i]) {
			out = append(out, d.events[i])
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ActiveFrom.After(out[i].ActiveFrom) ||
				(out[j].ActiveFrom.Equal(out[i].ActiveFrom) && out[j].ID > out[i].ID) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (d *memData) nameEvents(profileID int64) []models.ProfileNameEvent {
	return d.eventsWhere(func(e *models.ProfileNameEvent) bool { return e.ProfileID == profileID })
}

func (d *memData) nameEventsByName(name string) []models.ProfileNameEvent {
	lower := strings.ToLower(name)
	return d.eventsWhere(func(e *models.ProfileNameEvent) bool { return e.NameLower == lower })
}

func (m *Memory) AppendNameEvent(_ context.Context, e *models.ProfileNameEvent) error {
	defer m.lock()()
	return m.data.appendNameEvent(e)
}

func (m *Memory) NameEvents(_ context.Context, profileID int64) ([]models.ProfileNameEvent, error) {
	defer m.lock()()
	return m.data.nameEvents(profileID), nil
}

func (m *Memory) LatestNameEvent(_ context.Context, profileID int64) (*models.ProfileNameEvent, error) {
	defer m.lock()()
	return latestOf(m.data.nameEvents(profileID))
}

func (m *Memory) NameEventsByName(_ context.Context, name string) ([]models.ProfileNameEvent, error) {
	defer m.lock()()
	return m.data.nameEventsByName(name), nil
}

func (t *memTx) AppendNameEvent(_ context.Context, e *models.ProfileNameEvent) error {
	return t.m.data.appendNameEvent(e)
}

func (t *memTx) NameEvents(_ context.Context, profileID int64) ([]models.ProfileNameEvent, error) {
	return t.m.data.nameEvents(profileID), nil
}

func (t *memTx) LatestNameEvent(_ context.Context, profileID int64) (*models.ProfileNameEvent, error) {
	return latestOf(t.m.data.nameEvents(profileID))
}

func (t *memTx) NameEventsByName(_ context.Context, name string) ([]models.ProfileNameEvent, error) {
	return t.m.data.nameEventsByName(name), nil
}

func latestOf(events []models.ProfileNameEvent) (*models.ProfileNameEvent, error) {
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	e := events[0]
	return &e, nil
}

// Client token operations.

func (d *memData) createClientToken(t *models.ClientToken) error {
	for i := range d.clientTokens {
		if d.clientTokens[i].UUID == t.UUID {
			return ErrDuplicate
		}
	}
	t.ID = d.nextID
	d.nextID++
	d.clientTokens = append(d.clientTokens, *t)
	return nil
}

func (d *memData) clientToken(match func(*models.ClientToken) bool) (*models.ClientToken, error) {
	for i := range d.clientTokens {
		if match(&d.clientTokens[i]) {
			t := d.clientTokens[i]
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (d *memData) updateClientToken(t *models.ClientToken) error {
	for i := range d.clientTokens {
		if d.clientTokens[i].ID == t.ID {
			d.clientTokens[i].ExpiryUTC = t.ExpiryUTC
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CreateClientToken(_ context.Context, t *models.ClientToken) error {
	defer m.lock()()
	return m.data.createClientToken(t)
}

func (m *Memory) ClientTokenByID(_ context.Context, id int64) (*models.ClientToken, error) {
	defer m.lock()()
	return m.data.clientToken(func(t *models.ClientToken) bool { return t.ID == id })
}

func (m *Memory) ClientTokenByUUID(_ context.Context, id uuid.UUID) (*models.ClientToken, error) {
	defer m.lock()()
	return m.data.clientToken(func(t *models.ClientToken) bool { return t.UUID == id })
}

func (m *Memory) UpdateClientToken(_ context.Context, t *models.ClientToken) error {
	defer m.lock()()
	return m.data.updateClientToken(t)
}

func (t *memTx) CreateClientToken(_ context.Context, ct *models.ClientToken) error {
	return t.m.data.createClientToken(ct)
}

func (t *memTx) ClientTokenByID(_ context.Context, id int64) (*models.ClientToken, error) {
	return t.m.data.clientToken(func(ct *models.ClientToken) bool { return ct.ID == id })
}

func (t *memTx) ClientTokenByUUID(_ context.Context, id uuid.UUID) (*models.ClientToken, error) {
	return t.m.data.clientToken(func(ct *models.ClientToken) bool { return ct.UUID == id })
}

func (t *memTx) UpdateClientToken(_ context.Context, ct *models.ClientToken) error {
	return t.m.data.updateClientToken(ct)
}

// Access token operations.

func (d *memData) createAccessToken(t *models.AccessToken) error {
	for i := range d.accessTokens {
		if d.accessTokens[i].UUID == t.UUID {
			return ErrDuplicate
		}
	}
	t.ID = d.nextID
	d.nextID++
	d.accessTokens = append(d.accessTokens, *t)
	return nil
}

func (d *memData) accessTokenByUUID(id uuid.UUID) (*models.AccessToken, error) {
	for i := range d.accessTokens {
		if d.accessTokens[i].UUID == id {
			t := d.accessTokens[i]
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (d *memData) invalidateAccountTokensExcept(accountID, keepID int64) {
	for i := range d.accessTokens {
		if d.accessTokens[i].AccountID == accountID && d.accessTokens[i].ID != keepID {
			d.accessTokens[i].AuthenticationValid = false
		}
	}
}

func (d *memData) deleteAccessToken(id int64) error {
	out := d.accessTokens[:0]
	found := false
	for _, t := range d.accessTokens {
		if t.ID == id {
			found = true
			continue
		}
		out = append(out, t)
	}
	d.accessTokens = out
	if !found {
		return ErrNotFound
	}
	return nil
}

func (d *memData) deleteAccessTokensByUUID(id uuid.UUID, clientToken *uuid.UUID) int64 {
	var clientTokenID int64 = -1
	if clientToken != nil {
		for i := range d.clientTokens {
			if d.clientTokens[i].UUID == *clientToken {
				clientTokenID = d.clientTokens[i].ID
				break
			}
		}
	}
	var removed int64
	out := d.accessTokens[:0]
	for _, t := range d.accessTokens {
		if t.UUID == id && (clientToken == nil || t.ClientTokenID == clientTokenID) {
			removed++
			continue
		}
		out = append(out, t)
	}
	d.accessTokens = out
	return removed
}

func (d *memData) deleteAccountAccessTokens(accountID int64) {
	out := d.accessTokens[:0]
	for _, t := range d.accessTokens {
		if t.AccountID != accountID {
			out = append(out, t)
		}
	}
	d.accessTokens = out
}

func (m *Memory) CreateAccessToken(_ context.Context, t *models.AccessToken) error {
	defer m.lock()()
	return m.data.createAccessToken(t)
}

func (m *Memory) AccessTokenByUUID(_ context.Context, id uuid.UUID) (*models.AccessToken, error) {
	defer m.lock()()
	return m.data.accessTokenByUUID(id)
}

func (m *Memory) InvalidateAccountTokensExcept(_ context.Context, accountID, keepID int64) error {
	defer m.lock()()
	m.data.invalidateAccountTokensExcept(accountID, keepID)
	return nil
}

func (m *Memory) DeleteAccessToken(_ context.Context, id int64) error {
	defer m.lock()()
	return m.data.deleteAccessToken(id)
}

func (m *Memory) DeleteAccessTokensByUUID(_ context.Context, id uuid.UUID, clientToken *uuid.UUID) (int64, error) {
	defer m.lock()()
	return m.data.deleteAccessTokensByUUID(id, clientToken), nil
}

func (m *Memory) DeleteAccountAccessTokens(_ context.Context, accountID int64) error {
	defer m.lock()()
	m.data.deleteAccountAccessTokens(accountID)
	return nil
}

func (t *memTx) CreateAccessToken(_ context.Context, at *models.AccessToken) error {
	return t.m.data.createAccessToken(at)
}

func (t *memTx) AccessTokenByUUID(_ context.Context, id uuid.UUID) (*models.AccessToken, error) {
	return t.m.data.accessTokenByUUID(id)
}

func (t *memTx) InvalidateAccountTokensExcept(_ context.Context, accountID, keepID int64) error {
	t.m.data.invalidateAccountTokensExcept(accountID, keepID)
	return nil
}

func (t *memTx) DeleteAccessToken(_ context.Context, id int64) error {
	return t.m.data.deleteAccessToken(id)
}

func (t *memTx) DeleteAccessTokensByUUID(_ context.Context, id uuid.UUID, clientToken *uuid.UUID) (int64, error) {
	return t.m.data.deleteAccessTokensByUUID(id, clientToken), nil
}

func (t *memTx) DeleteAccountAccessTokens(_ context.Context, accountID int64) error {
	t.m.data.deleteAccountAccessTokens(accountID)
	return nil
}
