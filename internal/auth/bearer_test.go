package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"nepojang/internal/models"
)

var (
	testKeyOnce sync.Once
	testKeyVal  *rsa.PrivateKey
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKeyVal = key
	})
	return testKeyVal
}

func TestReadYggt_UndashedUUID(t *testing.T) {
	id := uuid.New()
	got, err := ReadYggt(HexUUID(id))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != id {
		t.Errorf("got %s, want %s", got, id)
	}
}

func TestReadYggt_DashedUUID(t *testing.T) {
	id := uuid.New()
	got, err := ReadYggt(id.String())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != id {
		t.Errorf("got %s, want %s", got, id)
	}
}

func TestReadYggt_CompactToken(t *testing.T) {
	signer := NewSigner(testKey(t))
	now := time.Now().UTC().Truncate(time.Second)
	token := &models.AccessToken{
		UUID:       uuid.New(),
		Issuer:     Issuer,
		CreatedUTC: now,
		ExpiryUTC:  now.Add(48 * time.Hour),
	}

	bearer, err := signer.Sign(token, uuid.New(), nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := ReadYggt(bearer)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != token.UUID {
		t.Errorf("got %s, want %s", got, token.UUID)
	}
}

func TestReadYggt_Garbage(t *testing.T) {
	for _, bearer := range []string{"", "short", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", "a.b"} {
		if _, err := ReadYggt(bearer); err == nil {
			t.Errorf("expected error for %q", bearer)
		}
	}
}

func TestSign_Claims(t *testing.T) {
	signer := NewSigner(testKey(t))
	now := time.Now().UTC().Truncate(time.Second)
	accountID := uuid.New()
	profileID := uuid.New()
	token := &models.AccessToken{
		UUID:       uuid.New(),
		Issuer:     Issuer,
		CreatedUTC: now,
		ExpiryUTC:  now.Add(48 * time.Hour),
	}

	bearer, err := signer.Sign(token, accountID, &profileID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := jwt.ParseWithClaims(bearer, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return &testKey(t).PublicKey, nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(*Claims)

	if claims.Yggt != HexUUID(token.UUID) {
		t.Errorf("yggt = %s, want %s", claims.Yggt, HexUUID(token.UUID))
	}
	if claims.Issr != Issuer {
		t.Errorf("issr = %s, want %s", claims.Issr, Issuer)
	}
	if claims.Subject != HexUUID(accountID) {
		t.Errorf("sub = %s, want %s", claims.Subject, HexUUID(accountID))
	}
	if claims.Spr != HexUUID(profileID) {
		t.Errorf("spr = %s, want %s", claims.Spr, HexUUID(profileID))
	}
	if !claims.ExpiresAt.Time.Equal(token.ExpiryUTC) {
		t.Errorf("exp = %v, want %v", claims.ExpiresAt.Time, token.ExpiryUTC)
	}
	if !claims.IssuedAt.Time.Equal(token.CreatedUTC) {
		t.Errorf("iat = %v, want %v", claims.IssuedAt.Time, token.CreatedUTC)
	}
}

func TestSign_NoProfileOmitsSpr(t *testing.T) {
	signer := NewSigner(testKey(t))
	now := time.Now().UTC()
	token := &models.AccessToken{UUID: uuid.New(), Issuer: Issuer, CreatedUTC: now, ExpiryUTC: now.Add(time.Hour)}

	bearer, err := signer.Sign(token, uuid.New(), nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(bearer, &claims); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Spr != "" {
		t.Errorf("spr should be empty, got %s", claims.Spr)
	}
}
