package auth

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"nepojang/internal/models"
)

// Issuer is the issr claim stamped on every access token.
const Issuer = "Yggdrasil-Auth"

// Claims is the payload of a signed bearer. The subject is the account UUID
// hex, yggt the access-token UUID hex, spr the selected profile UUID hex.
type Claims struct {
	Yggt string `json:"yggt"`
	Issr string `json:"issr"`
	Spr  string `json:"spr,omitempty"`
	jwt.RegisteredClaims
}

// Signer turns access-token rows into compact signed bearers.
type Signer struct {
	key *rsa.PrivateKey
}

func NewSigner(key *rsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Sign encodes the token's claims and signs them with the service's JWT key.
// accountUUID identifies the owning account; profileUUID may be nil.
func (s *Signer) Sign(token *models.AccessToken, accountUUID uuid.UUID, profileUUID *uuid.UUID) (string, error) {
	claims := Claims{
		Yggt: hex(token.UUID),
		Issr: token.Issuer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   hex(accountUUID),
			ExpiresAt: jwt.NewNumericDate(token.ExpiryUTC),
			IssuedAt:  jwt.NewNumericDate(token.CreatedUTC),
		},
	}
	if profileUUID != nil {
		claims.Spr = hex(*profileUUID)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ReadYggt resolves a bearer value to the access-token UUID it names. A 32 or
// 36 character value is parsed as a raw UUID; anything else is decoded as a
// compact token and the yggt claim extracted. The signature is deliberately
// not verified here: the UUID is only a lookup key and the store remains the
// authority on token validity.
func ReadYggt(bearer string) (uuid.UUID, error) {
	if len(bearer) == 32 || len(bearer) == 36 {
		id, err := uuid.Parse(bearer)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return id, nil
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(bearer, &claims); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(claims.Yggt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad yggt claim: %v", ErrInvalidToken, err)
	}
	return id, nil
}

// hex renders a UUID as 32 lowercase hex chars, the wire form for all IDs.
func hex(id uuid.UUID) string {
	buf := id.String()
	return buf[:8] + buf[9:13] + buf[14:18] + buf[19:23] + buf[24:]
}

// HexUUID is the exported form of the undashed rendering, used by handlers.
func HexUUID(id uuid.UUID) string {
	return hex(id)
}
