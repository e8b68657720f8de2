package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of an access token issued for a studio principal.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// BearerVerifier validates bearer tokens signed with a single HMAC key and
// consults a TokenBlacklist for revocation.
type BearerVerifier struct {
	signingKey []byte
	issuer     string
	blacklist  *TokenBlacklist
}

// NewBearerVerifier constructs a verifier. blacklist may be nil, in which
// case revocation checks are skipped.
func NewBearerVerifier(signingKey, issuer string, blacklist *TokenBlacklist) *BearerVerifier {
	return &BearerVerifier{signingKey: []byte(signingKey), issuer: issuer, blacklist: blacklist}
}

// IssueToken signs a new access token for userID/role with the given ttl.
func (v *BearerVerifier) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token string, rejecting it if it is
// malformed, expired, signed with an unexpected method, or blacklisted.
func (v *BearerVerifier) Verify(tokenString string) (Claims, error) {
	if v.blacklist != nil && v.blacklist.IsRevoked(tokenString) {
		return Claims{}, ErrTokenBlacklisted
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

// Revoke blacklists tokenString until its own expiry, if a blacklist is
// configured.
func (v *BearerVerifier) Revoke(tokenString string, expiresAt time.Time) {
	if v.blacklist != nil {
		v.blacklist.Revoke(tokenString, expiresAt)
	}
}
