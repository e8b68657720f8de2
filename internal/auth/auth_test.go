package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	hash      string
	principal Principal
	missing   bool
}

func (f *fakeDirectory) LookupAPIKey(ctx context.Context, keyID string) (string, Principal, error) {
	if f.missing {
		return "", Principal{}, ErrUserNotFound
	}
	return f.hash, f.principal, nil
}

func TestAPIKeyVerifier_AcceptsMatchingSecret(t *testing.T) {
	hash, err := HashAPIKeySecret("s3cret")
	require.NoError(t, err)

	dir := &fakeDirectory{hash: hash, principal: Principal{UserID: "u1", Role: "member"}}
	v := NewAPIKeyVerifier(dir)

	principal, err := v.Verify(context.Background(), "key123.s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.UserID)
}

func TestAPIKeyVerifier_RejectsWrongSecret(t *testing.T) {
	hash, err := HashAPIKeySecret("s3cret")
	require.NoError(t, err)

	v := NewAPIKeyVerifier(&fakeDirectory{hash: hash})
	_, err = v.Verify(context.Background(), "key123.wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAPIKeyVerifier_RejectsMalformedKey(t *testing.T) {
	v := NewAPIKeyVerifier(&fakeDirectory{})
	_, err := v.Verify(context.Background(), "no-dot-here")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAPIKeyVerifier_UnknownKeyIDIsInvalidCredentials(t *testing.T) {
	v := NewAPIKeyVerifier(&fakeDirectory{missing: true})
	_, err := v.Verify(context.Background(), "key123.s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBearerVerifier_IssueAndVerifyRoundTrip(t *testing.T) {
	v := NewBearerVerifier("signing-key", "cyberdev-studio", NewTokenBlacklist())
	token, err := v.IssueToken("u1", "admin", time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestBearerVerifier_RejectsExpiredToken(t *testing.T) {
	v := NewBearerVerifier("signing-key", "cyberdev-studio", nil)
	token, err := v.IssueToken("u1", "admin", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestBearerVerifier_RejectsRevokedToken(t *testing.T) {
	blacklist := NewTokenBlacklist()
	defer blacklist.Stop()
	v := NewBearerVerifier("signing-key", "cyberdev-studio", blacklist)

	token, err := v.IssueToken("u1", "admin", time.Minute)
	require.NoError(t, err)

	v.Revoke(token, time.Now().Add(time.Minute))
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenBlacklisted)
}

func TestBearerVerifier_RejectsTamperedSignature(t *testing.T) {
	v := NewBearerVerifier("signing-key", "cyberdev-studio", nil)
	token, err := v.IssueToken("u1", "admin", time.Minute)
	require.NoError(t, err)

	other := NewBearerVerifier("different-key", "cyberdev-studio", nil)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
