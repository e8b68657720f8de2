package projects

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"cyberdevstudio/internal/auth"
)

func TestIssueAPIKeyThenLookupAPIKeyRoundTrips(t *testing.T) {
	s := newTestStore(t)
	token, err := s.IssueAPIKey("key1", "supersecret", "u1", "member")
	require.NoError(t, err)
	assert.Equal(t, "key1.supersecret", token)

	hash, principal, err := s.LookupAPIKey(context.Background(), "key1")
	require.NoError(t, err)
	assert.Equal(t, auth.Principal{UserID: "u1", Role: "member"}, principal)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("supersecret")))
}

func TestLookupAPIKeyUnknownIDReturnsErrUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.LookupAPIKey(context.Background(), "nope")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestRevokeAPIKeyRemovesIt(t *testing.T) {
	s := newTestStore(t)
	_, err := s.IssueAPIKey("key1", "secret", "u1", "member")
	require.NoError(t, err)
	require.NoError(t, s.RevokeAPIKey("key1"))

	_, _, err = s.LookupAPIKey(context.Background(), "key1")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestRevokeAPIKeyUnknownIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.RevokeAPIKey("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
