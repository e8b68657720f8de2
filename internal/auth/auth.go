package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrUserNotFound = errors.New("user not found")

// Principal identifies the caller an RPC request is authorized as.
type Principal struct {
	UserID string
	Role   string
}

// Directory is the out-of-scope user store: it resolves an opaque API-key
// id to the bcrypt hash on file for it and the principal that owns it.
// A concrete implementation (e.g. backed by internal/projects' database
// handle) is supplied by the caller; this package only verifies.
type Directory interface {
	LookupAPIKey(ctx context.Context, keyID string) (hash string, principal Principal, err error)
}

// APIKeyVerifier checks opaque API keys of the form "<keyID>.<secret>"
// against bcrypt hashes served by a Directory.
type APIKeyVerifier struct {
	dir Directory
}

func NewAPIKeyVerifier(dir Directory) *APIKeyVerifier {
	return &APIKeyVerifier{dir: dir}
}

// Verify splits apiKey into its id/secret halves, looks up the stored hash
// for id, and compares it against secret.
func (v *APIKeyVerifier) Verify(ctx context.Context, apiKey string) (Principal, error) {
	keyID, secret, ok := splitAPIKey(apiKey)
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}

	hash, principal, err := v.dir.LookupAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Principal{}, ErrInvalidCredentials
		}
		return Principal{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return principal, nil
}

// HashAPIKeySecret hashes the secret half of a newly issued API key for
// storage in the directory. Exposed so key-issuance tooling outside this
// package never has to import bcrypt directly.
func HashAPIKeySecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// splitAPIKey divides "<keyID>.<secret>" on the first '.'; both halves must
// be non-empty.
func splitAPIKey(apiKey string) (keyID, secret string, ok bool) {
	for i := 0; i < len(apiKey); i++ {
		if apiKey[i] == '.' {
			if i == 0 || i == len(apiKey)-1 {
				return "", "", false
			}
			return apiKey[:i], apiKey[i+1:], true
		}
	}
	return "", "", false
}
