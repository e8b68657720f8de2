package projects

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"cyberdevstudio/internal/auth"
)

// APIKey is one issued credential: KeyID is the public half presented in
// "X-API-Key: <KeyID>.<secret>", SecretHash is the bcrypt hash of the secret
// half. A user may hold more than one key (e.g. one per CI integration).
type APIKey struct {
	KeyID      string `json:"key_id" gorm:"primarykey"`
	SecretHash string `json:"-" gorm:"not null"`
	UserID     string `json:"user_id" gorm:"not null;index"`
	Role       string `json:"role" gorm:"not null"`
}

// LookupAPIKey implements auth.Directory against the Store's own database,
// so the RPC transport's only user store is the one this process already
// owns; there is no separate identity service in scope.
func (s *Store) LookupAPIKey(ctx context.Context, keyID string) (string, auth.Principal, error) {
	var key APIKey
	err := s.db.WithContext(ctx).First(&key, "key_id = ?", keyID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", auth.Principal{}, auth.ErrUserNotFound
		}
		return "", auth.Principal{}, fmt.Errorf("lookup api key: %w", err)
	}
	return key.SecretHash, auth.Principal{UserID: key.UserID, Role: key.Role}, nil
}

// IssueAPIKey hashes secret and stores a new APIKey row, returning the
// bearer-facing token "<keyID>.<secret>" the caller presents afterward.
func (s *Store) IssueAPIKey(keyID, secret, userID, role string) (string, error) {
	hash, err := auth.HashAPIKeySecret(secret)
	if err != nil {
		return "", fmt.Errorf("hash api key secret: %w", err)
	}
	key := APIKey{KeyID: keyID, SecretHash: hash, UserID: userID, Role: role}
	if err := s.db.Create(&key).Error; err != nil {
		return "", fmt.Errorf("issue api key: %w", err)
	}
	return keyID + "." + secret, nil
}

// RevokeAPIKey deletes a previously issued key.
func (s *Store) RevokeAPIKey(keyID string) error {
	res := s.db.Delete(&APIKey{}, "key_id = ?", keyID)
	if res.Error != nil {
		return fmt.Errorf("revoke api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
