package models

import (
	"time"

	"github.com/google/uuid"
)

// Secret is one stored one-time secret. Ciphertext includes the AEAD tag.
type Secret struct {
	ID         uuid.UUID
	Ciphertext []byte
	Nonce      []byte
	ExpiresAt  time.Time
	Claimed    bool
	CreatedAt  time.Time
}

// Eligible reports whether the secret may still be disclosed at now.
func (s *Secret) Eligible(now time.Time) bool {
	return !s.Claimed && now.Before(s.ExpiresAt)
}

// SecretLink is what a producer receives after creating a secret.
type SecretLink struct {
	ID        uuid.UUID
	Link      string
	ExpiresAt time.Time
}
