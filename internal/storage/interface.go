package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/org/oncesecret/pkg/models"
)

var (
	// ErrNotFound is returned when no row exists for the id.
	ErrNotFound = errors.New("not found")

	// ErrIneligible is returned when the row exists but is claimed or expired.
	ErrIneligible = errors.New("secret claimed or expired")

	// ErrConflict is returned when a secret id is already taken.
	ErrConflict = errors.New("already exists")

	// ErrNonceConflict is returned when a nonce is already stored.
	ErrNonceConflict = errors.New("nonce already in use")

	// ErrUnavailable wraps persistence failures.
	ErrUnavailable = errors.New("store unavailable")
)

// SecretStore persists one-time secrets.
type SecretStore interface {
	// Create inserts s unconditionally.
	Create(ctx context.Context, s *models.Secret) error

	// TryClaim atomically marks the secret claimed if it is unclaimed and
	// unexpired at now, returning the stored ciphertext and nonce. Otherwise it
	// returns ErrIneligible or ErrNotFound. At most one caller ever succeeds
	// for a given id.
	TryClaim(ctx context.Context, id uuid.UUID, now time.Time) (*models.Secret, error)

	// SweepExpired deletes claimed and expired rows and returns how many.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// CountPending counts secrets that are still retrievable at now.
	CountPending(ctx context.Context, now time.Time) (int64, error)

	Ping(ctx context.Context) error
}

// QueryObserver receives the duration and outcome of every store query.
type QueryObserver func(operation string, d time.Duration, err error)
