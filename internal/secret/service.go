package secret

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"
	"github.com/org/oncesecret/internal/storage"
	"github.com/org/oncesecret/pkg/models"
	"github.com/rs/zerolog"
)

const (
	// TTL is how long a secret stays retrievable after creation.
	TTL = time.Hour

	// MaxValueBytes bounds the plaintext size.
	MaxValueBytes = 10000

	// LinkPrefix is the path under which secrets are retrieved.
	LinkPrefix = "/secret/"

	nonceAttempts = 3
)

var (
	// ErrInvalidInput wraps validation.Errors describing a rejected payload.
	ErrInvalidInput = errors.New("invalid input")

	// ErrGone covers every reason a secret cannot be disclosed: unknown,
	// malformed, already claimed, or expired.
	ErrGone = errors.New("secret gone")

	// ErrInternal covers failures the caller cannot fix.
	ErrInternal = errors.New("internal error")
)

// AEAD encrypts and decrypts payloads. *crypto.Cipher implements it.
type AEAD interface {
	Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error)
	Decrypt(ciphertext, nonce []byte) ([]byte, error)
}

// Observer receives the outcome and latency of each lifecycle operation.
type Observer interface {
	ObserveOperation(operation, outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, time.Duration) {}

const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeGone    = "gone"
	OutcomeError   = "error"
)

// Service creates and discloses one-time secrets.
type Service struct {
	store    storage.SecretStore
	aead     AEAD
	observer Observer
	now      func() time.Time
	newID    func() uuid.UUID
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces uuid.New.
func WithIDGenerator(gen func() uuid.UUID) Option {
	return func(s *Service) { s.newID = gen }
}

func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// NewService creates a Service.
func NewService(store storage.SecretStore, aead AEAD, opts ...Option) *Service {
	s := &Service{
		store:    store,
		aead:     aead,
		observer: nopObserver{},
		now:      time.Now,
		newID:    uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is the producer's payload.
type CreateInput struct {
	Value string `json:"value"`
}

// Validate checks the payload is between 1 and MaxValueBytes bytes.
func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Value,
			validation.Required.Error("must not be empty"),
			validation.Length(1, MaxValueBytes).Error(fmt.Sprintf("must be at most %d bytes", MaxValueBytes)),
		),
	)
}

// Create encrypts value and stores it for one retrieval within TTL.
func (s *Service) Create(ctx context.Context, value string) (link *models.SecretLink, err error) {
	start := time.Now()
	defer func() { s.observer.ObserveOperation("create", outcomeOf(err), time.Since(start)) }()

	if err := (CreateInput{Value: value}).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	logger := zerolog.Ctx(ctx)
	id := s.newID()
	expiresAt := s.now().Add(TTL).UTC().Truncate(time.Microsecond)

	for attempt := 1; ; attempt++ {
		ciphertext, nonce, err := s.aead.Encrypt([]byte(value))
		if err != nil {
			logger.Error().Err(err).Msg("failed to encrypt secret")
			return nil, fmt.Errorf("%w: encrypting secret: %w", ErrInternal, err)
		}

		err = s.store.Create(ctx, &models.Secret{
			ID:         id,
			Ciphertext: ciphertext,
			Nonce:      nonce,
			ExpiresAt:  expiresAt,
		})
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrNonceConflict) && attempt < nonceAttempts {
			logger.Warn().Int("attempt", attempt).Msg("nonce collision, re-encrypting")
			continue
		}
		logger.Error().Err(err).Str("secret_id", id.String()).Msg("failed to store secret")
		return nil, fmt.Errorf("%w: storing secret: %w", ErrInternal, err)
	}

	logger.Debug().Str("secret_id", id.String()).Time("expires_at", expiresAt).Msg("secret created")
	return &models.SecretLink{
		ID:        id,
		Link:      LinkPrefix + id.String(),
		ExpiresAt: expiresAt,
	}, nil
}

// Retrieve claims the secret and returns its plaintext. The claim is durable
// before decryption, so a decryption failure loses the secret.
func (s *Service) Retrieve(ctx context.Context, rawID string) (value string, err error) {
	start := time.Now()
	defer func() { s.observer.ObserveOperation("retrieve", outcomeOf(err), time.Since(start)) }()

	logger := zerolog.Ctx(ctx)
	id, err := uuid.Parse(rawID)
	if err != nil {
		logger.Debug().Str("reason", "malformed id").Msg("secret not retrievable")
		return "", ErrGone
	}

	sec, err := s.store.TryClaim(ctx, id, s.now())
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrIneligible):
		logger.Debug().Str("secret_id", id.String()).Str("reason", err.Error()).Msg("secret not retrievable")
		return "", ErrGone
	default:
		logger.Error().Err(err).Str("secret_id", id.String()).Msg("failed to claim secret")
		return "", fmt.Errorf("%w: claiming secret: %w", ErrInternal, err)
	}

	plaintext, err := s.aead.Decrypt(sec.Ciphertext, sec.Nonce)
	if err != nil {
		logger.Error().Err(err).Str("secret_id", id.String()).Msg("claimed secret failed to decrypt")
		return "", fmt.Errorf("%w: decrypting secret: %w", ErrInternal, err)
	}
	return string(plaintext), nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalid
	case errors.Is(err, ErrGone):
		return OutcomeGone
	default:
		return OutcomeError
	}
}
