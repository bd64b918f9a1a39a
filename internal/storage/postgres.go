package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/oncesecret/pkg/models"
	"github.com/rs/zerolog"
)

const (
	uniqueViolation     = "23505"
	nonceConstraintName = "secrets_nonce_key"
)

// PostgresBackend is a SecretStore backed by PostgreSQL.
type PostgresBackend struct {
	pool     *pgxpool.Pool
	observer QueryObserver
}

// Option configures a PostgresBackend.
type Option func(*pgxpool.Config, *PostgresBackend)

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) Option {
	return func(cfg *pgxpool.Config, _ *PostgresBackend) {
		if n > 0 {
			cfg.MaxConns = n
		}
	}
}

// WithQueryObserver reports every query to obs.
func WithQueryObserver(obs QueryObserver) Option {
	return func(_ *pgxpool.Config, p *PostgresBackend) {
		p.observer = obs
	}
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string, opts ...Option) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	p := &PostgresBackend{}
	for _, opt := range opts {
		opt(cfg, p)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	p.pool = pool
	return p, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (p *PostgresBackend) Create(ctx context.Context, s *models.Secret) error {
	start := time.Now()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO secrets (id, ciphertext, nonce, expires_at, claimed)
		 VALUES ($1, $2, $3, $4, FALSE)`,
		s.ID, s.Ciphertext, s.Nonce, s.ExpiresAt,
	)
	p.observe("create", start, err)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == nonceConstraintName {
			return ErrNonceConflict
		}
		return ErrConflict
	}
	return fmt.Errorf("%w: inserting secret: %w", ErrUnavailable, err)
}

func (p *PostgresBackend) TryClaim(ctx context.Context, id uuid.UUID, now time.Time) (*models.Secret, error) {
	start := time.Now()
	s := models.Secret{ID: id, Claimed: true}
	err := p.pool.QueryRow(ctx,
		`UPDATE secrets SET claimed = TRUE
		 WHERE id = $1 AND claimed = FALSE AND expires_at > $2
		 RETURNING ciphertext, nonce, expires_at, created_at`,
		id, now,
	).Scan(&s.Ciphertext, &s.Nonce, &s.ExpiresAt, &s.CreatedAt)
	p.observe("claim", start, err)
	if err == nil {
		return &s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: claiming secret: %w", ErrUnavailable, err)
	}
	return nil, p.classifyMiss(ctx, id, now)
}

// classifyMiss decides why a claim matched no row, deleting the row if it is
// no longer eligible. Failures here never surface; they degrade to ErrNotFound.
func (p *PostgresBackend) classifyMiss(ctx context.Context, id uuid.UUID, now time.Time) error {
	logger := zerolog.Ctx(ctx)

	start := time.Now()
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM secrets WHERE id = $1 AND (claimed OR expires_at <= $2)`,
		id, now,
	)
	p.observe("delete_ineligible", start, err)
	if err == nil {
		if tag.RowsAffected() > 0 {
			return ErrIneligible
		}
		return ErrNotFound
	}
	logger.Warn().Err(err).Str("secret_id", id.String()).Msg("failed to delete ineligible secret")

	start = time.Now()
	var exists bool
	err = p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM secrets WHERE id = $1)`, id).Scan(&exists)
	p.observe("exists", start, err)
	if err != nil {
		logger.Warn().Err(err).Str("secret_id", id.String()).Msg("failed to check secret existence")
		return ErrNotFound
	}
	if exists {
		return ErrIneligible
	}
	return ErrNotFound
}

func (p *PostgresBackend) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM secrets WHERE claimed OR expires_at <= $1`,
		now,
	)
	p.observe("sweep", start, err)
	if err != nil {
		return 0, fmt.Errorf("%w: sweeping secrets: %w", ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresBackend) CountPending(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	var n int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM secrets WHERE claimed = FALSE AND expires_at > $1`,
		now,
	).Scan(&n)
	p.observe("count_pending", start, err)
	if err != nil {
		return 0, fmt.Errorf("%w: counting secrets: %w", ErrUnavailable, err)
	}
	return n, nil
}

func (p *PostgresBackend) observe(op string, start time.Time, err error) {
	if p.observer == nil {
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	p.observer(op, time.Since(start), err)
}
