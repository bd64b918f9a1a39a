// Package sweep periodically removes claimed and expired secrets. Removal is
// housekeeping only; disclosure checks never depend on it.
package sweep

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store is the part of storage.SecretStore the sweeper needs.
type Store interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	CountPending(ctx context.Context, now time.Time) (int64, error)
}

// Recorder receives sweep results.
type Recorder interface {
	ObserveSweep(deleted int64, err error)
	SetPending(n int64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSweep(int64, error) {}
func (nopRecorder) SetPending(int64)          {}

// Sweeper runs SweepExpired on a fixed interval.
type Sweeper struct {
	store    Store
	interval time.Duration
	recorder Recorder
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a Sweeper. A nil recorder discards results.
func New(store Store, interval time.Duration, recorder Recorder) *Sweeper {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		recorder: recorder,
		now:      time.Now,
		logger:   log.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps once immediately, then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info().Msg("sweeper disabled")
		return nil
	}
	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.SweepOnce(ctx) //nolint:errcheck
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce deletes every claimed or expired row and refreshes the pending
// gauge.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.store.SweepExpired(ctx, now)
	s.recorder.ObserveSweep(n, err)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("swept secrets")
	}

	pending, err := s.store.CountPending(ctx, now)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to count pending secrets")
		return n, nil
	}
	s.recorder.SetPending(pending)
	return n, nil
}
