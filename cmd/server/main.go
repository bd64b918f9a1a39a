package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/oncesecret/internal/api"
	"github.com/org/oncesecret/internal/config"
	"github.com/org/oncesecret/internal/crypto"
	"github.com/org/oncesecret/internal/metrics"
	"github.com/org/oncesecret/internal/secret"
	"github.com/org/oncesecret/internal/storage"
	"github.com/org/oncesecret/internal/sweep"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.DefaultContextLogger = &log.Logger

	alg, err := crypto.ParseAlgorithm(cfg.EncryptionAlgorithm)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption algorithm")
	}
	cipher, err := crypto.NewCipher(cfg.EncryptionKey, alg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
	}

	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl,
		storage.WithMaxConns(cfg.DBMaxConns),
		storage.WithQueryObserver(metrics.ObserveQuery),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	svc := secret.NewService(store, cipher, secret.WithObserver(metrics.Operations{}))
	srv := api.NewServer(svc, store, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	})
	sweeper := sweep.New(store, cfg.SweepInterval, metrics.Sweeps{})

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("algorithm", string(cipher.Algorithm())).
		Msg("server starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server failed")
		store.Close()
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
