package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/duowatch/config"
	"github.com/d60-Lab/duowatch/internal/api"
	"github.com/d60-Lab/duowatch/internal/auth"
	"github.com/d60-Lab/duowatch/internal/codegen"
	"github.com/d60-Lab/duowatch/internal/liststore"
	"github.com/d60-Lab/duowatch/internal/repository"
	"github.com/d60-Lab/duowatch/internal/service"
	"github.com/d60-Lab/duowatch/internal/tmdb"
	"github.com/d60-Lab/duowatch/pkg/database"
	"github.com/d60-Lab/duowatch/pkg/logger"
	"github.com/d60-Lab/duowatch/pkg/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			return fmt.Errorf("sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()
	if err := database.Migrate(db); err != nil {
		return err
	}

	cache, err := newListCache(ctx, cfg)
	if err != nil {
		return err
	}

	accountRepo := repository.NewAccountRepository(db)
	lists := liststore.New(repository.NewListRepository(db), accountRepo, cache, liststore.WithFreshTTL(cfg.Cache.FreshTTL))
	alloc := codegen.NewAllocator(codegen.NewRandomGenerator(), cfg.Pairing.MaxCodeAttempts)

	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Verifier: auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer),
		Accounts: service.NewAccountService(accountRepo, alloc),
		Pairing:  service.NewPairingService(accountRepo, lists),
		Lists:    lists,
		Search:   service.NewSearchService(tmdb.NewClient(cfg.TMDB)),
		Ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.String("addr", srv.Addr), zap.String("cache", cfg.Cache.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newListCache(ctx context.Context, cfg *config.Config) (liststore.Cache, error) {
	if cfg.Cache.Backend != "redis" {
		return liststore.NewMemoryCache(cfg.Cache.IdleTTL, time.Now), nil
	}
	rdb := database.InitRedis(cfg)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return liststore.NewRedisCache(rdb, cfg.Cache.IdleTTL), nil
}
