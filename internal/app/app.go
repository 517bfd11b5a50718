package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"commsdash/comms-api/internal/auth"
	"commsdash/comms-api/internal/config"
	"commsdash/comms-api/internal/database"
	"commsdash/comms-api/internal/httpserver"
	"commsdash/comms-api/internal/messages"
	"commsdash/comms-api/internal/migrations"
	"commsdash/comms-api/internal/observability"
)

type App struct {
	cfg    config.Config
	log    *zap.Logger
	db     *sqlx.DB
	server *httpserver.Server
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	db, err := database.Open(ctx, database.Config{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		PingTimeout: cfg.Database.QueryTimeout,
	})
	if err != nil {
		return nil, err
	}

	a, err := build(ctx, cfg, logger, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, db *sqlx.DB) (*App, error) {
	migrationService, err := migrations.NewService(db, migrations.Files(), logger.Named("migrations"))
	if err != nil {
		return nil, fmt.Errorf("create migration service: %w", err)
	}
	applied, err := migrationService.Apply(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("database migrated", zap.Strings("applied", applied))
	}

	store, err := auth.NewPostgresStore(db, cfg.Database.QueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	manager, err := auth.NewManager(store, auth.ManagerConfig{
		SessionTTL: cfg.Auth.SessionTTL,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger.Named("auth"),
	})
	if err != nil {
		return nil, fmt.Errorf("create session manager: %w", err)
	}

	if cfg.Auth.BootstrapEmail != "" {
		_, created, err := manager.EnsureUser(ctx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword)
		if err != nil {
			return nil, fmt.Errorf("create bootstrap user: %w", err)
		}
		if created {
			logger.Info("bootstrap user created", zap.String("email", cfg.Auth.BootstrapEmail))
		}
	}

	repo, err := messages.NewPostgresRepository(db, cfg.Database.QueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("create message repository: %w", err)
	}

	server := httpserver.New(cfg.HTTP, httpserver.Deps{
		Auth:       manager,
		Messages:   repo,
		Migrations: migrationService,
		DB:         db,
		Cookie:     httpserver.CookieConfigFrom(cfg.Auth),
		Logger:     logger.Named("http"),
	})

	return &App{
		cfg:    cfg,
		log:    logger,
		db:     db,
		server: server,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer func() {
		_ = a.db.Close()
		_ = a.log.Sync()
	}()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", zap.String("addr", a.cfg.HTTP.Addr))
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}
