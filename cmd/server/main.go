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

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"edusync/internal/app/server/api"
	"edusync/internal/app/server/config"
	"edusync/internal/domain/entity"
	"edusync/internal/domain/session"
	"edusync/internal/infrastructure/storage/postgres"
	"edusync/internal/utils/logger"
)

const sessionCleanupInterval = time.Hour

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "edusync-server",
	Short:         "Сервер учебной платформы edusync",
	Long:          `REST API для клиентов edusync: сущности, вход и проверка сессий.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}
		log := logger.WithLevel(cfg.Env, cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, log)
	},
}

func main() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "конфигурационный файл (YAML)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer storage.Close()

	sessionRepo := postgres.NewSessionRepository(storage, log)
	sessions := session.NewService(sessionRepo, cfg.Session.TTL, log)

	if cfg.Admin.Login != "" {
		if _, err := sessions.EnsureAccount(ctx, cfg.Admin.Login, cfg.Admin.Password); err != nil {
			return fmt.Errorf("bootstrap account: %w", err)
		}
	}

	entities := entity.NewService(postgres.NewEntityRepository(storage, log), log)

	srv := &http.Server{
		Addr: cfg.Server.RunAddress,
		Handler: api.New(api.Deps{
			Entities: entities,
			Sessions: sessions,
			DB:       storage,
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go cleanupSessions(ctx, sessionRepo, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", "address", cfg.Server.RunAddress, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func cleanupSessions(ctx context.Context, repo *postgres.SessionRepository, log *slog.Logger) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpired(ctx)
			if err != nil {
				log.Error("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired sessions removed", "count", n)
			}
		}
	}
}
