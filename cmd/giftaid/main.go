// Package main запускает HTTP-сервер сервиса пожертвований Gift Aid.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/giftaid-donations/internal/config"
	"github.com/mmeshcher/giftaid-donations/internal/handler"
	"github.com/mmeshcher/giftaid-donations/internal/middleware"
	"github.com/mmeshcher/giftaid-donations/internal/model"
	"github.com/mmeshcher/giftaid-donations/internal/repository"
	"github.com/mmeshcher/giftaid-donations/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	if cfg.SessionSecret == "" {
		sugar.Warn("session secret is not set, cookies and nonces will not survive a restart")
	}
	nonces := middleware.NewNonces(cfg.SessionSecret)

	svc := service.NewService(repo, nonces, service.Options{
		MarkClaimedOnExport: cfg.MarkClaimedOnExport,
	})
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap(ctx, svc, cfg); err != nil {
		sugar.Fatalw("bootstrap error", "error", err.Error())
	}

	h := handler.NewHandler(svc, logger,
		middleware.NewAuthMiddleware(cfg.SessionSecret),
		middleware.NewSessionCookies(cfg.SessionSecret),
		nonces,
	)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting giftaid server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// bootstrap создаёт администратора и сохраняет настройки по умолчанию из конфигурации.
func bootstrap(ctx context.Context, svc *service.Service, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := svc.EnsureStaffUser(ctx, cfg.AdminLogin, cfg.AdminPassword); err != nil {
		return err
	}

	return svc.SeedSettings(ctx, model.Settings{
		DonationProductID: cfg.DonationProductID,
		CharityName:       cfg.CharityName,
	})
}
