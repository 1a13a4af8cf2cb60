package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"govconsent/internal/platform/config"
	"govconsent/internal/platform/httpserver"
	"govconsent/internal/platform/logger"
)

// main wires dependencies and owns the server lifecycle. Business logic lives
// in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.UsesDevSigningKey() {
		log.Warn("JWT_SIGNING_KEY not set, using the development key")
	}
	if cfg.Auth.AdminToken == "" {
		log.Warn("ADMIN_TOKEN not set, provisioning routes are locked")
	}

	infra, err := openInfrastructure(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	app := buildApp(cfg, infra, log)
	defer app.Close()

	srv := httpserver.New(cfg.Server.Addr, app.Router)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr, "storage", infra.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if infra.Purger != nil {
		g.Go(func() error {
			purgeExpiredRevocations(gctx, infra.Purger, log)
			return nil
		})
	}

	return g.Wait()
}

type revocationPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func purgeExpiredRevocations(ctx context.Context, purger revocationPurger, log *slog.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				log.Warn("token revocation purge failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("purged token revocations", "count", n)
			}
		}
	}
}
