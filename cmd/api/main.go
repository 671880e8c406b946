package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/servcheck/prober/internal/config"
	"github.com/servcheck/prober/internal/httpapi"
	apimw "github.com/servcheck/prober/internal/httpapi/middleware"
	"github.com/servcheck/prober/internal/logging"
	"github.com/servcheck/prober/internal/probe"
	"github.com/servcheck/prober/internal/repo/memory"
	"github.com/servcheck/prober/internal/transport"
)

func main() {
	cfg := config.FromEnv()
	logger, err := logging.NewLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("api_failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	cat, err := config.LoadCatalog(ctx, cfg.CatalogPath)
	if err != nil {
		return err
	}
	if err := cat.Validate(); err != nil {
		// invalid tests still produce validation results when probed
		logger.Warn("catalog_invalid", zap.Error(err))
	}

	store := memory.New()
	store.Load(cat.Tests, cat.CAs, cat.Proxies)

	exec := transport.New(
		transport.WithLogger(logger),
		transport.WithCertificateStore(store),
		transport.WithProxyStore(store),
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithCABundle(cfg.CABundle),
		transport.WithTempDir(cfg.TmpDir),
		transport.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	prober := &probe.RetryProber{
		Inner:    probe.NewEngine(exec, logger),
		Attempts: cfg.RetryAttempts,
		Backoff:  cfg.RetryBackoff,
	}

	api := httpapi.NewServer(logger, store, store, prober)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	grp, groupCtx := errgroup.WithContext(runCtx)
	grp.Go(func() error {
		logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.Int("tests", len(cat.Tests)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := grp.Wait(); err != nil {
		return err
	}
	logger.Info("api_stopped")
	return nil
}
