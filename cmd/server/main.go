// Command server runs the stock ledger HTTP API.
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

	"github.com/gin-gonic/gin"

	"stockledger/internal/bootstrap"
	"stockledger/internal/config"
	v1 "stockledger/internal/infrastructure/http/v1"
	"stockledger/internal/infrastructure/http/v1/handlers"
	"stockledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.IsDevelopment(),
		Service:     cfg.App.Name,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	_ = log.Sync()
	if err != nil {
		log.Errorw("server exited", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or the listener fails, then drains
// in-flight requests before closing storage.
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Infow("starting", "storage", cfg.Storage.Driver, "env", cfg.App.Env)

	storage, err := bootstrap.OpenStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	services, err := bootstrap.NewServices(ctx, cfg, storage)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer services.Close()

	mode := gin.ReleaseMode
	if cfg.App.IsDevelopment() {
		mode = gin.DebugMode
	}
	server := &http.Server{
		Addr: cfg.HTTP.Addr(),
		Handler: v1.NewRouter(v1.RouterConfig{
			AppName:  cfg.App.Name,
			Storage:  storage.Driver,
			Checks:   healthChecks(services.HealthChecks(storage)),
			Guard:    services.Guard,
			Ledger:   storage.Ledger,
			Balances: services.Balances,
			Reports:  services.Reports,
			Logger:   log,
			Gatherer: services.Registry,
			Mode:     mode,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute, // report scans
		IdleTimeout:       time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Infow("shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("stopped")
	return nil
}

func healthChecks(in map[string]func(context.Context) error) map[string]handlers.Check {
	out := make(map[string]handlers.Check, len(in))
	for name, fn := range in {
		out[name] = fn
	}
	return out
}
