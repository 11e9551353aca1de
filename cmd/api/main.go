package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/api"
	"legal-intake-orchestrator/internal/app"
	"legal-intake-orchestrator/internal/identity"
	"legal-intake-orchestrator/internal/storage"
)

func main() {
	cmd := app.NewCommand("api", "Serve the document intake HTTP API", run)
	if !app.Execute(context.Background(), cmd) {
		os.Exit(1)
	}
}

func run(ctx context.Context, rt app.Runtime) error {
	cfg, logger := rt.Config, rt.Logger

	store, err := storage.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}

	blob, err := storage.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("connect minio: %w", err)
	}

	temporalClient, err := app.DialTemporal(rt)
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	var verifier identity.Verifier = identity.HeaderVerifier{}
	if cfg.OIDCIssuer != "" {
		oidcVerifier, err := identity.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return err
		}
		verifier = oidcVerifier
		logger.Info("oidc verification enabled", zap.String("issuer", cfg.OIDCIssuer))
	} else {
		logger.Warn("no OIDC issuer configured, trusting the X-Actor header")
	}

	h := api.NewHandler(cfg, store, blob, temporalClient, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(h, verifier),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
