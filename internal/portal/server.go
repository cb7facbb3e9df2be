package portal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mvula88/impota-portal/internal/logging"
	"github.com/Mvula88/impota-portal/internal/portal/checkout"
	"github.com/Mvula88/impota-portal/internal/portal/devices"
	"github.com/Mvula88/impota-portal/internal/portal/email"
	"github.com/Mvula88/impota-portal/internal/portal/entitlements"
	"github.com/Mvula88/impota-portal/internal/portal/pmetrics"
	"github.com/rs/zerolog/log"
)

// Run starts the portal HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "portal",
	})

	log.Info().Str("version", version).Msg("Starting Impota portal")

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	entStore, err := entitlements.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open entitlement store: %w", err)
	}
	defer entStore.Close()

	deviceStore, err := devices.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}
	defer deviceStore.Close()

	sessionKey, err := cfg.SessionKeyBytes()
	if err != nil {
		return fmt.Errorf("session key: %w", err)
	}

	var emailSender email.Sender
	if cfg.PostmarkToken != "" {
		emailSender = email.NewPostmarkSender(cfg.PostmarkToken)
		log.Info().Msg("Email sender configured (Postmark)")
	} else {
		emailSender = email.NewLogSender(func(to, subject, body string) {
			const maxBody = 4096
			bodyForLog := body
			if len(bodyForLog) > maxBody {
				bodyForLog = bodyForLog[:maxBody] + "...(truncated)"
			}
			log.Info().
				Str("to", to).
				Str("subject", subject).
				Str("body", bodyForLog).
				Msg("Email (log-only, no email provider configured)")
		})
		log.Info().Msg("Email sender: log-only (set POSTMARK_SERVER_TOKEN to enable)")
	}

	bridge := checkout.NewBridge(entStore, cfg.StripeAPIKey, cfg.BaseURL, emailSender, cfg.EmailFrom)

	mux := http.NewServeMux()
	deps := &Deps{
		Config:       cfg,
		Entitlements: entStore,
		Devices:      deviceStore,
		Checkout:     bridge,
		SessionKey:   sessionKey,
		Version:      version,
	}
	RegisterRoutes(mux, deps)
	defer deps.StopLimiters()

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           SecurityHeaders(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runEntitlementMetrics(ctx, entStore)

	go func() {
		log.Info().Str("addr", addr).Msg("Portal listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Portal stopped")
	return nil
}

// runEntitlementMetrics keeps the active-entitlements gauge fresh.
func runEntitlementMetrics(ctx context.Context, store *entitlements.Store) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	update := func() {
		n, err := store.CountActive()
		if err != nil {
			log.Warn().Err(err).Msg("Active entitlement count failed")
			return
		}
		pmetrics.ActiveEntitlements.Set(float64(n))
	}

	update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
