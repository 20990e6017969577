package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiensd92/voip-linphone-sdk/internal/api"
	"github.com/tiensd92/voip-linphone-sdk/internal/api/middleware"
	"github.com/tiensd92/voip-linphone-sdk/internal/calllog"
	"github.com/tiensd92/voip-linphone-sdk/internal/config"
	"github.com/tiensd92/voip-linphone-sdk/internal/metrics"
	"github.com/tiensd92/voip-linphone-sdk/internal/push"
	"github.com/tiensd92/voip-linphone-sdk/internal/sipua"
	"github.com/tiensd92/voip-linphone-sdk/internal/voip"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting voipbridge",
		"http_port", cfg.HTTPPort,
		"sip_listen_port", cfg.SIPListenPort,
		"data_dir", cfg.DataDir,
		"auth", cfg.AuthEnabled(),
	)

	if err := os.MkdirAll(cfg.RecordingsDir(), 0o750); err != nil {
		slog.Error("failed to create recordings directory", "error", err)
		os.Exit(1)
	}

	// Open the call log and run migrations.
	store, err := calllog.Open(cfg.CallLogDSN, cfg.DataDir)
	if err != nil {
		slog.Error("failed to open call log", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	ua := sipua.New(sipua.Options{
		ListenPort:    cfg.SIPListenPort,
		UserAgent:     cfg.UserAgent,
		RecordingsDir: cfg.RecordingsDir(),
		CallLog:       store,
		Logger:        logger,
	})

	var pushTokens voip.PushTokenRegistrar
	if pbx := push.NewClient(cfg.PBXURL, cfg.PBXToken, cfg.SIPExtension); pbx.Configured() {
		pushTokens = pbx
		slog.Info("push token registration enabled", "pbx_url", cfg.PBXURL)
	}

	callUI := api.NewCallUIStream(logger)
	svc := voip.New(voip.Options{
		Engine:         ua,
		CallUI:         callUI,
		Logger:         logger,
		Debounce:       cfg.Debounce,
		RingTimeout:    cfg.RingTimeout,
		RecordingPaths: recordingPaths{dir: cfg.RecordingsDir()},
		PushTokens:     pushTokens,
	})

	svcDone := make(chan struct{})
	go func() {
		defer close(svcDone)
		if err := svc.Run(appCtx); err != nil {
			slog.Error("voip service stopped", "error", err)
		}
	}()

	// Metrics registry with process collectors and the bridge collector.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(svc, ua, missedCounter{ua: ua}, ua, startTime, logger),
	)

	// HTTP server using the api package.
	handler := api.NewServer(api.Options{
		Service:     svc,
		CallUI:      callUI,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: middleware.ParseCORSOrigins(cfg.CORSOrigins),
		RateLimit:   cfg.RateLimit,
		Logger:      logger,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		// Event streams clear their own write deadline.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if cfg.HasAccount() {
		initCtx, cancel := context.WithTimeout(appCtx, 10*time.Second)
		ok, err := svc.InitModule(initCtx, voip.InitParams{
			Extension:     cfg.SIPExtension,
			Password:      cfg.SIPPassword,
			Domain:        cfg.SIPDomain,
			Port:          cfg.SIPPort,
			TransportType: cfg.SIPTransport,
			KeepAlive:     cfg.SIPKeepAlive,
		})
		cancel()
		if err != nil || !ok {
			slog.Error("failed to configure startup account", "extension", cfg.SIPExtension, "error", err)
		}
	}

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down servers")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	appCancel()
	<-svcDone
	if err := ua.Stop(); err != nil {
		slog.Error("sip user agent shutdown error", "error", err)
	}

	slog.Info("voipbridge stopped")
}

// recordingPaths places recordings under the data directory, one WAV file
// per correlation id.
type recordingPaths struct {
	dir string
}

func (p recordingPaths) RecordingPath(correlationID string) string {
	return filepath.Join(p.dir, correlationID+".wav")
}

// missedCounter adapts the user agent's missed-call counter for metrics.
type missedCounter struct {
	ua *sipua.UA
}

func (m missedCounter) MissedCount(ctx context.Context) (int, error) {
	return m.ua.MissedCallsCount(), nil
}
