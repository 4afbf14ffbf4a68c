package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hazz-dev/reachprobe/internal/alert"
	"github.com/hazz-dev/reachprobe/internal/auth"
	"github.com/hazz-dev/reachprobe/internal/config"
	"github.com/hazz-dev/reachprobe/internal/dashboard"
	"github.com/hazz-dev/reachprobe/internal/hub"
	"github.com/hazz-dev/reachprobe/internal/logging"
	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/scheduler"
	"github.com/hazz-dev/reachprobe/internal/server"
	"github.com/hazz-dev/reachprobe/internal/version"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API, dashboard and scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("starting", zap.String("version", version.Version), zap.String("storage", cfg.Storage.Driver))

	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		logger.Warn("auth.jwt_secret is the built-in default; set REACHPROBE_JWT_SECRET in production")
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.Seed.Enabled {
		if err := db.Seed(ctx); err != nil {
			return fmt.Errorf("seeding defaults: %w", err)
		}
	}

	live := hub.New(cfg.Server.AllowedOrigins, logger.Named("hub"))
	go live.Run(ctx)

	var alerter *alert.Alerter
	if cfg.Alerts.Webhook.URL != "" {
		alerter = alert.New(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Cooldown.Duration, logger.Named("alert"))
	}

	prober := newProber(cfg.Probe, probe.ModeFull)
	sched := scheduler.New(db, prober, scheduler.Options{
		Interval:     cfg.Scheduler.Interval.Duration,
		Concurrency:  cfg.Scheduler.Concurrency,
		Overlap:      cfg.Scheduler.Overlap,
		Retries:      cfg.Scheduler.Retries,
		RetryBackoff: cfg.Scheduler.RetryBackoff.Duration,
		RunOnStart:   cfg.Scheduler.RunOnStart,
	}, logger.Named("scheduler"))
	sched.SetOnResult(func(evt scheduler.Event) {
		live.Broadcast(hub.Event{Type: hub.TypeProbeResult, Payload: resultPayload(evt)})
		if alerter != nil {
			alerter.Notify(evt.Endpoint, evt.Result, evt.Previous)
		}
	})
	sched.SetOnTick(func(sum scheduler.TickSummary) {
		live.Broadcast(hub.Event{Type: hub.TypeTickComplete, Payload: tickPayload(sum, sched.Status())})
	})

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
	api := server.New(db, prober, sched, issuer, server.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Live:           live.HandleConnect,
		Dashboard:      dashboard.Handler(),
	}, logger.Named("http"))

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration,
	}

	if cfg.Scheduler.Enabled {
		sched.Start(ctx)
		logger.Info("scheduler started", zap.Duration("interval", cfg.Scheduler.Interval.Duration))
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		stop()
		sched.Wait()
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}
	sched.Wait()
	if alerter != nil {
		alerter.Wait()
	}

	logger.Info("shutdown complete")
	return nil
}

// liveResult is the probe.result payload pushed to websocket clients.
type liveResult struct {
	RunID          string        `json:"runId"`
	ApplicationID  int64         `json:"applicationId"`
	EndpointID     int64         `json:"endpointId"`
	Label          string        `json:"label"`
	Result         probe.Result  `json:"result"`
	PreviousStatus *probe.Status `json:"previousStatus"`
}

func resultPayload(evt scheduler.Event) liveResult {
	return liveResult{
		RunID:          evt.RunID,
		ApplicationID:  evt.Endpoint.ApplicationID,
		EndpointID:     evt.Endpoint.ID,
		Label:          evt.Endpoint.Label,
		Result:         evt.Result,
		PreviousStatus: evt.Previous,
	}
}

type liveTick struct {
	scheduler.TickSummary
	scheduler.Status
}

func tickPayload(sum scheduler.TickSummary, st scheduler.Status) liveTick {
	return liveTick{TickSummary: sum, Status: st}
}
