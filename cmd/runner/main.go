package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/widip/mcp-gateway/internal/clients"
	"github.com/widip/mcp-gateway/internal/config"
	"github.com/widip/mcp-gateway/internal/safeguard"
	"github.com/widip/mcp-gateway/internal/secrets"
	"github.com/widip/mcp-gateway/internal/state"
	"github.com/widip/mcp-gateway/internal/workflow"
)

const workflowOverlayPath = "workflows.yaml"

func main() {
	settings, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	setupLogging(settings)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. State store, with in-memory fallback when Redis is down
	var (
		stateStore state.Store
		rdb        *redis.Client
	)
	rdb = redis.NewClient(&redis.Options{
		Addr:     settings.RedisAddr,
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, using in-memory state store", "addr", settings.RedisAddr, "error", err)
		rdb.Close()
		rdb = nil
		stateStore = state.NewMemoryStore()
	} else {
		stateStore = state.NewRedisStoreFromClient(rdb)
		slog.Info("Redis connected", "addr", settings.RedisAddr)
	}
	defer stateStore.Close()

	notifier := clients.NewNotifier(settings.SlackWebhookURL, settings.TeamsWebhookURL, 2)
	defer notifier.Shutdown()

	// 2. Workflow registrations
	scheduler := workflow.NewScheduler()

	if settings.GLPIURL != "" {
		prober := workflow.NewSessionProber(settings.GLPIURL+"/initSession", map[string]string{
			"App-Token":     settings.GLPIAppToken,
			"Authorization": "user_token " + settings.GLPIUserToken,
		})
		healthCheck := &workflow.HealthCheck{
			Service:  "glpi",
			Prober:   prober,
			Store:    stateStore,
			Notifier: notifier,
		}
		mustRegister(scheduler, healthCheck, workflow.Interval(workflow.HealthCheckInterval))
	} else {
		slog.Warn("GLPI not configured, health monitor disabled")
	}

	mcpClient := workflow.NewClient(settings.MCPServerURL, settings.APIKey, settings.MCPTimeout, settings.MCPMaxRetries)
	triage := &workflow.TicketTriage{Client: mcpClient, Store: stateStore}
	mustRegister(scheduler, triage, workflow.Webhook("glpi-new-ticket"))

	// The cleanup sweep needs the approval store; skip it when Postgres or
	// Redis is absent rather than failing the whole runner.
	if rdb != nil {
		if db, err := openPostgres(ctx, settings); err != nil {
			slog.Warn("postgres unreachable, approval cleanup disabled", "error", err)
		} else {
			defer db.Close()
			envelopes, err := secrets.NewRedisEnvelopeStore(rdb, settings.EncryptionKey)
			if err != nil {
				slog.Error("secret store init failed", "error", err)
				os.Exit(1)
			}
			queue := safeguard.NewQueue(db, envelopes, notifier, settings.DashboardURL)
			cleanup := &workflow.SafeguardCleanup{Queue: queue, Store: stateStore}
			mustRegister(scheduler, cleanup, workflow.Interval(workflow.CleanupInterval))
		}
	}

	applyOverrides(scheduler)

	// 3. Start triggers and the HTTP surface
	if settings.SchedulerEnabled {
		if err := scheduler.Start(); err != nil {
			slog.Error("scheduler start failed", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("scheduler disabled, workflows run on manual trigger only")
	}

	addr := fmt.Sprintf("%s:%d", settings.Host, settings.RunnerPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      workflow.NewHTTPHandler(scheduler, stateStore),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // manual triggers run synchronously
	}

	go func() {
		slog.Info("workflow runner listening", "addr", addr, "workflows", len(scheduler.Workflows()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("runner failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		slog.Error("scheduler shutdown error", "error", err)
	}
}

func openPostgres(ctx context.Context, settings *config.Settings) (*sql.DB, error) {
	db, err := sql.Open("postgres", settings.PostgresDSN())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// applyOverrides pauses workflows listed as paused in the optional
// workflows.yaml overlay.
func applyOverrides(scheduler *workflow.Scheduler) {
	overlay, err := config.LoadWorkflowFile(workflowOverlayPath)
	if err != nil {
		slog.Warn("workflow overlay ignored", "error", err)
		return
	}
	for _, info := range scheduler.Workflows() {
		if override, ok := overlay.Override(info.Name); ok && override.Paused {
			if err := scheduler.Pause(info.Name); err == nil {
				slog.Info("workflow paused by overlay", "workflow", info.Name)
			}
		}
	}
}

func mustRegister(scheduler *workflow.Scheduler, wf workflow.Workflow, trigger workflow.Trigger) {
	if err := scheduler.Register(wf, trigger); err != nil {
		slog.Error("workflow registration failed", "workflow", wf.Name(), "error", err)
		os.Exit(1)
	}
}

func setupLogging(settings *config.Settings) {
	var level slog.Level
	switch strings.ToUpper(settings.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if settings.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
