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

	"github.com/widip/mcp-gateway/internal/api"
	"github.com/widip/mcp-gateway/internal/clients"
	"github.com/widip/mcp-gateway/internal/config"
	"github.com/widip/mcp-gateway/internal/mcp"
	"github.com/widip/mcp-gateway/internal/safeguard"
	"github.com/widip/mcp-gateway/internal/secrets"
	"github.com/widip/mcp-gateway/internal/state"
	"github.com/widip/mcp-gateway/internal/tools"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	setupLogging(settings)

	// Security validation gates production startup.
	critical := false
	for _, finding := range settings.ValidateSecurity() {
		if finding.Critical {
			critical = true
			slog.Error("security validation", "finding", finding.Message)
		} else {
			slog.Warn("security validation", "finding", finding.Message)
		}
	}
	if critical && settings.IsProduction() {
		slog.Error("refusing to start with critical security findings in production")
		os.Exit(1)
	}

	// 1. Durable stores
	db, err := sql.Open("postgres", settings.PostgresDSN())
	if err != nil {
		slog.Error("postgres open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		slog.Error("postgres unreachable", "error", err)
		os.Exit(1)
	}
	slog.Info("Postgres connected", "host", settings.PostgresHost, "db", settings.PostgresDB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.RedisAddr,
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The envelope store has no in-memory fallback; approvals with
		// secrets cannot work without it.
		slog.Error("redis unreachable", "addr", settings.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	stateStore := state.NewRedisStoreFromClient(rdb)
	slog.Info("Redis connected", "addr", settings.RedisAddr)

	envelopes, err := secrets.NewRedisEnvelopeStore(rdb, settings.EncryptionKey)
	if err != nil {
		slog.Error("secret store init failed", "error", err)
		os.Exit(1)
	}

	// 2. Collaborators
	notifier := clients.NewNotifier(settings.SlackWebhookURL, settings.TeamsWebhookURL, 2)
	defer notifier.Shutdown()

	deps := tools.Deps{Notifier: notifier}
	if settings.GLPIURL != "" {
		deps.GLPI = clients.NewGLPIClient(settings.GLPIURL, settings.GLPIAppToken, settings.GLPIUserToken)
	}
	if settings.ObserviumURL != "" {
		deps.Observium = clients.NewObserviumClient(settings.ObserviumURL, settings.ObserviumUser, settings.ObserviumPass)
	}
	if settings.LDAPServer != "" {
		deps.Directory = clients.NewDirectoryClient(settings.LDAPServer, settings.LDAPBaseDN, settings.LDAPBindUser, settings.LDAPBindPass)
	}
	if settings.SMTPHost != "" {
		deps.Mailer = clients.NewMailer(settings.SMTPHost, settings.SMTPPort, settings.SMTPUser, settings.SMTPPass, settings.SMTPFromName, settings.SMTPFromEmail)
	}
	deps.Knowledge = clients.NewKnowledgeStore(db)
	if err := deps.Knowledge.Initialize(ctx); err != nil {
		slog.Error("knowledge schema init failed", "error", err)
		os.Exit(1)
	}

	// 3. Governance core
	registry := mcp.NewRegistry()
	if err := tools.RegisterAll(registry, deps); err != nil {
		slog.Error("tool registration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("tools registered", "count", registry.Len())

	gate := safeguard.NewGate(settings.SafeguardEnabled, tools.Levels, notifier)
	if !settings.SafeguardEnabled {
		slog.Warn("SAFEGUARD disabled; every operation maps to L0")
	}

	queue := safeguard.NewQueue(db, envelopes, notifier, settings.DashboardURL)
	if err := queue.Initialize(ctx); err != nil {
		slog.Error("approval schema init failed", "error", err)
		os.Exit(1)
	}

	dispatcher := mcp.NewDispatcher(registry, settings.MCPTimeout)

	// 4. HTTP surface
	probes := []api.HealthProbe{
		api.PostgresProbe(db),
		api.RedisProbe(stateStore),
	}
	server := api.NewServer(settings, registry, dispatcher, gate, queue, stateStore, probes)

	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
	}

	go func() {
		slog.Info("MCP gateway listening", "addr", addr, "environment", settings.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
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
