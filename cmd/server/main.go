// Demo session broker server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/demolab/sessionbroker/internal/api"
	"github.com/demolab/sessionbroker/internal/config"
	"github.com/demolab/sessionbroker/internal/container"
	"github.com/demolab/sessionbroker/internal/gateway"
	"github.com/demolab/sessionbroker/internal/invite"
	"github.com/demolab/sessionbroker/internal/kv"
	"github.com/demolab/sessionbroker/internal/middleware"
	"github.com/demolab/sessionbroker/internal/queue"
	"github.com/demolab/sessionbroker/internal/ratelimit"
	"github.com/demolab/sessionbroker/internal/resethook"
	"github.com/demolab/sessionbroker/internal/sessiontoken"
	"github.com/demolab/sessionbroker/internal/supervisor"
	"github.com/demolab/sessionbroker/internal/terminalproc"
	"github.com/demolab/sessionbroker/web"
)

// envCredentials reads the demo environment's secrets from the process
// environment at promotion time, so the Supervisor never holds them longer
// than the single write it performs.
type envCredentials struct{}

func (envCredentials) Credentials(context.Context) (supervisor.Credentials, error) {
	return supervisor.Credentials{
		IssueTrackerAPIToken: os.Getenv("ISSUE_TRACKER_API_TOKEN"),
		IssueTrackerEmail:    os.Getenv("ISSUE_TRACKER_EMAIL"),
		IssueTrackerSiteURL:  os.Getenv("ISSUE_TRACKER_SITE_URL"),
		ModelProviderToken:   os.Getenv("MODEL_PROVIDER_TOKEN"),
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	kvCtx, kvCancel := context.WithTimeout(context.Background(), cfg.KV.ConnectTimeout+time.Duration(cfg.KV.RetryAttempts)*cfg.KV.RetryInterval)
	store, err := kv.NewRedis(kvCtx, kv.RedisConfig{
		ConnectionURL:  cfg.KV.ConnectionURL,
		RetryAttempts:  cfg.KV.RetryAttempts,
		RetryInterval:  cfg.KV.RetryInterval,
		ConnectTimeout: cfg.KV.ConnectTimeout,
	})
	kvCancel()
	if err != nil {
		slog.Error("Failed to connect to KV store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close KV store", "error", closeErr)
		}
	}()
	slog.Info("KV store connected")

	sandbox, err := container.New(cfg.ContainerRuntime)
	if err != nil {
		slog.Error("Failed to initialize sandbox manager", "error", err)
		os.Exit(1)
	}
	networkID, err := sandbox.EnsureNetwork(context.Background())
	if err != nil {
		slog.Error("Failed to ensure sandbox network", "error", err)
		os.Exit(1)
	}
	slog.Info("Sandbox network ready", "network_id", networkID)

	launcher := terminalproc.New(terminalproc.Config{
		BinaryPath: cfg.TerminalBinary,
		Debug:      cfg.IsDevelopment(),
	})

	minter := sessiontoken.New(cfg.Security.SessionSecret)

	connLimiter := ratelimit.New(cfg.RateLimit.ConnectionOpens, cfg.RateLimit.ConnectionWindow)
	defer connLimiter.Stop()
	inviteFailureLimiter := ratelimit.New(cfg.RateLimit.InviteFailures, cfg.RateLimit.InviteFailureWindow)
	defer inviteFailureLimiter.Stop()
	cookieLimiter := ratelimit.New(cfg.RateLimit.CookieIssuance, cfg.RateLimit.CookieIssuanceWindow)
	defer cookieLimiter.Stop()

	invites := invite.New(store, inviteFailureLimiter)

	resetHook := resethook.New(resethook.Config{
		ScriptPath: cfg.ResetHookScript,
		SiteURL:    cfg.IssueTrackerSite,
	}, invites)

	gw := gateway.New(gateway.Config{
		OriginPatterns: []string{"*"},
		IsDevelopment:  cfg.IsDevelopment(),
	}, connLimiter, invites)

	q := queue.New(queue.Config{
		Capacity:           cfg.Queue.Capacity,
		AverageSessionMins: cfg.Queue.AverageSessionMins,
	}, nil, nil)

	sup := supervisor.New(supervisor.Config{
		SessionTimeout: cfg.Session.Timeout,
		WarningLead:    cfg.Session.WarningLead,
		HardKillGrace:  cfg.Session.HardKillGrace,
		ReconnectGrace: cfg.Session.ReconnectGrace,
		CredentialDir:  cfg.Credential.Dir,
	}, envCredentials{}, sandbox, launcher, minter, store)
	sup.SetEmitter(gw)
	sup.SetInviteConsumer(invites)
	sup.SetQueue(q)
	sup.SetResetHook(resetHook)
	sup.SetClientLookup(gw)

	q.SetPromoter(sup)
	q.SetEmitter(gw)

	gw.SetQueue(q)
	gw.SetSupervisor(sup)

	sessionHandler := api.NewSessionHandler(sup, cookieLimiter, api.CookieConfig{
		MaxAge:        cfg.Session.Timeout,
		IsDevelopment: cfg.IsDevelopment(),
	})
	inviteHandler := api.NewInviteHandler(invites)
	healthHandler := api.NewHealthHandler(store)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	inviteHandler.RegisterRoutes(r)

	r.Get("/ws", gw.ServeHTTP)

	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout, the WebSocket connection is long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sup.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
