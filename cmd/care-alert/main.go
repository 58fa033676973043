package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/carebridge/go-care-alerts/internal/api"
	"github.com/carebridge/go-care-alerts/internal/config"
	"github.com/carebridge/go-care-alerts/internal/escalation"
	"github.com/carebridge/go-care-alerts/internal/logging"
	"github.com/carebridge/go-care-alerts/internal/ratelimit"
	"github.com/carebridge/go-care-alerts/internal/receipts"
	"github.com/carebridge/go-care-alerts/internal/repository"
	"github.com/carebridge/go-care-alerts/internal/stream"
	"github.com/carebridge/go-care-alerts/internal/telephony"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broadcaster for the live alert feed
	broadcaster := stream.NewBroadcaster()

	dialer := telephony.NewClient(telephony.Config{
		AccountID: cfg.Telephony.AccountID,
		AuthToken: cfg.Telephony.AuthToken,
		BaseURL:   cfg.Telephony.BaseURL,
		From:      cfg.Telephony.From,
	})

	// Async delivery receipt persistence
	drainer := receipts.NewDrainer(db, cfg.Worker.Count, cfg.Worker.BufferSize)
	drainer.Start()

	triggerLimiter, webhookLimiter, storeLimiters := buildLimiters(ctx, cfg, db)

	reference := repository.RefInitiated
	if cfg.Escalation.SLAReference == "answered" {
		reference = repository.RefAnswered
	}
	scheduler := escalation.NewScheduler(escalation.Config{
		Interval:    cfg.Escalation.Interval,
		SLA:         cfg.Escalation.SLAThreshold,
		Reference:   reference,
		CallbackURL: cfg.CallbackBaseURL + "/webhooks/voice/status",
	}, db, db, dialer, broadcaster)
	scheduler.Start(ctx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RequestLogger())

	handler := api.NewHandler(api.HandlerOptions{
		Alerts:         db,
		Coordinators:   db,
		Dialer:         dialer,
		Receipts:       drainer,
		Broadcaster:    broadcaster,
		Verifier:       api.NewVerifier(cfg.Telephony.AuthToken),
		CallbackBase:   cfg.CallbackBaseURL,
		TriggerLimiter: triggerLimiter,
		WebhookLimiter: webhookLimiter,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	// In-flight handlers finish first; they still submit receipts and
	// broadcast events, so the services behind them stop after.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()
	scheduler.Stop()
	drainer.Stop()
	broadcaster.Close()
	for _, l := range storeLimiters {
		l.Wait()
	}

	slog.Info("shutdown complete")
}

// buildLimiters wires the two rate limit classes. Alert triggering fails
// open: a caregiver mid-emergency beats a clean quota. Webhook ingress
// fails closed.
func buildLimiters(ctx context.Context, cfg *config.Config, db *repository.SQLiteDB) (trigger, webhook ratelimit.Limiter, store []*ratelimit.StoreLimiter) {
	if !cfg.RateLimit.Shared {
		slog.Warn("shared rate limit store disabled, counting per instance")
		base := ratelimit.Config{Limit: int64(cfg.RateLimit.Limit), Window: cfg.RateLimit.Window}
		return ratelimit.NewLocalLimiter(base), ratelimit.NewLocalLimiter(base), nil
	}

	triggerLimiter := ratelimit.NewStoreLimiter(db, ratelimit.Config{
		Limit:  int64(cfg.RateLimit.Limit),
		Window: cfg.RateLimit.Window,
		Policy: ratelimit.FailOpen,
	})
	webhookPolicy := ratelimit.FailClosed
	if cfg.RateLimit.Policy == "open" {
		webhookPolicy = ratelimit.FailOpen
	}
	webhookLimiter := ratelimit.NewStoreLimiter(db, ratelimit.Config{
		Limit:  int64(cfg.RateLimit.Limit),
		Window: cfg.RateLimit.Window,
		Policy: webhookPolicy,
	})

	// One pruner is enough; both limiters share the counters table.
	triggerLimiter.StartPruning(ctx, cfg.RateLimit.Window)

	return triggerLimiter, webhookLimiter, []*ratelimit.StoreLimiter{triggerLimiter, webhookLimiter}
}
