package main // Entry point package

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/avridge/accountd/internal/config"
	"github.com/avridge/accountd/internal/database"
	"github.com/avridge/accountd/internal/handler"
	"github.com/avridge/accountd/internal/idempotency"
	"github.com/avridge/accountd/internal/limiter"
	"github.com/avridge/accountd/internal/model"
	"github.com/avridge/accountd/internal/observability"
	"github.com/avridge/accountd/internal/queue"
	"github.com/avridge/accountd/internal/repository"
	"github.com/avridge/accountd/internal/router"
	"github.com/avridge/accountd/internal/token"
	"github.com/avridge/accountd/internal/worker"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	cfg := config.Load()
	rlCfg := config.LoadRateLimitConfig()
	idemCfg := config.LoadIdempotencyConfig()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		log.Printf("sentry init failed, continuing without: %v", err)
	}
	defer observability.FlushSentry()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional; a nil client degrades the block cache to store
	// queries.
	rdb := config.NewRedisClient()
	var cache limiter.BlockCache
	if c := limiter.NewRedisBlockCache(rdb, rlCfg.PermBlockCacheTTL); c != nil {
		cache = c
	}

	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(db)
	rates := repository.NewRateLimitRepo(db)
	idemRepo := repository.NewIdempotencyRepo(db)

	tokens := token.New(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL, cfg.RefreshFallbackTTL)
	lim := limiter.New(rlCfg, rates, cache)
	lim.OnPermanentBlock = func(subject string, strategy model.Strategy) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.PublishSecurityEvent(ctx, queue.SecurityEvent{
			Type:     queue.EventBlockPermanent,
			Subject:  subject,
			Strategy: string(strategy),
		})
	}
	idem := idempotency.New(idemRepo, idemCfg.TTL)

	// Background pieces: the security-event consumer and the sweeper that
	// owns every periodic cleanup.
	go func() {
		if err := queue.StartSecurityConsumer(); err != nil {
			log.Printf("security consumer stopped: %v", err)
		}
	}()

	sweeper := worker.NewSweeper(cfg.SweepInterval)
	sweeper.Register("rate_limits", lim.Sweep)
	sweeper.Register("idempotency_keys", idem.Sweep)
	sweeper.Register("refresh_sessions", func(ctx context.Context) (int64, error) {
		return sessions.Sweep(ctx, time.Now().UTC())
	})
	sweeper.Start()
	defer sweeper.Stop()

	e := echo.New()
	e.HideBanner = true

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, sessions, tokens, lim), tokens, lim, idem, idemCfg)
	router.RegisterProfile(e, handler.NewProfileHandler(cfg, users, sessions), tokens, idem, idemCfg)
	router.RegisterAdmin(e, handler.NewAdminHandler(cfg, users, sessions, tokens, lim), tokens)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	go func() {
		if err := e.Start(addr); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	// Block until interrupted, then drain in-flight requests.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
