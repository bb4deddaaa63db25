package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/collab"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/invite"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/oplog"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/presence"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/realtime"
)

func main() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	feed, closeFeed := openFeed(cfg)
	defer closeFeed()

	tracker := presence.NewTracker(cfg.PresenceTTL)
	tracker.StartSweeper(ctx, cfg.PresenceSweep)

	svc := collab.NewService(store, feed, tracker, collab.SessionConfig{
		SnapshotEvery: cfg.SnapshotEvery,
	})
	defer svc.Close()

	invites := invite.NewManager(store, feed, newEmailSender(cfg))

	api := collab.NewServer(svc, invites)
	ws := realtime.NewServer(svc, cfg.JWTSecret, cfg.AllowedOrigin)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)
	r.Use(collab.CORSMiddleware(cfg.AllowedOrigin))

	// The websocket route skips the JWT middleware: browsers cannot set
	// Authorization headers on dials, so the bridge checks ?token= itself.
	apiMW := []func(http.Handler) http.Handler{middleware.Timeout(60 * time.Second)}
	if len(cfg.JWTSecret) > 0 {
		apiMW = append(apiMW, collab.JWTAuthMiddleware(cfg.JWTSecret))
	}
	r.Mount("/realtime", ws.Router())
	r.Mount("/", api.Router(apiMW...))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("collab-service listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("collab-service: %v", err)
	}
	log.Printf("collab-service stopped")
}

// openStore picks the operation-log store: Postgres behind retry and a
// circuit breaker when DATABASE_URL is set, in-memory otherwise.
func openStore(ctx context.Context, cfg Config) (oplog.Store, func()) {
	if cfg.DatabaseURL == "" {
		log.Printf("collab-service: DATABASE_URL empty, using in-memory store")
		return oplog.NewMemoryStore(), func() {}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("collab-service: pg: %v", err)
	}
	if err := oplog.AutoMigrate(ctx, pool); err != nil {
		log.Fatalf("collab-service: migrate: %v", err)
	}

	return oplog.NewResilientStore(oplog.NewPostgresStore(pool), oplog.DefaultRetryPolicy()), pool.Close
}

// openFeed picks the change feed: Redis pub/sub when REDIS_URL is set,
// in-process fan-out otherwise. Single-node deployments need no Redis.
func openFeed(cfg Config) (oplog.Feed, func()) {
	if cfg.RedisURL == "" {
		log.Printf("collab-service: REDIS_URL empty, using in-process feed")
		return oplog.NewMemoryFeed(), func() {}
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("collab-service: invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opt)

	return oplog.NewRedisFeed(rdb), func() { _ = rdb.Close() }
}

func newEmailSender(cfg Config) invite.EmailSender {
	if cfg.SMTPHost == "" {
		return invite.LogEmailSender{}
	}
	return invite.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
}
