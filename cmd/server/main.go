package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gomongo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/soleron/huddle/internal/adapters/auth"
	router "github.com/soleron/huddle/internal/adapters/http"
	"github.com/soleron/huddle/internal/adapters/signal"
	mongostore "github.com/soleron/huddle/internal/adapters/store/mongo"
	redisstore "github.com/soleron/huddle/internal/adapters/store/redis"
	"github.com/soleron/huddle/internal/app"
	"github.com/soleron/huddle/internal/config"
)

// readiness combines the store pings into the per-connection probe.
type readiness struct {
	redis *redisstore.Store
	mongo *mongostore.Store
}

func (r *readiness) Ready(ctx context.Context) error {
	if err := r.redis.Ping(ctx); err != nil {
		return err
	}
	return r.mongo.Ping(ctx)
}

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	presenceStore := redisstore.NewStore(redisClient)

	mongoClient, err := gomongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connect")
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	workspaceStore := mongostore.NewStore(mongoClient.Database(cfg.Mongo.Database))

	presence := app.NewPresence(presenceStore, cfg.PersistMaxElapsed)
	rooms := app.NewRooms()
	calls := app.NewCalls(rooms, clock.New(), workspaceStore, cfg.CallRingTimeout, cfg.CallMonitorInterval)
	collab := app.NewCollab()
	hub := app.NewHub(presence, rooms, calls, collab)

	ctl := signal.NewController(
		hub,
		auth.NewJWTVerifier(cfg.Secret),
		workspaceStore,
		workspaceStore,
		&readiness{redis: presenceStore, mongo: workspaceStore},
		cfg,
	)

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle hub started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	presence.Wait()
	calls.Wait()
	log.Info().Msg("Server exited gracefully")
}
