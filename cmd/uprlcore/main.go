package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/saan-system/uprl-core/internal/infrastructure/bus"
	"github.com/saan-system/uprl-core/internal/infrastructure/config"
	"github.com/saan-system/uprl-core/internal/infrastructure/database"
	"github.com/saan-system/uprl-core/internal/infrastructure/lock"
	"github.com/saan-system/uprl-core/internal/infrastructure/store"
	"github.com/saan-system/uprl-core/internal/ingest"
	"github.com/saan-system/uprl-core/internal/projector"
	httpTransport "github.com/saan-system/uprl-core/internal/transport/http"
	"github.com/saan-system/uprl-core/internal/version"
	"github.com/saan-system/uprl-core/internal/views"
	"github.com/saan-system/uprl-core/pkg/logger"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply schema migrations and exit")
	migrationsPath := flag.String("migrations-path", "", "override the migrations directory")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting uprl-core...")

	conn, err := database.NewConnection(cfg.Database, log)
	if err != nil {
		log.Errorf("failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.RunMigrations(*migrationsPath); err != nil {
		log.Errorf("failed to run migrations: %v", err)
		os.Exit(1)
	}
	if *migrateOnly {
		log.Info("migrations applied, exiting (--migrate)")
		return
	}

	factStore := store.NewPostgresFactStore(conn.DB)

	var scopeLock version.ScopeLocker
	if cfg.Lock.Distributed {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		scopeLock = lock.NewRedisScopeLock(redisClient, cfg.Lock.TTL, cfg.Lock.RetryDelay)
		log.Info("scope lock: redis (distributed)")
	} else {
		scopeLock = lock.NewShardedMutex(cfg.Lock.Shards)
		log.Info("scope lock: in-process sharded mutex")
	}

	registry := version.NewRegistry(factStore, scopeLock, log)
	pipeline := ingest.NewPipeline(factStore, registry, log)
	viewsService := views.New(factStore)
	payablesProjector := projector.New(factStore, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumers := bus.NewConsumers(cfg.Kafka, pipeline, log)
	for _, c := range consumers {
		c := c
		go c.Run(ctx)
	}
	defer func() {
		for _, c := range consumers {
			c.Close()
		}
	}()

	replayWorker := bus.NewReplayWorker(cfg.Kafka, factStore, log, 30*time.Second)
	go replayWorker.Start(ctx)
	defer replayWorker.Stop()

	handler := httpTransport.NewHandler(viewsService, payablesProjector, factStore, pipeline, log)
	router := httpTransport.SetupRoutes(handler, log)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infof("server listening on %s:%s", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	} else {
		log.Info("server shutdown completed")
	}
}
