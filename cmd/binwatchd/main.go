package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"binwatch-backend/config"
	"binwatch-backend/internal/api"
	"binwatch-backend/internal/db"
	"binwatch-backend/internal/liveness"
	"binwatch-backend/internal/metrics"
	"binwatch-backend/internal/notification"
	"binwatch-backend/internal/store"
	"binwatch-backend/internal/timefmt"
)

func main() {
	logger := log.New(os.Stdout, "binwatch ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	formatter, err := timefmt.New(cfg.Time.Timezone, cfg.Time.Layout)
	if err != nil {
		logger.Fatalf("invalid time configuration: %v", err)
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var statusStore store.Store
	switch cfg.StatusStore.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.StatusStore.RedisAddr,
			Password: cfg.StatusStore.RedisPassword,
			DB:       cfg.StatusStore.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Printf("Warning: redis at %s is not reachable yet: %v", cfg.StatusStore.RedisAddr, err)
		}
		statusStore = store.NewRedisStore(rdb, cfg.StatusStore.KeyPrefix)
	case "database":
		statusStore = store.NewGormStore(gormDB)
	default:
		logger.Fatalf("unknown status_store.backend %q", cfg.StatusStore.Backend)
	}
	logger.Printf("status store initialized (%s)", cfg.StatusStore.Backend)

	var webpushOptions *webpush.Options
	trackerOpts := []liveness.Option{}
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		alerts := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, gormDB, webpushOptions)
		alerts.Start(ctx)
		trackerOpts = append(trackerOpts, liveness.WithOnOffline(func(k liveness.DeviceKey) {
			alerts.Dispatch(notification.Alert{Location: k.Location, DeviceID: k.DeviceID})
		}))
	} else {
		logger.Println("VAPID keys not configured; offline push alerts are disabled")
	}

	tracker := liveness.New(liveness.FromConfig(cfg.Liveness), statusStore, formatter, trackerOpts...)
	tracker.Start(ctx)
	metrics.Register(prometheus.DefaultRegisterer, tracker)

	router := api.NewRouter(cfg.Server, statusStore, gormDB, tracker, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	tracker.Stop()
	tracker.WaitForWrites()
	cancel()

	logger.Println("Server gracefully stopped")
}
