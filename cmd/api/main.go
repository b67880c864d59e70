package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "petsim/internal/api"
	"petsim/internal/config"
	"petsim/internal/jobqueue"
	"petsim/internal/logger"
	"petsim/internal/petservice"
	"petsim/internal/ratelimit"
	"petsim/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("PETSIM_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg := logger.New(cfg.LogLevel).With("service", "api", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open %s store: %v", cfg.DatabaseDriver, err)
	}
	defer st.Close()

	queue := jobqueue.New(st, jobqueue.Options{
		StaleThreshold:     cfg.StaleLockThreshold,
		BatchSize:          cfg.ClaimBatchSize,
		MaxAttempts:        cfg.MaxAttempts,
		MinIntervals:       cfg.JobMinIntervals,
		DefaultMinInterval: cfg.JobDefaultMinInterval,
	})

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	limiter := ratelimit.NewTokenBucket(rdb, "petsim:api:", cfg.APIRateLimitCapacity, cfg.APIRateLimitPeriod)

	server := api.New(queue, petservice.New(st, lg), st, limiter, lg)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lg.Info("api listening", "port", cfg.HTTPPort, "driver", cfg.DatabaseDriver)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
