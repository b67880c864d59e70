package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"petsim/internal/config"
	"petsim/internal/jobqueue"
	"petsim/internal/logger"
	"petsim/internal/notify"
	"petsim/internal/ratelimit"
	"petsim/internal/reply"
	"petsim/internal/store"
	"petsim/internal/telemetry"
	"petsim/internal/tick"
	"petsim/internal/weather"
	workerproc "petsim/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("PETSIM_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg := logger.New(cfg.LogLevel).With("service", "worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		lg.Info("shutdown signal received, finishing in-flight job")
		cancel()
	}()

	shutdownTracing, err := telemetry.InitTracing(ctx, "petsim-worker", cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() {
		flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = shutdownTracing(flushCtx)
	}()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open %s store: %v", cfg.DatabaseDriver, err)
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	queue := jobqueue.New(st, jobqueue.Options{
		StaleThreshold:     cfg.StaleLockThreshold,
		BatchSize:          cfg.ClaimBatchSize,
		MaxAttempts:        cfg.MaxAttempts,
		MinIntervals:       cfg.JobMinIntervals,
		DefaultMinInterval: cfg.JobDefaultMinInterval,
	})
	if _, err := queue.EnsureDefaults(ctx, cfg.PetDecayInterval, cfg.PetAutoMessageInterval); err != nil {
		log.Fatalf("ensure default jobs: %v", err)
	}

	weatherClient := weather.NewClient(cfg.OpenWeatherURL, cfg.OpenWeatherAPIKey, cfg.WeatherTimeout, cfg.WeatherRPS)
	resolver := weather.NewResolver(weatherClient, rdb, cfg.WeatherCacheTTL, lg)
	throttle := ratelimit.NewNotifyThrottle(rdb, cfg.NotifyBucketCapacity, cfg.NotifyRefillInterval)
	outbox := notify.NewOutbox(st, throttle, cfg.FrontendURL, lg)
	replier := reply.NewClient(reply.Options{
		URL:        cfg.YandexURL,
		APIKey:     cfg.YandexAPIKey,
		FolderID:   cfg.YandexFolderID,
		Model:      cfg.YandexModel,
		Timeout:    cfg.ReplyTimeout,
		MaxRetries: cfg.ReplyMaxRetries,
	}, lg)
	if !replier.Available() {
		lg.Warn("reply generator not configured, pets will use their phrase bank")
	}

	decay := tick.NewDecayTick(st, resolver, outbox, nil, lg)
	auto := tick.NewAutoMessageTick(st, replier, tick.AutoMessageOptions{
		Idle:           cfg.AutoMessageIdle,
		Probability:    cfg.AutoMessageProbability,
		MaxConsecutive: cfg.AutoMessageMaxConsecutive,
	}, lg)

	processor := workerproc.NewProcessor(queue, workerproc.Options{
		WorkerID:           cfg.WorkerID,
		PollInterval:       cfg.WorkerPollInterval,
		StorageRetryDelay:  cfg.StorageRetryDelay,
		EmailCheckInterval: cfg.EmailCheckInterval,
		EmailBatchSize:     cfg.EmailBatchSize,
	}, lg)
	processor.RegisterHandler(jobqueue.JobPetDecay, workerproc.TickHandler(decay.Run))
	processor.RegisterHandler(jobqueue.JobAutoMessages, workerproc.TickHandler(auto.Run))
	processor.SetEmailDrainer(notify.NewDrainer(st, notify.LogSender{Log: lg}, cfg.StaleLockThreshold, lg))

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			lg.Error("metrics server stopped", "error", err)
		}
	}()

	lg.Info("worker starting", "worker_id", cfg.WorkerID, "driver", cfg.DatabaseDriver, "metrics_addr", cfg.MetricsAddr)
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("worker stopped", "error", err)
	}
}
