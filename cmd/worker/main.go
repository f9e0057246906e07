package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imvg93/NoriX-sub006/internal/audit"
	"github.com/imvg93/NoriX-sub006/internal/config"
	"github.com/imvg93/NoriX-sub006/internal/kycclient"
	"github.com/imvg93/NoriX-sub006/internal/logger"
	"github.com/imvg93/NoriX-sub006/internal/queue"
	"github.com/imvg93/NoriX-sub006/internal/store"
	"github.com/imvg93/NoriX-sub006/internal/verification"
)

// Worker runs the periodic KYC auto-check cycle: select due records,
// score them, persist scores and the audit trail.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	// An unreachable store is an operational precondition failure, not
	// something to limp through.
	mongoStore, err := store.NewMongo(cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connect failed")
	}
	defer mongoStore.Close(context.Background())

	repo := verification.NewRepository(mongoStore.DB)
	auditLog := audit.NewStore(mongoStore.DB)

	var scorer verification.Scorer
	switch cfg.ScorerBackend {
	case "kyc":
		client := kycclient.New(cfg.KYCServiceURL)
		if err := client.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("kyc service not available, checks will fail until it recovers")
		} else {
			log.Info().Str("url", cfg.KYCServiceURL).Msg("kyc service connected")
		}
		scorer = client
	default:
		log.Info().Msg("using stub scorer")
		scorer = verification.StubScorer{}
	}

	pipeline := verification.NewPipeline(repo, auditLog, scorer,
		cfg.LookbackWindow, cfg.BatchSize, cfg.ScoreTimeout, log)
	scheduler := verification.NewScheduler(pipeline, cfg.CheckInterval, log)

	redisClient := store.NewRedis(cfg.RedisAddr)
	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "norix:rechecks")
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}
	go func() {
		for req := range messages {
			log.Info().
				Str("record_id", req.RecordID).
				Str("requested_by", req.RequestedBy).
				Msg("recheck requested, kicking cycle")
			scheduler.Kick()
		}
	}()

	if cfg.MetricsPort != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("scheduler start failed")
	}
	log.Info().
		Dur("interval", cfg.CheckInterval).
		Int("batch_size", cfg.BatchSize).
		Str("scorer", cfg.ScorerBackend).
		Msg("auto-check worker started")

	<-ctx.Done()
	scheduler.Stop()
	log.Info().Msg("worker stopped")
}
