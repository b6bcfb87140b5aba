package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"metricwatch-backend/internal/anomaly"
	"metricwatch-backend/internal/api"
	"metricwatch-backend/internal/bus"
	"metricwatch-backend/internal/config"
	"metricwatch-backend/internal/crypto"
	"metricwatch-backend/internal/engine"
	"metricwatch-backend/internal/notify"
	"metricwatch-backend/internal/rules"
	"metricwatch-backend/internal/security"
	"metricwatch-backend/internal/storage"
	"metricwatch-backend/internal/throttle"
	"metricwatch-backend/internal/window"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	port := getenv("PORT", "8090")
	dsn := getenv("DATABASE_URL", "")
	natsURL := getenv("NATS_URL", "")
	key := getenv("ENCRYPTION_KEY", "")
	evalInterval := getenvInt("EVAL_INTERVAL_SECONDS", 30)
	workers := getenvInt("WORKER_COUNT", 4)

	limits := security.DefaultLimits()
	if timeout := getenvInt("DISPATCH_TIMEOUT_SECONDS", 0); timeout > 0 {
		limits.DispatchTimeout = time.Duration(timeout) * time.Second
	}
	if path := getenv("CONFIG_PATH", ""); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			logger.Error("failed to load config", slog.String("path", path), slog.String("error", err.Error()))
			os.Exit(1)
		}
		limits = cfg.ApplyLimits(limits)
		if cfg.EvalIntervalSeconds > 0 {
			evalInterval = cfg.EvalIntervalSeconds
		}
		if cfg.Workers > 0 {
			workers = cfg.Workers
		}
	}

	var encryptor crypto.Encryptor
	if key != "" {
		if len(key) != 32 {
			logger.Error("ENCRYPTION_KEY must be 32 bytes")
			os.Exit(1)
		}
		enc, err := crypto.NewAesGcmEncryptor([]byte(key))
		if err != nil {
			logger.Error("failed to init encryptor", slog.String("error", err.Error()))
			os.Exit(1)
		}
		encryptor = enc
	}

	ctx := context.Background()
	var repo *storage.Repository
	if dsn != "" {
		store, err := storage.NewStore(ctx, dsn)
		if err != nil {
			logger.Error("failed to connect to db", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer store.Close()
		repo = storage.NewRepository(store)
	}

	var publisher *bus.Publisher
	var subscriber *bus.Subscriber
	if natsURL != "" {
		p, err := bus.NewPublisher(natsURL)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer p.Close()
		publisher = p
		s, err := bus.NewSubscriber(natsURL)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer s.Close()
		subscriber = s
	}

	windows := window.NewStore(limits.MaxWindowSamples, limits.MaxWindowAge)
	detector := anomaly.NewDetector(
		anomaly.NewStatistical(windows),
		anomaly.NewContextual(windows),
		anomaly.NewTrend(windows),
		anomaly.NewReconstruction(logger),
	)
	ruleEngine := rules.NewEngine(windows, engine.LatestVerdicts{Windows: windows, Detector: detector}).
		WithMaxWindow(limits.MaxWindowMinutes)

	var secrets notify.Secrets
	if encryptor != nil {
		secrets = encryptor
	}
	dispatcher := notify.NewDispatcher(limits.DispatchTimeout, secrets, logger)

	eng := engine.New(engine.Options{
		Windows:    windows,
		Detector:   detector,
		Rules:      ruleEngine,
		Throttle:   throttle.NewController(),
		Dispatcher: dispatcher,
		Bus:        publisher,
		Repo:       repo,
		Logger:     logger,
		Interval:   time.Duration(evalInterval) * time.Second,
		Workers:    workers,
		QueueSize:  limits.DispatchQueueSize,
	})
	if err := eng.Reconcile(ctx); err != nil {
		logger.Error("failed to restore rules", slog.String("error", err.Error()))
		os.Exit(1)
	}
	eng.Start()
	defer eng.Stop()

	if subscriber != nil && repo != nil {
		for _, subject := range []string{bus.SubjectRuleCreated, bus.SubjectRuleUpdated, bus.SubjectRuleDeleted} {
			if _, err := subscriber.SubscribeRules(subject, func(evt bus.RuleEvent) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := eng.ReconcileRule(ctx, evt.RuleID); err != nil {
					logger.Error("rule reconcile failed", slog.String("ruleId", evt.RuleID), slog.String("error", err.Error()))
				}
			}); err != nil {
				logger.Error("failed to subscribe", slog.String("subject", subject), slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
	}

	handler := &api.Handler{
		Engine:    eng,
		Repo:      repo,
		Encryptor: encryptor,
		MaxBatch:  limits.MaxBatchSize,
		Timeout:   5 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("metricwatch engine listening", slog.String("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("error", err.Error()))
	}
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(val); err == nil {
		return parsed
	}
	return fallback
}
