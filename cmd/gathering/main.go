// Package main is the entry point for the gathering engine: it wires
// configuration, logging, the event bus, a facilitator, a demo circle,
// the background executor, and the scheduler together, then runs until
// signaled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/gathering/internal/background"
	"github.com/kandev/gathering/internal/circle"
	"github.com/kandev/gathering/internal/common/config"
	"github.com/kandev/gathering/internal/common/logger"
	"github.com/kandev/gathering/internal/event"
	"github.com/kandev/gathering/internal/events"
	"github.com/kandev/gathering/internal/facilitator"
	"github.com/kandev/gathering/internal/scheduler"
	"github.com/kandev/gathering/internal/store/memstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting gathering engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := event.NewBus(log, cfg.Events.HistorySize)

	transport, cleanupTransport, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event relay transport", zap.Error(err))
	}
	defer cleanupTransport()
	if cfg.NATS.URL != "" {
		log.Info("relaying events to NATS", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("no NATS URL configured, running without a cross-process relay")
	}
	relay := event.NewRelay(transport, cfg.Events.RelayNamespace, log)
	relaySub := relay.Attach(eventBus)
	defer relaySub.Unsubscribe()

	fac := facilitator.New(cfg.Facilitator.MaxWorkload)

	gathering := circle.New("default", circle.Config{
		RequireReview:   cfg.Circle.RequireReview,
		AutoRoute:       cfg.Circle.AutoRoute,
		MaxIterations:   cfg.Circle.MaxIterations,
		StopGracePeriod: cfg.Circle.StopGracePeriod,
		TurnTimeout:     cfg.Circle.TurnTimeout,
	}, fac, eventBus, log)

	if err := gathering.Start(ctx); err != nil {
		log.Fatal("failed to start circle", zap.Error(err))
	}

	st := memstore.New()

	agentExecutors := background.StaticExecutors{}
	executor := background.NewExecutor(cfg.Executor, st, eventBus, agentExecutors, log)

	if recovered, err := executor.RecoverTasks(ctx); err != nil {
		log.Error("failed to recover background tasks", zap.Error(err))
	} else if recovered > 0 {
		log.Info("recovered orphaned background tasks", zap.Int("count", recovered))
	}

	sched := scheduler.New(cfg.Scheduler, st, executor, eventBus, log)
	sched.Start(ctx)

	logSubscription := eventBus.Subscribe(nil, "", func(evt *event.Event) error {
		log.Debug("event", zap.String("kind", string(evt.Kind)), zap.Any("payload", evt.Payload))
		return nil
	})
	defer logSubscription.Unsubscribe()

	log.Info("gathering engine is running",
		zap.String("circle", "default"),
		zap.Int("max_concurrent_background_tasks", cfg.Executor.MaxConcurrent),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down gathering engine")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gathering.Stop(shutdownCtx, cfg.Circle.StopGracePeriod); err != nil {
		log.Error("circle shutdown error", zap.Error(err))
	}

	sched.Stop()

	if err := executor.Shutdown(shutdownCtx, cfg.Executor.ShutdownGracePeriod); err != nil {
		log.Error("executor shutdown error", zap.Error(err))
	}

	log.Info("gathering engine stopped")
}
