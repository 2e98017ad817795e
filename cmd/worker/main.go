package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"classledger/internal/advisor"
	"classledger/internal/app"
	"classledger/internal/config"
)

// Worker consumes faculty cache reconcile requests and periodically sweeps
// every faculty cache against assignment state.
func main() {
	cfg := config.Load()
	log := app.NewLogger(cfg).Named("worker")
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		log.Warn("QUEUE_BACKEND=memory: only the periodic sweep runs, reconcile requests stay in the API process")
	}

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("open backends failed", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = backends.Close(closeCtx)
	}()

	sync := advisor.NewSynchronizer(backends.Advisors, nil, log)

	// Catch up on anything that drifted while no worker was running.
	if n, err := sync.Sweep(ctx); err != nil {
		log.Error("startup sweep failed", zap.Error(err))
	} else {
		log.Info("startup sweep finished", zap.Int("rebuilt", n))
	}

	r := advisor.NewReconciler(sync, backends.Queue(cfg), cfg.ReconcileInterval, log)
	if err := r.Run(ctx); err != nil {
		log.Error("reconciler stopped", zap.Error(err))
	}
	log.Info("worker stopped")
}
