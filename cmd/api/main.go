package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classledger/internal/advisor"
	"classledger/internal/api"
	"classledger/internal/app"
	"classledger/internal/attendance"
	"classledger/internal/config"
	"classledger/internal/day"
	"classledger/internal/notify"
	"classledger/internal/queue"
	"classledger/internal/roster"
)

func main() {
	cfg := config.Load()
	log := app.NewLogger(cfg)
	defer func() { _ = log.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	offset, err := day.ParseOffset(cfg.DayOffset)
	if err != nil {
		return err
	}

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := backends.Close(closeCtx); err != nil {
			log.Warn("closing backends", zap.Error(err))
		}
	}()

	if cfg.SeedFile != "" {
		if err := backends.SeedFromFile(ctx, cfg.SeedFile, log); err != nil {
			return err
		}
	}

	q := backends.Queue(cfg)
	hub := notify.NewHub(32, log.Named("notify"))
	var pub notify.Publisher = notify.NewLocal(hub)
	if cfg.NotifyBackend == "redis" && backends.Redis != nil {
		bridge := notify.NewRedisBridge(backends.Redis.Client, notify.DefaultChannel, hub, log.Named("notify"))
		go bridge.Run(ctx)
		pub = bridge
	}
	dispatcher := notify.NewDispatcher(pub, cfg.NotifyTimeout, log.Named("notify"))

	sync := advisor.NewSynchronizer(backends.Advisors, q, log.Named("advisor"))
	advisors := advisor.NewService(backends.Advisors, sync, advisor.Options{Logger: log.Named("advisor")})

	// With an in-process queue nobody else can drain reconcile requests.
	if _, local := q.(*queue.InMemory); local {
		go func() {
			if err := advisor.NewReconciler(sync, q, cfg.ReconcileInterval, log.Named("reconcile")).Run(ctx); err != nil {
				log.Error("in-process reconciler stopped", zap.Error(err))
			}
		}()
	}

	ledger := attendance.NewService(backends.Ledger, roster.NewResolver(backends.Directory), advisors,
		day.NewNormalizer(offset, time.Now),
		attendance.Options{Lease: cfg.MarkLease, Notifier: dispatcher, Logger: log.Named("attendance")})

	r := api.NewRouter(api.Deps{
		Attendance:      ledger,
		Advisors:        advisors,
		Hub:             hub,
		Checks:          backends.Checks,
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          log.Named("api"),
	})

	// No WriteTimeout: the change stream is long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(hub.CloseAll)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	dispatcher.Wait()
	log.Info("server exited")
	return nil
}
