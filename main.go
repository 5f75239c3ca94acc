package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kvsync/backend/internal/config"
	"github.com/kvsync/backend/internal/handler"
	"github.com/kvsync/backend/internal/logging"
	"github.com/kvsync/backend/internal/metrics"
	"github.com/kvsync/backend/internal/service"
	"github.com/kvsync/backend/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// purger is implemented by backends that cannot expire keys on their own.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func main() {
	cfg := config.Load()
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()
	log.WithField("backend", cfg.Store.Backend).Info("store connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	authService, err := service.NewAuthService(st, cfg.Auth,
		service.WithMetrics(metrics.NewAuth(reg)),
		service.WithLogger(log),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize auth service")
	}

	if p, ok := st.(purger); ok {
		scheduler, err := schedulePurge(ctx, p, cfg.Store.PurgeSchedule, log)
		if err != nil {
			log.WithError(err).Fatal("failed to schedule expired entry purge")
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(handler.RouterConfig{
		Auth:           authService,
		Store:          st,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         log,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown failed")
	}
}

func schedulePurge(ctx context.Context, p purger, spec string, log logrus.FieldLogger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			log.WithError(err).Warn("purge expired entries failed")
			return
		}
		if n > 0 {
			log.WithField("rows", n).Debug("purged expired entries")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
