package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	migrations "call-relay/db"
	"call-relay/internal/audit"
	"call-relay/internal/auth"
	"call-relay/internal/calllog"
	"call-relay/internal/config"
	"call-relay/internal/metrics"
	"call-relay/internal/presence"
	"call-relay/internal/reporting"
	"call-relay/internal/session"
	"call-relay/internal/signaling"
	"call-relay/pkg/logger"
	"call-relay/pkg/tracing"
	"call-relay/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "call-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.App.Env,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Error("tracing init failed", "err", err)
		os.Exit(1)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgresx(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := utils.Migrate(db.DB, migrations.Migrations()); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	dirOpts := []presence.Option{presence.WithLogger(log.With("component", "presence"))}
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		mirror := presence.NewRedisMirror(rdb, "", 0)
		// Entries left by a previous process are stale; this process starts empty.
		if err := mirror.Reset(rootCtx); err != nil {
			log.Warn("presence mirror reset failed", "err", err)
		}
		dirOpts = append(dirOpts, presence.WithMirror(mirror))
		log.Info("presence mirror enabled", "addr", addr)
	}

	collector := metrics.NewCollector()
	ledger := calllog.NewService(calllog.NewPostgresRepo(db))
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	dir := presence.NewDirectory(dirOpts...)
	defer dir.Close()

	sessions := session.NewRegistry(ledger, session.WithLogger(log.With("component", "session")))
	router := signaling.NewRouter(signaling.RouterDeps{
		Directory: dir,
		Sessions:  sessions,
		Audit:     auditSvc,
		Metrics:   collector,
		Logger:    log.With("component", "router"),
		Tracer:    tp.TracerProvider(),
	})
	lifecycle := signaling.NewLifecycle(dir, sessions, router, collector, log.With("component", "lifecycle"))

	deps := routeDeps{
		auth:      authManager,
		metrics:   collector,
		signaling: signaling.NewHandler(authManager, lifecycle, router, collector, cfg.Signal),
		presence:  dir,
		ledger:    ledger,
		reporting: reporting.NewService(ledger, dir),
		dbPing: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db.DB, 2*time.Second)
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("relay listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Upgraded connections are not tracked by the server.
	closed := lifecycle.CloseAll()
	if err := lifecycle.Wait(shutdownCtx); err != nil {
		log.Warn("signaling teardown incomplete", "err", err)
	}
	log.Info("signaling connections closed", "count", closed)

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", "err", err)
	}
}
