package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tailscale.com/tsnet"

	"github.com/claude/rehabai/internal/achievements"
	"github.com/claude/rehabai/internal/config"
	"github.com/claude/rehabai/internal/ingest"
	rehabmcp "github.com/claude/rehabai/internal/mcp"
	"github.com/claude/rehabai/internal/pose"
	"github.com/claude/rehabai/internal/server"
	"github.com/claude/rehabai/internal/session"
	"github.com/claude/rehabai/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (.yaml or .toml)")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(cfg.Log.Handler(os.Stdout))
	log.Info("RehabAI starting", "version", Version)

	// Run migrations
	dsn := cfg.Database.DSN()
	if err := storage.RunMigrations(dsn, "migrations"); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect database
	db, err := storage.New(ctx, dsn)
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected")

	badges := achievements.NewEngine()
	provider := ingest.NewProvider(db, badges, log)

	// Pose estimation runs server-side only when an inference endpoint is set
	mcfg := session.ManagerConfig{
		Period:          cfg.Session.PeriodDuration(),
		EstimateTimeout: cfg.Session.EstimateTimeoutDuration(),
		DefaultExercise: cfg.Session.Exercise,
	}
	if cfg.Pose.Endpoint != "" {
		mcfg.Estimator = pose.NewHTTPSource(cfg.Pose.Endpoint, cfg.Pose.TimeoutDuration())
		log.Info("pose estimation enabled", "endpoint", cfg.Pose.Endpoint)
	} else {
		log.Info("pose estimation disabled, sessions accept client estimates")
	}
	sessions := session.NewManager(mcfg, cfg.ExerciseCatalog(), log)
	defer sessions.Shutdown()

	srv := server.New(db, provider, sessions, server.Options{
		Auth:      cfg.Auth,
		Keepalive: cfg.Session.KeepaliveDuration(),
	}, log)
	go srv.Run(ctx)

	mcpSrv := rehabmcp.New(db, rehabmcp.Options{
		Exercises: sessions.Exercises,
		Badges:    badges,
	}, Version, log)
	srv.SetMCP(rehabmcp.NewHTTPHandler(mcpSrv, func(r *http.Request) (rehabmcp.Caller, bool) {
		u, ok := server.CallerInfo(r)
		return rehabmcp.Caller{UserID: u.ID, Clinician: u.Clinician()}, ok
	}))

	// Exercise definitions reload without a restart
	go func() {
		err := config.Watch(ctx, *configPath, log, func(next *config.Config) {
			sessions.SetExercises(next.ExerciseCatalog())
			log.Info("exercise catalog reloaded", "exercises", len(next.Exercises))
		})
		if err != nil {
			log.Warn("config watch stopped", "error", err)
		}
	}()

	// Start server on tsnet or plain HTTP
	var listener net.Listener
	var tsServer *tsnet.Server

	if cfg.Tailscale.Enabled {
		tsServer = &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)", "login", cfg.Auth.DevLogin)
	}

	httpSrv := &http.Server{Handler: srv}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}
