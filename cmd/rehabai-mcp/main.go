package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/claude/rehabai/internal/achievements"
	"github.com/claude/rehabai/internal/config"
	rehabmcp "github.com/claude/rehabai/internal/mcp"
	"github.com/claude/rehabai/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	serverURL := flag.String("server", "", "RehabAI server URL; tools query its REST API")
	configPath := flag.String("config", "", "config file for direct database access instead of -server")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("rehabai-mcp", Version)
		return
	}

	// stdout carries the MCP protocol
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var ds rehabmcp.DataSource
	opts := rehabmcp.Options{Badges: achievements.NewEngine()}

	switch {
	case *serverURL != "":
		ds = rehabmcp.NewHTTPClient(*serverURL)
		log.Info("using remote server", "url", *serverURL)
	case *configPath != "":
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		db, err := storage.New(context.Background(), cfg.Database.DSN())
		if err != nil {
			log.Error("failed to connect database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		ds = db
		opts.Exercises = cfg.ExerciseCatalog
	default:
		fmt.Fprintf(os.Stderr, "Usage: rehabai-mcp -server <URL> | -config config.yaml\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	s := rehabmcp.New(ds, opts, Version, log)
	if err := server.ServeStdio(s); err != nil {
		log.Error("mcp server error", "error", err)
		os.Exit(1)
	}
}
