package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/claude/rehabai/internal/config"
	"github.com/claude/rehabai/internal/repcount"
	"github.com/claude/rehabai/internal/upload"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	serverURL := flag.String("server", "", "RehabAI server URL (e.g. https://rehabai.tail1234.ts.net)")
	dir := flag.String("path", "", "directory of pose recordings (<exercise>_*.jsonl)")
	apiKey := flag.String("api-key", os.Getenv("REHABAI_API_KEY"), "ingest API key")
	user := flag.String("user", "", "patient login the sessions belong to")
	configPath := flag.String("config", "", "optional config file with exercise definitions")
	dryRun := flag.Bool("dry-run", false, "replay and count but don't send to server")
	reset := flag.Bool("reset", false, "forget previous uploads before running")
	batchSize := flag.Int("batch-size", 50, "logs per request")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("rehabai-upload", Version)
		return
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *dir == "" {
		fmt.Fprintf(os.Stderr, "Usage: rehabai-upload -server <URL> -user <login> -path <recordings dir> [-dry-run] [-batch-size N]\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if !*dryRun && (*serverURL == "" || *user == "" || *apiKey == "") {
		fmt.Fprintf(os.Stderr, "Error: -server, -user and -api-key are required (or use -dry-run)\n")
		os.Exit(1)
	}

	info, err := os.Stat(*dir)
	if err != nil || !info.IsDir() {
		log.Error("recordings directory not found", "path", *dir)
		os.Exit(1)
	}

	var exercises []repcount.Exercise
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		exercises = cfg.ExerciseCatalog()
	}

	// Open state database
	stateDir, err := upload.DefaultStateDir()
	if err != nil {
		log.Error("failed to get home directory", "error", err)
		os.Exit(1)
	}
	state, err := upload.OpenStateDB(stateDir)
	if err != nil {
		log.Error("failed to open state database", "error", err)
		os.Exit(1)
	}
	defer state.Close()

	if *reset {
		if err := state.Reset(); err != nil {
			log.Error("failed to reset state", "error", err)
			os.Exit(1)
		}
		log.Info("upload state cleared")
	}

	// Create client (nil-safe in dry-run mode)
	var client *upload.Client
	if !*dryRun {
		client = upload.NewClient(*serverURL, *apiKey, *user)
	} else {
		log.Info("DRY RUN mode, recordings will be counted but not sent")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploader := upload.New(client, state, *dir, *dryRun, *batchSize, exercises, log)
	stats, err := uploader.Run(ctx)
	if err != nil {
		log.Error("upload failed", "error", err)
		printStats(stats)
		os.Exit(1)
	}

	printStats(stats)
	log.Info("upload complete")
}

func printStats(stats *upload.Stats) {
	fmt.Println()
	fmt.Println("=== Upload Summary ===")
	fmt.Printf("  Files total:      %d\n", stats.FilesTotal)
	fmt.Printf("  Files uploaded:   %d\n", stats.FilesUploaded)
	fmt.Printf("  Files skipped:    %d (already uploaded or empty)\n", stats.FilesSkipped)
	fmt.Printf("  Files errored:    %d\n", stats.FilesErrored)
	fmt.Println()
	fmt.Printf("  Logs sent:        %d\n", stats.LogsSent)
	fmt.Printf("  Logs inserted:    %d\n", stats.LogsInserted)
	fmt.Printf("  Reps counted:     %d\n", stats.RepsCounted)

	if len(stats.Achievements) > 0 {
		fmt.Printf("\n  New badges:\n")
		for _, b := range stats.Achievements {
			fmt.Printf("    - %s\n", b)
		}
	}
	fmt.Println()
}
