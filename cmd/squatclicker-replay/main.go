package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/meltforce/squatclicker/internal/pose"
	"github.com/meltforce/squatclicker/internal/rep"
	"github.com/meltforce/squatclicker/internal/replay"
	"github.com/meltforce/squatclicker/internal/session"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	serverURL := flag.String("server", "", "SquatClicker server URL (e.g. https://squatclicker.tail1234.ts.net)")
	apiKey := flag.String("api-key", os.Getenv("SQUATCLICKER_AUTH_API_KEY"), "API key for frame upload")
	dir := flag.String("path", "", "directory of .jsonl landmark recordings")
	goal := flag.Int("goal", 10, "repetition goal per recording")
	batchSize := flag.Int("batch-size", 50, "frames per upload request")
	dryRun := flag.Bool("dry-run", false, "count repetitions locally instead of sending to the server")
	paced := flag.Bool("paced", false, "dry-run only: replay at recorded speed")
	side := flag.String("side", "left", "dry-run only: leg to track (left or right)")
	maxFPS := flag.Float64("max-fps", 10, "dry-run only: frame throttle, 0 disables it")
	force := flag.Bool("force", false, "replay recordings even if already sent")
	history := flag.Int("history", 0, "print the last N replayed recordings and exit")
	saveKey := flag.Bool("save-key", false, "store -api-key in the OS keychain for this server")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("squatclicker-replay", Version)
		return
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *history > 0 {
		ledger, err := openLedger()
		if err != nil {
			log.Error("failed to open ledger", "error", err)
			os.Exit(1)
		}
		defer ledger.Close()
		entries, err := ledger.History(*history)
		if err != nil {
			log.Error("failed to read ledger", "error", err)
			os.Exit(1)
		}
		printHistory(entries)
		return
	}

	if *dir == "" {
		fmt.Fprintf(os.Stderr, "Usage: squatclicker-replay -server <URL> -path <recordings dir> [-goal N] [-dry-run]\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *serverURL == "" && !*dryRun {
		fmt.Fprintf(os.Stderr, "Error: -server is required (or use -dry-run)\n")
		os.Exit(1)
	}

	det := rep.DefaultConfig()
	s, err := pose.ParseSide(*side)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	det.Side = s

	opts := replay.Options{
		Goal:      *goal,
		BatchSize: *batchSize,
		DryRun:    *dryRun,
		Force:     *force,
		Paced:     *paced,
		Session:   session.Config{Detector: det, MaxFPS: *maxFPS},
	}

	var client *replay.Client
	var ledger *replay.Ledger
	if *dryRun {
		log.Info("DRY RUN mode: recordings are counted locally and not sent")
	} else {
		key := *apiKey
		switch {
		case *saveKey && key != "":
			if err := replay.SaveAPIKey(*serverURL, key); err != nil {
				log.Warn("could not store API key", "error", err)
			} else {
				log.Info("API key stored in keychain", "server", *serverURL)
			}
		case key == "":
			stored, err := replay.LoadAPIKey(*serverURL)
			if err != nil {
				log.Warn("keychain unavailable", "error", err)
			}
			key = stored
		}
		if key == "" {
			fmt.Fprintf(os.Stderr, "Error: no API key (use -api-key, SQUATCLICKER_AUTH_API_KEY, or a stored key)\n")
			os.Exit(1)
		}
		client = replay.NewClient(*serverURL, key)

		ledger, err = openLedger()
		if err != nil {
			log.Error("failed to open ledger", "error", err)
			os.Exit(1)
		}
		defer ledger.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := replay.New(client, ledger, *dir, opts, log).Run(ctx)
	printStats(stats)
	if err != nil {
		log.Error("replay failed", "error", err)
		os.Exit(1)
	}
	log.Info("replay complete")
}

func openLedger() (*replay.Ledger, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return replay.OpenLedger(filepath.Join(homeDir, ".squatclicker-replay"))
}

func printHistory(entries []replay.Entry) {
	bold := color.New(color.Bold)
	bold.Println("=== Replay History ===")
	if len(entries) == 0 {
		fmt.Println("  (no recordings replayed yet)")
		return
	}
	for _, e := range entries {
		line := fmt.Sprintf("  %s  %-32s %3d/%-3d %5d pts  %s",
			e.ReplayedAt.Format("2006-01-02 15:04"), e.Path, e.Reps, e.Goal, e.Reward, e.Reason)
		if e.Reason == string(session.ReasonGoalReached) {
			color.Green("%s", line)
		} else {
			color.Yellow("%s", line)
		}
	}
}

func printStats(stats *replay.Stats) {
	bold := color.New(color.Bold)
	fmt.Println()
	bold.Println("=== Replay Summary ===")
	fmt.Printf("  Recordings total:    %d\n", stats.FilesTotal)
	fmt.Printf("  Recordings replayed: %d\n", stats.FilesReplayed)
	fmt.Printf("  Recordings skipped:  %d (already replayed)\n", stats.FilesSkipped)
	if stats.FilesErrored > 0 {
		color.Red("  Recordings errored:  %d", stats.FilesErrored)
	} else {
		fmt.Printf("  Recordings errored:  %d\n", stats.FilesErrored)
	}
	fmt.Println()
	fmt.Printf("  Frames sent:         %d\n", stats.FramesSent)
	fmt.Printf("  Repetitions:         %d\n", stats.Reps)
	fmt.Printf("  Goals reached:       %d\n", stats.GoalsReached)
	fmt.Printf("  Points earned:       %d\n", stats.Reward)

	if len(stats.Results) > 0 {
		fmt.Println()
		for _, r := range stats.Results {
			line := fmt.Sprintf("    %-32s %3d/%-3d %s", r.Path, r.Count, r.Goal, r.Reason)
			if r.Reason == string(session.ReasonGoalReached) {
				color.Green("%s", line)
			} else {
				color.Yellow("%s", line)
			}
		}
	}
	fmt.Println()
}
