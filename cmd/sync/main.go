// sync runs one wiki synchronization pass and prints a summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"lorehub/internal/config"
	"lorehub/internal/di"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		full    = flag.Bool("full", false, "re-ingest every page regardless of timestamps")
		spaces  = flag.String("spaces", "", "comma-separated space keys (default: configured spaces)")
		resume  = flag.String("resume", "", "resume a failed session by its session ID")
		urlFlag = flag.String("url", "", "ingest a single external document instead of syncing")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		color.Red("configuration error: %v", err)
		return 2
	}

	container, err := di.NewContainer(cfg)
	if err != nil {
		color.Red("startup failed: %v", err)
		return 1
	}
	defer container.Shutdown() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := container.Initialize(ctx); err != nil {
		color.Red("store initialization failed: %v", err)
		return 1
	}

	switch {
	case *urlFlag != "":
		return runURL(ctx, container, *urlFlag)
	case *resume != "":
		return runResume(ctx, container, *resume)
	default:
		keys := cfg.Wiki.Spaces
		if *spaces != "" {
			keys = strings.Split(*spaces, ",")
		}
		return runSync(ctx, container, keys, *full)
	}
}

func runSync(ctx context.Context, container *di.Container, spaces []string, full bool) int {
	report, err := container.Pipeline.SyncSpaces(ctx, spaces, full)
	if err != nil {
		color.Red("sync failed: %v", err)
		return 1
	}

	bold := color.New(color.Bold)
	bold.Printf("Session %s\n", report.SessionID)
	color.Green("  new:     %d", report.New)
	color.Cyan("  updated: %d", report.Updated)
	fmt.Printf("  skipped: %d\n", report.Skipped)
	color.Yellow("  deleted: %d", report.Deleted)

	if report.Errors > 0 {
		color.Red("  errors:  %d", report.Errors)
		for _, sample := range report.Samples {
			color.Red("    - %s", sample)
		}
		return 1
	}
	color.Green("Sync completed cleanly.")
	return 0
}

func runResume(ctx context.Context, container *di.Container, sessionID string) int {
	report, err := container.Pipeline.Resume(ctx, sessionID)
	if err != nil {
		color.Red("resume failed: %v", err)
		return 1
	}

	color.New(color.Bold).Printf("Resumed session %s\n", report.SessionID)
	fmt.Printf("  attempted: %d\n", report.Attempted)
	color.Green("  indexed:   %d", report.Indexed)
	fmt.Printf("  skipped:   %d\n", report.Skipped)
	if report.Failed > 0 {
		color.Red("  failed:    %d", report.Failed)
		return 1
	}
	return 0
}

func runURL(ctx context.Context, container *di.Container, rawURL string) int {
	report, err := container.Pipeline.IngestURL(ctx, rawURL, "cli")
	if err != nil {
		color.Red("could not ingest %s: %v", rawURL, err)
		return 1
	}
	color.Green("Ingested %s (session %s).", rawURL, report.SessionID)
	return 0
}
