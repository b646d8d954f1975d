// lifecycle runs one archival sweep and one conflict-detection pass.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
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
		skipArchival  = flag.Bool("skip-archival", false, "only detect conflicts")
		skipConflicts = flag.Bool("skip-conflicts", false, "only run the archival sweep")
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

	failed := false

	if !*skipArchival {
		report, err := container.Lifecycle.RunArchivalPipeline(ctx)
		if err != nil {
			color.Red("archival sweep failed: %v", err)
			failed = true
		} else {
			color.New(color.Bold).Println("Archival sweep")
			color.Yellow("  deprecated:    %d", report.Deprecated)
			color.Green("  restored:      %d", report.Restored)
			color.Cyan("  cold archived: %d", report.ColdArchived)
			fmt.Printf("  hard archived: %d\n", report.HardArchived)
			if report.Errors > 0 {
				color.Red("  errors:        %d", report.Errors)
				failed = true
			}
		}
	}

	if !*skipConflicts {
		report, err := container.Lifecycle.DetectConflicts(ctx)
		if err != nil {
			color.Red("conflict detection failed: %v", err)
			failed = true
		} else {
			color.New(color.Bold).Println("Conflict detection")
			fmt.Printf("  scanned:    %d\n", report.Scanned)
			fmt.Printf("  candidates: %d\n", report.Candidates)
			color.Yellow("  detected:   %d", report.Detected)
			fmt.Printf("  duplicates: %d\n", report.Duplicates)
			if report.Errors > 0 {
				color.Red("  errors:     %d", report.Errors)
				failed = true
			}
		}
	}

	if failed {
		return 1
	}
	return 0
}
