// migrate creates or upgrades the analytics schema. Statements are
// idempotent, so re-running against an existing database is safe.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lorehub/internal/analytics"
	"lorehub/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := analytics.NewSQLStore(&cfg.Analytics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not open analytics store: %v\n", err)
		return 1
	}
	defer store.Close() //nolint:errcheck

	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		return 1
	}

	fmt.Printf("analytics schema is up to date (%s)\n", cfg.Analytics.Driver)
	return 0
}
