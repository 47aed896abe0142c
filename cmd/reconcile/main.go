package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/billing"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/cache"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/database"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/env"
	"github.com/LocalSpotHQ/LocalSpot/internal/pkg/lock"
)

// Batch reconciliation entrypoint. Run on a schedule or by hand; prints the
// run summary as JSON. Per-profile errors are part of the summary and do not
// affect the exit code; only a top-level failure exits non-zero.
func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	processor, err := billing.NewStripeProcessorFromEnv()
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}

	repo := billing.NewRepository(database.GetDB())
	locker := lock.NewManager(cache.GetClient(), 30*time.Second)
	reconciler := billing.NewReconciler(repo, processor, locker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, runErr := reconciler.Run(ctx)

	if summary != nil {
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			log.Fatalf("reconcile: encode summary: %v", err)
		}
		fmt.Println(string(out))
	}

	if runErr != nil {
		log.Fatalf("reconcile: %v", runErr)
	}
}
