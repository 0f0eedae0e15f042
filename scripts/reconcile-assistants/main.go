// reconcile-assistants deletes remote assistants that no project references.
//
// An assistant is an orphan when its name carries the engine prefix, no local
// record points at it, and it is older than the grace period. Orphans appear
// when the process dies between creating a remote assistant and saving it.
//
// Usage: go run ./scripts/reconcile-assistants [-dry-run=false] [-grace=24h]
//
// Configuration: reads config.yaml and the credential env file like the server.
//
// Flags:
//
//	-dry-run   List orphans without deleting them (default: true)
//	-grace     Minimum orphan age (default: ai.reconcile_grace_period)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/testdeck/testdeck-engine/pkg/config"
	"github.com/testdeck/testdeck-engine/pkg/credentials"
	"github.com/testdeck/testdeck-engine/pkg/database"
	"github.com/testdeck/testdeck-engine/pkg/llm"
	"github.com/testdeck/testdeck-engine/pkg/repositories"
	"github.com/testdeck/testdeck-engine/pkg/retry"
	"github.com/testdeck/testdeck-engine/pkg/services"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "List orphans without deleting them")
	grace := flag.Duration("grace", 0, "Minimum orphan age (default: ai.reconcile_grace_period)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	cfg, err := config.Load("script")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ResolveDockerHosts()
	if *grace <= 0 {
		*grace = cfg.AI.ReconcileGracePeriod
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.ConnectWithRetry(ctx, &database.Config{URL: cfg.Database.URL(), MaxConnections: 2}, retry.DefaultConfig(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Orphan detection needs every project's assistant records.
	scoped, release, err := database.NewTenantScopeProvider(db).WithoutTenantScope(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire database connection: %v\n", err)
		os.Exit(1)
	}
	defer release()

	factory := llm.NewOpenAIProviderFactory(cfg.AI.BaseURL, llm.CircuitBreakerConfig{
		Threshold:  cfg.AI.CircuitBreakerThreshold,
		ResetAfter: cfg.AI.CircuitBreakerReset,
	}, logger)
	reconciler := services.NewAssistantReconciler(
		repositories.NewAIAssistantRepository(),
		credentials.NewEnvFileStore(cfg.AI.CredentialEnvFile),
		factory,
		logger,
	)

	if *dryRun {
		fmt.Println("DRY RUN - no assistants will be deleted")
		fmt.Println("Run with -dry-run=false to delete orphans")
		fmt.Println()
	}

	report, err := reconciler.Sweep(scoped, *grace, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scanned:   %d\n", report.Scanned)
	fmt.Printf("Too young: %d (grace %s)\n", report.TooYoung, *grace)
	for _, id := range report.Orphans {
		fmt.Printf("  orphan %s\n", id)
	}
	if *dryRun {
		fmt.Printf("\nOrphans that would be deleted: %d\n", len(report.Orphans))
	} else {
		fmt.Printf("\nOrphans deleted: %d of %d\n", len(report.Deleted), len(report.Orphans))
	}
	for _, e := range report.Errors {
		fmt.Fprintf(os.Stderr, "  error: %s\n", e)
	}
	if len(report.Errors) > 0 {
		os.Exit(2)
	}
}
