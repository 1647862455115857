// Command cleanup prunes settled trades older than the retention window from
// the ledger. Unsettled trades are always kept.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/polyinsider/whaleledger/internal/config"
	"github.com/polyinsider/whaleledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var (
		days   int
		dryRun bool
	)
	flag.IntVar(&days, "days", cfg.RetentionDays, "retention window in days")
	flag.IntVar(&days, "d", cfg.RetentionDays, "shorthand for --days")
	flag.BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	flag.BoolVar(&dryRun, "n", false, "shorthand for --dry-run")
	flag.Parse()

	if days < 1 {
		fmt.Fprintln(os.Stderr, "--days must be at least 1")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, days, dryRun, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, days int, dryRun bool, out io.Writer) error {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger, err := store.Open(ctx, cfg.DBDriver, cfg.DSN(), store.WithLogger(quiet))
	if err != nil {
		return err
	}
	defer ledger.Close()

	report, err := ledger.Cleanup(ctx, days, dryRun)
	if err != nil {
		return err
	}
	printReport(out, cfg.MaskedDSN(), report)
	return nil
}

func printReport(out io.Writer, db string, r *store.CleanupReport) {
	fmt.Fprintf(out, "Database: %s\n", db)
	fmt.Fprintf(out, "Retention: %d days (cutoff %s)\n", r.RetentionDays, r.Cutoff.Format("2006-01-02 15:04:05"))
	if r.DryRun {
		fmt.Fprintf(out, "Would delete: %d resolved trades\n", r.Deleted)
		fmt.Fprintf(out, "Would remain: %d trades\n", r.Remaining)
	} else {
		fmt.Fprintf(out, "Deleted: %d resolved trades\n", r.Deleted)
		fmt.Fprintf(out, "Remaining: %d trades\n", r.Remaining)
	}
	fmt.Fprintf(out, "Unresolved (kept): %d trades\n", r.Unresolved)
	fmt.Fprintf(out, "Wallets: %d\n", r.Wallets)
	if r.DryRun {
		fmt.Fprintln(out, "Dry run: no changes made.")
	}
}
