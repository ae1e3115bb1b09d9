package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"

	"github.com/estmeter/estmeter/pkg/log"
	"github.com/estmeter/estmeter/pkg/portal"
	"github.com/estmeter/estmeter/pkg/recon"
	"github.com/estmeter/estmeter/pkg/storage"
)

// backfill runs a single reconciliation pass and prints the report. It exits
// non-zero when any account or meter failed, so it can drive cron alerts.
func main() {
	p := portal.Configured()
	s := storage.Configured()
	dryRun := lflag.Bool("dry-run", false, "Log what would be appended without writing anything")
	lflag.Configure()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine := recon.NewEngine(p, s)
	report, err := engine.RunOnce(ctx, *dryRun)

	if cerr := s.Close(); cerr != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", cerr)
	}

	out, merr := json.MarshalIndent(report, "", "  ")
	if merr != nil {
		panic(merr)
	}
	fmt.Println(string(out))

	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "run aborted", "error", err)
		os.Exit(1)
	}
	if report.Failed() {
		os.Exit(1)
	}
}
