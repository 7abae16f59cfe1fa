// Command njuskalohr walks njuskalo.hr's sitemap, visits dealer stores
// through a stealth headless browser, classifies each store's inventory
// by vehicle condition, and persists per-run snapshots with deltas.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solveiti/njuskalohr/config"
	"github.com/solveiti/njuskalohr/internal/browser"
	"github.com/solveiti/njuskalohr/internal/logging"
	"github.com/solveiti/njuskalohr/internal/orchestrator"
	"github.com/solveiti/njuskalohr/internal/pacing"
	"github.com/solveiti/njuskalohr/internal/report"
	"github.com/solveiti/njuskalohr/internal/store"
	"github.com/solveiti/njuskalohr/internal/tunnel"
)

const usage = `usage: njuskalohr [flags]

  --mode {tunnel,enhanced,basic}   scrape depth (default: tunnel)
  --max-stores N                   cap stores visited this run (0 = unlimited)
  --no-tunnels                     force mode to behave without a proxy
  --no-database                    emit results to stdout only, skip persistence
  --csv PATH                       write a per-store CSV export of this run
  --verbose                        debug-level logging
`

func main() {
	mode := flag.String("mode", "tunnel", "scrape mode: tunnel, enhanced, or basic")
	maxStores := flag.Int("max-stores", 0, "cap the number of stores visited this run (0 = unlimited)")
	noTunnels := flag.Bool("no-tunnels", false, "force mode to behave without tunnels even if requested")
	noDatabase := flag.Bool("no-database", false, "do not persist results, emit to stdout only")
	csvPath := flag.String("csv", "", "write a per-store CSV export of this run to PATH")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	m := orchestrator.Mode(*mode)
	if m != orchestrator.ModeTunnel && m != orchestrator.ModeEnhanced && m != orchestrator.ModeBasic {
		fmt.Fprintf(os.Stderr, "invalid --mode %q\n%s", *mode, usage)
		os.Exit(2)
	}
	if *noTunnels {
		m = orchestrator.ModeEnhanced
	}

	log := logging.New(*verbose)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	rr, err := run(ctx, log, cfg, runOptions{
		mode:        m,
		maxStores:   *maxStores,
		useDatabase: !*noDatabase,
		csvPath:     *csvPath,
	})
	if err != nil {
		log.Error("njuskalohr: run failed", "error", err)
		if !rr.Started.IsZero() {
			report.PrintSummary(os.Stdout, rr)
		}
		os.Exit(1)
	}
	report.PrintSummary(os.Stdout, rr)
}

type runOptions struct {
	mode        orchestrator.Mode
	maxStores   int
	useDatabase bool
	csvPath     string
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Config, opts runOptions) (report.RunReport, error) {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return report.RunReport{}, fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	driver := browser.NewChromeDriver(browser.ChromeConfig{
		DisplayNum: cfg.DisplayNum,
	})

	var tunnels *tunnel.Supervisor
	if opts.mode == orchestrator.ModeTunnel && cfg.TunnelConfigPath != "" {
		sup, err := tunnel.New(cfg.TunnelConfigPath, log)
		if err != nil {
			log.Warn("njuskalohr: tunnel config unavailable, running without proxy", "error", err)
		} else {
			tunnels = sup
		}
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1))
	sleeper := pacing.CtxSleeper{}

	orch := orchestrator.New(db, driver, sleeper, rng, log, tunnels)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rr, err := orch.Run(runCtx, orchestrator.Options{
		Mode:              opts.mode,
		MaxStores:         opts.maxStores,
		UseDatabase:       opts.useDatabase,
		UseTunnelsStrict:  false,
		SitemapIndexURL:   cfg.SitemapIndexURL,
		SitemapStaleAfter: cfg.SitemapStaleAfter,
		TargetCategoryID:  cfg.TargetCategoryID,
	})
	if err != nil {
		return rr, err
	}

	if opts.csvPath != "" {
		if err := report.WriteCSV(opts.csvPath, rr); err != nil {
			log.Warn("njuskalohr: csv export failed", "error", err)
		}
	}
	return rr, nil
}
