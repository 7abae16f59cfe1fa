// Package orchestrator implements the top-level run (C8): decide whether
// to re-ingest the sitemap, iterate known stores, persist outcomes, and
// produce a terminal RunReport.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/solveiti/njuskalohr/internal/browser"
	"github.com/solveiti/njuskalohr/internal/pacing"
	"github.com/solveiti/njuskalohr/internal/report"
	"github.com/solveiti/njuskalohr/internal/sitemap"
	"github.com/solveiti/njuskalohr/internal/store"
	"github.com/solveiti/njuskalohr/internal/storescraper"
	"github.com/solveiti/njuskalohr/internal/tunnel"
)

// Mode selects how thoroughly each store is scraped.
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeEnhanced Mode = "enhanced"
	ModeTunnel   Mode = "tunnel"
)

// extendedBreakMin/Max bound the random N in [8,15] stores between
// extended breaks, per the pacing contract.
const (
	extendedBreakMin = 8
	extendedBreakMax = 15
)

// visitGracePeriod is how long an in-flight store visit is allowed to run
// to completion after the run context is cancelled, before it's cut off.
const visitGracePeriod = 5 * time.Second

// withGrace derives a context that keeps running for up to grace after ctx
// is cancelled, so a store visit already underway can finish instead of
// being cut off mid-request. Call the returned func when the visit is done
// to release the watcher goroutine.
func withGrace(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	graceCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-time.After(grace):
				cancel()
			case <-done:
			}
		case <-done:
		}
	}()
	return graceCtx, func() {
		close(done)
		cancel()
	}
}

// Store is the subset of internal/store.DB the orchestrator drives.
type Store interface {
	IsEmpty(ctx context.Context) (bool, error)
	NewestUpdatedAt(ctx context.Context) (time.Time, error)
	ListToScrape(ctx context.Context, limit int) ([]string, error)
	SeedNew(ctx context.Context, urls []string) (int, error)
	PersistVisit(ctx context.Context, url string, outcome store.Outcome) (store.Snapshot, error)
}

// Options configures a single Run call.
type Options struct {
	Mode              Mode
	MaxStores         int  // 0 = unlimited
	UseDatabase       bool // false: emit to stdout only, no persistence
	UseTunnelsStrict  bool // when true, abort if the initial tunnel can't establish
	SitemapIndexURL   string
	SitemapStaleAfter time.Duration
	TargetCategoryID  int
}

// applyRotation swaps the active proxy label into the driver and rebuilds
// the scraper's Config around it, after a successful tunnel.Rotate.
func (o *Orchestrator) applyRotation(ep tunnel.Endpoint, opts Options, proxyLabel *string, scraper **storescraper.Scraper) {
	*proxyLabel = ep.SOCKS5Addr()
	o.driver.SetProxy(*proxyLabel)
	*scraper = storescraper.New(storescraper.Config{
		TargetCategoryID: opts.TargetCategoryID,
		Proxy:            *proxyLabel,
		CountListings:    opts.Mode != ModeBasic,
	}, o.driver, o.sleeper, o.rng, o.log)
}

// Orchestrator runs C8 against a concrete Store, Driver, Sleeper and
// tunnel Supervisor.
type Orchestrator struct {
	store   Store
	driver  browser.Driver
	sleeper pacing.Sleeper
	rng     *rand.Rand
	log     *slog.Logger
	tunnels *tunnel.Supervisor // nil when tunnels are not configured
}

// New builds an Orchestrator. tunnels may be nil.
func New(st Store, driver browser.Driver, sleeper pacing.Sleeper, rng *rand.Rand, log *slog.Logger, tunnels *tunnel.Supervisor) *Orchestrator {
	return &Orchestrator{store: st, driver: driver, sleeper: sleeper, rng: rng, log: log, tunnels: tunnels}
}

// Run executes one full scrape run.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (report.RunReport, error) {
	start := time.Now()
	rr := report.RunReport{Mode: string(opts.Mode), Started: start}

	defer func() {
		rr.Duration = time.Since(start)
		o.cleanup(ctx)
	}()

	// --no-database must not write to storage at all: sitemap ingest seeds
	// the registry, so it's skipped along with PersistVisit.
	if opts.UseDatabase {
		if err := o.maybeIngestSitemap(ctx, opts); err != nil {
			rr.Aborted = true
			rr.AbortErr = err
			return rr, fmt.Errorf("orchestrator: sitemap ingest: %w", err)
		}
	}

	urls, err := o.store.ListToScrape(ctx, opts.MaxStores)
	if err != nil {
		rr.Aborted = true
		rr.AbortErr = err
		return rr, fmt.Errorf("orchestrator: list to scrape: %w", err)
	}

	proxyLabel := ""
	if opts.Mode == ModeTunnel && o.tunnels != nil {
		ep, err := o.tunnels.EstablishFirst(ctx)
		if err != nil && opts.UseTunnelsStrict {
			rr.Aborted = true
			rr.AbortErr = err
			return rr, fmt.Errorf("orchestrator: strict tunnel establish: %w", err)
		}
		if err == nil {
			proxyLabel = ep.SOCKS5Addr()
			o.driver.SetProxy(proxyLabel)
		} else {
			o.log.Warn("orchestrator: initial tunnel establish failed, continuing without proxy", "error", err)
		}
	}

	scraper := storescraper.New(storescraper.Config{
		TargetCategoryID: opts.TargetCategoryID,
		Proxy:            proxyLabel,
		CountListings:    opts.Mode != ModeBasic,
	}, o.driver, o.sleeper, o.rng, o.log)

	breakEvery := extendedBreakMin + o.rng.IntN(extendedBreakMax-extendedBreakMin+1)

	for i, url := range urls {
		if ctx.Err() != nil {
			o.log.Warn("orchestrator: run cancelled", "visited", i)
			break
		}

		if i > 0 {
			if err := o.sleeper.Sleep(ctx, pacing.Delay(pacing.StoreVisit, i, o.rng)); err != nil {
				break
			}
		}
		if i > 0 && i%breakEvery == 0 {
			o.sleeper.Sleep(ctx, pacing.Delay(pacing.ExtendedBreak, i, o.rng))
			if opts.Mode == ModeTunnel && o.tunnels != nil {
				if ep, err := o.tunnels.Rotate(ctx); err == nil {
					o.applyRotation(ep, opts, &proxyLabel, &scraper)
					if err := o.driver.Rebuild(ctx); err != nil {
						o.log.Warn("orchestrator: driver rebuild after rotate failed", "error", err)
					}
				} else {
					o.log.Warn("orchestrator: rotation exhausted candidates, continuing without proxy", "error", err)
				}
			}
		}

		// Health contract: probe the current tunnel before each use and
		// rotate once if it's gone unhealthy, rather than waiting for a
		// scrape to fail against a dead proxy.
		if opts.Mode == ModeTunnel && o.tunnels != nil {
			if _, healthy := o.tunnels.Current(ctx); !healthy {
				if ep, err := o.tunnels.Rotate(ctx); err == nil {
					o.applyRotation(ep, opts, &proxyLabel, &scraper)
					if err := o.driver.Rebuild(ctx); err != nil {
						o.log.Warn("orchestrator: driver rebuild after health-check rotate failed", "error", err)
					}
				} else {
					o.log.Warn("orchestrator: pre-visit tunnel health check failed, rotation exhausted candidates", "error", err)
				}
			}
		}

		visitCtx, endVisit := withGrace(ctx, visitGracePeriod)
		outcome, telemetry, err := scraper.Scrape(visitCtx, url, i)
		endVisit()
		if err != nil {
			o.log.Error("orchestrator: scrape error", "url", url, "error", err)
			continue
		}

		if scraper.ConsecutiveInvalid() >= 3 {
			if opts.Mode == ModeTunnel && o.tunnels != nil {
				if ep, err := o.tunnels.Rotate(ctx); err != nil {
					o.log.Warn("orchestrator: rotate after repeated failures found no proxy", "error", err)
				} else {
					o.applyRotation(ep, opts, &proxyLabel, &scraper)
				}
			}
			if err := o.driver.Rebuild(ctx); err != nil {
				o.log.Warn("orchestrator: driver rebuild failed", "error", err)
			}
			scraper.ResetConsecutiveInvalid()
		}

		o.log.Info("orchestrator: store visited",
			"url", url, "is_valid", outcome.IsValid, "is_automoto", outcome.IsAutomoto,
			"new", outcome.New, "used", outcome.Used, "test", outcome.Test,
			"elapsed_ms", telemetry.ElapsedMS, "proxy", telemetry.Proxy)

		if !opts.UseDatabase {
			rr.Record(report.StoreResult{URL: url, IsValid: outcome.IsValid, IsAutomoto: outcome.IsAutomoto,
				New: outcome.New, Used: outcome.Used, Test: outcome.Test})
			continue
		}

		snap, err := o.store.PersistVisit(ctx, url, outcome)
		if err != nil {
			rr.Aborted = true
			rr.AbortErr = err
			return rr, fmt.Errorf("orchestrator: persist visit for %s: %w", url, err)
		}

		rr.Record(report.StoreResult{URL: url, IsValid: outcome.IsValid, IsAutomoto: outcome.IsAutomoto,
			New: outcome.New, Used: outcome.Used, Test: outcome.Test, DeltaTotal: snap.DeltaTotal})
	}

	return rr, nil
}

// maybeIngestSitemap implements the freshness decision: ingest when the
// registry is empty or its newest updated_at predates the staleness
// threshold.
func (o *Orchestrator) maybeIngestSitemap(ctx context.Context, opts Options) error {
	empty, err := o.store.IsEmpty(ctx)
	if err != nil {
		return fmt.Errorf("check empty: %w", err)
	}

	stale := false
	if !empty {
		newest, err := o.store.NewestUpdatedAt(ctx)
		if err != nil {
			return fmt.Errorf("check staleness: %w", err)
		}
		stale = time.Since(newest) > opts.SitemapStaleAfter
	}

	if !empty && !stale {
		return nil
	}

	walker := sitemap.New(o.store, o.log)
	rep, err := walker.Ingest(ctx, opts.SitemapIndexURL)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	o.log.Info("orchestrator: sitemap ingested", "discovered", rep.Discovered, "inserted", rep.Inserted, "skipped", rep.Skipped)
	return nil
}

// cleanup releases resources in reverse acquisition order: driver, then
// tunnels. Storage is closed by the caller, which owns its lifecycle.
func (o *Orchestrator) cleanup(ctx context.Context) {
	if err := o.driver.Close(ctx); err != nil {
		o.log.Warn("orchestrator: driver close error", "error", err)
	}
	if o.tunnels != nil {
		o.tunnels.CloseAll()
	}
}
