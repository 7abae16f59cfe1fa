package orchestrator_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/solveiti/njuskalohr/internal/browser"
	"github.com/solveiti/njuskalohr/internal/orchestrator"
	"github.com/solveiti/njuskalohr/internal/pacing"
	"github.com/solveiti/njuskalohr/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func automotoPage(newN, usedN, testN int) string {
	flags := ""
	for i := 0; i < newN; i++ {
		flags += `<li class="entity-flag"><span class="flag">Novo vozilo</span></li>`
	}
	for i := 0; i < usedN; i++ {
		flags += `<li class="entity-flag"><span class="flag">Rabljeno vozilo</span></li>`
	}
	for i := 0; i < testN; i++ {
		flags += `<li class="entity-flag"><span class="flag">Testno vozilo</span></li>`
	}
	return fmt.Sprintf(`<html><body><a href="/x?categoryId=2">Auto</a><ul>%s</ul></body></html>`, flags)
}

func newOrchestrator(t *testing.T, driver browser.Driver) (*orchestrator.Orchestrator, *store.DB) {
	t.Helper()
	db := store.OpenMemory(t)
	sleeper := &pacing.FakeSleeper{}
	rng := rand.New(rand.NewPCG(1, 1))
	o := orchestrator.New(db, driver, sleeper, rng, discardLogger(), nil)
	return o, db
}

// S1. First-ever run, no prior snapshots: three stores seeded directly into
// the registry (no sitemap ingest), each scraped once.
func TestFirstRunSeedsAndScrapesAllStores(t *testing.T) {
	stores := []string{
		"https://www.njuskalo.hr/trgovina/a",
		"https://www.njuskalo.hr/trgovina/b",
		"https://www.njuskalo.hr/trgovina/c",
	}

	pages := map[string]string{}
	for _, u := range stores {
		pages[u+"?categoryId=2"] = automotoPage(2, 1, 0)
	}
	driver := browser.NewFixtureDriver(pages)

	db := store.OpenMemory(t)
	if _, err := db.SeedNew(context.Background(), stores); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sleeper := &pacing.FakeSleeper{}
	rng := rand.New(rand.NewPCG(1, 1))
	o := orchestrator.New(db, driver, sleeper, rng, discardLogger(), nil)

	rr, err := o.Run(context.Background(), orchestrator.Options{
		Mode: orchestrator.ModeEnhanced, UseDatabase: true,
		TargetCategoryID: 2, SitemapStaleAfter: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rr.Visited != 3 || rr.Valid != 3 || rr.Automoto != 3 {
		t.Fatalf("unexpected report: %+v", rr)
	}

	for _, u := range stores {
		s, err := db.GetStore(context.Background(), u)
		if err != nil {
			t.Fatalf("get store %s: %v", u, err)
		}
		if s.NewVehicleCount != 2 || s.UsedVehicleCount != 1 {
			t.Fatalf("store %s counts = %+v, want new=2 used=1", u, s)
		}
	}
}

// S2. Second run, one store's active_new drops from 12 to 9.
func TestSecondRunComputesNegativeDelta(t *testing.T) {
	url := "https://www.njuskalo.hr/trgovina/a"
	driver := browser.NewFixtureDriver(map[string]string{url + "?categoryId=2": automotoPage(12, 0, 0)})
	o, db := newOrchestrator(t, driver)

	if _, err := db.SeedNew(context.Background(), []string{url}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := o.Run(context.Background(), orchestrator.Options{
		Mode: orchestrator.ModeEnhanced, UseDatabase: true, TargetCategoryID: 2,
		SitemapStaleAfter: 7 * 24 * time.Hour,
	}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	driver2 := browser.NewFixtureDriver(map[string]string{url + "?categoryId=2": automotoPage(9, 0, 0)})
	sleeper := &pacing.FakeSleeper{}
	rng := rand.New(rand.NewPCG(2, 2))
	o2 := orchestrator.New(db, driver2, sleeper, rng, discardLogger(), nil)

	rr, err := o2.Run(context.Background(), orchestrator.Options{
		Mode: orchestrator.ModeEnhanced, UseDatabase: true, TargetCategoryID: 2,
		SitemapStaleAfter: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(rr.Results) != 1 || rr.Results[0].DeltaTotal != -3 {
		t.Fatalf("expected delta -3, got %+v", rr.Results)
	}
}

// S3. Store becomes unreachable: is_valid flips false, counts preserved,
// no new snapshot appended.
func TestUnreachableStorePreservesCountsAndSkipsSnapshot(t *testing.T) {
	url := "https://www.njuskalo.hr/trgovina/d"
	driver := browser.NewFixtureDriver(map[string]string{url + "?categoryId=2": automotoPage(5, 3, 0)})
	o, db := newOrchestrator(t, driver)

	if _, err := db.SeedNew(context.Background(), []string{url}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := o.Run(context.Background(), orchestrator.Options{
		Mode: orchestrator.ModeEnhanced, UseDatabase: true, TargetCategoryID: 2,
		SitemapStaleAfter: 7 * 24 * time.Hour,
	}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	unreachableDriver := browser.NewFixtureDriver(map[string]string{}) // Open always fails
	sleeper := &pacing.FakeSleeper{}
	rng := rand.New(rand.NewPCG(3, 3))
	o2 := orchestrator.New(db, unreachableDriver, sleeper, rng, discardLogger(), nil)

	if _, err := o2.Run(context.Background(), orchestrator.Options{
		Mode: orchestrator.ModeEnhanced, UseDatabase: true, TargetCategoryID: 2,
		SitemapStaleAfter: 7 * 24 * time.Hour,
	}); err != nil {
		t.Fatalf("second run: %v", err)
	}

	s, err := db.GetStore(context.Background(), url)
	if err != nil {
		t.Fatalf("get store: %v", err)
	}
	if s.IsValid {
		t.Fatalf("expected is_valid=false after unreachable visit")
	}
	if s.NewVehicleCount != 5 || s.UsedVehicleCount != 3 {
		t.Fatalf("expected counts preserved, got %+v", s)
	}

	snaps, err := db.LatestSnapshots(context.Background(), s.CreatedAt)
	if err != nil {
		t.Fatalf("latest snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected exactly one snapshot across both runs, got %d", len(snaps))
	}
}

// S4. Category not present: valid, non-automoto, zero counts.
func TestCategoryNotPresentYieldsZeroCounts(t *testing.T) {
	url := "https://www.njuskalo.hr/trgovina/e"
	driver := browser.NewFixtureDriver(map[string]string{
		url + "?categoryId=2": `<html><body><p>This store sells furniture, not vehicles.</p></body></html>`,
	})
	o, db := newOrchestrator(t, driver)

	if _, err := db.SeedNew(context.Background(), []string{url}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rr, err := o.Run(context.Background(), orchestrator.Options{
		Mode: orchestrator.ModeEnhanced, UseDatabase: true, TargetCategoryID: 2,
		SitemapStaleAfter: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rr.Valid != 1 || rr.Automoto != 0 {
		t.Fatalf("expected valid non-automoto store, got %+v", rr)
	}

	s, err := db.GetStore(context.Background(), url)
	if err != nil {
		t.Fatalf("get store: %v", err)
	}
	if s.TotalVehicleCount != 0 {
		t.Fatalf("expected zero counts, got %+v", s)
	}
}

// Basic mode records validity/category only, never counts.
func TestBasicModeNeverCounts(t *testing.T) {
	url := "https://www.njuskalo.hr/trgovina/f"
	driver := browser.NewFixtureDriver(map[string]string{url + "?categoryId=2": automotoPage(4, 4, 4)})
	o, db := newOrchestrator(t, driver)

	if _, err := db.SeedNew(context.Background(), []string{url}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rr, err := o.Run(context.Background(), orchestrator.Options{
		Mode: orchestrator.ModeBasic, UseDatabase: true, TargetCategoryID: 2,
		SitemapStaleAfter: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rr.SumNew != 0 || rr.SumUsed != 0 || rr.SumTest != 0 {
		t.Fatalf("basic mode should never count listings, got %+v", rr)
	}
	if rr.Automoto != 1 {
		t.Fatalf("basic mode should still classify category, got %+v", rr)
	}
}

func TestMaxStoresTruncatesURLList(t *testing.T) {
	stores := []string{
		"https://www.njuskalo.hr/trgovina/a",
		"https://www.njuskalo.hr/trgovina/b",
		"https://www.njuskalo.hr/trgovina/c",
	}
	pages := map[string]string{}
	for _, u := range stores {
		pages[u+"?categoryId=2"] = automotoPage(1, 0, 0)
	}
	driver := browser.NewFixtureDriver(pages)
	o, db := newOrchestrator(t, driver)

	if _, err := db.SeedNew(context.Background(), stores); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rr, err := o.Run(context.Background(), orchestrator.Options{
		Mode: orchestrator.ModeEnhanced, UseDatabase: true, TargetCategoryID: 2,
		MaxStores: 2, SitemapStaleAfter: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rr.Visited != 2 {
		t.Fatalf("visited = %d, want 2 (max-stores cap)", rr.Visited)
	}
}

func TestNoDatabaseModeSkipsPersistence(t *testing.T) {
	url := "https://www.njuskalo.hr/trgovina/g"
	driver := browser.NewFixtureDriver(map[string]string{url + "?categoryId=2": automotoPage(3, 0, 0)})
	o, db := newOrchestrator(t, driver)

	if _, err := db.SeedNew(context.Background(), []string{url}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rr, err := o.Run(context.Background(), orchestrator.Options{
		Mode: orchestrator.ModeEnhanced, UseDatabase: false, TargetCategoryID: 2,
		SitemapStaleAfter: 7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rr.Visited != 1 {
		t.Fatalf("expected one visit recorded in the report even without persistence")
	}

	s, err := db.GetStore(context.Background(), url)
	if err != nil {
		t.Fatalf("get store: %v", err)
	}
	if s.NewVehicleCount != 0 {
		t.Fatalf("expected registry untouched in no-database mode, got %+v", s)
	}
}
