// Package storescraper implements the central per-store algorithm (C7):
// category detection, paginated listing walk, and three-tier flag
// extraction, driving a browser.Driver and a pacing.Sleeper.
package storescraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/solveiti/njuskalohr/internal/browser"
	"github.com/solveiti/njuskalohr/internal/pacing"
	"github.com/solveiti/njuskalohr/internal/store"
)

const maxPages = 20
const perPageTypeCap = 100

// categoryKeywords is the fallback Croatian keyword list used when no
// category anchor is found (Open Questions: static table).
var categoryKeywords = []string{"auto", "moto", "vozila"}

// categoryChipSelectors are known "category chip" containers on the site.
var categoryChipSelectors = []string{".category-chip", ".filter-chip", ".breadcrumbs__chip"}

// listingContainerSelector is scrolled into view before extraction so
// lazy-loaded listings below the fold render into the DOM.
const listingContainerSelector = ".EntityList, .entity-list"

const (
	flagNovo     = "novo vozilo"
	flagRabljeno = "rabljeno vozilo"
	flagPolovno  = "polovno vozilo"
	flagTestno   = "testno vozilo"
)

var flagRegexps = struct {
	newRe, usedRe, testRe *regexp.Regexp
}{
	newRe:  regexp.MustCompile(`(?i)novo vozilo`),
	usedRe: regexp.MustCompile(`(?i)(rabljeno vozilo|polovno vozilo)`),
	testRe: regexp.MustCompile(`(?i)testno vozilo`),
}

// Telemetry carries per-visit metrics for structured logging, per the
// {url, outcome, new, used, test, elapsed_ms, proxy} logging contract.
type Telemetry struct {
	ElapsedMS int64
	Proxy     string
}

// Config configures a Scraper.
type Config struct {
	TargetCategoryID int
	Proxy            string // current proxy label, for telemetry only

	// CountListings disables the paginated flag-extraction walk when
	// false (basic mode): only is_valid/is_automoto are recorded.
	CountListings bool
}

// Scraper runs the C7 algorithm against a browser.Driver.
type Scraper struct {
	cfg     Config
	driver  browser.Driver
	sleeper pacing.Sleeper
	rng     *rand.Rand
	log     *slog.Logger

	consecutiveInvalid int
}

// New builds a Scraper.
func New(cfg Config, driver browser.Driver, sleeper pacing.Sleeper, rng *rand.Rand, log *slog.Logger) *Scraper {
	return &Scraper{cfg: cfg, driver: driver, sleeper: sleeper, rng: rng, log: log}
}

// ConsecutiveInvalid reports the current run of consecutive invalid
// visits, for the orchestrator's rebuild/rotate decision.
func (s *Scraper) ConsecutiveInvalid() int { return s.consecutiveInvalid }

// ResetConsecutiveInvalid clears the counter, e.g. after the orchestrator
// rebuilds the driver.
func (s *Scraper) ResetConsecutiveInvalid() { s.consecutiveInvalid = 0 }

// Scrape drives one store visit end to end and returns a classification
// outcome plus telemetry. It never returns an error for scrape-domain
// failures — those are folded into outcome.IsValid=false, per the C7
// propagation rule that nothing below C7 escapes it.
func (s *Scraper) Scrape(ctx context.Context, url string, storesScrapedInRun int) (store.Outcome, Telemetry, error) {
	start := time.Now()
	telemetry := Telemetry{Proxy: s.cfg.Proxy}

	categoryURL := fmt.Sprintf("%s?categoryId=%d", url, s.cfg.TargetCategoryID)
	if err := s.driver.Open(ctx, categoryURL); err != nil {
		s.recordInvalid(ctx, storesScrapedInRun)
		telemetry.ElapsedMS = time.Since(start).Milliseconds()
		return store.Outcome{}, telemetry, nil
	}

	s.driver.DismissConsent(ctx)
	if err := s.sleep(ctx, pacing.PageLoad, storesScrapedInRun); err != nil {
		telemetry.ElapsedMS = time.Since(start).Milliseconds()
		return store.Outcome{}, telemetry, fmt.Errorf("storescraper: %w", err)
	}

	isAutomoto, err := s.detectCategory(ctx, s.cfg.TargetCategoryID)
	if err != nil {
		s.recordInvalid(ctx, storesScrapedInRun)
		telemetry.ElapsedMS = time.Since(start).Milliseconds()
		return store.Outcome{}, telemetry, nil
	}
	if !isAutomoto || !s.cfg.CountListings {
		s.consecutiveInvalid = 0
		telemetry.ElapsedMS = time.Since(start).Milliseconds()
		return store.Outcome{IsValid: true, IsAutomoto: isAutomoto}, telemetry, nil
	}

	newC, usedC, testC, err := s.walkPages(ctx, url, storesScrapedInRun)
	if err != nil {
		s.recordInvalid(ctx, storesScrapedInRun)
		telemetry.ElapsedMS = time.Since(start).Milliseconds()
		return store.Outcome{}, telemetry, nil
	}

	s.consecutiveInvalid = 0
	telemetry.ElapsedMS = time.Since(start).Milliseconds()
	return store.Outcome{
		IsValid:    true,
		IsAutomoto: true,
		New:        newC,
		Used:       usedC,
		Test:       testC,
	}, telemetry, nil
}

// recordInvalid sleeps error_recovery and bumps the consecutive-invalid
// counter; the caller (orchestrator) decides when to rebuild/rotate.
func (s *Scraper) recordInvalid(ctx context.Context, storesScrapedInRun int) {
	s.consecutiveInvalid++
	_ = s.sleep(ctx, pacing.ErrorRecovery, storesScrapedInRun)
}

func (s *Scraper) sleep(ctx context.Context, situation pacing.Situation, storesScrapedInRun int) error {
	d := pacing.Delay(situation, storesScrapedInRun, s.rng)
	return s.sleeper.Sleep(ctx, d)
}

// detectCategory implements step 3: anchor / keyword / chip, in that
// order, short-circuiting on the first hit.
func (s *Scraper) detectCategory(ctx context.Context, categoryID int) (bool, error) {
	anchorSel := fmt.Sprintf(`a[href*="categoryId=%d"]`, categoryID)
	if ok, err := s.driver.Exists(ctx, anchorSel); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}

	body, err := s.driver.Find(ctx, "body")
	if err != nil {
		return false, err
	}
	if body != nil {
		lower := strings.ToLower(body.Text())
		for _, kw := range categoryKeywords {
			if strings.Contains(lower, kw) {
				return true, nil
			}
		}
	}

	for _, sel := range categoryChipSelectors {
		els, err := s.driver.FindAll(ctx, sel)
		if err != nil {
			return false, err
		}
		for _, el := range els {
			text := strings.ToLower(el.Text())
			for _, kw := range categoryKeywords {
				if strings.Contains(text, kw) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// walkPages implements step 4: the paginated listing walk.
func (s *Scraper) walkPages(ctx context.Context, baseURL string, storesScrapedInRun int) (newC, usedC, testC int, err error) {
	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := s.sleep(ctx, pacing.Pagination, storesScrapedInRun); err != nil {
				return newC, usedC, testC, err
			}
			pageURL := fmt.Sprintf("%s?categoryId=%d&page=%d", baseURL, s.cfg.TargetCategoryID, page)
			if err := s.driver.Open(ctx, pageURL); err != nil {
				break
			}
		}

		// Best-effort: a page without the container simply doesn't scroll,
		// extraction still runs against whatever rendered.
		_ = s.driver.ScrollTo(ctx, listingContainerSelector)

		pn, pu, pt, err := s.extractPageFlags(ctx)
		if err != nil {
			return newC, usedC, testC, err
		}
		newC += pn
		usedC += pu
		testC += pt

		if page > 1 && pn+pu+pt == 0 {
			break
		}
	}
	return newC, usedC, testC, nil
}

// extractPageFlags implements step 5, the three-tier extraction strategy
// for a single page. Each tier returns as soon as it finds anything.
func (s *Scraper) extractPageFlags(ctx context.Context) (newC, usedC, testC int, err error) {
	tier1, err := s.driver.FindAll(ctx, "li.entity-flag > span.flag")
	if err != nil {
		return 0, 0, 0, err
	}
	if n, u, t := bucketElements(tier1); n+u+t > 0 {
		return capCount(n), capCount(u), capCount(t), nil
	}

	tier2, err := s.driver.FindAll(ctx, "li.entity-flag")
	if err != nil {
		return 0, 0, 0, err
	}
	if n, u, t := bucketElements(tier2); n+u+t > 0 {
		return capCount(n), capCount(u), capCount(t), nil
	}

	source, err := s.driver.Source(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	n := len(flagRegexps.newRe.FindAllStringIndex(source, -1))
	u := len(flagRegexps.usedRe.FindAllStringIndex(source, -1))
	t := len(flagRegexps.testRe.FindAllStringIndex(source, -1))
	return capCount(n), capCount(u), capCount(t), nil
}

// bucketElements applies the per-listing new>used>test tiebreak: an
// element contributes to exactly one bucket even if its text matches
// more than one phrase.
func bucketElements(els []browser.Element) (newC, usedC, testC int) {
	for _, el := range els {
		text := strings.ToLower(el.Text())
		switch {
		case strings.Contains(text, flagNovo):
			newC++
		case strings.Contains(text, flagRabljeno), strings.Contains(text, flagPolovno):
			usedC++
		case strings.Contains(text, flagTestno):
			testC++
		}
	}
	return newC, usedC, testC
}

func capCount(n int) int {
	if n > perPageTypeCap {
		return perPageTypeCap
	}
	return n
}
