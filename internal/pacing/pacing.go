// Package pacing computes anti-detection delays for the scrape run. Every
// delay is a pure function of a named situation, how many stores have been
// scraped so far this run, and an injected random source, so the sequence
// of sleeps a run would take is fully deterministic and testable.
package pacing

import (
	"math"
	"math/rand/v2"
	"time"
)

// Situation names one of the enumerated delay contexts C6 supports.
type Situation string

const (
	StoreVisit     Situation = "store_visit"
	PageLoad       Situation = "page_load"
	DataExtract    Situation = "data_extract"
	Pagination     Situation = "pagination"
	ErrorRecovery  Situation = "error_recovery"
	ExtendedBreak  Situation = "extended_break"
)

type window struct {
	min, mode, max float64
	triangular     bool
}

var windows = map[Situation]window{
	StoreVisit:    {min: 8, mode: 12, max: 20, triangular: true},
	PageLoad:      {min: 2, mode: 3, max: 5, triangular: true},
	DataExtract:   {min: 1, mode: 2, max: 3, triangular: true},
	Pagination:    {min: 3, mode: 5, max: 8, triangular: true},
	ErrorRecovery: {min: 15, max: 30, triangular: false},
	ExtendedBreak: {min: 30, max: 90, triangular: false},
}

const (
	progressiveScalePerStore = 0.01
	stealthPauseChance       = 0.03
	stealthPauseMin          = 15.0
	stealthPauseMax          = 45.0
)

// Delay draws a duration for situation, given how many stores have already
// been scraped in the current run and a random source. Unknown situations
// return 0.
func Delay(situation Situation, storesScrapedInRun int, rng *rand.Rand) time.Duration {
	w, ok := windows[situation]
	if !ok {
		return 0
	}

	var seconds float64
	if w.triangular {
		seconds = triangular(rng, w.min, w.mode, w.max)
	} else {
		seconds = uniform(rng, w.min, w.max)
	}

	scale := 1 + progressiveScalePerStore*float64(storesScrapedInRun)
	seconds *= scale

	if rng.Float64() < stealthPauseChance {
		seconds += uniform(rng, stealthPauseMin, stealthPauseMax)
	}

	return time.Duration(seconds * float64(time.Second))
}

// uniform draws a float64 in [lo, hi).
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// triangular draws from the triangular distribution on (lo, mode, hi) via
// inverse-CDF sampling.
func triangular(rng *rand.Rand, lo, mode, hi float64) float64 {
	u := rng.Float64()
	c := (mode - lo) / (hi - lo)
	if u < c {
		return lo + math.Sqrt(u*(hi-lo)*(mode-lo))
	}
	return hi - math.Sqrt((1-u)*(hi-lo)*(hi-mode))
}
