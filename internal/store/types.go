package store

import "time"

// Store is a durable row in scraped_stores, keyed by URL.
type Store struct {
	URL              string
	Results          string
	IsValid          bool
	IsAutomoto       *bool // nil until first classified
	NewVehicleCount  int
	UsedVehicleCount int
	TestVehicleCount int
	TotalVehicleCount int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Snapshot is one append-only row in store_snapshots.
type Snapshot struct {
	URL         string
	ScrapedAt   time.Time
	ActiveNew   int
	ActiveUsed  int
	ActiveTest  int
	ActiveTotal int
	DeltaNew    int
	DeltaUsed   int
	DeltaTest   int
	DeltaTotal  int
}

// Outcome is the transient result of one C7 store visit, the sole input
// to PersistVisit.
type Outcome struct {
	IsValid    bool
	IsAutomoto bool
	New        int
	Used       int
	Test       int
}

// Total returns New+Used+Test.
func (o Outcome) Total() int { return o.New + o.Used + o.Test }
