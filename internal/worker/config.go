// Package worker provides background job processing for Routewise.
package worker

import (
	"sort"
	"time"

	"github.com/routewise/routewise/internal/distance"
	"github.com/routewise/routewise/internal/geo"
)

// WarmTarget is a delivery area whose hub-to-hub distances are kept cached.
type WarmTarget struct {
	// Name is the human-readable name of the area.
	Name string

	// Hubs are depots and frequent drop points in the area. Every ordered
	// pair of hubs is looked up.
	Hubs []geo.Coordinate

	// Priority determines warm-up order (lower = higher priority).
	Priority int
}

// WarmConfig holds configuration for the cache warm-up job.
type WarmConfig struct {
	// Targets are the areas to warm. If empty, uses DefaultWarmTargets.
	Targets []WarmTarget

	// Concurrency is the number of concurrent lookups.
	// Default: 3
	Concurrency int

	// Timeout bounds each lookup.
	// Default: 30 seconds
	Timeout time.Duration

	// Mode is the travel mode looked up.
	// Default: driving
	Mode distance.Mode
}

// DefaultWarmConfig returns the default warm-up configuration.
func DefaultWarmConfig() WarmConfig {
	return WarmConfig{
		Targets:     DefaultWarmTargets(),
		Concurrency: 3,
		Timeout:     30 * time.Second,
		Mode:        distance.ModeDriving,
	}
}

// DefaultWarmTargets returns the default areas, the Randstad distribution
// centres and their nearest city hubs.
func DefaultWarmTargets() []WarmTarget {
	return []WarmTarget{
		{
			Name:     "Amsterdam",
			Priority: 1,
			Hubs: []geo.Coordinate{
				{Lat: 52.3676, Lon: 4.9041}, // Centrum
				{Lat: 52.3386, Lon: 4.8919}, // Zuidas
				{Lat: 52.3894, Lon: 4.8440}, // Westpoort
			},
		},
		{
			Name:     "Rotterdam",
			Priority: 1,
			Hubs: []geo.Coordinate{
				{Lat: 51.9244, Lon: 4.4777}, // Centrum
				{Lat: 51.8850, Lon: 4.2860}, // Waalhaven
			},
		},
		{
			Name:     "Utrecht",
			Priority: 2,
			Hubs: []geo.Coordinate{
				{Lat: 52.0894, Lon: 5.1102}, // Centrum
				{Lat: 52.0580, Lon: 5.0720}, // Papendorp
			},
		},
		{
			Name:     "Schiphol",
			Priority: 2,
			Hubs: []geo.Coordinate{
				{Lat: 52.3105, Lon: 4.7683}, // Cargo
				{Lat: 52.3676, Lon: 4.9041}, // Amsterdam Centrum
			},
		},
	}
}

// TotalPairs returns the number of ordered hub pairs across all targets.
func (c WarmConfig) TotalPairs() int {
	total := 0
	for _, target := range c.Targets {
		n := len(target.Hubs)
		total += n * (n - 1)
	}
	return total
}

// pair is one ordered hub-to-hub lookup.
type pair struct {
	target      string
	origin      geo.Coordinate
	destination geo.Coordinate
}

// pairs returns every ordered hub pair, higher priority targets first.
func (c WarmConfig) pairs() []pair {
	targets := make([]WarmTarget, len(c.Targets))
	copy(targets, c.Targets)
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Priority < targets[j].Priority })

	out := make([]pair, 0, c.TotalPairs())
	for _, t := range targets {
		for i, from := range t.Hubs {
			for j, to := range t.Hubs {
				if i != j {
					out = append(out, pair{target: t.Name, origin: from, destination: to})
				}
			}
		}
	}
	return out
}
