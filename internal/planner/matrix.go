package planner

import (
	"context"
	"math"

	"github.com/routewise/routewise/internal/geo"
)

// Entry is one cell of the distance matrix.
type Entry struct {
	Meters  float64 `json:"meters"`
	Seconds float64 `json:"seconds"`
}

// Unreachable is the sentinel recorded when a lookup fails or reports no route.
var Unreachable = Entry{Meters: math.Inf(1), Seconds: math.Inf(1)}

// Reachable reports whether the entry holds a finite distance.
func (e Entry) Reachable() bool {
	return !math.IsInf(e.Meters, 1)
}

// Cost returns the value minimized for objective.
func (e Entry) Cost(objective Objective) float64 {
	if objective == ObjectiveDuration {
		return e.Seconds
	}
	return e.Meters
}

// Distances is read by the route constructor and the 2-opt pass.
type Distances interface {
	// Len returns the number of stops.
	Len() int

	// Resolve makes sure the entries from one stop to the given stops are known.
	// It only fails when ctx is done.
	Resolve(ctx context.Context, from int, to []int) error

	// At returns a resolved entry. Unresolved off-diagonal entries read as Unreachable.
	At(from, to int) Entry
}

// Matrix is a square stops x stops matrix. The diagonal is always zero.
type Matrix struct {
	n       int
	entries []Entry
}

// NewMatrix returns an n x n matrix with a zero diagonal and every other entry unreachable.
func NewMatrix(n int) *Matrix {
	m := &Matrix{n: n, entries: make([]Entry, n*n)}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				m.entries[i*n+j] = Unreachable
			}
		}
	}
	return m
}

// MatrixFromMeters builds a matrix from a meters table. Negative, NaN, or infinite
// values are unreachable. Seconds are estimated from meters.
func MatrixFromMeters(meters [][]float64) *Matrix {
	m := NewMatrix(len(meters))
	for i, row := range meters {
		for j, v := range row {
			if i == j || j >= m.n {
				continue
			}
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			m.Set(i, j, Entry{Meters: v, Seconds: geo.EstimateSeconds(v)})
		}
	}
	return m
}

// Len returns the number of stops.
func (m *Matrix) Len() int {
	return m.n
}

// At returns the entry for the ordered pair.
func (m *Matrix) At(from, to int) Entry {
	return m.entries[from*m.n+to]
}

// Set records the entry for an off-diagonal pair. Diagonal writes are ignored.
func (m *Matrix) Set(from, to int, e Entry) {
	if from == to {
		return
	}
	m.entries[from*m.n+to] = e
}

// Resolve is a no-op; every entry of a built matrix is known.
func (m *Matrix) Resolve(ctx context.Context, _ int, _ []int) error {
	return ctx.Err()
}

// UnreachableCount returns the number of unreachable off-diagonal entries.
func (m *Matrix) UnreachableCount() int {
	count := 0
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			if i != j && !m.At(i, j).Reachable() {
				count++
			}
		}
	}
	return count
}

// AnyReachable reports whether at least one off-diagonal entry is reachable.
func (m *Matrix) AnyReachable() bool {
	return m.UnreachableCount() < m.n*(m.n-1)
}

var _ Distances = (*Matrix)(nil)
