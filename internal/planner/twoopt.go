package planner

import "math"

const (
	maxTwoOptPasses = 50
	twoOptEpsilon   = 1e-9
)

// ImproveTwoOpt reverses segments of order while that lowers the total cost,
// keeping the first stop in place. Only known, reachable entries are used, so
// an improved order never introduces an unreachable leg. It returns the new
// order and the cost reduction. The input slice is not modified.
//
// Costs are recomputed over the whole path for each candidate because
// provider matrices are not symmetric.
func ImproveTwoOpt(d Distances, order []int, objective Objective, returnToDepot bool) ([]int, float64) {
	best := append([]int(nil), order...)
	if len(best) < 3 {
		return best, 0
	}

	initial := pathCost(d, best, objective, returnToDepot)
	bestCost := initial
	candidate := make([]int, len(best))

	for pass := 0; pass < maxTwoOptPasses; pass++ {
		improved := false
		for i := 1; i < len(best)-1; i++ {
			for k := i + 1; k < len(best); k++ {
				copy(candidate, best)
				reverse(candidate[i : k+1])

				cost := pathCost(d, candidate, objective, returnToDepot)
				if math.IsInf(cost, 1) {
					continue
				}
				if math.IsInf(bestCost, 1) || cost < bestCost-twoOptEpsilon {
					copy(best, candidate)
					bestCost = cost
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}

	if math.IsInf(initial, 1) {
		return best, 0
	}
	return best, initial - bestCost
}

// pathCost sums the legs of order. It is +Inf when any leg is unreachable.
func pathCost(d Distances, order []int, objective Objective, returnToDepot bool) float64 {
	var total float64
	for i := 1; i < len(order); i++ {
		e := d.At(order[i-1], order[i])
		if !e.Reachable() {
			return math.Inf(1)
		}
		total += e.Cost(objective)
	}
	if returnToDepot && len(order) > 1 {
		e := d.At(order[len(order)-1], order[0])
		if !e.Reachable() {
			return math.Inf(1)
		}
		total += e.Cost(objective)
	}
	return total
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
