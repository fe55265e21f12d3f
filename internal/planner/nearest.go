package planner

import "context"

// NearestNeighbor builds a visiting order starting at stop 0. From the last
// visited stop it moves to the unvisited stop with the lowest cost, breaking
// ties by the lowest index. Unreachable stops are never chosen; when only
// unreachable stops remain the order is returned early and is shorter than
// d.Len().
//
// The result is a greedy heuristic and is not guaranteed to be minimal.
func NearestNeighbor(ctx context.Context, d Distances, objective Objective) ([]int, error) {
	n := d.Len()
	if n == 0 {
		return nil, nil
	}

	visited := make([]bool, n)
	visited[0] = true
	order := make([]int, 1, n)
	order[0] = 0

	candidates := make([]int, 0, n-1)
	current := 0

	for len(order) < n {
		candidates = candidates[:0]
		for j := 0; j < n; j++ {
			if !visited[j] {
				candidates = append(candidates, j)
			}
		}

		if err := d.Resolve(ctx, current, candidates); err != nil {
			return order, err
		}

		next := -1
		var best float64
		for _, j := range candidates {
			e := d.At(current, j)
			if !e.Reachable() {
				continue
			}
			if c := e.Cost(objective); next == -1 || c < best {
				next, best = j, c
			}
		}

		if next == -1 {
			break
		}

		visited[next] = true
		order = append(order, next)
		current = next
	}

	return order, nil
}
