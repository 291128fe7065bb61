package ml

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

func squaredDistance(a, b []float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}

type candidate struct {
	index    int
	distance float64
}

func (c candidate) before(o candidate) bool {
	if c.distance != o.distance {
		return c.distance < o.distance
	}
	return c.index < o.index
}

// offer inserts c into best, which holds at most k candidates in order.
func offer(best []candidate, c candidate, k int) []candidate {
	if len(best) == k {
		if !c.before(best[k-1]) {
			return best
		}
		best = best[:k-1]
	}
	i := len(best)
	best = append(best, c)
	for i > 0 && c.before(best[i-1]) {
		best[i] = best[i-1]
		i--
	}
	best[i] = c
	return best
}

// NearestNeighbors returns, for each query, the indices of its k nearest
// points by Euclidean distance, closest first with ties broken by lower
// index. When exclude is non-nil, exclude[q] is skipped for query q, which
// lets a point set be queried against itself. Fewer than k indices are
// returned when there are not enough candidates.
//
// Every query scans all points once and keeps only its k best, so a search
// costs O(len(queries) * len(points) * k).
func NearestNeighbors(ctx context.Context, points, queries [][]float64, k int, exclude []int) ([][]int, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k=%d", ErrHyperparameter, k)
	}
	if exclude != nil && len(exclude) != len(queries) {
		return nil, fmt.Errorf("%w: %d exclusions for %d queries", ErrShape, len(exclude), len(queries))
	}

	out := make([][]int, len(queries))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	const chunk = 256
	for start := 0; start < len(queries); start += chunk {
		end := min(start+chunk, len(queries))
		g.Go(func() error {
			best := make([]candidate, 0, k)
			for q := start; q < end; q++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				best = best[:0]
				for i, p := range points {
					if exclude != nil && exclude[q] == i {
						continue
					}
					best = offer(best, candidate{index: i, distance: squaredDistance(queries[q], p)}, k)
				}
				neighbors := make([]int, len(best))
				for i, c := range best {
					neighbors[i] = c.index
				}
				out[q] = neighbors
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		return nil, err
	}
	return out, nil
}
