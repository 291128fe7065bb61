package features

import (
	"context"
	"fmt"
	"math/rand"
	"slices"

	"github.com/willbeason/insurance-eligibility/pkg/ml"
)

// Resampler rebalances a binary training set: SMOTE oversamples the minority
// class up to the majority count, then edited nearest neighbours removes every
// sample whose neighbours do not all share its class.
type Resampler struct {
	SmoteNeighbors int
	EnnNeighbors   int
	Seed           int64
}

// Resample returns the rebalanced rows and labels. The inputs are not
// modified. Equal seeds and inputs give equal outputs.
func (r Resampler) Resample(ctx context.Context, x [][]float64, y []float64) ([][]float64, []float64, error) {
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("%w: %d rows and %d labels", ErrTransformation, len(x), len(y))
	}
	x, y, err := r.smote(ctx, x, y)
	if err != nil {
		return nil, nil, err
	}
	x, y, err = r.enn(ctx, x, y)
	if err != nil {
		return nil, nil, err
	}
	if len(x) == 0 {
		return nil, nil, fmt.Errorf("%w: resampling removed every row", ErrTransformation)
	}
	return x, y, nil
}

func (r Resampler) smote(ctx context.Context, x [][]float64, y []float64) ([][]float64, []float64, error) {
	var classes [2][]int
	for i, label := range y {
		if label == 1 {
			classes[1] = append(classes[1], i)
		} else {
			classes[0] = append(classes[0], i)
		}
	}
	minority, majority := classes[1], classes[0]
	label := 1.0
	if len(minority) > len(majority) {
		minority, majority = majority, minority
		label = 0
	}

	outX := slices.Clone(x)
	outY := slices.Clone(y)
	needed := len(majority) - len(minority)
	// Interpolation needs a minority sample and at least one neighbour.
	if needed == 0 || len(minority) < 2 {
		return outX, outY, nil
	}

	points := make([][]float64, len(minority))
	self := make([]int, len(minority))
	for i, row := range minority {
		points[i] = x[row]
		self[i] = i
	}
	k := min(r.SmoteNeighbors, len(minority)-1)
	neighbors, err := ml.NearestNeighbors(ctx, points, points, k, self)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrTransformation, err)
	}

	rng := rand.New(rand.NewSource(r.Seed))
	for range needed {
		base := rng.Intn(len(points))
		neighbor := points[neighbors[base][rng.Intn(len(neighbors[base]))]]
		gap := rng.Float64()

		row := make([]float64, len(points[base]))
		for j := range row {
			row[j] = points[base][j] + gap*(neighbor[j]-points[base][j])
		}
		outX = append(outX, row)
		outY = append(outY, label)
	}
	return outX, outY, nil
}

func (r Resampler) enn(ctx context.Context, x [][]float64, y []float64) ([][]float64, []float64, error) {
	if len(x) < 2 {
		return x, y, nil
	}
	self := make([]int, len(x))
	for i := range self {
		self[i] = i
	}
	k := min(r.EnnNeighbors, len(x)-1)
	neighbors, err := ml.NearestNeighbors(ctx, x, x, k, self)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrTransformation, err)
	}

	var outX [][]float64
	var outY []float64
	for i, near := range neighbors {
		keep := true
		for _, n := range near {
			if y[n] != y[i] {
				keep = false
				break
			}
		}
		if keep {
			outX = append(outX, x[i])
			outY = append(outY, y[i])
		}
	}
	return outX, outY, nil
}
