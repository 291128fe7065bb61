package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// Forest is a random forest of bootstrapped CART trees. Its probability is
// the mean of its trees' probabilities.
type Forest struct {
	NEstimators int
	Bootstrap   bool
	RandomState int64
	// MaxFeatures is resolved against the feature count when fitting: "sqrt",
	// "log2", "all" or a positive integer.
	MaxFeatures string
	Params      TreeParams
	NumFeatures int
	Trees       []*Tree

	workers int
}

type ForestOption func(*Forest)

func WithEstimators(n int) ForestOption {
	return func(f *Forest) { f.NEstimators = n }
}

func WithBootstrap(b bool) ForestOption {
	return func(f *Forest) { f.Bootstrap = b }
}

func WithRandomState(seed int64) ForestOption {
	return func(f *Forest) { f.RandomState = seed }
}

func WithFeatureSampling(maxFeatures string) ForestOption {
	return func(f *Forest) { f.MaxFeatures = maxFeatures }
}

// WithTreeOptions sets the growth limits of every tree.
func WithTreeOptions(opts ...TreeOption) ForestOption {
	return func(f *Forest) {
		for _, o := range opts {
			o(&f.Params)
		}
	}
}

// WithWorkers bounds the number of trees fitted concurrently.
func WithWorkers(n int) ForestOption {
	return func(f *Forest) { f.workers = n }
}

func NewForest(opts ...ForestOption) *Forest {
	f := &Forest{
		NEstimators: 100,
		Bootstrap:   true,
		MaxFeatures: "sqrt",
		Params:      NewTree().Params,
		workers:     runtime.GOMAXPROCS(0),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// ResolveMaxFeatures converts a max features setting to a feature count.
func ResolveMaxFeatures(setting string, numFeatures int) (int, error) {
	switch setting {
	case "sqrt":
		return max(1, int(math.Sqrt(float64(numFeatures)))), nil
	case "log2":
		return max(1, int(math.Log2(float64(numFeatures)))), nil
	case "all", "":
		return numFeatures, nil
	}
	k, err := strconv.Atoi(setting)
	if err != nil || k < 1 {
		return 0, fmt.Errorf("%w: %q", ErrMaxFeatures, setting)
	}
	return min(k, numFeatures), nil
}

// Fit grows NEstimators trees concurrently. Per-tree seeds are drawn from
// RandomState before any tree starts, so results do not depend on scheduling.
func (f *Forest) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if f.NEstimators < 1 {
		return fmt.Errorf("%w: %d estimators", ErrHyperparameter, f.NEstimators)
	}
	p, err := checkInput(x, y)
	if err != nil {
		return err
	}
	maxFeatures, err := ResolveMaxFeatures(f.MaxFeatures, p)
	if err != nil {
		return err
	}
	params := f.Params
	params.MaxFeatures = maxFeatures
	err = params.validate()
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(f.RandomState))
	seeds := make([]int64, f.NEstimators)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	trees := make([]*Tree, f.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, f.workers))
	for i := range trees {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			treeRNG := rand.New(rand.NewSource(seeds[i]))
			samples := make([]int, len(x))
			for j := range samples {
				if f.Bootstrap {
					samples[j] = treeRNG.Intn(len(x))
				} else {
					samples[j] = j
				}
			}
			tree := &Tree{Params: params}
			err := tree.fitSamples(x, y, samples, treeRNG)
			if err != nil {
				return err
			}
			trees[i] = tree
			return nil
		})
	}
	err = g.Wait()
	if err != nil {
		return err
	}

	f.NumFeatures = p
	f.Trees = trees
	return nil
}

// ProbaRow returns the probability that row belongs to class 1.
func (f *Forest) ProbaRow(row []float64) float64 {
	var sum float64
	for _, t := range f.Trees {
		sum += t.ProbaRow(row)
	}
	return sum / float64(len(f.Trees))
}

func (f *Forest) PredictProba(x [][]float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != f.NumFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShape, i, len(row), f.NumFeatures)
		}
		out[i] = f.ProbaRow(row)
	}
	return out, nil
}

func (f *Forest) Predict(x [][]float64) ([]float64, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return Threshold(proba), nil
}
