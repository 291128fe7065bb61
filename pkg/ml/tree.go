// Package ml implements the binary classifiers and metrics used by the
// training pipeline. Labels are 0 or 1; features are dense float64 rows.
package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

var (
	ErrEmptyInput     = errors.New("empty training input")
	ErrShape          = errors.New("inconsistent input shape")
	ErrLabel          = errors.New("labels must be 0 or 1")
	ErrNotFitted      = errors.New("classifier is not fitted")
	ErrCriterion      = errors.New("unknown split criterion")
	ErrMaxFeatures    = errors.New("invalid max features")
	ErrHyperparameter = errors.New("invalid hyperparameter")
)

type Criterion string

const (
	Gini    Criterion = "gini"
	Entropy Criterion = "entropy"
)

// impurity of a node holding n samples of which pos are positive.
func (c Criterion) impurity(pos, n float64) float64 {
	if n == 0 {
		return 0
	}
	p := pos / n
	q := 1 - p
	switch c {
	case Entropy:
		var h float64
		if p > 0 {
			h -= p * math.Log2(p)
		}
		if q > 0 {
			h -= q * math.Log2(q)
		}
		return h
	default:
		return 1 - p*p - q*q
	}
}

// TreeParams bounds the growth of a decision tree.
type TreeParams struct {
	// MaxDepth of zero does not limit depth.
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of features examined per split. Zero examines
	// all of them.
	MaxFeatures int
	Criterion   Criterion
}

func (p TreeParams) validate() error {
	switch {
	case p.MaxDepth < 0:
		return fmt.Errorf("%w: max depth %d", ErrHyperparameter, p.MaxDepth)
	case p.MinSamplesSplit < 2:
		return fmt.Errorf("%w: min samples split %d", ErrHyperparameter, p.MinSamplesSplit)
	case p.MinSamplesLeaf < 1:
		return fmt.Errorf("%w: min samples leaf %d", ErrHyperparameter, p.MinSamplesLeaf)
	case p.MaxFeatures < 0:
		return fmt.Errorf("%w: %d", ErrMaxFeatures, p.MaxFeatures)
	}
	switch p.Criterion {
	case Gini, Entropy:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrCriterion, p.Criterion)
	}
}

// Node is one node of a fitted tree. Leaves have Feature -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Proba is the share of positive training samples reaching the node.
	Proba float64
}

func (n Node) leaf() bool {
	return n.Feature < 0
}

// Tree is a CART classifier. Samples with x[Feature] <= Threshold go left.
type Tree struct {
	Params      TreeParams
	NumFeatures int
	Nodes       []Node
}

type TreeOption func(*TreeParams)

func WithMaxDepth(d int) TreeOption {
	return func(p *TreeParams) { p.MaxDepth = d }
}

func WithMinSamplesSplit(n int) TreeOption {
	return func(p *TreeParams) { p.MinSamplesSplit = n }
}

func WithMinSamplesLeaf(n int) TreeOption {
	return func(p *TreeParams) { p.MinSamplesLeaf = n }
}

func WithMaxFeatures(k int) TreeOption {
	return func(p *TreeParams) { p.MaxFeatures = k }
}

func WithCriterion(c Criterion) TreeOption {
	return func(p *TreeParams) { p.Criterion = c }
}

func NewTree(opts ...TreeOption) *Tree {
	params := TreeParams{
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Criterion:       Gini,
	}
	for _, o := range opts {
		o(&params)
	}
	return &Tree{Params: params}
}

func checkInput(x [][]float64, y []float64) (int, error) {
	if len(x) == 0 {
		return 0, ErrEmptyInput
	}
	if len(y) != len(x) {
		return 0, fmt.Errorf("%w: %d rows and %d labels", ErrShape, len(x), len(y))
	}
	p := len(x[0])
	if p == 0 {
		return 0, fmt.Errorf("%w: rows have no features", ErrShape)
	}
	for i, row := range x {
		if len(row) != p {
			return 0, fmt.Errorf("%w: row %d has %d features, want %d", ErrShape, i, len(row), p)
		}
		if y[i] != 0 && y[i] != 1 {
			return 0, fmt.Errorf("%w: label %g at row %d", ErrLabel, y[i], i)
		}
	}
	return p, nil
}

// Fit grows the tree on every row of x.
func (t *Tree) Fit(x [][]float64, y []float64, rng *rand.Rand) error {
	_, err := checkInput(x, y)
	if err != nil {
		return err
	}
	samples := make([]int, len(x))
	for i := range samples {
		samples[i] = i
	}
	return t.fitSamples(x, y, samples, rng)
}

// fitSamples grows the tree on the rows listed in samples, which may repeat.
func (t *Tree) fitSamples(x [][]float64, y []float64, samples []int, rng *rand.Rand) error {
	err := t.Params.validate()
	if err != nil {
		return err
	}
	t.NumFeatures = len(x[0])
	t.Nodes = t.Nodes[:0]

	g := grower{
		tree:    t,
		x:       x,
		y:       y,
		rng:     rng,
		order:   make([]int, t.NumFeatures),
		scratch: make([]int, len(samples)),
	}
	for i := range g.order {
		g.order[i] = i
	}
	g.grow(samples, 0)
	return nil
}

type grower struct {
	tree    *Tree
	x       [][]float64
	y       []float64
	rng     *rand.Rand
	order   []int
	scratch []int
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
	found     bool
}

func (g *grower) positives(samples []int) float64 {
	var pos float64
	for _, s := range samples {
		pos += g.y[s]
	}
	return pos
}

// grow appends the subtree for samples and returns its node index.
func (g *grower) grow(samples []int, depth int) int {
	params := g.tree.Params
	n := float64(len(samples))
	pos := g.positives(samples)

	index := len(g.tree.Nodes)
	g.tree.Nodes = append(g.tree.Nodes, Node{Feature: -1, Proba: pos / n})

	if pos == 0 || pos == n ||
		len(samples) < params.MinSamplesSplit ||
		len(samples) < 2*params.MinSamplesLeaf ||
		(params.MaxDepth > 0 && depth >= params.MaxDepth) {
		return index
	}

	best := g.bestSplit(samples, pos)
	if !best.found {
		return index
	}

	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, s := range samples {
		if g.x[s][best.feature] <= best.threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)
	g.tree.Nodes[index].Feature = best.feature
	g.tree.Nodes[index].Threshold = best.threshold
	g.tree.Nodes[index].Left = l
	g.tree.Nodes[index].Right = r
	return index
}

// bestSplit examines features in random order until MaxFeatures features with
// more than one distinct value have been searched.
func (g *grower) bestSplit(samples []int, pos float64) split {
	params := g.tree.Params
	limit := params.MaxFeatures
	if limit == 0 || limit > len(g.order) {
		limit = len(g.order)
	}
	g.rng.Shuffle(len(g.order), func(i, j int) {
		g.order[i], g.order[j] = g.order[j], g.order[i]
	})

	best := split{impurity: math.Inf(1)}
	searched := 0
	for _, feature := range g.order {
		if searched == limit {
			break
		}
		sorted := g.scratch[:len(samples)]
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool {
			return g.x[sorted[i]][feature] < g.x[sorted[j]][feature]
		})
		if g.x[sorted[0]][feature] == g.x[sorted[len(sorted)-1]][feature] {
			continue
		}
		searched++

		n := float64(len(sorted))
		var leftPos float64
		for i := 0; i < len(sorted)-1; i++ {
			leftPos += g.y[sorted[i]]
			lo, hi := g.x[sorted[i]][feature], g.x[sorted[i+1]][feature]
			if lo == hi {
				continue
			}
			nLeft := i + 1
			nRight := len(sorted) - nLeft
			if nLeft < params.MinSamplesLeaf || nRight < params.MinSamplesLeaf {
				continue
			}
			fl, fr := float64(nLeft), float64(nRight)
			impurity := (fl*params.Criterion.impurity(leftPos, fl) +
				fr*params.Criterion.impurity(pos-leftPos, fr)) / n
			if impurity < best.impurity {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = split{feature: feature, threshold: threshold, impurity: impurity, found: true}
			}
		}
	}
	return best
}

// ProbaRow returns the probability that row belongs to class 1.
func (t *Tree) ProbaRow(row []float64) float64 {
	node := t.Nodes[0]
	for !node.leaf() {
		if row[node.Feature] <= node.Threshold {
			node = t.Nodes[node.Left]
		} else {
			node = t.Nodes[node.Right]
		}
	}
	return node.Proba
}

// Depth is the length of the longest root-to-leaf path.
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var depth func(i int) int
	depth = func(i int) int {
		n := t.Nodes[i]
		if n.leaf() {
			return 0
		}
		return 1 + max(depth(n.Left), depth(n.Right))
	}
	return depth(0)
}

func (t *Tree) PredictProba(x [][]float64) ([]float64, error) {
	if len(t.Nodes) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != t.NumFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShape, i, len(row), t.NumFeatures)
		}
		out[i] = t.ProbaRow(row)
	}
	return out, nil
}

func (t *Tree) Predict(x [][]float64) ([]float64, error) {
	proba, err := t.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return Threshold(proba), nil
}

// Threshold labels probabilities above one half as class 1.
func Threshold(proba []float64) []float64 {
	out := make([]float64, len(proba))
	for i, p := range proba {
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out
}
