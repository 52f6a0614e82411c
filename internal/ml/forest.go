package ml

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"sleepdx/pkg/errors"
)

// ForestConfig holds random forest hyperparameters
type ForestConfig struct {
	Trees           int    `json:"trees"`
	MaxDepth        int    `json:"max_depth,omitempty"`    // 0 = unlimited
	MinSamplesSplit int    `json:"min_samples_split"`      // smallest node that may be split
	MinSamplesLeaf  int    `json:"min_samples_leaf"`       // smallest allowed child
	MaxFeatures     int    `json:"max_features,omitempty"` // 0 = sqrt(features)
	Seed            uint64 `json:"seed"`
	Workers         int    `json:"-"` // 0 = GOMAXPROCS
}

// DefaultForestConfig returns 100 bootstrapped trees grown to purity, seed 42
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

// Node is one node of a flattened decision tree. Leaves have Feature == -1
// and carry the class distribution of their training samples.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Probs     []float64 `json:"p,omitempty"`
}

// Tree is a CART decision tree stored as a node slice, root at index 0
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(features []float64) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Probs
		}
		if features[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is a random forest classifier: bootstrapped Gini trees whose leaf
// distributions are averaged at prediction time. It is JSON-serializable and
// immutable after training.
type Forest struct {
	Config   ForestConfig `json:"config"`
	Features int          `json:"features"`
	Classes  int          `json:"classes"`
	Trees    []Tree       `json:"trees"`
}

// TrainForest fits a forest on encoded features and class codes in
// [0, classes). Each tree draws from its own generator derived from the seed,
// so the result does not depend on scheduling.
func TrainForest(ctx context.Context, x [][]float64, y []int, classes int, cfg ForestConfig) (*Forest, error) {
	if len(x) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "no training samples")
	}
	if len(x) != len(y) {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "%d samples but %d targets", len(x), len(y))
	}
	if classes < 2 {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "need at least 2 classes, got %d", classes)
	}
	width := len(x[0])
	if width == 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "samples have no features")
	}
	for i := range x {
		if len(x[i]) != width {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "sample %d has %d features, want %d", i, len(x[i]), width)
		}
		if y[i] < 0 || y[i] >= classes {
			return nil, errors.Wrapf(errors.ErrInvalidInput, "sample %d has class %d outside [0,%d)", i, y[i], classes)
		}
	}

	if cfg.Trees <= 0 {
		cfg.Trees = DefaultForestConfig().Trees
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}
	mtry := cfg.MaxFeatures
	if mtry <= 0 || mtry > width {
		mtry = max(1, int(math.Sqrt(float64(width))))
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	f := &Forest{
		Config:   cfg,
		Features: width,
		Classes:  classes,
		Trees:    make([]Tree, cfg.Trees),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range f.Trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := &builder{
				x:       x,
				y:       y,
				classes: classes,
				mtry:    mtry,
				cfg:     cfg,
				rng:     rand.New(rand.NewPCG(cfg.Seed, uint64(i))),
			}
			f.Trees[i] = b.build()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "forest training interrupted")
	}

	return f, nil
}

// Predict averages the leaf distributions of every tree
func (f *Forest) Predict(features []float64) (*Prediction, error) {
	if len(features) != f.Features {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "got %d features, model expects %d", len(features), f.Features)
	}
	if len(f.Trees) == 0 {
		return nil, errors.New("forest has no trees")
	}

	probs := make([]float64, f.Classes)
	for i := range f.Trees {
		for c, p := range f.Trees[i].leaf(features) {
			probs[c] += p
		}
	}
	n := float64(len(f.Trees))
	for c := range probs {
		probs[c] /= n
	}
	return newPrediction(probs), nil
}

// NumFeatures returns the expected feature vector width
func (f *Forest) NumFeatures() int { return f.Features }

// NumClasses returns the number of target classes
func (f *Forest) NumClasses() int { return f.Classes }

// Close is a no-op; a forest holds no native resources
func (f *Forest) Close() error { return nil }

// Validate checks the structure of a deserialized forest
func (f *Forest) Validate() error {
	if f.Features <= 0 || f.Classes < 2 {
		return errors.Newf("forest shape %d features x %d classes is invalid", f.Features, f.Classes)
	}
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return errors.Newf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature < 0 {
				if len(n.Probs) != f.Classes {
					return errors.Newf("tree %d leaf %d has %d probabilities, want %d", ti, ni, len(n.Probs), f.Classes)
				}
				continue
			}
			if n.Feature >= f.Features {
				return errors.Newf("tree %d node %d splits on feature %d of %d", ti, ni, n.Feature, f.Features)
			}
			// Children always follow their parent, which also rules out cycles
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return errors.Newf("tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return nil
}

type builder struct {
	x       [][]float64
	y       []int
	classes int
	mtry    int
	cfg     ForestConfig
	rng     *rand.Rand
	nodes   []Node
}

func (b *builder) build() Tree {
	n := len(b.x)
	sample := make([]int, n)
	for i := range sample {
		sample[i] = b.rng.IntN(n)
	}
	b.grow(sample, 0)
	return Tree{Nodes: b.nodes}
}

// grow appends the subtree for the given samples and returns its index
func (b *builder) grow(idx []int, depth int) int {
	counts := make([]int, b.classes)
	for _, i := range idx {
		counts[b.y[i]]++
	}

	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1})

	if b.stop(idx, counts, depth) {
		b.nodes[self].Probs = distribution(counts, len(idx))
		return self
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		b.nodes[self].Probs = distribution(counts, len(idx))
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return self
}

func (b *builder) stop(idx []int, counts []int, depth int) bool {
	if len(idx) < b.cfg.MinSamplesSplit || len(idx) < 2*b.cfg.MinSamplesLeaf {
		return true
	}
	if b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth {
		return true
	}
	for _, c := range counts {
		if c == len(idx) {
			return true
		}
	}
	return false
}

// bestSplit scans a random subset of features for the threshold with the
// lowest weighted Gini impurity
func (b *builder) bestSplit(idx []int, counts []int) (int, float64, bool) {
	width := len(b.x[0])
	candidates := b.rng.Perm(width)[:b.mtry]

	var (
		bestFeature   = -1
		bestThreshold float64
		bestScore     = gini(counts, len(idx))
	)

	order := make([]int, len(idx))
	left := make([]int, b.classes)
	right := make([]int, b.classes)
	minLeaf := b.cfg.MinSamplesLeaf

	for _, feature := range candidates {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool {
			return b.x[order[a]][feature] < b.x[order[c]][feature]
		})

		clear(left)
		copy(right, counts)
		for pos := 0; pos < len(order)-1; pos++ {
			cls := b.y[order[pos]]
			left[cls]++
			right[cls]--

			nl := pos + 1
			nr := len(order) - nl
			lo := b.x[order[pos]][feature]
			hi := b.x[order[pos+1]][feature]
			if lo == hi || nl < minLeaf || nr < minLeaf {
				continue
			}

			score := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(len(order))
			if score < bestScore {
				bestScore = score
				bestFeature = feature
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold >= hi {
					bestThreshold = lo
				}
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		sum += p * p
	}
	return 1 - sum
}

func distribution(counts []int, n int) []float64 {
	probs := make([]float64, len(counts))
	for i, c := range counts {
		probs[i] = float64(c) / float64(n)
	}
	return probs
}
