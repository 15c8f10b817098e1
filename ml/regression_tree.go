package ml

import (
	"errors"
	"math/rand"
	"sort"
)

// TreeParams bounds tree growth. Zero MaxDepth grows until leaves are pure,
// zero MaxFeatures considers every feature at each split.
type TreeParams struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
}

// RegressionTree is a CART regressor stored as a flat node array; node 0 is the root.
type RegressionTree struct {
	nodes  []TreeNode
	params TreeParams
}

// TreeNode is one node of the flattened tree. Leaves carry Value.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

// NewRegressionTree creates an unfitted tree.
func NewRegressionTree(params TreeParams) *RegressionTree {
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}
	if params.MinSamplesLeaf < 1 {
		params.MinSamplesLeaf = 1
	}
	return &RegressionTree{params: params}
}

// Fit grows the tree on every row.
func (t *RegressionTree) Fit(features [][]float64, targets []float64) error {
	if err := checkTrainingSet(features, targets); err != nil {
		return err
	}
	indices := make([]int, len(features))
	for i := range indices {
		indices[i] = i
	}
	t.fit(features, targets, indices, nil)
	return nil
}

// fit grows the tree on the rows named by indices, which may repeat.
// rnd drives feature subsampling and may be nil when MaxFeatures is 0.
func (t *RegressionTree) fit(features [][]float64, targets []float64, indices []int, rnd *rand.Rand) {
	b := &treeBuilder{
		features:  features,
		targets:   targets,
		nFeatures: len(features[0]),
		params:    t.params,
		rnd:       rnd,
	}
	t.nodes = make([]TreeNode, 0, 2*len(indices)/t.params.MinSamplesLeaf+1)
	t.build(b, indices, 0)
}

// Predict walks the tree for one feature row.
func (t *RegressionTree) Predict(features []float64) (float64, error) {
	if len(t.nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	idx := 0
	for {
		node := t.nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(t.nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// Nodes returns the number of nodes, leaves included.
func (t *RegressionTree) Nodes() int {
	return len(t.nodes)
}

// Depth returns the length of the longest root-to-leaf path.
func (t *RegressionTree) Depth() int {
	if len(t.nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := t.nodes[idx]
		if node.IsLeaf {
			return 0
		}
		return 1 + max(walk(node.LeftChild), walk(node.RightChild))
	}
	return walk(0)
}

// build appends the subtree for indices and returns the index of its root.
// The parent is appended first and patched once both children exist.
func (t *RegressionTree) build(b *treeBuilder, indices []int, depth int) int {
	mean := b.mean(indices)
	self := len(t.nodes)
	t.nodes = append(t.nodes, leafNode(mean))

	if b.shouldStop(indices, depth) {
		return self
	}
	split, ok := b.bestSplit(indices)
	if !ok {
		return self
	}

	left, right := b.partition(indices, split)
	leftIdx := t.build(b, left, depth+1)
	rightIdx := t.build(b, right, depth+1)
	t.nodes[self] = TreeNode{
		FeatureIdx: split.feature,
		Threshold:  split.threshold,
		LeftChild:  leftIdx,
		RightChild: rightIdx,
		Value:      mean,
	}
	return self
}

func leafNode(value float64) TreeNode {
	return TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      value,
		IsLeaf:     true,
	}
}

type treeBuilder struct {
	features  [][]float64
	targets   []float64
	nFeatures int
	params    TreeParams
	rnd       *rand.Rand
}

type treeSplit struct {
	feature   int
	threshold float64
}

func (b *treeBuilder) mean(indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range indices {
		sum += b.targets[i]
	}
	return sum / float64(len(indices))
}

func (b *treeBuilder) shouldStop(indices []int, depth int) bool {
	if len(indices) < b.params.MinSamplesSplit || len(indices) < 2*b.params.MinSamplesLeaf {
		return true
	}
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return true
	}
	first := b.targets[indices[0]]
	for _, i := range indices[1:] {
		if b.targets[i] != first {
			return false
		}
	}
	return true
}

func (b *treeBuilder) candidateFeatures() []int {
	if b.params.MaxFeatures <= 0 || b.params.MaxFeatures >= b.nFeatures || b.rnd == nil {
		all := make([]int, b.nFeatures)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rnd.Perm(b.nFeatures)[:b.params.MaxFeatures]
}

// bestSplit minimises the summed squared error of the two children. For a fixed
// node that is the same as maximising sumL²/nL + sumR²/nR.
func (b *treeBuilder) bestSplit(indices []int) (treeSplit, bool) {
	n := len(indices)
	total := 0.0
	for _, i := range indices {
		total += b.targets[i]
	}
	parentScore := total * total / float64(n)

	best := treeSplit{feature: -1}
	bestScore := parentScore
	sorted := make([]int, n)

	for _, feature := range b.candidateFeatures() {
		copy(sorted, indices)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.features[sorted[a]][feature] < b.features[sorted[c]][feature]
		})

		leftSum := 0.0
		for pos := 0; pos < n-1; pos++ {
			leftSum += b.targets[sorted[pos]]
			cur := b.features[sorted[pos]][feature]
			next := b.features[sorted[pos+1]][feature]
			if cur == next {
				continue
			}
			nLeft := pos + 1
			nRight := n - nLeft
			if nLeft < b.params.MinSamplesLeaf || nRight < b.params.MinSamplesLeaf {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(nLeft) + rightSum*rightSum/float64(nRight)
			if score > bestScore+1e-12 {
				bestScore = score
				threshold := cur + (next-cur)/2
				if threshold >= next {
					threshold = cur
				}
				best = treeSplit{feature: feature, threshold: threshold}
			}
		}
	}
	return best, best.feature >= 0
}

func (b *treeBuilder) partition(indices []int, split treeSplit) ([]int, []int) {
	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if b.features[i][split.feature] <= split.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func checkTrainingSet(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for _, row := range features {
		if len(row) != width {
			return errors.New("feature vectors have different lengths")
		}
	}
	return nil
}
