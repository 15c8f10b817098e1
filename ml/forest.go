package ml

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// KindRandomForest identifies forest artifacts.
const KindRandomForest = "random_forest"

// ForestParams configures a RandomForest.
type ForestParams struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Bootstrap       bool
	Seed            int64
	// Workers bounds concurrent tree fits; 0 uses GOMAXPROCS.
	Workers int
}

// DefaultForestParams returns 200 bootstrapped trees with seed 42.
func DefaultForestParams() ForestParams {
	return ForestParams{
		NEstimators:     200,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Seed:            42,
	}
}

// RandomForest averages bagged regression trees.
type RandomForest struct {
	params       ForestParams
	featureNames []string
	trees        []*RegressionTree
	trainedAt    time.Time
}

// NewRandomForest returns an untrained forest. featureNames fixes the input width
// and may be nil, in which case the width is taken from the training set.
func NewRandomForest(params ForestParams, featureNames []string) *RandomForest {
	if params.NEstimators <= 0 {
		params.NEstimators = DefaultForestParams().NEstimators
	}
	if params.Workers <= 0 {
		params.Workers = runtime.GOMAXPROCS(0)
	}
	return &RandomForest{
		params:       params,
		featureNames: append([]string(nil), featureNames...),
	}
}

// Fit trains every tree. Each tree's seed is drawn up front from the forest
// seed, so the result does not depend on Workers.
func (f *RandomForest) Fit(ctx context.Context, features [][]float64, targets []float64) error {
	if err := checkTrainingSet(features, targets); err != nil {
		return err
	}
	width := len(features[0])
	if len(f.featureNames) == 0 {
		f.featureNames = make([]string, width)
		for i := range f.featureNames {
			f.featureNames[i] = fmt.Sprintf("f%d", i)
		}
	}
	if len(f.featureNames) != width {
		return fmt.Errorf("expected %d features, got %d", len(f.featureNames), width)
	}

	master := rand.New(rand.NewSource(f.params.Seed))
	seeds := make([]int64, f.params.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	treeParams := TreeParams{
		MaxDepth:        f.params.MaxDepth,
		MinSamplesSplit: f.params.MinSamplesSplit,
		MinSamplesLeaf:  f.params.MinSamplesLeaf,
		MaxFeatures:     f.params.MaxFeatures,
	}
	trees := make([]*RegressionTree, f.params.NEstimators)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.params.Workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rnd := rand.New(rand.NewSource(seeds[i]))
			tree := NewRegressionTree(treeParams)
			tree.fit(features, targets, f.sample(len(features), rnd), rnd)
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fit forest: %w", err)
	}

	f.trees = trees
	f.trainedAt = time.Now().UTC()
	return nil
}

// sample draws a bootstrap sample of row indices, or every row when bagging is off.
func (f *RandomForest) sample(n int, rnd *rand.Rand) []int {
	indices := make([]int, n)
	for i := range indices {
		if f.params.Bootstrap {
			indices[i] = rnd.Intn(n)
		} else {
			indices[i] = i
		}
	}
	return indices
}

// Predict returns the mean of the tree predictions.
func (f *RandomForest) Predict(features []float64) (float64, error) {
	if len(f.trees) == 0 {
		return 0, errors.New("model not trained")
	}
	if len(features) != len(f.featureNames) {
		return 0, fmt.Errorf("expected %d features, got %d", len(f.featureNames), len(features))
	}
	sum := 0.0
	for _, tree := range f.trees {
		value, err := tree.Predict(features)
		if err != nil {
			return 0, err
		}
		sum += value
	}
	return sum / float64(len(f.trees)), nil
}

// Save writes the forest artifact to path.
func (f *RandomForest) Save(path string) error {
	if len(f.trees) == 0 {
		return errors.New("model not trained")
	}
	envelope := &modelEnvelope{
		Kind:         KindRandomForest,
		FeatureNames: f.featureNames,
		Trees:        make([][]TreeNode, len(f.trees)),
		TrainedAt:    f.trainedAt,
		Seed:         f.params.Seed,
	}
	for i, tree := range f.trees {
		envelope.Trees[i] = tree.nodes
	}
	return writeEnvelope(path, envelope)
}

// Load replaces the forest with the artifact at path.
func (f *RandomForest) Load(path string) error {
	envelope, err := readEnvelope(path)
	if err != nil {
		return err
	}
	return f.restore(envelope)
}

func (f *RandomForest) restore(envelope *modelEnvelope) error {
	if envelope.Kind != KindRandomForest {
		return fmt.Errorf("model kind %q is not %q", envelope.Kind, KindRandomForest)
	}
	if len(envelope.Trees) == 0 {
		return errors.New("model has no trees")
	}
	trees := make([]*RegressionTree, len(envelope.Trees))
	for i, nodes := range envelope.Trees {
		if len(nodes) == 0 {
			return fmt.Errorf("tree %d is empty", i)
		}
		trees[i] = &RegressionTree{nodes: nodes}
	}
	f.trees = trees
	f.featureNames = envelope.FeatureNames
	f.trainedAt = envelope.TrainedAt
	f.params.Seed = envelope.Seed
	f.params.NEstimators = len(trees)
	return nil
}

// Info summarises the fitted forest.
func (f *RandomForest) Info() ModelInfo {
	nodes := 0
	for _, tree := range f.trees {
		nodes += tree.Nodes()
	}
	return ModelInfo{
		Kind:         KindRandomForest,
		Trees:        len(f.trees),
		Nodes:        nodes,
		FeatureNames: append([]string(nil), f.featureNames...),
		TrainedAt:    f.trainedAt,
		Seed:         f.params.Seed,
	}
}
