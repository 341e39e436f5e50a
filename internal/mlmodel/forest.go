// internal/mlmodel/forest.go
package mlmodel

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Forest is a bagged ensemble of regression trees. Predictions are the
// unweighted mean over trees.
type Forest struct {
	Trees []Tree `json:"trees"`
}

// Predict returns the ensemble estimate for a single feature vector.
func (f *Forest) Predict(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees))
}

// TrainConfig tunes forest fitting.
type TrainConfig struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
	Seed     int64
}

// TrainForest fits a bagged-tree regressor: each tree sees a bootstrap
// sample of the rows and a random third of the features per split.
func TrainForest(X [][]float64, y []float64, cfg TrainConfig) (*Forest, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("training set has %d rows, %d targets", len(X), len(y))
	}
	for i, row := range X {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("non-finite feature value in row %d", i)
			}
		}
	}

	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 10
	}
	if cfg.MinLeaf <= 0 {
		cfg.MinLeaf = 1
	}

	nFeatures := len(X[0])
	maxFeatures := nFeatures / 3
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	forest := &Forest{Trees: make([]Tree, 0, cfg.Trees)}
	for t := 0; t < cfg.Trees; t++ {
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = rng.Intn(len(X))
		}
		tree := growTree(X, y, idx, cfg.MaxDepth, cfg.MinLeaf, maxFeatures, rng)
		forest.Trees = append(forest.Trees, *tree)
	}
	return forest, nil
}

// TrainTestSplit shuffles rows and holds out testFraction of them.
func TrainTestSplit(X [][]float64, y []float64, testFraction float64, seed int64) (trainX [][]float64, testX [][]float64, trainY []float64, testY []float64) {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(X))

	nTest := int(math.Round(float64(len(X)) * testFraction))
	if nTest < 1 && len(X) > 1 {
		nTest = 1
	}

	for i, p := range perm {
		if i < nTest {
			testX = append(testX, X[p])
			testY = append(testY, y[p])
		} else {
			trainX = append(trainX, X[p])
			trainY = append(trainY, y[p])
		}
	}
	return trainX, testX, trainY, testY
}

// MeanAbsoluteError computes MAE between predictions and actuals.
func MeanAbsoluteError(pred, actual []float64) float64 {
	if len(pred) == 0 || len(pred) != len(actual) {
		return math.NaN()
	}
	sum := 0.0
	for i := range pred {
		sum += math.Abs(pred[i] - actual[i])
	}
	return sum / float64(len(pred))
}

// Median returns the middle value of vals; for even counts, the average of
// the two middle values. Matches the aggregation used for SOH summaries.
func Median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
