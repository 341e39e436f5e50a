// internal/mlmodel/tree.go
package mlmodel

import (
	"math"
	"math/rand"
	"sort"
)

// Node is one node of a regression tree. Leaf nodes have Left == -1.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree is a CART regression tree stored as a flat node slice.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for a single feature vector.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left == -1 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeBuilder struct {
	X           [][]float64
	y           []float64
	maxDepth    int
	minLeaf     int
	maxFeatures int
	rng         *rand.Rand
	nodes       []Node
}

// growTree fits a regression tree on the rows indexed by idx.
func growTree(X [][]float64, y []float64, idx []int, maxDepth, minLeaf, maxFeatures int, rng *rand.Rand) *Tree {
	b := &treeBuilder{
		X:           X,
		y:           y,
		maxDepth:    maxDepth,
		minLeaf:     minLeaf,
		maxFeatures: maxFeatures,
		rng:         rng,
	}
	b.build(idx, 0)
	return &Tree{Nodes: b.nodes}
}

func (b *treeBuilder) build(idx []int, depth int) int {
	mean := meanAt(b.y, idx)

	nodeID := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Left: -1, Right: -1, Value: mean})

	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf {
		return nodeID
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return nodeID
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < b.minLeaf || len(right) < b.minLeaf {
		return nodeID
	}

	b.nodes[nodeID].Feature = feature
	b.nodes[nodeID].Threshold = threshold
	b.nodes[nodeID].Left = b.build(left, depth+1)
	b.nodes[nodeID].Right = b.build(right, depth+1)
	return nodeID
}

// bestSplit scans a random feature subset for the split with the largest
// sum-of-squares reduction.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	nFeatures := len(b.X[idx[0]])
	candidates := b.rng.Perm(nFeatures)
	if b.maxFeatures < nFeatures {
		candidates = candidates[:b.maxFeatures]
	}

	total := 0.0
	for _, i := range idx {
		total += b.y[i]
	}
	n := float64(len(idx))

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	order := make([]int, len(idx))
	for _, f := range candidates {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool {
			return b.X[order[a]][f] < b.X[order[c]][f]
		})

		leftSum := 0.0
		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			leftSum += b.y[i]

			cur, next := b.X[i][f], b.X[order[pos+1]][f]
			if cur == next {
				continue
			}
			nl := float64(pos + 1)
			nr := n - nl
			if int(nl) < b.minLeaf || int(nr) < b.minLeaf {
				continue
			}
			rightSum := total - leftSum
			// SSE reduction up to a constant: sum_l^2/n_l + sum_r^2/n_r - total^2/n
			gain := leftSum*leftSum/nl + rightSum*rightSum/nr - total*total/n
			if gain > bestGain+1e-12 {
				bestGain = gain
				bestFeature = f
				bestThreshold = (cur + next) / 2
			}
		}
	}

	if bestFeature == -1 || math.IsNaN(bestThreshold) {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}
