// Package forest implements a random forest regression engine with
// categorical and continuous splits, deterministic per-tree seeding and
// law-of-total-variance prediction aggregation. It is the model core behind
// the surrogate package.
package forest

import (
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

// Node is one node of a regression tree. The tree is a closed two-variant
// structure: either Leaf is set and the prediction fields are valid, or
// Left/Right and the split fields are.
type Node struct {
	Left  *Node
	Right *Node

	// Split fields, valid when Leaf is false.
	SplitDim    int
	SplitVal    float64 // midpoint threshold for continuous dimensions
	CatLeft     uint64  // bitmask of category values routed left
	Categorical bool

	// Prediction fields, valid when Leaf is true. Variance is the unbiased
	// sample variance of the targets reaching the leaf, 0 for a singleton.
	Leaf     bool
	Samples  int
	Mean     float64
	Variance float64
}

// Tree is a single regression tree of the ensemble.
type Tree struct {
	Root *Node

	nodes int
}

type treeParams struct {
	types           []int
	maxFeatures     int
	minSamplesSplit int
	minSamplesLeaf  int
	maxDepth        int
	maxNodes        int
	epsPurity       float64
}

type buildItem struct {
	node  *Node
	rows  []int
	depth int
}

// buildTree grows a regression tree over the rows of X referenced by inx.
// The rng drives candidate feature subsampling and must be owned by this
// tree only; a fixed rng yields a bit-identical tree.
func buildTree(X [][]float64, y []float64, inx []int, p treeParams, rng *rand.Rand) *Tree {
	t := &Tree{Root: &Node{}, nodes: 1}

	if len(inx) == 0 {
		// legal only for an empty training set; the splitter never
		// produces an interior zero-row child
		t.Root.Leaf = true
		return t
	}

	sp := newSplitter(X, y, p, rng)

	stack := []buildItem{{node: t.Root, rows: inx}}
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := w.node

		n.Samples = len(w.rows)
		n.Mean, n.Variance = leafStats(y, w.rows)

		if len(w.rows) < p.minSamplesSplit ||
			len(w.rows) < 2*p.minSamplesLeaf ||
			(p.maxDepth > 0 && w.depth >= p.maxDepth) ||
			(p.maxNodes > 0 && t.nodes+2 > p.maxNodes) ||
			n.Variance == 0 {
			n.Leaf = true
			continue
		}

		best, ok := sp.bestSplit(w.rows)
		if !ok {
			n.Leaf = true
			continue
		}

		left, right := partition(X, w.rows, best)
		if len(left) < p.minSamplesLeaf || len(right) < p.minSamplesLeaf {
			n.Leaf = true
			continue
		}

		n.SplitDim = best.dim
		n.SplitVal = best.threshold
		n.CatLeft = best.catLeft
		n.Categorical = best.categorical
		n.Left = &Node{}
		n.Right = &Node{}
		t.nodes += 2

		stack = append(stack,
			buildItem{node: n.Right, rows: right, depth: w.depth + 1},
			buildItem{node: n.Left, rows: left, depth: w.depth + 1},
		)
	}

	return t
}

// Predict descends from the root to a leaf and returns its mean and
// variance.
func (t *Tree) Predict(x []float64) (mean, variance float64) {
	n := t.Root
	for !n.Leaf {
		if goesLeft(x, n.SplitDim, n.SplitVal, n.CatLeft, n.Categorical) {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Mean, n.Variance
}

// Leaves returns every leaf node of the tree.
func (t *Tree) Leaves() []*Node {
	var leaves []*Node
	stack := []*Node{t.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Leaf {
			leaves = append(leaves, n)
			continue
		}
		stack = append(stack, n.Left, n.Right)
	}
	return leaves
}

// NumNodes returns the total node count, leaves included.
func (t *Tree) NumNodes() int { return t.nodes }

func goesLeft(x []float64, dim int, threshold float64, catLeft uint64, categorical bool) bool {
	v := x[dim]
	if categorical {
		c := int64(v)
		if c < 0 || c > 63 {
			// unseen or out-of-range category values route right
			return false
		}
		return catLeft&(1<<uint64(c)) != 0
	}
	return v <= threshold
}

func leafStats(y []float64, rows []int) (mean, variance float64) {
	if len(rows) == 0 {
		return 0, 0
	}
	vals := make([]float64, len(rows))
	for i, r := range rows {
		vals[i] = y[r]
	}
	if len(vals) == 1 {
		return vals[0], 0
	}
	return stat.MeanVariance(vals, nil)
}

func partition(X [][]float64, rows []int, s split) (left, right []int) {
	for _, r := range rows {
		if s.goesLeft(X[r]) {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}
