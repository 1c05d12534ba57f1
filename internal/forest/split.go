package forest

import (
	"math"
	"math/rand"
	"sort"
)

// constEps is the spacing below which two feature values are treated as
// equal, matching the usual CART implementation tolerance.
const constEps = 1e-7

type split struct {
	dim         int
	threshold   float64
	catLeft     uint64
	categorical bool
	gain        float64 // reduction in residual sum of squares
}

func (s split) goesLeft(x []float64) bool {
	return goesLeft(x, s.dim, s.threshold, s.catLeft, s.categorical)
}

type splitter struct {
	X    [][]float64
	y    []float64
	p    treeParams
	rng  *rand.Rand
	dims []int
}

func newSplitter(X [][]float64, y []float64, p treeParams, rng *rand.Rand) *splitter {
	dims := make([]int, len(p.types))
	for i := range dims {
		dims[i] = i
	}
	return &splitter{X: X, y: y, p: p, rng: rng, dims: dims}
}

// bestSplit returns the split minimizing the weighted child residual sum of
// squares over a random candidate subset of dimensions. A split is only
// reported when its RSS reduction exceeds epsPurity. Ties are broken by the
// lowest dimension index and then the lowest threshold (or partition mask),
// so a fixed rng yields a fixed tree.
func (s *splitter) bestSplit(rows []int) (split, bool) {
	parentRSS := rss(s.y, rows)

	best := split{gain: s.p.epsPurity}
	found := false

	for _, dim := range s.sampleDims() {
		var sp split
		var ok bool
		if s.p.types[dim] > 0 {
			sp, ok = s.bestCategoricalSplit(dim, rows, parentRSS)
		} else {
			sp, ok = s.bestContinuousSplit(dim, rows, parentRSS)
		}
		if ok && sp.gain > best.gain {
			best = sp
			found = true
		}
	}

	return best, found
}

// sampleDims draws maxFeatures candidate dimensions without replacement via
// a partial Fisher-Yates shuffle and returns them in ascending order.
// maxFeatures <= 0 means all dimensions.
func (s *splitter) sampleDims() []int {
	k := s.p.maxFeatures
	if k <= 0 || k >= len(s.dims) {
		return s.dims
	}

	cand := make([]int, 0, k)
	j := len(s.dims) - 1
	for len(cand) < k {
		r := s.rng.Intn(j + 1)
		s.dims[r], s.dims[j] = s.dims[j], s.dims[r]
		cand = append(cand, s.dims[j])
		j--
	}
	sort.Ints(cand)
	return cand
}

type xy struct {
	x, y float64
}

func (s *splitter) bestContinuousSplit(dim int, rows []int, parentRSS float64) (split, bool) {
	n := len(rows)
	pairs := make([]xy, n)
	for i, r := range rows {
		pairs[i] = xy{s.X[r][dim], s.y[r]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].x < pairs[j].x })

	if pairs[n-1].x <= pairs[0].x+constEps {
		return split{}, false // constant dimension
	}

	var sTot, ssTot float64
	for _, p := range pairs {
		sTot += p.y
		ssTot += p.y * p.y
	}

	best := split{dim: dim, gain: math.Inf(-1)}
	found := false

	var sL, ssL float64
	for i := 1; i < n; i++ {
		sL += pairs[i-1].y
		ssL += pairs[i-1].y * pairs[i-1].y

		if pairs[i].x <= pairs[i-1].x+constEps {
			continue // cannot split between equal values
		}
		nL, nR := i, n-i
		if nL < s.p.minSamplesLeaf || nR < s.p.minSamplesLeaf {
			continue
		}

		sR, ssR := sTot-sL, ssTot-ssL
		rssL := ssL - sL*sL/float64(nL)
		rssR := ssR - sR*sR/float64(nR)

		// strict improvement keeps the lowest qualifying threshold
		if gain := parentRSS - rssL - rssR; gain > best.gain {
			best.gain = gain
			best.threshold = (pairs[i-1].x + pairs[i].x) / 2
			found = true
		}
	}

	return best, found
}

type catGroup struct {
	val   uint64
	n     int
	sum   float64
	sumSq float64
}

// bestCategoricalSplit evaluates every non-trivial binary partition of the
// category values observed at this node. The lowest observed value is
// pinned to the left side so each partition is visited exactly once, in
// ascending mask order for deterministic tie-breaking.
func (s *splitter) bestCategoricalSplit(dim int, rows []int, parentRSS float64) (split, bool) {
	groups := groupByCategory(s.X, s.y, rows, dim)
	m := len(groups)
	if m < 2 {
		return split{}, false // constant dimension
	}

	nTot := len(rows)

	best := split{dim: dim, categorical: true, gain: math.Inf(-1)}
	found := false

	// mask bit i set routes groups[i] left; bit 0 is always set
	for mask := uint64(1); mask < uint64(1)<<uint(m)-1; mask += 2 {
		var nL int
		var sL, ssL float64
		for i := 0; i < m; i++ {
			if mask&(1<<uint(i)) != 0 {
				nL += groups[i].n
				sL += groups[i].sum
				ssL += groups[i].sumSq
			}
		}
		nR := nTot - nL
		if nL < s.p.minSamplesLeaf || nR < s.p.minSamplesLeaf {
			continue
		}

		var sTot, ssTot float64
		for i := 0; i < m; i++ {
			sTot += groups[i].sum
			ssTot += groups[i].sumSq
		}
		sR, ssR := sTot-sL, ssTot-ssL
		rssL := ssL - sL*sL/float64(nL)
		rssR := ssR - sR*sR/float64(nR)

		if gain := parentRSS - rssL - rssR; gain > best.gain {
			best.gain = gain
			best.catLeft = valueMask(groups, mask)
			found = true
		}
	}

	return best, found
}

// groupByCategory aggregates target moments per distinct category value,
// returned in ascending value order.
func groupByCategory(X [][]float64, y []float64, rows []int, dim int) []catGroup {
	byVal := make(map[uint64]*catGroup)
	for _, r := range rows {
		v := uint64(X[r][dim])
		g, ok := byVal[v]
		if !ok {
			g = &catGroup{val: v}
			byVal[v] = g
		}
		g.n++
		g.sum += y[r]
		g.sumSq += y[r] * y[r]
	}

	groups := make([]catGroup, 0, len(byVal))
	for _, g := range byVal {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].val < groups[j].val })
	return groups
}

// valueMask translates a partition mask over group indices into a bitmask
// over category values.
func valueMask(groups []catGroup, mask uint64) uint64 {
	var left uint64
	for i, g := range groups {
		if mask&(1<<uint(i)) != 0 {
			left |= 1 << g.val
		}
	}
	return left
}

// rss is the residual sum of squares of the targets at the given rows.
func rss(y []float64, rows []int) float64 {
	var s, ss float64
	for _, r := range rows {
		s += y[r]
		ss += y[r] * y[r]
	}
	return ss - s*s/float64(len(rows))
}
