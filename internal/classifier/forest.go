package classifier

import (
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649015329

type treeNode struct {
	feature int
	split   float64
	left    *treeNode
	right   *treeNode
	size    int
}

func (n *treeNode) leaf() bool {
	return n.left == nil
}

// Forest is an isolation forest. It is read-only once fitted.
type Forest struct {
	trees      []*treeNode
	sampleSize int
	offset     float64
	features   int
}

func fitForest(data [][]float64, trees, maxSamples int, contamination float64, rng *rand.Rand) *Forest {
	n := len(data)
	psi := maxSamples
	if psi <= 0 || psi > n {
		psi = n
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))
	f := &Forest{
		trees:      make([]*treeNode, 0, trees),
		sampleSize: psi,
		features:   len(data[0]),
	}
	for i := 0; i < trees; i++ {
		perm := rng.Perm(n)[:psi]
		sample := make([][]float64, psi)
		for j, idx := range perm {
			sample[j] = data[idx]
		}
		f.trees = append(f.trees, buildTree(sample, 0, heightLimit, rng))
	}
	scores := make([]float64, n)
	for i, x := range data {
		scores[i] = f.ScoreSample(x)
	}
	f.offset = percentile(scores, 100*contamination)
	return f
}

func buildTree(sample [][]float64, depth, limit int, rng *rand.Rand) *treeNode {
	if depth >= limit || len(sample) <= 1 {
		return &treeNode{size: len(sample)}
	}
	dims := len(sample[0])
	for _, feature := range rng.Perm(dims) {
		lo, hi := sample[0][feature], sample[0][feature]
		for _, x := range sample[1:] {
			if x[feature] < lo {
				lo = x[feature]
			}
			if x[feature] > hi {
				hi = x[feature]
			}
		}
		if hi <= lo {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, x := range sample {
			if x[feature] < split {
				left = append(left, x)
			} else {
				right = append(right, x)
			}
		}
		return &treeNode{
			feature: feature,
			split:   split,
			left:    buildTree(left, depth+1, limit, rng),
			right:   buildTree(right, depth+1, limit, rng),
			size:    len(sample),
		}
	}
	return &treeNode{size: len(sample)}
}

func pathLength(x []float64, n *treeNode) float64 {
	depth := 0.0
	for !n.leaf() {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean unsuccessful-search depth of a BST with n keys.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// ScoreSample is the opposite of the anomaly score of the original paper, in [-1, 0).
func (f *Forest) ScoreSample(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	total := 0.0
	for _, t := range f.trees {
		total += pathLength(x, t)
	}
	mean := total / float64(len(f.trees))
	cn := averagePathLength(f.sampleSize)
	if cn <= 0 {
		// a single-sample forest cannot separate anything
		return -0.5
	}
	return -math.Pow(2, -mean/cn)
}

// Decision is ScoreSample shifted so that negative values are outliers.
func (f *Forest) Decision(x []float64) float64 {
	return f.ScoreSample(x) - f.offset
}

func (f *Forest) Offset() float64 {
	return f.offset
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
