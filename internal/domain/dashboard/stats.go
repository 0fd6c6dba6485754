package dashboard

import (
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Float is a float64 that encodes NaN and infinities as JSON null.
type Float float64

// IsNaN reports whether f is undefined.
func (f Float) IsNaN() bool { return math.IsNaN(float64(f)) }

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
}

// mean returns NaN for an empty sample.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Mean(xs, nil)
}

// quantile uses linear interpolation between closest ranks over sorted xs,
// so quantile(xs, 0.5) is the conventional median.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	h := float64(n-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= n {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// median copies xs before sorting.
func median(xs []float64) float64 {
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	return quantile(s, 0.5)
}

// mode returns the most frequent value, preferring the lowest on ties.
func mode(xs []int) (int, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	counts := make(map[int]int, len(xs))
	for _, x := range xs {
		counts[x]++
	}
	best, bestN := 0, 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best, true
}

// pearson returns the correlation of the paired samples, or NaN when fewer
// than two pairs exist or either side has zero variance.
func pearson(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return math.NaN()
	}
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

// correlationMatrix computes pairwise-complete Pearson correlations between
// the columns of data, where NaN marks a missing observation.
func correlationMatrix(data [][]float64) *mat.SymDense {
	k := len(data)
	if k == 0 {
		return nil
	}
	m := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			x, y := pairwise(data[i], data[j])
			r := pearson(x, y)
			if i == j && !math.IsNaN(r) {
				r = 1
			}
			m.SetSym(i, j, r)
		}
	}
	return m
}

func pairwise(a, b []float64) ([]float64, []float64) {
	x := make([]float64, 0, len(a))
	y := make([]float64, 0, len(b))
	for n := range a {
		if math.IsNaN(a[n]) || math.IsNaN(b[n]) {
			continue
		}
		x = append(x, a[n])
		y = append(y, b[n])
	}
	return x, y
}

// histogram bins xs into equal-width bins spanning [min, max]; the last bin
// is closed on the right. A constant sample is centred in a unit range.
func histogram(xs []float64, bins int) ([]float64, []int) {
	if len(xs) == 0 || bins <= 0 {
		return []float64{}, []int{}
	}
	lo, hi := floats.Min(xs), floats.Max(xs)
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges := floats.Span(make([]float64, bins+1), lo, hi)
	counts := make([]int, bins)
	width := (hi - lo) / float64(bins)
	for _, x := range xs {
		i := int((x - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	return edges, counts
}
