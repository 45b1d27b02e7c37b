// Package classify turns continuous rasters into ordinal score rasters:
// Fisher-Jenks natural breaks with a slice into classes, and fixed
// threshold tables remapped by range.
package classify

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/grid"
)

// group is a run of consecutive sorted values treated as one unit by the
// optimizer. Without sampling each group holds a single distinct value.
type group struct {
	weight float64
	sum    float64
	sumSq  float64
	max    float64
}

// groups collapses sorted values into distinct-value groups, then merges
// neighbours into at most limit groups of roughly equal weight. limit <= 0
// disables merging.
func groups(sorted []float64, limit int) []group {
	var distinct []group
	for _, v := range sorted {
		n := len(distinct)
		if n > 0 && distinct[n-1].max == v {
			distinct[n-1].weight++
			distinct[n-1].sum += v
			distinct[n-1].sumSq += v * v
			continue
		}
		distinct = append(distinct, group{weight: 1, sum: v, sumSq: v * v, max: v})
	}
	if limit <= 0 || len(distinct) <= limit {
		return distinct
	}

	// Quantile grouping: cut the cumulative weight into limit equal parts.
	total := float64(len(sorted))
	out := make([]group, 0, limit)
	var cur group
	var cum float64
	next := 1
	for _, d := range distinct {
		cur.weight += d.weight
		cur.sum += d.sum
		cur.sumSq += d.sumSq
		cur.max = d.max
		cum += d.weight
		if cum >= total*float64(next)/float64(limit) {
			out = append(out, cur)
			cur = group{}
			for next < limit && cum >= total*float64(next)/float64(limit) {
				next++
			}
		}
	}
	if cur.weight > 0 {
		out = append(out, cur)
	}
	return out
}

// Breaks computes Fisher-Jenks natural breaks for values into at most k
// classes, minimising the total within-class sum of squared deviations.
// It returns the inclusive upper bound of each class in ascending order;
// the last break is always the maximum value. When there are fewer
// distinct values than k, each distinct value is its own class.
//
// maxGroups bounds the optimizer's input: above it, consecutive values are
// merged into equal-weight quantile groups so the result stays
// deterministic. Zero means no bound.
func Breaks(values []float64, k, maxGroups int) ([]float64, error) {
	if k < 1 {
		return nil, eris.Errorf("classify: class count must be positive, got %d", k)
	}
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return nil, eris.New("classify: no values to classify")
	}
	sort.Float64s(sorted)

	gs := groups(sorted, maxGroups)
	m := len(gs)
	if m <= k {
		out := make([]float64, m)
		for i, g := range gs {
			out[i] = g.max
		}
		return out, nil
	}

	// Prefix sums over groups (1-based).
	w := make([]float64, m+1)
	s := make([]float64, m+1)
	ss := make([]float64, m+1)
	for i, g := range gs {
		w[i+1] = w[i] + g.weight
		s[i+1] = s[i] + g.sum
		ss[i+1] = ss[i] + g.sumSq
	}
	// ssd is the sum of squared deviations of groups i..j (1-based, inclusive).
	ssd := func(i, j int) float64 {
		ww := w[j] - w[i-1]
		sm := s[j] - s[i-1]
		d := ss[j] - ss[i-1] - sm*sm/ww
		if d < 0 {
			return 0
		}
		return d
	}

	// cost[c][j]: best cost of splitting groups 1..j into c+1 classes.
	// split[c][j]: first group index of the last class in that solution.
	cost := make([][]float64, k)
	split := make([][]int, k)
	for c := range cost {
		cost[c] = make([]float64, m+1)
		split[c] = make([]int, m+1)
	}
	for j := 1; j <= m; j++ {
		cost[0][j] = ssd(1, j)
		split[0][j] = 1
	}
	for c := 1; c < k; c++ {
		for j := c + 1; j <= m; j++ {
			best := math.Inf(1)
			bestI := c + 1
			for i := c + 1; i <= j; i++ {
				v := cost[c-1][i-1] + ssd(i, j)
				if v < best {
					best = v
					bestI = i
				}
			}
			cost[c][j] = best
			split[c][j] = bestI
		}
	}

	out := make([]float64, k)
	j := m
	for c := k - 1; c >= 0; c-- {
		out[c] = gs[j-1].max
		j = split[c][j] - 1
	}
	return out, nil
}

// Slice assigns every data cell of r the 1-based index of the first break
// that is >= the cell value. No-data cells stay no-data.
func Slice(r *grid.Raster, breaks []float64, name string) (*grid.Raster, error) {
	if len(breaks) == 0 {
		return nil, eris.Errorf("classify: slice %q: no breaks", r.Name)
	}
	out := grid.NewRaster(name, r.Grid)
	for i, v := range r.Cells {
		if grid.IsNoData(v) {
			continue
		}
		x := float64(v)
		cls := sort.Search(len(breaks), func(b int) bool { return x <= breaks[b] })
		if cls == len(breaks) {
			cls = len(breaks) - 1
		}
		out.Cells[i] = float32(cls + 1)
	}
	return out, nil
}

// NaturalBreaks classifies r into k natural-breaks classes scored 1..k and
// returns the score raster with the breaks used.
func NaturalBreaks(r *grid.Raster, k, maxGroups int, name string) (*grid.Raster, []float64, error) {
	values := make([]float64, 0, len(r.Cells))
	for _, v := range r.Cells {
		if !grid.IsNoData(v) {
			values = append(values, float64(v))
		}
	}
	breaks, err := Breaks(values, k, maxGroups)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "classify: natural breaks %q", r.Name)
	}
	out, err := Slice(r, breaks, name)
	if err != nil {
		return nil, nil, err
	}
	return out, breaks, nil
}
