package ranking

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Global is the region name of the ranking over every candidate.
const Global = "All"

// Subset names.
const (
	SubsetAll       = "all"
	SubsetTopThird  = "top_third"
	SubsetTopN      = "top_n"
	SubsetSourceTop = "source_top"
)

// Rank sorts a copy of cands by descending score and numbers them 1..n in
// that order. Equal scores keep ascending ID order.
func Rank(cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return lessID(out[i].ID, out[j].ID)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil && x != y {
		return x < y
	}
	return a < b
}

// Ranking is one ordered candidate list.
type Ranking struct {
	Family     Family
	Region     string
	Candidates []Candidate
}

// Len returns the number of ranked candidates.
func (r *Ranking) Len() int { return len(r.Candidates) }

// TopThird returns the first floor(n/3) candidates.
func (r *Ranking) TopThird() []Candidate {
	return r.Candidates[:len(r.Candidates)/3]
}

// Top returns the first min(n, len) candidates.
func (r *Ranking) Top(n int) []Candidate {
	return r.Candidates[:min(max(n, 0), len(r.Candidates))]
}

// SourceTop returns the candidates flagged by the source data, in rank
// order, independent of their computed score.
func (r *Ranking) SourceTop() []Candidate {
	var out []Candidate
	for _, c := range r.Candidates {
		if c.SourceTop {
			out = append(out, c)
		}
	}
	return out
}

// Subset is a named slice of a ranking.
type Subset struct {
	Name       string
	Candidates []Candidate
}

// Subsets returns the full ranking, its top third and its top n; road
// rankings also get the source-flagged subset.
func (r *Ranking) Subsets(topN int) []Subset {
	out := []Subset{
		{Name: SubsetAll, Candidates: r.Candidates},
		{Name: SubsetTopThird, Candidates: r.TopThird()},
		{Name: SubsetTopN, Candidates: r.Top(topN)},
	}
	if r.Family == Roads {
		out = append(out, Subset{Name: SubsetSourceTop, Candidates: r.SourceTop()})
	}
	return out
}

// Mismatch is a candidate whose region matched no configured region.
type Mismatch struct {
	ID     string `json:"id"`
	Region string `json:"region"`
	// Hint is a configured region equal to Region under case folding.
	Hint string `json:"hint,omitempty"`
}

// Result is a global ranking plus one ranking per configured region.
type Result struct {
	Family     Family
	Global     *Ranking
	Regions    []*Ranking
	Mismatches []Mismatch
}

// Partition ranks cands globally and independently within each region.
// Region matching is exact and case-sensitive; candidates matching no
// region stay in the global ranking and are reported as mismatches.
func Partition(family Family, cands []Candidate, regions []string) *Result {
	fold := cases.Fold()
	known := make(map[string]bool, len(regions))
	folded := make(map[string]string, len(regions))
	for _, name := range regions {
		known[name] = true
		folded[fold.String(name)] = name
	}

	global := Rank(cands)
	res := &Result{
		Family: family,
		Global: &Ranking{Family: family, Region: Global, Candidates: global},
	}

	byRegion := make(map[string][]Candidate, len(regions))
	for _, c := range global {
		if known[c.Region] {
			byRegion[c.Region] = append(byRegion[c.Region], c)
			continue
		}
		res.Mismatches = append(res.Mismatches, Mismatch{
			ID:     c.ID,
			Region: c.Region,
			Hint:   folded[fold.String(strings.TrimSpace(c.Region))],
		})
	}
	sort.Slice(res.Mismatches, func(i, j int) bool {
		return lessID(res.Mismatches[i].ID, res.Mismatches[j].ID)
	})

	for _, name := range regions {
		res.Regions = append(res.Regions, &Ranking{
			Family:     family,
			Region:     name,
			Candidates: Rank(byRegion[name]),
		})
	}
	return res
}

// Rankings returns the global ranking followed by the region rankings.
func (r *Result) Rankings() []*Ranking {
	return append([]*Ranking{r.Global}, r.Regions...)
}

// Region returns the ranking for name, or nil.
func (r *Result) Region(name string) *Ranking {
	if name == Global {
		return r.Global
	}
	for _, rk := range r.Regions {
		if rk.Region == name {
			return rk
		}
	}
	return nil
}

// MismatchIDs returns the ids of mismatched candidates.
func (r *Result) MismatchIDs() []string {
	ids := make([]string, len(r.Mismatches))
	for i, m := range r.Mismatches {
		ids[i] = m.ID
	}
	return ids
}
