package metrics

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultPercentiles is used when SummaryOptions.Percentiles is empty.
var DefaultPercentiles = []float64{0, 10, 90, 99, 100}

// SummaryOptions controls Summarize.
type SummaryOptions struct {
	// Percentiles in [0,100]. 0 is reported as "min" and 100 as "max".
	Percentiles []float64
	// Decimals is used when the median-based precision rule does not apply.
	Decimals int
	// IQR restricts each distribution to its interquartile range first.
	IQR bool
}

// Stats is the summary of one distribution.
//
// Median and percentiles use the empirical (inverse CDF) quantile, so the
// median of an even-sized sample is the lower of the two middle values.
type Stats struct {
	Count       int
	Median      float64
	Mean        float64
	StdDev      float64
	MeanStdDev  float64
	RSD         float64
	Percentiles map[string]float64
	// Decimals is the precision every value above was rounded to.
	Decimals int
}

// MarshalJSON flattens percentiles into the stats object.
func (s *Stats) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, len(s.Percentiles)+5)
	for k, v := range s.Percentiles {
		m[k] = v
	}
	m["median"] = s.Median
	m["mean"] = s.Mean
	m["stddev"] = s.StdDev
	m["mdev"] = s.MeanStdDev
	m["rsd"] = s.RSD
	return json.Marshal(m)
}

// Percentile returns the named percentile ("min", "p90", "max", ...).
func (s *Stats) Percentile(name string) (float64, bool) {
	v, ok := s.Percentiles[name]
	return v, ok
}

// Summary is a tree mirroring the recorded key paths with *Stats leaves.
type Summary map[string]any

// Lookup returns the stats at path.
func (s Summary) Lookup(path ...string) (*Stats, bool) {
	if len(path) == 0 {
		return nil, false
	}
	node := map[string]any(s)
	for i, p := range path {
		v, ok := node[p]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			st, ok := v.(*Stats)
			return st, ok
		}
		next, ok := v.(Summary)
		if !ok {
			return nil, false
		}
		node = next
	}
	return nil, false
}

// Walk calls fn for every stats leaf in key path order.
func (s Summary) Walk(fn func(path []string, st *Stats)) {
	var walk func(prefix []string, node Summary)
	walk = func(prefix []string, node Summary) {
		keys := lo.Keys(node)
		sort.Strings(keys)
		for _, k := range keys {
			path := append(append([]string(nil), prefix...), k)
			switch v := node[k].(type) {
			case *Stats:
				fn(path, v)
			case Summary:
				walk(path, v)
			}
		}
	}
	walk(nil, s)
}

// PercentileName maps a percentile to its summary key.
func PercentileName(p float64) string {
	switch p {
	case 0:
		return "min"
	case 100:
		return "max"
	}
	return "p" + strings.ReplaceAll(strconv.FormatFloat(p, 'f', -1, 64), ".", "_")
}

// Summarize computes stats for every recorded path.
func (a *Accumulator) Summarize(opts SummaryOptions) Summary {
	percentiles := opts.Percentiles
	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}

	a.mu.Lock()
	dists := make([]*distribution, 0, len(a.dists))
	for _, d := range a.dists {
		dists = append(dists, &distribution{path: d.path, values: append([]float64(nil), d.values...)})
	}
	a.mu.Unlock()

	sort.Slice(dists, func(i, j int) bool {
		return strings.Join(dists[i].path, pathSep) < strings.Join(dists[j].path, pathSep)
	})

	out := Summary{}
	for _, d := range dists {
		if len(d.values) == 0 {
			continue
		}
		insert(out, d.path, summarizeValues(d.values, percentiles, opts))
	}
	return out
}

// insert places st at path. A path that is both a leaf and a prefix of
// another path keeps whichever was inserted first.
func insert(root Summary, path []string, st *Stats) {
	node := root
	for _, p := range path[:len(path)-1] {
		next, ok := node[p]
		if !ok {
			child := Summary{}
			node[p] = child
			node = child
			continue
		}
		child, ok := next.(Summary)
		if !ok {
			return
		}
		node = child
	}
	last := path[len(path)-1]
	if _, exists := node[last]; !exists {
		node[last] = st
	}
}

func summarizeValues(values []float64, percentiles []float64, opts SummaryOptions) *Stats {
	sort.Float64s(values)

	if opts.IQR {
		values = iqrFilter(values)
	}

	median := stat.Quantile(0.5, stat.Empirical, values, nil)
	decimals := precision(median, opts.Decimals)

	mean, std := stat.MeanStdDev(values, nil)
	if len(values) < 2 || math.IsNaN(std) {
		std = 0
	}
	mdev := 0.0
	if std > 0 {
		mdev = stat.StdErr(std, float64(len(values)))
	}
	rsd := 0.0
	if std != 0 && mean != 0 {
		rsd = 100 * std / mean
	}

	st := &Stats{
		Count:       len(values),
		Median:      round(median, decimals),
		Mean:        round(mean, decimals),
		StdDev:      round(std, decimals),
		MeanStdDev:  round(mdev, decimals),
		RSD:         round(rsd, decimals),
		Percentiles: make(map[string]float64, len(percentiles)),
		Decimals:    decimals,
	}
	for _, p := range percentiles {
		var v float64
		switch {
		case p <= 0:
			v = floats.Min(values)
		case p >= 100:
			v = floats.Max(values)
		default:
			v = stat.Quantile(p/100, stat.Empirical, values, nil)
		}
		st.Percentiles[PercentileName(p)] = round(v, decimals)
	}
	return st
}

// iqrFilter keeps the values within [q1, q3] of a sorted sample. It returns
// the input unchanged when the median is zero, the range is degenerate, or
// filtering would remove nothing.
func iqrFilter(sorted []float64) []float64 {
	if len(sorted) == 0 {
		return sorted
	}
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if median == 0 || sorted[0] == sorted[len(sorted)-1] {
		return sorted
	}
	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	filtered := lo.Filter(sorted, func(v float64, _ int) bool {
		return v >= q1 && v <= q3
	})
	if len(filtered) == 0 || len(filtered) == len(sorted) {
		return sorted
	}
	return filtered
}

// precision picks the number of decimals from the magnitude of the median.
func precision(median float64, fallback int) int {
	switch {
	case median > 0 && median < 1:
		return 4
	case median > 1 && median < 100 && median != math.Trunc(median):
		return 2
	default:
		return fallback
	}
}

func round(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
