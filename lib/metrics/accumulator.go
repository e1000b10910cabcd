// Package metrics accumulates per-iteration page metrics into running
// distributions addressed by key path and summarizes them.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// TransformFunc is applied to every value AddDeep visits before it is decoded.
// Returning nil drops the value.
type TransformFunc func(path []string, value any) any

const pathSep = "\x00"

type distribution struct {
	path   []string
	values []float64
}

// Accumulator maps key paths to the numeric observations seen at exactly that
// path. Paths are created on first observation. It is safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	dists map[string]*distribution
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{dists: make(map[string]*distribution)}
}

// Add records one observation at path.
func (a *Accumulator) Add(path []string, value float64) error {
	if len(path) == 0 {
		return &TypeError{Path: path, Value: value, Reason: "empty key path"}
	}
	for _, p := range path {
		if p == "" {
			return &TypeError{Path: path, Value: value, Reason: "empty key in path"}
		}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &TypeError{Path: path, Value: value, Reason: "non-finite value"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.addLocked(path, value)
	return nil
}

func (a *Accumulator) addLocked(path []string, value float64) {
	key := strings.Join(path, pathSep)
	d, ok := a.dists[key]
	if !ok {
		d = &distribution{path: append([]string(nil), path...)}
		a.dists[key] = d
	}
	d.values = append(d.values, value)
}

// AddDeep walks tree and records every numeric leaf under its key path.
// Booleans, nil and non-numeric strings are skipped. Anything that is neither
// a leaf nor a plain mapping yields a *TypeError and nothing from tree is
// recorded.
func (a *Accumulator) AddDeep(tree map[string]any, transform TransformFunc) error {
	type obs struct {
		path  []string
		value float64
	}
	var collected []obs

	var walk func(prefix []string, m map[string]any) error
	walk = func(prefix []string, m map[string]any) error {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path := append(append([]string(nil), prefix...), k)
			v := m[k]
			if transform != nil {
				v = transform(path, v)
			}
			l := decodeLeaf(v)
			switch l.kind {
			case NumericLeaf:
				if math.IsNaN(l.number) || math.IsInf(l.number, 0) {
					continue
				}
				collected = append(collected, obs{path: path, value: l.number})
			case Nested:
				if err := walk(path, l.nested); err != nil {
					return err
				}
			case BooleanLeaf, Skipped:
			default:
				return &TypeError{Path: path, Value: v, Reason: "unsupported value"}
			}
		}
		return nil
	}
	if err := walk(nil, tree); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, o := range collected {
		a.addLocked(o.path, o.value)
	}
	return nil
}

// Len returns the number of distinct key paths recorded.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.dists)
}

// Values returns a copy of the observations at path.
func (a *Accumulator) Values(path ...string) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.dists[strings.Join(path, pathSep)]
	if !ok {
		return nil
	}
	return append([]float64(nil), d.values...)
}

// IndexedList turns a list into a record keyed by element index, so it can be
// descended like any other mapping.
func IndexedList(list []any) map[string]any {
	m := make(map[string]any, len(list))
	for i, v := range list {
		m[strconv.Itoa(i)] = v
	}
	return m
}
