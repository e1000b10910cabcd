package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// leafKind classifies a single MetricTree value.
type leafKind int

const (
	// NumericLeaf is a number or a string that parses as one.
	NumericLeaf leafKind = iota
	// BooleanLeaf values are never part of a distribution.
	BooleanLeaf
	// Nested is a plain mapping that is descended into.
	Nested
	// Skipped covers nil and non-numeric strings.
	Skipped
	// Invalid is anything else; AddDeep reports it as a TypeError.
	Invalid
)

func (k leafKind) String() string {
	switch k {
	case NumericLeaf:
		return "numeric"
	case BooleanLeaf:
		return "boolean"
	case Nested:
		return "nested"
	case Skipped:
		return "skipped"
	default:
		return "invalid"
	}
}

// leaf is the decoded form of one MetricTree value. Decoding happens once per
// value, the walker only switches on kind.
type leaf struct {
	kind   leafKind
	number float64
	nested map[string]any
}

func decodeLeaf(v any) leaf {
	switch t := v.(type) {
	case nil:
		return leaf{kind: Skipped}
	case bool:
		return leaf{kind: BooleanLeaf}
	case float64:
		return leaf{kind: NumericLeaf, number: t}
	case float32:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case int:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case int8:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case int16:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case int32:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case int64:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case uint:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case uint8:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case uint16:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case uint32:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case uint64:
		return leaf{kind: NumericLeaf, number: float64(t)}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return leaf{kind: Skipped}
		}
		return leaf{kind: NumericLeaf, number: f}
	case string:
		f, ok := parseNumericString(t)
		if !ok {
			return leaf{kind: Skipped}
		}
		return leaf{kind: NumericLeaf, number: f}
	case map[string]any:
		return leaf{kind: Nested, nested: t}
	case map[string]float64:
		m := make(map[string]any, len(t))
		for k, f := range t {
			m[k] = f
		}
		return leaf{kind: Nested, nested: m}
	default:
		return leaf{kind: Invalid}
	}
}

func parseNumericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// TypeError reports a value of a shape that cannot appear in a MetricTree, or
// an invalid argument to Add.
type TypeError struct {
	Path   []string
	Value  any
	Reason string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("metrics: %s at %q (%T)", e.Reason, strings.Join(e.Path, "."), e.Value)
}

// Number reports the numeric value of a MetricTree leaf, accepting the same
// numbers and numeric strings AddDeep does.
func Number(v any) (float64, bool) {
	l := decodeLeaf(v)
	if l.kind != NumericLeaf || math.IsNaN(l.number) || math.IsInf(l.number, 0) {
		return 0, false
	}
	return l.number, true
}

// At returns the numeric leaf at path inside tree.
func At(tree map[string]any, path ...string) (float64, bool) {
	var cur any = tree
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		if cur, ok = m[p]; !ok {
			return 0, false
		}
	}
	return Number(cur)
}
