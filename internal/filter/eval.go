package filter

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-spatial/geom"
)

// ErrUnknownAttribute is returned when a predicate references an attribute
// the evaluated record does not carry.
var ErrUnknownAttribute = errors.New("unknown attribute")

// Record is what a predicate is evaluated against.
type Record interface {
	ID() string
	Lookup(name string) (interface{}, bool)
}

// truth is SQL three-valued logic. Comparisons with NULL are unknown, which
// keeps client-side evaluation aligned with what the database would return.
type truth int

const (
	unknown truth = iota
	isFalse
	isTrue
)

func truthOf(b bool) truth {
	if b {
		return isTrue
	}
	return isFalse
}

// Evaluate reports whether r satisfies p. A nil predicate matches everything.
func Evaluate(p Predicate, r Record) (bool, error) {
	t, err := eval(Normalize(p), r)
	if err != nil {
		return false, err
	}
	return t == isTrue, nil
}

func eval(p Predicate, r Record) (truth, error) {
	switch n := p.(type) {
	case Include:
		return isTrue, nil
	case Exclude:
		return isFalse, nil
	case Comparison:
		return evalComparison(n, r)
	case Null:
		v, err := lookup(r, n.Property)
		if err != nil {
			return unknown, err
		}
		return truthOf(v == nil), nil
	case BBox:
		return evalBBox(n, r)
	case FeatureIDs:
		id := r.ID()
		for _, want := range n.IDs {
			if want == id {
				return isTrue, nil
			}
		}
		return isFalse, nil
	case And:
		result := isTrue
		for _, c := range n.Children {
			t, err := eval(Normalize(c), r)
			if err != nil {
				return unknown, err
			}
			if t == isFalse {
				return isFalse, nil
			}
			if t == unknown {
				result = unknown
			}
		}
		return result, nil
	case Or:
		result := isFalse
		for _, c := range n.Children {
			t, err := eval(Normalize(c), r)
			if err != nil {
				return unknown, err
			}
			if t == isTrue {
				return isTrue, nil
			}
			if t == unknown {
				result = unknown
			}
		}
		return result, nil
	case Not:
		t, err := eval(Normalize(n.Child), r)
		if err != nil {
			return unknown, err
		}
		switch t {
		case isTrue:
			return isFalse, nil
		case isFalse:
			return isTrue, nil
		}
		return unknown, nil
	default:
		return unknown, fmt.Errorf("unsupported predicate %T", p)
	}
}

func lookup(r Record, name string) (interface{}, error) {
	v, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
	}
	return v, nil
}

func evalExpression(e Expression, r Record) (interface{}, error) {
	switch x := e.(type) {
	case Property:
		return lookup(r, x.Name)
	case Function:
		if len(x.Args) != 1 {
			return nil, fmt.Errorf("function %s expects one argument, got %d", x.Name, len(x.Args))
		}
		arg, err := evalExpression(x.Args[0], r)
		if err != nil {
			return nil, err
		}
		if arg == nil {
			return nil, nil
		}
		g, ok := arg.(geom.Geometry)
		if !ok {
			return nil, fmt.Errorf("function %s expects a geometry, got %T", x.Name, arg)
		}
		switch strings.ToLower(x.Name) {
		case "area":
			return GeometryArea(g)
		case "length":
			return GeometryLength(g)
		}
		return nil, fmt.Errorf("unknown function %s", x.Name)
	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func evalComparison(c Comparison, r Record) (truth, error) {
	left, err := evalExpression(c.Left, r)
	if err != nil {
		return unknown, err
	}
	if left == nil || c.Value == nil {
		return unknown, nil
	}
	if c.Op == OpLike {
		s, ok := left.(string)
		pattern, pok := c.Value.(string)
		if !ok || !pok {
			return unknown, fmt.Errorf("LIKE requires text operands, got %T and %T", left, c.Value)
		}
		re, err := likeRegexp(pattern)
		if err != nil {
			return unknown, err
		}
		return truthOf(re.MatchString(s)), nil
	}
	cmp, ok := compareValues(left, c.Value)
	if !ok {
		if c.Op == OpEqual {
			return isFalse, nil
		}
		if c.Op == OpNotEqual {
			return isTrue, nil
		}
		return unknown, fmt.Errorf("cannot compare %T with %T", left, c.Value)
	}
	switch c.Op {
	case OpEqual:
		return truthOf(cmp == 0), nil
	case OpNotEqual:
		return truthOf(cmp != 0), nil
	case OpLess:
		return truthOf(cmp < 0), nil
	case OpLessEqual:
		return truthOf(cmp <= 0), nil
	case OpGreater:
		return truthOf(cmp > 0), nil
	case OpGreaterEqual:
		return truthOf(cmp >= 0), nil
	}
	return unknown, fmt.Errorf("unsupported comparison operator %q", c.Op)
}

func evalBBox(b BBox, r Record) (truth, error) {
	v, err := lookup(r, b.Property)
	if err != nil {
		return unknown, err
	}
	if v == nil {
		return unknown, nil
	}
	g, ok := v.(geom.Geometry)
	if !ok {
		return unknown, fmt.Errorf("BBOX on non geometry attribute %s (%T)", b.Property, v)
	}
	env, err := Envelope(g)
	if err != nil {
		return unknown, err
	}
	if env == nil {
		return isFalse, nil
	}
	return truthOf(ExtentsIntersect(env, &b.Extent)), nil
}

// compareValues orders a and b. Numbers compare across Go numeric types.
func compareValues(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case []byte:
		y, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// likeRegexp translates a SQL LIKE pattern; backslash escapes % and _.
func likeRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	escaped := false
	for _, ch := range pattern {
		switch {
		case escaped:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '%':
			sb.WriteString(".*")
		case ch == '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile("(?s)" + sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid LIKE pattern %q: %w", pattern, err)
	}
	return re, nil
}
