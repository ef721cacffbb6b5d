package filter

import "strings"

// Capabilities is the set of predicate constructs a database can evaluate.
// The zero value supports only the Include/Exclude sentinels.
type Capabilities struct {
	operators  map[Operator]struct{}
	functions  map[string]struct{}
	logic      map[Logic]struct{}
	featureIDs bool
}

// ComparisonOperators are the six ordering/equality comparisons.
var ComparisonOperators = []Operator{OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual}

// NewCapabilities returns a set supporting ops.
func NewCapabilities(ops ...Operator) Capabilities {
	return Capabilities{}.WithOperators(ops...)
}

// WithOperators returns a copy of c that also supports ops.
func (c Capabilities) WithOperators(ops ...Operator) Capabilities {
	out := c.clone()
	for _, op := range ops {
		out.operators[op] = struct{}{}
	}
	return out
}

// WithFunctions returns a copy of c that also supports the named functions.
func (c Capabilities) WithFunctions(names ...string) Capabilities {
	out := c.clone()
	for _, name := range names {
		out.functions[strings.ToLower(name)] = struct{}{}
	}
	return out
}

// WithLogic returns a copy of c that also supports the combinators.
func (c Capabilities) WithLogic(ls ...Logic) Capabilities {
	out := c.clone()
	for _, l := range ls {
		out.logic[l] = struct{}{}
	}
	return out
}

// WithFeatureIDs returns a copy of c that can evaluate identifier filters.
func (c Capabilities) WithFeatureIDs() Capabilities {
	out := c.clone()
	out.featureIDs = true
	return out
}

// WithoutFeatureIDs returns a copy of c that leaves identifier filters to
// the client.
func (c Capabilities) WithoutFeatureIDs() Capabilities {
	out := c.clone()
	out.featureIDs = false
	return out
}

func (c Capabilities) clone() Capabilities {
	out := Capabilities{
		operators:  make(map[Operator]struct{}, len(c.operators)),
		functions:  make(map[string]struct{}, len(c.functions)),
		logic:      make(map[Logic]struct{}, len(c.logic)),
		featureIDs: c.featureIDs,
	}
	for k := range c.operators {
		out.operators[k] = struct{}{}
	}
	for k := range c.functions {
		out.functions[k] = struct{}{}
	}
	for k := range c.logic {
		out.logic[k] = struct{}{}
	}
	return out
}

// HasOperator reports whether op is supported.
func (c Capabilities) HasOperator(op Operator) bool {
	_, ok := c.operators[op]
	return ok
}

// HasFunction reports whether the named function is supported.
func (c Capabilities) HasFunction(name string) bool {
	_, ok := c.functions[strings.ToLower(name)]
	return ok
}

// HasLogic reports whether the combinator is supported.
func (c Capabilities) HasLogic(l Logic) bool {
	_, ok := c.logic[l]
	return ok
}

// Supports reports whether the whole of p can be evaluated by the database.
func (c Capabilities) Supports(p Predicate) bool {
	switch n := Normalize(p).(type) {
	case Include, Exclude:
		return true
	case Comparison:
		return c.HasOperator(n.Op) && c.supportsExpression(n.Left)
	case Null:
		return c.HasOperator(OpIsNull)
	case BBox:
		return c.HasOperator(OpBBox)
	case FeatureIDs:
		return c.featureIDs
	case And:
		return c.HasLogic(LogicAnd) && c.supportsAll(n.Children)
	case Or:
		return c.HasLogic(LogicOr) && c.supportsAll(n.Children)
	case Not:
		return c.HasLogic(LogicNot) && c.Supports(n.Child)
	}
	return false
}

func (c Capabilities) supportsAll(ps []Predicate) bool {
	for _, p := range ps {
		if !c.Supports(p) {
			return false
		}
	}
	return true
}

func (c Capabilities) supportsExpression(e Expression) bool {
	switch x := e.(type) {
	case Property:
		return true
	case Function:
		if !c.HasFunction(x.Name) {
			return false
		}
		for _, a := range x.Args {
			if !c.supportsExpression(a) {
				return false
			}
		}
		return true
	}
	return false
}

// Split partitions p into a pushed predicate made of the top-level conjuncts
// c fully supports and a residual predicate with everything else. An OR or
// NOT with any unsupported leaf stays whole on the residual side, so pushed
// never selects fewer rows than p and pushed AND residual is equivalent to p.
func Split(p Predicate, c Capabilities) (pushed, residual Predicate) {
	var push, keep []Predicate
	for _, conjunct := range conjuncts(Normalize(p)) {
		if c.Supports(conjunct) {
			push = append(push, conjunct)
		} else {
			keep = append(keep, conjunct)
		}
	}
	return Conjunction(push), Conjunction(keep)
}

// conjuncts flattens nested top-level ANDs.
func conjuncts(p Predicate) []Predicate {
	and, ok := p.(And)
	if !ok {
		return []Predicate{p}
	}
	var out []Predicate
	for _, child := range and.Children {
		out = append(out, conjuncts(Normalize(child))...)
	}
	return out
}
