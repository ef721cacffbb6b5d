// Package filter holds the boolean predicate tree used by queries, its
// client-side evaluation and the capability driven split between the part a
// database can evaluate and the part that has to run in process.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-spatial/geom"
)

// Operator is a comparison or spatial operator a predicate leaf applies.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "<>"
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLike         Operator = "LIKE"
	OpIsNull       Operator = "IS NULL"
	OpBBox         Operator = "BBOX"
)

// Logic is a boolean combinator.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
	LogicNot Logic = "NOT"
)

// Predicate is a node of a boolean expression over attribute names.
type Predicate interface {
	fmt.Stringer
	isPredicate()
}

// Expression is the left operand of a comparison.
type Expression interface {
	fmt.Stringer
	isExpression()
}

// Include is the "always true" sentinel. A nil Predicate means the same thing.
type Include struct{}

// Exclude is the "always false" sentinel.
type Exclude struct{}

// All and None are the shared sentinel instances.
var (
	All  Predicate = Include{}
	None Predicate = Exclude{}
)

// Property references an attribute by name.
type Property struct {
	Name string
}

// Function applies a named function to its arguments. Evaluation supports
// "area" and "length" over a single geometry property.
type Function struct {
	Name string
	Args []Expression
}

// Comparison compares an expression with a literal value.
type Comparison struct {
	Left  Expression
	Op    Operator
	Value interface{}
}

// Null tests an attribute for NULL.
type Null struct {
	Property string
}

// BBox is true when the envelope of a geometry attribute intersects Extent.
type BBox struct {
	Property string
	Extent   geom.Extent
	SRID     int
}

// FeatureIDs matches features by identifier.
type FeatureIDs struct {
	IDs []string
}

// And is the conjunction of its children.
type And struct {
	Children []Predicate
}

// Or is the disjunction of its children.
type Or struct {
	Children []Predicate
}

// Not negates its child.
type Not struct {
	Child Predicate
}

func (Include) isPredicate() {}
func (Exclude) isPredicate() {}
func (Comparison) isPredicate() {}
func (Null) isPredicate() {}
func (BBox) isPredicate() {}
func (FeatureIDs) isPredicate() {}
func (And) isPredicate() {}
func (Or) isPredicate() {}
func (Not) isPredicate() {}

func (Property) isExpression() {}
func (Function) isExpression() {}

// Prop returns a property expression.
func Prop(name string) Property { return Property{Name: name} }

// Area returns the area of a geometry property.
func Area(name string) Function { return Function{Name: "area", Args: []Expression{Prop(name)}} }

// Length returns the length of a geometry property.
func Length(name string) Function { return Function{Name: "length", Args: []Expression{Prop(name)}} }

// Compare builds a comparison leaf.
func Compare(left Expression, op Operator, value interface{}) Comparison {
	return Comparison{Left: left, Op: op, Value: value}
}

func Eq(name string, value interface{}) Comparison { return Compare(Prop(name), OpEqual, value) }
func Ne(name string, value interface{}) Comparison { return Compare(Prop(name), OpNotEqual, value) }
func Lt(name string, value interface{}) Comparison { return Compare(Prop(name), OpLess, value) }
func Le(name string, value interface{}) Comparison { return Compare(Prop(name), OpLessEqual, value) }
func Gt(name string, value interface{}) Comparison { return Compare(Prop(name), OpGreater, value) }
func Ge(name string, value interface{}) Comparison { return Compare(Prop(name), OpGreaterEqual, value) }
func Like(name string, pattern string) Comparison  { return Compare(Prop(name), OpLike, pattern) }
func IsNull(name string) Null                      { return Null{Property: name} }
func IDs(ids ...string) FeatureIDs                 { return FeatureIDs{IDs: ids} }
func Negate(p Predicate) Not                       { return Not{Child: p} }

// Intersects builds a bounding box leaf. srid may be -1 when unknown.
func Intersects(name string, minX, minY, maxX, maxY float64, srid int) BBox {
	return BBox{Property: name, Extent: geom.Extent{minX, minY, maxX, maxY}, SRID: srid}
}

// AllOf returns the conjunction of ps.
func AllOf(ps ...Predicate) Predicate { return And{Children: ps} }

// AnyOf returns the disjunction of ps.
func AnyOf(ps ...Predicate) Predicate { return Or{Children: ps} }

// Normalize maps nil to All.
func Normalize(p Predicate) Predicate {
	if p == nil {
		return All
	}
	return p
}

// IsInclude reports whether p is the always-true sentinel (or nil).
func IsInclude(p Predicate) bool {
	if p == nil {
		return true
	}
	_, ok := p.(Include)
	return ok
}

// IsExclude reports whether p is the always-false sentinel.
func IsExclude(p Predicate) bool {
	_, ok := p.(Exclude)
	return ok
}

// Conjunction combines ps into the smallest equivalent predicate: All when
// empty, the single element, or an And. Include children are dropped.
func Conjunction(ps []Predicate) Predicate {
	kept := make([]Predicate, 0, len(ps))
	for _, p := range ps {
		if IsInclude(p) {
			continue
		}
		kept = append(kept, p)
	}
	switch len(kept) {
	case 0:
		return All
	case 1:
		return kept[0]
	default:
		return And{Children: kept}
	}
}

// Attributes returns the sorted, de-duplicated attribute names p references.
func Attributes(p Predicate) []string {
	seen := make(map[string]struct{})
	collectAttributes(Normalize(p), seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collectAttributes(p Predicate, seen map[string]struct{}) {
	switch n := p.(type) {
	case Comparison:
		collectExpression(n.Left, seen)
	case Null:
		seen[n.Property] = struct{}{}
	case BBox:
		seen[n.Property] = struct{}{}
	case And:
		for _, c := range n.Children {
			collectAttributes(c, seen)
		}
	case Or:
		for _, c := range n.Children {
			collectAttributes(c, seen)
		}
	case Not:
		collectAttributes(n.Child, seen)
	}
}

func collectExpression(e Expression, seen map[string]struct{}) {
	switch x := e.(type) {
	case Property:
		seen[x.Name] = struct{}{}
	case Function:
		for _, a := range x.Args {
			collectExpression(a, seen)
		}
	}
}

func (Include) String() string { return "INCLUDE" }
func (Exclude) String() string { return "EXCLUDE" }

func (p Property) String() string { return p.Name }

func (f Function) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
}

func (c Comparison) String() string {
	if s, ok := c.Value.(string); ok {
		return fmt.Sprintf("%s %s '%s'", c.Left, c.Op, s)
	}
	return fmt.Sprintf("%s %s %v", c.Left, c.Op, c.Value)
}

func (n Null) String() string { return n.Property + " IS NULL" }

func (b BBox) String() string {
	return fmt.Sprintf("BBOX(%s, %g, %g, %g, %g)", b.Property, b.Extent[0], b.Extent[1], b.Extent[2], b.Extent[3])
}

func (f FeatureIDs) String() string { return fmt.Sprintf("IN (%s)", strings.Join(f.IDs, ", ")) }

func (a And) String() string { return joinChildren(a.Children, " AND ") }
func (o Or) String() string  { return joinChildren(o.Children, " OR ") }
func (n Not) String() string { return "NOT (" + Normalize(n.Child).String() + ")" }

func joinChildren(ps []Predicate, sep string) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = "(" + Normalize(p).String() + ")"
	}
	return strings.Join(parts, sep)
}
