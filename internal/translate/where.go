package translate

import (
	"fmt"
	"strings"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/filter"
)

// binder collects bind arguments and hands out placeholders in order.
type binder struct {
	dialect core.Dialect
	args    []interface{}
}

func (b *binder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// encoder renders predicates as SQL boolean expressions.
type encoder struct {
	t *Translator
	b *binder
}

func (e *encoder) predicate(p filter.Predicate) (string, error) {
	switch n := filter.Normalize(p).(type) {
	case filter.Include:
		return "1 = 1", nil
	case filter.Exclude:
		return "1 = 0", nil
	case filter.Comparison:
		return e.comparison(n)
	case filter.Null:
		col, _, err := e.column(n.Property)
		if err != nil {
			return "", err
		}
		return col + " IS NULL", nil
	case filter.BBox:
		col, attr, err := e.column(n.Property)
		if err != nil {
			return "", err
		}
		srid := n.SRID
		if srid == core.UnknownSRID {
			srid = attr.SRID
		}
		return e.t.dialect.EncodeBBox(col, n, srid, e.b.bind)
	case filter.FeatureIDs:
		return e.featureIDs(n)
	case filter.And:
		return e.join(n.Children, " AND ")
	case filter.Or:
		return e.join(n.Children, " OR ")
	case filter.Not:
		inner, err := e.predicate(n.Child)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	}
	return "", fmt.Errorf("%w: predicate %T", core.ErrEncoding, p)
}

func (e *encoder) join(children []filter.Predicate, sep string) (string, error) {
	if len(children) == 0 {
		if sep == " AND " {
			return "1 = 1", nil
		}
		return "1 = 0", nil
	}
	parts := make([]string, len(children))
	for i, c := range children {
		s, err := e.predicate(c)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (e *encoder) comparison(c filter.Comparison) (string, error) {
	left, attr, err := e.expression(c.Left)
	if err != nil {
		return "", err
	}
	// Only geometry literals go through the codec.
	var placeholder string
	if attr != nil && attr.IsGeometry() {
		arg, err := e.t.dialect.EncodeValue(*attr, c.Value)
		if err != nil {
			return "", err
		}
		placeholder = e.t.dialect.GeometryParameter(e.b.bind(arg), attr.SRID)
	} else {
		placeholder = e.b.bind(c.Value)
	}
	switch c.Op {
	case filter.OpEqual, filter.OpNotEqual, filter.OpLess, filter.OpLessEqual,
		filter.OpGreater, filter.OpGreaterEqual, filter.OpLike:
		return left + " " + string(c.Op) + " " + placeholder, nil
	}
	return "", fmt.Errorf("%w: operator %s", core.ErrEncoding, c.Op)
}

// expression returns the SQL for e and, for a bare property, its descriptor.
func (e *encoder) expression(x filter.Expression) (string, *core.AttributeDescriptor, error) {
	switch v := x.(type) {
	case filter.Property:
		col, attr, err := e.column(v.Name)
		if err != nil {
			return "", nil, err
		}
		return col, &attr, nil
	case filter.Function:
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			s, _, err := e.expression(a)
			if err != nil {
				return "", nil, err
			}
			args[i] = s
		}
		s, err := e.t.dialect.EncodeFunction(v.Name, args)
		return s, nil, err
	}
	return "", nil, fmt.Errorf("%w: expression %T", core.ErrEncoding, x)
}

func (e *encoder) column(name string) (string, core.AttributeDescriptor, error) {
	attr, ok := e.t.schema.Lookup(name)
	if !ok {
		return "", core.AttributeDescriptor{}, fmt.Errorf("%w: %w: %q in type %s", core.ErrEncoding, core.ErrAttributeNotFound, name, e.t.schema.TypeName())
	}
	return e.t.dialect.QuoteIdentifier(name), attr, nil
}

// featureIDs matches key columns against the decoded ids.
func (e *encoder) featureIDs(f filter.FeatureIDs) (string, error) {
	m := e.t.mapper
	if m == nil || m.ColumnCount() == 0 || m.IsVolatile() {
		return "", fmt.Errorf("%w: feature ids on %s without stable keys", core.ErrEncoding, e.t.schema.TypeName())
	}
	var alternatives []string
	for _, id := range f.IDs {
		keys, err := m.GetPKAttributes(id)
		if err != nil {
			return "", fmt.Errorf("failed to decode id filter on %s: %w", e.t.schema.TypeName(), err)
		}
		cond, err := e.t.keyCondition(e.b, keys)
		if err != nil {
			return "", err
		}
		alternatives = append(alternatives, cond)
	}
	switch len(alternatives) {
	case 0:
		return "1 = 0", nil
	case 1:
		return alternatives[0], nil
	}
	return "(" + strings.Join(alternatives, " OR ") + ")", nil
}

// checkIDs decodes every id referenced by p against the stable keys of the
// type, so malformed ids fail before any statement runs whether the id
// filter is pushed or residual. Volatile ids are generated per read and are
// only compared as strings.
func (t *Translator) checkIDs(p filter.Predicate) error {
	m := t.mapper
	if m == nil || m.ColumnCount() == 0 || m.IsVolatile() {
		return nil
	}
	switch v := p.(type) {
	case filter.FeatureIDs:
		for _, id := range v.IDs {
			if _, err := m.GetPKAttributes(id); err != nil {
				return fmt.Errorf("failed to decode id filter on %s: %w", t.schema.TypeName(), err)
			}
		}
	case filter.And:
		for _, c := range v.Children {
			if err := t.checkIDs(c); err != nil {
				return err
			}
		}
	case filter.Or:
		for _, c := range v.Children {
			if err := t.checkIDs(c); err != nil {
				return err
			}
		}
	case filter.Not:
		return t.checkIDs(v.Child)
	}
	return nil
}
