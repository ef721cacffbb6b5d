// Package translate turns queries and row mutations into dialect specific
// SQL with bind arguments.
package translate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/filter"
)

// Statement is SQL text plus its bind arguments.
type Statement struct {
	SQL  string
	Args []interface{}
}

// Assignment is an attribute value written by INSERT or UPDATE.
type Assignment struct {
	Attribute core.AttributeDescriptor
	Value     interface{}
}

// Translator builds the statements for one table.
type Translator struct {
	dialect core.Dialect
	table   string
	schema  *core.Schema
	mapper  core.KeyMapper
	keys    []core.AttributeDescriptor
}

// New binds a translator to a table. schema is the feature type schema; it
// excludes the key columns when mapper hides them.
func New(d core.Dialect, dbSchema, tableName string, schema *core.Schema, mapper core.KeyMapper) *Translator {
	t := &Translator{
		dialect: d,
		table:   d.Table(dbSchema, tableName),
		schema:  schema,
		mapper:  mapper,
	}
	for i := 0; i < mapper.ColumnCount(); i++ {
		t.keys = append(t.keys, core.AttributeDescriptor{
			Name: mapper.ColumnName(i),
			Type: mapper.ColumnType(i),
			SRID: core.UnknownSRID,
		})
	}
	return t
}

// Dialect returns the bound dialect.
func (t *Translator) Dialect() core.Dialect { return t.dialect }

// Schema returns the feature type schema.
func (t *Translator) Schema() *core.Schema { return t.schema }

// Mapper returns the key mapper.
func (t *Translator) Mapper() core.KeyMapper { return t.mapper }

// Table returns the quoted table name.
func (t *Translator) Table() string { return t.table }

// HiddenKeys is the number of key columns selected ahead of the attributes.
func (t *Translator) HiddenKeys() int {
	if t.mapper.ReturnKeyColumnsAsAttributes() {
		return 0
	}
	return len(t.keys)
}

// KeyAttribute describes key column k.
func (t *Translator) KeyAttribute(k int) core.AttributeDescriptor { return t.keys[k] }

// Capabilities is what the dialect can evaluate for this table. Identifier
// filters need stable key columns.
func (t *Translator) Capabilities() filter.Capabilities {
	caps := t.dialect.Capabilities()
	if len(t.keys) == 0 || t.mapper.IsVolatile() {
		caps = caps.WithoutFeatureIDs()
	}
	return caps
}

// Split partitions p into the part the database evaluates and the residual.
func (t *Translator) Split(p filter.Predicate) (pushed, residual filter.Predicate) {
	return filter.Split(p, t.Capabilities())
}

// Plan is a translated query.
type Plan struct {
	Query core.Query

	// Requested is the schema handed back to the caller.
	Requested *core.Schema

	// Selected is the schema of the selected attribute columns: Requested
	// followed by any attribute only the residual predicate or the feature
	// identifier needs.
	Selected *core.Schema

	Pushed   filter.Predicate
	Residual filter.Predicate

	// LimitPushed reports whether MaxFeatures became a LIMIT clause.
	LimitPushed bool

	// Columns is the width of the SELECT list. An empty projection selects
	// the constant 1 so the statement stays valid.
	Columns int

	Statement Statement
}

// Plan validates q and builds its SELECT.
func (t *Translator) Plan(q core.Query) (*Plan, error) {
	if err := q.Validate(t.schema); err != nil {
		return nil, err
	}
	if err := t.checkIDs(q.Filter); err != nil {
		return nil, err
	}

	requested := t.schema
	if !q.AllProperties() {
		var err error
		if requested, err = t.schema.Subset(q.Properties); err != nil {
			return nil, err
		}
	}

	pushed, residual := t.Split(q.Filter)

	selected := requested
	var extra []string
	seen := make(map[string]struct{})
	need := func(name string) {
		if _, ok := seen[name]; ok || requested.Index(name) >= 0 {
			return
		}
		seen[name] = struct{}{}
		extra = append(extra, name)
	}
	for _, name := range filter.Attributes(residual) {
		need(name)
	}
	if t.mapper.ReturnKeyColumnsAsAttributes() {
		for _, k := range t.keys {
			if t.schema.Index(k.Name) >= 0 {
				need(k.Name)
			}
		}
	}
	if len(extra) > 0 {
		var err error
		if selected, err = t.schema.Subset(append(requested.Names(), extra...)); err != nil {
			return nil, err
		}
	}

	plan := &Plan{
		Query:     q,
		Requested: requested,
		Selected:  selected,
		Pushed:    pushed,
		Residual:  residual,
	}
	b := &binder{dialect: t.dialect}

	cols := t.selectColumns(selected)
	if len(cols) == 0 {
		cols = []string{"1"}
	}
	plan.Columns = len(cols)

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(strings.Join(cols, ", "))
	sql.WriteString(" FROM ")
	sql.WriteString(t.table)

	where, err := t.where(b, q.Filter, pushed)
	if err != nil {
		return nil, err
	}
	sql.WriteString(where)

	if len(q.SortBy) > 0 {
		order := make([]string, len(q.SortBy))
		for i, s := range q.SortBy {
			dir := " ASC"
			if s.Descending {
				dir = " DESC"
			}
			order[i] = t.dialect.QuoteIdentifier(s.Attribute) + dir
		}
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(order, ", "))
	}

	if q.MaxFeatures != core.Unlimited && filter.IsInclude(residual) {
		sql.WriteString(" LIMIT ")
		sql.WriteString(strconv.Itoa(q.MaxFeatures))
		plan.LimitPushed = true
	}

	plan.Statement = Statement{SQL: sql.String(), Args: b.args}
	return plan, nil
}

// Count builds SELECT COUNT(*) for q. ok is false when part of the filter
// has to run in process, in which case the count cannot be computed by the
// database.
func (t *Translator) Count(q core.Query) (stmt Statement, ok bool, err error) {
	if err := q.Validate(t.schema); err != nil {
		return Statement{}, false, err
	}
	if err := t.checkIDs(q.Filter); err != nil {
		return Statement{}, false, err
	}
	pushed, residual := t.Split(q.Filter)
	if !filter.IsInclude(residual) {
		return Statement{}, false, nil
	}
	b := &binder{dialect: t.dialect}
	where, err := t.where(b, q.Filter, pushed)
	if err != nil {
		return Statement{}, false, err
	}
	return Statement{SQL: "SELECT COUNT(*) FROM " + t.table + where, Args: b.args}, true, nil
}

func (t *Translator) selectColumns(selected *core.Schema) []string {
	cols := make([]string, 0, t.HiddenKeys()+selected.Len())
	for k := 0; k < t.HiddenKeys(); k++ {
		cols = append(cols, t.dialect.QuoteIdentifier(t.keys[k].Name))
	}
	for i := 0; i < selected.Len(); i++ {
		a := selected.Attribute(i)
		col := t.dialect.QuoteIdentifier(a.Name)
		if a.IsGeometry() {
			col = t.dialect.SelectGeometry(col, a.SRID)
		}
		cols = append(cols, col)
	}
	return cols
}

// where renders the WHERE clause. An always-false original predicate short
// circuits to a clause that matches nothing.
func (t *Translator) where(b *binder, original, pushed filter.Predicate) (string, error) {
	if filter.IsExclude(filter.Normalize(original)) {
		return " WHERE 1 = 0", nil
	}
	if filter.IsInclude(pushed) {
		return "", nil
	}
	enc := &encoder{t: t, b: b}
	clause, err := enc.predicate(pushed)
	if err != nil {
		return "", err
	}
	return " WHERE " + clause, nil
}

// Insert builds an INSERT of values plus the non-nil hidden key values.
// Generated key columns are left out; with KeysReturning they come back
// through a RETURNING clause.
func (t *Translator) Insert(values []Assignment, keys []interface{}) (Statement, error) {
	b := &binder{dialect: t.dialect}
	var cols, params []string

	add := func(a core.AttributeDescriptor, v interface{}) error {
		arg, err := t.dialect.EncodeValue(a, v)
		if err != nil {
			return err
		}
		p := b.bind(arg)
		if a.IsGeometry() {
			p = t.dialect.GeometryParameter(p, a.SRID)
		}
		cols = append(cols, t.dialect.QuoteIdentifier(a.Name))
		params = append(params, p)
		return nil
	}

	if t.HiddenKeys() > 0 {
		if len(keys) != len(t.keys) {
			return Statement{}, fmt.Errorf("insert into %s: %d key values for %d key columns", t.table, len(keys), len(t.keys))
		}
		for k, v := range keys {
			if v == nil && t.mapper.IsAutoIncrement(k) {
				continue
			}
			if err := add(t.keys[k], v); err != nil {
				return Statement{}, err
			}
		}
	}
	for _, as := range values {
		if as.Value == nil && t.isGenerated(as.Attribute.Name) {
			continue
		}
		if err := add(as.Attribute, as.Value); err != nil {
			return Statement{}, err
		}
	}

	var sql strings.Builder
	sql.WriteString("INSERT INTO ")
	sql.WriteString(t.table)
	if len(cols) == 0 {
		if t.dialect.Name() == "mysql" {
			sql.WriteString(" () VALUES ()")
		} else {
			sql.WriteString(" DEFAULT VALUES")
		}
	} else {
		sql.WriteString(" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(params, ", ") + ")")
	}

	if t.dialect.GeneratedKeys() == core.KeysReturning && t.mapper.HasAutoIncrementColumns() {
		sql.WriteString(" RETURNING ")
		sql.WriteString(strings.Join(t.generatedColumns(), ", "))
	}
	return Statement{SQL: sql.String(), Args: b.args}, nil
}

// Update builds an UPDATE of values on the row identified by keys.
func (t *Translator) Update(values []Assignment, keys []interface{}) (Statement, error) {
	if len(values) == 0 {
		return Statement{}, fmt.Errorf("update of %s: no columns to update", t.table)
	}
	b := &binder{dialect: t.dialect}
	sets := make([]string, 0, len(values))
	for _, as := range values {
		arg, err := t.dialect.EncodeValue(as.Attribute, as.Value)
		if err != nil {
			return Statement{}, err
		}
		p := b.bind(arg)
		if as.Attribute.IsGeometry() {
			p = t.dialect.GeometryParameter(p, as.Attribute.SRID)
		}
		sets = append(sets, t.dialect.QuoteIdentifier(as.Attribute.Name)+" = "+p)
	}
	cond, err := t.keyCondition(b, keys)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:  "UPDATE " + t.table + " SET " + strings.Join(sets, ", ") + " WHERE " + cond,
		Args: b.args,
	}, nil
}

// Delete builds a DELETE of the row identified by keys.
func (t *Translator) Delete(keys []interface{}) (Statement, error) {
	b := &binder{dialect: t.dialect}
	cond, err := t.keyCondition(b, keys)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "DELETE FROM " + t.table + " WHERE " + cond, Args: b.args}, nil
}

func (t *Translator) keyCondition(b *binder, keys []interface{}) (string, error) {
	if len(t.keys) == 0 {
		return "", fmt.Errorf("%s: %w", t.table, core.ErrNoPrimaryKey)
	}
	if len(keys) != len(t.keys) {
		return "", fmt.Errorf("%s: %d key values for %d key columns", t.table, len(keys), len(t.keys))
	}
	parts := make([]string, len(keys))
	for k, v := range keys {
		parts[k] = t.dialect.QuoteIdentifier(t.keys[k].Name) + " = " + b.bind(v)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (t *Translator) isGenerated(name string) bool {
	for k, key := range t.keys {
		if key.Name == name && t.mapper.IsAutoIncrement(k) {
			return true
		}
	}
	return false
}

func (t *Translator) generatedColumns() []string {
	var cols []string
	for k, key := range t.keys {
		if t.mapper.IsAutoIncrement(k) {
			cols = append(cols, t.dialect.QuoteIdentifier(key.Name))
		}
	}
	return cols
}
