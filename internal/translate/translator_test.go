package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/dialect"
	"github.com/rzpsarthak13/featurestore/internal/filter"
	"github.com/rzpsarthak13/featurestore/internal/keymapper"
)

func roadsSchema() *core.Schema {
	return core.MustSchema("roads",
		core.AttributeDescriptor{Name: "name", Type: core.TypeText, Nullable: true},
		core.AttributeDescriptor{Name: "lanes", Type: core.TypeInteger, Nullable: true},
		core.AttributeDescriptor{Name: "geom", Type: core.TypeGeometry, Nullable: true, SRID: 4326},
	)
}

func autoMapper(t *testing.T) core.KeyMapper {
	t.Helper()
	m, err := keymapper.NewAutoIncrement("roads", keymapper.Column{Name: "fid", Type: core.TypeInteger})
	require.NoError(t, err)
	return m
}

func TestPlanPushesSupportedFilterAndLimit(t *testing.T) {
	tr := New(dialect.NewPostGIS(), "public", "roads", roadsSchema(), autoMapper(t))

	plan, err := tr.Plan(core.Query{
		TypeName:    "roads",
		Filter:      filter.AllOf(filter.Eq("name", "Main"), filter.Intersects("geom", 0, 0, 10, 10, -1)),
		Properties:  []string{"geom", "name"},
		MaxFeatures: 5,
		SortBy:      []core.SortBy{{Attribute: "lanes", Descending: true}},
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "fid", ST_AsBinary("geom"), "name" FROM "public"."roads" `+
			`WHERE ("name" = $1 AND "geom" && ST_MakeEnvelope($2, $3, $4, $5, 4326)) `+
			`ORDER BY "lanes" DESC LIMIT 5`,
		plan.Statement.SQL)
	assert.Equal(t, []interface{}{"Main", 0.0, 0.0, 10.0, 10.0}, plan.Statement.Args)
	assert.True(t, plan.LimitPushed)
	assert.True(t, filter.IsInclude(plan.Residual))
	assert.Equal(t, []string{"geom", "name"}, plan.Requested.Names())
}

func TestPlanOrWithUnsupportedLeaf(t *testing.T) {
	caps := dialect.NewSQLite()
	tr := New(caps, "", "roads", roadsSchema(), autoMapper(t))
	p := filter.AnyOf(filter.Eq("name", "X"), filter.Compare(filter.Area("geom"), filter.OpGreater, 10))

	plan, err := tr.Plan(core.Query{TypeName: "roads", Filter: p, Properties: []string{"lanes"}, MaxFeatures: 3})
	require.NoError(t, err)

	assert.True(t, filter.IsInclude(plan.Pushed))
	assert.Equal(t, p, plan.Residual)
	assert.False(t, plan.LimitPushed)
	assert.Equal(t, `SELECT "fid", "lanes", "geom", "name" FROM "roads"`, plan.Statement.SQL)
	assert.Equal(t, []string{"lanes"}, plan.Requested.Names())
	assert.Equal(t, []string{"lanes", "geom", "name"}, plan.Selected.Names())
}

func TestPlanConjunctionOfEqualities(t *testing.T) {
	tr := New(dialect.NewSQLite(), "", "roads", roadsSchema(), autoMapper(t))

	plan, err := tr.Plan(core.Query{TypeName: "roads", Filter: filter.AllOf(filter.Eq("name", "X"), filter.Eq("name", "Y"))})
	require.NoError(t, err)

	assert.True(t, filter.IsInclude(plan.Residual))
	assert.Equal(t, `SELECT "fid", "name", "lanes", "geom" FROM "roads" WHERE ("name" = ? AND "name" = ?)`, plan.Statement.SQL)
	assert.Equal(t, []interface{}{"X", "Y"}, plan.Statement.Args)
}

func TestPlanExcludeMatchesNothing(t *testing.T) {
	tr := New(dialect.NewSQLite(), "", "roads", roadsSchema(), autoMapper(t))

	plan, err := tr.Plan(core.Query{TypeName: "roads", Filter: filter.None, MaxFeatures: 10})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "fid", "name", "lanes", "geom" FROM "roads" WHERE 1 = 0 LIMIT 10`, plan.Statement.SQL)
}

func TestPlanRejectsUnknownAttributes(t *testing.T) {
	tr := New(dialect.NewSQLite(), "", "roads", roadsSchema(), autoMapper(t))

	_, err := tr.Plan(core.Query{TypeName: "roads", Properties: []string{"width"}})
	assert.ErrorIs(t, err, core.ErrAttributeNotFound)

	_, err = tr.Plan(core.Query{TypeName: "roads", Filter: filter.Eq("width", 3)})
	assert.ErrorIs(t, err, core.ErrAttributeNotFound)
}

func TestFeatureIDsUseKeyColumns(t *testing.T) {
	schema := core.MustSchema("grid",
		core.AttributeDescriptor{Name: "r", Type: core.TypeInteger},
		core.AttributeDescriptor{Name: "c", Type: core.TypeInteger},
	)
	m, err := keymapper.NewColumns("grid",
		keymapper.Column{Name: "r", Type: core.TypeInteger},
		keymapper.Column{Name: "c", Type: core.TypeInteger},
	)
	require.NoError(t, err)
	tr := New(dialect.NewSQLite(), "", "grid", schema, m)

	plan, err := tr.Plan(core.Query{TypeName: "grid", Filter: filter.IDs("grid.1&2", "grid.3&4")})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "r", "c" FROM "grid" WHERE (("r" = ? AND "c" = ?) OR ("r" = ? AND "c" = ?))`, plan.Statement.SQL)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3), int64(4)}, plan.Statement.Args)

	nullTr := New(dialect.NewSQLite(), "", "grid", schema, keymapper.NewNull("grid"))
	plan, err = nullTr.Plan(core.Query{TypeName: "grid", Filter: filter.IDs("grid.1&2")})
	require.NoError(t, err)
	assert.True(t, filter.IsInclude(plan.Pushed))
	assert.Equal(t, `SELECT "r", "c" FROM "grid"`, plan.Statement.SQL)
}

func TestCount(t *testing.T) {
	tr := New(dialect.NewSQLite(), "", "roads", roadsSchema(), autoMapper(t))

	stmt, ok, err := tr.Count(core.Query{TypeName: "roads", Filter: filter.Gt("lanes", 2)})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `SELECT COUNT(*) FROM "roads" WHERE "lanes" > ?`, stmt.SQL)

	_, ok, err = tr.Count(core.Query{TypeName: "roads", Filter: filter.Like("name", "M%")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMutationStatements(t *testing.T) {
	schema := roadsSchema()
	tr := New(dialect.NewPostGIS(), "", "roads", schema, autoMapper(t))

	name, _ := schema.Lookup("name")
	lanes, _ := schema.Lookup("lanes")

	ins, err := tr.Insert([]Assignment{{name, "Main"}, {lanes, 2}}, []interface{}{nil})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "roads" ("name", "lanes") VALUES ($1, $2) RETURNING "fid"`, ins.SQL)
	assert.Equal(t, []interface{}{"Main", int64(2)}, ins.Args)

	upd, err := tr.Update([]Assignment{{lanes, 4}}, []interface{}{int64(7)})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "roads" SET "lanes" = $1 WHERE "fid" = $2`, upd.SQL)
	assert.Equal(t, []interface{}{int64(4), int64(7)}, upd.Args)

	del, err := tr.Delete([]interface{}{int64(7)})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "roads" WHERE "fid" = $1`, del.SQL)

	_, err = tr.Update(nil, []interface{}{int64(7)})
	assert.Error(t, err)

	nullTr := New(dialect.NewPostGIS(), "", "roads", schema, keymapper.NewNull("roads"))
	_, err = nullTr.Delete(nil)
	assert.ErrorIs(t, err, core.ErrNoPrimaryKey)
}

func TestEncodingErrorsAbort(t *testing.T) {
	tr := New(dialect.NewMySQL(), "", "roads", roadsSchema(), autoMapper(t))
	_, err := tr.Plan(core.Query{TypeName: "roads", Filter: filter.Compare(filter.Function{Name: "buffer", Args: []filter.Expression{filter.Prop("geom")}}, filter.OpGreater, 1)})
	require.NoError(t, err, "unknown functions are residual, not errors")

	enc := &encoder{t: tr, b: &binder{dialect: tr.dialect}}
	_, err = enc.predicate(filter.Compare(filter.Function{Name: "buffer", Args: []filter.Expression{filter.Prop("geom")}}, filter.OpGreater, 1))
	assert.ErrorIs(t, err, core.ErrEncoding)
}

func TestPlanSelectsExposedKeyColumns(t *testing.T) {
	schema := core.MustSchema("grid",
		core.AttributeDescriptor{Name: "r", Type: core.TypeInteger},
		core.AttributeDescriptor{Name: "c", Type: core.TypeInteger},
		core.AttributeDescriptor{Name: "label", Type: core.TypeText, Nullable: true},
	)
	m, err := keymapper.NewColumns("grid",
		keymapper.Column{Name: "r", Type: core.TypeInteger},
		keymapper.Column{Name: "c", Type: core.TypeInteger},
	)
	require.NoError(t, err)
	tr := New(dialect.NewSQLite(), "", "grid", schema, m)

	plan, err := tr.Plan(core.Query{TypeName: "grid", Properties: []string{"label", "c"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"label", "c"}, plan.Requested.Names())
	assert.Equal(t, []string{"label", "c", "r"}, plan.Selected.Names())
	assert.Equal(t, `SELECT "label", "c", "r" FROM "grid"`, plan.Statement.SQL)
}

func TestMalformedIDsFailBeforeQuerying(t *testing.T) {
	tr := New(dialect.NewSQLite(), "", "roads", roadsSchema(), autoMapper(t))

	_, err := tr.Plan(core.Query{TypeName: "roads", Filter: filter.IDs("roads.1", "garbage")})
	assert.ErrorIs(t, err, core.ErrMalformedID)
	assert.ErrorContains(t, err, "garbage")

	_, err = tr.Plan(core.Query{TypeName: "roads", Filter: filter.IDs("roads.notanint")})
	assert.ErrorIs(t, err, core.ErrMalformedID)

	residual := filter.AnyOf(filter.IDs("roads.x"), filter.Compare(filter.Area("geom"), filter.OpGreater, 10))
	_, err = tr.Plan(core.Query{TypeName: "roads", Filter: residual})
	assert.ErrorIs(t, err, core.ErrMalformedID, "ids left to the residual are decoded too")

	_, _, err = tr.Count(core.Query{TypeName: "roads", Filter: filter.Negate(filter.IDs("other.1"))})
	assert.ErrorIs(t, err, core.ErrMalformedID)

	nullTr := New(dialect.NewSQLite(), "", "roads", roadsSchema(), keymapper.NewNull("roads"))
	_, err = nullTr.Plan(core.Query{TypeName: "roads", Filter: filter.IDs("garbage")})
	assert.NoError(t, err, "volatile ids are compared as strings")
}

func TestPlanEmptyProjection(t *testing.T) {
	nullTr := New(dialect.NewSQLite(), "", "roads", roadsSchema(), keymapper.NewNull("roads"))

	plan, err := nullTr.Plan(core.Query{TypeName: "roads", Properties: []string{}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT 1 FROM "roads"`, plan.Statement.SQL)
	assert.Equal(t, 1, plan.Columns)
	assert.Equal(t, 0, plan.Requested.Len())

	tr := New(dialect.NewSQLite(), "", "roads", roadsSchema(), autoMapper(t))
	plan, err = tr.Plan(core.Query{TypeName: "roads", Properties: []string{}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "fid" FROM "roads"`, plan.Statement.SQL)
	assert.Equal(t, 1, plan.Columns)
}
