package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/filter"
)

// PostGIS is the dialect for PostgreSQL with the PostGIS extension.
type PostGIS struct {
	base
}

var _ core.Dialect = (*PostGIS)(nil)

// NewPostGIS returns the PostGIS dialect.
func NewPostGIS() *PostGIS {
	return &PostGIS{base{
		name:   "postgis",
		driver: "postgres",
		quote:  `"`,
		caps: filter.NewCapabilities(filter.ComparisonOperators...).
			WithOperators(filter.OpLike, filter.OpIsNull, filter.OpBBox).
			WithLogic(filter.LogicAnd, filter.LogicOr, filter.LogicNot).
			WithFunctions("area", "length").
			WithFeatureIDs(),
		types: core.NewTypeMap(map[string]core.ValueType{
			"int2": core.TypeInteger, "int4": core.TypeInteger, "int8": core.TypeInteger,
			"smallint": core.TypeInteger, "integer": core.TypeInteger, "bigint": core.TypeInteger,
			"serial": core.TypeInteger, "bigserial": core.TypeInteger,
			"float4": core.TypeFloat, "float8": core.TypeFloat, "real": core.TypeFloat,
			"double precision": core.TypeFloat, "numeric": core.TypeFloat,
			"text": core.TypeText, "varchar": core.TypeText, "bpchar": core.TypeText,
			"character varying": core.TypeText, "character": core.TypeText, "uuid": core.TypeText,
			"bool": core.TypeBoolean, "boolean": core.TypeBoolean,
			"date": core.TypeDate, "timestamp": core.TypeDate, "timestamptz": core.TypeDate,
			"timestamp without time zone": core.TypeDate, "timestamp with time zone": core.TypeDate,
			"geometry": core.TypeGeometry,
		}),
	}}
}

func (*PostGIS) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (*PostGIS) SelectGeometry(column string, _ int) string {
	return "ST_AsBinary(" + column + ")"
}

func (*PostGIS) GeometryParameter(placeholder string, srid int) string {
	if srid >= 0 {
		return fmt.Sprintf("ST_GeomFromWKB(%s, %d)", placeholder, srid)
	}
	return "ST_GeomFromWKB(" + placeholder + ")"
}

// EncodeBBox uses the index-assisted && operator against an envelope.
func (*PostGIS) EncodeBBox(column string, box filter.BBox, srid int, bind func(interface{}) string) (string, error) {
	e := box.Extent
	args := []string{bind(e.MinX()), bind(e.MinY()), bind(e.MaxX()), bind(e.MaxY())}
	if srid >= 0 {
		args = append(args, fmt.Sprintf("%d", srid))
	}
	return column + " && ST_MakeEnvelope(" + strings.Join(args, ", ") + ")", nil
}

func (*PostGIS) GeneratedKeys() core.GeneratedKeys { return core.KeysReturning }

// Tables lists the base tables of dbSchema, or of the current schema.
func (p *PostGIS) Tables(ctx context.Context, q core.Querier, dbSchema string) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`
	return scanNames(ctx, q, query, dbSchema)
}

// Describe reads columns from information_schema, key order from the
// primary key constraint and spatial references from geometry_columns.
func (p *PostGIS) Describe(ctx context.Context, q core.Querier, dbSchema, table string) (*core.TableInfo, error) {
	query := `
		SELECT column_name, udt_name, is_nullable, COALESCE(column_default, ''), is_identity
		FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
		ORDER BY ordinal_position
	`
	rows, err := q.QueryContext(ctx, query, dbSchema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer rows.Close()

	info := &core.TableInfo{Name: table, Schema: dbSchema}
	for rows.Next() {
		var name, udt, nullable, def, identity string
		if err := rows.Scan(&name, &udt, &nullable, &def, &identity); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		info.Columns = append(info.Columns, core.ColumnInfo{
			Name:          name,
			SQLType:       udt,
			Nullable:      nullable == "YES",
			AutoIncrement: identity == "YES" || strings.HasPrefix(def, "nextval("),
			SRID:          core.UnknownSRID,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("%w: table %s", core.ErrSchemaNotFound, table)
	}

	keyQuery := `
		SELECT kcu.column_name, kcu.ordinal_position
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
	`
	if err := p.scanPairs(ctx, q, keyQuery, dbSchema, table, func(column string, pos int) {
		markKey(info, column, pos)
	}); err != nil {
		return nil, fmt.Errorf("failed to read primary key of %s: %w", table, err)
	}

	sridQuery := `
		SELECT f_geometry_column, srid
		FROM geometry_columns
		WHERE f_table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND f_table_name = $2
	`
	if err := p.scanPairs(ctx, q, sridQuery, dbSchema, table, func(column string, srid int) {
		for i := range info.Columns {
			if info.Columns[i].Name == column {
				info.Columns[i].SRID = srid
			}
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to read spatial references of %s: %w", table, err)
	}
	return info, nil
}

func (p *PostGIS) scanPairs(ctx context.Context, q core.Querier, query, dbSchema, table string, fn func(string, int)) error {
	rows, err := q.QueryContext(ctx, query, dbSchema, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n sql.NullInt64
		if err := rows.Scan(&name, &n); err != nil {
			return err
		}
		if n.Valid {
			fn(name, int(n.Int64))
		}
	}
	return rows.Err()
}

func init() {
	Register(NewPostGIS())
}
