package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/filter"
)

// MySQL is the dialect for MySQL 8 spatial tables.
type MySQL struct {
	base
}

var _ core.Dialect = (*MySQL)(nil)

// NewMySQL returns the MySQL dialect.
func NewMySQL() *MySQL {
	return &MySQL{base{
		name:   "mysql",
		driver: "mysql",
		quote:  "`",
		caps: filter.NewCapabilities(filter.ComparisonOperators...).
			WithOperators(filter.OpLike, filter.OpIsNull, filter.OpBBox).
			WithLogic(filter.LogicAnd, filter.LogicOr, filter.LogicNot).
			WithFunctions("area", "length").
			WithFeatureIDs(),
		types: core.NewTypeMap(map[string]core.ValueType{
			"tinyint": core.TypeInteger, "smallint": core.TypeInteger, "mediumint": core.TypeInteger,
			"int": core.TypeInteger, "integer": core.TypeInteger, "bigint": core.TypeInteger,
			"float": core.TypeFloat, "double": core.TypeFloat, "real": core.TypeFloat,
			"decimal": core.TypeFloat, "numeric": core.TypeFloat,
			"char": core.TypeText, "varchar": core.TypeText, "text": core.TypeText,
			"tinytext": core.TypeText, "mediumtext": core.TypeText, "longtext": core.TypeText,
			"enum": core.TypeText,
			"bool": core.TypeBoolean, "boolean": core.TypeBoolean, "bit": core.TypeBoolean,
			"date": core.TypeDate, "datetime": core.TypeDate, "timestamp": core.TypeDate,
			"geometry": core.TypeGeometry, "point": core.TypeGeometry, "linestring": core.TypeGeometry,
			"polygon": core.TypeGeometry, "multipoint": core.TypeGeometry, "multilinestring": core.TypeGeometry,
			"multipolygon": core.TypeGeometry, "geometrycollection": core.TypeGeometry,
			"geomcollection": core.TypeGeometry,
		}),
	}}
}

func (*MySQL) Placeholder(int) string { return "?" }

func (*MySQL) SelectGeometry(column string, _ int) string {
	return "ST_AsBinary(" + column + ")"
}

func (*MySQL) GeometryParameter(placeholder string, srid int) string {
	if srid > 0 {
		return fmt.Sprintf("ST_GeomFromWKB(%s, %d)", placeholder, srid)
	}
	return "ST_GeomFromWKB(" + placeholder + ")"
}

func (*MySQL) EncodeBBox(column string, box filter.BBox, srid int, bind func(interface{}) string) (string, error) {
	wkt := bind(envelopeWKT(box))
	envelope := "ST_GeomFromText(" + wkt + ")"
	if srid > 0 {
		envelope = fmt.Sprintf("ST_GeomFromText(%s, %d)", wkt, srid)
	}
	return "MBRIntersects(" + column + ", " + envelope + ")", nil
}

func (*MySQL) GeneratedKeys() core.GeneratedKeys { return core.KeysLastInsertID }

// Tables lists the base tables of dbSchema, or of the connection's database.
func (m *MySQL) Tables(ctx context.Context, q core.Querier, dbSchema string) ([]string, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	return scanNames(ctx, q, query, dbSchema)
}

// Describe reads the column layout, key order and spatial reference of a
// table from INFORMATION_SCHEMA.
func (m *MySQL) Describe(ctx context.Context, q core.Querier, dbSchema, table string) (*core.TableInfo, error) {
	query := `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, EXTRA, SRS_ID
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := q.QueryContext(ctx, query, dbSchema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer rows.Close()

	info := &core.TableInfo{Name: table, Schema: dbSchema}
	for rows.Next() {
		var name, colType, nullable, extra string
		var srid sql.NullInt64
		if err := rows.Scan(&name, &colType, &nullable, &extra, &srid); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		col := core.ColumnInfo{
			Name:          name,
			SQLType:       colType,
			Nullable:      nullable == "YES",
			AutoIncrement: strings.Contains(strings.ToLower(extra), "auto_increment"),
			SRID:          core.UnknownSRID,
		}
		if srid.Valid {
			col.SRID = int(srid.Int64)
		}
		info.Columns = append(info.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("%w: table %s", core.ErrSchemaNotFound, table)
	}

	keyQuery := `
		SELECT COLUMN_NAME, ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`
	keyRows, err := q.QueryContext(ctx, keyQuery, dbSchema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key of %s: %w", table, err)
	}
	defer keyRows.Close()

	for keyRows.Next() {
		var name string
		var pos int
		if err := keyRows.Scan(&name, &pos); err != nil {
			return nil, fmt.Errorf("failed to scan key column of %s: %w", table, err)
		}
		markKey(info, name, pos)
	}
	if err := keyRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating key columns of %s: %w", table, err)
	}
	return info, nil
}

func markKey(info *core.TableInfo, column string, pos int) {
	for i := range info.Columns {
		if info.Columns[i].Name == column {
			info.Columns[i].PrimaryKey = pos
			return
		}
	}
}

func scanNames(ctx context.Context, q core.Querier, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func init() {
	Register(NewMySQL())
}
