package dialect

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/filter"
)

// SQLite stores geometries as plain WKB blobs. It has no spatial functions,
// so bounding box and measure predicates are always evaluated in process.
// LIKE is left to the client too because SQLite matches it case
// insensitively.
type SQLite struct {
	base
}

var _ core.Dialect = (*SQLite)(nil)

// NewSQLite returns the SQLite dialect.
func NewSQLite() *SQLite {
	return &SQLite{base{
		name:   "sqlite",
		driver: "sqlite3",
		quote:  `"`,
		caps: filter.NewCapabilities(filter.ComparisonOperators...).
			WithOperators(filter.OpIsNull).
			WithLogic(filter.LogicAnd, filter.LogicOr, filter.LogicNot).
			WithFeatureIDs(),
		types: core.NewTypeMap(map[string]core.ValueType{
			"integer": core.TypeInteger, "int": core.TypeInteger, "bigint": core.TypeInteger,
			"smallint": core.TypeInteger, "tinyint": core.TypeInteger,
			"real": core.TypeFloat, "double": core.TypeFloat, "float": core.TypeFloat,
			"numeric": core.TypeFloat, "decimal": core.TypeFloat,
			"text": core.TypeText, "varchar": core.TypeText, "char": core.TypeText, "clob": core.TypeText,
			"boolean": core.TypeBoolean, "bool": core.TypeBoolean,
			"date": core.TypeDate, "datetime": core.TypeDate, "timestamp": core.TypeDate,
			"geometry": core.TypeGeometry, "point": core.TypeGeometry, "linestring": core.TypeGeometry,
			"polygon": core.TypeGeometry, "multipoint": core.TypeGeometry, "multilinestring": core.TypeGeometry,
			"multipolygon": core.TypeGeometry, "geometrycollection": core.TypeGeometry,
		}),
	}}
}

func (*SQLite) Placeholder(int) string { return "?" }

func (*SQLite) SelectGeometry(column string, _ int) string { return column }

func (*SQLite) GeometryParameter(placeholder string, _ int) string { return placeholder }

func (s *SQLite) EncodeBBox(column string, _ filter.BBox, _ int, _ func(interface{}) string) (string, error) {
	return "", fmt.Errorf("%w: bounding box on %s in %s", core.ErrEncoding, column, s.name)
}

func (s *SQLite) EncodeFunction(name string, _ []string) (string, error) {
	return "", fmt.Errorf("%w: function %s in %s", core.ErrEncoding, name, s.name)
}

func (*SQLite) GeneratedKeys() core.GeneratedKeys { return core.KeysLastInsertID }

// Tables lists user tables. dbSchema names an attached database.
func (s *SQLite) Tables(ctx context.Context, q core.Querier, dbSchema string) ([]string, error) {
	master := "sqlite_master"
	if dbSchema != "" {
		master = s.QuoteIdentifier(dbSchema) + ".sqlite_master"
	}
	query := "SELECT name FROM " + master + " WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	return scanNames(ctx, q, query)
}

// Describe reads PRAGMA table_info. A single INTEGER key column aliases the
// rowid and is therefore generated.
func (s *SQLite) Describe(ctx context.Context, q core.Querier, dbSchema, table string) (*core.TableInfo, error) {
	pragma := "PRAGMA "
	if dbSchema != "" {
		pragma += s.QuoteIdentifier(dbSchema) + "."
	}
	pragma += "table_info(" + s.QuoteIdentifier(table) + ")"

	rows, err := q.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer rows.Close()

	info := &core.TableInfo{Name: table, Schema: dbSchema}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			dflt             interface{}
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		info.Columns = append(info.Columns, core.ColumnInfo{
			Name:       name,
			SQLType:    colType,
			Nullable:   notNull == 0 && pk == 0,
			PrimaryKey: pk,
			SRID:       core.UnknownSRID,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("%w: table %s", core.ErrSchemaNotFound, table)
	}

	if keys := info.KeyColumns(); len(keys) == 1 && strings.EqualFold(strings.TrimSpace(keys[0].SQLType), "integer") {
		for i := range info.Columns {
			if info.Columns[i].PrimaryKey == 1 {
				info.Columns[i].AutoIncrement = true
			}
		}
	}
	return info, nil
}

func init() {
	Register(NewSQLite())
}
