package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/keymapper"
	"github.com/rzpsarthak13/featurestore/internal/registry"
	"github.com/rzpsarthak13/featurestore/internal/translate"
)

// SchemaFor returns the schema of typeName, discovering the table on first
// use.
func (s *Store) SchemaFor(ctx context.Context, typeName string) (*core.Schema, error) {
	meta, err := s.metadata(ctx, typeName)
	if err != nil {
		return nil, err
	}
	return meta.Schema, nil
}

// Invalidate drops the cached schema of typeName so the next use discovers
// it again.
func (s *Store) Invalidate(ctx context.Context, typeName string) error {
	dropped, err := s.types.Invalidate(ctx, typeName)
	if err != nil {
		return err
	}
	if dropped {
		s.logger.Debug("Store.Invalidate() - schema dropped", "type", typeName)
	}
	return nil
}

// SetKeyMapper replaces the key mapper of typeName. The schema is rebuilt
// because the mapper decides whether key columns are attributes.
func (s *Store) SetKeyMapper(ctx context.Context, typeName string, mapper core.KeyMapper) error {
	if mapper == nil {
		return fmt.Errorf("key mapper for %s cannot be nil", typeName)
	}
	meta, err := s.metadata(ctx, typeName)
	if err != nil {
		return err
	}
	schema, err := s.buildSchema(typeName, meta.Table, meta.Config, mapper)
	if err != nil {
		return err
	}
	tr := translate.New(s.dialect, meta.Config.Schema, meta.Config.Table, schema, mapper)
	if err := s.types.Rebind(typeName, schema, mapper, tr); err != nil {
		return err
	}
	s.logger.Info("Store.SetKeyMapper() - key mapper replaced", "type", typeName, "mapper", fmt.Sprintf("%T", mapper))
	return nil
}

// TypeNames lists the feature types of the database schema. Tables renamed
// through configuration are reported under their type name.
func (s *Store) TypeNames(ctx context.Context) ([]string, error) {
	tables, err := s.dialect.Tables(ctx, s.db, s.config.GetConfig().Database.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	renamed := make(map[string]string)
	for typeName, tc := range s.config.GetConfig().Tables {
		if tc.Table != "" && tc.Table != typeName {
			renamed[tc.Table] = typeName
		}
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		if typeName, ok := renamed[t]; ok {
			t = typeName
		}
		names[i] = t
	}
	return names, nil
}

func (s *Store) metadata(ctx context.Context, typeName string) (*registry.TypeMetadata, error) {
	if meta, ok := s.types.Get(typeName); ok {
		return meta, nil
	}

	s.discoverMu.Lock()
	defer s.discoverMu.Unlock()
	if meta, ok := s.types.Get(typeName); ok {
		return meta, nil
	}

	meta, err := s.discover(ctx, typeName)
	if err != nil {
		return nil, err
	}
	if err := s.types.Register(ctx, meta); err != nil {
		return nil, err
	}
	s.logger.Debug("Store.metadata() - schema discovered",
		"type", typeName, "attributes", meta.Schema.Len(), "mapper", fmt.Sprintf("%T", meta.Mapper))
	return meta, nil
}

// discover introspects the table behind typeName and binds a key mapper and
// translator to it.
func (s *Store) discover(ctx context.Context, typeName string) (*registry.TypeMetadata, error) {
	if typeName == "" {
		return nil, fmt.Errorf("%w: empty type name", core.ErrSchemaNotFound)
	}
	tc := s.config.GetTableConfig(typeName)

	info, err := s.dialect.Describe(ctx, s.db, tc.Schema, tc.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", typeName, err)
	}

	mapper, err := s.buildMapper(typeName, *info, tc)
	if err != nil {
		return nil, err
	}
	schema, err := s.buildSchema(typeName, *info, tc, mapper)
	if err != nil {
		return nil, err
	}
	return &registry.TypeMetadata{
		TypeName:   typeName,
		Table:      *info,
		Schema:     schema,
		Mapper:     mapper,
		Translator: translate.New(s.dialect, tc.Schema, tc.Table, schema, mapper),
		Config:     tc,
	}, nil
}

func (s *Store) buildMapper(typeName string, info core.TableInfo, tc registry.InternalTableConfig) (core.KeyMapper, error) {
	keys := info.KeyColumns()
	binding := keymapper.Binding{
		TypeName: typeName,
		Columns:  make([]keymapper.Column, len(keys)),
		Table:    s.dialect.Table(tc.Schema, tc.Table),
		Quote:    s.dialect.QuoteIdentifier,
	}
	for i, k := range keys {
		typ, err := s.columnType(k, tc)
		if err != nil {
			return nil, err
		}
		binding.Columns[i] = keymapper.Column{Name: k.Name, Type: typ, AutoIncrement: k.AutoIncrement}
	}
	if s.sequences != nil {
		binding.Sequence = keymapper.NewCounterSequence(s.sequences, tc.SequenceKey)
	}
	return keymapper.New(tc.KeyStrategy, binding)
}

// buildSchema turns the table columns into attributes. Key columns are left
// out when mapper hides them.
func (s *Store) buildSchema(typeName string, info core.TableInfo, tc registry.InternalTableConfig, mapper core.KeyMapper) (*core.Schema, error) {
	hidden := make(map[string]bool)
	if !mapper.ReturnKeyColumnsAsAttributes() {
		for i := 0; i < mapper.ColumnCount(); i++ {
			hidden[strings.ToLower(mapper.ColumnName(i))] = true
		}
	}

	attrs := make([]core.AttributeDescriptor, 0, len(info.Columns))
	for _, c := range info.Columns {
		if hidden[strings.ToLower(c.Name)] {
			continue
		}
		typ, err := s.columnType(c, tc)
		if err != nil {
			return nil, err
		}
		a := core.AttributeDescriptor{
			Name:     c.Name,
			Type:     typ,
			Nullable: c.Nullable,
			SRID:     core.UnknownSRID,
			SQLType:  c.SQLType,
		}
		if typ == core.TypeGeometry {
			a.SRID = c.SRID
			if tc.SRID > 0 {
				a.SRID = tc.SRID
			}
		}
		attrs = append(attrs, a)
	}
	schema, err := core.NewSchema(typeName, attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema of %s: %w", typeName, err)
	}
	return schema, nil
}

func (s *Store) columnType(c core.ColumnInfo, tc registry.InternalTableConfig) (core.ValueType, error) {
	if forced, ok := tc.ColumnTypes[c.Name]; ok {
		typ, err := core.ParseValueType(forced)
		if err != nil {
			return core.TypeOther, fmt.Errorf("column %s of %s: %w", c.Name, tc.Table, err)
		}
		return typ, nil
	}
	return s.dialect.TypeMap().Resolve(c.SQLType), nil
}
