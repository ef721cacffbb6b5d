package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/dialect"
	"github.com/rzpsarthak13/featurestore/internal/feature"
	"github.com/rzpsarthak13/featurestore/internal/filter"
	"github.com/rzpsarthak13/featurestore/internal/keymapper"
	"github.com/rzpsarthak13/featurestore/internal/metrics"
	"github.com/rzpsarthak13/featurestore/internal/registry"
)

func square(size float64) geom.Polygon {
	return geom.Polygon{{{0, 0}, {size, 0}, {size, size}, {0, size}}}
}

type counter struct {
	next int64
}

func (c *counter) Next(context.Context, string) (int64, error) {
	c.next++
	return c.next, nil
}

func (c *counter) Close() error { return nil }

type fixture struct {
	store   *Store
	config  *registry.ConfigManager
	metrics *metrics.Metrics
	hooks   int
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	d := dialect.NewSQLite()
	db, err := database.Open(ctx, d, database.Config{
		Database:     filepath.Join(t.TempDir(), "store.db"),
		MaxOpenConns: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE parcels (id INTEGER PRIMARY KEY, name TEXT NOT NULL, geom GEOMETRY)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE notes (body TEXT)`)
	require.NoError(t, err)
	for _, row := range []struct {
		name string
		geom geom.Geometry
	}{
		{"X", square(2)},
		{"Y", square(10)},
		{"Z", square(1)},
	} {
		b, err := wkb.EncodeBytes(row.geom)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO parcels (name, geom) VALUES (?, ?)`, row.name, b)
		require.NoError(t, err)
	}

	f := &fixture{config: registry.NewConfigManager(), metrics: metrics.New(prometheus.NewRegistry())}
	lm := registry.NewLifecycleManager()
	lm.RegisterHook(registry.LifecycleHookFunc{
		OnDiscoverFunc: func(context.Context, string, *core.Schema) error {
			f.hooks++
			return nil
		},
	})
	opts.Dialect = d
	opts.DB = db
	opts.Config = f.config
	opts.Types = registry.NewTypeRegistry(lm)
	opts.Metrics = f.metrics
	f.store, err = New(opts)
	require.NoError(t, err)
	return f
}

func readAll(t *testing.T, s *Store, q core.Query) []*core.Feature {
	t.Helper()
	r, err := s.OpenReader(context.Background(), q, nil)
	require.NoError(t, err)
	defer r.Close()
	var out []*core.Feature
	for {
		ok, err := r.HasNext()
		require.NoError(t, err)
		if !ok {
			return out
		}
		f, err := r.Next()
		require.NoError(t, err)
		out = append(out, f)
	}
}

func TestSchemaForDiscoversAndCaches(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	schema, err := f.store.SchemaFor(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "geom"}, schema.Names(), "generated key is hidden")
	geomAttr, _ := schema.Lookup("geom")
	assert.Equal(t, core.TypeGeometry, geomAttr.Type)
	assert.Equal(t, core.UnknownSRID, geomAttr.SRID)

	_, err = f.store.SchemaFor(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, 1, f.hooks)

	require.NoError(t, f.store.Invalidate(ctx, "parcels"))
	_, err = f.store.SchemaFor(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, 2, f.hooks)

	_, err = f.store.SchemaFor(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrSchemaNotFound)
}

func TestOpenReaderSplitsUnsupportedOr(t *testing.T) {
	f := newFixture(t, Options{})
	p := filter.AnyOf(filter.Eq("name", "X"), filter.Compare(filter.Area("geom"), filter.OpGreater, 10))

	fs := readAll(t, f.store, core.Query{TypeName: "parcels", Filter: p})
	require.Len(t, fs, 2)
	assert.Equal(t, "X", fs[0].Get("name"))
	assert.Equal(t, "Y", fs[1].Get("name"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FilterSplits.WithLabelValues("parcels", metrics.SplitResidual)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FeaturesFiltered.WithLabelValues("parcels")))
}

func TestOpenReaderPushesConjunction(t *testing.T) {
	f := newFixture(t, Options{})
	p := filter.AllOf(filter.Eq("name", "X"), filter.Eq("name", "Y"))

	assert.Empty(t, readAll(t, f.store, core.Query{TypeName: "parcels", Filter: p}))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FilterSplits.WithLabelValues("parcels", metrics.SplitPushed)))
}

func TestOpenReaderRejectsUnknownAttribute(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.OpenReader(context.Background(), core.Query{TypeName: "parcels", Properties: []string{"owner"}}, nil)
	assert.ErrorIs(t, err, core.ErrAttributeNotFound)
}

func TestCount(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	n, err := f.store.Count(ctx, core.Query{TypeName: "parcels"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.store.Count(ctx, core.Query{TypeName: "parcels", Filter: filter.Ne("name", "Y")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.store.Count(ctx, core.Query{TypeName: "parcels", MaxFeatures: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.store.Count(ctx, core.Query{TypeName: "parcels", Filter: filter.Compare(filter.Area("geom"), filter.OpLess, 5)}, nil)
	require.NoError(t, err)
	assert.Equal(t, NotOptimizable, n)
}

func TestWriterInsertIDDecodesToGeneratedKey(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var mu sync.Mutex
	var events []core.FeatureEvent
	f.store.AddListener(core.ListenerFunc(func(_ context.Context, ev core.FeatureEvent) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
		return nil
	}))

	w, err := f.store.OpenWriter(ctx, "parcels", filter.None, nil)
	require.NoError(t, err)
	nf, err := w.Next()
	require.NoError(t, err)
	require.NoError(t, nf.Set("name", "W"))
	require.NoError(t, nf.Set("geom", square(4)))
	require.NoError(t, w.Write(ctx))
	require.NoError(t, w.Close())

	keys, err := f.keys(t, nf.ID())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(4)}, keys)

	fs := readAll(t, f.store, core.Query{TypeName: "parcels", Filter: filter.IDs(nf.ID())})
	require.Len(t, fs, 1)
	assert.Equal(t, "W", fs[0].Get("name"))

	require.Len(t, events, 1)
	assert.Equal(t, core.FeaturesAdded, events[0].Kind)
	assert.Equal(t, "parcels", events[0].TypeName)
}

func (f *fixture) keys(t *testing.T, id string) ([]interface{}, error) {
	t.Helper()
	meta, err := f.store.metadata(context.Background(), "parcels")
	require.NoError(t, err)
	return meta.Mapper.GetPKAttributes(id)
}

func TestOpenWriterRefusesVolatileIDs(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.store.OpenWriter(ctx, "notes", filter.All, nil)
	assert.ErrorIs(t, err, core.ErrVolatileKeys)

	w, err := f.store.OpenWriter(ctx, "notes", filter.All, nil, AllowVolatile())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, f.config.SetTableConfig("notes", registry.InternalTableConfig{AllowVolatile: true}))
	require.NoError(t, f.store.Invalidate(ctx, "notes"))
	w, err = f.store.OpenWriter(ctx, "notes", filter.All, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestSequenceKeysFromCounter(t *testing.T) {
	seq := &counter{next: 99}
	f := newFixture(t, Options{Sequences: seq})
	ctx := context.Background()
	require.NoError(t, f.config.SetTableConfig("parcels", registry.InternalTableConfig{KeyStrategy: keymapper.StrategySequence}))

	w, err := f.store.OpenWriter(ctx, "parcels", filter.None, nil)
	require.NoError(t, err)
	nf, err := w.Next()
	require.NoError(t, err)
	require.NoError(t, nf.Set("name", "S"))
	require.NoError(t, w.Write(ctx))
	require.NoError(t, w.Close())

	assert.Equal(t, "parcels.100", nf.ID())
	var name string
	require.NoError(t, f.store.DB().QueryRow(`SELECT name FROM parcels WHERE id = 100`).Scan(&name))
	assert.Equal(t, "S", name)
}

func TestSetKeyMapperExposesKeyColumns(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	m, err := keymapper.NewColumns("parcels", keymapper.Column{Name: "id", Type: core.TypeInteger})
	require.NoError(t, err)
	require.NoError(t, f.store.SetKeyMapper(ctx, "parcels", m))

	schema, err := f.store.SchemaFor(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "geom"}, schema.Names())

	fs := readAll(t, f.store, core.Query{TypeName: "parcels", Properties: []string{"name"}, Filter: filter.Eq("id", 2)})
	require.Len(t, fs, 1)
	assert.Equal(t, "parcels.2", fs[0].ID())
	assert.Equal(t, []string{"name"}, fs[0].Schema().Names())
}

func TestTypeNamesAndRenamedTables(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	names, err := f.store.TypeNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes", "parcels"}, names)

	require.NoError(t, f.config.SetTableConfig("lots", registry.InternalTableConfig{Table: "parcels"}))
	names, err = f.store.TypeNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes", "lots"}, names)

	schema, err := f.store.SchemaFor(ctx, "lots")
	require.NoError(t, err)
	assert.Equal(t, "lots", schema.TypeName())
	fs := readAll(t, f.store, core.Query{TypeName: "lots", Filter: filter.Eq("name", "Z")})
	require.Len(t, fs, 1)
	assert.Equal(t, "lots.3", fs[0].ID())
}

func TestBoundsAndVisit(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	b, err := f.store.Bounds(ctx, core.Query{TypeName: "parcels", Filter: filter.Ne("name", "Y")}, nil)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 2.0, b.MaxX())

	b, err = f.store.Bounds(ctx, core.Query{TypeName: "notes"}, nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	boom := errors.New("boom")
	visited := 0
	err = f.store.Visit(ctx, core.Query{TypeName: "parcels"}, nil, func(ft *core.Feature) error {
		visited++
		if ft.Get("name") == "Z" {
			return boom
		}
		return nil
	})
	assert.Equal(t, 3, visited)
	assert.ErrorIs(t, err, boom)
	var failures feature.VisitErrors
	require.ErrorAs(t, err, &failures)
	assert.Equal(t, "parcels.3", failures[0].FeatureID)
}

func TestSharedTransactionAcrossCursors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	tx, err := f.store.BeginTransaction(ctx, "edit")
	require.NoError(t, err)

	w, err := f.store.OpenWriter(ctx, "parcels", filter.Eq("name", "Z"), tx)
	require.NoError(t, err)
	_, err = w.Next()
	require.NoError(t, err)
	require.NoError(t, w.Remove(ctx))
	require.NoError(t, w.Close())

	n, err := f.store.Count(ctx, core.Query{TypeName: "parcels"}, tx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "transaction sees its own delete")

	require.NoError(t, tx.Rollback())
	n, err = f.store.Count(ctx, core.Query{TypeName: "parcels"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOpenReaderEmptyProjection(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.DB().Exec(`INSERT INTO notes (body) VALUES ('a'), ('b')`)
	require.NoError(t, err)

	fs := readAll(t, f.store, core.Query{TypeName: "notes", Properties: []string{}})
	require.Len(t, fs, 2)
	assert.Equal(t, 0, fs[0].Schema().Len())
	assert.NotEqual(t, fs[0].ID(), fs[1].ID())

	fs = readAll(t, f.store, core.Query{TypeName: "parcels", Properties: []string{}, Filter: filter.Eq("name", "Y")})
	require.Len(t, fs, 1)
	keys, err := f.keys(t, fs[0].ID())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(2)}, keys)
}

func TestMalformedIDFilterFails(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.store.OpenReader(ctx, core.Query{TypeName: "parcels", Filter: filter.IDs("parcels.notanint")}, nil)
	assert.ErrorIs(t, err, core.ErrMalformedID)

	_, err = f.store.Count(ctx, core.Query{TypeName: "parcels", Filter: filter.IDs("parcels.1", "roads.1")}, nil)
	assert.ErrorIs(t, err, core.ErrMalformedID)

	_, err = f.store.OpenWriter(ctx, "parcels", filter.IDs("garbage"), nil)
	assert.ErrorIs(t, err, core.ErrMalformedID)
}
