package featurestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/dialect"
)

func newClient(t *testing.T) Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "land.db")
	db, err := database.Open(context.Background(), dialect.NewSQLite(), database.Config{Database: path})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE land (id INTEGER PRIMARY KEY, name TEXT NOT NULL, geom GEOMETRY)`)
	require.NoError(t, err)
	for name, size := range map[string]float64{"X": 2, "Y": 10} {
		b, err := wkb.EncodeBytes(geom.Polygon{{{0, 0}, {size, 0}, {size, size}, {0, size}}})
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO land (name, geom) VALUES (?, ?)`, name, b)
		require.NoError(t, err)
	}

	config := DefaultConfig()
	config.Database.Dialect = "sqlite"
	config.Database.Database = path
	config.Tables["lots"] = TableConfig{Table: "land"}

	c, err := NewClient(config, WithLogOutput(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func names(t *testing.T, r *Reader) []string {
	t.Helper()
	defer r.Close()
	var out []string
	for {
		ok, err := r.HasNext()
		require.NoError(t, err)
		if !ok {
			return out
		}
		f, err := r.Next()
		require.NoError(t, err)
		out = append(out, f.Get("name").(string))
	}
}

func TestRegisterType(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	discovered := 0
	c.RegisterHook(LifecycleHookFunc{
		OnDiscoverFunc: func(context.Context, string, *Schema) error {
			discovered++
			return nil
		},
	})

	typeNames, err := c.TypeNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lots"}, typeNames)

	lots, err := c.GetType(ctx, "lots")
	require.NoError(t, err)
	assert.Equal(t, "lots", lots.Name())
	schema, err := lots.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "geom"}, schema.Names())

	_, err = c.GetType(ctx, "missing")
	assert.ErrorIs(t, err, ErrSchemaNotFound)

	lots, err = c.RegisterType(ctx, "lots", WithKeyStrategy("columns"), WithSRID(4326))
	require.NoError(t, err)
	schema, err = lots.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "geom"}, schema.Names(), "table mapping survives the options")
	g, _ := schema.Lookup("geom")
	assert.Equal(t, 4326, g.SRID)
	assert.Equal(t, 2, discovered)

	_, err = c.RegisterType(ctx, "lots", WithSRID(-1))
	assert.Error(t, err)
	_, err = c.RegisterType(ctx, "", WithSRID(1))
	assert.Error(t, err)
}

func TestFeatureTypeQueries(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	lots, err := c.GetType(ctx, "lots")
	require.NoError(t, err)

	r, err := lots.Features(ctx, Eq("name", "Y"), WithProperties("name"))
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, r.Schema().Names())
	assert.Equal(t, []string{"Y"}, names(t, r))

	r, err = lots.Features(ctx, nil, WithSortBy("name", true), WithHandle("sorted"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Y", "X"}, names(t, r))

	n, err := lots.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = lots.Count(ctx, Gt("name", "A"), WithMaxFeatures(1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := lots.Bounds(ctx, Eq("name", "X"))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 2.0, b.MaxX())

	visited := 0
	require.NoError(t, lots.Visit(ctx, Or(Eq("name", "X"), Eq("name", "Y")), func(*Feature) error {
		visited++
		return nil
	}))
	assert.Equal(t, 2, visited)
}

func TestWriterInTransaction(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	lots, err := c.GetType(ctx, "lots")
	require.NoError(t, err)

	var events []FeatureEvent
	c.AddListener(ListenerFunc(func(_ context.Context, ev FeatureEvent) error {
		events = append(events, ev)
		return nil
	}))

	tx, err := c.BeginTransaction(ctx, "edit")
	require.NoError(t, err)
	w, err := lots.Writer(ctx, None, InTransaction(tx))
	require.NoError(t, err)
	f, err := w.Next()
	require.NoError(t, err)
	require.NoError(t, f.Set("name", "Z"))
	require.NoError(t, w.Write(ctx))
	require.NoError(t, w.Close())

	n, err := lots.Count(ctx, nil, InTransaction(tx))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, tx.Rollback())

	n, err = lots.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, events, 1)
	assert.Equal(t, FeaturesAdded, events[0].Kind)
	assert.Equal(t, "edit", events[0].TxHandle)
}

func TestClosedClient(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	lots, err := c.GetType(ctx, "lots")
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsRunning())

	require.NoError(t, c.Close())
	_, err = c.GetType(ctx, "lots")
	assert.Error(t, err)
	_, err = lots.Features(ctx, nil)
	assert.Error(t, err)
	_, err = c.TypeNames(ctx)
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "featurestore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  dialect: sqlite\n  database: a.db\ntables:\n  lots:\n    table: land\n"), 0o600))
	t.Setenv("FEATURESTORE_DATABASE_DATABASE", "b.db")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "b.db", config.Database.Database)
	assert.Equal(t, "land", config.Tables["lots"].Table)
	assert.Equal(t, 25, config.Database.MaxOpenConns)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
