package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/dialect"
	"github.com/rzpsarthak13/featurestore/internal/logging"
	"github.com/rzpsarthak13/featurestore/pkg/featurestore"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.db")
	db, err := database.Open(context.Background(), dialect.NewSQLite(), database.Config{Database: path})
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE roads (id INTEGER PRIMARY KEY, name TEXT NOT NULL, lanes INTEGER, geom GEOMETRY)`)
	require.NoError(t, err)
	for _, row := range []struct {
		name  string
		lanes int
		line  geom.LineString
	}{
		{"A1", 4, geom.LineString{{0, 0}, {10, 10}}},
		{"B2", 2, geom.LineString{{20, 20}, {30, 25}}},
	} {
		b, err := wkb.EncodeBytes(row.line)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO roads (name, lanes, geom) VALUES (?, ?, ?)`, row.name, row.lanes, b)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	config := featurestore.DefaultConfig()
	config.Database.Dialect = "sqlite"
	config.Database.Database = path
	client, err := featurestore.NewClient(config, featurestore.WithLogOutput(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	srv := httptest.NewServer(newRouter(newHandler(client, logging.Discard())))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestTypesAndSchema(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, "GET", srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = do(t, "GET", srv.URL+"/types", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"roads"}, body["types"])

	status, body = do(t, "GET", srv.URL+"/types/roads/schema", "")
	assert.Equal(t, http.StatusOK, status)
	attrs := body["attributes"].([]interface{})
	require.Len(t, attrs, 3)
	assert.Equal(t, "lanes", attrs[1].(map[string]interface{})["name"])
	assert.Equal(t, "integer", attrs[1].(map[string]interface{})["type"])

	status, _ = do(t, "GET", srv.URL+"/types/rivers/schema", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, "DELETE", srv.URL+"/types/roads/schema", "")
	assert.Equal(t, http.StatusNoContent, status)
}

func TestGetFeatures(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, "GET", srv.URL+"/types/roads/features?lanes=4", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "FeatureCollection", body["type"])
	features := body["features"].([]interface{})
	require.Len(t, features, 1)
	f := features[0].(map[string]interface{})
	assert.Equal(t, "A1", f["properties"].(map[string]interface{})["name"])
	assert.Equal(t, "LineString", f["geometry"].(map[string]interface{})["type"])

	status, body = do(t, "GET", srv.URL+"/types/roads/features?properties=name&sortBy=-name", "")
	require.Equal(t, http.StatusOK, status)
	features = body["features"].([]interface{})
	require.Len(t, features, 2)
	first := features[0].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"name": "B2"}, first["properties"])
	assert.Nil(t, first["geometry"])

	status, body = do(t, "GET", srv.URL+"/types/roads/features?bbox=15,15,40,40", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["numberReturned"])

	for _, q := range []string{"lanes=many", "maxFeatures=-1", "width=3", "bbox=1,2,3", "geom=x"} {
		status, _ = do(t, "GET", srv.URL+"/types/roads/features?"+q, "")
		assert.Equal(t, http.StatusBadRequest, status, q)
	}
}

func TestCountAndBounds(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, "GET", srv.URL+"/types/roads/count?maxFeatures=1", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, true, body["optimizable"])

	status, body = do(t, "GET", srv.URL+"/types/roads/bounds", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{0.0, 0.0, 30.0, 25.0}, body["bbox"])

	status, body = do(t, "GET", srv.URL+"/types/roads/bounds?name=none", "")
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, body["bbox"])
}

func TestPostAndDeleteFeature(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, "POST", srv.URL+"/types/roads/features", `{"properties":{"name":"C3","lanes":6}}`)
	require.Equal(t, http.StatusCreated, status)
	id := body["id"].(string)
	require.NotEmpty(t, id)

	_, body = do(t, "GET", srv.URL+"/types/roads/count", "")
	assert.EqualValues(t, 3, body["count"])

	status, _ = do(t, "POST", srv.URL+"/types/roads/features", `{"properties":{"lanes":"six"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, "POST", srv.URL+"/types/roads/features", `{`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, "DELETE", srv.URL+"/types/roads/features/"+id, "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = do(t, "DELETE", srv.URL+"/types/roads/features/"+id, "")
	assert.Equal(t, http.StatusNotFound, status)

	_, body = do(t, "GET", srv.URL+"/types/roads/count", "")
	assert.EqualValues(t, 2, body["count"])
}
