package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/gorilla/mux"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/pkg/featurestore"
)

// handler serves the feature store over HTTP.
type handler struct {
	client featurestore.Client
	logger *slog.Logger
}

func newHandler(client featurestore.Client, logger *slog.Logger) *handler {
	return &handler{client: client, logger: logger}
}

func newRouter(h *handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.handleGetHealth).Methods("GET").Name("GetHealth")
	router.HandleFunc("/types", h.handleGetTypes).Methods("GET").Name("GetTypes")
	router.HandleFunc("/types/{type}/schema", h.handleGetSchema).Methods("GET").Name("GetSchema")
	router.HandleFunc("/types/{type}/schema", h.handleDeleteSchema).Methods("DELETE").Name("DeleteSchema")
	router.HandleFunc("/types/{type}/features", h.handleGetFeatures).Methods("GET").Name("GetFeatures")
	router.HandleFunc("/types/{type}/features", h.handlePostFeature).Methods("POST").Name("PostFeature")
	router.HandleFunc("/types/{type}/features/{id}", h.handleDeleteFeature).Methods("DELETE").Name("DeleteFeature")
	router.HandleFunc("/types/{type}/count", h.handleGetCount).Methods("GET").Name("GetCount")
	router.HandleFunc("/types/{type}/bounds", h.handleGetBounds).Methods("GET").Name("GetBounds")
	return router
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("handler.writeJSON() - write response", "error", err)
	}
}

// writeError maps err to a status code.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrSchemaNotFound), errors.Is(err, core.ErrNoFeature):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrAttributeNotFound), errors.Is(err, core.ErrMalformedID),
		errors.Is(err, core.ErrEncoding), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrVolatileKeys):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("handler.writeError() - request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"running":   h.client.IsRunning(),
	})
}

func (h *handler) handleGetTypes(w http.ResponseWriter, r *http.Request) {
	names, err := h.client.TypeNames(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"types": names})
}

type attributeJSON struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	SRID     *int   `json:"srid,omitempty"`
}

func (h *handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	ft, schema, err := h.featureType(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	attrs := make([]attributeJSON, 0, schema.Len())
	for _, a := range schema.Attributes() {
		aj := attributeJSON{Name: a.Name, Type: a.Type.String(), Nullable: a.Nullable}
		if a.IsGeometry() && a.SRID != core.UnknownSRID {
			srid := a.SRID
			aj.SRID = &srid
		}
		attrs = append(attrs, aj)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"typeName":   ft.Name(),
		"attributes": attrs,
	})
}

func (h *handler) handleDeleteSchema(w http.ResponseWriter, r *http.Request) {
	ft, _, err := h.featureType(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := ft.Invalidate(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type featureJSON struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id,omitempty"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

func encodeFeature(f *featurestore.Feature) featureJSON {
	schema := f.Schema()
	out := featureJSON{Type: "Feature", ID: f.ID(), Properties: make(map[string]interface{}, schema.Len())}
	def := schema.DefaultGeometry()
	for i, a := range schema.Attributes() {
		v := f.Value(i)
		if a.IsGeometry() && v != nil {
			g := &geojson.Geometry{Geometry: v}
			if i == def {
				out.Geometry = g
				continue
			}
			out.Properties[a.Name] = g
			continue
		}
		out.Properties[a.Name] = v
	}
	return out
}

func (h *handler) handleGetFeatures(w http.ResponseWriter, r *http.Request) {
	ft, schema, err := h.featureType(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, opts, err := parseQuery(r, schema)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reader, err := ft.Features(r.Context(), p, opts...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer reader.Close()

	features := make([]featureJSON, 0)
	for {
		ok, err := reader.HasNext()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if !ok {
			break
		}
		f, err := reader.Next()
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		features = append(features, encodeFeature(f))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"type":           "FeatureCollection",
		"numberReturned": len(features),
		"features":       features,
	})
}

func (h *handler) handleGetCount(w http.ResponseWriter, r *http.Request) {
	ft, schema, err := h.featureType(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, opts, err := parseQuery(r, schema)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := ft.Count(r.Context(), p, opts...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if n == featurestore.NotOptimizable {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"count": nil, "optimizable": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"count": n, "optimizable": true})
}

func (h *handler) handleGetBounds(w http.ResponseWriter, r *http.Request) {
	ft, schema, err := h.featureType(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, opts, err := parseQuery(r, schema)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := ft.Bounds(r.Context(), p, opts...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var bbox []float64
	if b != nil {
		bbox = []float64{b.MinX(), b.MinY(), b.MaxX(), b.MaxY()}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"bbox": bbox})
}

type postFeatureRequest struct {
	Properties map[string]interface{} `json:"properties"`
}

func (h *handler) handlePostFeature(w http.ResponseWriter, r *http.Request) {
	ft, schema, err := h.featureType(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req postFeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err))
		return
	}

	writer, err := ft.Writer(r.Context(), featurestore.None, featurestore.WithHandle("http"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer writer.Close()

	f, err := writer.Next()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	for name, raw := range req.Properties {
		a, ok := schema.Lookup(name)
		if !ok {
			h.writeError(w, r, fmt.Errorf("%w: %s", core.ErrAttributeNotFound, name))
			return
		}
		v, err := jsonValue(a, raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := f.Set(name, v); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if err := writer.Write(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": f.ID()})
}

func (h *handler) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	ft, _, err := h.featureType(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	writer, err := ft.Writer(r.Context(), featurestore.IDs(id), featurestore.WithHandle("http"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer writer.Close()

	ok, err := writer.HasNext()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, r, fmt.Errorf("%w: %s", core.ErrNoFeature, id))
		return
	}
	if _, err := writer.Next(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := writer.Remove(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) featureType(r *http.Request) (featurestore.FeatureType, *featurestore.Schema, error) {
	ft, err := h.client.GetType(r.Context(), mux.Vars(r)["type"])
	if err != nil {
		return nil, nil, err
	}
	schema, err := ft.Schema(r.Context())
	if err != nil {
		return nil, nil, err
	}
	return ft, schema, nil
}

var errBadRequest = errors.New("bad request")

// parseQuery turns the query string into a predicate. Reserved parameters
// shape the query; every other parameter is an equality test on the
// attribute of the same name.
func parseQuery(r *http.Request, schema *featurestore.Schema) (featurestore.Predicate, []featurestore.QueryOption, error) {
	var (
		preds []featurestore.Predicate
		opts  []featurestore.QueryOption
	)
	for key, values := range r.URL.Query() {
		value := values[len(values)-1]
		switch key {
		case "properties":
			opts = append(opts, featurestore.WithProperties(splitList(value)...))
		case "maxFeatures":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, nil, fmt.Errorf("%w: maxFeatures must be a non-negative integer", errBadRequest)
			}
			opts = append(opts, featurestore.WithMaxFeatures(n))
		case "sortBy":
			for _, s := range splitList(value) {
				opts = append(opts, featurestore.WithSortBy(strings.TrimPrefix(s, "-"), strings.HasPrefix(s, "-")))
			}
		case "ids":
			preds = append(preds, featurestore.IDs(splitList(value)...))
		case "bbox":
			p, err := parseBBox(value, schema)
			if err != nil {
				return nil, nil, err
			}
			preds = append(preds, p)
		default:
			a, ok := schema.Lookup(key)
			if !ok {
				return nil, nil, fmt.Errorf("%w: %s", core.ErrAttributeNotFound, key)
			}
			v, err := queryValue(a, value)
			if err != nil {
				return nil, nil, err
			}
			preds = append(preds, featurestore.Eq(key, v))
		}
	}
	switch len(preds) {
	case 0:
		return nil, opts, nil
	case 1:
		return preds[0], opts, nil
	}
	return featurestore.And(preds...), opts, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBBox(value string, schema *featurestore.Schema) (featurestore.Predicate, error) {
	def := schema.DefaultGeometry()
	if def < 0 {
		return nil, fmt.Errorf("%w: %s has no geometry", errBadRequest, schema.TypeName())
	}
	parts := splitList(value)
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: bbox needs minx,miny,maxx,maxy", errBadRequest)
	}
	var c [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bbox: %v", errBadRequest, err)
		}
		c[i] = f
	}
	a := schema.Attribute(def)
	return featurestore.Intersects(a.Name, c[0], c[1], c[2], c[3], a.SRID), nil
}

// queryValue converts a query string value to the attribute's type.
func queryValue(a featurestore.AttributeDescriptor, s string) (interface{}, error) {
	var (
		v   interface{}
		err error
	)
	switch a.Type {
	case core.TypeInteger:
		v, err = strconv.ParseInt(s, 10, 64)
	case core.TypeFloat:
		v, err = strconv.ParseFloat(s, 64)
	case core.TypeBoolean:
		v, err = strconv.ParseBool(s)
	case core.TypeGeometry:
		err = errors.New("geometry attributes cannot be compared for equality")
	default:
		v = s
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, a.Name, err)
	}
	return v, nil
}

// jsonValue converts a decoded JSON value to the attribute's type.
func jsonValue(a featurestore.AttributeDescriptor, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	switch a.Type {
	case core.TypeInteger:
		if f, ok := raw.(float64); ok && f == math.Trunc(f) {
			return int64(f), nil
		}
	case core.TypeFloat:
		if f, ok := raw.(float64); ok {
			return f, nil
		}
	case core.TypeBoolean:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case core.TypeGeometry:
		return nil, fmt.Errorf("%w: %s: geometries cannot be posted", errBadRequest, a.Name)
	default:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: cannot use %v as %s", errBadRequest, a.Name, raw, a.Type)
}
