// Package dialect binds the generic SQL translation to concrete databases.
// MySQL, PostGIS and SQLite register themselves from init.
package dialect

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/filter"
)

var (
	dialectRegistry = make(map[string]core.Dialect)
	registryMutex   sync.RWMutex
)

// Register adds a dialect under d.Name(). It panics on duplicates.
func Register(d core.Dialect) {
	if d == nil {
		panic("dialect cannot be nil")
	}
	if d.Name() == "" {
		panic("dialect name cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := dialectRegistry[d.Name()]; exists {
		panic(fmt.Sprintf("dialect %q is already registered", d.Name()))
	}
	dialectRegistry[d.Name()] = d
}

// Get returns the dialect registered under name.
func Get(name string) (core.Dialect, error) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	d, ok := dialectRegistry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect: %s", name)
	}
	return d, nil
}

// Names returns the registered dialect names, sorted.
func Names() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	names := make([]string, 0, len(dialectRegistry))
	for n := range dialectRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// base carries the hooks that only differ between dialects by data.
type base struct {
	Codec

	name   string
	driver string
	quote  string
	caps   filter.Capabilities
	types  core.TypeMap
}

func (b *base) Name() string                      { return b.name }
func (b *base) DriverName() string                { return b.driver }
func (b *base) Capabilities() filter.Capabilities { return b.caps }
func (b *base) TypeMap() core.TypeMap             { return b.types }

func (b *base) QuoteIdentifier(name string) string {
	return b.quote + strings.ReplaceAll(name, b.quote, b.quote+b.quote) + b.quote
}

func (b *base) Table(dbSchema, name string) string {
	if dbSchema == "" {
		return b.QuoteIdentifier(name)
	}
	return b.QuoteIdentifier(dbSchema) + "." + b.QuoteIdentifier(name)
}

// EncodeFunction maps the measure functions onto their OGC names.
func (b *base) EncodeFunction(name string, args []string) (string, error) {
	switch strings.ToLower(name) {
	case "area":
		if len(args) == 1 {
			return "ST_Area(" + args[0] + ")", nil
		}
	case "length":
		if len(args) == 1 {
			return "ST_Length(" + args[0] + ")", nil
		}
	}
	return "", fmt.Errorf("%w: function %s/%d in %s", core.ErrEncoding, name, len(args), b.name)
}

func (b *base) DecodeValue(a core.AttributeDescriptor, raw interface{}) (interface{}, error) {
	v, err := b.Decode(a, raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s (%s): %w", a.Name, a.Type, err)
	}
	return v, nil
}

func (b *base) EncodeValue(a core.AttributeDescriptor, v interface{}) (interface{}, error) {
	out, err := b.Encode(a, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %v", core.ErrEncoding, a.Name, a.Type, err)
	}
	return out, nil
}

// envelopeWKT renders a box as a closed polygon.
func envelopeWKT(box filter.BBox) string {
	e := box.Extent
	return fmt.Sprintf("POLYGON((%[1]g %[2]g, %[3]g %[2]g, %[3]g %[4]g, %[1]g %[4]g, %[1]g %[2]g))",
		e.MinX(), e.MinY(), e.MaxX(), e.MaxY())
}
