package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/translate"
)

// TypeMetadata is everything cached about a discovered feature type.
type TypeMetadata struct {
	// TypeName is the name callers query with.
	TypeName string

	// Table is the introspected table layout.
	Table core.TableInfo

	// Schema is the feature schema built from Table.
	Schema *core.Schema

	// Mapper maps the table's primary key to feature ids.
	Mapper core.KeyMapper

	// Translator is bound to Schema and Mapper.
	Translator *translate.Translator

	// Config holds the table overrides in effect at discovery.
	Config InternalTableConfig

	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// TypeRegistry caches discovered feature types. It is safe for concurrent
// use.
type TypeRegistry struct {
	mu        sync.RWMutex
	types     map[string]*TypeMetadata
	lifecycle *LifecycleManager
}

// NewTypeRegistry creates an empty registry. A nil lifecycle gets a manager
// without hooks.
func NewTypeRegistry(lifecycle *LifecycleManager) *TypeRegistry {
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &TypeRegistry{
		types:     make(map[string]*TypeMetadata),
		lifecycle: lifecycle,
	}
}

// Register caches metadata after the discover hooks accepted it. An existing
// entry for the same type is replaced.
func (tr *TypeRegistry) Register(ctx context.Context, metadata *TypeMetadata) error {
	if metadata == nil {
		return fmt.Errorf("metadata cannot be nil")
	}
	if metadata.TypeName == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	if metadata.Schema == nil || metadata.Mapper == nil || metadata.Translator == nil {
		return fmt.Errorf("type %q: schema, mapper and translator are required", metadata.TypeName)
	}
	if metadata.Schema.TypeName() != metadata.TypeName {
		return fmt.Errorf("schema type name %q does not match %q", metadata.Schema.TypeName(), metadata.TypeName)
	}

	if err := tr.lifecycle.ExecuteDiscoverHooks(ctx, metadata.TypeName, metadata.Schema); err != nil {
		return fmt.Errorf("discover hook failed for type %q: %w", metadata.TypeName, err)
	}

	now := time.Now()
	entry := *metadata
	if entry.DiscoveredAt.IsZero() {
		entry.DiscoveredAt = now
	}
	entry.UpdatedAt = now

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.types[entry.TypeName] = &entry
	return nil
}

// Get returns a copy of the cached metadata of typeName.
func (tr *TypeRegistry) Get(typeName string) (*TypeMetadata, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.types[typeName]
	if !exists {
		return nil, false
	}
	out := *metadata
	return &out, true
}

// Rebind swaps the key mapper of a cached type together with the schema and
// translator that depend on it. Hooks are not run: the table is unchanged.
func (tr *TypeRegistry) Rebind(typeName string, schema *core.Schema, mapper core.KeyMapper, translator *translate.Translator) error {
	if schema == nil || mapper == nil || translator == nil {
		return fmt.Errorf("type %q: schema, mapper and translator are required", typeName)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	metadata, exists := tr.types[typeName]
	if !exists {
		return fmt.Errorf("%w: type %q is not cached", core.ErrSchemaNotFound, typeName)
	}
	entry := *metadata
	entry.Schema = schema
	entry.Mapper = mapper
	entry.Translator = translator
	entry.UpdatedAt = time.Now()
	tr.types[typeName] = &entry
	return nil
}

// Invalidate drops typeName once the invalidate hooks agreed. It reports
// whether the type was cached.
func (tr *TypeRegistry) Invalidate(ctx context.Context, typeName string) (bool, error) {
	tr.mu.RLock()
	metadata, exists := tr.types[typeName]
	tr.mu.RUnlock()
	if !exists {
		return false, nil
	}

	if err := tr.lifecycle.ExecuteInvalidateHooks(ctx, typeName, metadata.Schema); err != nil {
		return false, fmt.Errorf("invalidate hook failed for type %q: %w", typeName, err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.types[typeName] == metadata {
		delete(tr.types, typeName)
	}
	return true, nil
}

// List returns the cached type names, sorted.
func (tr *TypeRegistry) List() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.types))
	for name := range tr.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of cached types.
func (tr *TypeRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.types)
}

// Clear invalidates every cached type. It stops at the first hook failure.
func (tr *TypeRegistry) Clear(ctx context.Context) error {
	for _, name := range tr.List() {
		if _, err := tr.Invalidate(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// GetLifecycleManager returns the hooks run by this registry.
func (tr *TypeRegistry) GetLifecycleManager() *LifecycleManager {
	return tr.lifecycle
}
