package registry

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/featurestore/internal/core"
)

// LifecycleHook is called when a feature type enters or leaves the schema
// cache. Hooks run synchronously.
type LifecycleHook interface {
	// OnDiscover is called before a discovered schema is cached. An error
	// keeps the schema out of the cache and is returned to the caller.
	OnDiscover(ctx context.Context, typeName string, schema *core.Schema) error

	// OnInvalidate is called before a cached schema is dropped. An error
	// leaves the schema cached.
	OnInvalidate(ctx context.Context, typeName string, schema *core.Schema) error
}

// LifecycleHookFunc adapts plain functions to LifecycleHook. Nil functions
// are skipped.
type LifecycleHookFunc struct {
	OnDiscoverFunc   func(ctx context.Context, typeName string, schema *core.Schema) error
	OnInvalidateFunc func(ctx context.Context, typeName string, schema *core.Schema) error
}

// OnDiscover implements LifecycleHook.
func (f LifecycleHookFunc) OnDiscover(ctx context.Context, typeName string, schema *core.Schema) error {
	if f.OnDiscoverFunc != nil {
		return f.OnDiscoverFunc(ctx, typeName, schema)
	}
	return nil
}

// OnInvalidate implements LifecycleHook.
func (f LifecycleHookFunc) OnInvalidate(ctx context.Context, typeName string, schema *core.Schema) error {
	if f.OnInvalidateFunc != nil {
		return f.OnInvalidateFunc(ctx, typeName, schema)
	}
	return nil
}

// LifecycleManager holds the registered hooks and runs them in registration
// order.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []LifecycleHook
}

// NewLifecycleManager creates an empty lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// RegisterHook appends hook.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	return hooks
}

// ExecuteDiscoverHooks runs every OnDiscover hook and stops at the first
// error.
func (lm *LifecycleManager) ExecuteDiscoverHooks(ctx context.Context, typeName string, schema *core.Schema) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnDiscover(ctx, typeName, schema); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteInvalidateHooks runs every OnInvalidate hook and stops at the first
// error.
func (lm *LifecycleManager) ExecuteInvalidateHooks(ctx context.Context, typeName string, schema *core.Schema) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnInvalidate(ctx, typeName, schema); err != nil {
			return err
		}
	}
	return nil
}
