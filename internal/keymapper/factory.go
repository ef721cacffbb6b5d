package keymapper

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rzpsarthak13/featurestore/internal/core"
)

// Strategy names accepted by New and by the tables.<name>.key_strategy
// configuration key. The empty name selects Default.
const (
	StrategyAuto     = "auto"
	StrategySequence = "sequence"
	StrategyUUID     = "uuid"
	StrategyColumns  = "columns"
	StrategyNull     = "null"
)

// Binding is everything a strategy needs to build a mapper for one table.
type Binding struct {
	TypeName string

	// Columns are the primary key columns in key order.
	Columns []Column

	// Sequence feeds the sequence strategy. When nil a MaxIncrement over
	// Table is used.
	Sequence Sequence

	// Table and Quote locate the table for MaxIncrement.
	Table string
	Quote func(string) string
}

// Builder creates a mapper from a binding.
type Builder func(b Binding) (core.KeyMapper, error)

var (
	buildersMu sync.RWMutex
	builders   = make(map[string]Builder)
)

// Register adds a strategy. It panics on duplicates, like the other
// registries populated from init.
func Register(name string, b Builder) {
	if name == "" || b == nil {
		panic("keymapper: strategy name and builder are required")
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	if _, exists := builders[name]; exists {
		panic(fmt.Sprintf("keymapper: strategy %q is already registered", name))
	}
	builders[name] = b
}

// Strategies returns the registered strategy names.
func Strategies() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the named strategy, or Default when name is empty.
func New(name string, b Binding) (core.KeyMapper, error) {
	if name == "" {
		return Default(b)
	}
	buildersMu.RLock()
	build, ok := builders[name]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown key strategy %q", name)
	}
	m, err := build(b)
	if err != nil {
		return nil, fmt.Errorf("key strategy %s for %s: %w", name, b.TypeName, err)
	}
	return m, nil
}

// Default picks a strategy from the key layout: no key gives Null, a single
// generated column AutoIncrement, a single integer column a Sequence, a single
// text column UUID and anything else Columns.
func Default(b Binding) (core.KeyMapper, error) {
	if len(b.Columns) == 0 {
		return NewNull(b.TypeName), nil
	}
	if len(b.Columns) > 1 {
		return wrap(NewColumns(b.TypeName, b.Columns...))
	}
	c := b.Columns[0]
	switch {
	case c.AutoIncrement:
		return wrap(NewAutoIncrement(b.TypeName, c))
	case c.Type == core.TypeInteger:
		return buildSequence(b)
	case c.Type == core.TypeText:
		return wrap(NewUUID(b.TypeName, c))
	}
	return wrap(NewColumns(b.TypeName, c))
}

func buildSequence(b Binding) (core.KeyMapper, error) {
	if len(b.Columns) != 1 {
		return nil, fmt.Errorf("sequence needs exactly one key column, %s has %d", b.TypeName, len(b.Columns))
	}
	seq := b.Sequence
	if seq == nil {
		if b.Table == "" || b.Quote == nil {
			return nil, fmt.Errorf("sequence for %s needs a table to read the maximum key from", b.TypeName)
		}
		seq = NewMaxIncrement(b.Table, b.Quote(b.Columns[0].Name))
	}
	return wrap(NewSequence(b.TypeName, b.Columns[0], seq))
}

func single(b Binding) (Column, error) {
	if len(b.Columns) != 1 {
		return Column{}, fmt.Errorf("expected one key column, %s has %d", b.TypeName, len(b.Columns))
	}
	return b.Columns[0], nil
}

func init() {
	Register(StrategyAuto, func(b Binding) (core.KeyMapper, error) {
		return wrap(NewAutoIncrement(b.TypeName, b.Columns...))
	})
	Register(StrategySequence, buildSequence)
	Register(StrategyUUID, func(b Binding) (core.KeyMapper, error) {
		c, err := single(b)
		if err != nil {
			return nil, err
		}
		return wrap(NewUUID(b.TypeName, c))
	})
	Register(StrategyColumns, func(b Binding) (core.KeyMapper, error) {
		return wrap(NewColumns(b.TypeName, b.Columns...))
	})
	Register(StrategyNull, func(b Binding) (core.KeyMapper, error) {
		return NewNull(b.TypeName), nil
	})
}

// wrap keeps a failed constructor from yielding a typed nil mapper.
func wrap[T core.KeyMapper](m T, err error) (core.KeyMapper, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}
