// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import (
	"errors"
	"fmt"
	"plugin"
	"strings"
	"sync"
)

var (
	// ErrMissingLibrary is returned when a library path is empty.
	ErrMissingLibrary = errors.New("pluginhost: library path missing")

	// ErrLoadFailed is returned when a library cannot be opened or
	// lacks a required symbol.
	ErrLoadFailed = errors.New("pluginhost: library load failed")
)

// BuiltinPrefix marks a library path as a registered builtin.
const BuiltinPrefix = "builtin:"

// Library is an opened library.
type Library interface {
	Lookup(symbol string) (any, error)
}

// Loader opens libraries by path.
type Loader interface {
	Load(path string) (Library, error)
}

// PluginLoader opens Go plugins (.so files built with
// -buildmode=plugin).
type PluginLoader struct{}

// Load implements Loader.
func (PluginLoader) Load(path string) (Library, error) {
	opened, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginLibrary{opened}, nil
}

type pluginLibrary struct {
	plugin *plugin.Plugin
}

func (l pluginLibrary) Lookup(symbol string) (any, error) {
	return l.plugin.Lookup(symbol)
}

// Symbols is a builtin library's export table.
type Symbols map[string]any

// Lookup implements Library.
func (s Symbols) Lookup(symbol string) (any, error) {
	value, ok := s[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found", symbol)
	}
	return value, nil
}

// Registry serves "builtin:" paths from registered constructors and
// passes every other path to a native loader.
type Registry struct {
	native Loader

	mu       sync.Mutex
	builtins map[string]func() Symbols
}

// NewRegistry returns a registry that opens non-builtin paths with
// native. A nil native loader rejects them.
func NewRegistry(native Loader) *Registry {
	return &Registry{
		native:   native,
		builtins: make(map[string]func() Symbols),
	}
}

// Register makes build available as "builtin:<name>". Each Load calls
// build afresh, so every load gets its own instance. Registering a
// name twice panics.
func (r *Registry) Register(name string, build func() Symbols) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builtins[name]; exists {
		panic("pluginhost: builtin " + name + " registered twice")
	}
	r.builtins[name] = build
}

// Load implements Loader.
func (r *Registry) Load(path string) (Library, error) {
	if name, ok := strings.CutPrefix(path, BuiltinPrefix); ok {
		r.mu.Lock()
		build, exists := r.builtins[name]
		r.mu.Unlock()
		if !exists {
			return nil, fmt.Errorf("no builtin library %q", name)
		}
		return build(), nil
	}
	if r.native == nil {
		return nil, fmt.Errorf("native libraries are disabled, cannot open %s", path)
	}
	return r.native.Load(path)
}

// lookup resolves name in library as a value of type T. Go plugins
// export functions as values and variables as pointers; both forms are
// accepted.
func lookup[T any](library Library, path, name string) (T, error) {
	var zero T
	symbol, err := library.Lookup(name)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrLoadFailed, path, err)
	}
	switch value := symbol.(type) {
	case T:
		return value, nil
	case *T:
		if value != nil {
			return *value, nil
		}
	}
	return zero, fmt.Errorf("%w: %s: symbol %s has type %T, want %T", ErrLoadFailed, path, name, symbol, zero)
}
