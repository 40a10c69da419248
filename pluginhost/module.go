// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/renderhost/document"
)

// Module is the pair of loaded libraries with their entry points
// resolved.
type Module struct {
	RPCLibrary    string
	PluginLibrary string

	initialize       func(FromPluginFunc, GetInterfaceFunc, InitializeModuleFunc) error
	callFromJSON     func(context.Context, string) (string, error)
	initializeModule func(int32, GetInterfaceFunc) error
	shutdownModule   func()
	getInterface     func(string) any

	mu          sync.Mutex
	initialized bool
	shutdown    bool
}

// Load opens both libraries through loader and resolves every entry
// point. Either path empty fails with ErrMissingLibrary; a library
// that cannot be opened or lacks a symbol fails with ErrLoadFailed.
func Load(loader Loader, rpcLibrary, pluginLibrary string) (*Module, error) {
	if rpcLibrary == "" {
		return nil, fmt.Errorf("%w: --rpc-lib", ErrMissingLibrary)
	}
	if pluginLibrary == "" {
		return nil, fmt.Errorf("%w: --plugin-lib", ErrMissingLibrary)
	}

	transport, err := loader.Load(rpcLibrary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, rpcLibrary, err)
	}
	hosted, err := loader.Load(pluginLibrary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadFailed, pluginLibrary, err)
	}

	module := &Module{RPCLibrary: rpcLibrary, PluginLibrary: pluginLibrary}
	var errs []error
	var resolveErr error

	module.initialize, resolveErr = lookup[func(FromPluginFunc, GetInterfaceFunc, InitializeModuleFunc) error](transport, rpcLibrary, SymbolInitialize)
	errs = append(errs, resolveErr)
	module.callFromJSON, resolveErr = lookup[func(context.Context, string) (string, error)](transport, rpcLibrary, SymbolCallFromJSON)
	errs = append(errs, resolveErr)
	module.initializeModule, resolveErr = lookup[func(int32, GetInterfaceFunc) error](hosted, pluginLibrary, SymbolInitializeModule)
	errs = append(errs, resolveErr)
	module.shutdownModule, resolveErr = lookup[func()](hosted, pluginLibrary, SymbolShutdownModule)
	errs = append(errs, resolveErr)
	module.getInterface, resolveErr = lookup[func(string) any](hosted, pluginLibrary, SymbolGetInterface)
	errs = append(errs, resolveErr)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return module, nil
}

// Initialize hands the transport its three callbacks. The transport
// initializes the plugin module in turn. Call once, on the
// coordinating context, before any CallFromJSON.
func (m *Module) Initialize(fromPlugin FromPluginFunc) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return errors.New("pluginhost: module already initialized")
	}
	m.initialized = true
	m.mu.Unlock()

	if err := m.initialize(fromPlugin, m.getInterface, m.initializeModule); err != nil {
		return fmt.Errorf("initializing %s: %w", m.RPCLibrary, err)
	}
	return nil
}

// CallFromJSON delivers api into the plugin through the transport.
func (m *Module) CallFromJSON(ctx context.Context, api string) (string, error) {
	return m.callFromJSON(ctx, api)
}

// DocumentEngine returns the plugin's document engine.
func (m *Module) DocumentEngine() (document.Engine, error) {
	engine, ok := m.getInterface(DocumentEngineInterface).(document.Engine)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not provide %s", ErrLoadFailed, m.PluginLibrary, DocumentEngineInterface)
	}
	return engine, nil
}

// Shutdown stops the plugin module. Later calls do nothing.
func (m *Module) Shutdown() {
	m.mu.Lock()
	done := m.shutdown
	m.shutdown = true
	m.mu.Unlock()
	if !done {
		m.shutdownModule()
	}
}
