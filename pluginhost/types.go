// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import (
	"context"
	"encoding/json"
)

// Exported symbol names.
const (
	SymbolInitialize       = "Initialize"
	SymbolCallFromJSON     = "CallFromJSON"
	SymbolInitializeModule = "PPP_InitializeModule"
	SymbolShutdownModule   = "PPP_ShutdownModule"
	SymbolGetInterface     = "PPP_GetInterface"
)

// Interface names a plugin or the transport may be asked for. Names
// carry their version after a semicolon.
const (
	// DocumentEngineInterface is the plugin's document.Engine.
	DocumentEngineInterface = "PPP_DocumentEngine;1.0"

	// CoreInterface is the transport's *Core-style browser interface.
	CoreInterface = "PPB_Core;1.0"

	// MessagingInterface is the transport's browser interface for
	// asynchronous messages to the host.
	MessagingInterface = "PPB_Messaging;1.0"
)

// FromPluginFunc carries an API string from the plugin to the host.
// With abortIfNonCoordinating set the message is synchronous and ctx
// must be the coordinating context.
type FromPluginFunc func(ctx context.Context, api string, abortIfNonCoordinating bool) (string, error)

// GetInterfaceFunc returns the implementation of a named interface,
// or nil if there is none.
type GetInterfaceFunc func(name string) any

// InitializeModuleFunc starts the plugin module. getBrowserInterface
// resolves the interfaces the transport offers the plugin.
type InitializeModuleFunc func(moduleID int32, getBrowserInterface GetInterfaceFunc) error

// ShutdownModuleFunc stops the plugin module.
type ShutdownModuleFunc func()

// InitializeFunc is the transport library's entry point. It receives
// the way back to the host, the plugin's interface resolver, and the
// plugin's module initializer, and is expected to call the latter.
type InitializeFunc func(fromPlugin FromPluginFunc, getInterface GetInterfaceFunc, initializeModule InitializeModuleFunc) error

// CallFromJSONFunc delivers a host API string into the plugin and
// returns the plugin's answer.
type CallFromJSONFunc func(ctx context.Context, api string) (string, error)

// Dispatcher is a plugin interface reachable through a JSON
// transport: the transport decodes the method name and arguments and
// encodes the result.
type Dispatcher interface {
	CallJSON(ctx context.Context, method string, args json.RawMessage) (any, error)
}
