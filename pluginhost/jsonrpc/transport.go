// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jsonrpc is the builtin bridging transport. It decodes host
// API strings of the form
//
//	{"__interface":"PPP_Document","__version":"1.0","__method":"Inspect","args":[...]}
//
// dispatches them onto the plugin interface of that name, and encodes
// the result as {"result": ...}. In the other direction it offers the
// plugin two browser interfaces, PPB_Core and PPB_Messaging, both
// carried over the plugin's way back to the host.
package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/renderhost/lib/ipc"
	"github.com/bureau-foundation/renderhost/pluginhost"
)

// ModuleID is the id the transport initializes the plugin module
// with. There is one module per child.
const ModuleID int32 = 1

// ErrNotInitialized is returned by CallFromJSON before Initialize.
var ErrNotInitialized = errors.New("jsonrpc: transport not initialized")

// Request is a decoded API string.
type Request struct {
	Interface string          `json:"__interface"`
	Version   string          `json:"__version"`
	Method    string          `json:"__method"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// Response is the encoded answer to a Request.
type Response struct {
	Result any `json:"result"`
}

// Transport is one transport instance.
type Transport struct {
	mu           sync.Mutex
	fromPlugin   pluginhost.FromPluginFunc
	getInterface pluginhost.GetInterfaceFunc
}

// New returns an uninitialized transport.
func New() *Transport {
	return &Transport{}
}

// Symbols exports the transport's entry points as a builtin library.
func Symbols() pluginhost.Symbols {
	transport := New()
	return pluginhost.Symbols{
		pluginhost.SymbolInitialize:   transport.Initialize,
		pluginhost.SymbolCallFromJSON: transport.CallFromJSON,
	}
}

// Initialize records the callbacks and initializes the plugin module
// with the transport's browser interfaces.
func (t *Transport) Initialize(fromPlugin pluginhost.FromPluginFunc, getInterface pluginhost.GetInterfaceFunc, initializeModule pluginhost.InitializeModuleFunc) error {
	if fromPlugin == nil || getInterface == nil || initializeModule == nil {
		return errors.New("jsonrpc: Initialize needs all three callbacks")
	}
	t.mu.Lock()
	t.fromPlugin = fromPlugin
	t.getInterface = getInterface
	t.mu.Unlock()

	return initializeModule(ModuleID, t.browserInterface)
}

func (t *Transport) browserInterface(name string) any {
	switch name {
	case pluginhost.CoreInterface:
		return &Core{transport: t}
	case pluginhost.MessagingInterface:
		return &Messaging{transport: t}
	default:
		return nil
	}
}

func (t *Transport) callbacks() (pluginhost.FromPluginFunc, pluginhost.GetInterfaceFunc, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fromPlugin == nil {
		return nil, nil, ErrNotInitialized
	}
	return t.fromPlugin, t.getInterface, nil
}

// CallFromJSON decodes api, dispatches it onto the named plugin
// interface, and returns the encoded result.
func (t *Transport) CallFromJSON(ctx context.Context, api string) (string, error) {
	_, getInterface, err := t.callbacks()
	if err != nil {
		return "", err
	}

	var request Request
	if err := json.Unmarshal([]byte(api), &request); err != nil {
		return "", fmt.Errorf("jsonrpc: decoding request: %w", err)
	}
	if request.Interface == "" || request.Method == "" {
		return "", errors.New("jsonrpc: request needs __interface and __method")
	}

	name := request.Interface + ";" + request.Version
	dispatcher, ok := getInterface(name).(pluginhost.Dispatcher)
	if !ok {
		return "", fmt.Errorf("jsonrpc: plugin has no callable interface %s", name)
	}

	result, err := dispatcher.CallJSON(ctx, request.Method, request.Args)
	if err != nil {
		return "", fmt.Errorf("%s.%s: %w", request.Interface, request.Method, err)
	}
	encoded, err := json.Marshal(Response{Result: result})
	if err != nil {
		return "", fmt.Errorf("jsonrpc: encoding %s.%s result: %w", request.Interface, request.Method, err)
	}
	return string(encoded), nil
}

// Core is the PPB_Core browser interface.
type Core struct {
	transport *Transport
}

// IsMainThread reports whether ctx is the coordinating context. The
// query is answered inside the child without a round trip.
func (c *Core) IsMainThread(ctx context.Context) bool {
	fromPlugin, _, err := c.transport.callbacks()
	if err != nil {
		return false
	}
	answer, err := fromPlugin(ctx, ipc.IsCoordinatingQuery, false)
	return err == nil && answer == ipc.CoordinatingTrue
}

// Messaging is the PPB_Messaging browser interface.
type Messaging struct {
	transport *Transport
}

// PostMessage sends message to the host asynchronously. It may be
// called from any context.
func (m *Messaging) PostMessage(ctx context.Context, message any) error {
	fromPlugin, _, err := m.transport.callbacks()
	if err != nil {
		return err
	}
	args, err := json.Marshal([]any{message})
	if err != nil {
		return fmt.Errorf("jsonrpc: encoding message: %w", err)
	}
	api, err := json.Marshal(Request{
		Interface: "PPB_Messaging",
		Version:   "1.0",
		Method:    "PostMessage",
		Args:      args,
	})
	if err != nil {
		return err
	}
	_, err = fromPlugin(ctx, string(api), false)
	return err
}
