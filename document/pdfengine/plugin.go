// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pdfengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/renderhost/lib/version"
	"github.com/bureau-foundation/renderhost/pluginhost"
)

// DocumentInterface is the plugin's JSON-callable interface.
const DocumentInterface = "PPP_Document;1.0"

// module is one instance of the builtin plugin library.
type module struct {
	engine *Engine
	logger *slog.Logger

	mu      sync.Mutex
	id      int32
	browser pluginhost.GetInterfaceFunc
}

// Symbols exports a fresh engine as a builtin plugin library. A nil
// logger uses slog.Default().
func Symbols(logger *slog.Logger) pluginhost.Symbols {
	if logger == nil {
		logger = slog.Default()
	}
	instance := &module{engine: New(logger), logger: logger}
	return pluginhost.Symbols{
		pluginhost.SymbolInitializeModule: instance.initializeModule,
		pluginhost.SymbolShutdownModule:   instance.shutdownModule,
		pluginhost.SymbolGetInterface:     instance.getInterface,
	}
}

func (m *module) initializeModule(moduleID int32, getBrowserInterface pluginhost.GetInterfaceFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return fmt.Errorf("pdfengine: module already initialized as %d", m.id)
	}
	m.id = moduleID
	m.browser = getBrowserInterface
	m.logger.Debug("pdf plugin initialized", "module", moduleID)
	return nil
}

func (m *module) shutdownModule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.browser = nil
	m.logger.Debug("pdf plugin shut down", "module", m.id)
}

func (m *module) getInterface(name string) any {
	switch name {
	case pluginhost.DocumentEngineInterface:
		return m.engine
	case DocumentInterface:
		return (*documentInterface)(m)
	default:
		return nil
	}
}

func (m *module) browserInterface(name string) any {
	m.mu.Lock()
	browser := m.browser
	m.mu.Unlock()
	if browser == nil {
		return nil
	}
	return browser(name)
}

// documentInterface is the module seen through PPP_Document.
type documentInterface module

// Inspection is the result of the Inspect method.
type Inspection struct {
	Path   string  `json:"path"`
	Pages  int     `json:"pages"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type coordinationChecker interface {
	IsMainThread(ctx context.Context) bool
}

type poster interface {
	PostMessage(ctx context.Context, message any) error
}

// CallJSON implements pluginhost.Dispatcher.
func (d *documentInterface) CallJSON(ctx context.Context, method string, args json.RawMessage) (any, error) {
	m := (*module)(d)
	switch method {
	case "GetVersion":
		return map[string]string{"engine": "rsc.io/pdf", "renderhost": version.Info()}, nil

	case "IsMainThread":
		core, ok := m.browserInterface(pluginhost.CoreInterface).(coordinationChecker)
		if !ok {
			return nil, errors.New("browser offers no " + pluginhost.CoreInterface)
		}
		return core.IsMainThread(ctx), nil

	case "Inspect":
		var paths []string
		if err := json.Unmarshal(args, &paths); err != nil || len(paths) != 1 {
			return nil, errors.New("Inspect takes one path argument")
		}
		inspection, err := m.inspect(paths[0])
		if err != nil {
			return nil, err
		}
		if messaging, ok := m.browserInterface(pluginhost.MessagingInterface).(poster); ok {
			if err := messaging.PostMessage(ctx, map[string]any{"inspected": inspection.Path, "pages": inspection.Pages}); err != nil {
				m.logger.Warn("posting inspection notice", "error", err)
			}
		}
		return inspection, nil

	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

// inspect opens path, reads its page count and first page size, and
// closes it again.
func (m *module) inspect(path string) (*Inspection, error) {
	handle, err := m.engine.Open(path)
	if err != nil {
		return nil, err
	}
	defer m.engine.Close(handle)

	inspection := &Inspection{Path: path, Pages: m.engine.PageCount(handle)}
	if inspection.Pages == 0 {
		return inspection, nil
	}
	page, err := m.engine.LoadPage(handle, 0)
	if err != nil {
		return nil, err
	}
	defer m.engine.ClosePage(page)
	inspection.Width, inspection.Height = m.engine.PageSize(page)
	return inspection, nil
}
