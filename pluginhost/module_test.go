// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pluginhost

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/renderhost/document"
)

type stubEngine struct {
	document.Engine
}

// fakeLibraries returns a registry with a transport and a plugin
// builtin, and a log of the calls they receive.
func fakeLibraries(t *testing.T) (*Registry, *[]string) {
	t.Helper()
	var calls []string
	registry := NewRegistry(nil)
	registry.Register("transport", func() Symbols {
		return Symbols{
			SymbolInitialize: func(fromPlugin FromPluginFunc, getInterface GetInterfaceFunc, initializeModule InitializeModuleFunc) error {
				calls = append(calls, "Initialize")
				return initializeModule(1, func(string) any { return nil })
			},
			SymbolCallFromJSON: func(ctx context.Context, api string) (string, error) {
				calls = append(calls, "CallFromJSON "+api)
				return strings.ToUpper(api), nil
			},
		}
	})
	registry.Register("plugin", func() Symbols {
		shutdown := func() { calls = append(calls, "PPP_ShutdownModule") }
		return Symbols{
			SymbolInitializeModule: func(moduleID int32, getBrowserInterface GetInterfaceFunc) error {
				calls = append(calls, "PPP_InitializeModule")
				return nil
			},
			// Go plugins export variables as pointers.
			SymbolShutdownModule: &shutdown,
			SymbolGetInterface: func(name string) any {
				if name == DocumentEngineInterface {
					return stubEngine{}
				}
				return nil
			},
		}
	})
	return registry, &calls
}

func TestLoadInitializeCallShutdown(t *testing.T) {
	registry, calls := fakeLibraries(t)
	module, err := Load(registry, "builtin:transport", "builtin:plugin")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := module.Initialize(func(context.Context, string, bool) (string, error) { return "", nil }); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := module.Initialize(nil); err == nil {
		t.Error("second Initialize succeeded")
	}

	answer, err := module.CallFromJSON(context.Background(), "ping")
	if err != nil || answer != "PING" {
		t.Errorf("CallFromJSON = %q, %v", answer, err)
	}

	engine, err := module.DocumentEngine()
	if err != nil {
		t.Fatalf("DocumentEngine: %v", err)
	}
	if _, ok := engine.(stubEngine); !ok {
		t.Errorf("DocumentEngine = %T", engine)
	}

	module.Shutdown()
	module.Shutdown()

	want := []string{"Initialize", "PPP_InitializeModule", "CallFromJSON ping", "PPP_ShutdownModule"}
	if strings.Join(*calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", *calls, want)
	}
}

func TestLoadMissingPaths(t *testing.T) {
	registry, _ := fakeLibraries(t)
	if _, err := Load(registry, "", "builtin:plugin"); !errors.Is(err, ErrMissingLibrary) {
		t.Errorf("missing rpc lib = %v, want ErrMissingLibrary", err)
	}
	if _, err := Load(registry, "builtin:transport", ""); !errors.Is(err, ErrMissingLibrary) {
		t.Errorf("missing plugin lib = %v, want ErrMissingLibrary", err)
	}
}

func TestLoadFailures(t *testing.T) {
	registry, _ := fakeLibraries(t)
	registry.Register("wrong-types", func() Symbols {
		return Symbols{
			SymbolInitializeModule: "not a function",
			SymbolShutdownModule:   func() {},
		}
	})

	tests := []struct {
		name        string
		rpc, plugin string
		wantInError string
	}{
		{"unknown builtin", "builtin:nope", "builtin:plugin", "no builtin library"},
		{"native disabled", "/usr/lib/renderhost/transport.so", "builtin:plugin", "native libraries are disabled"},
		{"plugin lacks symbols", "builtin:transport", "builtin:transport", SymbolInitializeModule},
		{"symbol of wrong type", "builtin:transport", "builtin:wrong-types", "has type string"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(registry, test.rpc, test.plugin)
			if !errors.Is(err, ErrLoadFailed) {
				t.Fatalf("Load = %v, want ErrLoadFailed", err)
			}
			if !strings.Contains(err.Error(), test.wantInError) {
				t.Errorf("error %q does not mention %q", err, test.wantInError)
			}
		})
	}
}

func TestDocumentEngineMissing(t *testing.T) {
	registry, _ := fakeLibraries(t)
	registry.Register("engineless", func() Symbols {
		return Symbols{
			SymbolInitializeModule: func(int32, GetInterfaceFunc) error { return nil },
			SymbolShutdownModule:   func() {},
			SymbolGetInterface:     func(string) any { return nil },
		}
	})
	module, err := Load(registry, "builtin:transport", "builtin:engineless")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := module.DocumentEngine(); !errors.Is(err, ErrLoadFailed) {
		t.Errorf("DocumentEngine = %v, want ErrLoadFailed", err)
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register("once", func() Symbols { return nil })
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register should panic")
		}
	}()
	registry.Register("once", func() Symbols { return nil })
}

func TestRegistryPassesNativePaths(t *testing.T) {
	var opened string
	registry := NewRegistry(loaderFunc(func(path string) (Library, error) {
		opened = path
		return Symbols{}, nil
	}))
	if _, err := registry.Load("/opt/plugins/pdf.so"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opened != "/opt/plugins/pdf.so" {
		t.Errorf("native loader saw %q", opened)
	}
}

type loaderFunc func(path string) (Library, error)

func (f loaderFunc) Load(path string) (Library, error) {
	return f(path)
}
