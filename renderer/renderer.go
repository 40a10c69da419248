// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package renderer assembles the renderer child: it loads the
// transport and plugin libraries, builds the child side of the bridge,
// and serves the host until it says goodbye.
package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/renderhost/bridge"
	"github.com/bureau-foundation/renderhost/document"
	"github.com/bureau-foundation/renderhost/document/pdfengine"
	"github.com/bureau-foundation/renderhost/lib/channel"
	"github.com/bureau-foundation/renderhost/lib/executor"
	"github.com/bureau-foundation/renderhost/pluginhost"
	"github.com/bureau-foundation/renderhost/pluginhost/jsonrpc"
	"github.com/bureau-foundation/renderhost/printing"
	"github.com/bureau-foundation/renderhost/spool"
)

// Builtins returns a loader serving builtin:jsonrpc and builtin:pdf,
// with every other path opened as a Go plugin.
func Builtins(logger *slog.Logger) *pluginhost.Registry {
	registry := pluginhost.NewRegistry(pluginhost.PluginLoader{})
	registry.Register("jsonrpc", jsonrpc.Symbols)
	registry.Register("pdf", func() pluginhost.Symbols { return pdfengine.Symbols(logger) })
	return registry
}

// Config configures Run.
type Config struct {
	RPCLibrary    string
	PluginLibrary string

	// SpoolDirectory receives spooled pages.
	SpoolDirectory string
	Compression    spool.CompressionTag

	// Loader opens the libraries. Nil means Builtins.
	Loader pluginhost.Loader

	// OnAbnormalClose runs on the reader goroutine when the host
	// vanishes without a goodbye. The binary exits from here; when it
	// returns, Run stops serving and returns the error.
	OnAbnormalClose func(err error)

	Logger *slog.Logger
}

// Run serves the host over conn until the host says goodbye (nil),
// the channel breaks (the break), or ctx ends (ctx.Err()). Run owns
// conn. Library failures are returned before anything is served.
func Run(ctx context.Context, conn *channel.Conn, config Config) error {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loader := config.Loader
	if loader == nil {
		loader = Builtins(logger)
	}

	module, err := pluginhost.Load(loader, config.RPCLibrary, config.PluginLibrary)
	if err != nil {
		conn.Close()
		return err
	}
	engine, err := module.DocumentEngine()
	if err != nil {
		conn.Close()
		return err
	}

	exec := executor.New()
	cache := document.NewHandleCache(engine, logger)

	var child *bridge.Child
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			if closed := cache.CloseAll(); closed > 0 {
				logger.Info("closed open documents", "count", closed)
			}
			if err := child.Close(); err != nil {
				logger.Warn("releasing buffers", "error", err)
			}
			module.Shutdown()
		})
	}

	var (
		mu       sync.Mutex
		orderly  bool
		lostWith error
	)
	b := bridge.New(conn, exec, bridge.Options{
		Logger: logger,
		OnClose: func(ctx context.Context) {
			mu.Lock()
			orderly = true
			mu.Unlock()
			logger.Info("host said goodbye")
			release()
			exec.Stop()
		},
		OnAbnormalClose: func(err error) {
			mu.Lock()
			lostWith = err
			mu.Unlock()
			if config.OnAbnormalClose != nil {
				config.OnAbnormalClose(err)
			}
			exec.Stop()
		},
	})
	child = bridge.NewChild(b, logger)
	printing.NewSpooler(b, cache, config.SpoolDirectory, config.Compression, logger)

	var initErr error
	exec.Post(func(ctx context.Context) {
		if err := module.Initialize(child.FromPlugin); err != nil {
			initErr = err
			logger.Error("plugin initialization failed", "error", err)
			exec.Stop()
			return
		}
		child.SetToPlugin(module.CallFromJSON)
		logger.Info("renderer ready",
			"rpc_library", module.RPCLibrary,
			"plugin_library", module.PluginLibrary,
		)
	})
	b.Start()
	go func() {
		// A local close ends the channel without either hook. Queue
		// the stop behind anything the reader already posted.
		<-b.Done()
		exec.Post(func(context.Context) { exec.Stop() })
	}()

	runErr := exec.Run(ctx)
	release()
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	switch {
	case initErr != nil:
		return initErr
	case orderly:
		return nil
	case lostWith != nil:
		return fmt.Errorf("channel to host lost: %w", lostWith)
	case runErr != nil:
		return runErr
	default:
		return fmt.Errorf("renderer stopped: %w", b.Err())
	}
}
