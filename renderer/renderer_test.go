// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package renderer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bureau-foundation/renderhost/lib/channel"
	"github.com/bureau-foundation/renderhost/lib/ipc"
	"github.com/bureau-foundation/renderhost/lib/testutil"
	"github.com/bureau-foundation/renderhost/pluginhost"
)

const testTimeout = 5 * time.Second

func TestRunRejectsBadLibraries(t *testing.T) {
	tests := []struct {
		name        string
		rpc, plugin string
		want        error
	}{
		{"missing rpc library", "", "builtin:pdf", pluginhost.ErrMissingLibrary},
		{"missing plugin library", "builtin:jsonrpc", "", pluginhost.ErrMissingLibrary},
		{"unknown builtin", "builtin:jsonrpc", "builtin:postscript", pluginhost.ErrLoadFailed},
		{"swapped libraries", "builtin:pdf", "builtin:jsonrpc", pluginhost.ErrLoadFailed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			hostConn, childConn, err := channel.Pair()
			if err != nil {
				t.Fatal(err)
			}
			defer hostConn.Close()

			err = Run(context.Background(), childConn, Config{
				RPCLibrary:     test.rpc,
				PluginLibrary:  test.plugin,
				SpoolDirectory: t.TempDir(),
			})
			if !errors.Is(err, test.want) {
				t.Fatalf("Run error = %v, want %v", err, test.want)
			}
			// The channel was closed without serving anything.
			if _, _, err := hostConn.ReadFrame(); !errors.Is(err, io.EOF) {
				t.Errorf("host read after failed Run = %v, want io.EOF", err)
			}
		})
	}
}

func TestRunSaysGoodbyeWhenCancelled(t *testing.T) {
	hostConn, childConn, err := channel.Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer hostConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- Run(ctx, childConn, Config{
			RPCLibrary:     "builtin:jsonrpc",
			PluginLibrary:  "builtin:pdf",
			SpoolDirectory: t.TempDir(),
		})
	}()
	cancel()

	err = testutil.RequireReceive(t, result, testTimeout, "Run to return")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	frame, _, err := hostConn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Kind != ipc.KindGoodbye {
		t.Errorf("renderer sent %s, want goodbye", frame.Kind)
	}
}

func TestBuiltinsFallBackToPlugins(t *testing.T) {
	_, err := Builtins(nil).Load(t.TempDir() + "/missing.so")
	if err == nil {
		t.Fatal("loading a missing Go plugin succeeded")
	}
}
