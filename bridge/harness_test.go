// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/renderhost/lib/channel"
	"github.com/bureau-foundation/renderhost/lib/executor"
	"github.com/bureau-foundation/renderhost/lib/testutil"
)

const testTimeout = 5 * time.Second

// testPair is a host and a child bridge connected by an in-process
// socketpair, each dispatching on its own running executor. The
// bridges are not started, so tests can register handlers first.
type testPair struct {
	host  *Bridge
	child *Bridge
}

func newTestPair(t *testing.T, hostOptions, childOptions Options) *testPair {
	t.Helper()
	hostConn, childConn, err := channel.Pair()
	if err != nil {
		t.Fatalf("channel.Pair: %v", err)
	}
	pair := &testPair{
		host:  New(hostConn, startExecutor(t), hostOptions),
		child: New(childConn, startExecutor(t), childOptions),
	}
	t.Cleanup(func() {
		pair.host.Close()
		pair.child.Close()
	})
	return pair
}

func (p *testPair) start() {
	p.host.Start()
	p.child.Start()
}

func startExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	exec := executor.New()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		exec.Run(context.Background())
	}()
	t.Cleanup(func() {
		exec.Stop()
		testutil.RequireClosed(t, finished, testTimeout, "executor to stop")
	})
	return exec
}

// onCoordinator runs fn on b's coordinating context and returns its
// error, failing the test if fn does not finish in time.
func onCoordinator(t *testing.T, b *Bridge, fn func(ctx context.Context) error) error {
	t.Helper()
	result := make(chan error, 1)
	go func() {
		result <- b.Executor().Invoke(context.Background(), fn)
	}()
	return testutil.RequireReceive(t, result, testTimeout, "coordinator task to finish")
}
