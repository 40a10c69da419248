// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/renderhost/lib/executor"
	"github.com/bureau-foundation/renderhost/lib/testutil"
)

type echoArgs struct {
	Text string `cbor:"text"`
}

func TestCallRoundTrip(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	pair.child.Handle("echo", func(ctx context.Context, request *Request) (any, error) {
		var args echoArgs
		if err := request.Decode(&args); err != nil {
			return nil, err
		}
		return echoArgs{Text: "child saw " + args.Text}, nil
	})
	pair.start()

	var reply echoArgs
	err := onCoordinator(t, pair.host, func(ctx context.Context) error {
		return pair.host.Call(ctx, "echo", echoArgs{Text: "hello"}, &reply)
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Text != "child saw hello" {
		t.Errorf("reply = %q", reply.Text)
	}
}

func TestCallRemoteError(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	pair.child.Handle("fail", func(context.Context, *Request) (any, error) {
		return nil, errors.New("document is encrypted")
	})
	pair.start()

	err := onCoordinator(t, pair.host, func(ctx context.Context) error {
		return pair.host.Call(ctx, "fail", nil, nil)
	})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want *RemoteError", err)
	}
	if remote.Method != "fail" || remote.Message != "document is encrypted" {
		t.Errorf("remote error = %+v", remote)
	}

	err = onCoordinator(t, pair.host, func(ctx context.Context) error {
		return pair.host.Call(ctx, "no-such-method", nil, nil)
	})
	if !errors.As(err, &remote) {
		t.Fatalf("unknown method error = %v, want *RemoteError", err)
	}
}

func TestCallOffCoordinatorPanics(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	pair.start()

	defer func() {
		affinity, ok := recover().(*executor.AffinityError)
		if !ok {
			t.Fatal("Call from a non-coordinating context should panic with *executor.AffinityError")
		}
		if affinity.Op != "bridge.Call" {
			t.Errorf("Op = %q", affinity.Op)
		}
	}()
	pair.host.Call(context.Background(), "echo", nil, nil)
}

func TestNestedCallsDoNotDeadlock(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	pair.host.Handle("inner", func(ctx context.Context, request *Request) (any, error) {
		return echoArgs{Text: "host answer"}, nil
	})
	pair.child.Handle("outer", func(ctx context.Context, request *Request) (any, error) {
		// The host is blocked in its call to us; calling back must
		// still be served.
		var inner echoArgs
		if err := pair.child.Call(ctx, "inner", nil, &inner); err != nil {
			return nil, err
		}
		return echoArgs{Text: "outer wraps " + inner.Text}, nil
	})
	pair.start()

	var reply echoArgs
	err := onCoordinator(t, pair.host, func(ctx context.Context) error {
		return pair.host.Call(ctx, "outer", nil, &reply)
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Text != "outer wraps host answer" {
		t.Errorf("reply = %q", reply.Text)
	}
}

type tick struct {
	Source string `cbor:"source"`
	Index  int    `cbor:"index"`
}

func TestSendPreservesPerContextOrder(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	const perSource = 25
	const sources = 4
	received := make(chan tick, sources*perSource)
	pair.child.Handle("tick", func(ctx context.Context, request *Request) (any, error) {
		var value tick
		if err := request.Decode(&value); err != nil {
			return nil, err
		}
		received <- value
		return nil, nil
	})
	pair.start()

	var wait sync.WaitGroup
	for worker := range sources - 1 {
		wait.Add(1)
		go func() {
			defer wait.Done()
			source := fmt.Sprintf("worker-%d", worker)
			for index := range perSource {
				if err := pair.host.Send(context.Background(), "tick", tick{Source: source, Index: index}); err != nil {
					t.Errorf("Send: %v", err)
					return
				}
			}
		}()
	}
	err := onCoordinator(t, pair.host, func(ctx context.Context) error {
		for index := range perSource {
			if err := pair.host.Send(ctx, "tick", tick{Source: "coordinator", Index: index}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("coordinator sends: %v", err)
	}
	wait.Wait()

	next := make(map[string]int)
	for range sources * perSource {
		value := testutil.RequireReceive(t, received, testTimeout, "waiting for tick")
		if value.Index != next[value.Source] {
			t.Fatalf("%s: got index %d, want %d", value.Source, value.Index, next[value.Source])
		}
		next[value.Source]++
	}
	if len(next) != sources {
		t.Errorf("saw %d sources, want %d", len(next), sources)
	}
}

func TestSendHandlerErrorProducesNoReply(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	handled := make(chan struct{}, 1)
	pair.child.Handle("oops", func(context.Context, *Request) (any, error) {
		handled <- struct{}{}
		return nil, errors.New("ignored")
	})
	pair.child.Handle("ping", func(context.Context, *Request) (any, error) {
		return echoArgs{Text: "pong"}, nil
	})
	pair.start()

	if err := pair.host.Send(context.Background(), "oops", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	testutil.RequireReceive(t, handled, testTimeout, "send handler to run")

	// A stray reply would be logged and dropped; the channel must still
	// pair the next call with its own reply.
	var reply echoArgs
	err := onCoordinator(t, pair.host, func(ctx context.Context) error {
		return pair.host.Call(ctx, "ping", nil, &reply)
	})
	if err != nil || reply.Text != "pong" {
		t.Fatalf("Call after failed send = %q, %v", reply.Text, err)
	}
}

func TestCloseFailsOutstandingCalls(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	release := make(chan struct{})
	entered := make(chan struct{})
	pair.child.Handle("slow", func(context.Context, *Request) (any, error) {
		close(entered)
		<-release
		return nil, nil
	})
	pair.start()
	defer close(release)

	result := make(chan error, 1)
	go func() {
		result <- pair.host.Executor().Invoke(context.Background(), func(ctx context.Context) error {
			return pair.host.Call(ctx, "slow", nil, nil)
		})
	}()
	testutil.RequireClosed(t, entered, testTimeout, "child handler to start")

	if err := pair.host.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := testutil.RequireReceive(t, result, testTimeout, "outstanding call to fail")
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("outstanding call error = %v, want ErrChannelClosed", err)
	}

	err = onCoordinator(t, pair.host, func(ctx context.Context) error {
		return pair.host.Call(ctx, "slow", nil, nil)
	})
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("call on closed bridge = %v, want ErrChannelClosed", err)
	}
	if err := pair.host.Send(context.Background(), "slow", nil); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("send on closed bridge = %v, want ErrChannelClosed", err)
	}
}

func TestGoodbyeRunsCloseHookOnCoordinator(t *testing.T) {
	closed := make(chan bool, 1)
	var childBridge *Bridge
	pair := newTestPair(t, Options{}, Options{
		OnClose: func(ctx context.Context) {
			closed <- childBridge.Executor().IsCoordinating(ctx)
		},
		OnAbnormalClose: func(err error) {
			t.Errorf("abnormal close after goodbye: %v", err)
		},
	})
	childBridge = pair.child
	pair.start()

	if err := pair.host.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if coordinating := testutil.RequireReceive(t, closed, testTimeout, "close hook"); !coordinating {
		t.Error("close hook did not run on the coordinating context")
	}
	testutil.RequireClosed(t, pair.child.Done(), testTimeout, "child bridge to close")
	if !errors.Is(pair.child.Err(), ErrChannelClosed) {
		t.Errorf("child Err() = %v", pair.child.Err())
	}
}

func TestPeerVanishingIsAbnormal(t *testing.T) {
	abnormal := make(chan error, 1)
	pair := newTestPair(t, Options{
		OnAbnormalClose: func(err error) { abnormal <- err },
		OnClose: func(context.Context) {
			t.Error("close hook ran without a goodbye")
		},
	}, Options{})
	pair.start()

	// Drop the child's socket without a goodbye, as a crash would.
	pair.child.conn.Close()

	err := testutil.RequireReceive(t, abnormal, testTimeout, "abnormal close hook")
	if !errors.Is(err, ErrChannelClosed) {
		t.Errorf("abnormal close reason = %v", err)
	}
	testutil.RequireClosed(t, pair.host.Done(), testTimeout, "host bridge to close")
}

func TestCallTimeoutTearsDown(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	release := make(chan struct{})
	pair.child.Handle("hang", func(context.Context, *Request) (any, error) {
		<-release
		return nil, nil
	})
	pair.start()
	defer close(release)

	err := onCoordinator(t, pair.host, func(ctx context.Context) error {
		return pair.host.CallTimeout(ctx, 50*time.Millisecond, "hang", nil, nil)
	})
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("CallTimeout error = %v, want ErrCallTimeout", err)
	}
	testutil.RequireClosed(t, pair.host.Done(), testTimeout, "bridge torn down after timeout")
}

func TestHandleAfterStartPanics(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	pair.start()

	defer func() {
		if recover() == nil {
			t.Error("Handle after Start should panic")
		}
	}()
	pair.host.Handle("late", func(context.Context, *Request) (any, error) { return nil, nil })
}

func TestDuplicateHandlerPanics(t *testing.T) {
	pair := newTestPair(t, Options{}, Options{})
	pair.host.Handle("twice", func(context.Context, *Request) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("duplicate Handle should panic")
		}
	}()
	pair.host.Handle("twice", func(context.Context, *Request) (any, error) { return nil, nil })
}
