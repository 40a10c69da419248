// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/renderhost/lib/channel"
	"github.com/bureau-foundation/renderhost/lib/codec"
	"github.com/bureau-foundation/renderhost/lib/executor"
	"github.com/bureau-foundation/renderhost/lib/ipc"
)

// HandlerFunc answers one inbound call or send. It runs on the
// coordinating context. For calls, the returned value is encoded as the
// reply body (nil for an empty reply) and a returned error reaches the
// caller as a *RemoteError. For sends, the value is discarded and an
// error is logged.
type HandlerFunc func(ctx context.Context, request *Request) (any, error)

// Request is one inbound call or send.
type Request struct {
	Method string
	Kind   ipc.Kind

	body  codec.RawMessage
	files []*os.File
}

// Decode decodes the request body into v. An absent body leaves v
// untouched.
func (r *Request) Decode(v any) error {
	if len(r.body) == 0 {
		return nil
	}
	if err := codec.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("decoding %s body: %w", r.Method, err)
	}
	return nil
}

// TakeFiles transfers ownership of the descriptors that arrived with
// the request to the handler. Descriptors not taken are closed when the
// handler returns.
func (r *Request) TakeFiles() []*os.File {
	files := r.files
	r.files = nil
	return files
}

// Options configures a Bridge.
type Options struct {
	// Logger receives structured log output. If nil, slog.Default() is
	// used. Frame traffic is logged at Debug level.
	Logger *slog.Logger

	// OnClose runs on the coordinator after the peer said goodbye. It
	// should release documents and buffers; the bridge is already
	// closed when it runs.
	OnClose func(ctx context.Context)

	// OnAbnormalClose runs on the reader goroutine when the channel
	// ends without a goodbye: the peer crashed or was killed. The
	// binaries exit the process from here.
	OnAbnormalClose func(err error)
}

// pendingCall is one outstanding outbound call. done is closed when
// reply or err is set.
type pendingCall struct {
	method string
	done   chan struct{}
	reply  *ipc.Frame
	err    error
}

// Bridge is one endpoint of the host↔renderer protocol.
type Bridge struct {
	conn     *channel.Conn
	executor *executor.Executor
	options  Options

	// handlers is written by Handle before Start and only read
	// afterwards.
	handlers map[string]HandlerFunc
	started  atomic.Bool

	mu       sync.Mutex
	nextSeq  uint64
	pending  map[uint64]*pendingCall
	closed   bool
	closeErr error

	done chan struct{}
}

// New returns a bridge speaking over conn and dispatching on exec. The
// bridge owns conn. Register handlers with Handle, then call Start.
func New(conn *channel.Conn, exec *executor.Executor, options Options) *Bridge {
	return &Bridge{
		conn:     conn,
		executor: exec,
		options:  options,
		handlers: make(map[string]HandlerFunc),
		pending:  make(map[uint64]*pendingCall),
		done:     make(chan struct{}),
	}
}

func (b *Bridge) logger() *slog.Logger {
	if b.options.Logger != nil {
		return b.options.Logger
	}
	return slog.Default()
}

// Executor returns the coordinating executor the bridge dispatches on.
func (b *Bridge) Executor() *executor.Executor {
	return b.executor
}

// Handle registers handler for method. Panics on a duplicate method or
// when called after Start.
func (b *Bridge) Handle(method string, handler HandlerFunc) {
	if b.started.Load() {
		panic(fmt.Sprintf("bridge: Handle(%q) after Start", method))
	}
	if _, exists := b.handlers[method]; exists {
		panic(fmt.Sprintf("bridge: duplicate handler for method %q", method))
	}
	b.handlers[method] = handler
}

// Start begins reading frames in a background goroutine. Inbound calls
// and sends are dispatched on the executor, which must be running (or
// about to run) for them to be served. Calling Start twice panics.
func (b *Bridge) Start() {
	if !b.started.CompareAndSwap(false, true) {
		panic("bridge: Start called twice")
	}
	go b.readLoop()
}

// Done is closed once the bridge is closed, for whatever reason.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the reason the bridge closed, or nil while it is open.
// A local Close or a peer goodbye yields ErrChannelClosed.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeErr
}

// Call sends method with args to the peer and waits for the reply,
// decoding it into result (which may be nil). files travel with the
// call; the caller keeps ownership of them.
//
// Call must run on the coordinating context; any other ctx panics with
// an *executor.AffinityError. While waiting, inbound frames from the
// peer are served. There is no way to abandon a call and keep the
// channel: if ctx ends or the executor stops first, the bridge is torn
// down and every outstanding call fails with ErrChannelClosed.
func (b *Bridge) Call(ctx context.Context, method string, args, result any, files ...*os.File) error {
	b.executor.AssertCoordinating(ctx, "bridge.Call")

	body, err := encodeBody(args)
	if err != nil {
		return fmt.Errorf("encoding %s arguments: %w", method, err)
	}

	call := &pendingCall{method: method, done: make(chan struct{})}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("calling %s: %w", method, ErrChannelClosed)
	}
	b.nextSeq++
	seq := b.nextSeq
	b.pending[seq] = call
	b.mu.Unlock()

	if err := b.write(&ipc.Frame{Kind: ipc.KindCall, Seq: seq, Method: method, Body: body}, files...); err != nil {
		b.mu.Lock()
		delete(b.pending, seq)
		b.mu.Unlock()
		return fmt.Errorf("calling %s: %w", method, err)
	}

	if err := b.executor.Await(ctx, call.done); err != nil {
		b.teardown(fmt.Errorf("call %s abandoned: %w", method, err))
		return fmt.Errorf("calling %s: %w", method, err)
	}
	if call.err != nil {
		return fmt.Errorf("calling %s: %w", method, call.err)
	}

	reply := call.reply
	if reply.Error != "" {
		return &RemoteError{Method: method, Message: reply.Error}
	}
	if result != nil && len(reply.Body) > 0 {
		if err := codec.Unmarshal(reply.Body, result); err != nil {
			return fmt.Errorf("decoding %s reply: %w", method, err)
		}
	}
	return nil
}

// CallTimeout is Call raced against timeout. On expiry the channel is
// torn down and ErrCallTimeout is returned.
func (b *Bridge) CallTimeout(ctx context.Context, timeout time.Duration, method string, args, result any, files ...*os.File) error {
	if timeout <= 0 {
		return b.Call(ctx, method, args, result, files...)
	}
	callContext, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := b.Call(callContext, method, args, result, files...)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s after %s", ErrCallTimeout, method, timeout)
	}
	return err
}

// Send delivers method with args to the peer without waiting. From the
// coordinating context the frame is written immediately; from any
// other context it is queued on the executor and written from there,
// preserving the order of sends from that context.
func (b *Bridge) Send(ctx context.Context, method string, args any) error {
	body, err := encodeBody(args)
	if err != nil {
		return fmt.Errorf("encoding %s arguments: %w", method, err)
	}
	frame := &ipc.Frame{Kind: ipc.KindSend, Method: method, Body: body}

	if b.executor.IsCoordinating(ctx) {
		if err := b.write(frame); err != nil {
			return fmt.Errorf("sending %s: %w", method, err)
		}
		return nil
	}

	if b.isClosed() {
		return fmt.Errorf("sending %s: %w", method, ErrChannelClosed)
	}
	err = b.executor.Post(func(context.Context) {
		if err := b.write(frame); err != nil && !errors.Is(err, ErrChannelClosed) {
			b.logger().Warn("queued send failed", "method", method, "error", err)
		}
	})
	if errors.Is(err, executor.ErrStopped) {
		return fmt.Errorf("sending %s: %w", method, ErrChannelClosed)
	}
	return err
}

// Close says goodbye to the peer and tears the channel down. Every
// outstanding call fails with ErrChannelClosed. Idempotent; safe from
// any goroutine.
func (b *Bridge) Close() error {
	if b.isClosed() {
		return nil
	}
	goodbyeErr := b.write(&ipc.Frame{Kind: ipc.KindGoodbye})
	b.teardown(ErrChannelClosed)
	if goodbyeErr != nil && !errors.Is(goodbyeErr, ErrChannelClosed) {
		return fmt.Errorf("saying goodbye: %w", goodbyeErr)
	}
	return nil
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// teardown closes the connection and fails every outstanding call.
// The first reason wins.
func (b *Bridge) teardown(reason error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.closeErr = reason
	pending := b.pending
	b.pending = make(map[uint64]*pendingCall)
	b.mu.Unlock()

	b.conn.Close()
	for _, call := range pending {
		call.err = ErrChannelClosed
		close(call.done)
	}
	close(b.done)
}

// write sends one frame. A failure other than an oversized frame
// leaves the channel unusable and tears it down.
func (b *Bridge) write(frame *ipc.Frame, files ...*os.File) error {
	if b.isClosed() {
		return ErrChannelClosed
	}
	b.logFrame("frame sent", frame)

	err := b.conn.WriteFrame(frame, files...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, channel.ErrFrameTooLarge), errors.Is(err, channel.ErrTooManyFiles):
		return err
	case errors.Is(err, channel.ErrClosed):
		return ErrChannelClosed
	default:
		b.teardown(err)
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
}

func (b *Bridge) readLoop() {
	for {
		frame, files, err := b.conn.ReadFrame()
		if err != nil {
			b.readFailed(err)
			return
		}
		b.logFrame("frame received", frame)

		switch frame.Kind {
		case ipc.KindReply:
			closeFiles(files)
			b.deliverReply(frame)

		case ipc.KindCall, ipc.KindSend:
			request := &Request{Method: frame.Method, Kind: frame.Kind, body: frame.Body, files: files}
			seq := frame.Seq
			err := b.executor.PostInbound(func(ctx context.Context) {
				b.dispatch(ctx, request, seq)
			})
			if err != nil {
				closeFiles(files)
				b.teardown(ErrChannelClosed)
				return
			}

		case ipc.KindGoodbye:
			closeFiles(files)
			b.logger().Info("peer said goodbye")
			if b.options.OnClose != nil {
				onClose := b.options.OnClose
				if err := b.executor.PostInbound(onClose); err != nil {
					b.logger().Warn("cannot run close hook", "error", err)
				}
			}
			b.teardown(ErrChannelClosed)
			return

		default:
			closeFiles(files)
			b.logger().Warn("ignoring frame of unknown kind", "kind", frame.Kind)
		}
	}
}

// readFailed classifies the end of the read loop. A local close is
// quiet; anything else without a goodbye is an abnormal close.
func (b *Bridge) readFailed(err error) {
	if b.isClosed() || errors.Is(err, channel.ErrClosed) {
		b.teardown(ErrChannelClosed)
		return
	}

	reason := err
	if errors.Is(err, io.EOF) {
		reason = fmt.Errorf("%w: peer disconnected without goodbye", ErrChannelClosed)
	}
	b.logger().Error("channel terminated abnormally", "error", err)
	b.teardown(reason)
	if b.options.OnAbnormalClose != nil {
		b.options.OnAbnormalClose(reason)
	}
}

func (b *Bridge) deliverReply(frame *ipc.Frame) {
	b.mu.Lock()
	call, ok := b.pending[frame.Seq]
	if ok {
		delete(b.pending, frame.Seq)
	}
	b.mu.Unlock()

	if !ok {
		b.logger().Warn("reply for unknown call", "seq", frame.Seq)
		return
	}
	call.reply = frame
	close(call.done)
}

// dispatch runs the handler for one inbound frame on the coordinator
// and, for calls, writes the reply.
func (b *Bridge) dispatch(ctx context.Context, request *Request, seq uint64) {
	defer func() { closeFiles(request.files) }()

	var result any
	var err error
	handler, exists := b.handlers[request.Method]
	if exists {
		result, err = handler(ctx, request)
	} else {
		err = fmt.Errorf("unknown method %q", request.Method)
	}

	if request.Kind == ipc.KindSend {
		if err != nil {
			b.logger().Warn("send handler failed", "method", request.Method, "error", err)
		}
		return
	}

	reply := &ipc.Frame{Kind: ipc.KindReply, Seq: seq}
	if err != nil {
		b.logger().Debug("call handler failed", "method", request.Method, "seq", seq, "error", err)
		reply.Error = err.Error()
	} else if reply.Body, err = encodeBody(result); err != nil {
		reply.Error = fmt.Sprintf("encoding reply: %v", err)
	}

	err = b.write(reply)
	if errors.Is(err, channel.ErrFrameTooLarge) {
		err = b.write(&ipc.Frame{Kind: ipc.KindReply, Seq: seq, Error: "reply too large"})
	}
	if err != nil && !errors.Is(err, ErrChannelClosed) {
		b.logger().Warn("writing reply failed", "method", request.Method, "seq", seq, "error", err)
	}
}

func (b *Bridge) logFrame(message string, frame *ipc.Frame) {
	logger := b.logger()
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attributes := []any{"kind", frame.Kind, "method", frame.Method, "seq", frame.Seq}
	if len(frame.Body) > 0 {
		if notation, err := codec.Diagnose(frame.Body); err == nil {
			attributes = append(attributes, "body", notation)
		}
	}
	if frame.Error != "" {
		attributes = append(attributes, "error", frame.Error)
	}
	logger.Debug(message, attributes...)
}

func encodeBody(v any) (codec.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return codec.Marshal(v)
}

func closeFiles(files []*os.File) {
	for _, file := range files {
		file.Close()
	}
}
