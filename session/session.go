// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session assembles the host side: a coordinator, the bridge
// to the renderer child, the host surface over it, and the print
// queue. Launch starts a child and connects to it; New connects to a
// child that is already running.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/renderhost/bridge"
	"github.com/bureau-foundation/renderhost/lib/channel"
	"github.com/bureau-foundation/renderhost/lib/executor"
	"github.com/bureau-foundation/renderhost/printing"
	"github.com/bureau-foundation/renderhost/spool"
	"github.com/bureau-foundation/renderhost/supervisor"
)

// Options configures a Session.
type Options struct {
	// Receiver handles messages the plugin sends to the host. Nil logs
	// each message and answers with an empty string.
	Receiver bridge.Receiver

	// SpoolDirectory is where the child writes spooled pages. The
	// queue refuses spool files from anywhere else.
	SpoolDirectory string

	// CallTimeout bounds SendMessage. Zero means unbounded.
	CallTimeout time.Duration

	// OnChildLost runs when the channel ends without a goodbye, after
	// outstanding print jobs have been failed.
	OnChildLost func(err error)

	Logger *slog.Logger
}

// Session is a connected host.
type Session struct {
	exec    *executor.Executor
	host    *bridge.Host
	queue   *printing.Queue
	process *supervisor.Process
	logger  *slog.Logger
	timeout time.Duration

	runDone chan struct{}
}

// logReceiver is the default Receiver.
type logReceiver struct {
	logger *slog.Logger
}

func (r logReceiver) ReceiveMessage(ctx context.Context, api string) (string, error) {
	r.logger.Info("message from plugin", "api", api)
	return "", nil
}

// New builds the host side over conn and starts serving it. The
// session owns conn.
func New(conn *channel.Conn, options Options) *Session {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	receiver := options.Receiver
	if receiver == nil {
		receiver = logReceiver{logger: logger}
	}

	s := &Session{
		exec:    executor.New(),
		logger:  logger,
		timeout: options.CallTimeout,
		runDone: make(chan struct{}),
	}
	b := bridge.New(conn, s.exec, bridge.Options{
		Logger: logger,
		OnClose: func(ctx context.Context) {
			logger.Info("renderer closed the channel")
			s.queue.Abort(bridge.ErrChannelClosed)
			s.releaseBuffers()
		},
		OnAbnormalClose: func(err error) {
			logger.Error("renderer lost", "error", err)
			s.queue.Abort(err)
			s.releaseBuffers()
			if options.OnChildLost != nil {
				options.OnChildLost(err)
			}
		},
	})
	s.host = bridge.NewHost(b, receiver)
	s.queue = printing.NewQueue(b, options.SpoolDirectory, logger)

	go func() {
		defer close(s.runDone)
		s.exec.Run(context.Background())
	}()
	b.Start()
	return s
}

// releaseBuffers unmaps every buffer shared with the child.
func (s *Session) releaseBuffers() {
	if err := s.host.Cache().Close(); err != nil {
		s.logger.Warn("releasing shared buffers", "error", err)
	}
}

// Launch starts a renderer child with config and connects to it.
func Launch(ctx context.Context, config supervisor.Config, options Options) (*Session, error) {
	if config.Logger == nil {
		config.Logger = options.Logger
	}
	if config.SpoolDirectory == "" {
		config.SpoolDirectory = options.SpoolDirectory
	}
	process, err := supervisor.Launch(ctx, config)
	if err != nil {
		return nil, err
	}
	s := New(process.Conn(), options)
	s.process = process
	return s, nil
}

// Host returns the host surface.
func (s *Session) Host() *bridge.Host {
	return s.host
}

// Queue returns the print queue.
func (s *Session) Queue() *printing.Queue {
	return s.queue
}

// Process returns the supervised child, or nil for a session built
// with New.
func (s *Session) Process() *supervisor.Process {
	return s.process
}

// Done is closed when the channel to the child has ended.
func (s *Session) Done() <-chan struct{} {
	return s.host.Bridge().Done()
}

// SendMessage delivers api into the plugin from any goroutine and
// returns its answer. An answer that takes longer than the configured
// call timeout tears the channel down.
func (s *Session) SendMessage(ctx context.Context, api string) (string, error) {
	var result string
	err := s.exec.Invoke(ctx, func(ctx context.Context) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		var err error
		result, err = s.host.SendMessage(ctx, api)
		return err
	})
	return result, err
}

// Print prints the document at path onto device, width x height
// device units per page, and waits for the job.
func (s *Session) Print(ctx context.Context, path string, device spool.Device, width, height int) (printing.Result, error) {
	pending, err := s.queue.Submit(ctx, printing.Job{Path: path, Device: device, Width: width, Height: height})
	if err != nil {
		return printing.Result{}, err
	}
	return pending.Wait(ctx)
}

// Close says goodbye to the child, waits for it to exit until ctx
// ends, and kills it if it has not.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if err := s.host.Close(); err != nil && !errors.Is(err, bridge.ErrChannelClosed) {
		errs = append(errs, err)
	}
	s.queue.Abort(bridge.ErrChannelClosed)

	if s.process != nil {
		if err := s.process.Wait(ctx); err != nil {
			s.logger.Warn("renderer did not exit after goodbye", "pid", s.process.Pid(), "error", err)
			errs = append(errs, s.process.Kill())
			<-s.process.Done()
		} else if code := s.process.ExitCode(); code != 0 {
			errs = append(errs, fmt.Errorf("renderer exited with code %d", code))
		}
	}

	s.exec.Stop()
	<-s.runDone
	return errors.Join(errs...)
}
