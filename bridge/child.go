// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/bureau-foundation/renderhost/lib/executor"
	"github.com/bureau-foundation/renderhost/lib/ipc"
	"github.com/bureau-foundation/renderhost/lib/shm"
)

// ToPluginFunc delivers an API string into the plugin. It is the
// transport library's CallFromJSON entry point.
type ToPluginFunc func(ctx context.Context, api string) (string, error)

// Child is the renderer process's side of the bridge.
type Child struct {
	bridge *Bridge
	table  *BufferTable
	logger *slog.Logger

	mu       sync.Mutex
	toPlugin ToPluginFunc
	files    map[int64]*os.File
}

// NewChild registers the child's handlers on b. Call before b.Start.
func NewChild(b *Bridge, logger *slog.Logger) *Child {
	if logger == nil {
		logger = slog.Default()
	}
	child := &Child{
		bridge: b,
		table:  NewBufferTable(),
		logger: logger,
		files:  make(map[int64]*os.File),
	}
	b.Handle(ipc.MethodToPlugin, child.handleToPlugin)
	b.Handle(ipc.MethodSendFile, child.handleSendFile)
	b.Handle(ipc.MethodSendSegment, child.handleSendSegment)
	b.Handle(ipc.MethodReleaseSegment, child.handleReleaseSegment)
	return child
}

// Bridge returns the underlying protocol endpoint.
func (c *Child) Bridge() *Bridge {
	return c.bridge
}

// Table returns the child's buffer address space.
func (c *Child) Table() *BufferTable {
	return c.table
}

// SetToPlugin installs the transport library's entry point. Until it
// is set, to-plugin calls fail.
func (c *Child) SetToPlugin(toPlugin ToPluginFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toPlugin = toPlugin
}

// File returns a descriptor received with send-file, by the number the
// host was told.
func (c *Child) File(fd int64) (*os.File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	file, ok := c.files[fd]
	return file, ok
}

// FromPlugin is the plugin's way back to the host.
//
// With abortIfNonCoordinating set the message is synchronous: ctx must
// be the coordinating context (anything else panics; the engine state
// would otherwise be left inconsistent) and the host's answer is
// returned. Without it the message is sent asynchronously from
// whatever context the plugin is on, and the result is empty.
//
// The is-coordinating query never crosses the channel; it is answered
// here from ctx.
func (c *Child) FromPlugin(ctx context.Context, api string, abortIfNonCoordinating bool) (string, error) {
	coordinating := c.bridge.executor.IsCoordinating(ctx)
	if abortIfNonCoordinating && !coordinating {
		panic(&executor.AffinityError{Op: "FromPlugin"})
	}

	if api == ipc.IsCoordinatingQuery {
		if coordinating {
			return ipc.CoordinatingTrue, nil
		}
		return ipc.CoordinatingFalse, nil
	}

	if abortIfNonCoordinating {
		var reply ipc.APIMessage
		if err := c.bridge.Call(ctx, ipc.MethodFromPlugin, ipc.APIMessage{API: api}, &reply); err != nil {
			return "", err
		}
		return reply.API, nil
	}
	return "", c.bridge.Send(ctx, ipc.MethodAsyncFromPlugin, ipc.APIMessage{API: api})
}

func (c *Child) handleToPlugin(ctx context.Context, request *Request) (any, error) {
	var message ipc.APIMessage
	if err := request.Decode(&message); err != nil {
		return nil, err
	}

	c.mu.Lock()
	toPlugin := c.toPlugin
	c.mu.Unlock()
	if toPlugin == nil {
		return nil, errors.New("plugin not initialized")
	}

	result, err := toPlugin(ctx, message.API)
	if err != nil {
		return nil, err
	}
	return ipc.APIMessage{API: result}, nil
}

func (c *Child) handleSendFile(ctx context.Context, request *Request) (any, error) {
	files := request.TakeFiles()
	if len(files) != 1 {
		closeFiles(files)
		return nil, fmt.Errorf("send-file carries %d descriptors, want 1", len(files))
	}

	fd := int64(files[0].Fd())
	c.mu.Lock()
	c.files[fd] = files[0]
	c.mu.Unlock()

	c.logger.Debug("received file", "fd", fd)
	return ipc.FileDescriptor{FD: fd}, nil
}

// handleSendSegment maps a segment from the host. A copy in either
// direction uses the mapping only for the duration of the call; plain
// registration keeps it in the table and returns its address.
func (c *Child) handleSendSegment(ctx context.Context, request *Request) (any, error) {
	files := request.TakeFiles()
	if len(files) != 1 {
		closeFiles(files)
		return nil, fmt.Errorf("send-segment carries %d descriptors, want 1", len(files))
	}

	var transfer ipc.SegmentTransfer
	if err := request.Decode(&transfer); err != nil {
		files[0].Close()
		return nil, err
	}
	if !transfer.CopyTo.IsZero() && !transfer.CopyFrom.IsZero() {
		files[0].Close()
		return nil, fmt.Errorf("send-segment with both copy_to=%s and copy_from=%s", transfer.CopyTo, transfer.CopyFrom)
	}

	segment, err := shm.Map(files[0], int(transfer.Size))
	if err != nil {
		return nil, err
	}

	if transfer.CopyTo.IsZero() && transfer.CopyFrom.IsZero() {
		address := c.table.Register(segment)
		c.logger.Debug("registered segment", "address", address, "size", transfer.Size)
		return ipc.SegmentBinding{Address: address}, nil
	}

	defer segment.Close()
	segment.BeginTransfer()
	defer segment.EndTransfer()

	if !transfer.CopyTo.IsZero() {
		destination, err := c.table.Bytes(transfer.CopyTo)
		if err != nil {
			return nil, err
		}
		if len(destination) < segment.Size() {
			return nil, fmt.Errorf("buffer %s holds %d bytes, transfer carries %d", transfer.CopyTo, len(destination), segment.Size())
		}
		copy(destination, segment.Bytes())
		return ipc.SegmentBinding{}, nil
	}

	source, err := c.table.Bytes(transfer.CopyFrom)
	if err != nil {
		return nil, err
	}
	if len(source) < segment.Size() {
		return nil, fmt.Errorf("buffer %s holds %d bytes, transfer wants %d", transfer.CopyFrom, len(source), segment.Size())
	}
	copy(segment.Bytes(), source)
	return ipc.SegmentBinding{}, nil
}

func (c *Child) handleReleaseSegment(ctx context.Context, request *Request) (any, error) {
	var release ipc.SegmentRelease
	if err := request.Decode(&release); err != nil {
		return nil, err
	}
	return nil, c.table.Release(release.Address)
}

// Close unmaps every buffer and closes every received file.
func (c *Child) Close() error {
	c.mu.Lock()
	files := c.files
	c.files = make(map[int64]*os.File)
	c.mu.Unlock()

	var errs []error
	errs = append(errs, c.table.Close())
	for _, file := range files {
		errs = append(errs, file.Close())
	}
	return errors.Join(errs...)
}
