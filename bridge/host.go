// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/renderhost/lib/ipc"
)

// Receiver handles API strings the plugin sends to the host.
type Receiver interface {
	ReceiveMessage(ctx context.Context, api string) (string, error)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, api string) (string, error)

// ReceiveMessage calls f.
func (f ReceiverFunc) ReceiveMessage(ctx context.Context, api string) (string, error) {
	return f(ctx, api)
}

// Host is the privileged process's side of the bridge.
type Host struct {
	bridge   *Bridge
	cache    *BufferCache
	receiver Receiver
}

// NewHost registers the host's handlers on b. Inbound plugin messages
// go to receiver. Call before b.Start.
func NewHost(b *Bridge, receiver Receiver) *Host {
	host := &Host{
		bridge:   b,
		cache:    NewBufferCache(b),
		receiver: receiver,
	}
	b.Handle(ipc.MethodFromPlugin, host.handleFromPlugin)
	b.Handle(ipc.MethodAsyncFromPlugin, host.handleAsyncFromPlugin)
	return host
}

// Bridge returns the underlying protocol endpoint.
func (h *Host) Bridge() *Bridge {
	return h.bridge
}

// Cache returns the host's shared buffer cache.
func (h *Host) Cache() *BufferCache {
	return h.cache
}

func (h *Host) handleFromPlugin(ctx context.Context, request *Request) (any, error) {
	var message ipc.APIMessage
	if err := request.Decode(&message); err != nil {
		return nil, err
	}
	result, err := h.receiver.ReceiveMessage(ctx, message.API)
	if err != nil {
		return nil, err
	}
	return ipc.APIMessage{API: result}, nil
}

func (h *Host) handleAsyncFromPlugin(ctx context.Context, request *Request) (any, error) {
	var message ipc.APIMessage
	if err := request.Decode(&message); err != nil {
		return nil, err
	}
	result, err := h.receiver.ReceiveMessage(ctx, message.API)
	if err != nil {
		return nil, err
	}
	if result != "" {
		return nil, fmt.Errorf("asynchronous message produced a result (%d bytes); the plugin cannot receive it", len(result))
	}
	return nil, nil
}

// SendMessage delivers api into the plugin and returns its answer.
func (h *Host) SendMessage(ctx context.Context, api string) (string, error) {
	var reply ipc.APIMessage
	if err := h.bridge.Call(ctx, ipc.MethodToPlugin, ipc.APIMessage{API: api}, &reply); err != nil {
		return "", err
	}
	return reply.API, nil
}

// OpenAndGetFileDescriptor opens path with flags and mode and passes
// the file to the child, returning the descriptor number the child
// holds it under. An empty path passes an anonymous, already unlinked
// temporary file. The host's copy is closed once the child has its
// own.
func (h *Host) OpenAndGetFileDescriptor(ctx context.Context, path string, flags int, mode os.FileMode) (int64, error) {
	var file *os.File
	var err error
	if path == "" {
		file, err = os.CreateTemp("", "renderhost-anonymous-*")
		if err == nil {
			err = os.Remove(file.Name())
			if err != nil {
				file.Close()
			}
		}
	} else {
		file, err = os.OpenFile(path, flags, mode)
	}
	if err != nil {
		return -1, fmt.Errorf("opening file for the plugin: %w", err)
	}
	defer file.Close()

	var descriptor ipc.FileDescriptor
	if err := h.bridge.Call(ctx, ipc.MethodSendFile, nil, &descriptor, file); err != nil {
		return -1, err
	}
	return descriptor.FD, nil
}

// AllocateCachedBuffer creates a shared buffer of size bytes,
// registers it with the child, and caches it under the address the
// child assigned.
func (h *Host) AllocateCachedBuffer(ctx context.Context, size int) (ipc.Address, error) {
	segment, err := h.cache.Allocate(size)
	if err != nil {
		return 0, err
	}
	address, err := h.cache.Bind(ctx, segment, 0, 0)
	if err != nil {
		segment.Close()
		return 0, err
	}
	if _, err := h.cache.Cache(address, segment); err != nil {
		segment.Close()
		return 0, err
	}
	return address, nil
}

// GetCachedBuffer returns the view over the buffer at address.
func (h *Host) GetCachedBuffer(address ipc.Address) (*View, error) {
	return h.cache.View(address)
}

// FreeCachedBuffer releases the buffer at address on the host, then
// tells the child to unmap its side.
func (h *Host) FreeCachedBuffer(ctx context.Context, address ipc.Address) error {
	if err := h.cache.Release(address); err != nil {
		return err
	}
	return h.bridge.Call(ctx, ipc.MethodReleaseSegment, ipc.SegmentRelease{Address: address}, nil)
}

// SetBufferContents copies the first size bytes of data into the
// child's buffer at address, through a transient segment.
func (h *Host) SetBufferContents(ctx context.Context, data []byte, size int, address ipc.Address) error {
	if address.IsZero() {
		return fmt.Errorf("%w: zero address", ErrUnknownSegment)
	}
	if size > len(data) {
		return fmt.Errorf("bridge: size %d exceeds the %d bytes supplied", size, len(data))
	}
	segment, err := h.cache.Allocate(size)
	if err != nil {
		return err
	}
	defer segment.Close()

	if _, err := segment.CopyIn(data[:size]); err != nil {
		return err
	}
	_, err = h.cache.Bind(ctx, segment, address, 0)
	return err
}

// CopyFromCachedBuffer returns a copy of size bytes from the child's
// buffer at address, fetched through a transient segment.
func (h *Host) CopyFromCachedBuffer(ctx context.Context, address ipc.Address, size int) ([]byte, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("%w: zero address", ErrUnknownSegment)
	}
	segment, err := h.cache.Allocate(size)
	if err != nil {
		return nil, err
	}
	defer segment.Close()

	if _, err := h.cache.Bind(ctx, segment, 0, address); err != nil {
		return nil, err
	}
	return segment.CopyOut(size)
}

// Close releases every cached buffer and says goodbye to the child.
func (h *Host) Close() error {
	return errors.Join(h.cache.Close(), h.bridge.Close())
}
