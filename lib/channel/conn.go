// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/renderhost/lib/codec"
	"github.com/bureau-foundation/renderhost/lib/ipc"
)

// MaxFrameSize bounds one encoded frame. Bulk data never travels in
// frames; it goes through shared-memory segments, so frames only carry
// API strings and small payloads.
const MaxFrameSize = 128 * 1024

// MaxFiles bounds the descriptors attached to one frame.
const MaxFiles = 8

var (
	// ErrFrameTooLarge is returned when an encoded frame exceeds
	// MaxFrameSize, on either the sending or the receiving side.
	ErrFrameTooLarge = errors.New("channel: frame too large")

	// ErrTooManyFiles is returned when a frame would carry more than
	// MaxFiles descriptors.
	ErrTooManyFiles = errors.New("channel: too many files")

	// ErrFileMismatch is returned when the descriptors delivered by
	// the kernel do not match the frame's Files count.
	ErrFileMismatch = errors.New("channel: file count mismatch")

	// ErrClosed is returned by operations on a closed Conn.
	ErrClosed = errors.New("channel: closed")
)

// Conn is one end of a frame channel.
type Conn struct {
	socket *net.UnixConn

	writeMutex sync.Mutex

	// Reused across ReadFrame calls; a Conn has a single reader.
	readBuffer    []byte
	controlBuffer []byte

	closeOnce sync.Once
	closeErr  error
}

// Socketpair returns the two ends of a fresh SEQPACKET socketpair as
// files. Both are close-on-exec; hand one to a child through
// exec.Cmd.ExtraFiles, which clears the flag on the inherited copy.
func Socketpair() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "renderhost-channel-local"),
		os.NewFile(uintptr(fds[1]), "renderhost-channel-remote"), nil
}

// Pair returns two connected Conns. Used by tests and by in-process
// setups where host and child share an address space.
func Pair() (*Conn, *Conn, error) {
	first, second, err := Socketpair()
	if err != nil {
		return nil, nil, err
	}
	firstConn, err := NewConn(first)
	if err != nil {
		second.Close()
		return nil, nil, err
	}
	secondConn, err := NewConn(second)
	if err != nil {
		firstConn.Close()
		return nil, nil, err
	}
	return firstConn, secondConn, nil
}

// NewConn wraps a SEQPACKET socket. The Conn takes ownership of file:
// it is closed whether or not NewConn succeeds.
func NewConn(file *os.File) (*Conn, error) {
	defer file.Close()

	socketType, err := unix.GetsockoptInt(int(file.Fd()), unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return nil, fmt.Errorf("inspecting channel socket %s: %w", file.Name(), err)
	}
	if socketType != unix.SOCK_SEQPACKET {
		return nil, fmt.Errorf("channel socket %s has type %d, want SOCK_SEQPACKET", file.Name(), socketType)
	}

	// FileConn duplicates the descriptor and registers the copy with
	// the runtime poller, so the deferred Close above only drops the
	// original.
	raw, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("wrapping channel socket %s: %w", file.Name(), err)
	}
	socket, ok := raw.(*net.UnixConn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("channel socket %s is %T, want *net.UnixConn", file.Name(), raw)
	}
	return &Conn{socket: socket}, nil
}

// NewConnFromFD wraps an inherited descriptor number, as passed to the
// child with --channel-fd.
func NewConnFromFD(fd int) (*Conn, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid channel fd %d", fd)
	}
	return NewConn(os.NewFile(uintptr(fd), fmt.Sprintf("channel-fd-%d", fd)))
}

// WriteFrame encodes frame and sends it as one datagram together with
// files. frame.Files is overwritten with len(files). The caller keeps
// ownership of files; the kernel duplicates them into the peer.
func (c *Conn) WriteFrame(frame *ipc.Frame, files ...*os.File) error {
	if len(files) > MaxFiles {
		return fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), MaxFiles)
	}
	frame.Files = len(files)

	data, err := codec.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frame.Kind, err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %s frame for %q is %d bytes", ErrFrameTooLarge, frame.Kind, frame.Method, len(data))
	}

	var rights []byte
	if len(files) > 0 {
		fds := make([]int, len(files))
		for i, file := range files {
			fds[i] = int(file.Fd())
		}
		rights = unix.UnixRights(fds...)
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	n, oobn, err := c.socket.WriteMsgUnix(data, rights, nil)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("writing %s frame: %w", frame.Kind, err)
	}
	if n != len(data) || oobn != len(rights) {
		return fmt.Errorf("short write of %s frame: %d/%d bytes, %d/%d control bytes", frame.Kind, n, len(data), oobn, len(rights))
	}
	return nil
}

// ReadFrame blocks until the next datagram arrives and returns the
// decoded frame with any attached files. The caller owns the returned
// files. Returns io.EOF when the peer closed its end and ErrClosed
// after Close.
func (c *Conn) ReadFrame() (*ipc.Frame, []*os.File, error) {
	if c.readBuffer == nil {
		c.readBuffer = make([]byte, MaxFrameSize+1)
		c.controlBuffer = make([]byte, unix.CmsgSpace(MaxFiles*4))
	}
	data, control := c.readBuffer, c.controlBuffer

	n, controlLength, flags, _, err := c.socket.ReadMsgUnix(data, control)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrClosed
		}
		if errors.Is(err, io.EOF) || errors.Is(err, unix.ECONNRESET) {
			return nil, nil, io.EOF
		}
		return nil, nil, fmt.Errorf("reading frame: %w", err)
	}

	files, controlErr := parseRights(control[:controlLength])
	if controlErr == nil && flags&unix.MSG_CTRUNC != 0 {
		controlErr = fmt.Errorf("%w: control data truncated", ErrFileMismatch)
	}
	if controlErr != nil {
		closeAll(files)
		return nil, nil, controlErr
	}

	// A zero-length datagram with no descriptors is how SEQPACKET
	// reports an orderly peer shutdown.
	if n == 0 && len(files) == 0 {
		return nil, nil, io.EOF
	}
	if n > MaxFrameSize || flags&unix.MSG_TRUNC != 0 {
		closeAll(files)
		return nil, nil, fmt.Errorf("%w: received datagram exceeds %d bytes", ErrFrameTooLarge, MaxFrameSize)
	}

	var frame ipc.Frame
	if err := codec.Unmarshal(data[:n], &frame); err != nil {
		closeAll(files)
		return nil, nil, fmt.Errorf("decoding frame: %w", err)
	}
	if frame.Files != len(files) {
		closeAll(files)
		return nil, nil, fmt.Errorf("%w: %s frame declares %d, received %d", ErrFileMismatch, frame.Kind, frame.Files, len(files))
	}
	return &frame, files, nil
}

// Close shuts the socket down, waking a blocked ReadFrame. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.socket.Close()
	})
	return c.closeErr
}

func parseRights(control []byte) ([]*os.File, error) {
	if len(control) == 0 {
		return nil, nil
	}
	messages, err := unix.ParseSocketControlMessage(control)
	if err != nil {
		return nil, fmt.Errorf("parsing control data: %w", err)
	}
	var files []*os.File
	for i := range messages {
		fds, err := unix.ParseUnixRights(&messages[i])
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("parsing SCM_RIGHTS: %w", err)
		}
		for _, fd := range fds {
			files = append(files, os.NewFile(uintptr(fd), fmt.Sprintf("received-fd-%d", fd)))
		}
	}
	return files, nil
}

func closeAll(files []*os.File) {
	for _, file := range files {
		file.Close()
	}
}
