// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/renderhost/lib/binhash"
	"github.com/bureau-foundation/renderhost/lib/channel"
	"github.com/bureau-foundation/renderhost/pluginhost"
)

// ChannelFD is the descriptor number the child inherits its end of the
// channel under. ExtraFiles[0] always lands on 3.
const ChannelFD = 3

// ErrLaunchFailed wraps every reason Launch could not start a child.
var ErrLaunchFailed = errors.New("supervisor: launch failed")

// Config describes the child to start.
type Config struct {
	// Binary is the renderer child executable.
	Binary string

	// BinaryDigest, when set, pins Binary's BLAKE3 digest (hex). A
	// binary with other content is not started.
	BinaryDigest string

	// RPCLibrary and PluginLibrary are passed as --rpc-lib and
	// --plugin-lib. Paths must exist; "builtin:" names are passed
	// through.
	RPCLibrary    string
	PluginLibrary string

	// SpoolDirectory is passed as --spool-dir when set.
	SpoolDirectory string

	// Compression is passed as --compression when set.
	Compression string

	// LogLevel is passed as --log-level when set.
	LogLevel string

	// Env is appended to the child's minimal environment.
	Env []string

	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout, Stderr io.Writer

	Logger *slog.Logger
}

// checkLibrary verifies that a library argument names something the
// child can load.
func checkLibrary(flag, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrLaunchFailed, flag)
	}
	if strings.HasPrefix(value, pluginhost.BuiltinPrefix) {
		return nil
	}
	if _, err := os.Stat(value); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLaunchFailed, flag, err)
	}
	return nil
}

// args returns the child's command line after the binary.
func (c *Config) args() []string {
	args := []string{
		"--rpc-lib", c.RPCLibrary,
		"--plugin-lib", c.PluginLibrary,
		fmt.Sprintf("--channel-fd=%d", ChannelFD),
	}
	if c.SpoolDirectory != "" {
		args = append(args, "--spool-dir", c.SpoolDirectory)
	}
	if c.Compression != "" {
		args = append(args, "--compression", c.Compression)
	}
	if c.LogLevel != "" {
		args = append(args, "--log-level", c.LogLevel)
	}
	return args
}

// environment is the child's whole environment: enough to find
// libraries and a runtime directory, nothing inherited wholesale.
func (c *Config) environment() []string {
	env := []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	for _, name := range []string{"HOME", "XDG_RUNTIME_DIR"} {
		if value := os.Getenv(name); value != "" {
			env = append(env, name+"="+value)
		}
	}
	return append(env, c.Env...)
}

// Process is a running child.
type Process struct {
	cmd    *exec.Cmd
	conn   *channel.Conn
	logger *slog.Logger
	digest string

	done     chan struct{}
	exitCode int
	waitErr  error

	killOnce sync.Once
}

// Launch starts the child described by config. The returned Process
// owns the host end of the channel; the caller builds a bridge on
// Conn. Cancelling ctx kills the child.
func Launch(ctx context.Context, config Config) (*Process, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Binary == "" {
		return nil, fmt.Errorf("%w: no child binary", ErrLaunchFailed)
	}
	if _, err := os.Stat(config.Binary); err != nil {
		return nil, fmt.Errorf("%w: child binary: %w", ErrLaunchFailed, err)
	}
	if err := checkLibrary("--rpc-lib", config.RPCLibrary); err != nil {
		return nil, err
	}
	if err := checkLibrary("--plugin-lib", config.PluginLibrary); err != nil {
		return nil, err
	}

	var digest [32]byte
	var err error
	if config.BinaryDigest != "" {
		digest, err = binhash.VerifyFile(config.Binary, config.BinaryDigest)
	} else {
		digest, err = binhash.HashFile(config.Binary)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	libraries := libraryDigests(logger, config.RPCLibrary, config.PluginLibrary)

	local, remote, err := channel.Socketpair()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	cmd := exec.CommandContext(ctx, config.Binary, config.args()...)
	cmd.Env = config.environment()
	cmd.ExtraFiles = []*os.File{remote}
	cmd.Stdout = config.Stdout
	cmd.Stderr = config.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	if err := cmd.Start(); err != nil {
		local.Close()
		remote.Close()
		return nil, fmt.Errorf("%w: starting %s: %w", ErrLaunchFailed, config.Binary, err)
	}
	// The child holds its own copy now.
	remote.Close()

	conn, err := channel.NewConn(local)
	if err != nil {
		unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		cmd.Wait()
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	process := &Process{
		cmd:      cmd,
		conn:     conn,
		logger:   logger,
		digest:   binhash.FormatDigest(digest),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go process.reap()

	logger.Info("child started",
		"pid", cmd.Process.Pid,
		"binary", config.Binary,
		"binary_digest", process.digest,
		"rpc_library", config.RPCLibrary,
		"plugin_library", config.PluginLibrary,
		"library_digests", libraries,
	)
	return process, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	if state := p.cmd.ProcessState; state != nil {
		p.exitCode = state.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A non-zero exit or a signal is reported through ExitCode;
		// only failures to wait at all are errors.
		err = nil
	}
	p.waitErr = err

	if p.exitCode == 0 {
		p.logger.Info("child exited", "pid", p.cmd.Process.Pid)
	} else {
		p.logger.Warn("child exited abnormally",
			"pid", p.cmd.Process.Pid,
			"exit_code", p.exitCode,
			"state", p.cmd.ProcessState.String(),
		)
	}
	close(p.done)
}

// libraryDigests hashes the native libraries among paths for the
// launch log. Builtins have no file to hash.
func libraryDigests(logger *slog.Logger, paths ...string) map[string]string {
	digests := make(map[string]string)
	for _, path := range paths {
		if strings.HasPrefix(path, pluginhost.BuiltinPrefix) {
			continue
		}
		digest, err := binhash.HashFile(path)
		if err != nil {
			logger.Warn("hashing library", "path", path, "error", err)
			continue
		}
		digests[path] = binhash.FormatDigest(digest)
	}
	return digests
}

// Digest returns the hex BLAKE3 digest of the binary that was started.
func (p *Process) Digest() string {
	return p.digest
}

// Conn returns the host end of the channel.
func (p *Process) Conn() *channel.Conn {
	return p.conn
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the child's exit code, or -1 while it is running
// or if it was killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// Wait blocks until the child exits or ctx ends.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill sends SIGKILL to the child's process group. Killing an exited
// child is a no-op.
func (p *Process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		p.logger.Warn("killing child", "pid", p.cmd.Process.Pid)
		if killErr := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL); killErr != nil && !errors.Is(killErr, unix.ESRCH) {
			err = fmt.Errorf("killing child %d: %w", p.cmd.Process.Pid, killErr)
		}
	})
	return err
}
