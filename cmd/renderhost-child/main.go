// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/renderhost/lib/channel"
	"github.com/bureau-foundation/renderhost/lib/logging"
	"github.com/bureau-foundation/renderhost/lib/process"
	"github.com/bureau-foundation/renderhost/lib/version"
	"github.com/bureau-foundation/renderhost/renderer"
	"github.com/bureau-foundation/renderhost/spool"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// options are the parsed command line.
type options struct {
	rpcLibrary    string
	pluginLibrary string
	channelFD     int
	spoolDir      string
	compression   string
	logLevel      string
	showVersion   bool
}

func parseArgs(args []string) (*options, error) {
	var parsed options
	flagSet := pflag.NewFlagSet("renderhost-child", pflag.ContinueOnError)
	flagSet.StringVar(&parsed.rpcLibrary, "rpc-lib", "", "bridging transport library: Go plugin path or builtin:<name> (required)")
	flagSet.StringVar(&parsed.pluginLibrary, "plugin-lib", "", "document plugin library: Go plugin path or builtin:<name> (required)")
	flagSet.IntVar(&parsed.channelFD, "channel-fd", 3, "inherited descriptor of the channel to the host")
	flagSet.StringVar(&parsed.spoolDir, "spool-dir", filepath.Join(os.TempDir(), "renderhost-spool"), "directory for spooled pages")
	flagSet.StringVar(&parsed.compression, "compression", "zstd", "spool compression: none, lz4, or zstd")
	flagSet.StringVar(&parsed.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if parsed.showVersion {
		return &parsed, nil
	}

	var errs []error
	if parsed.rpcLibrary == "" {
		errs = append(errs, errors.New("--rpc-lib is required"))
	}
	if parsed.pluginLibrary == "" {
		errs = append(errs, errors.New("--plugin-lib is required"))
	}
	if flagSet.NArg() > 0 {
		errs = append(errs, fmt.Errorf("unexpected arguments: %q", flagSet.Args()))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &parsed, nil
}

func run(args []string) error {
	parsed, err := parseArgs(args)
	if err != nil {
		return err
	}
	if parsed.showVersion {
		fmt.Printf("renderhost-child %s\n", version.Info())
		return nil
	}

	level, err := logging.ParseLevel(parsed.logLevel)
	if err != nil {
		return err
	}
	compression, err := spool.ParseCompressionTag(parsed.compression)
	if err != nil {
		return err
	}
	logger := logging.New(level).With("component", "renderer", "pid", os.Getpid())

	if err := os.MkdirAll(parsed.spoolDir, 0o700); err != nil {
		return fmt.Errorf("creating spool directory: %w", err)
	}

	conn, err := channel.NewConnFromFD(parsed.channelFD)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("renderer starting",
		"version", version.Info(),
		"rpc_library", parsed.rpcLibrary,
		"plugin_library", parsed.pluginLibrary,
		"spool_dir", parsed.spoolDir,
	)
	return renderer.Run(ctx, conn, renderer.Config{
		RPCLibrary:     parsed.rpcLibrary,
		PluginLibrary:  parsed.pluginLibrary,
		SpoolDirectory: parsed.spoolDir,
		Compression:    compression,
		Logger:         logger,
		OnAbnormalClose: func(err error) {
			process.QuickExit(1, fmt.Sprintf("host channel lost: %v", err))
		},
	})
}
