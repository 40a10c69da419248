// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/renderhost/lib/config"
	"github.com/bureau-foundation/renderhost/lib/logging"
	"github.com/bureau-foundation/renderhost/lib/process"
	"github.com/bureau-foundation/renderhost/lib/version"
	"github.com/bureau-foundation/renderhost/session"
	"github.com/bureau-foundation/renderhost/spool"
	"github.com/bureau-foundation/renderhost/supervisor"
)

// shutdownTimeout bounds how long the child has to exit after goodbye.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

// invocation is the parsed command line.
type invocation struct {
	configPath  string
	logLevel    string
	showVersion bool

	command string
	output  string
	args    []string
}

func parseArgs(args []string) (*invocation, error) {
	var parsed invocation
	global := pflag.NewFlagSet("renderhost", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.StringVar(&parsed.configPath, "config", "", "path to config file (default: $"+config.EnvironmentVariable+")")
	global.StringVar(&parsed.logLevel, "log-level", "", "override the configured log level")
	global.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")
	if err := global.Parse(args); err != nil {
		return nil, err
	}
	if parsed.showVersion {
		return &parsed, nil
	}
	if global.NArg() == 0 {
		return nil, errors.New("usage: renderhost [--config FILE] print|message ...")
	}

	parsed.command = global.Arg(0)
	rest := global.Args()[1:]
	switch parsed.command {
	case "print":
		flagSet := pflag.NewFlagSet("renderhost print", pflag.ContinueOnError)
		flagSet.StringVarP(&parsed.output, "output", "o", ".", "directory for the page images")
		if err := flagSet.Parse(rest); err != nil {
			return nil, err
		}
		if flagSet.NArg() == 0 {
			return nil, errors.New("print: no documents given")
		}
		parsed.args = flagSet.Args()

	case "message":
		if len(rest) != 1 {
			return nil, errors.New("message: want exactly one API string")
		}
		parsed.args = rest

	default:
		return nil, fmt.Errorf("unknown command %q (want print or message)", parsed.command)
	}
	return &parsed, nil
}

func loadConfig(parsed *invocation) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case parsed.configPath != "":
		cfg, err = config.LoadFile(parsed.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.DefaultExpanded()
	}
	if err != nil {
		return nil, err
	}
	if parsed.logLevel != "" {
		cfg.LogLevel = parsed.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(args []string, stdout io.Writer) error {
	parsed, err := parseArgs(args)
	if err != nil {
		return err
	}
	if parsed.showVersion {
		fmt.Fprintf(stdout, "renderhost %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(parsed)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level).With("component", "host")
	slog.SetDefault(logger)

	binary, err := cfg.ChildBinaryPath()
	if err != nil {
		return err
	}
	callTimeout, err := cfg.CallTimeout()
	if err != nil {
		return err
	}
	if err := cfg.EnsureSpoolDirectory(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := session.Launch(ctx, supervisor.Config{
		Binary:         binary,
		BinaryDigest:   cfg.Child.BinaryDigest,
		RPCLibrary:     cfg.Child.RPCLibrary,
		PluginLibrary:  cfg.Child.PluginLibrary,
		SpoolDirectory: cfg.Spool.Directory,
		Compression:    cfg.Spool.Compression,
		LogLevel:       cfg.LogLevel,
		Stderr:         os.Stderr,
		Logger:         logger,
	}, session.Options{
		SpoolDirectory: cfg.Spool.Directory,
		CallTimeout:    callTimeout,
		Logger:         logger,
		OnChildLost: func(err error) {
			logger.Error("renderer crashed; outstanding work failed", "error", err)
		},
	})
	if err != nil {
		return err
	}

	var commandErr error
	switch parsed.command {
	case "print":
		commandErr = printDocuments(ctx, s, cfg, parsed, stdout)
	case "message":
		commandErr = sendMessage(ctx, s, parsed.args[0], stdout)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Close(closeCtx); err != nil {
		logger.Warn("renderer shutdown", "error", err)
	}
	return commandErr
}

func printDocuments(ctx context.Context, s *session.Session, cfg *config.Config, parsed *invocation, stdout io.Writer) error {
	if err := os.MkdirAll(parsed.output, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	var errs []error
	for _, document := range parsed.args {
		absolute, err := filepath.Abs(document)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		device := spool.NewRasterDevice()
		result, err := s.Print(ctx, absolute, device, cfg.Print.DeviceWidth, cfg.Print.DeviceHeight)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", document, err))
			continue
		}
		prefix := strings.TrimSuffix(filepath.Base(document), filepath.Ext(document))
		written, err := device.SavePNGs(parsed.output, prefix)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", document, err))
			continue
		}
		fmt.Fprintf(stdout, "%s: %d pages\n", document, result.Pages)
		for _, path := range written {
			fmt.Fprintf(stdout, "  %s\n", path)
		}
	}
	return errors.Join(errs...)
}

func sendMessage(ctx context.Context, s *session.Session, api string, stdout io.Writer) error {
	answer, err := s.SendMessage(ctx, api)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, answer)
	return nil
}
