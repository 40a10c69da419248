// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/renderhost/lib/binhash"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "RENDERHOST_CONFIG"

// Config is the configuration shared by cmd/renderhost and
// cmd/renderhost-child.
type Config struct {
	// Child configures the renderer child process.
	Child ChildConfig `yaml:"child"`

	// Spool configures where and how spooled pages are written.
	Spool SpoolConfig `yaml:"spool"`

	// Bridge configures the RPC channel.
	Bridge BridgeConfig `yaml:"bridge"`

	// Print configures the default output device.
	Print PrintConfig `yaml:"print"`

	// LogLevel is one of debug, info, warn, error.
	// Default: info
	LogLevel string `yaml:"log_level"`
}

// ChildConfig locates the renderer child and the two libraries it
// loads.
type ChildConfig struct {
	// Binary is the renderer child executable. A bare name is looked up
	// next to the running executable, then in PATH.
	// Default: renderhost-child
	Binary string `yaml:"binary"`

	// BinaryDigest pins the child binary's BLAKE3 digest, hex-encoded.
	// Empty accepts any binary.
	BinaryDigest string `yaml:"binary_digest"`

	// RPCLibrary is the bridging transport library passed as
	// --rpc-lib. Either a path to a Go plugin (.so) or a "builtin:"
	// name.
	// Default: builtin:jsonrpc
	RPCLibrary string `yaml:"rpc_library"`

	// PluginLibrary is the library hosting the document engine, passed
	// as --plugin-lib.
	// Default: builtin:pdf
	PluginLibrary string `yaml:"plugin_library"`
}

// SpoolConfig configures spool files.
type SpoolConfig struct {
	// Directory receives one spool file per rendered page. Files are
	// removed after the host replays them.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/renderhost-spool
	Directory string `yaml:"directory"`

	// Compression is one of none, lz4, zstd.
	// Default: zstd
	Compression string `yaml:"compression"`
}

// BridgeConfig configures the RPC channel.
type BridgeConfig struct {
	// CallTimeout bounds synchronous calls issued by the host CLI. On
	// expiry the channel is torn down. "0" disables the bound.
	// Default: 30s
	CallTimeout string `yaml:"call_timeout"`
}

// PrintConfig describes the default output device.
type PrintConfig struct {
	// DeviceWidth and DeviceHeight are the device size in device
	// pixels. Pages larger than the device are scaled down to fit.
	// Default: 1700x2200 (US Letter at 200 dpi)
	DeviceWidth  int `yaml:"device_width"`
	DeviceHeight int `yaml:"device_height"`
}

// Default returns the default configuration. Values loaded from the
// file are merged on top.
func Default() *Config {
	return &Config{
		Child: ChildConfig{
			Binary:        "renderhost-child",
			RPCLibrary:    "builtin:jsonrpc",
			PluginLibrary: "builtin:pdf",
		},
		Spool: SpoolConfig{
			Directory:   "${XDG_RUNTIME_DIR:-/tmp}/renderhost-spool",
			Compression: "zstd",
		},
		Bridge: BridgeConfig{
			CallTimeout: "30s",
		},
		Print: PrintConfig{
			DeviceWidth:  1700,
			DeviceHeight: 2200,
		},
		LogLevel: "info",
	}
}

// DefaultExpanded returns Default with path variables expanded, for
// running without a config file.
func DefaultExpanded() *Config {
	cfg := Default()
	cfg.expandVariables()
	return cfg
}

// Load loads configuration from the path in RENDERHOST_CONFIG. There
// is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your renderhost.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies defaults for
// missing fields, and expands path variables. It does not validate;
// call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Child.Binary = expandVars(c.Child.Binary, vars)
	c.Child.RPCLibrary = expandVars(c.Child.RPCLibrary, vars)
	c.Child.PluginLibrary = expandVars(c.Child.PluginLibrary, vars)
	c.Spool.Directory = expandVars(c.Spool.Directory, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Provided vars win
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	compressionValues = []string{"none", "lz4", "zstd"}
	logLevelValues    = []string{"debug", "info", "warn", "error"}
)

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Child.Binary == "" {
		errs = append(errs, errors.New("child.binary is required"))
	}
	if c.Child.BinaryDigest != "" {
		if _, err := binhash.ParseDigest(c.Child.BinaryDigest); err != nil {
			errs = append(errs, fmt.Errorf("child.binary_digest: %w", err))
		}
	}
	if c.Child.RPCLibrary == "" {
		errs = append(errs, errors.New("child.rpc_library is required"))
	}
	if c.Child.PluginLibrary == "" {
		errs = append(errs, errors.New("child.plugin_library is required"))
	}
	if c.Spool.Directory == "" {
		errs = append(errs, errors.New("spool.directory is required"))
	}
	if !slices.Contains(compressionValues, c.Spool.Compression) {
		errs = append(errs, fmt.Errorf("spool.compression must be one of: %v", compressionValues))
	}
	if _, err := c.CallTimeout(); err != nil {
		errs = append(errs, err)
	}
	if c.Print.DeviceWidth <= 0 || c.Print.DeviceHeight <= 0 {
		errs = append(errs, fmt.Errorf("print.device_width and print.device_height must be positive, got %dx%d",
			c.Print.DeviceWidth, c.Print.DeviceHeight))
	}
	if !slices.Contains(logLevelValues, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", logLevelValues))
	}

	return errors.Join(errs...)
}

// CallTimeout parses Bridge.CallTimeout. Zero means unbounded.
func (c *Config) CallTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.Bridge.CallTimeout)
	if err != nil {
		return 0, fmt.Errorf("bridge.call_timeout: %w", err)
	}
	if timeout < 0 {
		return 0, fmt.Errorf("bridge.call_timeout must not be negative, got %s", timeout)
	}
	return timeout, nil
}

// ChildBinaryPath resolves Child.Binary. A name containing a slash is
// used as given. A bare name is looked up next to the running
// executable first, so an installed pair of binaries finds each other
// without PATH, and then in PATH.
func (c *Config) ChildBinaryPath() (string, error) {
	if strings.ContainsRune(c.Child.Binary, '/') {
		if _, err := os.Stat(c.Child.Binary); err != nil {
			return "", fmt.Errorf("child binary: %w", err)
		}
		return c.Child.Binary, nil
	}

	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), c.Child.Binary)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}

	path, err := exec.LookPath(c.Child.Binary)
	if err != nil {
		return "", fmt.Errorf("%s not found next to this executable or in PATH", c.Child.Binary)
	}
	return path, nil
}

// EnsureSpoolDirectory creates the spool directory if missing.
func (c *Config) EnsureSpoolDirectory() error {
	if err := os.MkdirAll(c.Spool.Directory, 0o700); err != nil {
		return fmt.Errorf("creating spool directory %s: %w", c.Spool.Directory, err)
	}
	return nil
}
