// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the renderhost
// binaries.
//
// Configuration is loaded from a single file specified by either the
// RENDERHOST_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search.
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas (stripped with tidwall/jsonc); every other file is
// YAML. Both decode into the same [Config] through gopkg.in/yaml.v3,
// since YAML is a superset of JSON.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${XDG_RUNTIME_DIR}, and ${VAR:-default} patterns are
// expanded.
//
// This package depends on no other renderhost packages.
package config
