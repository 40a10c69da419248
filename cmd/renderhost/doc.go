// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Renderhost prints documents through a sandboxed renderer child.
//
//	renderhost [--config FILE] print [--output DIR] DOCUMENT...
//	renderhost [--config FILE] message API
//
// The print command renders every page of each document in the child,
// replays the spooled pages onto a raster device sized by the config's
// print section, and writes one PNG per page. The message command
// delivers an API string to the plugin and prints its answer.
//
// Configuration comes from --config or RENDERHOST_CONFIG; with
// neither, the built-in defaults are used.
package main
