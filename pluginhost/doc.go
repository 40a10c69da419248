// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pluginhost loads the two libraries the renderer child runs:
// the bridging transport library and the plugin library hosting the
// document engine.
//
// Libraries are resolved by symbol name. The transport library
// exports Initialize and CallFromJSON; the plugin library exports
// PPP_InitializeModule, PPP_ShutdownModule and PPP_GetInterface. A
// path with the "builtin:" prefix names a library compiled into the
// child and registered with a [Registry]; any other path is opened as
// a Go plugin.
//
// [Load] resolves every symbol up front, so a library missing one
// fails before the channel carries any traffic.
package pluginhost
