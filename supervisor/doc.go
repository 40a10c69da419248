// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor starts the renderer child process and owns its
// lifetime.
//
// Launch creates a SEQPACKET socketpair, hands one end to the child as
// descriptor 3, and keeps the other as a [channel.Conn] for the host's
// bridge. The child runs in its own process group with a minimal
// environment and is killed by the kernel if the host dies. A child
// that exits or crashes is reported through [Process.Done] and
// [Process.ExitCode]; the supervisor never restarts it.
package supervisor
