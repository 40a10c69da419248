// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/bureau-foundation/renderhost/lib/codec"
)

// Kind discriminates the four frame types on the channel.
type Kind uint8

const (
	// KindCall expects exactly one KindReply with the same Seq. Calls
	// are total: the reply arrives or the channel is considered broken.
	KindCall Kind = iota + 1

	// KindSend is fire-and-forget. No reply is produced, even when the
	// handler fails.
	KindSend

	// KindReply answers the KindCall with the same Seq.
	KindReply

	// KindGoodbye announces graceful closure. The receiver runs its
	// orderly shutdown instead of treating the following EOF as a
	// crash.
	KindGoodbye
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindSend:
		return "send"
	case KindReply:
		return "reply"
	case KindGoodbye:
		return "goodbye"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is the envelope for every datagram on the channel.
type Frame struct {
	// Kind is the frame type.
	Kind Kind `cbor:"kind"`

	// Seq correlates a call with its reply. Each side numbers its own
	// calls starting at 1; zero on sends and goodbyes.
	Seq uint64 `cbor:"seq,omitempty"`

	// Method names the handler on the receiving side. Empty on replies
	// and goodbyes.
	Method string `cbor:"method,omitempty"`

	// Body is the CBOR-encoded argument (calls, sends) or result
	// (successful replies). Decoding is deferred until the handler for
	// Method is known.
	Body codec.RawMessage `cbor:"body,omitempty"`

	// Error is set on a reply whose handler failed. When non-empty,
	// Body is absent.
	Error string `cbor:"error,omitempty"`

	// Files is the number of file descriptors that travelled with this
	// datagram as SCM_RIGHTS ancillary data. The receiver checks it
	// against what the kernel actually delivered.
	Files int `cbor:"files,omitempty"`
}

// Method names. Each side registers handlers for the methods it
// answers; the comment names the answering side.
const (
	// MethodToPlugin delivers an opaque API string into the plugin
	// (child). Body: APIMessage. Reply: APIMessage.
	MethodToPlugin = "to-plugin"

	// MethodFromPlugin delivers a synchronous API string from the
	// plugin to the host (host). Body: APIMessage. Reply: APIMessage.
	MethodFromPlugin = "from-plugin"

	// MethodAsyncFromPlugin delivers a fire-and-forget API string from
	// the plugin to the host (host, send). Body: APIMessage.
	MethodAsyncFromPlugin = "async-from-plugin"

	// MethodSendFile hands one file descriptor to the child (child).
	// Body: empty. Reply: FileDescriptor.
	MethodSendFile = "send-file"

	// MethodSendSegment hands one shared-memory segment to the child
	// with an optional copy direction (child). Body: SegmentTransfer.
	// Reply: SegmentBinding.
	MethodSendSegment = "send-segment"

	// MethodReleaseSegment unmaps a segment the child received earlier
	// (child). Body: SegmentRelease. Reply: empty.
	MethodReleaseSegment = "release-segment"

	// MethodStartPrint opens a document for printing (child, send).
	// Body: StartPrint. The child answers with a MethodPageCount send.
	MethodStartPrint = "start-print"

	// MethodRenderPage spools one page (child, send). Body: RenderPage.
	// The child answers with a MethodPageSpooled send.
	MethodRenderPage = "render-page"

	// MethodFinishPrint closes a print document (child, send). Body:
	// FinishPrint.
	MethodFinishPrint = "finish-print"

	// MethodPageCount reports the page count of a print document
	// (host, send). Body: PageCount.
	MethodPageCount = "page-count"

	// MethodPageSpooled reports a spooled page (host, send). Body:
	// PageSpooled.
	MethodPageSpooled = "page-spooled"
)

// IsCoordinatingQuery is the API string a plugin sends to ask whether
// it is running on the coordinating context. The child answers it
// locally without crossing the channel.
const IsCoordinatingQuery = `{"__interface":"PPB_Core","__version":"1.0","__method":"IsMainThread"}`

// Local answers to IsCoordinatingQuery.
const (
	CoordinatingTrue  = "[1]"
	CoordinatingFalse = "[0]"
)

// APIMessage carries an opaque API string. The schema of API belongs
// to the plugin and its transport library, never to the bridge.
type APIMessage struct {
	API string `cbor:"api"`
}

// FileDescriptor is the child's reply to MethodSendFile: the
// descriptor number the file now has in the child process.
type FileDescriptor struct {
	FD int64 `cbor:"fd"`
}

// SegmentTransfer accompanies a segment descriptor on
// MethodSendSegment.
//
// At most one of CopyTo and CopyFrom is non-zero. CopyTo names a child
// buffer that receives the segment's contents; CopyFrom names a child
// buffer whose contents are copied into the segment. Both zero means
// plain registration.
type SegmentTransfer struct {
	// Size is the segment length in bytes, as allocated by the host.
	Size int64 `cbor:"size"`

	CopyTo   Address `cbor:"copy_to,omitempty"`
	CopyFrom Address `cbor:"copy_from,omitempty"`
}

// SegmentBinding is the child's reply to MethodSendSegment: the
// address under which the child mapped the segment. The host uses it
// as its cache key.
type SegmentBinding struct {
	Address Address `cbor:"address"`
}

// SegmentRelease names a child mapping to unmap.
type SegmentRelease struct {
	Address Address `cbor:"address"`
}

// StartPrint asks the child to open Path as print document ID. Token
// is unique per submission and is echoed in every message about the
// job, so replies for an earlier job that used the same ID can be told
// apart.
type StartPrint struct {
	ID    uint16 `cbor:"id"`
	Token uint64 `cbor:"token"`
	Path  string `cbor:"path"`
}

// PageCount reports the outcome of StartPrint. Error is set when the
// document could not be opened; Count is then zero.
type PageCount struct {
	ID    uint16 `cbor:"id"`
	Token uint64 `cbor:"token"`
	Count int    `cbor:"count"`
	Error string `cbor:"error,omitempty"`
}

// RenderPage asks the child to spool one page of print document ID,
// fitted to Width×Height, for a device of DeviceWidth×DeviceHeight.
// A zero device size means the device covers Width×Height.
type RenderPage struct {
	ID           uint16 `cbor:"id"`
	Token        uint64 `cbor:"token"`
	Page         int    `cbor:"page"`
	Width        int    `cbor:"width"`
	Height       int    `cbor:"height"`
	DeviceWidth  int    `cbor:"device_width,omitempty"`
	DeviceHeight int    `cbor:"device_height,omitempty"`
}

// PageSpooled reports a spooled page. Path names the spool file the
// host replays and then removes. Error is set when rendering failed;
// Path is then empty.
type PageSpooled struct {
	ID    uint16  `cbor:"id"`
	Token uint64  `cbor:"token"`
	Page  int     `cbor:"page"`
	Path  string  `cbor:"path,omitempty"`
	Scale float64 `cbor:"scale,omitempty"`
	Error string  `cbor:"error,omitempty"`
}

// FinishPrint closes print document ID if it is still open under
// Token.
type FinishPrint struct {
	ID    uint16 `cbor:"id"`
	Token uint64 `cbor:"token"`
}
