// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package document

import "github.com/bureau-foundation/renderhost/spool"

// Handle is an engine's open document. Only the engine that returned
// it looks inside.
type Handle any

// PageHandle is an engine's loaded page.
type PageHandle any

// Rotation is a clockwise page rotation in quarter turns.
type Rotation int

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// RenderFlags adjust how an engine renders.
type RenderFlags uint32

const (
	// FlagGrayscale renders colours as luminance.
	FlagGrayscale RenderFlags = 1 << iota

	// FlagNoText skips text runs.
	FlagNoText
)

// Surface receives an engine's drawing. *spool.Recorder implements it.
type Surface interface {
	Save()
	Restore()
	Transform(m spool.Matrix)
	Clip(rect spool.Rect)
	FillRect(rect spool.Rect, c spool.Color)
	StrokeRect(rect spool.Rect, c spool.Color, lineWidth float64)
	Text(x, y, fontSize float64, c spool.Color, s string)
}

// Engine is the native document library. Its methods are only called
// from the coordinating context.
type Engine interface {
	// Open parses the document at path. A nil handle with a nil error
	// is treated as a failure.
	Open(path string) (Handle, error)

	// PageCount returns the number of pages in doc.
	PageCount(doc Handle) int

	// LoadPage loads page index (zero-based) of doc.
	LoadPage(doc Handle, index int) (PageHandle, error)

	// PageSize returns the page's width and height in device units at
	// scale 1, before rotation.
	PageSize(page PageHandle) (width, height float64)

	// Render draws page into surface, fitted to the device rectangle
	// (x, y, width, height).
	Render(surface Surface, page PageHandle, x, y, width, height int, rotation Rotation, flags RenderFlags) error

	ClosePage(page PageHandle)
	Close(doc Handle)
}
