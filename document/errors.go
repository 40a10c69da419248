// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package document

import "errors"

var (
	// ErrOpenFailed is returned when the engine cannot parse a document
	// or reports that it has no pages.
	ErrOpenFailed = errors.New("document: open failed")

	// ErrUnknownDocument is returned for an id that is not open.
	ErrUnknownDocument = errors.New("document: unknown document")

	// ErrPageOutOfRange is returned for a page index outside
	// [0, page count).
	ErrPageOutOfRange = errors.New("document: page out of range")

	// ErrPageLoadFailed is returned when the engine cannot load a page
	// of an open document.
	ErrPageLoadFailed = errors.New("document: page load failed")

	// ErrInvalidDimensions is returned when a render width or height is
	// not positive.
	ErrInvalidDimensions = errors.New("document: invalid dimensions")
)
