// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package document

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/renderhost/spool"
)

type openDocument struct {
	path      string
	handle    Handle
	pageCount int
}

// HandleCache owns the engine handles of every open document.
type HandleCache struct {
	engine Engine
	logger *slog.Logger

	// Flags are passed to every Engine.Render call.
	Flags RenderFlags

	mu        sync.Mutex
	documents map[uint16]*openDocument
}

// NewHandleCache returns an empty cache over engine. A nil logger uses
// slog.Default().
func NewHandleCache(engine Engine, logger *slog.Logger) *HandleCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandleCache{
		engine:    engine,
		logger:    logger,
		documents: make(map[uint16]*openDocument),
	}
}

// Open opens path under id. Opening an id that is already open is a
// programming error and panics.
func (c *HandleCache) Open(id uint16, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.documents[id]; ok {
		panic(fmt.Sprintf("document: id %d already open (%s)", id, existing.path))
	}

	handle, err := c.engine.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}
	if handle == nil {
		return fmt.Errorf("%w: %s", ErrOpenFailed, path)
	}

	pageCount := c.engine.PageCount(handle)
	if pageCount <= 0 {
		c.engine.Close(handle)
		return fmt.Errorf("%w: %s has no pages", ErrOpenFailed, path)
	}

	c.documents[id] = &openDocument{path: path, handle: handle, pageCount: pageCount}
	c.logger.Debug("document opened", "id", id, "path", path, "pages", pageCount)
	return nil
}

// PageCount returns the page count of document id.
func (c *HandleCache) PageCount(id uint16) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	document, ok := c.documents[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	return document.pageCount, nil
}

// Extent is an area in device units.
type Extent struct {
	Width, Height int
}

// RenderPage records page pageIndex of document id onto a single-page
// spool image of width×height device units, on a device that covers
// the whole area. It returns the image and the scale applied.
func (c *HandleCache) RenderPage(id uint16, pageIndex, width, height int) (*spool.Image, float64, error) {
	return c.RenderPageOnDevice(id, pageIndex, width, height, Extent{})
}

// RenderPageOnDevice is RenderPage for a device of the given extent.
// The engine fits the page into width×height; when the device is
// smaller than that area in either axis the drawing is scaled down to
// fit it, and everything is clipped to width×height. A zero extent
// means the device covers width×height.
func (c *HandleCache) RenderPageOnDevice(id uint16, pageIndex, width, height int, device Extent) (*spool.Image, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	document, ok := c.documents[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	if pageIndex < 0 || pageIndex >= document.pageCount {
		return nil, 0, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, pageIndex, document.pageCount)
	}
	if width <= 0 || height <= 0 {
		return nil, 0, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if device.Width < 0 || device.Height < 0 || (device.Width == 0) != (device.Height == 0) {
		return nil, 0, fmt.Errorf("%w: device %dx%d", ErrInvalidDimensions, device.Width, device.Height)
	}
	if device.Width == 0 && device.Height == 0 {
		device = Extent{Width: width, Height: height}
	}

	page, err := c.engine.LoadPage(document.handle, pageIndex)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: page %d of document %d: %w", ErrPageLoadFailed, pageIndex, id, err)
	}
	if page == nil {
		return nil, 0, fmt.Errorf("%w: page %d of document %d", ErrPageLoadFailed, pageIndex, id)
	}
	defer c.engine.ClosePage(page)

	scale := ComputeScale(float64(device.Width), float64(device.Height), float64(width), float64(height))

	image := spool.NewImage()
	if err := image.BeginPage(float64(width), float64(height)); err != nil {
		return nil, 0, err
	}
	recorder := spool.NewRecorder(image)
	recorder.Save()
	recorder.Transform(spool.Scale(scale, scale))
	recorder.Clip(spool.Rect{Width: float64(width), Height: float64(height)})
	err = c.engine.Render(recorder, page, 0, 0, width, height, Rotate0, c.Flags)
	recorder.Restore()
	if err != nil {
		return nil, 0, fmt.Errorf("rendering page %d of document %d: %w", pageIndex, id, err)
	}
	if err := recorder.Err(); err != nil {
		return nil, 0, fmt.Errorf("recording page %d of document %d: %w", pageIndex, id, err)
	}
	if err := image.EndPage(); err != nil {
		return nil, 0, err
	}
	return image, scale, nil
}

// RenderPageToFile renders like RenderPageOnDevice and saves the image
// to path.
func (c *HandleCache) RenderPageToFile(id uint16, pageIndex, width, height int, device Extent, path string, compression spool.CompressionTag) (float64, error) {
	image, scale, err := c.RenderPageOnDevice(id, pageIndex, width, height, device)
	if err != nil {
		return 0, err
	}
	if err := image.Save(path, compression); err != nil {
		return 0, err
	}
	return scale, nil
}

// Close closes document id.
func (c *HandleCache) Close(id uint16) error {
	c.mu.Lock()
	document, ok := c.documents[id]
	delete(c.documents, id)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	c.engine.Close(document.handle)
	c.logger.Debug("document closed", "id", id)
	return nil
}

// CloseAll closes every open document exactly once and returns how
// many were closed.
func (c *HandleCache) CloseAll() int {
	c.mu.Lock()
	documents := c.documents
	c.documents = make(map[uint16]*openDocument)
	c.mu.Unlock()

	for _, document := range documents {
		c.engine.Close(document.handle)
	}
	if len(documents) > 0 {
		c.logger.Info("closed open documents", "count", len(documents))
	}
	return len(documents)
}

// Len returns the number of open documents.
func (c *HandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.documents)
}

// IDs returns the open document ids in ascending order.
func (c *HandleCache) IDs() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint16, 0, len(c.documents))
	for id := range c.documents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
