// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pdfengine is a document engine for PDF files built on
// rsc.io/pdf. It extracts what that reader exposes, positioned text
// and rectangles, and draws them onto a document surface. It is a
// proof-of-layout renderer, not a faithful one: fonts, images and
// curves are not drawn.
//
// The package also exports the engine as a builtin plugin library;
// see [Symbols].
package pdfengine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"rsc.io/pdf"

	"github.com/bureau-foundation/renderhost/document"
	"github.com/bureau-foundation/renderhost/spool"
)

// rsc.io/pdf panics on some malformed input. Every call into it goes
// through guard.
func guard(operation string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdfengine: %s: malformed document: %v", operation, recovered)
		}
	}()
	return fn()
}

type openFile struct {
	path   string
	file   *os.File
	reader *pdf.Reader
}

type loadedPage struct {
	page     pdf.Page
	mediaBox [4]float64
}

// Engine implements document.Engine.
type Engine struct {
	logger *slog.Logger
}

// New returns an engine. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Open implements document.Engine.
func (e *Engine) Open(path string) (document.Handle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	var reader *pdf.Reader
	err = guard("open", func() error {
		var openErr error
		reader, openErr = pdf.NewReader(file, info.Size())
		return openErr
	})
	if err != nil {
		file.Close()
		return nil, err
	}
	return &openFile{path: path, file: file, reader: reader}, nil
}

// PageCount implements document.Engine. A document whose page tree
// cannot be read has no pages.
func (e *Engine) PageCount(doc document.Handle) int {
	opened := doc.(*openFile)
	count := 0
	err := guard("page count", func() error {
		count = opened.reader.NumPage()
		return nil
	})
	if err != nil {
		e.logger.Warn("reading page count", "path", opened.path, "error", err)
		return 0
	}
	return count
}

// LoadPage implements document.Engine.
func (e *Engine) LoadPage(doc document.Handle, index int) (document.PageHandle, error) {
	opened := doc.(*openFile)
	var loaded *loadedPage
	err := guard("load page", func() error {
		page := opened.reader.Page(index + 1)
		if page.V.IsNull() {
			return fmt.Errorf("pdfengine: %s has no page %d", opened.path, index)
		}
		box, err := mediaBox(page.V)
		if err != nil {
			return err
		}
		loaded = &loadedPage{page: page, mediaBox: box}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loaded, nil
}

// mediaBox reads /MediaBox from the page or the nearest ancestor that
// has one.
func mediaBox(page pdf.Value) ([4]float64, error) {
	var box [4]float64
	for node, depth := page, 0; !node.IsNull() && depth < 64; node, depth = node.Key("Parent"), depth+1 {
		value := node.Key("MediaBox")
		if value.Kind() != pdf.Array {
			continue
		}
		if value.Len() != 4 {
			return box, fmt.Errorf("pdfengine: MediaBox has %d entries", value.Len())
		}
		for index := range box {
			box[index] = value.Index(index).Float64()
		}
		if box[2] <= box[0] || box[3] <= box[1] {
			return box, fmt.Errorf("pdfengine: empty MediaBox %v", box)
		}
		return box, nil
	}
	return box, errors.New("pdfengine: page has no MediaBox")
}

// PageSize implements document.Engine. One PDF point is one device
// unit.
func (e *Engine) PageSize(page document.PageHandle) (float64, float64) {
	box := page.(*loadedPage).mediaBox
	return box[2] - box[0], box[3] - box[1]
}

// pageTransform maps PDF user space (origin bottom left, y up) onto
// the device rectangle (x, y, width, height) (origin top left, y down)
// after rotating the page clockwise.
func pageTransform(box [4]float64, x, y, width, height int, rotation document.Rotation) spool.Matrix {
	pageWidth, pageHeight := box[2]-box[0], box[3]-box[1]

	m := spool.Translate(-box[0], -box[1]).Multiply(spool.Matrix{A: 1, D: -1, F: pageHeight})

	rotatedWidth, rotatedHeight := pageWidth, pageHeight
	switch rotation {
	case document.Rotate90:
		m = m.Multiply(spool.Matrix{B: 1, C: -1, E: pageHeight})
		rotatedWidth, rotatedHeight = pageHeight, pageWidth
	case document.Rotate180:
		m = m.Multiply(spool.Matrix{A: -1, D: -1, E: pageWidth, F: pageHeight})
	case document.Rotate270:
		m = m.Multiply(spool.Matrix{B: -1, C: 1, F: pageWidth})
		rotatedWidth, rotatedHeight = pageHeight, pageWidth
	}

	m = m.Multiply(spool.Scale(float64(width)/rotatedWidth, float64(height)/rotatedHeight))
	return m.Multiply(spool.Translate(float64(x), float64(y)))
}

// Render implements document.Engine.
func (e *Engine) Render(surface document.Surface, page document.PageHandle, x, y, width, height int, rotation document.Rotation, flags document.RenderFlags) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("pdfengine: render size %dx%d", width, height)
	}
	loaded := page.(*loadedPage)

	var content pdf.Content
	err := guard("content", func() error {
		content = loaded.page.Content()
		return nil
	})
	if err != nil {
		return err
	}

	ink := spool.Black
	if flags&document.FlagGrayscale != 0 {
		ink = grayscale(ink)
	}

	surface.Save()
	surface.Transform(pageTransform(loaded.mediaBox, x, y, width, height, rotation))
	for _, rect := range content.Rect {
		surface.StrokeRect(spool.Rect{
			X:      math.Min(rect.Min.X, rect.Max.X),
			Y:      math.Min(rect.Min.Y, rect.Max.Y),
			Width:  math.Abs(rect.Max.X - rect.Min.X),
			Height: math.Abs(rect.Max.Y - rect.Min.Y),
		}, ink, 1)
	}
	if flags&document.FlagNoText == 0 {
		for _, run := range mergeRuns(content.Text) {
			surface.Text(run.X, run.Y, run.FontSize, ink, run.S)
		}
	}
	surface.Restore()
	return nil
}

// mergeRuns joins consecutive glyphs that continue the same line in
// the same font into one run.
func mergeRuns(glyphs []pdf.Text) []pdf.Text {
	var runs []pdf.Text
	for _, glyph := range glyphs {
		if len(runs) > 0 {
			last := &runs[len(runs)-1]
			continues := last.Font == glyph.Font &&
				last.FontSize == glyph.FontSize &&
				math.Abs(last.Y-glyph.Y) < 0.01 &&
				math.Abs(last.X+last.W-glyph.X) < math.Max(1, glyph.FontSize*0.3)
			if continues {
				last.S += glyph.S
				last.W = glyph.X + glyph.W - last.X
				continue
			}
		}
		runs = append(runs, glyph)
	}
	return runs
}

func grayscale(c spool.Color) spool.Color {
	luma := uint8((299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B)) / 1000)
	return spool.Color{R: luma, G: luma, B: luma, A: c.A}
}

// ClosePage implements document.Engine. Pages hold no resources of
// their own.
func (e *Engine) ClosePage(page document.PageHandle) {}

// Close implements document.Engine.
func (e *Engine) Close(doc document.Handle) {
	opened := doc.(*openFile)
	if err := opened.file.Close(); err != nil {
		e.logger.Warn("closing document", "path", opened.path, "error", err)
	}
}
