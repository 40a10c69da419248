// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// Device is an output a spooled image replays onto. Replay calls
// BeginPage, then Execute once per command, then EndPage, for each
// page in order.
type Device interface {
	BeginPage(width, height float64) error
	Execute(command Command) error
	EndPage() error
}

type rasterState struct {
	matrix Matrix
	clip   image.Rectangle
}

// RasterDevice rasterizes each page into an RGBA image, one device
// unit per pixel, origin top left. Glyphs use a fixed 7x13 bitmap
// face; FontSize is not honoured.
type RasterDevice struct {
	pages      []*image.RGBA
	current    *image.RGBA
	state      rasterState
	stack      []rasterState
	rasterizer *vector.Rasterizer
	background color.Color
}

// NewRasterDevice returns a device that starts every page white.
func NewRasterDevice() *RasterDevice {
	return &RasterDevice{
		rasterizer: vector.NewRasterizer(1, 1),
		background: color.White,
	}
}

// BeginPage implements Device.
func (d *RasterDevice) BeginPage(width, height float64) error {
	if d.current != nil {
		return ErrPageOpen
	}
	bounds := image.Rect(0, 0, int(math.Ceil(width)), int(math.Ceil(height)))
	if bounds.Empty() {
		return fmt.Errorf("spool: page size must be positive, got %gx%g", width, height)
	}
	d.current = image.NewRGBA(bounds)
	draw.Draw(d.current, bounds, image.NewUniform(d.background), image.Point{}, draw.Src)
	d.state = rasterState{matrix: Identity, clip: bounds}
	d.stack = d.stack[:0]
	return nil
}

// EndPage implements Device. An unbalanced save is an error, but the
// page is kept.
func (d *RasterDevice) EndPage() error {
	if d.current == nil {
		return ErrNoPage
	}
	d.pages = append(d.pages, d.current)
	d.current = nil
	if depth := len(d.stack); depth != 0 {
		d.stack = d.stack[:0]
		return fmt.Errorf("spool: page ended with %d unrestored saves", depth)
	}
	return nil
}

// Execute implements Device.
func (d *RasterDevice) Execute(command Command) error {
	if d.current == nil {
		return ErrNoPage
	}
	if err := command.Validate(); err != nil {
		return err
	}

	switch command.Op {
	case OpSave:
		d.stack = append(d.stack, d.state)
	case OpRestore:
		if len(d.stack) == 0 {
			return errors.New("spool: restore without save")
		}
		d.state = d.stack[len(d.stack)-1]
		d.stack = d.stack[:len(d.stack)-1]
	case OpTransform:
		d.state.matrix = command.Matrix.Multiply(d.state.matrix)
	case OpClip:
		minX, minY, maxX, maxY := command.Rect.Bounds(d.state.matrix)
		box := image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
		d.state.clip = d.state.clip.Intersect(box)
	case OpFillRect:
		d.fill(*command.Rect, colorOf(command))
	case OpStrokeRect:
		d.stroke(*command.Rect, colorOf(command), command.LineWidth)
	case OpText:
		d.text(command.Rect.X, command.Rect.Y, colorOf(command), command.Text)
	}
	return nil
}

func colorOf(command Command) Color {
	if command.Color == nil {
		return Black
	}
	return *command.Color
}

// fill rasterizes rect under the current transform, limited to the
// clip. The rasterizer mask is sized to the clip, so path coordinates
// are shifted by the clip origin.
func (d *RasterDevice) fill(rect Rect, c Color) {
	clip := d.state.clip
	if clip.Empty() {
		return
	}
	d.rasterizer.Reset(clip.Dx(), clip.Dy())
	d.rasterizer.DrawOp = draw.Over
	for index, corner := range rect.Corners(d.state.matrix) {
		x := float32(corner[0] - float64(clip.Min.X))
		y := float32(corner[1] - float64(clip.Min.Y))
		if index == 0 {
			d.rasterizer.MoveTo(x, y)
		} else {
			d.rasterizer.LineTo(x, y)
		}
	}
	d.rasterizer.ClosePath()
	d.rasterizer.Draw(d.current, clip, image.NewUniform(c), image.Point{})
}

func (d *RasterDevice) stroke(rect Rect, c Color, lineWidth float64) {
	half := lineWidth / 2
	d.fill(Rect{X: rect.X - half, Y: rect.Y - half, Width: rect.Width + lineWidth, Height: lineWidth}, c)
	d.fill(Rect{X: rect.X - half, Y: rect.Y + rect.Height - half, Width: rect.Width + lineWidth, Height: lineWidth}, c)
	d.fill(Rect{X: rect.X - half, Y: rect.Y + half, Width: lineWidth, Height: rect.Height - lineWidth}, c)
	d.fill(Rect{X: rect.X + rect.Width - half, Y: rect.Y + half, Width: lineWidth, Height: rect.Height - lineWidth}, c)
}

func (d *RasterDevice) text(x, y float64, c Color, s string) {
	if d.state.clip.Empty() || s == "" {
		return
	}
	deviceX, deviceY := d.state.matrix.Apply(x, y)
	drawer := font.Drawer{
		Dst:  d.current.SubImage(d.state.clip).(*image.RGBA),
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(math.Round(deviceX)), int(math.Round(deviceY))),
	}
	drawer.DrawString(s)
}

// Pages returns the finished pages.
func (d *RasterDevice) Pages() []*image.RGBA {
	return d.pages
}

// WritePNG encodes finished page index as PNG.
func (d *RasterDevice) WritePNG(w io.Writer, index int) error {
	if index < 0 || index >= len(d.pages) {
		return fmt.Errorf("spool: page %d out of range [0, %d)", index, len(d.pages))
	}
	return png.Encode(w, d.pages[index])
}

// SavePNGs writes every finished page to directory as
// <prefix>-<page>.png, pages numbered from 1, and returns the paths.
func (d *RasterDevice) SavePNGs(directory, prefix string) ([]string, error) {
	paths := make([]string, 0, len(d.pages))
	for index := range d.pages {
		path := filepath.Join(directory, fmt.Sprintf("%s-%03d.png", prefix, index+1))
		file, err := os.Create(path)
		if err != nil {
			return paths, fmt.Errorf("creating %s: %w", path, err)
		}
		err = d.WritePNG(file, index)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return paths, fmt.Errorf("writing %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
