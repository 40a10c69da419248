// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

import (
	"fmt"
	"math"
)

// Op identifies a drawing command. Values are stored in spool files;
// do not renumber.
type Op uint8

const (
	// OpSave pushes the graphics state (transform and clip).
	OpSave Op = iota + 1

	// OpRestore pops the graphics state pushed by the matching OpSave.
	OpRestore

	// OpTransform concatenates Matrix onto the current transform.
	OpTransform

	// OpClip intersects the clip with Rect in user space.
	OpClip

	// OpFillRect fills Rect with Color.
	OpFillRect

	// OpStrokeRect outlines Rect with Color at LineWidth.
	OpStrokeRect

	// OpText draws Text with its baseline origin at (Rect.X, Rect.Y).
	OpText
)

func (op Op) String() string {
	switch op {
	case OpSave:
		return "save"
	case OpRestore:
		return "restore"
	case OpTransform:
		return "transform"
	case OpClip:
		return "clip"
	case OpFillRect:
		return "fill-rect"
	case OpStrokeRect:
		return "stroke-rect"
	case OpText:
		return "text"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Command is one recorded drawing operation. Which fields are set
// depends on Op.
type Command struct {
	Op        Op      `cbor:"op"`
	Matrix    *Matrix `cbor:"matrix,omitempty"`
	Rect      *Rect   `cbor:"rect,omitempty"`
	Color     *Color  `cbor:"color,omitempty"`
	LineWidth float64 `cbor:"line_width,omitempty"`
	FontSize  float64 `cbor:"font_size,omitempty"`
	Text      string  `cbor:"text,omitempty"`
}

// Validate reports a command missing the fields its Op requires.
func (c Command) Validate() error {
	switch c.Op {
	case OpSave, OpRestore:
		return nil
	case OpTransform:
		if c.Matrix == nil {
			return fmt.Errorf("spool: %s without matrix", c.Op)
		}
	case OpClip, OpFillRect:
		if c.Rect == nil {
			return fmt.Errorf("spool: %s without rect", c.Op)
		}
	case OpStrokeRect:
		if c.Rect == nil || c.LineWidth <= 0 {
			return fmt.Errorf("spool: %s without rect or positive line width", c.Op)
		}
	case OpText:
		if c.Rect == nil {
			return fmt.Errorf("spool: %s without origin", c.Op)
		}
	default:
		return fmt.Errorf("spool: unknown %s", c.Op)
	}
	return nil
}

// Matrix is a 2-D affine transform mapping (x, y) to
// (A*x + C*y + E, B*x + D*y + F).
type Matrix struct {
	A float64 `cbor:"a"`
	B float64 `cbor:"b"`
	C float64 `cbor:"c"`
	D float64 `cbor:"d"`
	E float64 `cbor:"e"`
	F float64 `cbor:"f"`
}

// Identity is the transform that changes nothing.
var Identity = Matrix{A: 1, D: 1}

// Scale returns a transform scaling by sx and sy.
func Scale(sx, sy float64) Matrix {
	return Matrix{A: sx, D: sy}
}

// Translate returns a transform moving by (tx, ty).
func Translate(tx, ty float64) Matrix {
	return Matrix{A: 1, D: 1, E: tx, F: ty}
}

// Multiply returns the transform that applies m first, then n.
func (m Matrix) Multiply(n Matrix) Matrix {
	return Matrix{
		A: m.A*n.A + m.B*n.C,
		B: m.A*n.B + m.B*n.D,
		C: m.C*n.A + m.D*n.C,
		D: m.C*n.B + m.D*n.D,
		E: m.E*n.A + m.F*n.C + n.E,
		F: m.E*n.B + m.F*n.D + n.F,
	}
}

// Apply maps the point (x, y).
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m.A*x + m.C*y + m.E, m.B*x + m.D*y + m.F
}

// Rect is an axis-aligned rectangle in user space.
type Rect struct {
	X      float64 `cbor:"x"`
	Y      float64 `cbor:"y"`
	Width  float64 `cbor:"w"`
	Height float64 `cbor:"h"`
}

// Corners returns the four corners of r mapped through m, in drawing
// order.
func (r Rect) Corners(m Matrix) [4][2]float64 {
	var corners [4][2]float64
	points := [4][2]float64{
		{r.X, r.Y},
		{r.X + r.Width, r.Y},
		{r.X + r.Width, r.Y + r.Height},
		{r.X, r.Y + r.Height},
	}
	for index, point := range points {
		corners[index][0], corners[index][1] = m.Apply(point[0], point[1])
	}
	return corners
}

// Bounds returns the smallest axis-aligned box holding r mapped
// through m, as (minX, minY, maxX, maxY).
func (r Rect) Bounds(m Matrix) (float64, float64, float64, float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, corner := range r.Corners(m) {
		minX, maxX = math.Min(minX, corner[0]), math.Max(maxX, corner[0])
		minY, maxY = math.Min(minY, corner[1]), math.Max(maxY, corner[1])
	}
	return minX, minY, maxX, maxY
}

// Color is a non-premultiplied 8-bit RGBA colour.
type Color struct {
	R uint8 `cbor:"r"`
	G uint8 `cbor:"g"`
	B uint8 `cbor:"b"`
	A uint8 `cbor:"a"`
}

// Black is opaque black.
var Black = Color{A: 0xff}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	a = uint32(c.A)
	r = uint32(c.R) * a / 0xff
	g = uint32(c.G) * a / 0xff
	b = uint32(c.B) * a / 0xff
	return r * 0x101, g * 0x101, b * 0x101, a * 0x101
}
