// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package spool

// Recorder is the drawing surface a document engine renders into.
// Every call becomes a command on the image's open page. Drawing calls
// do not return errors; the first failure is kept and reported by Err,
// and later calls are dropped.
type Recorder struct {
	image *Image
	err   error
}

// NewRecorder returns a surface recording into image.
func NewRecorder(image *Image) *Recorder {
	return &Recorder{image: image}
}

func (r *Recorder) record(command Command) {
	if r.err != nil {
		return
	}
	r.err = r.image.Record(command)
}

// Err returns the first recording failure.
func (r *Recorder) Err() error {
	return r.err
}

// Save pushes the graphics state.
func (r *Recorder) Save() {
	r.record(Command{Op: OpSave})
}

// Restore pops the graphics state.
func (r *Recorder) Restore() {
	r.record(Command{Op: OpRestore})
}

// Transform concatenates m onto the current transform.
func (r *Recorder) Transform(m Matrix) {
	r.record(Command{Op: OpTransform, Matrix: &m})
}

// Clip intersects the clip with rect.
func (r *Recorder) Clip(rect Rect) {
	r.record(Command{Op: OpClip, Rect: &rect})
}

// FillRect fills rect with c.
func (r *Recorder) FillRect(rect Rect, c Color) {
	r.record(Command{Op: OpFillRect, Rect: &rect, Color: &c})
}

// StrokeRect outlines rect with c at lineWidth.
func (r *Recorder) StrokeRect(rect Rect, c Color, lineWidth float64) {
	r.record(Command{Op: OpStrokeRect, Rect: &rect, Color: &c, LineWidth: lineWidth})
}

// Text draws s with its baseline origin at (x, y).
func (r *Recorder) Text(x, y, fontSize float64, c Color, s string) {
	r.record(Command{Op: OpText, Rect: &Rect{X: x, Y: y}, Color: &c, FontSize: fontSize, Text: s})
}
