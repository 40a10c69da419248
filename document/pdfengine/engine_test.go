// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pdfengine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rsc.io/pdf"

	"github.com/bureau-foundation/renderhost/document"
	"github.com/bureau-foundation/renderhost/lib/testutil"
	"github.com/bureau-foundation/renderhost/pluginhost"
	"github.com/bureau-foundation/renderhost/spool"
)

// writeTwoPagePDF writes a document whose first page inherits a
// 612x792 MediaBox and carries one text line and one rectangle, and
// whose second page is 300x200.
func writeTwoPagePDF(t *testing.T) string {
	t.Helper()
	data := testutil.BuildPDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R 5 0 R] /Count 2 /MediaBox [0 0 612 792] >>",
		"<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 4 0 R >> >> /Contents 6 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 300 200] /Resources << >> /Contents 7 0 R >>",
		testutil.PDFStream("BT /F1 12 Tf 72 700 Td (Hello) Tj ET 50 50 100 80 re"),
		testutil.PDFStream("10 10 40 20 re"),
	})
	path := filepath.Join(t.TempDir(), "two-page.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenAndPageGeometry(t *testing.T) {
	engine := New(nil)
	handle, err := engine.Open(writeTwoPagePDF(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer engine.Close(handle)

	if count := engine.PageCount(handle); count != 2 {
		t.Fatalf("PageCount = %d, want 2", count)
	}

	sizes := [][2]float64{{612, 792}, {300, 200}}
	for index, want := range sizes {
		page, err := engine.LoadPage(handle, index)
		if err != nil {
			t.Fatalf("LoadPage(%d): %v", index, err)
		}
		width, height := engine.PageSize(page)
		if width != want[0] || height != want[1] {
			t.Errorf("page %d size = %gx%g, want %gx%g", index, width, height, want[0], want[1])
		}
		engine.ClosePage(page)
	}

	if _, err := engine.LoadPage(handle, 2); err == nil {
		t.Error("LoadPage past the end succeeded")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pdf")
	if err := os.WriteFile(path, []byte("this is not a pdf"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(nil).Open(path); err == nil {
		t.Error("Open accepted a non-PDF file")
	}
	if _, err := New(nil).Open(filepath.Join(t.TempDir(), "missing.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open of missing file = %v, want os.ErrNotExist", err)
	}
}

func TestRenderRecordsTextAndRects(t *testing.T) {
	engine := New(nil)
	handle, err := engine.Open(writeTwoPagePDF(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer engine.Close(handle)
	page, err := engine.LoadPage(handle, 0)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}

	image := spool.NewImage()
	if err := image.BeginPage(612, 792); err != nil {
		t.Fatal(err)
	}
	recorder := spool.NewRecorder(image)
	if err := engine.Render(recorder, page, 0, 0, 612, 792, document.Rotate0, 0); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if err := recorder.Err(); err != nil {
		t.Fatal(err)
	}

	var text []string
	rects := 0
	for _, command := range image.Pages()[0].Commands {
		switch command.Op {
		case spool.OpText:
			text = append(text, command.Text)
		case spool.OpStrokeRect:
			rects++
		}
	}
	if strings.Join(text, "") != "Hello" {
		t.Errorf("text runs = %q, want Hello", text)
	}
	if rects != 1 {
		t.Errorf("recorded %d rectangles, want 1", rects)
	}

	image = spool.NewImage()
	if err := image.BeginPage(612, 792); err != nil {
		t.Fatal(err)
	}
	if err := engine.Render(spool.NewRecorder(image), page, 0, 0, 612, 792, document.Rotate0, document.FlagNoText); err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, command := range image.Pages()[0].Commands {
		if command.Op == spool.OpText {
			t.Error("FlagNoText still recorded text")
		}
	}
}

func TestPageTransform(t *testing.T) {
	// PDF point (0, 100) is the top left corner of this page.
	box := [4]float64{0, 0, 200, 100}
	tests := []struct {
		name         string
		rotation     document.Rotation
		width        int
		height       int
		wantX, wantY float64
	}{
		{"upright", document.Rotate0, 200, 100, 0, 0},
		{"upright scaled", document.Rotate0, 400, 200, 0, 0},
		{"quarter turn", document.Rotate90, 100, 200, 100, 0},
		{"half turn", document.Rotate180, 200, 100, 200, 100},
		{"three quarters", document.Rotate270, 100, 200, 0, 200},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := pageTransform(box, 0, 0, test.width, test.height, test.rotation)
			x, y := m.Apply(0, 100)
			if math.Abs(x-test.wantX) > 1e-9 || math.Abs(y-test.wantY) > 1e-9 {
				t.Errorf("top left maps to (%g, %g), want (%g, %g)", x, y, test.wantX, test.wantY)
			}
		})
	}
}

func TestHandleCacheFitsPageToRequestedArea(t *testing.T) {
	cache := document.NewHandleCache(New(nil), nil)
	if err := cache.Open(0, testutil.WritePDF(t, 1, 612, 792)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cache.CloseAll()

	image, scale, err := cache.RenderPage(0, 0, 1700, 2200)
	if err != nil {
		t.Fatalf("RenderPage: %v", err)
	}
	if scale != 1 {
		t.Errorf("scale = %g, want 1", scale)
	}

	// Compose the recorded transforms the way a device applies them.
	ctm := spool.Identity
	for _, command := range image.Pages()[0].Commands {
		if command.Op == spool.OpTransform {
			ctm = command.Matrix.Multiply(ctm)
		}
	}
	corners := []struct {
		name         string
		pdfX, pdfY   float64
		wantX, wantY float64
	}{
		{"bottom left", 0, 0, 0, 2200},
		{"top right", 612, 792, 1700, 0},
	}
	for _, corner := range corners {
		x, y := ctm.Apply(corner.pdfX, corner.pdfY)
		if math.Abs(x-corner.wantX) > 1e-6 || math.Abs(y-corner.wantY) > 1e-6 {
			t.Errorf("%s maps to (%g, %g), want (%g, %g)", corner.name, x, y, corner.wantX, corner.wantY)
		}
	}
}

func TestMergeRuns(t *testing.T) {
	runs := mergeRuns([]pdf.Text{
		{Font: "F1", FontSize: 10, X: 0, Y: 5, W: 5, S: "a"},
		{Font: "F1", FontSize: 10, X: 5, Y: 5, W: 5, S: "b"},
		{Font: "F1", FontSize: 10, X: 40, Y: 5, W: 5, S: "c"},
		{Font: "F2", FontSize: 10, X: 45, Y: 5, W: 5, S: "d"},
	})
	var got []string
	for _, run := range runs {
		got = append(got, run.S)
	}
	if strings.Join(got, "|") != "ab|c|d" {
		t.Errorf("runs = %q", got)
	}
}

func TestPluginSymbols(t *testing.T) {
	symbols := Symbols(nil)
	module, err := pluginhost.Load(loaderFunc(func(path string) (pluginhost.Library, error) {
		if path == "transport" {
			return pluginhost.Symbols{
				pluginhost.SymbolInitialize: func(fromPlugin pluginhost.FromPluginFunc, getInterface pluginhost.GetInterfaceFunc, initializeModule pluginhost.InitializeModuleFunc) error {
					return initializeModule(3, func(string) any { return nil })
				},
				pluginhost.SymbolCallFromJSON: func(context.Context, string) (string, error) { return "", nil },
			}, nil
		}
		return symbols, nil
	}), "transport", "pdf")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := module.Initialize(func(context.Context, string, bool) (string, error) { return "", nil }); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	engine, err := module.DocumentEngine()
	if err != nil {
		t.Fatalf("DocumentEngine: %v", err)
	}
	if _, ok := engine.(*Engine); !ok {
		t.Errorf("DocumentEngine returned %T", engine)
	}

	getInterface := symbols[pluginhost.SymbolGetInterface].(func(string) any)
	dispatcher, ok := getInterface(DocumentInterface).(pluginhost.Dispatcher)
	if !ok {
		t.Fatalf("%s is not a dispatcher", DocumentInterface)
	}
	args, _ := json.Marshal([]string{writeTwoPagePDF(t)})
	result, err := dispatcher.CallJSON(context.Background(), "Inspect", args)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	inspection := result.(*Inspection)
	if inspection.Pages != 2 || inspection.Width != 612 || inspection.Height != 792 {
		t.Errorf("inspection = %+v", inspection)
	}
	if _, err := dispatcher.CallJSON(context.Background(), "Explode", nil); err == nil {
		t.Error("unknown method succeeded")
	}

	module.Shutdown()
	module.Shutdown()
}

type loaderFunc func(path string) (pluginhost.Library, error)

func (f loaderFunc) Load(path string) (pluginhost.Library, error) {
	return f(path)
}
