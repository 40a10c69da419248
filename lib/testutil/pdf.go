// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// BuildPDF assembles a PDF from object bodies (object i+1 is
// objects[i], object 1 is the catalog) with a correct cross-reference
// table.
func BuildPDF(objects []string) []byte {
	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for index, body := range objects {
		offsets[index] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", index+1, body)
	}
	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(objects)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return out.Bytes()
}

// PDFStream wraps content as a stream object body.
func PDFStream(content string) string {
	return fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
}

// WritePDF writes a document of pages pages, each width x height
// points with one rectangle, into a test temporary directory and
// returns its path.
func WritePDF(t *testing.T, pages int, width, height float64) string {
	t.Helper()
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"", // page tree, filled in below
		PDFStream("10 10 40 20 re"),
	}
	kids := ""
	for range pages {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /Resources << >> /Contents 3 0 R >>")
		kids += fmt.Sprintf("%d 0 R ", len(objects))
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 %g %g] >>", kids, pages, width, height)

	path := filepath.Join(t.TempDir(), fmt.Sprintf("sample-%d.pdf", pages))
	if err := os.WriteFile(path, BuildPDF(objects), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
