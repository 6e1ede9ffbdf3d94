package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

// samplePDF は指定ページ数の最小構成PDFを生成します。
func samplePDF(t *testing.T, pages int) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	var offsets []int
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		writeObj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	id := "<0123456789abcdef0123456789abcdef>"
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /ID [%s %s] >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, id, id, xref)
	return buf.Bytes()
}

type testInput struct {
	id   string
	name string
	data []byte
}

func newRequest(t *testing.T, typ models.JobType, rawParams string, inputs ...testInput) (*registry.Request, *[]int) {
	t.Helper()
	p, err := params.Decode(typ, []byte(rawParams))
	if err != nil {
		t.Fatalf("params.Decode returned error: %v", err)
	}
	data := make(map[string][]byte, len(inputs))
	descriptors := make([]registry.FileDescriptor, 0, len(inputs))
	for _, in := range inputs {
		data[in.id] = in.data
		descriptors = append(descriptors, registry.FileDescriptor{
			ID:           in.id,
			Bucket:       "uploads",
			StorageKey:   in.id,
			OriginalName: in.name,
			Size:         int64(len(in.data)),
		})
	}
	var progress []int
	req := &registry.Request{
		JobID:  "job-1",
		Inputs: descriptors,
		Params: p,
		Fetch: func(_ context.Context, f registry.FileDescriptor) ([]byte, error) {
			d, ok := data[f.ID]
			if !ok {
				return nil, fmt.Errorf("no such file %s", f.ID)
			}
			return d, nil
		},
		Progress:   func(percent int) { progress = append(progress, percent) },
		ScratchDir: t.TempDir(),
	}
	return req, &progress
}

func outputPages(t *testing.T, out registry.Output) int {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.pdf")
	if err := os.WriteFile(path, out.Data, 0o600); err != nil {
		t.Fatalf("failed to write output: %v", err)
	}
	n, err := pageCount(path)
	if err != nil {
		t.Fatalf("output is not a readable PDF: %v", err)
	}
	return n
}

// fakeTool は引数を受け取って script を実行するシェルスクリプトを作成します。
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write fake tool: %v", err)
	}
	return path
}

func sampleImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	return img
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, sampleImage()); err != nil {
		t.Fatalf("png.Encode returned error: %v", err)
	}
	return buf.Bytes()
}
