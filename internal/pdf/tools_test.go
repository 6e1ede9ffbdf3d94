package pdf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/yourusername/docforge/internal/models"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}
}

func TestRunToolFailureIsPermanent(t *testing.T) {
	skipWithoutShell(t)
	s := newTestService()
	tool := fakeTool(t, `echo "Error: /syntaxerror in --file--" >&2; exit 1`)

	err := s.runTool(context.Background(), "ghostscript", tool)
	var pdfErr *Error
	if !errors.As(err, &pdfErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if pdfErr.Code != CodeToolFailed {
		t.Fatalf("unexpected code: %s", pdfErr.Code)
	}
	if !strings.Contains(pdfErr.Message, "syntaxerror") {
		t.Fatalf("message should include tool output: %s", pdfErr.Message)
	}
}

func TestRunToolMissingBinaryIsTransient(t *testing.T) {
	s := newTestService()

	err := s.runTool(context.Background(), "ghostscript", filepath.Join(t.TempDir(), "missing-gs"))
	if err == nil {
		t.Fatalf("expected error")
	}
	var pdfErr *Error
	if errors.As(err, &pdfErr) {
		t.Fatalf("missing tool must be retried, got %v", pdfErr)
	}
}

func TestTailTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("x", toolOutputLimit*2) + "END"
	got := tail(long)
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "END") {
		t.Fatalf("unexpected tail: %q", got[:10])
	}
	if tail("  ") != "no output" {
		t.Fatalf("empty output should be reported")
	}
}

func TestTailKeepsRuneBoundary(t *testing.T) {
	// 3バイト文字の並びに1バイト足して、切り出し位置を文字の途中にずらす
	long := "x" + strings.Repeat("ページ", toolOutputLimit/3)
	got := tail(long)
	if !utf8.ValidString(got) {
		t.Fatalf("tail split a multi-byte character: %q", got[:12])
	}
	if !strings.HasPrefix(got, "...ペ") && !strings.HasPrefix(got, "...ー") && !strings.HasPrefix(got, "...ジ") {
		t.Fatalf("unexpected tail start: %q", got[:12])
	}
	if !strings.HasSuffix(got, "ページ") {
		t.Fatalf("tail lost the end of the output")
	}
}

func TestGhostscriptArgsByLevel(t *testing.T) {
	cases := map[string][]string{
		"low":    {"-dPDFSETTINGS=/printer", "-dColorImageResolution=300"},
		"medium": {"-dPDFSETTINGS=/ebook", "-dColorImageResolution=150"},
		"high":   {"-dPDFSETTINGS=/screen", "-dColorImageResolution=72"},
		"bogus":  {"-dPDFSETTINGS=/ebook"},
	}
	for level, want := range cases {
		args := ghostscriptArgs("out.pdf", "in.pdf", level)
		joined := strings.Join(args, " ")
		for _, w := range want {
			if !strings.Contains(joined, w) {
				t.Fatalf("%s: args %q missing %s", level, joined, w)
			}
		}
		if args[len(args)-1] != "in.pdf" {
			t.Fatalf("input path must be last: %v", args)
		}
	}
}

func TestCompressPDFWithGhostscript(t *testing.T) {
	skipWithoutShell(t)
	tool := fakeTool(t, `for a in "$@"; do case "$a" in -sOutputFile=*) out="${a#-sOutputFile=}";; esac; in="$a"; done
cp "$in" "$out"`)
	s := NewService(Config{GhostscriptPath: tool}, nil)
	req, _ := newRequest(t, models.JobTypeCompress, `{"compressionLevel":"high"}`,
		testInput{id: "f1", name: "scan.pdf", data: samplePDF(t, 1)},
		testInput{id: "f2", name: "photo.png", data: samplePNG(t)},
	)

	outputs, err := s.Compress(context.Background(), req)
	if err != nil {
		t.Fatalf("Compress returned error: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(outputs))
	}
	if outputs[0].SuggestedName != "scan_compressed.pdf" || outputs[0].MimeType != "application/pdf" {
		t.Fatalf("unexpected pdf output: %s %s", outputs[0].SuggestedName, outputs[0].MimeType)
	}
	if outputs[1].SuggestedName != "photo_compressed.png" || outputs[1].MimeType != "image/png" {
		t.Fatalf("unexpected image output: %s %s", outputs[1].SuggestedName, outputs[1].MimeType)
	}
}

func TestCompressRejectsUnknownType(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeCompress, "", testInput{id: "f1", name: "notes.txt", data: []byte("plain text")})

	_, err := s.Compress(context.Background(), req)
	if !IsCode(err, CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestPDFToImageNamesPages(t *testing.T) {
	skipWithoutShell(t)
	tool := fakeTool(t, `for a in "$@"; do case "$a" in -sOutputFile=*) pattern="${a#-sOutputFile=}";; esac; done
for i in 1 2 3; do printf 'img%s' "$i" > "$(printf "$pattern" "$i")"; done`)
	s := NewService(Config{GhostscriptPath: tool}, nil)
	req, _ := newRequest(t, models.JobTypePDFToImage, `{"format":"jpeg","dpi":150}`, testInput{id: "f1", name: "slides.pdf", data: samplePDF(t, 3)})

	outputs, err := s.PDFToImage(context.Background(), req)
	if err != nil {
		t.Fatalf("PDFToImage returned error: %v", err)
	}
	want := []string{"slides-page-001.jpg", "slides-page-002.jpg", "slides-page-003.jpg"}
	if len(outputs) != len(want) {
		t.Fatalf("outputs = %d, want %d", len(outputs), len(want))
	}
	for i, out := range outputs {
		if out.SuggestedName != want[i] {
			t.Fatalf("outputs[%d] = %s, want %s", i, out.SuggestedName, want[i])
		}
		if out.MimeType != "image/jpeg" {
			t.Fatalf("unexpected mime type %s", out.MimeType)
		}
	}
}

func TestPDFToImageWithoutPagesFails(t *testing.T) {
	skipWithoutShell(t)
	s := NewService(Config{GhostscriptPath: fakeTool(t, "exit 0")}, nil)
	req, _ := newRequest(t, models.JobTypePDFToImage, "", testInput{id: "f1", name: "slides.pdf", data: samplePDF(t, 1)})

	_, err := s.PDFToImage(context.Background(), req)
	if !IsCode(err, CodeToolFailed) {
		t.Fatalf("expected TOOL_FAILED, got %v", err)
	}
}

func TestWordToPDFUsesLibreOffice(t *testing.T) {
	skipWithoutShell(t)
	tool := fakeTool(t, `while [ $# -gt 0 ]; do case "$1" in --outdir) outdir="$2"; shift;; --convert-to) target="$2"; shift;; -*) ;; *) in="$1";; esac; shift; done
name=$(basename "$in"); printf '%%PDF-1.4' > "$outdir/${name%.*}.$target"`)
	s := NewService(Config{LibreOfficePath: tool}, nil)
	req, _ := newRequest(t, models.JobTypeWordToPDF, "", testInput{id: "f1", name: "Letter.docx", data: []byte("PK docx")})

	outputs, err := s.WordToPDF(context.Background(), req)
	if err != nil {
		t.Fatalf("WordToPDF returned error: %v", err)
	}
	if outputs[0].SuggestedName != "Letter.pdf" {
		t.Fatalf("unexpected name: %s", outputs[0].SuggestedName)
	}
}

func TestWordToPDFRejectsNonWordInput(t *testing.T) {
	s := newTestService()
	req, _ := newRequest(t, models.JobTypeWordToPDF, "", testInput{id: "f1", name: "image.png", data: []byte("png")})

	_, err := s.WordToPDF(context.Background(), req)
	if !IsCode(err, CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestSofficeArgsUseWorkspaceProfile(t *testing.T) {
	ws := workspace{dir: "/scratch", inDir: "/scratch/in", outDir: "/scratch/out"}
	args := sofficeArgs(ws, "docx", "writer_pdf_import", "/scratch/in/input-01.pdf")
	joined := strings.Join(args, " ")
	for _, want := range []string{"--headless", "-env:UserInstallation=file:///scratch/libreoffice_profile", "--infilter=writer_pdf_import", "--convert-to docx", "--outdir /scratch/out"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	if got := convertedPath(ws, "/scratch/in/input-01.pdf", "docx"); got != "/scratch/out/input-01.docx" {
		t.Fatalf("unexpected converted path %s", got)
	}
}

func TestRenderedPagesOrdersNumerically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"page-1000.png", "page-999.png", "page-001.png", "page-002.jpg", "other.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	pages, err := renderedPages(dir, "png")
	if err != nil {
		t.Fatalf("renderedPages returned error: %v", err)
	}
	var got []string
	for _, p := range pages {
		got = append(got, p.number)
	}
	if strings.Join(got, ",") != "001,999,1000" {
		t.Fatalf("unexpected order %v", got)
	}
}
