package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

const docxMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var wordExtensions = map[string]struct{}{
	".doc": {}, ".docx": {}, ".odt": {}, ".rtf": {},
}

// PDFToWord は LibreOffice でPDFを DOCX に変換します。
func (s *Service) PDFToWord(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	input, err := singleInput(req)
	if err != nil {
		return nil, err
	}
	ws, err := newWorkspace(req.ScratchDir)
	if err != nil {
		return nil, err
	}
	progress := s.progressFor(req)

	stored, err := storePDF(ctx, req, ws, 0, input)
	if err != nil {
		return nil, err
	}
	reportProgress(progress, "download", 20)

	args := sofficeArgs(ws, "docx", "writer_pdf_import", stored.path)
	if err := s.runTool(ctx, "libreoffice", s.cfg.LibreOfficePath, args...); err != nil {
		return nil, err
	}
	reportProgress(progress, "convert", 80)

	out, err := readOutput(convertedPath(ws, stored.path, "docx"), withExt(stored.originalName, "docx"), docxMimeType)
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}

// WordToPDF は LibreOffice で Word 文書をPDFに変換します。
func (s *Service) WordToPDF(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	input, err := singleInput(req)
	if err != nil {
		return nil, err
	}
	if _, ok := wordExtensions[strings.ToLower(filepath.Ext(input.OriginalName))]; !ok {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("%s is not a Word document", input.OriginalName), nil)
	}
	ws, err := newWorkspace(req.ScratchDir)
	if err != nil {
		return nil, err
	}
	progress := s.progressFor(req)

	stored, err := storeInput(ctx, req, ws, 0, input)
	if err != nil {
		return nil, err
	}
	reportProgress(progress, "download", 20)

	if err := s.runTool(ctx, "libreoffice", s.cfg.LibreOfficePath, sofficeArgs(ws, "pdf", "", stored.path)...); err != nil {
		return nil, err
	}
	reportProgress(progress, "convert", 80)

	out, err := readOutput(convertedPath(ws, stored.path, "pdf"), withExt(stored.originalName, "pdf"), "application/pdf")
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}

// sofficeArgs は soffice の引数です。ユーザープロファイルは実行ごとに作業ディレクトリ内に作ります。
func sofficeArgs(ws workspace, target, inFilter, inputPath string) []string {
	profile := filepath.Join(ws.dir, "libreoffice_profile")
	args := []string{
		"--headless",
		"-env:UserInstallation=file://" + filepath.ToSlash(profile),
	}
	if inFilter != "" {
		args = append(args, "--infilter="+inFilter)
	}
	return append(args, "--convert-to", target, inputPath, "--outdir", ws.outDir)
}

func convertedPath(ws workspace, inputPath, ext string) string {
	return ws.out(baseName(filepath.Base(inputPath)) + "." + ext)
}

// OCR は Ghostscript でページを TIFF にラスタライズし、Tesseract で検索可能なPDFを生成します。
func (s *Service) OCR(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.OCR)
	if !ok {
		return nil, unexpectedParams(req)
	}
	input, err := singleInput(req)
	if err != nil {
		return nil, err
	}
	ws, err := newWorkspace(req.ScratchDir)
	if err != nil {
		return nil, err
	}
	progress := s.progressFor(req)

	stored, err := storePDF(ctx, req, ws, 0, input)
	if err != nil {
		return nil, err
	}
	reportProgress(progress, "download", 10)

	tiffPath := filepath.Join(ws.dir, "pages.tif")
	if err := s.runTool(ctx, "ghostscript", s.cfg.GhostscriptPath, rasterArgs("tiff24nc", 300, tiffPath, stored.path)...); err != nil {
		return nil, err
	}
	reportProgress(progress, "rasterize", 40)

	outBase := ws.out("ocr")
	if err := s.runTool(ctx, "tesseract", s.cfg.TesseractPath, tesseractArgs(tiffPath, outBase, p.Language)...); err != nil {
		return nil, err
	}
	reportProgress(progress, "recognize", 90)

	out, err := readOutput(outBase+".pdf", prefixedName("ocr_", stored.originalName), "application/pdf")
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}

func tesseractArgs(inputPath, outBase, language string) []string {
	return []string{inputPath, outBase, "-l", language, "--psm", "1", "pdf"}
}

// PDFToImage はページごとに PNG または JPEG 画像を出力します。
func (s *Service) PDFToImage(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.PDFToImage)
	if !ok {
		return nil, unexpectedParams(req)
	}
	input, err := singleInput(req)
	if err != nil {
		return nil, err
	}
	ws, err := newWorkspace(req.ScratchDir)
	if err != nil {
		return nil, err
	}
	progress := s.progressFor(req)

	stored, err := storePDF(ctx, req, ws, 0, input)
	if err != nil {
		return nil, err
	}
	reportProgress(progress, "download", 20)

	device, mimeType := "png16m", "image/png"
	if p.Format == "jpg" {
		device, mimeType = "jpeg", "image/jpeg"
	}
	pattern := ws.out("page-%03d." + p.Format)
	if err := s.runTool(ctx, "ghostscript", s.cfg.GhostscriptPath, rasterArgs(device, p.DPI, pattern, stored.path)...); err != nil {
		return nil, err
	}
	reportProgress(progress, "rasterize", 60)

	pages, err := renderedPages(ws.outDir, p.Format)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, newError(CodeToolFailed, "No images generated", nil)
	}

	outputs := make([]registry.Output, 0, len(pages))
	for i, page := range pages {
		name := fmt.Sprintf("%s-page-%s.%s", baseName(stored.originalName), page.number, p.Format)
		out, err := readOutput(page.path, name, mimeType)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
		reportProgress(progress, "collect", stepProgress(60, 95, i, len(pages)))
	}
	return outputs, nil
}

func rasterArgs(device string, dpi int, outputPattern, inputPath string) []string {
	return []string{
		"-dSAFER",
		"-dBATCH",
		"-dNOPAUSE",
		"-sDEVICE=" + device,
		"-dTextAlphaBits=4",
		"-dGraphicsAlphaBits=4",
		fmt.Sprintf("-r%d", dpi),
		"-sOutputFile=" + outputPattern,
		inputPath,
	}
}

type renderedPage struct {
	number string
	path   string
}

var pageFilePattern = regexp.MustCompile(`^page-(\d+)\.([a-z]+)$`)

// renderedPages は Ghostscript が書き出した page-NNN.<ext> をページ順に返します。
func renderedPages(dir, ext string) ([]renderedPage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered pages: %w", err)
	}
	var pages []renderedPage
	for _, entry := range entries {
		m := pageFilePattern.FindStringSubmatch(entry.Name())
		if m == nil || m[2] != ext {
			continue
		}
		pages = append(pages, renderedPage{number: m[1], path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(pages, func(i, j int) bool {
		a, b := pages[i].number, pages[j].number
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return pages, nil
}
