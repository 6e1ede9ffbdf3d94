package pdf

import (
	"context"
	"fmt"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

// Rotate は指定ページ (未指定なら全ページ) を回転します。
func (s *Service) Rotate(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.Rotate)
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
	reportProgress(progress, "download", 30)

	selection, err := pageSelection(p.Pages, stored.pages)
	if err != nil {
		return nil, err
	}

	name := suffixedPDFName(stored.originalName, "_rotated")
	outputPath := ws.out(name)
	if err := pdfapi.RotateFile(stored.path, outputPath, normalizeRotation(p.Rotation), selection, nil); err != nil {
		return nil, newError(CodeUnsupportedPDF, "Failed to rotate PDF", err)
	}
	reportProgress(progress, "write", 80)

	out, err := readOutput(outputPath, name, "application/pdf")
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}

// normalizeRotation は -90 などを 0〜359 の時計回りの角度に変換します。
func normalizeRotation(deg int) int {
	return ((deg % 360) + 360) % 360
}

// pageSelection は1始まりのページ番号を pdfcpu の選択文字列に変換します。空なら全ページ (nil) です。
func pageSelection(pages []int, pageCount int) ([]string, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	selection := make([]string, 0, len(pages))
	for _, page := range pages {
		if page < 1 || page > pageCount {
			return nil, newError(CodeInvalidInput, fmt.Sprintf("page %d is out of range (document has %d pages)", page, pageCount), nil)
		}
		selection = append(selection, strconv.Itoa(page))
	}
	return selection, nil
}
