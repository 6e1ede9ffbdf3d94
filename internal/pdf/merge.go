package pdf

import (
	"context"
	"fmt"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/docforge/internal/registry"
)

const mergedFilename = "merged.pdf"

// Merge は入力PDFを Order 順に1つへ結合します。
func (s *Service) Merge(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	if len(req.Inputs) < 2 {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("at least two PDF files are required (received: %d)", len(req.Inputs)), nil)
	}
	ws, err := newWorkspace(req.ScratchDir)
	if err != nil {
		return nil, err
	}
	progress := s.progressFor(req)

	paths := make([]string, 0, len(req.Inputs))
	totalPages := 0
	for i, f := range req.Inputs {
		stored, err := storePDF(ctx, req, ws, i, f)
		if err != nil {
			return nil, err
		}
		paths = append(paths, stored.path)
		totalPages += stored.pages
		reportProgress(progress, "download", stepProgress(0, 50, i, len(req.Inputs)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputPath := ws.out(mergedFilename)
	if err := pdfapi.MergeCreateFile(paths, outputPath, false, nil); err != nil {
		return nil, readError("Failed to merge PDFs. Check that the files are not corrupted.", err)
	}
	reportProgress(progress, "write", 90)

	out, err := readOutput(outputPath, mergedFilename, "application/pdf")
	if err != nil {
		return nil, err
	}
	s.logger.Info("merged pdf", "job_id", req.JobID, "files", len(paths), "pages", totalPages)
	return []registry.Output{out}, nil
}
