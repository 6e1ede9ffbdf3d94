package pdf

import (
	"context"
	"fmt"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

// Reorder はページを order の順に並べ替えます。order は1始まりで全ページを1回ずつ含みます。
func (s *Service) Reorder(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.Reorder)
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
	if err := validateOrder(p.Order, stored.pages); err != nil {
		return nil, err
	}

	selectedPages := make([]string, len(p.Order))
	for i, page := range p.Order {
		selectedPages[i] = strconv.Itoa(page)
	}

	reportProgress(progress, "process", 40)
	name := suffixedPDFName(stored.originalName, "_reordered")
	outputPath := ws.out(name)
	if err := pdfapi.CollectFile(stored.path, outputPath, selectedPages, nil); err != nil {
		return nil, newError(CodeUnsupportedPDF, "Failed to reorder pages. Check that the file is not corrupted.", err)
	}
	reportProgress(progress, "write", 80)

	out, err := readOutput(outputPath, name, "application/pdf")
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}

func validateOrder(order []int, pageCount int) error {
	if len(order) != pageCount {
		return newError(CodeInvalidInput, fmt.Sprintf("order has %d entries but the document has %d pages", len(order), pageCount), nil)
	}

	seen := make([]bool, pageCount+1)
	for _, page := range order {
		if page < 1 || page > pageCount {
			return newError(CodeInvalidInput, fmt.Sprintf("order contains invalid page number %d", page), nil)
		}
		if seen[page] {
			return newError(CodeInvalidInput, fmt.Sprintf("order contains duplicated page number %d", page), nil)
		}
		seen[page] = true
	}

	return nil
}
