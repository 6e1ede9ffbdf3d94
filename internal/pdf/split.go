package pdf

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

// PageRange は1始まりの閉区間です。
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Split は splitMode に従ってPDFを分割します。
// ranges と pages は区間ごとに part-NN.pdf を、extract は指定ページだけの1ファイルを出力します。
func (s *Service) Split(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.Split)
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

	if p.Mode == params.SplitModeExtract {
		return s.extractPages(ws, stored, p.Pages, progress)
	}

	var ranges []PageRange
	if p.Mode == params.SplitModeRanges {
		ranges, err = parsePageRanges(p.Ranges, stored.pages)
		if err != nil {
			return nil, err
		}
	} else {
		ranges = make([]PageRange, 0, stored.pages)
		for page := 1; page <= stored.pages; page++ {
			ranges = append(ranges, PageRange{Start: page, End: page})
		}
	}

	outputs := make([]registry.Output, 0, len(ranges))
	for i, pr := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		partName := fmt.Sprintf("part-%02d.pdf", i+1)
		partPath := ws.out(partName)
		if err := pdfapi.CollectFile(stored.path, partPath, buildPageSelection(pr), nil); err != nil {
			return nil, newError(CodeUnsupportedPDF, fmt.Sprintf("Failed to create page range %d", i+1), err)
		}
		out, err := readOutput(partPath, partName, "application/pdf")
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
		reportProgress(progress, "process", stepProgress(20, 90, i, len(ranges)))
	}
	return outputs, nil
}

func (s *Service) extractPages(ws workspace, stored storedFile, pages []int, progress ProgressReporter) ([]registry.Output, error) {
	selection := make([]string, 0, len(pages))
	for _, page := range pages {
		if page > stored.pages {
			return nil, newError(CodeInvalidInput, fmt.Sprintf("page %d is out of range (document has %d pages)", page, stored.pages), nil)
		}
		selection = append(selection, strconv.Itoa(page))
	}
	name := suffixedPDFName(stored.originalName, "_extracted")
	outputPath := ws.out(name)
	if err := pdfapi.CollectFile(stored.path, outputPath, selection, nil); err != nil {
		return nil, newError(CodeUnsupportedPDF, "Failed to extract pages", err)
	}
	reportProgress(progress, "write", 90)
	out, err := readOutput(outputPath, name, "application/pdf")
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}

func parsePageRanges(expr string, pageCount int) ([]PageRange, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, newError(CodeInvalidInput, "page ranges are required", nil)
	}
	segments := strings.Split(expr, ",")

	ranges := make([]PageRange, 0, len(segments))
	usedPages := make(map[int]struct{})
	lastEnd := 0

	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, newError(CodeInvalidInput, "page ranges contain an empty segment", nil)
		}

		start, end, err := parseSingleRange(seg, pageCount)
		if err != nil {
			return nil, err
		}

		if start <= lastEnd {
			return nil, newError(CodeInvalidInput, "page ranges must be in ascending order", nil)
		}
		lastEnd = end

		for p := start; p <= end; p++ {
			if _, exists := usedPages[p]; exists {
				return nil, newError(CodeInvalidInput, fmt.Sprintf("page %d is duplicated", p), nil)
			}
			usedPages[p] = struct{}{}
		}

		ranges = append(ranges, PageRange{Start: start, End: end})

		if end == pageCount && i != len(segments)-1 {
			return nil, newError(CodeInvalidInput, "no range may follow the last page", nil)
		}
	}

	return ranges, nil
}

func parseSingleRange(seg string, pageCount int) (int, int, error) {
	if strings.Contains(seg, "-") {
		parts := strings.SplitN(seg, "-", 2)
		start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, 0, newError(CodeInvalidInput, fmt.Sprintf("range start is not a number: %q", seg), nil)
		}
		var end int
		if strings.TrimSpace(parts[1]) == "" {
			end = pageCount
		} else {
			end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
			if err != nil {
				return 0, 0, newError(CodeInvalidInput, fmt.Sprintf("range end is not a number: %q", seg), nil)
			}
		}

		if start < 1 || end < start || end > pageCount {
			return 0, 0, newError(CodeInvalidInput, fmt.Sprintf("range %q is outside 1-%d", seg, pageCount), nil)
		}
		return start, end, nil
	}

	page, err := strconv.Atoi(seg)
	if err != nil {
		return 0, 0, newError(CodeInvalidInput, fmt.Sprintf("page is not a number: %q", seg), nil)
	}
	if page < 1 || page > pageCount {
		return 0, 0, newError(CodeInvalidInput, fmt.Sprintf("page %d is outside 1-%d", page, pageCount), nil)
	}
	return page, page, nil
}

func buildPageSelection(pr PageRange) []string {
	pages := make([]string, 0, pr.End-pr.Start+1)
	for p := pr.Start; p <= pr.End; p++ {
		pages = append(pages, strconv.Itoa(p))
	}
	return pages
}

func unexpectedParams(req *registry.Request) error {
	return registry.Permanent(fmt.Errorf("unexpected parameters %T for job %s", req.Params, req.JobID))
}
