package pdf

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

const (
	defaultWatermarkColor = "#b3b3b3"
	stampPadding          = 20
)

var (
	hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

	positionAnchors = map[string]string{
		"center":       "c",
		"top-left":     "tl",
		"top-right":    "tr",
		"bottom-left":  "bl",
		"bottom-right": "br",
	}

	signatureFonts = map[string]string{
		"handwritten": "Times-Italic",
		"clean":       "Helvetica",
		"typewriter":  "Courier",
	}
)

// Watermark は全ページにテキストまたは画像の透かしを重ねます。
// 画像の場合は watermarkFileId の入力ファイルを透かしとして使います。
func (s *Service) Watermark(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.Watermark)
	if !ok {
		return nil, unexpectedParams(req)
	}
	doc, mark, err := watermarkInputs(req, p)
	if err != nil {
		return nil, err
	}
	ws, err := newWorkspace(req.ScratchDir)
	if err != nil {
		return nil, err
	}
	progress := s.progressFor(req)

	stored, err := storePDF(ctx, req, ws, 0, doc)
	if err != nil {
		return nil, err
	}
	reportProgress(progress, "download", 20)

	name := prefixedName("watermarked_", stored.originalName)
	outputPath := ws.out(name)
	desc := watermarkDescription(p)

	if p.Type == "image" {
		image, err := storeInput(ctx, req, ws, 1, mark)
		if err != nil {
			return nil, err
		}
		if err := pdfapi.AddImageWatermarksFile(stored.path, outputPath, nil, true, image.path, desc, nil); err != nil {
			return nil, newError(CodeUnsupportedPDF, "Failed to add image watermark", err)
		}
	} else {
		if err := pdfapi.AddTextWatermarksFile(stored.path, outputPath, nil, true, p.Text, desc, nil); err != nil {
			return nil, newError(CodeUnsupportedPDF, "Failed to add watermark", err)
		}
	}
	reportProgress(progress, "write", 90)

	out, err := readOutput(outputPath, name, "application/pdf")
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}

// watermarkInputs は透かしを入れるPDFと透かし画像を選びます。
func watermarkInputs(req *registry.Request, p *params.Watermark) (doc, mark registry.FileDescriptor, err error) {
	if p.Type != "image" {
		if len(req.Inputs) != 1 {
			return doc, mark, newError(CodeInvalidInput, "text watermark takes exactly one PDF", nil)
		}
		return req.Inputs[0], mark, nil
	}
	if len(req.Inputs) != 2 {
		return doc, mark, newError(CodeInvalidInput, "image watermark requires a PDF and an image", nil)
	}
	switch p.WatermarkFileID {
	case req.Inputs[0].ID:
		return req.Inputs[1], req.Inputs[0], nil
	case req.Inputs[1].ID:
		return req.Inputs[0], req.Inputs[1], nil
	default:
		return doc, mark, newError(CodeInvalidInput, fmt.Sprintf("watermark file %s is not an input of this job", p.WatermarkFileID), nil)
	}
}

// watermarkDescription は pdfcpu の透かし記述子を組み立てます。
// 中央配置のときだけ 45 度傾けます。
func watermarkDescription(p *params.Watermark) string {
	anchor := positionAnchors[p.Position]
	if anchor == "" {
		anchor = "c"
	}
	rotation := 0
	if anchor == "c" {
		rotation = 45
	}
	parts := []string{
		"position:" + anchor,
		"offset:" + anchorOffset(anchor),
		fmt.Sprintf("rotation:%d", rotation),
		fmt.Sprintf("opacity:%.2f", p.Opacity),
		"scalefactor:1 abs",
	}
	if p.Type != "image" {
		color := p.Color
		if !hexColorPattern.MatchString(color) {
			color = defaultWatermarkColor
		}
		parts = append(parts,
			"fontname:Helvetica",
			fmt.Sprintf("points:%d", p.Size),
			"fillcolor:"+color,
		)
	}
	return strings.Join(parts, ", ")
}

func anchorOffset(anchor string) string {
	dx, dy := 0, 0
	if strings.HasSuffix(anchor, "l") {
		dx = stampPadding
	}
	if strings.HasSuffix(anchor, "r") {
		dx = -stampPadding
	}
	if strings.HasPrefix(anchor, "t") {
		dy = -stampPadding
	}
	if strings.HasPrefix(anchor, "b") {
		dy = stampPadding
	}
	return fmt.Sprintf("%d %d", dx, dy)
}

// Sign は最終ページの右下に署名テキストを描画します。
func (s *Service) Sign(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.Sign)
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
	reportProgress(progress, "process", 50)

	name := prefixedName("signed_", stored.originalName)
	outputPath := ws.out(name)
	if err := pdfapi.AddTextWatermarksFile(stored.path, outputPath, []string{"l"}, true, p.Text, signatureDescription(p.Style), nil); err != nil {
		return nil, newError(CodeUnsupportedPDF, "Failed to sign PDF", err)
	}
	reportProgress(progress, "write", 90)

	out, err := readOutput(outputPath, name, "application/pdf")
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}

func signatureDescription(style string) string {
	font, ok := signatureFonts[style]
	if !ok {
		font = signatureFonts["handwritten"]
	}
	return strings.Join([]string{
		"fontname:" + font,
		"points:24",
		"position:br",
		"offset:-50 50",
		"rotation:0",
		"scalefactor:1 abs",
		"fillcolor:#000000",
		"opacity:1",
	}, ", ")
}
