package pdf

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

// ghostscriptPreset は圧縮レベルごとの PDFSETTINGS と画像解像度です。
type ghostscriptPreset struct {
	setting    string
	resolution int
}

var compressionPresets = map[string]ghostscriptPreset{
	"low":    {setting: "/printer", resolution: 300},
	"medium": {setting: "/ebook", resolution: 150},
	"high":   {setting: "/screen", resolution: 72},
}

// Compress は入力ごとに圧縮版を出力します。PDF は Ghostscript、JPEG/PNG は再エンコードで圧縮します。
func (s *Service) Compress(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.Compress)
	if !ok {
		return nil, unexpectedParams(req)
	}
	if len(req.Inputs) == 0 {
		return nil, newError(CodeInvalidInput, "at least one file is required", nil)
	}
	ws, err := newWorkspace(req.ScratchDir)
	if err != nil {
		return nil, err
	}
	progress := s.progressFor(req)

	outputs := make([]registry.Output, 0, len(req.Inputs))
	for i, f := range req.Inputs {
		stored, err := storeInput(ctx, req, ws, i, f)
		if err != nil {
			return nil, err
		}
		mtype, err := mimetype.DetectFile(stored.path)
		if err != nil {
			return nil, fmt.Errorf("failed to detect file type: %w", err)
		}

		var out registry.Output
		switch {
		case mtype.Is("application/pdf"):
			out, err = s.compressPDF(ctx, ws, i, stored, p.Level)
		case mtype.Is("image/jpeg"), mtype.Is("image/png"):
			out, err = compressImageFile(stored, mtype.String(), p.Level)
		default:
			err = newError(CodeInvalidInput, fmt.Sprintf("%s: unsupported file type %s", stored.originalName, mtype.String()), nil)
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info("compressed file",
			"job_id", req.JobID,
			"file_id", stored.id,
			"before", stored.size,
			"after", len(out.Data),
			"saved_percent", computeSavedPercent(stored.size, int64(len(out.Data))),
		)
		outputs = append(outputs, out)
		reportProgress(progress, "process", stepProgress(10, 90, i, len(req.Inputs)))
	}
	return outputs, nil
}

func (s *Service) compressPDF(ctx context.Context, ws workspace, index int, stored storedFile, level string) (registry.Output, error) {
	outputPath := ws.out(fmt.Sprintf("compressed-%02d.pdf", index+1))
	if err := s.runTool(ctx, "ghostscript", s.cfg.GhostscriptPath, ghostscriptArgs(outputPath, stored.path, level)...); err != nil {
		return registry.Output{}, err
	}
	return readOutput(outputPath, suffixedPDFName(stored.originalName, "_compressed"), "application/pdf")
}

func ghostscriptArgs(outputPath, inputPath, level string) []string {
	preset, ok := compressionPresets[strings.ToLower(level)]
	if !ok {
		preset = compressionPresets["medium"]
	}

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		fmt.Sprintf("-dPDFSETTINGS=%s", preset.setting),
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-dDownsampleColorImages=true",
		fmt.Sprintf("-dColorImageResolution=%d", preset.resolution),
		"-dDownsampleGrayImages=true",
		fmt.Sprintf("-dGrayImageResolution=%d", preset.resolution),
		"-dDownsampleMonoImages=true",
		fmt.Sprintf("-dMonoImageResolution=%d", preset.resolution),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}

func computeSavedPercent(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}

func compressImageFile(stored storedFile, mimeType, level string) (registry.Output, error) {
	data, err := os.ReadFile(stored.path)
	if err != nil {
		return registry.Output{}, fmt.Errorf("failed to read input: %w", err)
	}
	compressed, ext, err := compressImage(data, level)
	if err != nil {
		return registry.Output{}, err
	}
	return registry.Output{
		Data:          compressed,
		MimeType:      mimeType,
		SuggestedName: baseName(stored.originalName) + "_compressed." + ext,
	}, nil
}
