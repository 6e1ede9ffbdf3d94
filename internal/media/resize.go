// Package media は動画系ジョブ種別のハンドラを提供します。
package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

// Config は ffmpeg の設定です。
type Config struct {
	FFmpegPath  string
	FFprobePath string
	Preset      string
	CRF         int
}

// Resizer は ffmpeg で動画の解像度とコンテナを変換します。
type Resizer struct {
	cfg    Config
	logger *slog.Logger
}

// NewResizer は Resizer を生成します。
func NewResizer(cfg Config, logger *slog.Logger) *Resizer {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Preset == "" {
		cfg.Preset = "medium"
	}
	if cfg.CRF <= 0 {
		cfg.CRF = 28
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resizer{cfg: cfg, logger: logger.With("component", "media")}
}

// Register は VIDEO_RESIZE のハンドラを登録します。
func (r *Resizer) Register(reg *registry.Registry) error {
	return reg.Register(models.JobTypeVideoResize, r.Resize)
}

// Resize は resized_<name>.<format> を出力します。
func (r *Resizer) Resize(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.VideoResize)
	if !ok {
		return nil, registry.Permanent(fmt.Errorf("unexpected parameters %T for job %s", req.Params, req.JobID))
	}
	if len(req.Inputs) != 1 {
		return nil, registry.Permanent(fmt.Errorf("exactly one input video is required (received: %d)", len(req.Inputs)))
	}
	input := req.Inputs[0]
	log := r.logger.With("job_id", req.JobID)

	data, err := req.Fetch(ctx, input)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(input.OriginalName))
	if ext == "" {
		ext = ".bin"
	}
	inputPath := filepath.Join(req.ScratchDir, "input"+ext)
	if err := os.WriteFile(inputPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}
	req.ReportProgress(10)

	duration, err := r.probeDuration(ctx, inputPath)
	if err != nil {
		// 長さが取れなくても変換はできる。途中の進捗を報告しないだけ
		log.Warn("failed to probe duration", "error", err)
	}

	outputPath := filepath.Join(req.ScratchDir, "output."+p.Format)
	if err := r.runFFmpeg(ctx, ffmpegArgs(inputPath, outputPath, p, r.cfg), duration, func(pct int) {
		req.ReportProgress(10 + pct*85/100)
	}); err != nil {
		return nil, err
	}

	out, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}
	if len(out) == 0 {
		return nil, registry.Permanent(errors.New("ffmpeg produced an empty file"))
	}
	log.Info("video resized", "resolution", p.Resolution, "format", p.Format, "before", len(data), "after", len(out))
	return []registry.Output{{
		Data:          out,
		MimeType:      mimeTypeForContainer(p.Format),
		SuggestedName: OutputName(input.OriginalName, p.Format),
	}}, nil
}

// OutputName は resized_<拡張子なしの名前>.<format> を返します。
func OutputName(original, format string) string {
	name := filepath.Base(strings.TrimSpace(original))
	if name == "." || name == "" {
		name = "video"
	}
	if ext := filepath.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	return "resized_" + name + "." + format
}

func mimeTypeForContainer(format string) string {
	switch format {
	case "webm":
		return "video/webm"
	default:
		return "video/mp4"
	}
}

func ffmpegArgs(inputPath, outputPath string, p *params.VideoResize, cfg Config) []string {
	scale := strings.Replace(params.Resolutions[p.Resolution], "x", ":", 1)
	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", "scale=" + scale,
	}
	if p.Format == "webm" {
		args = append(args, "-c:v", "libvpx-vp9", "-crf", strconv.Itoa(cfg.CRF), "-b:v", "0", "-c:a", "libopus")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", cfg.Preset,
			"-crf", strconv.Itoa(cfg.CRF),
			"-c:a", "aac",
			"-movflags", "+faststart",
		)
	}
	return append(args, "-progress", "pipe:1", "-nostats", outputPath)
}

func (r *Resizer) probeDuration(ctx context.Context, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, r.cfg.FFprobePath, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", input)
	output, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	durationStr := strings.TrimSpace(string(output))
	if durationStr == "" {
		return 0, errors.New("empty duration")
	}
	return strconv.ParseFloat(durationStr, 64)
}

// runFFmpeg は ffmpeg を実行し、-progress の出力から 0〜100 の進捗を onProgress に渡します。
// ffmpeg が起動できない場合は一時的なエラー、異常終了は再試行不可のエラーです。
func (r *Resizer) runFFmpeg(ctx context.Context, args []string, duration float64, onProgress func(int)) error {
	cmd := exec.CommandContext(ctx, r.cfg.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ffmpeg is not available at %q: %w", r.cfg.FFmpegPath, err)
		}
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	consumeProgress(stdout, duration, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return registry.Permanent(fmt.Errorf("ffmpeg execution: %w - %s", err, lastLine(stderr.String())))
	}
	onProgress(100)
	return nil
}

// consumeProgress は key=value 形式の進捗を読み、1% 以上進んだときだけ通知します。
func consumeProgress(rd io.Reader, duration float64, onProgress func(int)) {
	scanner := bufio.NewScanner(rd)
	last := 0
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		if key != "out_time_ms" || duration <= 0 {
			continue
		}
		// out_time_ms は名前に反してマイクロ秒
		outTimeUs, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		current := int(math.Min(99, math.Max(0, outTimeUs/1e6/duration*100)))
		if current > last {
			last = current
			onProgress(current)
		}
	}
}

func lastLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		return out[i+1:]
	}
	return out
}
