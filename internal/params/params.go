// Package params はジョブ種別ごとの型付きパラメータを定義します。
// ジョブ作成時に一度だけデコード・検証し、正規化済みのJSONを Job.Metadata とキューメッセージに保存します。
package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/yourusername/docforge/internal/models"
)

// ErrInvalid はパラメータ検証エラーを表します。
var ErrInvalid = errors.New("invalid parameters")

// Params はジョブ種別ごとのパラメータが実装します。
type Params interface {
	JobType() models.JobType
	validate() error
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Merge は MERGE のパラメータです。
type Merge struct{}

// Split は SPLIT のパラメータです。
type Split struct {
	Mode   SplitMode `json:"splitMode"`
	Pages  []int     `json:"pages,omitempty"`
	Ranges string    `json:"ranges,omitempty"`
}

// SplitMode は分割方法です。
type SplitMode string

const (
	SplitModePages   SplitMode = "pages"
	SplitModeRanges  SplitMode = "ranges"
	SplitModeExtract SplitMode = "extract"
)

// Compress は COMPRESS のパラメータです。
type Compress struct {
	Level string `json:"compressionLevel"`
}

// Rotate は ROTATE のパラメータです。Pages は1始まり、空なら全ページです。
type Rotate struct {
	Rotation int   `json:"rotation"`
	Pages    []int `json:"pageNumbers,omitempty"`
}

// Reorder は REORDER のパラメータです。Order は1始まりの新しいページ順です。
type Reorder struct {
	Order []int `json:"order"`
}

// PDFToWord は PDF_TO_WORD のパラメータです。
type PDFToWord struct{}

// WordToPDF は WORD_TO_PDF のパラメータです。
type WordToPDF struct{}

// OCR は OCR のパラメータです。
type OCR struct {
	Language string `json:"language"`
}

// Protect は PROTECT のパラメータです。
type Protect struct {
	Password      string `json:"password"`
	OwnerPassword string `json:"ownerPassword,omitempty"`
}

// Unlock は UNLOCK のパラメータです。
type Unlock struct {
	Password string `json:"password,omitempty"`
}

// Watermark は WATERMARK のパラメータです。
type Watermark struct {
	Text            string  `json:"text"`
	Size            int     `json:"size"`
	Color           string  `json:"color,omitempty"`
	Opacity         float64 `json:"opacity"`
	Position        string  `json:"position"`
	Type            string  `json:"type"`
	WatermarkFileID string  `json:"watermarkFileId,omitempty"`
}

// Sign は SIGN のパラメータです。
type Sign struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

// PDFToImage は PDF_TO_IMAGE のパラメータです。
type PDFToImage struct {
	Format string `json:"format"`
	DPI    int    `json:"dpi"`
}

// VideoResize は VIDEO_RESIZE のパラメータです。
type VideoResize struct {
	Resolution string `json:"resolution"`
	Format     string `json:"format"`
}

func (Merge) JobType() models.JobType       { return models.JobTypeMerge }
func (Split) JobType() models.JobType       { return models.JobTypeSplit }
func (Compress) JobType() models.JobType    { return models.JobTypeCompress }
func (Rotate) JobType() models.JobType      { return models.JobTypeRotate }
func (Reorder) JobType() models.JobType     { return models.JobTypeReorder }
func (PDFToWord) JobType() models.JobType   { return models.JobTypePDFToWord }
func (WordToPDF) JobType() models.JobType   { return models.JobTypeWordToPDF }
func (OCR) JobType() models.JobType         { return models.JobTypeOCR }
func (Protect) JobType() models.JobType     { return models.JobTypeProtect }
func (Unlock) JobType() models.JobType      { return models.JobTypeUnlock }
func (Watermark) JobType() models.JobType   { return models.JobTypeWatermark }
func (Sign) JobType() models.JobType        { return models.JobTypeSign }
func (PDFToImage) JobType() models.JobType  { return models.JobTypePDFToImage }
func (VideoResize) JobType() models.JobType { return models.JobTypeVideoResize }

func (p *Merge) validate() error     { return nil }
func (p *PDFToWord) validate() error { return nil }
func (p *WordToPDF) validate() error { return nil }
func (p *Unlock) validate() error    { return nil }

func (p *Split) validate() error {
	p.Ranges = strings.TrimSpace(p.Ranges)
	if p.Mode == "" {
		if p.Ranges != "" {
			p.Mode = SplitModeRanges
		} else if len(p.Pages) > 0 {
			p.Mode = SplitModeExtract
		} else {
			p.Mode = SplitModePages
		}
	}
	switch p.Mode {
	case SplitModePages:
	case SplitModeRanges:
		if p.Ranges == "" {
			return invalidf("ranges is required for splitMode=ranges")
		}
	case SplitModeExtract:
		if len(p.Pages) == 0 {
			return invalidf("pages is required for splitMode=extract")
		}
		if err := positivePages(p.Pages); err != nil {
			return err
		}
	default:
		return invalidf("unsupported splitMode %q", p.Mode)
	}
	return nil
}

func (p *Compress) validate() error {
	p.Level = strings.ToLower(strings.TrimSpace(p.Level))
	switch p.Level {
	case "":
		p.Level = "medium"
	case "low", "medium", "high":
	default:
		return invalidf("compressionLevel must be low, medium or high (received: %s)", p.Level)
	}
	return nil
}

func (p *Rotate) validate() error {
	switch p.Rotation {
	case 90, 180, 270, -90, -180, -270:
	default:
		return invalidf("rotation must be a multiple of 90 (received: %d)", p.Rotation)
	}
	return positivePages(p.Pages)
}

func (p *Reorder) validate() error {
	if len(p.Order) == 0 {
		return invalidf("order is required")
	}
	seen := make(map[int]struct{}, len(p.Order))
	for _, n := range p.Order {
		if n < 1 {
			return invalidf("order contains invalid page number %d", n)
		}
		if _, ok := seen[n]; ok {
			return invalidf("order contains duplicated page number %d", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

var languagePattern = regexp.MustCompile(`^[a-z_]+(\+[a-z_]+)*$`)

func (p *OCR) validate() error {
	p.Language = strings.TrimSpace(p.Language)
	if p.Language == "" {
		p.Language = "eng"
	}
	if !languagePattern.MatchString(p.Language) {
		return invalidf("unsupported OCR language %q", p.Language)
	}
	return nil
}

func (p *Protect) validate() error {
	if p.Password == "" {
		return invalidf("password is required to protect PDF")
	}
	if p.OwnerPassword == "" {
		p.OwnerPassword = p.Password
	}
	return nil
}

var watermarkPositions = map[string]struct{}{
	"center": {}, "top-left": {}, "top-right": {}, "bottom-left": {}, "bottom-right": {},
}

func (p *Watermark) validate() error {
	if p.Type == "" {
		p.Type = "text"
	}
	if p.Position == "" {
		p.Position = "center"
	}
	if p.Size == 0 {
		p.Size = 50
	}
	if p.Opacity == 0 {
		p.Opacity = 0.5
	}
	switch p.Type {
	case "text":
		if strings.TrimSpace(p.Text) == "" {
			p.Text = "DRAFT"
		}
	case "image":
		if p.WatermarkFileID == "" {
			return invalidf("watermarkFileId is required for image watermark")
		}
	default:
		return invalidf("unsupported watermark type %q", p.Type)
	}
	if _, ok := watermarkPositions[p.Position]; !ok {
		return invalidf("unsupported watermark position %q", p.Position)
	}
	if p.Size < 0 {
		return invalidf("size must be positive")
	}
	if p.Opacity < 0 || p.Opacity > 1 {
		return invalidf("opacity must be between 0 and 1")
	}
	return nil
}

func (p *Sign) validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return invalidf("signature text is required")
	}
	switch p.Style {
	case "":
		p.Style = "handwritten"
	case "handwritten", "clean", "typewriter":
	default:
		return invalidf("unsupported signature style %q", p.Style)
	}
	return nil
}

func (p *PDFToImage) validate() error {
	p.Format = strings.ToLower(strings.TrimSpace(p.Format))
	switch p.Format {
	case "":
		p.Format = "png"
	case "jpeg":
		p.Format = "jpg"
	case "png", "jpg":
	default:
		return invalidf("format must be png or jpg (received: %s)", p.Format)
	}
	if p.DPI == 0 {
		p.DPI = 300
	}
	if p.DPI < 72 || p.DPI > 600 {
		return invalidf("dpi must be between 72 and 600")
	}
	return nil
}

// Resolutions は VIDEO_RESIZE の解像度プリセットです。
var Resolutions = map[string]string{
	"1080p": "1920x1080",
	"720p":  "1280x720",
	"480p":  "854x480",
	"360p":  "640x360",
}

func (p *VideoResize) validate() error {
	if p.Resolution == "" {
		p.Resolution = "720p"
	}
	if _, ok := Resolutions[p.Resolution]; !ok {
		return invalidf("unsupported resolution %q", p.Resolution)
	}
	switch p.Format {
	case "":
		p.Format = "mp4"
	case "mp4", "webm":
	default:
		return invalidf("unsupported video format %q", p.Format)
	}
	return nil
}

func positivePages(pages []int) error {
	for _, n := range pages {
		if n < 1 {
			return invalidf("page numbers start at 1 (received: %d)", n)
		}
	}
	return nil
}

// Decode は raw をジョブ種別に対応する型へデコードし、既定値補完と検証を行います。
func Decode(t models.JobType, raw json.RawMessage) (Params, error) {
	var p Params
	switch t {
	case models.JobTypeMerge:
		p = &Merge{}
	case models.JobTypeSplit:
		p = &Split{}
	case models.JobTypeCompress:
		p = &Compress{}
	case models.JobTypeRotate:
		p = &Rotate{}
	case models.JobTypeReorder:
		p = &Reorder{}
	case models.JobTypePDFToWord:
		p = &PDFToWord{}
	case models.JobTypeWordToPDF:
		p = &WordToPDF{}
	case models.JobTypeOCR:
		p = &OCR{}
	case models.JobTypeProtect:
		p = &Protect{}
	case models.JobTypeUnlock:
		p = &Unlock{}
	case models.JobTypeWatermark:
		p = &Watermark{}
	case models.JobTypeSign:
		p = &Sign{}
	case models.JobTypePDFToImage:
		p = &PDFToImage{}
	case models.JobTypeVideoResize:
		p = &VideoResize{}
	default:
		return nil, invalidf("no parameters defined for job type %q", t)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, p); err != nil {
			return nil, invalidf("malformed metadata: %v", err)
		}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode は正規化済みパラメータをJSONに変換します。
func Encode(p Params) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	return data, nil
}
