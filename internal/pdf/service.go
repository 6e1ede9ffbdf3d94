// Package pdf はPDF系ジョブ種別のハンドラを提供します。
// ページ操作は pdfcpu、圧縮と画像化は Ghostscript、Word 変換は LibreOffice、OCR は Tesseract で行います。
package pdf

import (
	"log/slog"
	"sync"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/docforge/internal/models"
	"github.com/yourusername/docforge/internal/registry"
)

// Config は外部ツールのパスです。空の場合は PATH から探します。
type Config struct {
	GhostscriptPath string
	LibreOfficePath string
	TesseractPath   string
}

// Service はPDFハンドラの集合です。
type Service struct {
	cfg    Config
	logger *slog.Logger
}

var disableConfigDir sync.Once

// NewService は Service を生成します。
func NewService(cfg Config, logger *slog.Logger) *Service {
	if cfg.GhostscriptPath == "" {
		cfg.GhostscriptPath = "gs"
	}
	if cfg.LibreOfficePath == "" {
		cfg.LibreOfficePath = "soffice"
	}
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "tesseract"
	}
	if logger == nil {
		logger = slog.Default()
	}
	// pdfcpu がユーザー設定ディレクトリを作らないようにする
	disableConfigDir.Do(pdfapi.DisableConfigDir)
	return &Service{cfg: cfg, logger: logger.With("component", "pdf")}
}

// Handlers はジョブ種別ごとのハンドラを返します。
func (s *Service) Handlers() map[models.JobType]registry.HandlerFunc {
	return map[models.JobType]registry.HandlerFunc{
		models.JobTypeMerge:      s.Merge,
		models.JobTypeSplit:      s.Split,
		models.JobTypeCompress:   s.Compress,
		models.JobTypeRotate:     s.Rotate,
		models.JobTypeReorder:    s.Reorder,
		models.JobTypePDFToWord:  s.PDFToWord,
		models.JobTypeWordToPDF:  s.WordToPDF,
		models.JobTypeOCR:        s.OCR,
		models.JobTypeProtect:    s.Protect,
		models.JobTypeUnlock:     s.Unlock,
		models.JobTypeWatermark:  s.Watermark,
		models.JobTypeSign:       s.Sign,
		models.JobTypePDFToImage: s.PDFToImage,
	}
}

// Register は全ハンドラをレジストリに登録します。
func (s *Service) Register(reg *registry.Registry) error {
	for t, h := range s.Handlers() {
		if err := reg.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}
