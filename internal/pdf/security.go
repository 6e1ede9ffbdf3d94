package pdf

import (
	"context"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/yourusername/docforge/internal/params"
	"github.com/yourusername/docforge/internal/registry"
)

const aesKeyLength = 256

// Protect はPDFを AES-256 で暗号化します。
func (s *Service) Protect(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.Protect)
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
	if IsCode(err, CodeIncorrectPassword) {
		return nil, newError(CodeUnsupportedPDF, "PDF is already password protected", err)
	}
	if err != nil {
		return nil, err
	}
	reportProgress(progress, "download", 30)

	name := prefixedName("protected_", stored.originalName)
	outputPath := ws.out(name)
	conf := model.NewAESConfiguration(p.Password, p.OwnerPassword, aesKeyLength)
	if err := pdfapi.EncryptFile(stored.path, outputPath, conf); err != nil {
		return nil, newError(CodeUnsupportedPDF, "Failed to encrypt PDF", err)
	}
	reportProgress(progress, "write", 80)

	out, err := readOutput(outputPath, name, "application/pdf")
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}

// Unlock はパスワードでPDFを復号します。パスワードが違う場合は INCORRECT_PASSWORD です。
func (s *Service) Unlock(ctx context.Context, req *registry.Request) ([]registry.Output, error) {
	p, ok := req.Params.(*params.Unlock)
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

	// 暗号化されたPDFはパスワードなしではページ数を読めないため storeInput を使う
	stored, err := storeInput(ctx, req, ws, 0, input)
	if err != nil {
		return nil, err
	}
	reportProgress(progress, "download", 30)

	name := prefixedName("unlocked_", stored.originalName)
	outputPath := ws.out(name)
	conf := model.NewDefaultConfiguration()
	conf.UserPW = p.Password
	conf.OwnerPW = p.Password
	if err := pdfapi.DecryptFile(stored.path, outputPath, conf); err != nil {
		return nil, readError("Failed to unlock PDF", err)
	}
	reportProgress(progress, "write", 80)

	out, err := readOutput(outputPath, name, "application/pdf")
	if err != nil {
		return nil, err
	}
	return []registry.Output{out}, nil
}
