package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/docforge/internal/registry"
)

// workspace は1回のハンドラ実行で使う作業ディレクトリです。
// 実行ごとのスクラッチディレクトリの下に作られ、削除は呼び出し側が行います。
type workspace struct {
	dir    string
	inDir  string
	outDir string
}

func newWorkspace(root string) (workspace, error) {
	if root == "" {
		return workspace{}, fmt.Errorf("scratch dir is required")
	}
	ws := workspace{
		dir:    root,
		inDir:  filepath.Join(root, "in"),
		outDir: filepath.Join(root, "out"),
	}
	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return workspace{}, fmt.Errorf("failed to create workspace: %w", err)
		}
	}
	return ws, nil
}

func (w workspace) out(name string) string {
	return filepath.Join(w.outDir, name)
}

// storedFile は作業ディレクトリに書き出した入力ファイルです。
type storedFile struct {
	id           string
	path         string
	originalName string
	mimeType     string
	size         int64
	pages        int
}

// storeInput は入力をダウンロードして inDir に保存します。
// ファイル名は元の名前を使わず、連番と拡張子だけを使います。
func storeInput(ctx context.Context, req *registry.Request, ws workspace, index int, f registry.FileDescriptor) (storedFile, error) {
	if req.Fetch == nil {
		return storedFile{}, fmt.Errorf("no fetch function configured")
	}
	data, err := req.Fetch(ctx, f)
	if err != nil {
		return storedFile{}, err
	}
	ext := strings.ToLower(filepath.Ext(f.OriginalName))
	if ext == "" || len(ext) > 6 {
		ext = ".bin"
	}
	path := filepath.Join(ws.inDir, fmt.Sprintf("input-%02d%s", index+1, ext))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return storedFile{}, fmt.Errorf("failed to write input: %w", err)
	}
	return storedFile{
		id:           f.ID,
		path:         path,
		originalName: f.OriginalName,
		mimeType:     f.MimeType,
		size:         int64(len(data)),
	}, nil
}

// storePDF は storeInput に加えてページ数を読み取ります。
func storePDF(ctx context.Context, req *registry.Request, ws workspace, index int, f registry.FileDescriptor) (storedFile, error) {
	stored, err := storeInput(ctx, req, ws, index, f)
	if err != nil {
		return storedFile{}, err
	}
	pages, err := pageCount(stored.path)
	if err != nil {
		return storedFile{}, err
	}
	stored.pages = pages
	return stored, nil
}

// singleInput はちょうど1件の入力を要求するハンドラ用です。
func singleInput(req *registry.Request) (registry.FileDescriptor, error) {
	if len(req.Inputs) != 1 {
		return registry.FileDescriptor{}, newError(CodeInvalidInput, fmt.Sprintf("exactly one input file is required (received: %d)", len(req.Inputs)), nil)
	}
	return req.Inputs[0], nil
}

func readOutput(path, name, mimeType string) (registry.Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return registry.Output{}, fmt.Errorf("failed to read output %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return registry.Output{}, newError(CodeToolFailed, "conversion produced an empty file", nil)
	}
	return registry.Output{Data: data, MimeType: mimeType, SuggestedName: name}, nil
}
