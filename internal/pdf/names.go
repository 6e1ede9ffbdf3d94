package pdf

import (
	"path/filepath"
	"strings"
)

// baseName は拡張子を除いた表示名です。
func baseName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return "file"
	}
	if ext := filepath.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" {
		return "file"
	}
	return name
}

// suffixedPDFName は report.pdf → report_rotated.pdf のような名前を返します。
func suffixedPDFName(name, suffix string) string {
	return baseName(name) + suffix + ".pdf"
}

// prefixedName は report.pdf → protected_report.pdf のような名前を返します。
func prefixedName(prefix, name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." {
		name = "file.pdf"
	}
	return prefix + name
}

// withExt は拡張子を差し替えた名前を返します。
func withExt(name, ext string) string {
	return baseName(name) + "." + strings.TrimPrefix(ext, ".")
}
