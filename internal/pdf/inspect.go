package pdf

import (
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// pageCount はPDFのページ数を返します。読めないPDFは UNSUPPORTED_PDF になります。
func pageCount(path string) (int, error) {
	n, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, readError("Unable to read PDF. Check that the file is not corrupted.", err)
	}
	if n < 1 {
		return 0, newError(CodeUnsupportedPDF, "PDF has no pages", nil)
	}
	return n, nil
}
