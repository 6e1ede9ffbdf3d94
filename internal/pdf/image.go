package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

var jpegQuality = map[string]int{
	"low":    80,
	"medium": 60,
	"high":   40,
}

// compressImage は JPEG を品質を下げて、PNG を最大圧縮で再エンコードします。
// 戻り値の ext は出力の拡張子です。
func compressImage(data []byte, level string) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", newError(CodeInvalidInput, "Unable to decode image", err)
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		quality, ok := jpegQuality[level]
		if !ok {
			quality = jpegQuality["medium"]
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", fmt.Errorf("failed to encode jpeg: %w", err)
		}
		return buf.Bytes(), "jpg", nil
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("failed to encode png: %w", err)
		}
		return buf.Bytes(), "png", nil
	default:
		return nil, "", newError(CodeInvalidInput, fmt.Sprintf("unsupported image format %s", format), nil)
	}
}
