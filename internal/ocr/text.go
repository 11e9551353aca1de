// Package ocr adapts text recognition engines to extraction.Recognizer: plain
// text passthrough, Tesseract for images, and rasterize-then-OCR for PDFs.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"legal-intake-orchestrator/internal/domain"
	"legal-intake-orchestrator/internal/extraction"
)

// IsPlainText reports whether data is non-blank UTF-8 text without binary
// control bytes.
func IsPlainText(data []byte) bool {
	if len(bytes.TrimSpace(data)) == 0 {
		return false
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return false
	}
	return strings.HasPrefix(http.DetectContentType(data), "text/plain")
}

// PlainText passes text uploads through unchanged with full confidence.
type PlainText struct{}

func (PlainText) Recognize(ctx context.Context, file extraction.File) (extraction.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return extraction.Recognition{}, err
	}
	if !IsPlainText(file.Data) {
		return extraction.Recognition{}, fmt.Errorf("%w: %s is not utf-8 text", domain.ErrUnsupportedContent, file.Name)
	}
	return extraction.Recognition{Text: string(file.Data), Confidence: 1, PageCount: 1}, nil
}
