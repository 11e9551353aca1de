package ocr

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"legal-intake-orchestrator/internal/domain"
	"legal-intake-orchestrator/internal/extraction"
)

// Router picks a recognizer from the upload's content type.
type Router struct {
	Text  extraction.Recognizer
	Image extraction.Recognizer
	PDF   extraction.Recognizer
}

func (r Router) Recognize(ctx context.Context, file extraction.File) (extraction.Recognition, error) {
	contentType := DetectContentType(file.ContentType, file.Data)
	var target extraction.Recognizer
	switch {
	case contentType == "application/pdf":
		target = r.PDF
	case strings.HasPrefix(contentType, "image/"):
		target = r.Image
	case strings.HasPrefix(contentType, "text/"):
		target = r.Text
	}
	if target == nil {
		return extraction.Recognition{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedContent, contentType)
	}
	return target.Recognize(ctx, file)
}

// DetectContentType trusts a declared type unless it is missing or generic,
// in which case the payload is sniffed.
func DetectContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
		return strings.ToLower(declared)
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mediaType
}
