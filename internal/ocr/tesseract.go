package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"legal-intake-orchestrator/internal/extraction"
)

var DefaultLanguages = []string{"ara", "fra"}

// ImageRecognizer recognizes one encoded raster image.
type ImageRecognizer interface {
	RecognizeImage(ctx context.Context, image []byte) (extraction.Recognition, error)
}

// Tesseract runs the Tesseract engine through gosseract. A client is created
// per call since gosseract clients are not safe for concurrent use.
type Tesseract struct {
	Languages []string

	newClient func() *gosseract.Client
}

func NewTesseract(languages []string) *Tesseract {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	return &Tesseract{Languages: languages, newClient: gosseract.NewClient}
}

func (t *Tesseract) Recognize(ctx context.Context, file extraction.File) (extraction.Recognition, error) {
	return t.RecognizeImage(ctx, file.Data)
}

func (t *Tesseract) RecognizeImage(ctx context.Context, image []byte) (extraction.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return extraction.Recognition{}, err
	}
	newClient := t.newClient
	if newClient == nil {
		newClient = gosseract.NewClient
	}
	c := newClient()
	defer c.Close()

	if len(t.Languages) > 0 {
		if err := c.SetLanguage(t.Languages...); err != nil {
			return extraction.Recognition{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return extraction.Recognition{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return extraction.Recognition{}, fmt.Errorf("recognize text: %w", err)
	}

	return extraction.Recognition{
		Text:       strings.TrimSpace(text),
		Confidence: meanWordConfidence(c),
		PageCount:  1,
	}, nil
}

func meanWordConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
