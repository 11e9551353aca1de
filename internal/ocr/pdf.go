package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/JaimeStill/document-context/pkg/config"
	"github.com/JaimeStill/document-context/pkg/document"
	"github.com/JaimeStill/document-context/pkg/image"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"legal-intake-orchestrator/internal/extraction"
)

var ErrRenderFailed = errors.New("pdf render failed")

// PDF renders every page of a PDF to PNG with ImageMagick and recognizes the
// pages concurrently.
type PDF struct {
	Images  ImageRecognizer
	Workers int
	TempDir string
	Logger  *zap.Logger
}

func NewPDF(images ImageRecognizer, workers int, logger *zap.Logger) *PDF {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDF{Images: images, Workers: workers, Logger: logger.With(zap.String("component", "ocr.pdf"))}
}

// PageCount reads the page count from the PDF trailer without rendering.
func PageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), nil)
}

func (p *PDF) Recognize(ctx context.Context, file extraction.File) (extraction.Recognition, error) {
	count, err := PageCount(file.Data)
	if err != nil {
		return extraction.Recognition{}, fmt.Errorf("%w: read page count: %w", ErrRenderFailed, err)
	}

	tempDir, err := os.MkdirTemp(p.TempDir, "intake-pdf-*")
	if err != nil {
		return extraction.Recognition{}, fmt.Errorf("%w: create temp dir: %w", ErrRenderFailed, err)
	}
	defer os.RemoveAll(tempDir)

	pdfPath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(pdfPath, file.Data, 0600); err != nil {
		return extraction.Recognition{}, fmt.Errorf("%w: write temp pdf: %w", ErrRenderFailed, err)
	}

	pages, err := p.recognizePages(ctx, pdfPath, count)
	if err != nil {
		return extraction.Recognition{}, err
	}
	rec := mergePages(pages)
	if p.Logger != nil {
		p.Logger.Info("recognized pdf",
			zap.String("file", file.Name),
			zap.Int("pages", rec.PageCount),
			zap.Float64("confidence", rec.Confidence),
		)
	}
	return rec, nil
}

func (p *PDF) recognizePages(ctx context.Context, pdfPath string, expected int) ([]extraction.Recognition, error) {
	pdfDoc, err := document.OpenPDF(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %w", ErrRenderFailed, err)
	}
	defer pdfDoc.Close()

	renderer, err := image.NewImageMagickRenderer(config.DefaultImageConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: create renderer: %w", ErrRenderFailed, err)
	}

	allPages, err := pdfDoc.ExtractAllPages()
	if err != nil {
		return nil, fmt.Errorf("%w: extract pages: %w", ErrRenderFailed, err)
	}
	if len(allPages) != expected && p.Logger != nil {
		p.Logger.Warn("page count mismatch", zap.Int("trailer", expected), zap.Int("rendered", len(allPages)))
	}

	results := make([]extraction.Recognition, len(allPages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerCount(len(allPages)))

	for i, page := range allPages {
		pageNum := i + 1
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			data, err := page.ToImage(renderer, nil)
			if err != nil {
				return fmt.Errorf("render page %d: %w", pageNum, err)
			}
			rec, err := p.Images.RecognizeImage(gctx, data)
			if err != nil {
				return fmt.Errorf("recognize page %d: %w", pageNum, err)
			}
			results[i] = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	return results, nil
}

func (p *PDF) workerCount(pageCount int) int {
	limit := p.Workers
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	return max(min(limit, pageCount), 1)
}

// mergePages joins page texts in page order. Confidence is the mean over
// pages that produced text.
func mergePages(pages []extraction.Recognition) extraction.Recognition {
	texts := make([]string, 0, len(pages))
	var sum float64
	var n int
	for _, page := range pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		sum += extraction.NormalizeConfidence(page.Confidence)
		n++
	}
	rec := extraction.Recognition{Text: strings.Join(texts, "\n\n"), PageCount: len(pages)}
	if n > 0 {
		rec.Confidence = sum / float64(n)
	}
	return rec
}
