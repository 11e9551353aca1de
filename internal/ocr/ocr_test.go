package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"legal-intake-orchestrator/internal/domain"
	"legal-intake-orchestrator/internal/extraction"
)

var pngHeader = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
}

func TestIsPlainText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body []byte
		want bool
	}{
		{name: "plain text", body: []byte("Loi n° 08-09 du 25 février 2008\nArticle 1er ...\n"), want: true},
		{name: "arabic text", body: []byte("قانون رقم 08-09 مؤرخ في 25 فبراير 2008"), want: true},
		{name: "empty", body: []byte(""), want: false},
		{name: "whitespace only", body: []byte(" \n\t "), want: false},
		{name: "invalid utf8", body: []byte{0xff, 0xfe, 0xfd}, want: false},
		{name: "pdf header", body: []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n"), want: false},
		{name: "png header", body: pngHeader, want: false},
		{name: "nul byte", body: []byte("Article\x001"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IsPlainText(tc.body))
		})
	}
}

func TestPlainTextRecognizer(t *testing.T) {
	rec, err := PlainText{}.Recognize(context.Background(), extraction.File{Name: "loi.txt", Data: []byte("Article 1 : la présente loi")})
	require.NoError(t, err)
	require.Equal(t, 1.0, rec.Confidence)
	require.Equal(t, "Article 1 : la présente loi", rec.Text)

	_, err = PlainText{}.Recognize(context.Background(), extraction.File{Name: "scan.png", Data: pngHeader})
	require.ErrorIs(t, err, domain.ErrUnsupportedContent)
}

type namedRecognizer string

func (n namedRecognizer) Recognize(context.Context, extraction.File) (extraction.Recognition, error) {
	return extraction.Recognition{Text: string(n)}, nil
}

func TestRouterDispatchesByContentType(t *testing.T) {
	r := Router{Text: namedRecognizer("text"), Image: namedRecognizer("image"), PDF: namedRecognizer("pdf")}

	cases := []struct {
		name string
		file extraction.File
		want string
	}{
		{name: "declared pdf", file: extraction.File{ContentType: "application/pdf"}, want: "pdf"},
		{name: "declared jpeg", file: extraction.File{ContentType: "image/jpeg"}, want: "image"},
		{name: "declared text with charset", file: extraction.File{ContentType: "text/plain; charset=utf-8"}, want: "text"},
		{name: "sniffed pdf", file: extraction.File{ContentType: "application/octet-stream", Data: []byte("%PDF-1.7\n")}, want: "pdf"},
		{name: "sniffed png", file: extraction.File{Data: pngHeader}, want: "image"},
		{name: "sniffed text", file: extraction.File{Data: []byte("Article 1")}, want: "text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := r.Recognize(context.Background(), tc.file)
			require.NoError(t, err)
			require.Equal(t, tc.want, rec.Text)
		})
	}
}

func TestRouterRejectsUnsupported(t *testing.T) {
	r := Router{Text: namedRecognizer("text")}
	_, err := r.Recognize(context.Background(), extraction.File{ContentType: "application/zip"})
	require.ErrorIs(t, err, domain.ErrUnsupportedContent)

	_, err = r.Recognize(context.Background(), extraction.File{ContentType: "application/pdf"})
	require.ErrorIs(t, err, domain.ErrUnsupportedContent, "no pdf recognizer configured")
}

func TestMergePages(t *testing.T) {
	rec := mergePages([]extraction.Recognition{
		{Text: "Loi n° 08-09", Confidence: 0.9},
		{Text: "   ", Confidence: 0.1},
		{Text: "Article 2", Confidence: 70},
	})
	require.Equal(t, "Loi n° 08-09\n\nArticle 2", rec.Text)
	require.Equal(t, 3, rec.PageCount)
	require.InDelta(t, 0.8, rec.Confidence, 1e-9)

	require.Zero(t, mergePages(nil).Confidence)
}

func TestPDFRejectsMalformedInput(t *testing.T) {
	p := NewPDF(imageFunc(func(context.Context, []byte) (extraction.Recognition, error) {
		return extraction.Recognition{}, errors.New("not reached")
	}), 2, nil)
	_, err := p.Recognize(context.Background(), extraction.File{Name: "broken.pdf", Data: []byte("%PDF-1.4 truncated")})
	require.ErrorIs(t, err, ErrRenderFailed)
}

func TestWorkerCount(t *testing.T) {
	p := &PDF{Workers: 3}
	require.Equal(t, 3, p.workerCount(10))
	require.Equal(t, 2, p.workerCount(2))
	require.Equal(t, 1, p.workerCount(0))
}

type imageFunc func(ctx context.Context, image []byte) (extraction.Recognition, error)

func (f imageFunc) RecognizeImage(ctx context.Context, image []byte) (extraction.Recognition, error) {
	return f(ctx, image)
}
