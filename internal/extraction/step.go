// Package extraction turns an uploaded file into recognized text by calling a
// recognition capability and classifying its outcome.
package extraction

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/domain"
)

const DefaultMinTextLength = 10

// File is one uploaded document handed to a recognizer.
type File struct {
	Ref         string
	Name        string
	ContentType string
	Data        []byte
}

func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Recognition is the raw output of a recognition capability. Confidence may
// be on a 0-1 or 0-100 scale.
type Recognition struct {
	Text       string
	Confidence float64
	PageCount  int
}

type Recognizer interface {
	Recognize(ctx context.Context, file File) (Recognition, error)
}

type RecognizerFunc func(ctx context.Context, file File) (Recognition, error)

func (f RecognizerFunc) Recognize(ctx context.Context, file File) (Recognition, error) {
	return f(ctx, file)
}

type Result struct {
	Data domain.ExtractionData
	Log  domain.StepLogEntry
}

type Step struct {
	Recognizer    Recognizer
	MinTextLength int
	Logger        *zap.Logger
}

func NewStep(recognizer Recognizer, minTextLength int, logger *zap.Logger) *Step {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minTextLength <= 0 {
		minTextLength = DefaultMinTextLength
	}
	return &Step{Recognizer: recognizer, MinTextLength: minTextLength, Logger: logger.With(zap.String("component", "extraction"))}
}

// Run recognizes file. On failure the returned Result still carries the
// error log entry and the error is a *domain.CapabilityError.
func (s *Step) Run(ctx context.Context, file File, now time.Time) (Result, error) {
	rec, err := s.Recognizer.Recognize(ctx, file)
	if err != nil {
		entry := s.record(now, domain.LogError, fmt.Sprintf("recognition of %s failed: %v", file.Name, err))
		return Result{Log: entry}, domain.NewCapabilityError(domain.StepExtraction, "recognize", "recognition engine failed", fmt.Errorf("%w: %w", domain.ErrRecognitionFailed, err))
	}

	text := strings.TrimSpace(rec.Text)
	minLen := s.MinTextLength
	if minLen <= 0 {
		minLen = DefaultMinTextLength
	}
	if utf8.RuneCountInString(text) <= minLen {
		entry := s.record(now, domain.LogError, fmt.Sprintf("recognition of %s returned %d characters", file.Name, utf8.RuneCountInString(text)))
		return Result{Log: entry}, domain.NewCapabilityError(domain.StepExtraction, "classify", "no usable text recognized", domain.ErrInsufficientText)
	}

	confidence := NormalizeConfidence(rec.Confidence)
	entry := s.record(now, domain.LogInfo, fmt.Sprintf("recognized %d characters from %s (confidence %.2f)", utf8.RuneCountInString(text), file.Name, confidence))

	return Result{
		Data: domain.ExtractionData{
			FileRef:     file.Ref,
			FileName:    file.Name,
			FileSize:    file.Size(),
			FileType:    file.ContentType,
			PageCount:   rec.PageCount,
			Text:        text,
			Confidence:  confidence,
			ExtractedAt: now,
		},
		Log: entry,
	}, nil
}

func (s *Step) record(now time.Time, level domain.LogLevel, msg string) domain.StepLogEntry {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if level == domain.LogError {
		logger.Warn(msg)
	} else {
		logger.Info(msg)
	}
	return domain.StepLogEntry{Step: domain.StepExtraction, Level: level, Message: msg, At: now}
}

// NormalizeConfidence maps engine confidences onto [0,1]. Values above 1 are
// read as percentages.
func NormalizeConfidence(c float64) float64 {
	if math.IsNaN(c) || c <= 0 {
		return 0
	}
	if c > 1 {
		c = c / 100
	}
	return math.Min(c, 1)
}
