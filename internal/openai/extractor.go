package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/domain"
)

// EntityExtractor asks a chat-completions model for legal entities. Output
// that fails to parse gets one repair round and then one fresh attempt.
type EntityExtractor struct {
	LLM        Client
	FormType   domain.FormType
	Model      string
	Timeout    time.Duration
	MaxRetry   int
	Logger     *zap.Logger
	retryDelay time.Duration
}

func NewEntityExtractor(llm Client, formType domain.FormType, model string, timeout time.Duration, maxRetry int, logger *zap.Logger) *EntityExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityExtractor{
		LLM:      llm,
		FormType: formType,
		Model:    model,
		Timeout:  timeout,
		MaxRetry: maxRetry,
		Logger:   logger.With(zap.String("component", "openai.entities")),
	}
}

func (e *EntityExtractor) ExtractEntities(ctx context.Context, text string) ([]domain.Entity, error) {
	kinds := KindsFor(e.FormType)
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFormType, e.FormType)
	}
	basePrompt := BuildEntityUserPrompt(e.FormType, kinds, text)

	base1, err := e.complete(ctx, ENTITY_SYSTEM, basePrompt)
	if err != nil {
		return nil, err
	}
	entities, parseErr := ParseEntities(base1, kinds, text)
	if parseErr == nil {
		return entities, nil
	}
	e.logger().Warn("entity output rejected", zap.String("phase", "base_1"), zap.Error(parseErr))

	repair1, err := e.complete(ctx, REPAIR_SYSTEM, BuildRepairUserPrompt(kinds, base1, parseErr))
	if err != nil {
		return nil, err
	}
	entities, parseErr = ParseEntities(repair1, kinds, text)
	if parseErr == nil {
		return entities, nil
	}
	e.logger().Warn("entity output rejected", zap.String("phase", "repair_1"), zap.Error(parseErr))

	base2, err := e.complete(ctx, ENTITY_SYSTEM, basePrompt)
	if err != nil {
		return nil, err
	}
	entities, parseErr = ParseEntities(base2, kinds, text)
	if parseErr != nil {
		return nil, fmt.Errorf("entity extraction failed after base1+repair1+base2: %w", parseErr)
	}
	return entities, nil
}

func (e *EntityExtractor) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}
	base := e.retryDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetry; attempt++ {
		out, err := e.LLM.CompleteJSON(ctx, CompletionRequest{
			Model:        e.Model,
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			Timeout:      e.Timeout,
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxRetry {
			break
		}
		delay := base * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", fmt.Errorf("openai retry exhausted: %w", lastErr)
}

func (e *EntityExtractor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func retryable(err error) bool {
	if errors.Is(err, ErrMissingAPIKey) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
