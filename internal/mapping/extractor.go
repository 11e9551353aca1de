package mapping

import (
	"context"
	"fmt"

	"legal-intake-orchestrator/internal/domain"
)

// EntityExtractor finds structured legal entities in recognized text.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) ([]domain.Entity, error)
}

type ExtractorFunc func(ctx context.Context, text string) ([]domain.Entity, error)

func (f ExtractorFunc) ExtractEntities(ctx context.Context, text string) ([]domain.Entity, error) {
	return f(ctx, text)
}

// Chain runs every extractor in order and concatenates their entities. The
// first failure aborts the chain.
type Chain []EntityExtractor

func (c Chain) ExtractEntities(ctx context.Context, text string) ([]domain.Entity, error) {
	out := make([]domain.Entity, 0)
	for i, ex := range c {
		if ex == nil {
			continue
		}
		entities, err := ex.ExtractEntities(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("extractor %d: %w", i, err)
		}
		out = append(out, entities...)
	}
	return out, nil
}
