// Package mapping maps recognized entities onto the legal-text and procedure
// form schemas and applies reviewer overrides.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/domain"
)

const DefaultAutoAcceptThreshold = 0.8

var ErrUnknownField = errors.New("unknown form field")

type Mapper struct {
	Extractor           EntityExtractor
	AutoAcceptThreshold float64
	Logger              *zap.Logger
}

func NewMapper(extractor EntityExtractor, threshold float64, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultAutoAcceptThreshold
	}
	return &Mapper{Extractor: extractor, AutoAcceptThreshold: threshold, Logger: logger.With(zap.String("component", "mapping"))}
}

// Map extracts entities from text and maps them onto the schema of formType.
// Extractor failures are returned as *domain.CapabilityError.
func (m *Mapper) Map(ctx context.Context, text string, formType domain.FormType) (domain.MappingData, error) {
	schema, ok := domain.SchemaFor(formType)
	if !ok {
		return domain.MappingData{}, fmt.Errorf("%w: %q", domain.ErrUnknownFormType, formType)
	}

	entities, err := m.Extractor.ExtractEntities(ctx, text)
	if err != nil {
		return domain.MappingData{}, domain.NewCapabilityError(domain.StepMapping, "extract_entities", "entity extraction failed", fmt.Errorf("%w: %w", domain.ErrEntityExtraction, err))
	}

	data := MapEntities(schema, entities, m.threshold())
	if m.Logger != nil {
		m.Logger.Info("mapped entities",
			zap.String("form_type", string(formType)),
			zap.Int("entities", len(entities)),
			zap.Int("mapped", len(data.MappedFields)),
			zap.Strings("unmapped", data.UnmappedFields),
			zap.Float64("confidence", data.Confidence),
		)
	}
	return data, nil
}

func (m *Mapper) threshold() float64 {
	if m.AutoAcceptThreshold <= 0 || m.AutoAcceptThreshold > 1 {
		return DefaultAutoAcceptThreshold
	}
	return m.AutoAcceptThreshold
}

type ranked struct {
	entity domain.Entity
	order  int
}

// MapEntities picks one candidate per schema field. Among the entities of a
// field's kinds the highest confidence wins, then the lowest text offset,
// then the earliest extraction order.
func MapEntities(schema domain.Schema, entities []domain.Entity, threshold float64) domain.MappingData {
	candidates := make([]domain.FieldCandidate, 0, len(schema.Fields))

	for _, f := range schema.Fields {
		var pool []ranked
		for i, e := range entities {
			if strings.TrimSpace(e.Value) == "" || !slices.Contains(f.Kinds, e.Kind) {
				continue
			}
			e.Value = strings.TrimSpace(e.Value)
			e.Confidence = clamp(e.Confidence)
			pool = append(pool, ranked{entity: e, order: i})
		}
		if len(pool) == 0 {
			continue
		}
		slices.SortStableFunc(pool, compareRanked)

		best := pool[0].entity
		c := domain.FieldCandidate{
			Field:      f.Name,
			Label:      f.Label,
			Value:      best.Value,
			Confidence: best.Confidence,
		}
		for _, r := range pool {
			if sameValue(r.entity.Value, best.Value) {
				c.Sources = append(c.Sources, r.entity)
			} else if !slices.ContainsFunc(c.Alternatives, func(v string) bool { return sameValue(v, r.entity.Value) }) {
				c.Alternatives = append(c.Alternatives, r.entity.Value)
			}
		}
		if c.Confidence >= threshold {
			c.Status = domain.FieldAutomatic
			c.Accepted = true
		} else {
			c.Status = domain.FieldSuggested
		}
		candidates = append(candidates, c)
	}

	return summarize(schema, candidates)
}

func compareRanked(a, b ranked) int {
	if a.entity.Confidence != b.entity.Confidence {
		if a.entity.Confidence > b.entity.Confidence {
			return -1
		}
		return 1
	}
	ao, bo := offsetKey(a.entity.Offset), offsetKey(b.entity.Offset)
	if ao != bo {
		if ao < bo {
			return -1
		}
		return 1
	}
	return a.order - b.order
}

// offsetKey sorts entities without a known position after located ones.
func offsetKey(offset int) int {
	if offset < 0 {
		return math.MaxInt
	}
	return offset
}

// summarize derives the mapped values, unmapped names and aggregate
// confidence from the candidate list.
func summarize(schema domain.Schema, candidates []domain.FieldCandidate) domain.MappingData {
	data := domain.MappingData{
		FormType:         schema.FormType,
		MappedFields:     make(map[string]string, len(candidates)),
		UnmappedFields:   make([]string, 0),
		MappingCompleted: true,
		Candidates:       candidates,
	}

	var sum float64
	for _, c := range candidates {
		data.MappedFields[c.Field] = c.Value
		sum += c.Confidence
	}
	if len(candidates) > 0 {
		data.Confidence = sum / float64(len(candidates))
	}

	for _, f := range schema.Fields {
		if _, ok := data.MappedFields[f.Name]; ok || f.Level == domain.LevelOptional {
			continue
		}
		data.UnmappedFields = append(data.UnmappedFields, f.Name)
		if f.Level == domain.LevelRequired {
			data.MappingCompleted = false
		}
	}
	return data
}

// ApplyOverrides records reviewer edits on top of an existing mapping. An
// empty value clears the field. Edited fields are accepted with confidence 1.
func ApplyOverrides(data domain.MappingData, overrides map[string]string, reviewer *string) (domain.MappingData, error) {
	schema, ok := domain.SchemaFor(data.FormType)
	if !ok {
		return data, fmt.Errorf("%w: %q", domain.ErrUnknownFormType, data.FormType)
	}
	for name := range overrides {
		if _, ok := schema.Field(name); !ok {
			return data, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
	}

	byField := make(map[string]domain.FieldCandidate, len(data.Candidates))
	for _, c := range data.Candidates {
		byField[c.Field] = c
	}
	// Mappings built outside MapEntities may carry values without candidates.
	for name, value := range data.MappedFields {
		if _, ok := byField[name]; !ok {
			f, known := schema.Field(name)
			if !known {
				continue
			}
			byField[name] = domain.FieldCandidate{Field: name, Label: f.Label, Value: value, Confidence: data.Confidence, Status: domain.FieldAutomatic, Accepted: true}
		}
	}

	for name, value := range overrides {
		value = strings.TrimSpace(value)
		if value == "" {
			delete(byField, name)
			continue
		}
		f, _ := schema.Field(name)
		prev := byField[name]
		c := domain.FieldCandidate{
			Field:        name,
			Label:        f.Label,
			Value:        value,
			Confidence:   1,
			Sources:      slices.Clone(prev.Sources),
			Alternatives: slices.Clone(prev.Alternatives),
			Status:       domain.FieldEdited,
			Accepted:     true,
			Edited:       true,
			EditedBy:     reviewer,
		}
		if prev.Value != "" && !sameValue(prev.Value, value) && !slices.Contains(c.Alternatives, prev.Value) {
			c.Alternatives = append(c.Alternatives, prev.Value)
		}
		byField[name] = c
	}

	candidates := make([]domain.FieldCandidate, 0, len(byField))
	for _, f := range schema.Fields {
		if c, ok := byField[f.Name]; ok {
			candidates = append(candidates, c)
		}
	}
	return summarize(schema, candidates), nil
}

func sameValue(a, b string) bool {
	return domain.NormalizeTextType(a) == domain.NormalizeTextType(b)
}

func clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
