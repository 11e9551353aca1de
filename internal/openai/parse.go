package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"legal-intake-orchestrator/internal/domain"
)

const llmSource = "llm"

type entityEnvelope struct {
	Entities []entityPayload `json:"entities"`
}

type entityPayload struct {
	Kind       string   `json:"kind"`
	Value      *string  `json:"value"`
	Confidence *float64 `json:"confidence"`
}

// ParseEntities strictly decodes model output of the form
// {"entities":[{"kind","value","confidence"}]}. Any schema violation is an
// error so the caller can ask for a repair. Offsets are located in docText.
func ParseEntities(raw string, allowed []domain.EntityKind, docText string) ([]domain.Entity, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty model output")
	}

	var env entityEnvelope
	if err := strictDecode([]byte(trimmed), &env); err != nil {
		return nil, err
	}
	if env.Entities == nil {
		return nil, fmt.Errorf("missing required key %q", "entities")
	}

	out := make([]domain.Entity, 0, len(env.Entities))
	for i, p := range env.Entities {
		kind := domain.EntityKind(strings.TrimSpace(p.Kind))
		if !slices.Contains(allowed, kind) {
			return nil, fmt.Errorf("entity %d: unknown kind %q, allowed: %v", i, p.Kind, allowed)
		}
		if p.Value == nil {
			return nil, fmt.Errorf("entity %d: missing required key %q", i, "value")
		}
		if p.Confidence == nil {
			return nil, fmt.Errorf("entity %d: missing required key %q", i, "confidence")
		}
		conf := *p.Confidence
		if math.IsNaN(conf) || conf < 0 || conf > 1 {
			return nil, fmt.Errorf("entity %d: confidence %v outside [0,1]", i, conf)
		}
		value := strings.TrimSpace(*p.Value)
		if value == "" {
			continue
		}
		out = append(out, domain.Entity{
			Kind:       kind,
			Value:      value,
			Confidence: conf,
			Offset:     runeOffset(docText, value),
			Source:     llmSource,
		})
	}
	return out, nil
}

func runeOffset(text, value string) int {
	i := strings.Index(text, value)
	if i < 0 {
		return -1
	}
	return utf8.RuneCountInString(text[:i])
}

func strictDecode(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
