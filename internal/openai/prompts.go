package openai

import (
	"strings"

	"legal-intake-orchestrator/internal/domain"
)

const ENTITY_SYSTEM = `You are a legal entity extraction engine for Algerian official texts and administrative procedures.
The text may be in French, Arabic or both.
You must output ONLY valid JSON and nothing else.
No markdown. No comments. No extra keys.
Copy values exactly as they appear in the document text. Do not translate or invent values.`

const ENTITY_USER_TEMPLATE = `Find every entity of the kinds listed below in the document text.
Return JSON of the form {"entities":[{"kind":"...","value":"...","confidence":0.0}]}.

Rules:
- Output JSON only.
- kind must be one of: {{ENTITY_KINDS}}.
- value is the exact substring of the document text.
- confidence is a number between 0 and 1.
- A kind may appear several times when the document cites several candidates.
- Omit kinds you cannot find. Return {"entities":[]} when nothing is found.

Form type: {{FORM_TYPE}}

Document text:
{{DOC_TEXT}}

Return JSON only.`

const REPAIR_SYSTEM = `You are a strict JSON repair engine.
You receive an output that failed parsing or schema validation.
You must return ONLY corrected JSON that matches the expected shape exactly.
No markdown. No commentary. No extra keys. No surrounding text.`

const REPAIR_USER_TEMPLATE = `The previous model output was invalid.

Expected shape:
{"entities":[{"kind":"one of {{ENTITY_KINDS}}","value":"string","confidence":0.0}]}

Invalid output:
{{MODEL_OUTPUT}}

Parse error:
{{PARSE_ERROR}}

Fix the output so it matches the expected shape exactly.
Return JSON only.`

func RenderTemplate(tpl string, vars map[string]string) string {
	rendered := tpl
	for k, v := range vars {
		rendered = strings.ReplaceAll(rendered, "{{"+k+"}}", v)
	}
	return rendered
}

// KindsFor lists the entity kinds feeding the schema of formType, in schema
// order and without repeats.
func KindsFor(formType domain.FormType) []domain.EntityKind {
	schema, ok := domain.SchemaFor(formType)
	if !ok {
		return nil
	}
	seen := make(map[domain.EntityKind]struct{})
	var out []domain.EntityKind
	for _, f := range schema.Fields {
		for _, k := range f.Kinds {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func joinKinds(kinds []domain.EntityKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

func BuildEntityUserPrompt(formType domain.FormType, kinds []domain.EntityKind, docText string) string {
	return RenderTemplate(ENTITY_USER_TEMPLATE, map[string]string{
		"ENTITY_KINDS": joinKinds(kinds),
		"FORM_TYPE":    string(formType),
		"DOC_TEXT":     docText,
	})
}

func BuildRepairUserPrompt(kinds []domain.EntityKind, modelOutput string, parseErr error) string {
	msg := ""
	if parseErr != nil {
		msg = parseErr.Error()
	}
	return RenderTemplate(REPAIR_USER_TEMPLATE, map[string]string{
		"ENTITY_KINDS": joinKinds(kinds),
		"MODEL_OUTPUT": modelOutput,
		"PARSE_ERROR":  msg,
	})
}
