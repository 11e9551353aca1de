package mapping

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"legal-intake-orchestrator/internal/domain"
)

const ruleSource = "rules"

const datePart = `(\d{1,2}(?:er)?\s+[\p{L}]+\s+\d{4}|\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2})`

var (
	legalRefPattern    = regexp.MustCompile(`(?i)\b(loi organique|loi|ordonnance|d[ée]cret\s+(?:l[ée]gislatif|pr[ée]sidentiel|ex[ée]cutif)|d[ée]cret|arr[êe]t[ée]\s+interminist[ée]riel|arr[êe]t[ée]|d[ée]cision|instruction|circulaire)\s+n\s*[°ºo]?\s*\.?\s*(\d{2}-\d{1,4})(?:\s+du\s+` + datePart + `)?`)
	joPattern          = regexp.MustCompile(`(?i)(?:JORADP|journal\s+officiel)[^\n]{0,60}?n\s*[°ºo]?\s*\.?\s*(\d{1,3})(?:\s+du\s+` + datePart + `)?`)
	publishedPattern   = regexp.MustCompile(`(?i)publi[ée]e?s?\s+(?:au\s+journal\s+officiel\s+)?(?:le\s+)?` + datePart)
	institutionPattern = regexp.MustCompile(`(?i)(minist[èe]re\s+(?:de\s+la\s+|de\s+l'|des\s+|du\s+|de\s+)[^\n,.;]+|pr[ée]sidence\s+de\s+la\s+r[ée]publique|wilaya\s+d(?:e\s+|')[^\n,.;]+|APC\s+de\s+[^\n,.;]+)`)
	summaryPattern     = regexp.MustCompile(`(?i)\b(?:portant|relatif|relative|fixant|modifiant|compl[ée]tant)\s+[^\n]+`)

	procedureNamePattern  = regexp.MustCompile(`(?im)^\s*(?:proc[ée]dure\s*:\s*)?((?:demande|d[ée]livrance|obtention|inscription|renouvellement)\s+(?:d[eu']\s*|des\s+)[^\n]+)`)
	categoryPattern       = regexp.MustCompile(`(?im)cat[ée]gorie\s*:\s*([^\n]+)`)
	durationPattern       = regexp.MustCompile(`(?i)(\d+\s*(?:jours?|mois|semaines?|heures?|ans?)(?:\s+ouvrables)?)`)
	costPattern           = regexp.MustCompile(`(?im)(?:co[uû]t|frais|tarif)[^\n:]*:\s*([^\n]+)`)
	amountPattern         = regexp.MustCompile(`(?i)(\d[\d\s]*(?:[.,]\d+)?)\s*(DA|DZD|dinars?)`)
	requiredDocsPattern   = regexp.MustCompile(`(?i)pi[èe]ces?\s+(?:[àa]\s+fournir|requises?)\s*:?[ \t]*\n((?:[ \t]*[-•*][^\n]*\n?)+)`)
	requiredDocsItemStrip = regexp.MustCompile(`^[ \t]*[-•*][ \t]*`)
)

// RuleExtractor recognizes the reference formats of Algerian legal texts and
// administrative procedure sheets with regular expressions. The first legal
// reference that opens a line is taken as the document's own identity; every
// reference is also reported as a legal_reference.
type RuleExtractor struct{}

func NewRuleExtractor() RuleExtractor {
	return RuleExtractor{}
}

func (RuleExtractor) ExtractEntities(ctx context.Context, text string) ([]domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Entity
	emit := func(kind domain.EntityKind, value string, conf float64, byteOffset int) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		out = append(out, domain.Entity{
			Kind:       kind,
			Value:      value,
			Confidence: conf,
			Offset:     utf8.RuneCountInString(text[:byteOffset]),
			Source:     ruleSource,
		})
	}

	identified := false
	for _, m := range legalRefPattern.FindAllStringSubmatchIndex(text, -1) {
		ref := text[m[0]:m[1]]
		if !identified && startsLine(text, m[0]) {
			identified = true
			emit(domain.EntityTitle, titleLine(text, m[0]), 0.9, m[0])
			emit(domain.EntityTextType, domain.NormalizeTextType(text[m[2]:m[3]]), 0.9, m[2])
			emit(domain.EntityTextNumber, text[m[4]:m[5]], 0.9, m[4])
			if m[6] >= 0 {
				emit(domain.EntitySignatureDate, text[m[6]:m[7]], 0.85, m[6])
			}
		}
		emit(domain.EntityLegalReference, ref, 0.7, m[0])
	}

	if m := joPattern.FindStringSubmatchIndex(text); m != nil {
		emit(domain.EntityJONumber, text[m[2]:m[3]], 0.85, m[2])
		if m[4] >= 0 {
			emit(domain.EntityJODate, text[m[4]:m[5]], 0.8, m[4])
		}
	}
	if m := publishedPattern.FindStringSubmatchIndex(text); m != nil {
		emit(domain.EntityPublicationDate, text[m[2]:m[3]], 0.8, m[2])
	}
	if m := institutionPattern.FindStringSubmatchIndex(text); m != nil {
		emit(domain.EntityInstitution, text[m[2]:m[3]], 0.75, m[2])
	}
	if m := summaryPattern.FindStringIndex(text); m != nil {
		emit(domain.EntitySummary, text[m[0]:m[1]], 0.6, m[0])
	}

	if m := procedureNamePattern.FindStringSubmatchIndex(text); m != nil {
		emit(domain.EntityProcedureName, text[m[2]:m[3]], 0.8, m[2])
	}
	if m := categoryPattern.FindStringSubmatchIndex(text); m != nil {
		emit(domain.EntityCategory, text[m[2]:m[3]], 0.85, m[2])
	}
	if m := durationPattern.FindStringSubmatchIndex(text); m != nil {
		emit(domain.EntityDuration, strings.Join(strings.Fields(text[m[2]:m[3]]), " "), 0.75, m[2])
	}
	if m := costPattern.FindStringSubmatchIndex(text); m != nil {
		if v, ok := normalizeCost(text[m[2]:m[3]]); ok {
			emit(domain.EntityCost, v, 0.8, m[2])
		}
	}
	if m := requiredDocsPattern.FindStringSubmatchIndex(text); m != nil {
		emit(domain.EntityRequiredDocuments, joinItems(text[m[2]:m[3]]), 0.75, m[2])
	}

	if out == nil {
		out = []domain.Entity{}
	}
	return out, nil
}

func startsLine(text string, i int) bool {
	lineStart := strings.LastIndexByte(text[:i], '\n') + 1
	return strings.TrimSpace(text[lineStart:i]) == ""
}

// titleLine returns the line holding the reference that starts at byte i.
func titleLine(text string, i int) string {
	end := strings.IndexByte(text[i:], '\n')
	if end < 0 {
		return text[i:]
	}
	return text[i : i+end]
}

func normalizeCost(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(strings.ToLower(v), "gratuit") {
		return "0 DA", true
	}
	m := amountPattern.FindStringSubmatch(v)
	if m == nil {
		return "", false
	}
	amount := strings.Join(strings.Fields(m[1]), "")
	return amount + " DA", true
}

func joinItems(block string) string {
	var items []string
	for _, line := range strings.Split(block, "\n") {
		item := strings.TrimSpace(requiredDocsItemStrip.ReplaceAllString(line, ""))
		if item != "" {
			items = append(items, item)
		}
	}
	return strings.Join(items, "; ")
}
