package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var (
	textNumberPattern = regexp.MustCompile(`^(\d{2})-(\d{1,4})$`)
	joNumberPattern   = regexp.MustCompile(`^\d{1,3}$`)
	costPattern       = regexp.MustCompile(`^(-?\d+(?:[.,]\d+)?)\s*(?:DA|DZD|dinars?)?$`)
	durationPattern   = regexp.MustCompile(`(?i)^\d+\s*(jours?|mois|semaines?|heures?|ans?)(\s+ouvrables)?$`)
	frenchDatePattern = regexp.MustCompile(`(?i)^(\d{1,2})(?:er)?\s+([a-zéû]+)\s+(\d{4})$`)
)

var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"février":   time.February,
	"fevrier":   time.February,
	"mars":      time.March,
	"avril":     time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"août":      time.August,
	"aout":      time.August,
	"septembre": time.September,
	"octobre":   time.October,
	"novembre":  time.November,
	"décembre":  time.December,
	"decembre":  time.December,
}

// ValidationContext carries the inputs of a validation run that do not come
// from the mapped fields themselves.
type ValidationContext struct {
	Now         time.Time
	DuplicateOf []string
	Reviewer    *string
}

// ValidateMapping runs the business rules for the mapped form. Errors block
// approval, warnings do not.
func ValidateMapping(m MappingData, vc ValidationContext) ValidationData {
	warnings := make([]string, 0)
	errs := make([]string, 0)

	schema, ok := SchemaFor(m.FormType)
	if !ok {
		errs = append(errs, fmt.Sprintf("form type %q unsupported", m.FormType))
		return ValidationData{IsValid: false, Warnings: warnings, Errors: errs, ReviewedAt: vc.Now, Reviewer: vc.Reviewer}
	}

	for _, f := range schema.Fields {
		if strings.TrimSpace(m.MappedFields[f.Name]) != "" {
			continue
		}
		switch f.Level {
		case LevelRequired:
			errs = append(errs, f.Name+" is required")
		case LevelExpected:
			warnings = append(warnings, f.Name+" missing")
		}
	}

	var w, e []string
	switch m.FormType {
	case FormLegal:
		w, e = validateLegalText(m.MappedFields, vc.Now)
	case FormProcedure:
		w, e = validateProcedure(m.MappedFields)
	}
	warnings = append(warnings, w...)
	errs = append(errs, e...)

	for _, id := range vc.DuplicateOf {
		errs = append(errs, "duplicate of "+id)
	}

	for _, f := range schema.Fields {
		c, ok := m.Candidate(f.Name)
		if ok && c.Suggested() && !c.Accepted {
			warnings = append(warnings, f.Name+" low confidence")
		}
	}

	return ValidationData{
		IsValid:    len(errs) == 0,
		Warnings:   warnings,
		Errors:     errs,
		ReviewedAt: vc.Now,
		Reviewer:   vc.Reviewer,
	}
}

func validateLegalText(f map[string]string, now time.Time) ([]string, []string) {
	warnings := make([]string, 0)
	errs := make([]string, 0)

	if v := f["textType"]; v != "" {
		if _, ok := KnownTextTypes[NormalizeTextType(v)]; !ok {
			errs = append(errs, "textType unknown")
		}
	}

	var numberYear string
	if v := f["textNumber"]; v != "" {
		match := textNumberPattern.FindStringSubmatch(strings.TrimSpace(v))
		if match == nil {
			errs = append(errs, "textNumber format invalid")
		} else {
			numberYear = match[1]
		}
	}

	if v := f["joNumber"]; v != "" && !joNumberPattern.MatchString(strings.TrimSpace(v)) {
		errs = append(errs, "joNumber format invalid")
	}

	signed, signedOK := parseField(f, "signatureDate", &errs)
	published, publishedOK := parseField(f, "publicationDate", &errs)
	_, _ = parseField(f, "joDate", &errs)

	if signedOK && !now.IsZero() && signed.After(now) {
		errs = append(errs, "signatureDate in the future")
	}
	if signedOK && publishedOK && published.Before(signed) {
		errs = append(errs, "publicationDate precedes signatureDate")
	}
	if signedOK && numberYear != "" && fmt.Sprintf("%02d", signed.Year()%100) != numberYear {
		warnings = append(warnings, "textNumber year does not match signatureDate")
	}

	return warnings, errs
}

func validateProcedure(f map[string]string) ([]string, []string) {
	warnings := make([]string, 0)
	errs := make([]string, 0)

	if v := strings.TrimSpace(f["cost"]); v != "" {
		match := costPattern.FindStringSubmatch(v)
		if match == nil {
			errs = append(errs, "cost format invalid")
		} else if amount, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64); err != nil || amount < 0 {
			errs = append(errs, "cost must be non-negative")
		}
	}

	if v := strings.TrimSpace(f["duration"]); v != "" && !durationPattern.MatchString(v) {
		warnings = append(warnings, "duration not a recognized delay")
	}

	return warnings, errs
}

func parseField(f map[string]string, name string, errs *[]string) (time.Time, bool) {
	v := f[name]
	if strings.TrimSpace(v) == "" {
		return time.Time{}, false
	}
	t, err := ParseLegalDate(v)
	if err != nil {
		*errs = append(*errs, name+" date invalid")
		return time.Time{}, false
	}
	return t, true
}

// ParseLegalDate accepts ISO dates, dd/mm/yyyy and French long-form dates
// such as "1er mars 2008".
func ParseLegalDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("date is empty")
	}
	for _, layout := range []string{dateLayout, "02/01/2006", "2/1/2006", "02-01-2006"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	match := frenchDatePattern.FindStringSubmatch(v)
	if match == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", v)
	}
	month, ok := frenchMonths[strings.ToLower(match[2])]
	if !ok {
		return time.Time{}, fmt.Errorf("unrecognized month %q", match[2])
	}
	day, _ := strconv.Atoi(match[1])
	year, _ := strconv.Atoi(match[3])
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("day out of range in %q", v)
	}
	return t, nil
}

// NormalizeTextType lowercases and collapses whitespace so that "Décret
// Exécutif" and "décret  exécutif" compare equal.
func NormalizeTextType(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

// DedupeKey identifies the published text or procedure a mapping describes.
// It is empty when the identifying fields are missing.
func DedupeKey(m MappingData) string {
	f := m.MappedFields
	switch m.FormType {
	case FormLegal:
		if f["textType"] == "" || f["textNumber"] == "" {
			return ""
		}
		return string(FormLegal) + ":" + NormalizeTextType(f["textType"]) + ":" + strings.TrimSpace(f["textNumber"])
	case FormProcedure:
		if f["name"] == "" || f["institution"] == "" {
			return ""
		}
		return string(FormProcedure) + ":" + NormalizeTextType(f["name"]) + ":" + NormalizeTextType(f["institution"])
	default:
		return ""
	}
}

func ValidationPassed(v ValidationData) bool {
	return v.IsValid && len(v.Errors) == 0
}
