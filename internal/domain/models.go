package domain

import (
	"fmt"
	"time"
)

// ExtractionData is the recognized text of one uploaded file.
type ExtractionData struct {
	FileRef     string    `json:"file_ref"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	FileType    string    `json:"file_type"`
	PageCount   int       `json:"page_count,omitempty"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Entity is one structured value found in recognized text by an entity
// extraction capability. Offset is the rune position of the match, or -1 when
// the extractor cannot locate it.
type Entity struct {
	Kind       EntityKind `json:"kind"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	Offset     int        `json:"offset"`
	Source     string     `json:"source"`
}

type FieldCandidate struct {
	Field        string      `json:"field"`
	Label        string      `json:"label"`
	Value        string      `json:"value"`
	Confidence   float64     `json:"confidence"`
	Sources      []Entity    `json:"sources,omitempty"`
	Alternatives []string    `json:"alternatives,omitempty"`
	Status       FieldStatus `json:"status"`
	Accepted     bool        `json:"accepted"`
	Edited       bool        `json:"edited"`
	EditedBy     *string     `json:"edited_by,omitempty"`
}

func (c FieldCandidate) Suggested() bool {
	return c.Status == FieldSuggested
}

type MappingData struct {
	FormType         FormType          `json:"form_type"`
	MappedFields     map[string]string `json:"mapped_fields"`
	UnmappedFields   []string          `json:"unmapped_fields"`
	Confidence       float64           `json:"confidence"`
	MappingCompleted bool              `json:"mapping_completed"`
	Candidates       []FieldCandidate  `json:"candidates,omitempty"`
}

func (m MappingData) Candidate(field string) (FieldCandidate, bool) {
	for _, c := range m.Candidates {
		if c.Field == field {
			return c, true
		}
	}
	return FieldCandidate{}, false
}

// Form decodes the mapped fields into the variant selected by FormType.
func (m MappingData) Form() (Form, error) {
	f := m.MappedFields
	switch m.FormType {
	case FormLegal:
		return LegalTextForm{
			Title:           f["title"],
			TextType:        f["textType"],
			TextNumber:      f["textNumber"],
			Institution:     f["institution"],
			SignatureDate:   f["signatureDate"],
			PublicationDate: f["publicationDate"],
			JONumber:        f["joNumber"],
			JODate:          f["joDate"],
			Summary:         f["summary"],
		}, nil
	case FormProcedure:
		return ProcedureForm{
			Name:              f["name"],
			Category:          f["category"],
			Institution:       f["institution"],
			Duration:          f["duration"],
			Cost:              f["cost"],
			RequiredDocuments: f["requiredDocuments"],
			LegalBasis:        f["legalBasis"],
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormType, m.FormType)
	}
}

// Form is the typed view of mapped fields. It is implemented only by
// LegalTextForm and ProcedureForm.
type Form interface {
	FormType() FormType
	form()
}

type LegalTextForm struct {
	Title           string `json:"title"`
	TextType        string `json:"textType"`
	TextNumber      string `json:"textNumber"`
	Institution     string `json:"institution,omitempty"`
	SignatureDate   string `json:"signatureDate,omitempty"`
	PublicationDate string `json:"publicationDate,omitempty"`
	JONumber        string `json:"joNumber,omitempty"`
	JODate          string `json:"joDate,omitempty"`
	Summary         string `json:"summary,omitempty"`
}

func (LegalTextForm) FormType() FormType { return FormLegal }
func (LegalTextForm) form()              {}

type ProcedureForm struct {
	Name              string `json:"name"`
	Category          string `json:"category,omitempty"`
	Institution       string `json:"institution"`
	Duration          string `json:"duration,omitempty"`
	Cost              string `json:"cost,omitempty"`
	RequiredDocuments string `json:"requiredDocuments,omitempty"`
	LegalBasis        string `json:"legalBasis,omitempty"`
}

func (ProcedureForm) FormType() FormType { return FormProcedure }
func (ProcedureForm) form()              {}

type ValidationData struct {
	IsValid    bool      `json:"is_valid"`
	Warnings   []string  `json:"warnings"`
	Errors     []string  `json:"errors"`
	ReviewedAt time.Time `json:"reviewed_at"`
	Reviewer   *string   `json:"reviewer,omitempty"`
}

type WorkflowData struct {
	Status     ApprovalStatus    `json:"status"`
	Approver   *string           `json:"approver,omitempty"`
	ApprovedAt *time.Time        `json:"approved_at,omitempty"`
	Comments   string            `json:"comments,omitempty"`
	FormType   FormType          `json:"form_type"`
	FinalData  map[string]string `json:"final_data"`
}

// AuditEntry records one approval transition. Entries are append-only.
type AuditEntry struct {
	DocumentID     string         `json:"document_id"`
	Action         ApprovalAction `json:"action"`
	Actor          *string        `json:"actor,omitempty"`
	PreviousStatus ApprovalStatus `json:"previous_status"`
	NewStatus      ApprovalStatus `json:"new_status"`
	Comment        string         `json:"comment,omitempty"`
	At             time.Time      `json:"at"`
}

type StepLogEntry struct {
	Step    Step      `json:"step"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type DocumentRecord struct {
	ID             string         `json:"id"`
	Filename       string         `json:"filename"`
	ObjectKey      string         `json:"object_key"`
	ContentType    string         `json:"content_type"`
	SizeBytes      int64          `json:"size_bytes"`
	FormType       FormType       `json:"form_type"`
	Status         DocumentStatus `json:"status"`
	Confidence     float64        `json:"confidence"`
	DedupeKey      string         `json:"dedupe_key,omitempty"`
	FinalJSON      []byte         `json:"final_json,omitempty"`
	RejectedReason *string        `json:"rejected_reason,omitempty"`
}

type ReviewQueueItem struct {
	DocumentID string   `json:"document_id"`
	FormType   FormType `json:"form_type"`
	Warnings   []string `json:"warnings"`
	Errors     []string `json:"errors"`
	Status     string   `json:"status"`
}
