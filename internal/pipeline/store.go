// Package pipeline holds the per-document workflow store: the current step,
// the payload each completed step produced, and the observers of one review
// session.
package pipeline

import (
	"maps"
	"slices"

	"legal-intake-orchestrator/internal/domain"
)

// State is a point-in-time copy of a Store. CompletedSteps is listed in
// pipeline order.
type State struct {
	DocumentID     string                 `json:"document_id"`
	CurrentStep    domain.Step            `json:"current_step"`
	CompletedSteps []domain.Step          `json:"completed_steps"`
	Extraction     *domain.ExtractionData `json:"extraction,omitempty"`
	Mapping        *domain.MappingData    `json:"mapping,omitempty"`
	Validation     *domain.ValidationData `json:"validation,omitempty"`
	Workflow       *domain.WorkflowData   `json:"workflow,omitempty"`
}

// Store is the mutable state of one document session. A Store is owned by a
// single caller and is not safe for concurrent use.
type Store struct {
	documentID string
	current    domain.Step
	completed  map[domain.Step]struct{}

	extraction *domain.ExtractionData
	mapping    *domain.MappingData
	validation *domain.ValidationData
	workflow   *domain.WorkflowData

	bus *Bus
}

func NewStore(documentID string) *Store {
	return &Store{
		documentID: documentID,
		current:    domain.StepExtraction,
		completed:  make(map[domain.Step]struct{}),
		bus:        newBus(),
	}
}

func (s *Store) DocumentID() string { return s.documentID }

func (s *Store) CurrentStep() domain.Step { return s.current }

// SetExtractionData stores the recognized file, completes the extraction step
// and advances to mapping. A nil payload is ignored.
func (s *Store) SetExtractionData(data *domain.ExtractionData) {
	if data == nil {
		return
	}
	v := *data
	s.extraction = &v
	s.complete(domain.StepExtraction)
}

// SetMappingData stores mapped fields, completes mapping and advances to
// validation.
func (s *Store) SetMappingData(data *domain.MappingData) {
	if data == nil {
		return
	}
	v := cloneMapping(*data)
	s.mapping = &v
	s.complete(domain.StepMapping)
}

// SetValidationData stores the verdict, completes validation and advances to
// the approval workflow step.
func (s *Store) SetValidationData(data *domain.ValidationData) {
	if data == nil {
		return
	}
	v := cloneValidation(*data)
	s.validation = &v
	s.complete(domain.StepValidation)
}

// SetWorkflowData stores the approval disposition, completes the workflow step
// and moves to the terminal completed marker.
func (s *Store) SetWorkflowData(data *domain.WorkflowData) {
	if data == nil {
		return
	}
	v := cloneWorkflow(*data)
	s.workflow = &v
	s.complete(domain.StepWorkflow)
}

// GoToStep jumps to step without touching data or completion markers.
// Unknown steps are ignored.
func (s *Store) GoToStep(step domain.Step) {
	if !step.Valid() || step == s.current {
		return
	}
	prev := s.current
	s.current = step
	s.bus.publish(Event{Kind: EventStepChanged, DocumentID: s.documentID, Step: step, Previous: prev})
}

// MarkStepCompleted inserts step into the completed set. Data-bearing steps
// are only marked once their payload is present, so a completed step always
// has data.
func (s *Store) MarkStepCompleted(step domain.Step) {
	if !step.Valid() {
		return
	}
	if step.HasData() && !s.hasData(step) {
		return
	}
	s.markCompleted(step)
}

// ResetWorkflow drops every payload and completion marker and returns to
// extraction.
func (s *Store) ResetWorkflow() {
	s.extraction = nil
	s.mapping = nil
	s.validation = nil
	s.workflow = nil
	clear(s.completed)
	prev := s.current
	s.current = domain.StepExtraction
	s.bus.publish(Event{Kind: EventReset, DocumentID: s.documentID, Step: domain.StepExtraction, Previous: prev})
}

func (s *Store) IsStepCompleted(step domain.Step) bool {
	_, ok := s.completed[step]
	return ok
}

// CanAccessStep reports whether step is already completed or not ahead of
// the current step.
func (s *Store) CanAccessStep(step domain.Step) bool {
	if !step.Valid() {
		return false
	}
	if s.IsStepCompleted(step) {
		return true
	}
	return step.Ordinal() <= s.current.Ordinal()
}

func (s *Store) Snapshot() State {
	st := State{
		DocumentID:     s.documentID,
		CurrentStep:    s.current,
		CompletedSteps: s.completedSteps(),
	}
	if s.extraction != nil {
		v := *s.extraction
		st.Extraction = &v
	}
	if s.mapping != nil {
		v := cloneMapping(*s.mapping)
		st.Mapping = &v
	}
	if s.validation != nil {
		v := cloneValidation(*s.validation)
		st.Validation = &v
	}
	if s.workflow != nil {
		v := cloneWorkflow(*s.workflow)
		st.Workflow = &v
	}
	return st
}

// Subscribe registers fn for every event of this store. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(Event)) func() {
	return s.bus.subscribe(fn)
}

func (s *Store) complete(step domain.Step) {
	s.bus.publish(Event{Kind: EventDataSet, DocumentID: s.documentID, Step: step})
	s.markCompleted(step)
	next := step.Next()
	if s.current != next {
		prev := s.current
		s.current = next
		s.bus.publish(Event{Kind: EventStepChanged, DocumentID: s.documentID, Step: next, Previous: prev})
	}
}

func (s *Store) markCompleted(step domain.Step) {
	if _, ok := s.completed[step]; ok {
		return
	}
	s.completed[step] = struct{}{}
	s.bus.publish(Event{Kind: EventStepCompleted, DocumentID: s.documentID, Step: step})
}

func (s *Store) hasData(step domain.Step) bool {
	switch step {
	case domain.StepExtraction:
		return s.extraction != nil
	case domain.StepMapping:
		return s.mapping != nil
	case domain.StepValidation:
		return s.validation != nil
	case domain.StepWorkflow:
		return s.workflow != nil
	default:
		return false
	}
}

func (s *Store) completedSteps() []domain.Step {
	out := make([]domain.Step, 0, len(s.completed))
	for _, step := range domain.Steps {
		if _, ok := s.completed[step]; ok {
			out = append(out, step)
		}
	}
	return out
}

func cloneMapping(m domain.MappingData) domain.MappingData {
	m.MappedFields = maps.Clone(m.MappedFields)
	m.UnmappedFields = slices.Clone(m.UnmappedFields)
	if m.Candidates != nil {
		candidates := make([]domain.FieldCandidate, len(m.Candidates))
		for i, c := range m.Candidates {
			c.Sources = slices.Clone(c.Sources)
			c.Alternatives = slices.Clone(c.Alternatives)
			candidates[i] = c
		}
		m.Candidates = candidates
	}
	return m
}

func cloneValidation(v domain.ValidationData) domain.ValidationData {
	v.Warnings = slices.Clone(v.Warnings)
	v.Errors = slices.Clone(v.Errors)
	return v
}

func cloneWorkflow(w domain.WorkflowData) domain.WorkflowData {
	w.FinalData = maps.Clone(w.FinalData)
	return w
}
