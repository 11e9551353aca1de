package domain

// Step names one stage of the document pipeline.
type Step string

const (
	StepExtraction Step = "extraction"
	StepMapping    Step = "mapping"
	StepValidation Step = "validation"
	StepWorkflow   Step = "workflow"
	StepCompleted  Step = "completed"
)

// Steps lists every step in pipeline order.
var Steps = []Step{StepExtraction, StepMapping, StepValidation, StepWorkflow, StepCompleted}

// Ordinal returns the position of s in the pipeline, or -1 for unknown steps.
func (s Step) Ordinal() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

func (s Step) Valid() bool {
	return s.Ordinal() >= 0
}

// Next returns the step following s. StepCompleted is its own successor.
func (s Step) Next() Step {
	i := s.Ordinal()
	if i < 0 || i == len(Steps)-1 {
		return StepCompleted
	}
	return Steps[i+1]
}

// HasData reports whether the step carries its own payload. StepCompleted is
// a terminal marker only.
func (s Step) HasData() bool {
	switch s {
	case StepExtraction, StepMapping, StepValidation, StepWorkflow:
		return true
	default:
		return false
	}
}

func ParseStep(v string) (Step, bool) {
	s := Step(v)
	return s, s.Valid()
}
