package temporal

import (
	"legal-intake-orchestrator/internal/domain"
	"legal-intake-orchestrator/internal/pipeline"
)

const (
	ReviewDecisionSignalName  = "reviewDecision"
	FieldCorrectionSignalName = "fieldCorrection"
	StepControlSignalName     = "stepControl"
	NavigateStepSignalName    = "navigateStep"

	PipelineStateQuery  = "pipelineState"
	PipelineEventsQuery = "pipelineEvents"
)

// ReviewDecisionSignal asks the approval machine to apply Action. Actor is
// filled from the verified caller identity.
type ReviewDecisionSignal struct {
	Action  domain.ApprovalAction `json:"action"`
	Actor   string                `json:"actor,omitempty"`
	Comment string                `json:"comment,omitempty"`
}

// FieldCorrectionSignal carries reviewer overrides keyed by schema field. An
// empty value clears the field.
type FieldCorrectionSignal struct {
	Fields  map[string]string `json:"fields"`
	Actor   string            `json:"actor,omitempty"`
	Comment string            `json:"comment,omitempty"`
}

type StepControlAction string

const (
	StepControlRetry StepControlAction = "retry"
	StepControlAbort StepControlAction = "abort"
)

func (a StepControlAction) Valid() bool {
	return a == StepControlRetry || a == StepControlAbort
}

// StepControlSignal resolves a paused capability failure.
type StepControlSignal struct {
	Action StepControlAction `json:"action"`
	Actor  string            `json:"actor,omitempty"`
}

type NavigateStepSignal struct {
	Step domain.Step `json:"step"`
}

// StepFailure describes the capability failure the workflow is paused on.
type StepFailure struct {
	Step    domain.Step `json:"step"`
	Message string      `json:"message"`
}

// StateView is the pipelineState query result.
type StateView struct {
	pipeline.State
	Failure *StepFailure `json:"failure,omitempty"`
}
