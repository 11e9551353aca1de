package temporal

import (
	"errors"
	"maps"
	"slices"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"legal-intake-orchestrator/internal/approval"
	"legal-intake-orchestrator/internal/domain"
	"legal-intake-orchestrator/internal/mapping"
	"legal-intake-orchestrator/internal/pipeline"
)

const LegalDocumentWorkflowName = "LegalDocumentWorkflow"

type WorkflowInput struct {
	DocumentID  string
	Filename    string
	ObjectKey   string
	ContentType string
	FormType    domain.FormType
	Policy      approval.Policy
}

type WorkflowResult struct {
	DocumentID string
	Status     domain.DocumentStatus
	Approval   domain.ApprovalStatus
}

// documentRun is the state of one workflow execution. It is only touched
// from workflow coroutines, which never run concurrently.
type documentRun struct {
	input   WorkflowInput
	store   *pipeline.Store
	events  []pipeline.Event
	failure *StepFailure
	machine *approval.Machine
}

func LegalDocumentWorkflow(ctx workflow.Context, input WorkflowInput) (WorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	run := &documentRun{input: input, store: pipeline.NewStore(input.DocumentID)}
	run.store.Subscribe(func(e pipeline.Event) {
		run.events = append(run.events, e)
	})

	if err := workflow.SetQueryHandler(ctx, PipelineStateQuery, func() (StateView, error) {
		return run.view(), nil
	}); err != nil {
		return WorkflowResult{}, err
	}
	if err := workflow.SetQueryHandler(ctx, PipelineEventsQuery, func() ([]pipeline.Event, error) {
		return slices.Clone(run.events), nil
	}); err != nil {
		return WorkflowResult{}, err
	}

	workflow.Go(ctx, run.navigate)

	var recognized RecognizeDocumentOutput
	err := run.withStepControl(ctx, domain.StepExtraction, func() error {
		return workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyRecognizeDocument), (*Activities).RecognizeDocumentActivity, RecognizeDocumentInput{
			DocumentID:  input.DocumentID,
			Filename:    input.Filename,
			ObjectKey:   input.ObjectKey,
			ContentType: input.ContentType,
			FormType:    input.FormType,
		}).Get(ctx, &recognized)
	})
	if err != nil {
		return run.fail(ctx, domain.StepExtraction, err)
	}
	run.store.SetExtractionData(&recognized.Extraction)
	run.checkpoint(ctx)

	var mapped MapFieldsOutput
	err = run.withStepControl(ctx, domain.StepMapping, func() error {
		return workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyMapFields), (*Activities).MapFieldsActivity, MapFieldsInput{
			DocumentID: input.DocumentID,
			FormType:   input.FormType,
			Text:       recognized.Extraction.Text,
		}).Get(ctx, &mapped)
	})
	if err != nil {
		return run.fail(ctx, domain.StepMapping, err)
	}
	run.store.SetMappingData(&mapped.Mapping)
	run.checkpoint(ctx)

	validation, err := run.validate(ctx, mapped.Mapping, nil)
	if err != nil {
		return WorkflowResult{}, err
	}

	run.machine = approval.NewMachine(input.DocumentID, input.FormType, mapped.Mapping.MappedFields)
	if action, comment, ok := input.Policy.Route(validation, mapped.Mapping.Confidence); ok {
		if err := run.apply(ctx, approval.Decision{Action: action, Comment: comment, At: workflow.Now(ctx)}); err != nil {
			return WorkflowResult{}, err
		}
	}
	wf := run.machine.Data()
	run.store.SetWorkflowData(&wf)
	run.checkpoint(ctx)
	if !run.machine.Status().Terminal() {
		if err := run.queueReview(ctx, validation); err != nil {
			return WorkflowResult{}, err
		}
	}

	current := mapped.Mapping
	decisions := workflow.GetSignalChannel(ctx, ReviewDecisionSignalName)
	corrections := workflow.GetSignalChannel(ctx, FieldCorrectionSignalName)
	for !run.machine.Status().Terminal() {
		var signalErr error
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(decisions, func(c workflow.ReceiveChannel, _ bool) {
			var sig ReviewDecisionSignal
			c.Receive(ctx, &sig)
			signalErr = run.onDecision(ctx, sig, validation)
		})
		selector.AddReceive(corrections, func(c workflow.ReceiveChannel, _ bool) {
			var sig FieldCorrectionSignal
			c.Receive(ctx, &sig)
			updated, v, err := run.onCorrection(ctx, current, sig)
			if err != nil {
				signalErr = err
				return
			}
			if v != nil {
				current, validation = updated, *v
			}
		})
		selector.Select(ctx)
		if signalErr != nil {
			return WorkflowResult{}, signalErr
		}
	}

	final := run.machine.Data()
	if err := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyFinalizeDocument), (*Activities).FinalizeDocumentActivity, FinalizeDocumentInput{
		DocumentID: input.DocumentID,
		Workflow:   final,
		Confidence: current.Confidence,
	}).Get(ctx, nil); err != nil {
		return WorkflowResult{}, err
	}
	run.checkpoint(ctx)

	logger.Info("document finalized", "DocumentID", input.DocumentID, "Status", final.Status)
	return WorkflowResult{DocumentID: input.DocumentID, Status: final.Status.DocumentStatus(), Approval: final.Status}, nil
}

func (r *documentRun) view() StateView {
	v := StateView{State: r.store.Snapshot()}
	if r.failure != nil {
		f := *r.failure
		v.Failure = &f
	}
	return v
}

// withStepControl runs exec until it succeeds. A capability failure pauses
// the step until a stepControl signal asks to retry or abort it. Signals that
// arrived before the pause are dropped.
func (r *documentRun) withStepControl(ctx workflow.Context, step domain.Step, exec func() error) error {
	control := workflow.GetSignalChannel(ctx, StepControlSignalName)
	for {
		err := exec()
		if err == nil {
			r.failure = nil
			return nil
		}
		if !IsCapabilityFailure(err) {
			return err
		}

		var stale StepControlSignal
		for control.ReceiveAsync(&stale) {
			workflow.GetLogger(ctx).Warn("dropping step control sent before the failure", "Step", step, "Action", stale.Action)
		}
		r.failure = &StepFailure{Step: step, Message: err.Error()}
		workflow.GetLogger(ctx).Warn("step paused on capability failure", "Step", step, "Error", err)
		for {
			var sig StepControlSignal
			control.Receive(ctx, &sig)
			if sig.Action == StepControlRetry {
				break
			}
			if sig.Action == StepControlAbort {
				return errAborted{cause: err}
			}
		}
	}
}

func (r *documentRun) fail(ctx workflow.Context, step domain.Step, err error) (WorkflowResult, error) {
	var aborted errAborted
	if !errors.As(err, &aborted) {
		return WorkflowResult{}, err
	}
	if ferr := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyFailDocument), (*Activities).FailDocumentActivity, FailDocumentInput{
		DocumentID: r.input.DocumentID,
		Step:       step,
		Reason:     aborted.cause.Error(),
		At:         workflow.Now(ctx),
	}).Get(ctx, nil); ferr != nil {
		return WorkflowResult{}, ferr
	}
	r.checkpoint(ctx)
	return WorkflowResult{DocumentID: r.input.DocumentID, Status: domain.StatusFailed}, nil
}

func (r *documentRun) validate(ctx workflow.Context, m domain.MappingData, reviewer *string) (domain.ValidationData, error) {
	var out ValidateMappingOutput
	if err := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyValidateMapping), (*Activities).ValidateMappingActivity, ValidateMappingInput{
		DocumentID: r.input.DocumentID,
		Mapping:    m,
		Now:        workflow.Now(ctx),
		Reviewer:   reviewer,
	}).Get(ctx, &out); err != nil {
		return domain.ValidationData{}, err
	}
	r.store.SetValidationData(&out.Validation)
	return out.Validation, nil
}

func (r *documentRun) apply(ctx workflow.Context, d approval.Decision) error {
	entry, err := r.machine.Apply(d)
	if err != nil {
		return err
	}
	return workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyAppendAudit), (*Activities).AppendAuditActivity, AppendAuditInput{Entry: entry}).Get(ctx, nil)
}

// queueReview lists the document under its current approval status so a
// reviewer or approver can find it.
func (r *documentRun) queueReview(ctx workflow.Context, v domain.ValidationData) error {
	return workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyQueueReview), (*Activities).QueueReviewActivity, QueueReviewInput{
		DocumentID: r.input.DocumentID,
		FormType:   r.input.FormType,
		Approval:   r.machine.Status(),
		Warnings:   v.Warnings,
		Errors:     v.Errors,
	}).Get(ctx, nil)
}

// onDecision applies a reviewer action. Illegal actions are logged and
// dropped so a stale UI cannot fail the workflow.
func (r *documentRun) onDecision(ctx workflow.Context, sig ReviewDecisionSignal, v domain.ValidationData) error {
	action, ok := approval.ParseAction(string(sig.Action))
	if !ok || action == domain.ActionCorrect {
		workflow.GetLogger(ctx).Warn("ignoring review decision", "Action", sig.Action)
		return nil
	}
	if action == domain.ActionApprove && !domain.ValidationPassed(v) {
		workflow.GetLogger(ctx).Warn("ignoring approval of invalid document", "Errors", v.Errors)
		return nil
	}

	prev := r.machine.Status()
	if err := r.apply(ctx, approval.Decision{Action: action, Actor: actorPtr(sig.Actor), Comment: sig.Comment, At: workflow.Now(ctx)}); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			workflow.GetLogger(ctx).Warn("ignoring illegal transition", "Action", action, "Status", prev)
			return nil
		}
		return err
	}
	wf := r.machine.Data()
	r.store.SetWorkflowData(&wf)

	if !r.machine.Status().Terminal() {
		if err := r.queueReview(ctx, v); err != nil {
			return err
		}
	}
	r.checkpoint(ctx)
	return nil
}

// onCorrection applies reviewer overrides, re-runs validation and records a
// correct transition. A pending document whose new validation needs review is
// flagged by the system. It returns a nil validation when the signal was
// rejected.
func (r *documentRun) onCorrection(ctx workflow.Context, current domain.MappingData, sig FieldCorrectionSignal) (domain.MappingData, *domain.ValidationData, error) {
	actor := actorPtr(sig.Actor)
	updated, err := mapping.ApplyOverrides(current, sig.Fields, actor)
	if err != nil {
		workflow.GetLogger(ctx).Warn("ignoring field correction", "Error", err)
		return current, nil, nil
	}
	r.store.SetMappingData(&updated)

	v, err := r.validate(ctx, updated, actor)
	if err != nil {
		return current, nil, err
	}

	r.machine.SetFinalData(updated.MappedFields)
	comment := sig.Comment
	if comment == "" {
		comment = "corrected " + joinSorted(slices.Collect(maps.Keys(sig.Fields)))
	}
	if err := r.apply(ctx, approval.Decision{Action: domain.ActionCorrect, Actor: actor, Comment: comment, At: workflow.Now(ctx)}); err != nil {
		return current, nil, err
	}
	if reason, flag := approval.NeedsReview(v); flag && r.machine.Status() == domain.ApprovalPending {
		if err := r.apply(ctx, approval.Decision{Action: domain.ActionFlag, Comment: reason, At: workflow.Now(ctx)}); err != nil {
			return current, nil, err
		}
	}
	wf := r.machine.Data()
	r.store.SetWorkflowData(&wf)
	if err := r.queueReview(ctx, v); err != nil {
		return current, nil, err
	}
	r.checkpoint(ctx)
	return updated, &v, nil
}

// navigate serves navigateStep signals for the life of the workflow. Steps
// the store does not allow are ignored.
func (r *documentRun) navigate(ctx workflow.Context) {
	ch := workflow.GetSignalChannel(ctx, NavigateStepSignalName)
	for {
		var sig NavigateStepSignal
		if !ch.Receive(ctx, &sig) {
			return
		}
		if !r.store.CanAccessStep(sig.Step) {
			workflow.GetLogger(ctx).Warn("ignoring navigation", "Step", sig.Step, "Current", r.store.CurrentStep())
			continue
		}
		r.store.GoToStep(sig.Step)
	}
}

// checkpoint stores the latest snapshot for readers outside the workflow. A
// failed save is logged and does not stop the document.
func (r *documentRun) checkpoint(ctx workflow.Context) {
	err := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicySaveSnapshot), (*Activities).SaveSnapshotActivity, SaveSnapshotInput{
		DocumentID: r.input.DocumentID,
		State:      r.view(),
	}).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("snapshot failed", "Error", err)
	}
}

// IsCapabilityFailure reports whether err carries a recoverable capability
// error raised by an activity.
func IsCapabilityFailure(err error) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == domain.CapabilityErrorType
}

type errAborted struct {
	cause error
}

func (e errAborted) Error() string {
	return "aborted: " + e.cause.Error()
}

func actorPtr(actor string) *string {
	if actor == "" {
		return nil
	}
	return &actor
}

func joinSorted(keys []string) string {
	slices.Sort(keys)
	return strings.Join(keys, ", ")
}
