package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/domain"
	"legal-intake-orchestrator/internal/extraction"
	"legal-intake-orchestrator/internal/mapping"
	"legal-intake-orchestrator/internal/ocr"
	"legal-intake-orchestrator/internal/storage"
)

type ActivityStore interface {
	UpsertDocument(ctx context.Context, rec domain.DocumentRecord) error
	UpdateDocumentStatus(ctx context.Context, documentID string, status domain.DocumentStatus) error
	SaveExtraction(ctx context.Context, documentID string, text string, confidence float64, pageCount int) error
	SaveMapping(ctx context.Context, documentID string, payload []byte, confidence float64, dedupeKey string) error
	FindDuplicates(ctx context.Context, documentID, dedupeKey string) ([]string, error)
	InsertAudit(ctx context.Context, entry domain.AuditEntry) error
	InsertStepLog(ctx context.Context, documentID string, entry domain.StepLogEntry) error
	SaveSnapshot(ctx context.Context, documentID string, state []byte) error
	QueueReview(ctx context.Context, item domain.ReviewQueueItem) error
	ResolveReview(ctx context.Context, documentID string, decision string) error
	SaveFinalResult(ctx context.Context, documentID string, payload []byte, confidence float64, status domain.DocumentStatus, rejectedReason *string) error
}

type BlobStore interface {
	GetDocument(ctx context.Context, objectKey string) ([]byte, error)
}

// MapperFor returns the mapper used for documents of formType.
type MapperFor func(formType domain.FormType) *mapping.Mapper

type Activities struct {
	Store      ActivityStore
	Blob       BlobStore
	Extraction *extraction.Step
	Mappers    MapperFor
	Logger     *zap.Logger
}

type RecognizeDocumentInput struct {
	DocumentID  string
	Filename    string
	ObjectKey   string
	ContentType string
	FormType    domain.FormType
}

type RecognizeDocumentOutput struct {
	Extraction domain.ExtractionData
}

type MapFieldsInput struct {
	DocumentID string
	FormType   domain.FormType
	Text       string
}

type MapFieldsOutput struct {
	Mapping domain.MappingData
}

type ValidateMappingInput struct {
	DocumentID string
	Mapping    domain.MappingData
	Now        time.Time
	Reviewer   *string
}

type ValidateMappingOutput struct {
	Validation domain.ValidationData
}

type AppendAuditInput struct {
	Entry domain.AuditEntry
}

type SaveSnapshotInput struct {
	DocumentID string
	State      StateView
}

type QueueReviewInput struct {
	DocumentID string
	FormType   domain.FormType
	Approval   domain.ApprovalStatus
	Warnings   []string
	Errors     []string
}

type FinalizeDocumentInput struct {
	DocumentID string
	Workflow   domain.WorkflowData
	Confidence float64
}

type FailDocumentInput struct {
	DocumentID string
	Step       domain.Step
	Reason     string
	At         time.Time
}

// RecognizeDocumentActivity fetches the uploaded blob and runs the extraction
// step on it. The step log entry is persisted whatever the outcome.
func (a *Activities) RecognizeDocumentActivity(ctx context.Context, input RecognizeDocumentInput) (RecognizeDocumentOutput, error) {
	if err := a.Store.UpsertDocument(ctx, domain.DocumentRecord{
		ID:          input.DocumentID,
		Filename:    input.Filename,
		ObjectKey:   input.ObjectKey,
		ContentType: input.ContentType,
		FormType:    input.FormType,
		Status:      domain.StatusReceived,
	}); err != nil {
		return RecognizeDocumentOutput{}, fmt.Errorf("record document: %w", err)
	}

	data, err := a.Blob.GetDocument(ctx, input.ObjectKey)
	if err != nil {
		return RecognizeDocumentOutput{}, fmt.Errorf("fetch %s: %w", input.ObjectKey, err)
	}

	file := extraction.File{
		Ref:         input.ObjectKey,
		Name:        input.Filename,
		ContentType: ocr.DetectContentType(input.ContentType, data),
		Data:        data,
	}
	result, runErr := a.Extraction.Run(ctx, file, time.Now().UTC())
	if err := a.Store.InsertStepLog(ctx, input.DocumentID, result.Log); err != nil {
		return RecognizeDocumentOutput{}, fmt.Errorf("record step log: %w", err)
	}
	if runErr != nil {
		a.logger(ctx).Warn("recognition failed", zap.String("document_id", input.DocumentID), zap.Error(runErr))
		return RecognizeDocumentOutput{}, toApplicationError(runErr)
	}

	if err := a.Store.SaveExtraction(ctx, input.DocumentID, result.Data.Text, result.Data.Confidence, result.Data.PageCount); err != nil {
		return RecognizeDocumentOutput{}, fmt.Errorf("save extraction: %w", err)
	}
	return RecognizeDocumentOutput{Extraction: result.Data}, nil
}

func (a *Activities) MapFieldsActivity(ctx context.Context, input MapFieldsInput) (MapFieldsOutput, error) {
	mapper := a.Mappers(input.FormType)
	if mapper == nil {
		return MapFieldsOutput{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("no mapper for form type %q", input.FormType), "UnknownFormType", domain.ErrUnknownFormType)
	}

	data, err := mapper.Map(ctx, input.Text, input.FormType)
	if err != nil {
		if logErr := a.Store.InsertStepLog(ctx, input.DocumentID, domain.StepLogEntry{
			Step: domain.StepMapping, Level: domain.LogError, Message: err.Error(), At: time.Now().UTC(),
		}); logErr != nil {
			a.logger(ctx).Warn("record step log", zap.String("document_id", input.DocumentID), zap.Error(logErr))
		}
		return MapFieldsOutput{}, toApplicationError(err)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return MapFieldsOutput{}, err
	}
	if err := a.Store.SaveMapping(ctx, input.DocumentID, payload, data.Confidence, domain.DedupeKey(data)); err != nil {
		return MapFieldsOutput{}, fmt.Errorf("save mapping: %w", err)
	}
	if err := a.Store.InsertStepLog(ctx, input.DocumentID, domain.StepLogEntry{
		Step:    domain.StepMapping,
		Level:   domain.LogInfo,
		Message: fmt.Sprintf("mapped %d fields, %d unmapped (confidence %.2f)", len(data.MappedFields), len(data.UnmappedFields), data.Confidence),
		At:      time.Now().UTC(),
	}); err != nil {
		return MapFieldsOutput{}, fmt.Errorf("record step log: %w", err)
	}
	return MapFieldsOutput{Mapping: data}, nil
}

func (a *Activities) ValidateMappingActivity(ctx context.Context, input ValidateMappingInput) (ValidateMappingOutput, error) {
	duplicates, err := a.Store.FindDuplicates(ctx, input.DocumentID, domain.DedupeKey(input.Mapping))
	if err != nil {
		return ValidateMappingOutput{}, fmt.Errorf("find duplicates: %w", err)
	}

	v := domain.ValidateMapping(input.Mapping, domain.ValidationContext{
		Now:         input.Now,
		DuplicateOf: duplicates,
		Reviewer:    input.Reviewer,
	})
	if err := a.Store.UpdateDocumentStatus(ctx, input.DocumentID, domain.StatusValidated); err != nil {
		return ValidateMappingOutput{}, err
	}
	level := domain.LogInfo
	if !v.IsValid {
		level = domain.LogError
	}
	if err := a.Store.InsertStepLog(ctx, input.DocumentID, domain.StepLogEntry{
		Step:    domain.StepValidation,
		Level:   level,
		Message: fmt.Sprintf("validation: %d errors, %d warnings", len(v.Errors), len(v.Warnings)),
		At:      input.Now,
	}); err != nil {
		return ValidateMappingOutput{}, fmt.Errorf("record step log: %w", err)
	}
	return ValidateMappingOutput{Validation: v}, nil
}

func (a *Activities) AppendAuditActivity(ctx context.Context, input AppendAuditInput) error {
	if err := a.Store.InsertAudit(ctx, input.Entry); err != nil {
		return err
	}
	if input.Entry.NewStatus.Terminal() {
		return nil
	}
	return a.Store.UpdateDocumentStatus(ctx, input.Entry.DocumentID, input.Entry.NewStatus.DocumentStatus())
}

func (a *Activities) SaveSnapshotActivity(ctx context.Context, input SaveSnapshotInput) error {
	payload, err := json.Marshal(input.State)
	if err != nil {
		return err
	}
	return a.Store.SaveSnapshot(ctx, input.DocumentID, payload)
}

// QueueReviewActivity lists a document awaiting a human: needs_review rows for
// reviewers, pending rows for approvers.
func (a *Activities) QueueReviewActivity(ctx context.Context, input QueueReviewInput) error {
	if input.Approval.Terminal() {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("cannot queue document in %s", input.Approval), "IllegalTransition", domain.ErrIllegalTransition)
	}
	return a.Store.QueueReview(ctx, domain.ReviewQueueItem{
		DocumentID: input.DocumentID,
		FormType:   input.FormType,
		Warnings:   input.Warnings,
		Errors:     input.Errors,
		Status:     string(input.Approval.DocumentStatus()),
	})
}

// FinalizeDocumentActivity persists the signed-off form once the approval
// machine reaches a terminal status.
func (a *Activities) FinalizeDocumentActivity(ctx context.Context, input FinalizeDocumentInput) error {
	wf := input.Workflow
	var status domain.DocumentStatus
	var decision string
	var reason *string
	switch wf.Status {
	case domain.ApprovalApproved:
		status, decision = domain.StatusApproved, storage.ReviewApproved
	case domain.ApprovalRejected:
		status, decision = domain.StatusRejected, storage.ReviewRejected
		r := wf.Comments
		if r == "" {
			r = "rejected by reviewer"
		}
		reason = &r
	default:
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("cannot finalize document in %s", wf.Status), "IllegalTransition", domain.ErrIllegalTransition)
	}

	payload, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	if err := a.Store.SaveFinalResult(ctx, input.DocumentID, payload, input.Confidence, status, reason); err != nil {
		return err
	}
	if err := a.Store.ResolveReview(ctx, input.DocumentID, decision); err != nil {
		a.logger(ctx).Warn("resolve review", zap.String("document_id", input.DocumentID), zap.Error(err))
	}
	return nil
}

func (a *Activities) FailDocumentActivity(ctx context.Context, input FailDocumentInput) error {
	if err := a.Store.InsertStepLog(ctx, input.DocumentID, domain.StepLogEntry{
		Step: input.Step, Level: domain.LogError, Message: "aborted: " + input.Reason, At: input.At,
	}); err != nil {
		return err
	}
	return a.Store.UpdateDocumentStatus(ctx, input.DocumentID, domain.StatusFailed)
}

func (a *Activities) logger(ctx context.Context) *zap.Logger {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if activity.IsActivity(ctx) {
		info := activity.GetInfo(ctx)
		logger = logger.With(zap.String("activity", info.ActivityType.Name), zap.String("workflow_id", info.WorkflowExecution.ID))
	}
	return logger
}

// toApplicationError converts capability failures into non-retryable
// application errors of type domain.CapabilityErrorType so the workflow can
// recognize them. Other errors pass through and follow the retry policy.
func toApplicationError(err error) error {
	var ce *domain.CapabilityError
	if errors.As(err, &ce) {
		return temporal.NewNonRetryableApplicationError(ce.Error(), domain.CapabilityErrorType, err, ce.Step)
	}
	return err
}
