package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/app"
	"legal-intake-orchestrator/internal/config"
	"legal-intake-orchestrator/internal/domain"
	"legal-intake-orchestrator/internal/identity"
	"legal-intake-orchestrator/internal/ocr"
	"legal-intake-orchestrator/internal/pipeline"
	appTemporal "legal-intake-orchestrator/internal/temporal"
)

type Handler struct {
	cfg      config.Config
	store    documentStore
	blob     uploadBlobStore
	workflow workflowClient
	logger   *zap.Logger
}

type documentStore interface {
	CountDocuments(ctx context.Context) (int64, error)
	CreateReceivedDocument(ctx context.Context, rec domain.DocumentRecord) error
	SetDocumentObjectKey(ctx context.Context, documentID, objectKey string) error
	GetDocument(ctx context.Context, documentID string) (domain.DocumentRecord, error)
	GetSnapshot(ctx context.Context, documentID string) ([]byte, error)
	ListAudit(ctx context.Context, documentID string) ([]domain.AuditEntry, error)
	ListStepLog(ctx context.Context, documentID string) ([]domain.StepLogEntry, error)
	ListPendingReviews(ctx context.Context) ([]domain.ReviewQueueItem, error)
}

type uploadBlobStore interface {
	PutDocument(ctx context.Context, documentID, filename, contentType string, formType domain.FormType, content []byte) (string, error)
}

// workflowClient is the part of the Temporal client the API drives.
type workflowClient interface {
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

type statusResponse struct {
	DocumentID     string                `json:"document_id"`
	Status         domain.DocumentStatus `json:"status"`
	FormType       domain.FormType       `json:"form_type"`
	Confidence     float64               `json:"confidence"`
	RejectedReason *string               `json:"rejected_reason,omitempty"`
}

type resultResponse struct {
	DocumentID     string                `json:"document_id"`
	Status         domain.DocumentStatus `json:"status"`
	FormType       domain.FormType       `json:"form_type"`
	Confidence     float64               `json:"confidence"`
	Result         json.RawMessage       `json:"result,omitempty"`
	RejectedReason *string               `json:"rejected_reason,omitempty"`
}

type stateResponse struct {
	DocumentID string           `json:"document_id"`
	Source     string           `json:"source"`
	State      json.RawMessage  `json:"state"`
	Events     []pipeline.Event `json:"events,omitempty"`
}

type auditResponse struct {
	DocumentID string                `json:"document_id"`
	Audit      []domain.AuditEntry   `json:"audit"`
	Steps      []domain.StepLogEntry `json:"steps"`
}

type decisionRequest struct {
	Action  domain.ApprovalAction `json:"action"`
	Comment string                `json:"comment,omitempty"`
}

type correctionRequest struct {
	Fields  map[string]string `json:"fields"`
	Comment string            `json:"comment,omitempty"`
}

type stepControlRequest struct {
	Action appTemporal.StepControlAction `json:"action"`
}

type navigateRequest struct {
	Step string `json:"step"`
}

var supportedUploadTypes = map[string]bool{
	"text/plain":      true,
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
	"image/bmp":       true,
}

func NewHandler(cfg config.Config, store documentStore, blob uploadBlobStore, workflow workflowClient, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cfg: cfg, store: store, blob: blob, workflow: workflow, logger: logger.With(zap.String("component", "api"))}
}

func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.AllowedUploadBytes+1<<20)
	if err := r.ParseMultipartForm(h.cfg.AllowedUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart payload")
		return
	}

	formType := domain.FormType(strings.ToLower(strings.TrimSpace(r.FormValue("form_type"))))
	if !formType.Valid() {
		writeError(w, http.StatusBadRequest, "form_type must be legal or procedure")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file form field is required")
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, h.cfg.AllowedUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if int64(len(body)) > h.cfg.AllowedUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds size limit")
		return
	}

	contentType := ocr.DetectContentType(header.Header.Get("Content-Type"), body)
	if !isSupportedUpload(contentType, body) {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported content type %s", contentType))
		return
	}

	documentID := uuid.NewString()
	rec := domain.DocumentRecord{
		ID:          documentID,
		Filename:    header.Filename,
		ContentType: contentType,
		SizeBytes:   int64(len(body)),
		FormType:    formType,
	}
	if err := h.store.CreateReceivedDocument(ctx, rec); err != nil {
		h.logger.Error("create document", zap.String("document_id", documentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create document")
		return
	}

	objectKey, err := h.blob.PutDocument(ctx, documentID, header.Filename, contentType, formType, body)
	if err != nil {
		h.logger.Error("upload document", zap.String("document_id", documentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to upload file")
		return
	}
	if err := h.store.SetDocumentObjectKey(ctx, documentID, objectKey); err != nil {
		h.logger.Error("record object key", zap.String("document_id", documentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record upload")
		return
	}

	// The event handler starts the workflow from the bucket notification.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": documentID,
		"workflow_id": h.workflowID(documentID),
		"form_type":   formType,
		"status":      domain.StatusReceived,
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request, documentID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, ok := h.loadDocument(ctx, w, documentID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		DocumentID:     documentID,
		Status:         rec.Status,
		FormType:       rec.FormType,
		Confidence:     rec.Confidence,
		RejectedReason: rec.RejectedReason,
	})
}

func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request, documentID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, ok := h.loadDocument(ctx, w, documentID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		DocumentID:     documentID,
		Status:         rec.Status,
		FormType:       rec.FormType,
		Confidence:     rec.Confidence,
		Result:         rec.FinalJSON,
		RejectedReason: rec.RejectedReason,
	})
}

// GetState answers from the running workflow and falls back to the last
// persisted snapshot once the workflow is gone.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request, documentID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	workflowID := h.workflowID(documentID)
	value, err := h.workflow.QueryWorkflow(ctx, workflowID, "", appTemporal.PipelineStateQuery)
	if err == nil {
		var view appTemporal.StateView
		if err := value.Get(&view); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to decode pipeline state")
			return
		}
		raw, err := json.Marshal(view)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode pipeline state")
			return
		}
		resp := stateResponse{DocumentID: documentID, Source: "live", State: raw}
		if r.URL.Query().Get("events") == "true" {
			if ev, err := h.workflow.QueryWorkflow(ctx, workflowID, "", appTemporal.PipelineEventsQuery); err == nil {
				_ = ev.Get(&resp.Events)
			}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	h.logger.Debug("state query failed, using snapshot", zap.String("document_id", documentID), zap.Error(err))

	snapshot, err := h.store.GetSnapshot(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "pipeline state not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch pipeline state")
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{DocumentID: documentID, Source: "snapshot", State: snapshot})
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request, documentID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, ok := h.loadDocument(ctx, w, documentID); !ok {
		return
	}
	audit, err := h.store.ListAudit(ctx, documentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch audit trail")
		return
	}
	steps, err := h.store.ListStepLog(ctx, documentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch step log")
		return
	}
	if audit == nil {
		audit = []domain.AuditEntry{}
	}
	if steps == nil {
		steps = []domain.StepLogEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{DocumentID: documentID, Audit: audit, Steps: steps})
}

func (h *Handler) SubmitDecision(w http.ResponseWriter, r *http.Request, documentID string) {
	var req decisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch req.Action {
	case domain.ActionApprove, domain.ActionReject, domain.ActionFlag, domain.ActionReopen:
	case domain.ActionCorrect:
		writeError(w, http.StatusBadRequest, "corrections are submitted to /corrections")
		return
	default:
		writeError(w, http.StatusBadRequest, "invalid action")
		return
	}

	h.signal(w, r, documentID, appTemporal.ReviewDecisionSignalName, appTemporal.ReviewDecisionSignal{
		Action:  req.Action,
		Actor:   identity.ActorFrom(r.Context()),
		Comment: req.Comment,
	})
}

func (h *Handler) SubmitCorrections(w http.ResponseWriter, r *http.Request, documentID string) {
	var req correctionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "fields must not be empty")
		return
	}

	h.signal(w, r, documentID, appTemporal.FieldCorrectionSignalName, appTemporal.FieldCorrectionSignal{
		Fields:  req.Fields,
		Actor:   identity.ActorFrom(r.Context()),
		Comment: req.Comment,
	})
}

func (h *Handler) ControlStep(w http.ResponseWriter, r *http.Request, documentID string) {
	req := stepControlRequest{Action: appTemporal.StepControlRetry}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if !req.Action.Valid() {
		writeError(w, http.StatusBadRequest, "action must be retry or abort")
		return
	}
	if !h.stepPaused(w, r, documentID) {
		return
	}

	h.signal(w, r, documentID, appTemporal.StepControlSignalName, appTemporal.StepControlSignal{
		Action: req.Action,
		Actor:  identity.ActorFrom(r.Context()),
	})
}

func (h *Handler) NavigateStep(w http.ResponseWriter, r *http.Request, documentID string) {
	var req navigateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	step, ok := domain.ParseStep(req.Step)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown step")
		return
	}

	h.signal(w, r, documentID, appTemporal.NavigateStepSignalName, appTemporal.NavigateStepSignal{Step: step})
}

func (h *Handler) PendingReviews(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items, err := h.store.ListPendingReviews(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch pending reviews")
		return
	}
	if items == nil {
		items = []domain.ReviewQueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	count, err := h.store.CountDocuments(ctx)
	if err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "documents": count})
}

// stepPaused reports whether the live workflow is waiting on a failed step.
// It writes the error response when it is not.
func (h *Handler) stepPaused(w http.ResponseWriter, r *http.Request, documentID string) bool {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	value, err := h.workflow.QueryWorkflow(ctx, h.workflowID(documentID), "", appTemporal.PipelineStateQuery)
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "no running workflow for document")
			return false
		}
		h.logger.Error("query workflow", zap.String("document_id", documentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query pipeline state")
		return false
	}
	var view appTemporal.StateView
	if err := value.Get(&view); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to decode pipeline state")
		return false
	}
	if view.Failure == nil {
		writeError(w, http.StatusConflict, "no step is waiting for retry or abort")
		return false
	}
	return true
}

// signal delivers to an already-running workflow. Signals never start one.
func (h *Handler) signal(w http.ResponseWriter, r *http.Request, documentID, name string, arg any) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.workflow.SignalWorkflow(ctx, h.workflowID(documentID), "", name, arg); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "no running workflow for document")
			return
		}
		h.logger.Error("signal workflow", zap.String("document_id", documentID), zap.String("signal", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to signal workflow")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"document_id": documentID, "signal": name, "status": "signal_sent"})
}

func (h *Handler) loadDocument(ctx context.Context, w http.ResponseWriter, documentID string) (domain.DocumentRecord, bool) {
	rec, err := h.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "document not found")
			return domain.DocumentRecord{}, false
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch document")
		return domain.DocumentRecord{}, false
	}
	return rec, true
}

func (h *Handler) workflowID(documentID string) string {
	return app.WorkflowID(h.cfg, documentID)
}

func isSupportedUpload(contentType string, body []byte) bool {
	if !supportedUploadTypes[contentType] {
		return false
	}
	if contentType == "text/plain" {
		return isSupportedTextUpload(body)
	}
	return len(body) > 0
}

func isSupportedTextUpload(body []byte) bool {
	return ocr.IsPlainText(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
