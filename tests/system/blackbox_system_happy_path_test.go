//go:build system

package system_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.temporal.io/sdk/client"

	"legal-intake-orchestrator/internal/domain"
	appTemporal "legal-intake-orchestrator/internal/temporal"
)

var _ = Describe("System blackbox happy path", Ordered, func() {
	var repoRoot string
	var cfg systemTestConfig

	BeforeAll(func() {
		if os.Getenv("RUN_BLACKBOX_SYSTEM_TEST") != "1" {
			Skip("set RUN_BLACKBOX_SYSTEM_TEST=1 to run real blackbox system test")
		}

		cfg = loadSystemTestConfig()

		var err error
		repoRoot, err = findRepoRoot()
		Expect(err).ToNot(HaveOccurred())

		By("verifying required docker compose services (including worker) are already running")
		Expect(requireComposeServicesRunning(repoRoot, cfg.RequiredComposeServices)).To(Succeed())

		By("failing fast if infrastructure is unreachable")
		Expect(waitForPostgres(cfg.PostgresDSN, cfg.PreflightTimeout)).To(Succeed())
		Expect(waitForTemporal(cfg.TemporalAddress, cfg.TemporalNamespace, cfg.PreflightTimeout)).To(Succeed())
		Expect(waitForHTTPStatus(cfg.MinioReadyURL, 200, cfg.PreflightTimeout)).To(Succeed())
		Expect(waitForHTTPStatus(strings.TrimRight(cfg.APIBaseURL, "/")+cfg.APIHealthPath, 200, cfg.PreflightTimeout)).To(Succeed())
		Expect(waitForHTTPStatus(strings.TrimRight(cfg.APIBaseURL, "/")+cfg.APIReadyPath, 200, cfg.PreflightTimeout)).To(Succeed())
		Expect(waitForWorkerPoller(cfg.TemporalAddress, cfg.TemporalNamespace, cfg.TemporalTaskQueue, cfg.WorkerPollerTimeout)).To(Succeed())
		Expect(applyMigration(repoRoot, cfg.PostgresDSN)).To(Succeed())
	})

	It("uploads a legal text over HTTP, waits for review and approves it", func() {
		apiBaseURL := strings.TrimRight(cfg.APIBaseURL, "/")

		By("uploading a document exactly like a clerk")
		filePath := filepath.Join(repoRoot, cfg.UploadFixturePath)
		uploadedFile, err := os.ReadFile(filePath)
		Expect(err).ToNot(HaveOccurred())

		upload, err := uploadFile(apiBaseURL, filePath, cfg.UploadFormType)
		Expect(err).ToNot(HaveOccurred())
		Expect(upload.DocumentID).ToNot(BeEmpty())
		Expect(upload.WorkflowID).ToNot(BeEmpty())
		Expect(upload.FormType).To(Equal(cfg.UploadFormType))
		Expect(upload.Status).To(Equal(domain.StatusReceived))

		By("polling until the document waits for a reviewer")
		Eventually(func() domain.DocumentStatus {
			status, statusErr := getStatus(apiBaseURL, upload.DocumentID)
			Expect(statusErr).ToNot(HaveOccurred())
			Expect(status.Status).ToNot(Equal(domain.StatusFailed))
			return status.Status
		}, cfg.WorkflowCompletionTimeout, cfg.WorkflowPollInterval).Should(Equal(domain.StatusNeedsReview))

		By("reading the live pipeline state")
		var state stateResponse
		Eventually(func() *domain.WorkflowData {
			var stateErr error
			state, stateErr = getState(apiBaseURL, upload.DocumentID)
			Expect(stateErr).ToNot(HaveOccurred())
			return state.State.Workflow
		}, cfg.WorkflowCompletionTimeout, cfg.WorkflowPollInterval).ShouldNot(BeNil())
		Expect(state.Source).To(Equal("live"))
		Expect(state.State.CurrentStep).To(Equal(domain.StepCompleted))
		Expect(state.State.Workflow.Status).To(Equal(domain.ApprovalNeedsReview))
		Expect(state.State.Failure).To(BeNil())
		Expect(state.State.Extraction).ToNot(BeNil())
		Expect(state.State.Extraction.Text).To(Equal(string(uploadedFile)))
		Expect(state.State.Mapping).ToNot(BeNil())
		Expect(state.State.Mapping.FormType).To(Equal(domain.FormLegal))
		Expect(state.State.Mapping.MappedFields).To(HaveKeyWithValue("textNumber", "08-09"))
		Expect(state.State.Validation).ToNot(BeNil())
		Expect(state.State.Validation.IsValid).To(BeTrue())

		By("approving as a reviewer")
		Expect(postJSON(apiBaseURL+"/v1/documents/"+upload.DocumentID+"/decision", cfg.Reviewer, map[string]string{
			"action":  string(domain.ActionApprove),
			"comment": "conforme au Journal officiel",
		})).To(Succeed())

		Eventually(func() domain.DocumentStatus {
			status, statusErr := getStatus(apiBaseURL, upload.DocumentID)
			Expect(statusErr).ToNot(HaveOccurred())
			return status.Status
		}, cfg.WorkflowCompletionTimeout, cfg.WorkflowPollInterval).Should(Equal(domain.StatusApproved))

		By("checking the final result and the audit trail")
		result, err := getResult(apiBaseURL, upload.DocumentID)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.FormType).To(Equal(domain.FormLegal))
		Expect(result.Result.Status).To(Equal(domain.ApprovalApproved))
		Expect(result.Result.Approver).ToNot(BeNil())
		Expect(*result.Result.Approver).To(Equal(cfg.Reviewer))
		Expect(result.Result.FinalData).To(HaveKeyWithValue("textNumber", "08-09"))

		audit, err := getAudit(apiBaseURL, upload.DocumentID)
		Expect(err).ToNot(HaveOccurred())
		Expect(audit.Audit).ToNot(BeEmpty())
		last := audit.Audit[len(audit.Audit)-1]
		Expect(last.Action).To(Equal(domain.ActionApprove))
		Expect(last.NewStatus).To(Equal(domain.ApprovalApproved))
		Expect(audit.Steps).To(HaveLen(3))

		snapshot, err := getState(apiBaseURL, upload.DocumentID)
		Expect(err).ToNot(HaveOccurred())
		Expect(snapshot.Source).To(Equal("snapshot"))
		Expect(snapshot.State.Workflow).ToNot(BeNil())
		Expect(snapshot.State.Workflow.Status).To(Equal(domain.ApprovalApproved))

		By("validating activity inputs and outputs from Temporal workflow history")
		temporalClient, err := client.Dial(client.Options{
			HostPort:  cfg.TemporalAddress,
			Namespace: cfg.TemporalNamespace,
		})
		Expect(err).ToNot(HaveOccurred())
		defer temporalClient.Close()

		trace, err := collectActivityTrace(context.Background(), temporalClient, upload.WorkflowID)
		Expect(err).ToNot(HaveOccurred())
		Expect(trace.ScheduledOrder).To(Equal(cfg.ExpectedActivityOrder))
		Expect(trace.CompletedOrder).To(Equal(cfg.ExpectedActivityOrder))

		recognizeIn := trace.Inputs["RecognizeDocumentActivity"].(appTemporal.RecognizeDocumentInput)
		Expect(recognizeIn.DocumentID).To(Equal(upload.DocumentID))
		Expect(recognizeIn.Filename).To(Equal(filepath.Base(filePath)))
		Expect(recognizeIn.ObjectKey).To(Equal(upload.DocumentID + "/" + filepath.Base(filePath)))
		Expect(recognizeIn.FormType).To(Equal(domain.FormLegal))

		recognizeOut := trace.Outputs["RecognizeDocumentActivity"].(appTemporal.RecognizeDocumentOutput)
		Expect(recognizeOut.Extraction.Text).To(Equal(string(uploadedFile)))
		Expect(recognizeOut.Extraction.FileType).To(Equal("text/plain"))

		mapIn := trace.Inputs["MapFieldsActivity"].(appTemporal.MapFieldsInput)
		Expect(mapIn.Text).To(Equal(recognizeOut.Extraction.Text))

		mapOut := trace.Outputs["MapFieldsActivity"].(appTemporal.MapFieldsOutput)
		Expect(mapOut.Mapping.Confidence).To(BeNumerically(">", 0.0))
		Expect(mapOut.Mapping.Confidence).To(BeNumerically("<=", 1.0))

		validateOut := trace.Outputs["ValidateMappingActivity"].(appTemporal.ValidateMappingOutput)
		Expect(validateOut.Validation.Errors).To(BeEmpty())

		finalizeIn := trace.Inputs["FinalizeDocumentActivity"].(appTemporal.FinalizeDocumentInput)
		Expect(finalizeIn.Workflow.Status).To(Equal(domain.ApprovalApproved))
		Expect(finalizeIn.Workflow.FinalData).To(Equal(mapOut.Mapping.MappedFields))

		signals, err := collectWorkflowSignalNames(context.Background(), temporalClient, upload.WorkflowID)
		Expect(err).ToNot(HaveOccurred())
		Expect(signals).To(Equal([]string{appTemporal.ReviewDecisionSignalName}))

		By("verifying audit and review records in Postgres")
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		Expect(err).ToNot(HaveOccurred())
		defer db.Close()
		Expect(db.Ping()).To(Succeed())

		actions, err := fetchStringRows(db, `SELECT action FROM audit_log WHERE document_id = $1 ORDER BY id`, upload.DocumentID)
		Expect(err).ToNot(HaveOccurred())
		Expect(actions).To(HaveLen(len(audit.Audit)))
		Expect(actions[len(actions)-1]).To(Equal(string(domain.ActionApprove)))

		steps, err := fetchStringRows(db, `SELECT step FROM step_log WHERE document_id = $1 ORDER BY id`, upload.DocumentID)
		Expect(err).ToNot(HaveOccurred())
		Expect(steps).To(Equal([]string{"extraction", "mapping", "validation"}))

		reviewStatus, err := fetchStringRows(db, `SELECT status FROM review_queue WHERE document_id = $1`, upload.DocumentID)
		Expect(err).ToNot(HaveOccurred())
		Expect(reviewStatus).To(Equal([]string{"APPROVED"}))
	})
})
