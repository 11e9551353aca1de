package temporal

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/testsuite"

	"legal-intake-orchestrator/internal/domain"
	"legal-intake-orchestrator/internal/extraction"
	"legal-intake-orchestrator/internal/mapping"
	"legal-intake-orchestrator/internal/ocr"
)

const procedureSheet = "Délivrance du passeport biométrique\n" +
	"Catégorie : État civil\n" +
	"Administration : Wilaya d'Alger, service de la réglementation\n" +
	"Pièces à fournir :\n" +
	"- Extrait de naissance n° 12S\n" +
	"- Deux photos d'identité\n" +
	"Délai de délivrance : 15 jours ouvrables\n" +
	"Coût : 6 000 DA\n" +
	"conformément au décret exécutif n° 10-252 du 20 octobre 2010\n"

type activityTrace struct {
	mu sync.Mutex

	startedOrder   []string
	completedOrder []string

	recognizeIn  *RecognizeDocumentInput
	recognizeOut *RecognizeDocumentOutput
	mapIn        *MapFieldsInput
	mapOut       *MapFieldsOutput
	validateOut  *ValidateMappingOutput
	finalizeIn   *FinalizeDocumentInput
	audits       []domain.AuditEntry
}

func (t *activityTrace) recordStarted(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedOrder = append(t.startedOrder, name)
}

func (t *activityTrace) recordCompleted(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completedOrder = append(t.completedOrder, name)
}

var _ = Describe("LegalDocumentWorkflow blackbox happy path", func() {
	It("recognizes a procedure sheet, routes it to review and finalizes the approval", func() {
		var suite testsuite.WorkflowTestSuite
		env := suite.NewTestWorkflowEnvironment()

		store := newFakeStore()
		documentID := "doc-proc-1"
		objectKey := documentID + "/passeport.txt"
		acts := &Activities{
			Store:      store,
			Blob:       &fakeBlob{objects: map[string][]byte{objectKey: []byte(procedureSheet)}},
			Extraction: extraction.NewStep(ocr.Router{Text: ocr.PlainText{}}, extraction.DefaultMinTextLength, nil),
			Mappers: func(domain.FormType) *mapping.Mapper {
				return mapping.NewMapper(mapping.Chain{mapping.NewRuleExtractor()}, mapping.DefaultAutoAcceptThreshold, nil)
			},
		}

		trace := &activityTrace{}
		env.SetOnActivityStartedListener(func(info *activity.Info, _ context.Context, args converter.EncodedValues) {
			trace.recordStarted(info.ActivityType.Name)

			trace.mu.Lock()
			defer trace.mu.Unlock()
			switch info.ActivityType.Name {
			case "RecognizeDocumentActivity":
				var in RecognizeDocumentInput
				_ = args.Get(&in)
				trace.recognizeIn = &in
			case "MapFieldsActivity":
				var in MapFieldsInput
				_ = args.Get(&in)
				trace.mapIn = &in
			case "AppendAuditActivity":
				var in AppendAuditInput
				_ = args.Get(&in)
				trace.audits = append(trace.audits, in.Entry)
			case "FinalizeDocumentActivity":
				var in FinalizeDocumentInput
				_ = args.Get(&in)
				trace.finalizeIn = &in
			}
		})
		env.SetOnActivityCompletedListener(func(info *activity.Info, result converter.EncodedValue, _ error) {
			trace.recordCompleted(info.ActivityType.Name)

			trace.mu.Lock()
			defer trace.mu.Unlock()
			switch info.ActivityType.Name {
			case "RecognizeDocumentActivity":
				var out RecognizeDocumentOutput
				_ = result.Get(&out)
				trace.recognizeOut = &out
			case "MapFieldsActivity":
				var out MapFieldsOutput
				_ = result.Get(&out)
				trace.mapOut = &out
			case "ValidateMappingActivity":
				var out ValidateMappingOutput
				_ = result.Get(&out)
				trace.validateOut = &out
			}
		})

		Register(env, acts)

		By("approving once the document waits for review")
		env.RegisterDelayedCallback(func() {
			env.SignalWorkflow(ReviewDecisionSignalName, ReviewDecisionSignal{Action: domain.ActionApprove, Actor: "reviewer@apc"})
		}, time.Minute)

		By("starting the workflow the way the event handler does")
		env.ExecuteWorkflow(LegalDocumentWorkflowName, WorkflowInput{
			DocumentID:  documentID,
			Filename:    "passeport.txt",
			ObjectKey:   objectKey,
			ContentType: "text/plain; charset=utf-8",
			FormType:    domain.FormProcedure,
		})

		Expect(env.IsWorkflowCompleted()).To(BeTrue())
		Expect(env.GetWorkflowError()).ToNot(HaveOccurred())

		var wfResult WorkflowResult
		Expect(env.GetWorkflowResult(&wfResult)).To(Succeed())
		Expect(wfResult.DocumentID).To(Equal(documentID))
		Expect(wfResult.Status).To(Equal(domain.StatusApproved))

		expectedOrder := []string{
			"RecognizeDocumentActivity",
			"SaveSnapshotActivity",
			"MapFieldsActivity",
			"SaveSnapshotActivity",
			"ValidateMappingActivity",
			"AppendAuditActivity",
			"SaveSnapshotActivity",
			"QueueReviewActivity",
			"AppendAuditActivity",
			"SaveSnapshotActivity",
			"FinalizeDocumentActivity",
			"SaveSnapshotActivity",
		}
		Expect(trace.startedOrder).To(Equal(expectedOrder))
		Expect(trace.completedOrder).To(Equal(expectedOrder))

		By("checking what flowed between the steps")
		Expect(trace.recognizeIn).ToNot(BeNil())
		Expect(trace.recognizeIn.ObjectKey).To(Equal(objectKey))
		Expect(trace.recognizeIn.FormType).To(Equal(domain.FormProcedure))

		Expect(trace.recognizeOut).ToNot(BeNil())
		Expect(trace.recognizeOut.Extraction.FileType).To(Equal("text/plain"))
		Expect(trace.recognizeOut.Extraction.Confidence).To(BeNumerically("==", 1))
		Expect(trace.recognizeOut.Extraction.Text).To(HavePrefix("Délivrance du passeport"))

		Expect(trace.mapIn).ToNot(BeNil())
		Expect(trace.mapIn.Text).To(Equal(trace.recognizeOut.Extraction.Text))

		Expect(trace.mapOut).ToNot(BeNil())
		Expect(trace.mapOut.Mapping.FormType).To(Equal(domain.FormProcedure))
		Expect(trace.mapOut.Mapping.MappedFields).To(HaveKeyWithValue("name", "Délivrance du passeport biométrique"))
		Expect(trace.mapOut.Mapping.MappedFields).To(HaveKeyWithValue("institution", "Wilaya d'Alger"))
		Expect(trace.mapOut.Mapping.MappedFields).To(HaveKeyWithValue("cost", "6000 DA"))
		Expect(trace.mapOut.Mapping.UnmappedFields).To(BeEmpty())
		Expect(trace.mapOut.Mapping.MappingCompleted).To(BeTrue())

		Expect(trace.validateOut).ToNot(BeNil())
		Expect(trace.validateOut.Validation.IsValid).To(BeTrue())
		Expect(trace.validateOut.Validation.Errors).To(BeEmpty())
		Expect(trace.validateOut.Validation.Warnings).To(ContainElement("institution low confidence"))

		Expect(trace.audits).To(HaveLen(2))
		Expect(trace.audits[0].Action).To(Equal(domain.ActionFlag))
		Expect(trace.audits[0].NewStatus).To(Equal(domain.ApprovalNeedsReview))
		Expect(trace.audits[1].Action).To(Equal(domain.ActionApprove))
		Expect(*trace.audits[1].Actor).To(Equal("reviewer@apc"))

		Expect(trace.finalizeIn).ToNot(BeNil())
		Expect(trace.finalizeIn.Workflow.Status).To(Equal(domain.ApprovalApproved))
		Expect(trace.finalizeIn.Workflow.FinalData).To(Equal(trace.mapOut.Mapping.MappedFields))

		By("validating persisted side effects")
		store.mu.Lock()
		rec, ok := store.docs[documentID]
		reviewItem, inReview := store.reviews[documentID]
		steps := append([]domain.StepLogEntry(nil), store.stepLog[documentID]...)
		store.mu.Unlock()

		Expect(ok).To(BeTrue())
		Expect(rec.Status).To(Equal(domain.StatusApproved))
		Expect(rec.DedupeKey).To(Equal("procedure:délivrance du passeport biométrique:wilaya d'alger"))
		Expect(string(rec.FinalJSON)).To(ContainSubstring(`"status":"approved"`))
		Expect(inReview).To(BeTrue())
		Expect(reviewItem.Status).To(Equal("APPROVED"))
		Expect(reviewItem.FormType).To(Equal(domain.FormProcedure))
		Expect(steps).To(HaveLen(3))
		Expect(steps[0].Step).To(Equal(domain.StepExtraction))
		Expect(steps[1].Step).To(Equal(domain.StepMapping))
		Expect(steps[2].Step).To(Equal(domain.StepValidation))
	})
})
