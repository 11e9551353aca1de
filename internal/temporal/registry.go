package temporal

import "go.temporal.io/sdk/workflow"

// Registry is satisfied by worker.Worker and the test workflow environment.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivity(a interface{})
}

func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(LegalDocumentWorkflow, workflow.RegisterOptions{Name: LegalDocumentWorkflowName})
	r.RegisterActivity(acts.RecognizeDocumentActivity)
	r.RegisterActivity(acts.MapFieldsActivity)
	r.RegisterActivity(acts.ValidateMappingActivity)
	r.RegisterActivity(acts.AppendAuditActivity)
	r.RegisterActivity(acts.SaveSnapshotActivity)
	r.RegisterActivity(acts.QueueReviewActivity)
	r.RegisterActivity(acts.FinalizeDocumentActivity)
	r.RegisterActivity(acts.FailDocumentActivity)
}
