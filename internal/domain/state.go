package domain

type DocumentStatus string

const (
	StatusReceived    DocumentStatus = "RECEIVED"
	StatusExtracted   DocumentStatus = "EXTRACTED"
	StatusMapped      DocumentStatus = "MAPPED"
	StatusValidated   DocumentStatus = "VALIDATED"
	StatusPending     DocumentStatus = "PENDING_APPROVAL"
	StatusNeedsReview DocumentStatus = "NEEDS_REVIEW"
	StatusApproved    DocumentStatus = "APPROVED"
	StatusRejected    DocumentStatus = "REJECTED"
	StatusFailed      DocumentStatus = "FAILED"
)

type ApprovalStatus string

const (
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
	ApprovalNeedsReview ApprovalStatus = "needs_review"
)

// Terminal reports whether no further transition may leave s.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// DocumentStatus maps an approval status onto the persisted document status.
func (s ApprovalStatus) DocumentStatus() DocumentStatus {
	switch s {
	case ApprovalApproved:
		return StatusApproved
	case ApprovalRejected:
		return StatusRejected
	case ApprovalNeedsReview:
		return StatusNeedsReview
	default:
		return StatusPending
	}
}

type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionReject  ApprovalAction = "reject"
	ActionFlag    ApprovalAction = "flag"
	ActionReopen  ApprovalAction = "reopen"
	ActionCorrect ApprovalAction = "correct"
)

type FieldStatus string

const (
	FieldAutomatic FieldStatus = "automatic"
	FieldSuggested FieldStatus = "suggested"
	FieldEdited    FieldStatus = "edited"
)

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogError LogLevel = "error"
)
