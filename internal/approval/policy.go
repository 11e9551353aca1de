package approval

import "legal-intake-orchestrator/internal/domain"

const DefaultAutoApproveConfidence = 0.95

type Policy struct {
	AutoApprove           bool
	AutoApproveConfidence float64
}

// Route picks the system action applied right after validation. ok is false
// when the document should wait in pending for a human.
func (p Policy) Route(v domain.ValidationData, confidence float64) (action domain.ApprovalAction, comment string, ok bool) {
	if reason, flag := NeedsReview(v); flag {
		return domain.ActionFlag, reason, true
	}
	threshold := p.AutoApproveConfidence
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultAutoApproveConfidence
	}
	if p.AutoApprove && confidence >= threshold {
		return domain.ActionApprove, "auto-approved", true
	}
	return "", "", false
}

// NeedsReview reports whether v has to go to a reviewer and why. Invalid
// results and results with warnings always do.
func NeedsReview(v domain.ValidationData) (reason string, ok bool) {
	if !v.IsValid {
		return "validation failed", true
	}
	if len(v.Warnings) > 0 {
		return "validation warnings require review", true
	}
	return "", false
}
