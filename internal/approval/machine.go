// Package approval implements the sign-off state machine that follows
// validation and the policy that picks a document's initial disposition.
package approval

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"legal-intake-orchestrator/internal/domain"
)

// Decision is one requested approval action.
type Decision struct {
	Action  domain.ApprovalAction
	Actor   *string
	Comment string
	At      time.Time
}

type transition struct {
	from   domain.ApprovalStatus
	action domain.ApprovalAction
}

var transitions = map[transition]domain.ApprovalStatus{
	{domain.ApprovalPending, domain.ActionApprove}:     domain.ApprovalApproved,
	{domain.ApprovalPending, domain.ActionReject}:      domain.ApprovalRejected,
	{domain.ApprovalPending, domain.ActionFlag}:        domain.ApprovalNeedsReview,
	{domain.ApprovalPending, domain.ActionCorrect}:     domain.ApprovalPending,
	{domain.ApprovalNeedsReview, domain.ActionApprove}: domain.ApprovalApproved,
	{domain.ApprovalNeedsReview, domain.ActionReject}:  domain.ApprovalRejected,
	{domain.ApprovalNeedsReview, domain.ActionReopen}:  domain.ApprovalPending,
	{domain.ApprovalNeedsReview, domain.ActionCorrect}: domain.ApprovalNeedsReview,
}

// Next returns the status reached by applying action to from.
func Next(from domain.ApprovalStatus, action domain.ApprovalAction) (domain.ApprovalStatus, error) {
	if from.Terminal() {
		return from, fmt.Errorf("%w: %s is terminal", domain.ErrIllegalTransition, from)
	}
	to, ok := transitions[transition{from, action}]
	if !ok {
		return from, fmt.Errorf("%w: %s from %s", domain.ErrIllegalTransition, action, from)
	}
	return to, nil
}

func ParseAction(v string) (domain.ApprovalAction, bool) {
	a := domain.ApprovalAction(strings.ToLower(strings.TrimSpace(v)))
	switch a {
	case domain.ActionApprove, domain.ActionReject, domain.ActionFlag, domain.ActionReopen, domain.ActionCorrect:
		return a, true
	default:
		return "", false
	}
}

// Machine tracks the approval status of one document and the audit trail of
// every transition applied to it.
type Machine struct {
	documentID string
	data       domain.WorkflowData
	audit      []domain.AuditEntry
}

// NewMachine starts a document in pending with the given final form data.
func NewMachine(documentID string, formType domain.FormType, finalData map[string]string) *Machine {
	return &Machine{
		documentID: documentID,
		data: domain.WorkflowData{
			Status:    domain.ApprovalPending,
			FormType:  formType,
			FinalData: maps.Clone(finalData),
		},
	}
}

func (m *Machine) Status() domain.ApprovalStatus { return m.data.Status }

// Data returns a copy of the current disposition.
func (m *Machine) Data() domain.WorkflowData {
	d := m.data
	d.FinalData = maps.Clone(m.data.FinalData)
	return d
}

func (m *Machine) Audit() []domain.AuditEntry {
	return append([]domain.AuditEntry(nil), m.audit...)
}

// SetFinalData replaces the form data that an approval will sign off on.
func (m *Machine) SetFinalData(finalData map[string]string) {
	m.data.FinalData = maps.Clone(finalData)
}

// Apply performs d and returns the audit entry it produced. Illegal actions
// leave the machine unchanged and return domain.ErrIllegalTransition.
func (m *Machine) Apply(d Decision) (domain.AuditEntry, error) {
	prev := m.data.Status
	next, err := Next(prev, d.Action)
	if err != nil {
		return domain.AuditEntry{}, err
	}

	m.data.Status = next
	if d.Comment != "" {
		m.data.Comments = d.Comment
	}
	switch next {
	case domain.ApprovalApproved, domain.ApprovalRejected:
		at := d.At
		m.data.Approver = d.Actor
		m.data.ApprovedAt = &at
	}

	entry := domain.AuditEntry{
		DocumentID:     m.documentID,
		Action:         d.Action,
		Actor:          d.Actor,
		PreviousStatus: prev,
		NewStatus:      next,
		Comment:        d.Comment,
		At:             d.At,
	}
	m.audit = append(m.audit, entry)
	return entry, nil
}
