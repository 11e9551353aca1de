package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRecognitionFailed  = errors.New("text recognition failed")
	ErrInsufficientText   = errors.New("recognized text too short")
	ErrEntityExtraction   = errors.New("entity extraction failed")
	ErrUnknownFormType    = errors.New("unknown form type")
	ErrIllegalTransition  = errors.New("illegal approval transition")
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// CapabilityErrorType is the Temporal application error type used for
// recoverable capability failures.
const CapabilityErrorType = "RecoverableCapabilityError"

// CapabilityError reports a failed call to an external recognition or entity
// extraction capability. The step it belongs to is not completed and may be
// retried.
type CapabilityError struct {
	Step    Step
	Op      string
	Message string
	Err     error
}

func (e *CapabilityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Step, e.Op, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Step, e.Op, e.Message, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

func NewCapabilityError(step Step, op string, message string, err error) *CapabilityError {
	return &CapabilityError{Step: step, Op: op, Message: message, Err: err}
}

func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}
