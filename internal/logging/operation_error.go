package logging

import (
	"errors"
	"strings"
)

// OperationError records which step of a request failed, and for which
// organ when the step is model specific.
type OperationError struct {
	Operation string
	Organ     string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Operation)
	if e.Organ != "" {
		b.WriteString("[" + e.Organ + "]")
	}
	if e.RequestID != "" {
		b.WriteString(" (request_id=" + e.RequestID + ")")
	}
	b.WriteString(": " + e.Err.Error())
	return b.String()
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the failing operation. A nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	return NewOrganError(operation, "", requestID, err)
}

// NewOrganError is NewOperationError for a step bound to one organ's model.
func NewOrganError(operation, organ, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, Organ: organ, RequestID: requestID, Err: err}
}

// Cause strips every OperationError layer from err, leaving the message
// that is safe to show to API clients.
func Cause(err error) error {
	for {
		var opErr *OperationError
		if !errors.As(err, &opErr) || opErr.Err == nil {
			return err
		}
		err = opErr.Err
	}
}
