package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound        = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation      = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal        = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrStaging         = NewError("STAGING_ERROR", "message already staged or not stageable", http.StatusConflict)
	ErrConflict        = NewError("COMMIT_CONFLICT", "uniqueness violation at commit time", http.StatusConflict)
	ErrCorruptSnapshot = NewError("CORRUPT_SNAPSHOT", "snapshot checksum mismatch", http.StatusInternalServerError)
	ErrMalformedRecord = NewError("MALFORMED_RECORD", "record is missing all semantic fields", http.StatusUnprocessableEntity)
	ErrBatchNotActive  = NewError("BATCH_NOT_ACTIVE", "batch is not in started state", http.StatusConflict)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether repeating the same call may succeed. A commit
// conflict is deterministic for the batch that hit it and only resolves
// through a new batch; a corrupt snapshot never resolves.
func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	switch e.Code {
	case ErrCorruptSnapshot.Code, ErrValidation.Code, ErrNotFound.Code,
		ErrMalformedRecord.Code, ErrConflict.Code:
		return false
	}
	return true
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return e.Code == ErrCorruptSnapshot.Code || e.Code == ErrValidation.Code || e.Code == ErrNotFound.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

// WithDetail returns a copy with the detail added; the receiver, typically a
// package-level sentinel, is never mutated.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	err := *e
	err.Details = details
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

func IsStaging(err error) bool {
	return hasCode(err, ErrStaging.Code)
}

func IsConflict(err error) bool {
	return hasCode(err, ErrConflict.Code)
}

func IsCorruptSnapshot(err error) bool {
	return hasCode(err, ErrCorruptSnapshot.Code)
}

func IsMalformedRecord(err error) bool {
	return hasCode(err, ErrMalformedRecord.Code)
}

func IsBatchNotActive(err error) bool {
	return hasCode(err, ErrBatchNotActive.Code)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
