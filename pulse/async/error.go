package async

import (
	"context"
	"database/sql"
	"os"
	"sync"

	"github.com/teranos/dailyix/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeFileNotFound    ErrorCode = "file_not_found"
	ErrorCodeParseError      ErrorCode = "parse_error"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeThreshold       ErrorCode = "threshold_exceeded"
	ErrorCodeTransient       ErrorCode = "transient"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeCancelled       ErrorCode = "cancelled"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Would a later attempt plausibly succeed?
}

type errorClass struct {
	sentinel  error
	code      ErrorCode
	retryable bool
}

var (
	classesMu sync.RWMutex
	classes   []errorClass
)

// RegisterErrorClass teaches ClassifyError about a domain sentinel.
// Domain packages call it from init.
func RegisterErrorClass(sentinel error, code ErrorCode, retryable bool) {
	classesMu.Lock()
	defer classesMu.Unlock()
	classes = append(classes, errorClass{sentinel: sentinel, code: code, retryable: retryable})
}

// ClassifyError categorizes err for logs and metrics.
// Registered sentinels are matched first, then a few standard library errors.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ec := ErrorContext{Stage: stage, Message: err.Error()}

	classesMu.RLock()
	for _, c := range classes {
		if errors.Is(err, c.sentinel) {
			classesMu.RUnlock()
			ec.Code = c.code
			ec.Retryable = c.retryable
			return ec
		}
	}
	classesMu.RUnlock()

	switch {
	case errors.Is(err, context.Canceled):
		ec.Code = ErrorCodeCancelled
		ec.Retryable = true
	case errors.Is(err, context.DeadlineExceeded):
		ec.Code = ErrorCodeTimeout
		ec.Retryable = true
	case errors.Is(err, os.ErrNotExist):
		ec.Code = ErrorCodeFileNotFound
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone):
		ec.Code = ErrorCodeDatabaseError
		ec.Retryable = true
	case errors.Is(err, errors.ErrInvalidRequest):
		ec.Code = ErrorCodeValidationError
	default:
		ec.Code = ErrorCodeUnknown
		ec.Retryable = true
	}
	return ec
}
