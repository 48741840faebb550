package tabular

import (
	"fmt"

	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/pulse/async"
)

// Run-level failures. Each one ends the run and hands it to the retry scheduler.
var (
	// ErrFileAccess: the staged file is absent, unreadable or a directory.
	ErrFileAccess = errors.New("file access error")

	// ErrHeaderValidation: required header columns are missing.
	ErrHeaderValidation = errors.New("header validation error")

	// ErrColumnDiscovery: a relationship file has no target columns.
	ErrColumnDiscovery = errors.New("no relationship columns found")

	// ErrThresholdExceeded: row errors went past the error budget.
	ErrThresholdExceeded = errors.New("error threshold exceeded")

	// ErrTransientInfra: staging, download or store connectivity failed.
	ErrTransientInfra = errors.New("transient infrastructure error")

	// ErrParse: the file is not well-formed CSV.
	ErrParse = errors.New("malformed tabular file")
)

func init() {
	async.RegisterErrorClass(ErrFileAccess, async.ErrorCodeFileNotFound, false)
	async.RegisterErrorClass(ErrHeaderValidation, async.ErrorCodeValidationError, false)
	async.RegisterErrorClass(ErrColumnDiscovery, async.ErrorCodeValidationError, false)
	async.RegisterErrorClass(ErrThresholdExceeded, async.ErrorCodeThreshold, false)
	async.RegisterErrorClass(ErrTransientInfra, async.ErrorCodeTransient, true)
	async.RegisterErrorClass(ErrParse, async.ErrorCodeParseError, false)
}

// RowError is one row's failure. Ordinal is the 1-based data row number.
type RowError struct {
	Ordinal int
	Err     error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("Row %d: %s", e.Ordinal, e.Err.Error())
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// thresholdError builds the run-ending error for a breached budget.
func thresholdError(errorCount, budget int) error {
	err := errors.Mark(
		errors.Newf("too many errors encountered (%d), stopping import", errorCount),
		ErrThresholdExceeded)
	return errors.WithDetail(err, fmt.Sprintf("Error budget: %d", budget))
}
