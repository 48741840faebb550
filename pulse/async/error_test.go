package async

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/dailyix/errors"
)

var errTestSentinel = errors.New("test sentinel")

func init() {
	RegisterErrorClass(errTestSentinel, ErrorCodeParseError, false)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  ErrorCode
		retryable bool
	}{
		{"registered sentinel", errors.Wrap(errTestSentinel, "row 3"), ErrorCodeParseError, false},
		{"missing file", errors.Wrap(os.ErrNotExist, "open dailies.csv"), ErrorCodeFileNotFound, false},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "fetch"), ErrorCodeTimeout, true},
		{"cancelled", context.Canceled, ErrorCodeCancelled, true},
		{"invalid request", errors.NewInvalidRequestError("bad import type"), ErrorCodeValidationError, false},
		{"anything else", errors.New("disk on fire"), ErrorCodeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := ClassifyError("ixgest.dailies", tt.err)
			assert.Equal(t, tt.wantCode, ec.Code)
			assert.Equal(t, tt.retryable, ec.Retryable)
			assert.Equal(t, "ixgest.dailies", ec.Stage)
			assert.Equal(t, tt.err.Error(), ec.Message)
		})
	}

	assert.Equal(t, ErrorCodeUnknown, ClassifyError("x", nil).Code)
}
