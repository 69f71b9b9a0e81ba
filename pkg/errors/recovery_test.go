package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverPanicNil(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))
}

func TestRecoverPanicConvertsValues(t *testing.T) {
	err := RecoverPanic("unexpected state")
	require.Error(t, err)

	appErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.True(t, appErr.IsFatal())
	assert.Contains(t, appErr.Cause.Error(), "unexpected state")
	assert.NotEmpty(t, appErr.Details["stack_trace"])

	cause := fmt.Errorf("original failure")
	err = RecoverPanic(cause)
	appErr, ok = err.(*Error)
	require.True(t, ok)
	assert.Equal(t, cause, appErr.Cause)
}

func TestRecoverPanicWithCallback(t *testing.T) {
	var seen error
	err := RecoverPanicWithCallback("boom", func(e error) { seen = e })
	require.Error(t, err)
	assert.Equal(t, err, seen)

	assert.Nil(t, RecoverPanicWithCallback(nil, func(error) {
		t.Fatal("callback must not run without a panic value")
	}))
}
