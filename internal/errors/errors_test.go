package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesRegisteredMessage(t *testing.T) {
	err := New(CodeChannelDisconnected, "")
	assert.Equal(t, "realtime channel disconnected", err.Message())
	assert.True(t, err.Retryable())
	assert.Equal(t, SeverityWarning, err.Severity())
	assert.Equal(t, "[CHANNEL_DISCONNECTED] realtime channel disconnected", err.Error())
}

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	err := fmt.Errorf("outer: %w", Wrap(CodeCatalogUnavailable, cause, "fetch agents"))

	require.True(t, HasCode(err, CodeCatalogUnavailable))
	assert.False(t, HasCode(err, CodeWorkflowNotFound))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeCatalogUnavailable, CodeOf(err))
	assert.True(t, RetryableError(err))
}

func TestNestedCodesAreVisibleThroughIs(t *testing.T) {
	inner := New(CodeNotInitialized, "")
	outer := Wrap(CodePreconditionFailed, inner, "authentication is not ready")

	assert.True(t, HasCode(outer, CodePreconditionFailed))
	assert.True(t, HasCode(outer, CodeNotInitialized))
	assert.Equal(t, CodePreconditionFailed, CodeOf(outer))
}

func TestOverrides(t *testing.T) {
	err := New(CodeRemoteExecutionError, "boom", WithRetryable(true), WithSeverity(SeverityCritical))
	assert.True(t, err.Retryable())
	assert.Equal(t, SeverityCritical, SeverityOf(err))
}

func TestUnregisteredCodeFallsBackToUnknown(t *testing.T) {
	err := New(Code("SOMETHING_ELSE"), "")
	assert.Equal(t, "unknown error", err.Message())
	assert.Equal(t, SeverityCritical, err.Severity())
	assert.Equal(t, CodeUnknown, CodeOf(stdErrors.New("plain")))
}

func TestDescribe(t *testing.T) {
	err := Wrap(CodeCatalogUnavailable, stdErrors.New("HTTP error! status: 503"), "")
	assert.Equal(t, "agent catalog unavailable: HTTP error! status: 503", Describe(err))
	assert.Equal(t, "plain", Describe(stdErrors.New("plain")))
	assert.Equal(t, "", Describe(nil))
}
