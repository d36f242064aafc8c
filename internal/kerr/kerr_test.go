package kerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := New(CodeIntegrity, "envelope tamper detected", nil)
	assert.Equal(t, "INTEGRITY_ERROR: envelope tamper detected", err.Error())
}

func TestErrorWithCause(t *testing.T) {
	cause := errors.New("hmac mismatch")
	err := New(CodeIntegrity, "envelope tamper detected", cause)
	assert.Contains(t, err.Error(), "caused by: hmac mismatch")
	assert.Equal(t, cause, err.Unwrap())
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := New(CodeVerification, "signature did not verify", nil)
	require.True(t, errors.Is(err, ErrVerification))
	require.False(t, errors.Is(err, ErrIntegrity))
}
