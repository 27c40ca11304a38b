package awsclient

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "test"}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "NoSuchEntity", ErrorCode(apiError("NoSuchEntity")))
	assert.Equal(t, "", ErrorCode(errors.New("plain error")))
	assert.Equal(t, "", ErrorCode(nil))

	// Wrapped API errors are still classified.
	wrapped := fmt.Errorf("failed to probe role: %w", apiError("NoSuchEntity"))
	assert.Equal(t, "NoSuchEntity", ErrorCode(wrapped))
}

func TestIsNotFound(t *testing.T) {
	for _, code := range []string{
		"InvalidInstanceID.NotFound",
		"InvalidGroup.NotFound",
		"InvalidKeyPair.NotFound",
		"NoSuchEntity",
		"RepositoryNotFoundException",
		"ResourceNotFoundException",
	} {
		assert.True(t, IsNotFound(apiError(code)), code)
	}

	// A throttle is emphatically not a does-not-exist answer.
	assert.False(t, IsNotFound(apiError("Throttling")))
	assert.False(t, IsNotFound(errors.New("connection refused")))
	assert.False(t, IsNotFound(nil))
}

func TestIsThrottle(t *testing.T) {
	assert.True(t, IsThrottle(apiError("Throttling")))
	assert.True(t, IsThrottle(apiError("RequestLimitExceeded")))
	assert.False(t, IsThrottle(apiError("AccessDenied")))
	assert.False(t, IsThrottle(nil))
}

func TestIsRejected(t *testing.T) {
	assert.True(t, IsRejected(apiError("AccessDenied")))
	assert.True(t, IsRejected(apiError("UnauthorizedOperation")))
	assert.True(t, IsRejected(apiError("InstanceLimitExceeded")))
	assert.False(t, IsRejected(apiError("Throttling")))
	assert.False(t, IsRejected(apiError("NoSuchEntity")))
}

func TestClassificationsAreDisjoint(t *testing.T) {
	for code := range notFoundCodes {
		assert.False(t, IsThrottle(apiError(code)), code)
		assert.False(t, IsRejected(apiError(code)), code)
	}
	for code := range throttleCodes {
		assert.False(t, IsRejected(apiError(code)), code)
	}
}

func TestRegistryHost(t *testing.T) {
	assert.Equal(t,
		"123456789012.dkr.ecr.us-east-1.amazonaws.com",
		RegistryHost("123456789012", "us-east-1"))
}
