package awsclient

import (
	"errors"

	"github.com/aws/smithy-go"
)

// notFoundCodes are the per-service API error codes that mean the resource
// does not exist. Only these map probe errors to NotFound; anything else is
// a probe failure and must surface.
var notFoundCodes = map[string]struct{}{
	"InvalidInstanceID.NotFound":  {},
	"InvalidGroup.NotFound":       {},
	"InvalidKeyPair.NotFound":     {},
	"NoSuchEntity":                {},
	"RepositoryNotFoundException": {},
	"ResourceNotFoundException":   {},
	"InvalidAMIID.NotFound":       {},
}

// throttleCodes mean the provider is rate limiting; the call is retryable.
var throttleCodes = map[string]struct{}{
	"Throttling":                  {},
	"ThrottlingException":         {},
	"RequestLimitExceeded":        {},
	"TooManyRequestsException":    {},
	"ServiceUnavailable":          {},
	"ServiceUnavailableException": {},
	"InternalError":               {},
	"InternalFailure":             {},
	"RequestTimeout":              {},
}

// rejectedCodes mean the provider refused the request outright; retrying is
// pointless and the pass must abort.
var rejectedCodes = map[string]struct{}{
	"AccessDenied":            {},
	"AccessDeniedException":   {},
	"UnauthorizedOperation":   {},
	"UnauthorizedAccess":      {},
	"OptInRequired":           {},
	"LimitExceeded":           {},
	"LimitExceededException":  {},
	"InstanceLimitExceeded":   {},
	"ValidationError":         {},
	"ValidationException":     {},
	"InvalidParameterValue":   {},
	"MalformedPolicyDocument": {},
}

// ErrorCode extracts the API error code, or "" for non-API errors.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNotFound reports whether the error is a definitive does-not-exist answer
// from the provider.
func IsNotFound(err error) bool {
	_, ok := notFoundCodes[ErrorCode(err)]
	return ok
}

// IsThrottle reports whether the error is rate limiting or a transient
// server-side failure.
func IsThrottle(err error) bool {
	_, ok := throttleCodes[ErrorCode(err)]
	return ok
}

// IsRejected reports whether the provider refused the request with a
// permission, quota, or validation error.
func IsRejected(err error) bool {
	_, ok := rejectedCodes[ErrorCode(err)]
	return ok
}
