package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreconditionMissingNamesRemediation(t *testing.T) {
	err := &PreconditionMissing{
		Resource: "instance/k8s-master",
		Missing:  "instance-profile/k8s-node-profile",
		Stage:    1,
	}
	assert.Contains(t, err.Error(), "kubeforge up --from-stage 1")
	assert.Contains(t, err.Error(), "instance/k8s-master")
}

func TestProbeFailedWrapsCause(t *testing.T) {
	cause := errors.New("throttled")
	err := &ProbeFailed{Resource: "iam-role/r", Attempts: 5, Err: cause}
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "5 attempts")
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(&ProviderRejected{Resource: "r", Code: "AccessDenied"}))
	assert.True(t, IsFatal(&PreconditionMissing{Resource: "r"}))
	assert.False(t, IsFatal(&PropagationTimeout{Resource: "r", Waited: time.Minute}))
	assert.False(t, IsFatal(&ProbeFailed{Resource: "r"}))
	assert.False(t, IsFatal(errors.New("ordinary")))
	assert.False(t, IsFatal(nil))

	// Wrapped fatals stay fatal.
	wrapped := fmt.Errorf("stage 2: %w", &ProviderRejected{Resource: "r"})
	assert.True(t, IsFatal(wrapped))
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsProbeFailure(&ProbeFailed{Resource: "r"}))
	assert.False(t, IsProbeFailure(&PropagationTimeout{Resource: "r"}))

	assert.True(t, IsTimeout(&PropagationTimeout{Resource: "r"}))
	assert.False(t, IsTimeout(&ProbeFailed{Resource: "r"}))
}
