package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinOutcome(t *testing.T) {
	assert.NoError(t, joinOutcome(2, nil))

	err := joinOutcome(1, []string{
		"retail-worker-2: ssh: connect to host 54.1.2.3 port 22: Connection refused",
	})
	require.Error(t, err, "partial joins must fail the command for scripted callers")
	assert.Contains(t, err.Error(), "retail-worker-2")
	assert.Contains(t, err.Error(), "1 failed")
}
