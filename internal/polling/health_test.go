package polling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceHealthStartsEnabled(t *testing.T) {
	h := newDeviceHealth(3)
	assert.Equal(t, HealthEnabled, h.State())
	assert.True(t, h.ShouldPoll())
}

func TestDeviceHealthStaysEnabledBelowRetryLimit(t *testing.T) {
	h := newDeviceHealth(3)
	h.RecordFailure()
	h.RecordFailure()
	assert.Equal(t, HealthEnabled, h.State(), "consecutive_failures is still under retry_limit")
	assert.True(t, h.ShouldPoll())
}

func TestDeviceHealthFailureEntersRetryAtLimit(t *testing.T) {
	h := newDeviceHealth(3)
	h.RecordFailure()
	h.RecordFailure()
	h.RecordFailure()
	assert.Equal(t, HealthAutoDisabledRetry, h.State())
	assert.False(t, h.ShouldPoll(), "should not poll immediately after entering retry, backoff applies")
}

func TestDeviceHealthSuccessClearsRetry(t *testing.T) {
	h := newDeviceHealth(3)
	h.RecordFailure()
	h.RecordFailure()
	h.RecordFailure()
	h.RecordSuccess()
	assert.Equal(t, HealthEnabled, h.State())
	assert.True(t, h.ShouldPoll())
	assert.Equal(t, 0, h.ConsecutiveFailures())
}

// TestDeviceHealthScriptedRecovery mirrors the worked example: retry_count=3
// hits AutoDisabledRetry after 3 consecutive failures, then the escalating
// backoff restarts at backoff(0)=1s for the first recovery probe.
func TestDeviceHealthScriptedRecovery(t *testing.T) {
	h := newDeviceHealth(3)
	h.RecordFailure()
	h.RecordFailure()
	h.RecordFailure()
	assert.Equal(t, HealthAutoDisabledRetry, h.State())
	assert.Equal(t, 0, h.RetryCount())
	assert.Equal(t, backoff(0), h.nextRetryDelay())

	h.RecordFailure() // first failed recovery probe
	assert.Equal(t, 1, h.RetryCount())
	assert.Equal(t, backoff(1), h.nextRetryDelay())

	h.RecordSuccess()
	assert.Equal(t, HealthEnabled, h.State())
	assert.Equal(t, 0, h.ConsecutiveFailures())
}

func TestDeviceHealthReachesTimeoutCeiling(t *testing.T) {
	h := newDeviceHealth(1)
	h.timeoutCeiling = 3
	h.RecordFailure() // consecutiveFailures=1 >= retryLimit(1): enters retry, probeCount stays 0
	h.RecordFailure() // failed probe: probeCount 0->1
	h.RecordFailure() // probeCount 1->2
	h.RecordFailure() // probeCount 2->3: reaches timeoutCeiling
	assert.Equal(t, HealthAutoDisabledTimeout, h.State())
	assert.False(t, h.ShouldPoll())
}

func TestDeviceHealthManualDisableOverridesRetry(t *testing.T) {
	h := newDeviceHealth(1)
	h.SetManualDisabled(true)
	assert.Equal(t, HealthManualDisabled, h.State())
	assert.False(t, h.ShouldPoll())

	h.RecordSuccess() // a stray success must not clear a manual disable
	assert.Equal(t, HealthManualDisabled, h.State())

	h.SetManualDisabled(false)
	assert.Equal(t, HealthEnabled, h.State())
}

func TestDeviceHealthDefaultRetryLimitWhenUnset(t *testing.T) {
	h := newDeviceHealth(0)
	assert.Equal(t, 1, h.retryLimit)
	assert.Equal(t, defaultTimeoutCeiling, h.timeoutCeiling)
}
