package polling

import (
	"sync"
	"time"
)

// HealthState is the device lifecycle state from spec §5: Enabled polls
// normally; AutoDisabledRetry is polling on a backoff schedule after
// transient failures; AutoDisabledTimeout is reached once the in-retry
// probe count hits its ceiling (10 by default) and the device stops being
// polled until an operator re-enables it; ManualDisabled is an explicit
// operator override that polling never clears on its own.
type HealthState string

const (
	HealthEnabled             HealthState = "enabled"
	HealthAutoDisabledRetry   HealthState = "auto_disabled_retry"
	HealthAutoDisabledTimeout HealthState = "auto_disabled_timeout"
	HealthManualDisabled      HealthState = "manual_disabled"
)

// defaultTimeoutCeiling is the number of failed recovery probes an
// AutoDisabledRetry device gets before it gives up and moves to
// AutoDisabledTimeout. It is independent of the device's own retry_count
// (which only sets the entry threshold below).
const defaultTimeoutCeiling = 10

// deviceHealth tracks one device's poll outcomes and derives its
// HealthState from two separate thresholds (spec §4.4): retryLimit gates
// Enabled → AutoDisabledRetry once consecutiveFailures reaches it, and
// timeoutCeiling separately gates AutoDisabledRetry → AutoDisabledTimeout
// once probeCount — the failed-recovery-attempt count since entering
// AutoDisabledRetry — reaches it. probeCount restarts at zero on entry so
// the escalating backoff schedule (backoff(0)=1s, backoff(1)=2s, ...)
// always begins at the first probe, matching the worked recovery example.
type deviceHealth struct {
	mu sync.Mutex

	retryLimit     int
	timeoutCeiling int

	consecutiveFailures int
	probeCount          int
	manual              bool
	timedOut            bool
	nextAllowed         time.Time

	disableDetail string

	successCount  uint64
	totalCount    uint64
	lastSuccessAt time.Time
	avgResponseMs float64
}

func newDeviceHealth(retryLimit int) *deviceHealth {
	if retryLimit <= 0 {
		retryLimit = 1
	}
	return &deviceHealth{retryLimit: retryLimit, timeoutCeiling: defaultTimeoutCeiling}
}

// RecordSuccess clears retry/backoff state and, unless the device is
// manually disabled, returns it to Enabled.
func (h *deviceHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
	h.probeCount = 0
	h.timedOut = false
	h.nextAllowed = time.Time{}
	h.successCount++
	h.totalCount++
	h.lastSuccessAt = time.Now()
}

// RecordFailure bumps consecutiveFailures and, once it reaches retryLimit,
// starts (or continues) the escalating backoff via probeCount: nextAllowed
// becomes min(BASE*2^probeCount, CEILING) from now, and probeCount itself
// increments with every failure recorded while already past retryLimit.
// Once probeCount reaches timeoutCeiling the device moves to
// AutoDisabledTimeout and further polls are skipped until an operator
// intervenes or the recovery probe scheduler gives it one unattended try.
func (h *deviceHealth) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	h.totalCount++
	if h.consecutiveFailures < h.retryLimit {
		return
	}
	if h.consecutiveFailures > h.retryLimit {
		h.probeCount++
	}
	h.nextAllowed = time.Now().Add(backoff(h.probeCount))
	if h.probeCount >= h.timeoutCeiling {
		h.timedOut = true
	}
}

// responseTimeAlpha weights the exponential moving average of the
// per-batch median response latency exposed on status RPCs; small enough
// that one slow batch doesn't dominate the reported average.
const responseTimeAlpha = 0.2

// RecordResponseTime folds one poll batch's median successful round-trip
// into the device's avg_response_ms figure. Callers compute the median
// themselves (see medianDuration in engine.go) so a batch with one slow
// failed read among several fast successes doesn't skew the average.
func (h *deviceHealth) RecordResponseTime(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ms := float64(d.Microseconds()) / 1000.0
	if h.avgResponseMs == 0 {
		h.avgResponseMs = ms
		return
	}
	h.avgResponseMs = responseTimeAlpha*ms + (1-responseTimeAlpha)*h.avgResponseMs
}

// SuccessRate is successCount/totalCount across the device's lifetime,
// since ResetMetrics was last called if ever. Returns 1 before any poll
// has completed, matching an unproven-but-not-yet-failing device.
func (h *deviceHealth) SuccessRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.totalCount == 0 {
		return 1
	}
	return float64(h.successCount) / float64(h.totalCount)
}

func (h *deviceHealth) AvgResponseMs() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.avgResponseMs
}

func (h *deviceHealth) LastSuccessAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSuccessAt
}

func (h *deviceHealth) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}

// ResetMetrics implements enable_device's clear_metrics option: success
// rate and latency history start fresh, but the current HealthState is
// untouched (that's SetManualDisabled's job).
func (h *deviceHealth) ResetMetrics() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successCount = 0
	h.totalCount = 0
	h.avgResponseMs = 0
	h.lastSuccessAt = time.Time{}
}

func (h *deviceHealth) SetDisableDetail(detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disableDetail = detail
}

func (h *deviceHealth) DisableDetail() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disableDetail
}

// ShouldPoll reports whether the PollingEngine should attempt a read this
// cycle: manual disable and timeout both veto unconditionally; otherwise
// the escalating backoff deadline governs timing.
func (h *deviceHealth) ShouldPoll() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.manual || h.timedOut {
		return false
	}
	return time.Now().After(h.nextAllowed)
}

func (h *deviceHealth) SetManualDisabled(disabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.manual = disabled
	if !disabled {
		h.consecutiveFailures = 0
		h.probeCount = 0
		h.timedOut = false
		h.nextAllowed = time.Time{}
		h.disableDetail = ""
	}
}

// ResetTimeout clears AutoDisabledTimeout, letting the device resume
// polling from a clean retry count. Used by the control API's
// enable_device operation and by an unattended recovery probe.
func (h *deviceHealth) ResetTimeout() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timedOut = false
	h.consecutiveFailures = 0
	h.probeCount = 0
	h.nextAllowed = time.Time{}
}

func (h *deviceHealth) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.manual:
		return HealthManualDisabled
	case h.timedOut:
		return HealthAutoDisabledTimeout
	case h.consecutiveFailures >= h.retryLimit:
		return HealthAutoDisabledRetry
	default:
		return HealthEnabled
	}
}

// RetryCount is the failed-recovery-probe count since the device entered
// AutoDisabledRetry — the number status RPCs and the recovery probe
// scheduler reason about, distinct from ConsecutiveFailures.
func (h *deviceHealth) RetryCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probeCount
}

// nextRetryDelay exposes the current backoff for status reporting.
func (h *deviceHealth) nextRetryDelay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return backoff(h.probeCount)
}
