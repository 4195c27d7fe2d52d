package polling

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeSchedulerFiresAfterInterval(t *testing.T) {
	s := newProbeScheduler()
	var fired atomic.Bool
	s.timers["dev"] = time.AfterFunc(10*time.Millisecond, func() { fired.Store(true) })

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestProbeSchedulerCancelPreventsFire(t *testing.T) {
	s := newProbeScheduler()
	var fired atomic.Bool
	s.SchedulePulse("dev", func() { fired.Store(true) })
	s.Cancel("dev")

	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestProbeSchedulerReschedulePreemptsPrior(t *testing.T) {
	s := newProbeScheduler()
	var firstFired, secondFired atomic.Bool
	s.timers["dev"] = time.AfterFunc(5*time.Millisecond, func() { firstFired.Store(true) })
	s.SchedulePulse("dev", func() { secondFired.Store(true) })

	time.Sleep(20 * time.Millisecond)
	assert.False(t, firstFired.Load(), "replaced timer must not fire")
	assert.False(t, secondFired.Load(), "replacement waits the full probeInterval")
	assert.True(t, s.timers["dev"].Stop(), "replacement pulse is still pending")
}
