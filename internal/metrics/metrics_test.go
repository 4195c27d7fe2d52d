package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestQueueDepthGaugeSet(t *testing.T) {
	QueueDepth.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(QueueDepth))
	QueueDepth.Set(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(QueueDepth))
}

func TestReadsTotalCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(ReadsTotal.WithLabelValues("ok"))
	ReadsTotal.WithLabelValues("ok").Inc()
	after := testutil.ToFloat64(ReadsTotal.WithLabelValues("ok"))
	assert.Equal(t, before+1, after)
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	assert.NotNil(t, Handler())
}
