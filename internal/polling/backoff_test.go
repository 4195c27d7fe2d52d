package polling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUntilCeiling(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 32*time.Second, backoff(5))
	assert.Equal(t, backoffCeiling, backoff(6))
	assert.Equal(t, backoffCeiling, backoff(20))
}

func TestBackoffNegativeClampsToZero(t *testing.T) {
	assert.Equal(t, backoff(0), backoff(-5))
}
