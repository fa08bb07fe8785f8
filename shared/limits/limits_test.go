package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenMax(t *testing.T) {
	n := OpenMax()
	assert.Positive(t, n, "OpenMax must always return a usable value")

	// Cached: repeated queries agree.
	assert.Equal(t, n, OpenMax())
}

func TestPathMax(t *testing.T) {
	n := PathMax()
	assert.Positive(t, n, "PathMax must always return a usable value")
	assert.GreaterOrEqual(t, n, 256, "No real system has a tiny path limit")
}
