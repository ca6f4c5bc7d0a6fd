package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUnits(t *testing.T) {
	assert.InDelta(t, 1.0, TokenUnits("1000000", 6), 1e-9)
	assert.InDelta(t, 0.000001, TokenUnits("1", 6), 1e-12)
	assert.InDelta(t, 2.5, TokenUnits("2500000000000000000", 18), 1e-9)
	assert.Equal(t, 0.0, TokenUnits("not-a-number", 6))
}
