package gps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPositionRequiresAtLeast2DFix(t *testing.T) {
	assert.False(t, Fix{Quality: FixNone}.HasPosition())
	assert.True(t, Fix{Quality: Fix2D}.HasPosition())
	assert.True(t, Fix{Quality: Fix3D}.HasPosition())
}
