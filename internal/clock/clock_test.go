package clock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextSerialMonotonic(t *testing.T) {
	c := New()
	prev := c.NextSerial()
	for range 1000 {
		next := c.NextSerial()
		require.True(t, SerialGE(next, prev), "serial %d should be >= %d", next, prev)
		require.NotEqual(t, prev, next)
		prev = next
	}
}

func TestSerialGEWraparound(t *testing.T) {
	require.True(t, SerialGE(5, 3))
	require.False(t, SerialGE(3, 5))
	// wraparound: a small value just after wrapping past 2^32 is still "newer"
	// than a value near the top of the space.
	require.True(t, SerialGE(2, ^uint32(0)-1))
	require.False(t, SerialGE(^uint32(0)-1, 2))
}

func TestWallNowIncreases(t *testing.T) {
	c := New()
	a := c.WallNow()
	b := c.WallNow()
	require.True(t, b >= a)
}
