package smallfloat_test

import (
	"testing"

	"github.com/smallfloat/offsetalloc/smallfloat"
	"github.com/stretchr/testify/require"
)

func TestReferenceCases(t *testing.T) {
	cases := []struct {
		size      uint32
		roundUp   uint8
		roundDown uint8
	}{
		{17, 17, 16},
		{118, 39, 38},
		{1024, 64, 64},
		{65536, 112, 112},
		{529445, 137, 136},
		{1048575, 144, 143},
	}

	for _, c := range cases {
		require.Equal(t, c.roundUp, smallfloat.EncodeRoundUp(c.size), "round up %d", c.size)
		require.Equal(t, c.roundDown, smallfloat.EncodeRoundDown(c.size), "round down %d", c.size)
	}
}

func TestPrecisePrefix(t *testing.T) {
	for size := uint32(0); size <= 16; size++ {
		require.Equal(t, uint8(size), smallfloat.EncodeRoundUp(size), "round up %d", size)
		require.Equal(t, uint8(size), smallfloat.EncodeRoundDown(size), "round down %d", size)
	}
}

func TestDenormalRangeIsIdentity(t *testing.T) {
	for size := uint32(0); size < 8; size++ {
		require.Equal(t, uint8(size), smallfloat.EncodeRoundUp(size))
		require.Equal(t, uint8(size), smallfloat.EncodeRoundDown(size))
		require.Equal(t, size, smallfloat.Decode(uint8(size)))
	}
}

func TestRoundTrip(t *testing.T) {
	// Bins 240 and above have a smallest member of 2^32 or more, which does
	// not fit in a uint32, so the round trip is checked for bins 0..239.
	for bin := 0; bin < 240; bin++ {
		size := smallfloat.Decode(uint8(bin))
		require.Equal(t, uint8(bin), smallfloat.EncodeRoundUp(size), "round up decode(%d)=%d", bin, size)
		require.Equal(t, uint8(bin), smallfloat.EncodeRoundDown(size), "round down decode(%d)=%d", bin, size)
	}
}

func TestMonotonicity(t *testing.T) {
	var prevUp, prevDown uint8
	for size := uint32(0); size < 1<<20; size += 37 {
		up := smallfloat.EncodeRoundUp(size)
		down := smallfloat.EncodeRoundDown(size)
		require.GreaterOrEqual(t, up, prevUp)
		require.GreaterOrEqual(t, down, prevDown)
		prevUp, prevDown = up, down
	}
}
