//go:build linux

package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMmapCodeSegment_roundTrip(t *testing.T) {
	seg, err := MmapCodeSegment(4096)
	require.NoError(t, err)
	defer func() { require.NoError(t, seg.Unmap()) }()

	copy(seg.Bytes(), []byte{0x90, 0x90, 0xC3}) // nop; nop; ret
	require.Equal(t, byte(0xC3), seg.Bytes()[2])

	require.NoError(t, seg.Freeze())
	require.NoError(t, seg.Unfreeze())
}

func TestMmapCodeSegment_panicsOnZeroSize(t *testing.T) {
	require.Panics(t, func() {
		_, _ = MmapCodeSegment(0)
	})
}

func TestMmapCodeSegment_doubleUnmapFails(t *testing.T) {
	seg, err := MmapCodeSegment(4096)
	require.NoError(t, err)
	require.NoError(t, seg.Unmap())
	require.Error(t, seg.Unmap())
}

func TestExtender_growsAndCopies(t *testing.T) {
	var seg *CodeSegment
	ext := Extender(&seg)

	first := ext(nil, 64)
	require.NotNil(t, first)
	copy(first, []byte("hello"))

	grown := ext(first[:5], 4096)
	require.NotNil(t, grown)
	require.Equal(t, []byte("hello"), grown[:5])
	require.NoError(t, seg.Unmap())
}
