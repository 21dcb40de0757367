package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelPatchObjRel32LinksToDisplacement(t *testing.T) {
	w := newTestWriter()
	fieldPos, err := w.Step(4)
	require.NoError(t, err)
	instrEndPos := w.Size()
	p := NewRelPatch(w, fieldPos, instrEndPos, rel32)
	require.NoError(t, p.LinkToBinaryPos(instrEndPos+10))
	got := int32(w.Bytes()[fieldPos]) | int32(w.Bytes()[fieldPos+1])<<8 | int32(w.Bytes()[fieldPos+2])<<16 | int32(w.Bytes()[fieldPos+3])<<24
	require.Equal(t, int32(10), got)
}

func TestRelPatchObjRel8OutOfRangeErrors(t *testing.T) {
	w := newTestWriter()
	fieldPos, err := w.Step(1)
	require.NoError(t, err)
	instrEndPos := w.Size()
	p := NewRelPatch(w, fieldPos, instrEndPos, rel8)
	require.Error(t, p.LinkToBinaryPos(instrEndPos+1000))
}

// TestAbsFieldPatchWritesLiteralValue is the regression test for the bug
// fixed in this package: a frame-size fixup needs the literal value written
// into the field, not a PC-relative displacement the way RelPatchObj
// computes it.
func TestAbsFieldPatchWritesLiteralValue(t *testing.T) {
	w := newTestWriter()
	fieldPos, err := w.Step(4)
	require.NoError(t, err)
	// Emit a few more bytes after the field, so instrEndPos (if this were
	// mistakenly treated as a RelPatchObj) would differ from fieldPos.
	require.NoError(t, w.WriteRaw([]byte{0xAA, 0xBB, 0xCC}))

	p := NewAbsFieldPatch(w, fieldPos)
	const frameSize = 0x1234
	require.NoError(t, p.LinkToBinaryPos(frameSize))

	got := uint32(w.Bytes()[fieldPos]) | uint32(w.Bytes()[fieldPos+1])<<8 |
		uint32(w.Bytes()[fieldPos+2])<<16 | uint32(w.Bytes()[fieldPos+3])<<24
	require.Equal(t, uint32(frameSize), got)
}

func TestAbsFieldPatchLinkToHereUsesCurrentSize(t *testing.T) {
	w := newTestWriter()
	fieldPos, err := w.Step(4)
	require.NoError(t, err)
	require.NoError(t, w.WriteRaw([]byte{0, 0, 0, 0, 0}))

	p := NewAbsFieldPatch(w, fieldPos)
	require.NoError(t, p.LinkToHere())

	got := uint32(w.Bytes()[fieldPos]) | uint32(w.Bytes()[fieldPos+1])<<8 |
		uint32(w.Bytes()[fieldPos+2])<<16 | uint32(w.Bytes()[fieldPos+3])<<24
	require.Equal(t, uint32(w.Size()), got)
}
