package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/memwriter"
)

func TestBranchPatchLinksForwardDisplacement(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewBranchPatch(w, pos, false)
	require.NoError(t, p.LinkToBinaryPos(pos + 4*20))
	word := binary.LittleEndian.Uint32(w.PosToPtr(pos))
	require.Equal(t, uint32(0x14000000), word&0xFC000000)
	require.Equal(t, uint32(20), word&0x03FFFFFF)
}

func TestBranchPatchUnalignedTargetErrors(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewBranchPatch(w, pos, false)
	require.Error(t, p.LinkToBinaryPos(pos+2))
}

func TestBranchPatchOutOfRangeErrors(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewBranchPatch(w, pos, true)
	require.Error(t, p.LinkToBinaryPos(pos+(1<<27)))
}

func TestBranchPatchLinkToHereUsesCurrentSize(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewBranchPatch(w, pos, false)
	require.NoError(t, w.WriteRaw(make([]byte, 4*3)))
	require.NoError(t, p.LinkToHere())
	word := binary.LittleEndian.Uint32(w.PosToPtr(pos))
	require.Equal(t, uint32(4), word&0x03FFFFFF)
}

func TestCondBranchPatchLinksDisplacementAndCondition(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewCondBranchPatch(w, pos, CCGT)
	require.NoError(t, p.LinkToBinaryPos(pos + 4*7))
	word := binary.LittleEndian.Uint32(w.PosToPtr(pos))
	require.Equal(t, uint32(0x54000000), word&0xFF00001F)
	require.Equal(t, uint32(7), (word>>5)&0x7FFFF)
	require.Equal(t, uint32(CCGT), word&0xF)
}

func TestCondBranchPatchOutOfRangeErrors(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewCondBranchPatch(w, pos, CCEQ)
	require.Error(t, p.LinkToBinaryPos(pos+(1<<20)))
}

func TestFrameSizePatchEncodesSmallFrame(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewFrameSizePatch(w, pos)
	require.NoError(t, p.LinkToBinaryPos(64))
	word := binary.LittleEndian.Uint32(w.PosToPtr(pos))
	require.Equal(t, uint32(0xD1000000), word&0xFFC00000, "SUB (64-bit immediate) base opcode")
	require.Equal(t, uint32(64), (word>>10)&0xFFF)
	require.Equal(t, uint32(0), (word>>22)&0x3, "shift field must be 0 for an unshifted imm12")
	require.Equal(t, uint32(XZR), word&0x1F, "Rd must be SP")
	require.Equal(t, uint32(XZR), (word>>5)&0x1F, "Rn must be SP")
}

func TestFrameSizePatchEncodesShiftedFrame(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewFrameSizePatch(w, pos)
	require.NoError(t, p.LinkToBinaryPos(0x2000))
	word := binary.LittleEndian.Uint32(w.PosToPtr(pos))
	require.Equal(t, uint32(1), (word>>22)&0x3, "shift field must select <<12 for a page-aligned frame")
	require.Equal(t, uint32(0x2), (word>>10)&0xFFF)
}

func TestFrameSizePatchUnencodableFrameErrors(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewFrameSizePatch(w, pos)
	require.Error(t, p.LinkToBinaryPos(0x1001))
}

func TestFrameSizePatchLinkToHereUsesCurrentSize(t *testing.T) {
	w := memwriter.New(64, nil)
	pos, err := w.Step(4)
	require.NoError(t, err)
	p := NewFrameSizePatch(w, pos)
	require.NoError(t, w.WriteRaw(make([]byte, 48)))
	require.NoError(t, p.LinkToHere())
	word := binary.LittleEndian.Uint32(w.PosToPtr(pos))
	require.Equal(t, uint32(52), (word>>10)&0xFFF)
}
