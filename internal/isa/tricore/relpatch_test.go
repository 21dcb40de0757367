package tricore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJumpPatchLinkToBinaryPosEncodesDisp(t *testing.T) {
	w := newTestWriter()
	patch, err := NewInstruction(OpJ).EmitCode(w)
	require.NoError(t, err)
	// word 0 is the J at pos 0; park the target 8 bytes further out.
	w.Step(8)
	require.NoError(t, patch.LinkToBinaryPos(8))
	word := wordAt(w, 0)
	require.Equal(t, uint32(opByte(OpJ)), word&0xFF)
}

func TestJumpPatchRejectsUnalignedTarget(t *testing.T) {
	w := newTestWriter()
	patch, err := NewInstruction(OpJ).EmitCode(w)
	require.NoError(t, err)
	require.Error(t, patch.LinkToBinaryPos(3))
}

func TestCondBranchPatchLinkToBinaryPosPreservesLowWord(t *testing.T) {
	w := newTestWriter()
	patch, err := NewInstruction(OpJEQ).SetDa(D1).SetDb(D2).EmitCode(w)
	require.NoError(t, err)
	before := wordAt(w, 0) & 0xFFFF
	w.Step(16)
	require.NoError(t, patch.LinkToBinaryPos(16))
	after := wordAt(w, 0) & 0xFFFF
	require.Equal(t, before, after)
}

func TestCondBranchPatchRejectsOutOfRangeDisplacement(t *testing.T) {
	w := newTestWriter()
	patch, err := NewInstruction(OpJEQ).SetDa(D1).SetDb(D2).EmitCode(w)
	require.NoError(t, err)
	require.Error(t, patch.LinkToBinaryPos(1<<17))
}

func TestFrameSizePatchStoresNegatedImmediate(t *testing.T) {
	w := newTestWriter()
	wordPos := w.Size()
	_, err := NewInstruction(OpLEA).SetAc(A10).SetAa(A10).SetConst16Sx(0).EmitCode(w)
	require.NoError(t, err)
	patch := NewFrameSizePatch(w, wordPos)
	require.NoError(t, patch.LinkToBinaryPos(32))
	word := wordAt(w, wordPos)
	imm := int32(int16(uint16((word >> 12) & 0xFFFF)))
	require.Equal(t, int32(-32), imm)
	// the base LEA opcode/register fields must survive the patch untouched.
	require.Equal(t, uint32(opByte(OpLEA)), word&0xFF)
}

func TestFrameSizePatchRejectsOversizedFrame(t *testing.T) {
	w := newTestWriter()
	wordPos := w.Size()
	_, err := NewInstruction(OpLEA).SetAc(A10).SetAa(A10).SetConst16Sx(0).EmitCode(w)
	require.NoError(t, err)
	patch := NewFrameSizePatch(w, wordPos)
	require.Error(t, patch.LinkToBinaryPos(1<<20))
}
