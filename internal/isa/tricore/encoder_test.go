package tricore

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/memwriter"
)

func newTestWriter() *memwriter.MemWriter { return memwriter.New(64, nil) }

func wordAt(w *memwriter.MemWriter, pos int) uint32 {
	return binary.LittleEndian.Uint32(w.PosToPtr(pos)[:4])
}

func TestEmitCodeAddEncodesRRFamily(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpADD).SetDc(D3).SetDa(D1).SetDb(D2).EmitCode(w)
	require.NoError(t, err)
	require.Equal(t, 4, w.Size())
	word := wordAt(w, 0)
	require.Equal(t, uint32(opByte(OpADD)), word&0xFF)
	require.Equal(t, uint32(op2(OpADD)), (word>>16)&0xFF)
	require.Equal(t, uint32(1), (word>>8)&0xF)  // Da
	require.Equal(t, uint32(2), (word>>12)&0xF) // Db
	require.Equal(t, uint32(3), (word>>28)&0xF) // Dc
}

func TestEmitCodeFloatBitSetForAdd(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpADD).SetFloat(true).SetDc(D0).SetDa(D0).SetDb(D1).EmitCode(w)
	require.NoError(t, err)
	word := wordAt(w, 0)
	require.NotZero(t, word&(1<<27))
}

func TestRegNumStripsARegisterOffset(t *testing.T) {
	require.Equal(t, byte(0), regNum(A0))
	require.Equal(t, byte(10), regNum(A10))
	require.Equal(t, byte(5), regNum(D5))
}

func TestEmitCodeITOFFTOICarrySignedness(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpFTOI).SetDc(D0).SetDa(D1).SetConvSigned(true).EmitCode(w)
	require.NoError(t, err)
	word := wordAt(w, 0)
	require.NotZero(t, word&(1<<16))

	w2 := newTestWriter()
	_, err = NewInstruction(OpFTOI).SetDc(D0).SetDa(D1).SetConvSigned(false).EmitCode(w2)
	require.NoError(t, err)
	require.Zero(t, wordAt(w2, 0)&(1<<16))
}

func TestEmitCodeLoadEncodesOffsetSplit(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpLD).SetDc(D4).SetMem(A10, -4).SetWidth(4).EmitCode(w)
	require.NoError(t, err)
	word := wordAt(w, 0)
	require.Equal(t, uint32(opByte(OpLD)), word&0xFF)
	require.Equal(t, uint32(10), (word>>12)&0xF) // Ab = A10
}

func TestEmitCodeRejectsDoubleEmit(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpADD).SetDc(D0).SetDa(D0).SetDb(D1)
	_, err := ins.EmitCode(w)
	require.NoError(t, err)
	_, err = ins.EmitCode(w)
	require.Error(t, err)
}

func TestEmitCodeJEQReturnsCondBranchPatch(t *testing.T) {
	w := newTestWriter()
	patch, err := NewInstruction(OpJEQ).SetDa(D0).SetDb(D1).EmitCode(w)
	require.NoError(t, err)
	require.NotNil(t, patch)
	_, ok := patch.(*CondBranchPatch)
	require.True(t, ok)
}

func TestEmitCodeJReturnsJumpPatch(t *testing.T) {
	w := newTestWriter()
	patch, err := NewInstruction(OpJ).EmitCode(w)
	require.NoError(t, err)
	_, ok := patch.(*JumpPatch)
	require.True(t, ok)
}
