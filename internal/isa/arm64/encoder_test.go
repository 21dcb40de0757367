package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/memwriter"
)

func newTestWriter() *memwriter.MemWriter { return memwriter.New(64, nil) }

func lastWord(w *memwriter.MemWriter) uint32 {
	b := w.Bytes()
	return binary.LittleEndian.Uint32(b[len(b)-4:])
}

func TestEmitAddShiftedRegister64Bit(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpADD).SetRd(X0).SetRn(X1).SetRm(X2).SetWidth(8).EmitCode(w)
	require.NoError(t, err)
	require.Equal(t, 4, w.Size())
	word := lastWord(w)
	require.Equal(t, uint32(1), word>>31, "sf bit must be set for 64-bit width")
	require.Equal(t, uint32(0), word&0x1F, "Rd field must encode X0")
	require.Equal(t, uint32(1), (word>>5)&0x1F, "Rn field must encode X1")
	require.Equal(t, uint32(2), (word>>16)&0x1F, "Rm field must encode X2")
}

func TestEmitMovRegIsOrrWithXzr(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpMOVReg).SetRd(X3).SetRm(X4).SetWidth(8).EmitCode(w)
	require.NoError(t, err)
	word := lastWord(w)
	require.Equal(t, uint32(31), (word>>5)&0x1F, "Rn must be XZR for the MOV alias")
	require.Equal(t, uint32(4), (word>>16)&0x1F)
	require.Equal(t, uint32(3), word&0x1F)
}

func TestEmitAddImmWithin12Bits(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpADDImm).SetRd(X5).SetRn(X6).SetWidth(8).SetImm(100).EmitCode(w)
	require.NoError(t, err)
	word := lastWord(w)
	require.Equal(t, uint32(100), (word>>10)&0xFFF)
}

func TestEmitMovzLowLane(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpMOVZ).SetRd(X0).SetWidth(8).SetImm(0x1234).SetHW(0).EmitCode(w)
	require.NoError(t, err)
	word := lastWord(w)
	require.Equal(t, uint32(0x1234), (word>>5)&0xFFFF)
	require.Equal(t, uint32(0), (word>>21)&0x3)
}

func TestEmitMovkHighLane(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpMOVK).SetRd(X0).SetWidth(8).SetImm(0xABCD).SetHW(3).EmitCode(w)
	require.NoError(t, err)
	word := lastWord(w)
	require.Equal(t, uint32(0xABCD), (word>>5)&0xFFFF)
	require.Equal(t, uint32(3), (word>>21)&0x3)
}

func TestEmitBReturnsPatchable(t *testing.T) {
	w := newTestWriter()
	patch, err := NewInstruction(OpB).EmitCode(w)
	require.NoError(t, err)
	require.NotNil(t, patch)
	require.Equal(t, 4, w.Size())
	require.NoError(t, patch.LinkToBinaryPos(4*10))
	word := lastWord(w)
	require.Equal(t, uint32(0x14000000), word&0xFC000000)
	require.Equal(t, uint32(10), word&0x03FFFFFF)
}

func TestEmitBlSetsLinkOpcode(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpBL).EmitCode(w)
	require.NoError(t, err)
	word := lastWord(w)
	require.Equal(t, uint32(0x94000000), word&0xFC000000)
}

func TestEmitBcondReturnsPatchable(t *testing.T) {
	w := newTestWriter()
	patch, err := NewInstruction(OpBcond).SetCC(CCEQ).EmitCode(w)
	require.NoError(t, err)
	require.NoError(t, patch.LinkToBinaryPos(4*5))
	word := lastWord(w)
	require.Equal(t, uint32(0x54000000), word&0xFF00001F)
	require.Equal(t, uint32(5), (word>>5)&0x7FFFF)
	require.Equal(t, uint32(CCEQ), word&0xF)
}

func TestEmitRetDefaultsToX30(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpRET).EmitCode(w)
	require.NoError(t, err)
	word := lastWord(w)
	require.Equal(t, uint32(0xD65F0000), word&0xFFFFFC1F)
	require.Equal(t, uint32(X30), (word>>5)&0x1F)
}

func TestEmitCodeTwiceErrors(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpRET)
	_, err := ins.EmitCode(w)
	require.NoError(t, err)
	_, err = ins.EmitCode(w)
	require.Error(t, err)
}

func TestEmitFaddSetsFloatTypeBit(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpFADD).SetRd(V0).SetRn(V1).SetRm(V2).SetWidth(8).EmitCode(w)
	require.NoError(t, err)
	word := lastWord(w)
	require.Equal(t, uint32(1), (word>>22)&0x3, "double-precision type field")
}

func TestEmitCsetViaCsincInvertsCondition(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpCSINC).SetRd(X0).SetRn(XZR).SetRm(XZR).SetCC(invertCond(CCEQ)).SetWidth(4).EmitCode(w)
	require.NoError(t, err)
	word := lastWord(w)
	require.Equal(t, uint32(CCNE), (word>>12)&0xF)
}

func TestEmitLoadStoreImmScalesByWidth(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpLDRImm).SetRd(X0).SetMem(XZR, 16).SetWidth(8).EmitCode(w)
	require.NoError(t, err)
	word := lastWord(w)
	require.Equal(t, uint32(2), (word>>10)&0xFFF, "offset 16 / width 8 = imm12 2")
}
