package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/memwriter"
)

func newTestWriter() *memwriter.MemWriter { return memwriter.New(64, nil) }

func TestEmitRetSingleByte(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpRET).EmitCode(w)
	require.NoError(t, err)
	require.Equal(t, []byte{0xC3}, w.Bytes())
}

func TestEmitPushLowRegNoRex(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpPUSH).SetR(RBP, false).EmitCode(w)
	require.NoError(t, err)
	require.Equal(t, []byte{0x50 + byte(RBP)}, w.Bytes())
}

func TestEmitPushExtendedRegNeedsRex(t *testing.T) {
	w := newTestWriter()
	_, err := NewInstruction(OpPUSH).SetR(R12, false).EmitCode(w)
	require.NoError(t, err)
	require.Equal(t, []byte{0x41, 0x50 + (byte(R12) & 7)}, w.Bytes())
}

func TestEmitMovRegRegHasRexW(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpMOV).SetWidth(8).SetRR(RAX, RCX, false, false)
	_, err := ins.EmitCode(w)
	require.NoError(t, err)
	b := w.Bytes()
	require.Equal(t, byte(0x48), b[0]&0x48, "REX.W must be set")
	require.Equal(t, byte(0x89), b[1])
}

func TestEmitAddImm8ToReg(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpADD).SetWidth(4).SetR(RAX, false).SetImm8(7)
	_, err := ins.EmitCode(w)
	require.NoError(t, err)
	b := w.Bytes()
	require.Equal(t, byte(0x83), b[0])
	require.Equal(t, modrmByte(3, 0, regNum(RAX)), b[1])
	require.Equal(t, byte(7), b[2])
}

func TestEmitCallRelReturnsPatchable(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpCALL)
	patch, err := ins.EmitCode(w)
	require.NoError(t, err)
	require.NotNil(t, patch)
	require.Equal(t, 5, w.Size())
	require.NoError(t, patch.LinkToBinaryPos(100))
	b := w.Bytes()
	require.Equal(t, byte(100-5), b[1])
}

func TestEmitCodeTwiceErrors(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpRET)
	_, err := ins.EmitCode(w)
	require.NoError(t, err)
	_, err = ins.EmitCode(w)
	require.Error(t, err)
}

func TestEmitLoadFromMemoryWithDisp8(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpMOV).SetWidth(4).SetM4RM(R14, 16).SetRegToMem(RAX, false)
	_, err := ins.EmitCode(w)
	require.NoError(t, err)
	b := w.Bytes()
	// REX prefix present because R14 needs it, opcode 0x8B (load form), then ModRM+disp8.
	require.Equal(t, byte(0x8B), b[len(b)-3])
	require.Equal(t, byte(16), b[len(b)-1])
}

func TestEmitSetccFoldsConditionIntoOpcode(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpSETcc).SetR(RAX, false).SetCC(CCE)
	_, err := ins.EmitCode(w)
	require.NoError(t, err)
	b := w.Bytes()
	require.Equal(t, byte(0x0F), b[0])
	require.Equal(t, byte(0x90|byte(CCE)), b[1], "SETE is 0F 94: the low nibble is CCE (0x4) ORed onto 0x90")
	require.Equal(t, modrmByte(3, 0, regNum(RAX)), b[2])
}

func TestEmitSetccExtendedRegNeedsRex(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpSETcc).SetR(R9, false).SetCC(CCNE)
	_, err := ins.EmitCode(w)
	require.NoError(t, err)
	b := w.Bytes()
	require.Equal(t, byte(0x41), b[0]&0x41, "REX.B must be set for r9")
	require.Equal(t, byte(0x0F), b[1])
	require.Equal(t, byte(0x90|byte(CCNE)), b[2])
}

func TestEmitCmovccFoldsConditionIntoOpcode(t *testing.T) {
	w := newTestWriter()
	ins := NewInstruction(OpCMOVcc).SetWidth(8).SetRR(RCX, RAX, false, false).SetCC(CCG)
	_, err := ins.EmitCode(w)
	require.NoError(t, err)
	b := w.Bytes()
	require.Equal(t, byte(0x48), b[0]&0x48, "REX.W must be set for a 64-bit CMOVcc")
	require.Equal(t, byte(0x0F), b[1])
	require.Equal(t, byte(0x40|byte(CCG)), b[2])
	require.Equal(t, modrmByte(3, regNum(RAX), regNum(RCX)), b[3])
}
