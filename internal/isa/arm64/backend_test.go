package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/moduleinfo"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

func wordAt(w *memwriter.MemWriter, pos int) uint32 {
	return binary.LittleEndian.Uint32(w.PosToPtr(pos)[:4])
}

func TestEmitMoveRegToRegIsNoOpWhenSameLocation(t *testing.T) {
	b := New()
	w := newTestWriter()
	src := isa.RegisterStorage(X3, wasmtypes.I32)
	require.NoError(t, b.EmitMove(w, wasmtypes.I32, src, src))
	require.Equal(t, 0, w.Size())
}

func TestEmitMoveConstantToRegister(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(X0, wasmtypes.I32)
	require.NoError(t, b.EmitLoadConst(w, wasmtypes.I32, 0x1234, dst))
	require.Greater(t, w.Size(), 0)
	word := wordAt(w, 0)
	require.Equal(t, uint32(0x52800000), word&0xFF800000, "MOVZ (opc=10) base opcode, 32-bit width")
}

func TestEmitBinOpAddRegisters(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(X1, wasmtypes.I32)
	src := isa.RegisterStorage(X2, wasmtypes.I32)
	require.NoError(t, b.EmitBinOp(w, wasmir.OpI32Add, wasmtypes.I32, dst, src))
	require.Equal(t, 4, w.Size())
	word := wordAt(w, 0)
	require.Equal(t, uint32(0x0B000000), word&0xFF000000)
}

func TestEmitMaterializeBoolUsesCsetAlias(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(X0, wasmtypes.I32)
	require.NoError(t, b.EmitMaterializeBool(w, 0 /* CondEq */, dst))
	word := wordAt(w, 0)
	// CSINC Xd, xzr, xzr, NE (inverted EQ) per the CSET alias.
	require.Equal(t, uint32(CCNE), (word>>12)&0xF)
}

func TestFunctionPrologueEpiloguePatchFrameSize(t *testing.T) {
	b := New()
	w := newTestWriter()
	patch, err := b.EmitFunctionPrologue(w, 32)
	require.NoError(t, err)
	require.NotNil(t, patch)
	require.NoError(t, b.EmitFunctionEpilogue(w, 32, nil))
	require.Greater(t, w.Size(), 0)
}

func TestEmitCallInternalKnownOffsetPatchesImmediately(t *testing.T) {
	b := New()
	w := newTestWriter()
	head := &moduleinfo.FuncPatchHead{BodyOffset: 100}
	require.NoError(t, b.EmitCallInternal(w, head))
	word := wordAt(w, 0)
	require.Equal(t, uint32(0x94000000), word&0xFC000000)
}
