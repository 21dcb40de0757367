package tricore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/moduleinfo"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

func TestEmitMoveRegToRegIsNoOpWhenSameLocation(t *testing.T) {
	b := New()
	w := newTestWriter()
	src := isa.RegisterStorage(D3, wasmtypes.I32)
	require.NoError(t, b.EmitMove(w, wasmtypes.I32, src, src))
	require.Equal(t, 0, w.Size())
}

func TestEmitLoadConstSmallFitsSingleMOVConst16Sx(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(D0, wasmtypes.I32)
	require.NoError(t, b.EmitLoadConst(w, wasmtypes.I32, 0x7F, dst))
	require.Equal(t, 4, w.Size())
	word := wordAt(w, 0)
	require.Equal(t, uint32(opByte(OpMOVConst16Sx)), word&0xFF)
}

func TestEmitLoadConstWideUsesMOVHAddi(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(D0, wasmtypes.I32)
	require.NoError(t, b.EmitLoadConst(w, wasmtypes.I32, 0x12345678, dst))
	require.Equal(t, 8, w.Size())
	require.Equal(t, uint32(opByte(OpMOVHConst16)), wordAt(w, 0)&0xFF)
	require.Equal(t, uint32(opByte(OpADDIConst16)), wordAt(w, 4)&0xFF)
}

func TestEmitBinOpAddRegisters(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(D1, wasmtypes.I32)
	src := isa.RegisterStorage(D2, wasmtypes.I32)
	require.NoError(t, b.EmitBinOp(w, wasmir.OpI32Add, wasmtypes.I32, dst, src))
	require.Equal(t, 4, w.Size())
	word := wordAt(w, 0)
	require.Equal(t, uint32(opByte(OpADD)), word&0xFF)
	require.Equal(t, uint32(op2(OpADD)), (word>>16)&0xFF)
}

func TestEmitBinOpShiftRightNegatesCount(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(D1, wasmtypes.I32)
	src := isa.RegisterStorage(D2, wasmtypes.I32)
	require.NoError(t, b.EmitBinOp(w, wasmir.OpI32ShrU, wasmtypes.I32, dst, src))
	// zero the helper, subtract the count, then SH using the negated count.
	require.Equal(t, 12, w.Size())
	require.Equal(t, uint32(opByte(OpSUB)), wordAt(w, 4)&0xFF)
	last := wordAt(w, 8)
	require.Equal(t, uint32(opByte(OpSH)), last&0xFF)
}

func TestEmitBinOpI64AddRoutesThroughHelper(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(D10, wasmtypes.I64)
	src := isa.RegisterStorage(D12, wasmtypes.I64)
	require.NoError(t, b.EmitBinOp(w, wasmir.OpI64Add, wasmtypes.I64, dst, src))
	require.Greater(t, w.Size(), 0)
	foundCALLI := false
	for pos := 0; pos < w.Size(); pos += 4 {
		if wordAt(w, pos)&0xFF == uint32(opByte(OpCALLI)) {
			foundCALLI = true
		}
	}
	require.True(t, foundCALLI, "callHelper must emit a CALLI through REGS.IndirectCall")
}

func TestEmitCompareIntCachesOperandsNoCode(t *testing.T) {
	b := New()
	w := newTestWriter()
	lhs := isa.RegisterStorage(D1, wasmtypes.I32)
	rhs := isa.RegisterStorage(D2, wasmtypes.I32)
	require.NoError(t, b.EmitCompare(w, wasmtypes.I32, lhs, rhs))
	require.Equal(t, 0, w.Size())
	require.False(t, b.pendingFloat)
	require.Equal(t, D1, b.pendingLHS.Reg)
	require.Equal(t, D2, b.pendingRHS.Reg)
}

func TestEmitCompareFloatCallsHelperImmediately(t *testing.T) {
	b := New()
	w := newTestWriter()
	lhs := isa.RegisterStorage(D1, wasmtypes.F32)
	rhs := isa.RegisterStorage(D2, wasmtypes.F32)
	require.NoError(t, b.EmitCompare(w, wasmtypes.F32, lhs, rhs))
	require.Greater(t, w.Size(), 0)
	require.True(t, b.pendingFloat)
	require.Equal(t, D2, b.pendingFloatResult)
}

func TestEmitMaterializeBoolGtSwapsOperands(t *testing.T) {
	b := New()
	w := newTestWriter()
	lhs := isa.RegisterStorage(D1, wasmtypes.I32)
	rhs := isa.RegisterStorage(D2, wasmtypes.I32)
	require.NoError(t, b.EmitCompare(w, wasmtypes.I32, lhs, rhs))
	dst := isa.RegisterStorage(D3, wasmtypes.I32)
	require.NoError(t, b.EmitMaterializeBool(w, opstack.CondGtS, dst))
	word := wordAt(w, 0)
	require.Equal(t, uint32(opByte(OpLT)), word&0xFF)
	require.Equal(t, uint32(op2(OpLT)), (word>>16)&0xFF)
	require.Equal(t, uint32(2), (word>>8)&0xF)  // Da = rhs (swapped)
	require.Equal(t, uint32(1), (word>>12)&0xF) // Db = lhs (swapped)
}

func TestFunctionPrologueEpiloguePatchFrameSize(t *testing.T) {
	b := New()
	w := newTestWriter()
	patch, err := b.EmitFunctionPrologue(w, 0)
	require.NoError(t, err)
	require.NotNil(t, patch)
	require.NoError(t, b.EmitFunctionEpilogue(w, 32, nil))
	require.Greater(t, w.Size(), 0)
	require.NoError(t, patch.LinkToBinaryPos(32))
}

func TestEmitCallInternalKnownOffsetPatchesImmediately(t *testing.T) {
	b := New()
	w := newTestWriter()
	head := &moduleinfo.FuncPatchHead{BodyOffset: 100}
	require.NoError(t, b.EmitCallInternal(w, head))
	word := wordAt(w, 0)
	require.Equal(t, uint32(opByte(OpCALL)), word&0xFF)
	require.Empty(t, head.Pending)
}

func TestEmitCallInternalUnknownOffsetQueuesPatch(t *testing.T) {
	b := New()
	w := newTestWriter()
	head := &moduleinfo.FuncPatchHead{BodyOffset: -1}
	require.NoError(t, b.EmitCallInternal(w, head))
	require.Len(t, head.Pending, 1)
}

func TestEmitMemorySizeDerivesPagesFromCachedSize(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(D1, wasmtypes.I32)
	require.NoError(t, b.EmitMemorySize(w, dst))
	require.Greater(t, w.Size(), 0)
}

func TestReinterpretOpsEmitNothing(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(D1, wasmtypes.I32)
	require.NoError(t, b.EmitUnOp(w, wasmir.OpI32ReinterpretF32, wasmtypes.I32, dst))
	require.Equal(t, 0, w.Size())
}

func TestEmitUnOpF32ConvertI32SUsesITOF(t *testing.T) {
	b := New()
	w := newTestWriter()
	dst := isa.RegisterStorage(D1, wasmtypes.F32)
	require.NoError(t, b.EmitUnOp(w, wasmir.OpF32ConvertI32S, wasmtypes.F32, dst))
	require.Equal(t, 4, w.Size())
	word := wordAt(w, 0)
	require.Equal(t, uint32(opByte(OpITOF)), word&0xFF)
	require.NotZero(t, word&(1<<16))
}

func TestEmitTrapWithoutHandlerEmitsRET(t *testing.T) {
	b := New()
	w := newTestWriter()
	require.NoError(t, b.EmitTrap(w, 0))
	last := wordAt(w, w.Size()-4)
	require.Equal(t, uint32(opByte(OpRET)), last&0xFF)
}

func TestEmitGenericTrapHandlerRecordsPosition(t *testing.T) {
	b := New()
	w := newTestWriter()
	w.Step(4)
	require.NoError(t, b.EmitGenericTrapHandler(w))
	require.Equal(t, 4, b.trapHandlerPos)
}
