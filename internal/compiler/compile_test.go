package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/compiler"
	"github.com/herrcai0907/wasmjit/internal/isa/amd64"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// decodeFixed adapts a pre-built []wasmir.Instruction + locals list to
// compiler.Decoder's shape, standing in for the out-of-scope parser.
func decodeFixed(instrs []wasmir.Instruction, locals []wasmtypes.MachineType) compiler.Decoder {
	return func(body []byte) (wasmir.InstructionReader, []wasmtypes.MachineType, error) {
		return wasmir.NewSliceReader(instrs), locals, nil
	}
}

func testModule(sigs []wasmtypes.Signature, fns []wasmtypes.Function) *wasmtypes.Module {
	return &wasmtypes.Module{Signatures: sigs, Functions: fns}
}

func TestCompile_SingleFunctionAddReturnsBodyOffset(t *testing.T) {
	sig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Body: []byte{}}},
	)

	instrs := []wasmir.Instruction{
		{Op: wasmir.OpI32Const, ConstI32: 2},
		{Op: wasmir.OpI32Const, ConstI32: 3},
		{Op: wasmir.OpI32Add},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(instrs, nil),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
	require.Len(t, bin.FuncBodyOffset, 1)
	require.Equal(t, 0, bin.FuncBodyOffset[0])
}

func TestCompile_ImportedFunctionHasNoBodyOffset(t *testing.T) {
	sig := wasmtypes.Signature{}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Import: &wasmtypes.NativeSymbol{Linkage: wasmtypes.LinkageStatic}}},
	)

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(nil, nil),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.Equal(t, -1, bin.FuncBodyOffset[0])
}

// TestCompile_SelectWithConstantOperands is the regression test for the
// opSelect fix: both the true-case and false-case operands start out as
// plain constants (neither is naturally register-backed), exercising the
// path where EmitSelect's branch-sequence lowering requires its second
// operand to already be in a register.
func TestCompile_SelectWithConstantOperands(t *testing.T) {
	sig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Body: []byte{}}},
	)

	instrs := []wasmir.Instruction{
		{Op: wasmir.OpI32Const, ConstI32: 11}, // a (true case)
		{Op: wasmir.OpI32Const, ConstI32: 22}, // b (false case)
		{Op: wasmir.OpI32Const, ConstI32: 1},  // cond
		{Op: wasmir.OpSelect},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(instrs, nil),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
}

func TestCompile_LocalGetWithDeclaredLocal(t *testing.T) {
	sig := wasmtypes.Signature{Params: []wasmtypes.MachineType{wasmtypes.I32}, Results: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Body: []byte{}}},
	)

	instrs := []wasmir.Instruction{
		{Op: wasmir.OpLocalGet, Index: 0},
		{Op: wasmir.OpI32Const, ConstI32: 1},
		{Op: wasmir.OpI32Add},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(instrs, []wasmtypes.MachineType{wasmtypes.I64}),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
}

// TestCompile_ArithAndComparisonMix exercises opBinary (I32DivS, a pinned-
// register op per DESIGN.md), opUnary (I32Clz), opCompare (I32Eq, whose
// result feeds a consuming If rather than materializing into a register,
// exercising opstack.KindPendingComparison fusion), and opConversion
// (I32WrapI64) all in one function body.
func TestCompile_ArithAndComparisonMix(t *testing.T) {
	sig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Body: []byte{}}},
	)

	instrs := []wasmir.Instruction{
		{Op: wasmir.OpI64Const, ConstI64: 9},
		{Op: wasmir.OpI32WrapI64},
		{Op: wasmir.OpI32Const, ConstI32: 20},
		{Op: wasmir.OpI32DivS},
		{Op: wasmir.OpI32Clz},
		{Op: wasmir.OpI32Const, ConstI32: 0},
		{Op: wasmir.OpI32Eq},
		{Op: wasmir.OpIf, Block: wasmir.BlockType{SigIndex: -1}},
		{Op: wasmir.OpEnd},
		{Op: wasmir.OpI32Const, ConstI32: 1},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(instrs, nil),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
}

// TestCompile_FloatArithAndConversion exercises the float register file
// (F32Add) and an int->float conversion (F64ConvertI32S), independent paths
// from the GP arithmetic above.
func TestCompile_FloatArithAndConversion(t *testing.T) {
	sig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.F64}}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Body: []byte{}}},
	)

	instrs := []wasmir.Instruction{
		{Op: wasmir.OpF32Const, ConstF32: 1.5},
		{Op: wasmir.OpF32Const, ConstF32: 2.5},
		{Op: wasmir.OpF32Add},
		{Op: wasmir.OpDrop},
		{Op: wasmir.OpI32Const, ConstI32: 7},
		{Op: wasmir.OpF64ConvertI32S},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(instrs, nil),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
}

// TestCompile_BlockWithResultAndBranch exercises a block carrying a result
// type, an unconditional Br out of the middle of it (skipping the rest of
// the block body), and the canonical-result-register convention that makes
// the branch edge and the fallthrough edge agree on where the value lives.
func TestCompile_BlockWithResultAndBranch(t *testing.T) {
	sig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Body: []byte{}}},
	)

	i32 := wasmtypes.I32
	instrs := []wasmir.Instruction{
		{Op: wasmir.OpBlock, Block: wasmir.BlockType{SigIndex: -1, ValueOnly: &i32}},
		{Op: wasmir.OpI32Const, ConstI32: 42},
		{Op: wasmir.OpBr, Index: 0},
		{Op: wasmir.OpI32Const, ConstI32: 0}, // unreachable, never executed
		{Op: wasmir.OpEnd},                   // closes the block
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(instrs, nil),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
}

// TestCompile_LoopWithBrIf exercises a backward branch: BrIf targeting a
// Loop's header jumps to an already-known binary position rather than
// appending a forward patch.
func TestCompile_LoopWithBrIf(t *testing.T) {
	sig := wasmtypes.Signature{Params: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Body: []byte{}}},
	)

	instrs := []wasmir.Instruction{
		{Op: wasmir.OpLoop, Block: wasmir.BlockType{SigIndex: -1}},
		{Op: wasmir.OpLocalGet, Index: 0},
		{Op: wasmir.OpBrIf, Index: 0},
		{Op: wasmir.OpEnd},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(instrs, nil),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
}

// TestCompile_IfElseWithResult exercises the If/Else/End shape, both arms
// contributing a result via finalizeEdge into the canonical register.
func TestCompile_IfElseWithResult(t *testing.T) {
	sig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Body: []byte{}}},
	)

	i32 := wasmtypes.I32
	instrs := []wasmir.Instruction{
		{Op: wasmir.OpI32Const, ConstI32: 1}, // condition
		{Op: wasmir.OpIf, Block: wasmir.BlockType{SigIndex: -1, ValueOnly: &i32}},
		{Op: wasmir.OpI32Const, ConstI32: 10},
		{Op: wasmir.OpElse},
		{Op: wasmir.OpI32Const, ConstI32: 20},
		{Op: wasmir.OpEnd},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(instrs, nil),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
}

// TestCompile_MemoryLoadStoreAndGrow exercises opStore (writing a constant
// to a computed address), opLoad (reading it back), and opMemoryGrow/
// opMemorySize, none of which require the module to declare a Memory at
// compile time: the linear-memory base/size live in the backend's pinned
// registers regardless (see DESIGN.md).
func TestCompile_MemoryLoadStoreAndGrow(t *testing.T) {
	sig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{sig},
		[]wasmtypes.Function{{SigIndex: 0, Body: []byte{}}},
	)

	instrs := []wasmir.Instruction{
		{Op: wasmir.OpI32Const, ConstI32: 0},  // addr
		{Op: wasmir.OpI32Const, ConstI32: 99}, // value
		{Op: wasmir.OpI32Store, Mem: wasmir.MemArg{Align: 2, Offset: 0}},
		{Op: wasmir.OpI32Const, ConstI32: 1}, // delta
		{Op: wasmir.OpMemoryGrow},
		{Op: wasmir.OpDrop},
		{Op: wasmir.OpI32Const, ConstI32: 0}, // addr
		{Op: wasmir.OpI32Load, Mem: wasmir.MemArg{Align: 2, Offset: 0}},
		{Op: wasmir.OpDrop},
		{Op: wasmir.OpMemorySize},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode:  decodeFixed(instrs, nil),
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
}
