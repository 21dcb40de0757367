package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/compiler"
	"github.com/herrcai0907/wasmjit/internal/isa/amd64"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// TestCompile_DirectCallToInternalFunction exercises opCall's internal-call
// path: marshalArgs spills nothing (fresh function, no registers occupied
// yet) and moves the single I32 argument into its ABI slot, then
// EmitCallInternal links against the callee's FuncPatchHead.
func TestCompile_DirectCallToInternalFunction(t *testing.T) {
	calleeSig := wasmtypes.Signature{
		Params:  []wasmtypes.MachineType{wasmtypes.I32},
		Results: []wasmtypes.MachineType{wasmtypes.I32},
	}
	callerSig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{calleeSig, callerSig},
		[]wasmtypes.Function{
			{SigIndex: 0, Body: []byte{}}, // index 0: callee
			{SigIndex: 1, Body: []byte{}}, // index 1: caller
		},
	)

	calleeInstrs := []wasmir.Instruction{
		{Op: wasmir.OpLocalGet, Index: 0},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}
	callerInstrs := []wasmir.Instruction{
		{Op: wasmir.OpI32Const, ConstI32: 5},
		{Op: wasmir.OpCall, Index: 0},
		{Op: wasmir.OpReturn},
		{Op: wasmir.OpEnd},
	}

	callIdx := 0
	bodies := [][]wasmir.Instruction{calleeInstrs, callerInstrs}
	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode: func(body []byte) (wasmir.InstructionReader, []wasmtypes.MachineType, error) {
			instrs := bodies[callIdx]
			callIdx++
			return wasmir.NewSliceReader(instrs), nil, nil
		},
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.NotEmpty(t, bin.Code)
	require.Len(t, bin.FuncBodyOffset, 2)
}

// TestCompile_DirectCallToNotYetCompiledFunction exercises
// EmitCallInternal's forward-reference path: the caller (index 0) is
// compiled before its callee (index 1), so the call site's patch is queued
// on FuncPatchHead.Pending and only resolved once the callee's body offset
// becomes known.
func TestCompile_DirectCallToNotYetCompiledFunction(t *testing.T) {
	callerSig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	calleeSig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	mod := testModule(
		[]wasmtypes.Signature{callerSig, calleeSig},
		[]wasmtypes.Function{
			{SigIndex: 0, Body: []byte{}}, // index 0: caller, compiled first
			{SigIndex: 1, Body: []byte{}}, // index 1: callee, compiled second
		},
	)

	bodies := [][]wasmir.Instruction{
		{
			{Op: wasmir.OpCall, Index: 1},
			{Op: wasmir.OpReturn},
			{Op: wasmir.OpEnd},
		},
		{
			{Op: wasmir.OpI32Const, ConstI32: 9},
			{Op: wasmir.OpReturn},
			{Op: wasmir.OpEnd},
		},
	}
	idx := 0
	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode: func(body []byte) (wasmir.InstructionReader, []wasmtypes.MachineType, error) {
			instrs := bodies[idx]
			idx++
			return wasmir.NewSliceReader(instrs), nil, nil
		},
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.Len(t, bin.FuncBodyOffset, 2)
	require.GreaterOrEqual(t, bin.FuncBodyOffset[0], 0)
	require.GreaterOrEqual(t, bin.FuncBodyOffset[1], 0)
}

// TestCompile_CallToImportedFunction exercises opCall's EmitCallImported
// path for a statically-linked native symbol.
func TestCompile_CallToImportedFunction(t *testing.T) {
	importSig := wasmtypes.Signature{Params: []wasmtypes.MachineType{wasmtypes.I32}}
	callerSig := wasmtypes.Signature{}
	mod := testModule(
		[]wasmtypes.Signature{importSig, callerSig},
		[]wasmtypes.Function{
			{SigIndex: 0, Import: &wasmtypes.NativeSymbol{Linkage: wasmtypes.LinkageStatic, Addr: 0x1000}},
			{SigIndex: 1, Body: []byte{}},
		},
	)

	callIdx := 0
	bodies := [][]wasmir.Instruction{
		{
			{Op: wasmir.OpI32Const, ConstI32: 7},
			{Op: wasmir.OpCall, Index: 0},
			{Op: wasmir.OpEnd},
		},
	}
	cfg := compiler.Config{
		Backend: amd64.New(amd64.SysVABI),
		Decode: func(body []byte) (wasmir.InstructionReader, []wasmtypes.MachineType, error) {
			instrs := bodies[callIdx]
			callIdx++
			return wasmir.NewSliceReader(instrs), nil, nil
		},
	}

	bin, err := compiler.Compile(cfg, mod)
	require.NoError(t, err)
	require.Equal(t, -1, bin.FuncBodyOffset[0])
	require.NotEqual(t, -1, bin.FuncBodyOffset[1])
}

// TestCompile_CallIndirectThroughTable exercises opCallIndirect: the table
// index is lifted into a register before marshalArgs runs (so argument
// marshaling can't clobber it), then EmitCallIndirect reads the table.
func TestCompile_CallIndirectThroughTable(t *testing.T) {
	calleeSig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	callerSig := wasmtypes.Signature{Results: []wasmtypes.MachineType{wasmtypes.I32}}
	table := &wasmtypes.Table{
		Initial:  1,
		Elements: []wasmtypes.TableEntry{{SigIndex: 0, FuncOffset: 0}},
	}
	mod := &wasmtypes.Module{
		Signatures: []wasmtypes.Signature{calleeSig, callerSig},
		Functions: []wasmtypes.Function{
			{SigIndex: 1, Body: []byte{}},
		},
		Table: table,
	}

	instrs := []wasmir.Instruction{
		{Op: wasmir.OpI32Const, ConstI32: 0}, // table index
		{Op: wasmir.OpCallIndirect, Index: 0},
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
