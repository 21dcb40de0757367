//go:build amd64debug

// Package amd64debug cross-checks isa/amd64's hand-written encoder against
// Go's own assembler (via golang-asm, the library wazero used for exactly
// this job before dropping it from its primary path) for the instruction
// forms both support. It is never linked into a normal build: the
// amd64debug tag gates it out entirely, matching wazero's own
// internal/asm/amd64_debug, which the package doc comment there describes
// as existing "for debugging only".
package amd64debug

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// gprToGolangAsm maps this module's isa.Register numbering (shared GPR/XMM
// space, 0-15) onto golang-asm's REG_* constants. Only the registers the
// oracle's instruction set actually exercises are populated.
var gprToGolangAsm = map[int16]int16{
	0: x86.REG_AX, 1: x86.REG_CX, 2: x86.REG_DX, 3: x86.REG_BX,
	4: x86.REG_SP, 5: x86.REG_BP, 6: x86.REG_SI, 7: x86.REG_DI,
	8: x86.REG_R8, 9: x86.REG_R9, 10: x86.REG_R10, 11: x86.REG_R11,
	12: x86.REG_R12, 13: x86.REG_R13, 14: x86.REG_R14, 15: x86.REG_R15,
}

var xmmToGolangAsm = map[int16]int16{
	0: x86.REG_X0, 1: x86.REG_X1, 2: x86.REG_X2, 3: x86.REG_X3,
	4: x86.REG_X4, 5: x86.REG_X5, 6: x86.REG_X6, 7: x86.REG_X7,
	8: x86.REG_X8, 9: x86.REG_X9, 10: x86.REG_X10, 11: x86.REG_X11,
	12: x86.REG_X12, 13: x86.REG_X13, 14: x86.REG_X14, 15: x86.REG_X15,
}

// AssembleRegReg drives golang-asm's builder to emit exactly one
// register-to-register instruction, named by its Go assembler mnemonic
// (e.g. x86.AMOVQ, x86.AADDL), and returns its encoded bytes. Oracle tests
// in oracle_test.go compare this against isa/amd64's own
// Instruction/encodeInto path for the same opcode/operands.
func AssembleRegReg(as obj.As, fromReg, toReg int16) ([]byte, error) {
	b, err := goasm.NewBuilder("amd64", 64)
	if err != nil {
		return nil, fmt.Errorf("amd64debug: new builder: %w", err)
	}
	p := b.NewProg()
	p.As = as
	p.From.Type = obj.TYPE_REG
	p.From.Reg = fromReg
	p.To.Type = obj.TYPE_REG
	p.To.Reg = toReg
	b.AddInstruction(p)
	return b.Assemble(), nil
}

// AssembleRegMem emits one register<->[base+disp] instruction; toMem
// selects which operand (From or To) carries the memory form, matching
// isa/amd64's setR4RM/setM4RM split.
func AssembleRegMem(as obj.As, reg, baseReg int16, disp int64, toMem bool) ([]byte, error) {
	b, err := goasm.NewBuilder("amd64", 64)
	if err != nil {
		return nil, fmt.Errorf("amd64debug: new builder: %w", err)
	}
	p := b.NewProg()
	p.As = as
	memOperand, regOperand := &p.From, &p.To
	if toMem {
		memOperand, regOperand = &p.To, &p.From
	}
	regOperand.Type = obj.TYPE_REG
	regOperand.Reg = reg
	memOperand.Type = obj.TYPE_MEM
	memOperand.Reg = baseReg
	memOperand.Offset = disp
	b.AddInstruction(p)
	return b.Assemble(), nil
}

// GPR resolves a 0-15 GPR number to golang-asm's register constant.
func GPR(n int16) int16 { return gprToGolangAsm[n] }

// XMM resolves a 0-15 XMM number to golang-asm's register constant.
func XMM(n int16) int16 { return xmmToGolangAsm[n] }
