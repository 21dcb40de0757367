package arm64

import (
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// BranchPatch is the arm64 implementation of opstack.RelPatch (spec §4.5)
// for B/BL: a 26-bit word-aligned signed displacement, counted in
// instructions (4-byte units) rather than bytes -- spec §4.4 line 142's
// "26-bit" branch displacement width for AArch64 B/BL, vs x86-64's
// byte-granular rel8/rel32.
type BranchPatch struct {
	w        *memwriter.MemWriter
	wordPos  int // binary position of the B/BL word itself
	link     bool
}

func NewBranchPatch(w *memwriter.MemWriter, wordPos int, link bool) *BranchPatch {
	return &BranchPatch{w: w, wordPos: wordPos, link: link}
}

func (p *BranchPatch) LinkToBinaryPos(targetPos int) error {
	disp := int64(targetPos) - int64(p.wordPos)
	if disp%4 != 0 {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "arm64 branch target is not instruction-aligned",
		}
	}
	imm26 := disp / 4
	if imm26 < -(1<<25) || imm26 > (1<<25)-1 {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "arm64 B/BL displacement exceeds the 26-bit (+/-128MiB) field",
		}
	}
	op := uint32(0x14000000) // B
	if p.link {
		op = 0x94000000 // BL
	}
	word := op | (uint32(imm26) & 0x03FFFFFF)
	p.w.PutUint32At(p.wordPos, word)
	return nil
}

func (p *BranchPatch) LinkToHere() error { return p.LinkToBinaryPos(p.w.Size()) }

// CondBranchPatch is B.cond's narrower 19-bit patch (spec §4.4 line 142),
// used for every conditional jump this backend emits (BrIf, If/Else, the
// comparison-fused-into-branch path, trap guards).
type CondBranchPatch struct {
	w       *memwriter.MemWriter
	wordPos int
	cond    CC
}

func NewCondBranchPatch(w *memwriter.MemWriter, wordPos int, cond CC) *CondBranchPatch {
	return &CondBranchPatch{w: w, wordPos: wordPos, cond: cond}
}

func (p *CondBranchPatch) LinkToBinaryPos(targetPos int) error {
	disp := int64(targetPos) - int64(p.wordPos)
	if disp%4 != 0 {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "arm64 branch target is not instruction-aligned",
		}
	}
	imm19 := disp / 4
	if imm19 < -(1<<18) || imm19 > (1<<18)-1 {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "arm64 B.cond displacement exceeds the 19-bit (+/-1MiB) field",
		}
	}
	word := uint32(0x54000000) | ((uint32(imm19) & 0x7FFFF) << 5) | uint32(p.cond)
	p.w.PutUint32At(p.wordPos, word)
	return nil
}

func (p *CondBranchPatch) LinkToHere() error { return p.LinkToBinaryPos(p.w.Size()) }

// FrameSizePatch is the arm64 counterpart of isa/amd64's AbsFieldPatch:
// unlike x86-64's `sub rsp, imm32` (a raw little-endian field amd64 can
// overwrite in place), AArch64's SUB (immediate) embeds its imm12 among the
// instruction's other opcode bits, so the fixup re-encodes the whole
// 32-bit word rather than patching a sub-field. LinkToBinaryPos's argument
// is (confusingly, but matching the RelPatch interface compile.go drives
// every backend through) the final frame size, not a binary position.
type FrameSizePatch struct {
	w       *memwriter.MemWriter
	wordPos int
}

func NewFrameSizePatch(w *memwriter.MemWriter, wordPos int) *FrameSizePatch {
	return &FrameSizePatch{w: w, wordPos: wordPos}
}

func (p *FrameSizePatch) LinkToBinaryPos(frameSize int) error {
	imm12, shift, ok := encodeImm12Shifted(uint32(frameSize))
	if !ok {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "arm64 stack frame exceeds the encodable SUB (immediate) range",
		}
	}
	// SUB (64-bit, immediate): sf=1 op=1 S=0 100010 shift imm12 Rn Rd, Rn=Rd=SP(31).
	word := uint32(0xD1000000) | (shift << 22) | (imm12 << 10) | (uint32(XZR) << 5) | uint32(XZR)
	p.w.PutUint32At(p.wordPos, word)
	return nil
}

func (p *FrameSizePatch) LinkToHere() error { return p.LinkToBinaryPos(p.w.Size()) }

// encodeImm12Shifted splits v into SUB/ADD (immediate)'s imm12+shift(12)
// fields, returning ok=false if v needs more precision than that form can
// express (spec §4.9's frame size is attacker-uncontrolled compiler output,
// but pathologically large locals/spill counts could still exceed this).
func encodeImm12Shifted(v uint32) (imm12, shift uint32, ok bool) {
	if v <= 0xFFF {
		return v, 0, true
	}
	if v&0xFFF == 0 && (v>>12) <= 0xFFF {
		return v >> 12, 1, true
	}
	return 0, 0, false
}
