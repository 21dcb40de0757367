package compiler

import (
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/moduleinfo"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// maxDirectLocals is numDirectLocals, spec §6.6: the platform-defined cap on
// a function's combined parameter+local count. Every local in this module
// lives on the stack (moduleinfo's Open Question on register-bound locals),
// so the only thing this bounds is frame bookkeeping, not a register file;
// the limit still applies because StackFrameSize is itself bounded.
const maxDirectLocals = 1 << 16

// Decoder turns one function body's opaque bytes into a pull stream of
// already-validated instructions plus the types of its declared locals (the
// binary format interleaves local declarations with the body itself). The
// parser/validator that implements this is out of scope for this module
// (spec §1); Compile only consumes it.
type Decoder func(body []byte) (reader wasmir.InstructionReader, locals []wasmtypes.MachineType, err error)

// Config configures a single Compile call (spec §4.6's per-target assembler
// selection, folded into one struct the way wazero's NewAssembler
// constructors + api.CoreFeatures bitset are threaded through its engine).
type Config struct {
	Backend Backend
	Decode  Decoder

	// CodeCapacity sizes the code buffer's initial allocation; 0 picks a
	// small default and lets MemWriter's own doubling growth take over.
	CodeCapacity int
	// ArenaSlabSize sizes each function's operand-stack bump arena (spec
	// §3.5); 0 picks a default sized for typical function bodies.
	ArenaSlabSize int
}

func (cfg Config) arenaSlabSize() int {
	if cfg.ArenaSlabSize > 0 {
		return cfg.ArenaSlabSize
	}
	return 64
}

func (cfg Config) codeCapacity() int {
	if cfg.CodeCapacity > 0 {
		return cfg.CodeCapacity
	}
	return 4096
}

// Binary is the emitted output (spec §6.3): the contiguous code buffer plus
// the layout an out-of-scope module loader needs to locate every function
// without re-parsing the bytes.
type Binary struct {
	Code []byte

	// FuncBodyOffset maps a function index to its compiled body's binary
	// start position (spec §6.3 item 1). An imported function has no body
	// of its own and is left at -1.
	FuncBodyOffset []int
}

// Compile compiles every non-imported function of mod, in index order, in a
// single pass, and returns the finished binary. A function's internal calls
// to a not-yet-compiled callee are satisfied by moduleinfo.FuncPatchHead:
// every call site records itself there and is linked once that callee's body
// offset becomes known (spec §4.10), so functions may be compiled in any
// order relative to who calls whom, as long as each is compiled exactly
// once.
func Compile(cfg Config, mod *wasmtypes.Module) (*Binary, error) {
	w := memwriter.New(cfg.codeCapacity(), nil)
	info := moduleinfo.New(mod)
	drv := New(cfg.Backend, info, w)

	bodyOffsets := make([]int, len(mod.Functions))
	for i := range bodyOffsets {
		bodyOffsets[i] = -1
	}

	for idx := range mod.Functions {
		fn := &mod.Functions[idx]
		if fn.Import != nil {
			continue
		}
		offset, err := compileFunction(drv, cfg, info, uint32(idx), fn, w)
		if err != nil {
			return nil, err
		}
		bodyOffsets[idx] = offset
	}

	return &Binary{Code: append([]byte(nil), w.Bytes()...), FuncBodyOffset: bodyOffsets}, nil
}

// compileFunction emits one function body, bracketed by its prologue and
// epilogue, and links every pending internal-call patch that targeted it.
// On error the driver's partial bytes for this function are truncated away
// (spec §7: "partial-function bytes never leak into the output").
func compileFunction(drv *Compiler, cfg Config, info *moduleinfo.Module, idx uint32, fn *wasmtypes.Function, w *memwriter.MemWriter) (bodyOffset int, err error) {
	sig := info.Source.Signatures[fn.SigIndex]

	reader, locals, err := cfg.Decode(fn.Body)
	if err != nil {
		return 0, err
	}
	if len(sig.Params)+len(locals) > maxDirectLocals {
		return 0, wrapLimit(wasmtypes.LimitLocalCount, "")
	}

	startPos := w.Size()
	defer func() {
		if err != nil {
			w.Truncate(startPos)
		}
	}()

	drv.BeginFunction(idx, sig, locals, cfg.arenaSlabSize())

	prologuePatch, err := cfg.Backend.EmitFunctionPrologue(w, 0)
	if err != nil {
		return 0, err
	}

	// The generic trap handler is emitted right after the prologue, ahead of
	// the body, so every EmitTrap call inside the body can always jump
	// *backward* to it (spec §4.14) instead of needing its own forward
	// patch. Control falls through the handler's own code on entry, so an
	// unconditional jump skips straight to the body first.
	skipHandler, err := cfg.Backend.EmitJumpPlaceholder(w)
	if err != nil {
		return 0, err
	}
	info.Fnc.Helpers.GenericTrapHandler = w.Size()
	if err = cfg.Backend.EmitGenericTrapHandler(w); err != nil {
		return 0, err
	}
	if err = skipHandler.LinkToHere(); err != nil {
		return 0, err
	}

	if err = drv.Run(reader); err != nil {
		return 0, err
	}

	if err = cfg.Backend.EmitFunctionEpilogue(w, info.Fnc.StackFrameSizeCeil, sig.Results); err != nil {
		return 0, err
	}

	// Two-pass frame-size fixup (spec §4.9): only known once the whole body,
	// including every spill it provoked, has been compiled.
	if err = prologuePatch.LinkToBinaryPos(int(info.Fnc.StackFrameSizeCeil)); err != nil {
		return 0, err
	}

	head := &info.FuncPatchHeads[idx]
	head.BodyOffset = startPos
	for _, p := range head.Pending {
		if err = p.LinkToBinaryPos(startPos); err != nil {
			return 0, err
		}
	}
	head.Pending = nil

	return startPos, nil
}
