package wasmtypes

import "fmt"

// LimitKind names which implementation limit (spec §6.6) was exceeded.
type LimitKind string

const (
	LimitStackFrameSize  LimitKind = "stack frame size exceeds INT32_MAX"
	LimitFunctionCount   LimitKind = "function count exceeds 2^31"
	LimitBranchDistance  LimitKind = "branch distance exceeds encoding width"
	LimitLocalCount      LimitKind = "local count exceeds platform maximum"
	LimitBinarySize      LimitKind = "emitted binary size exceeds 2^32-1 bytes"
	LimitArgumentCount   LimitKind = "same-typed argument count exceeds the ABI's register file"
)

// ErrOutOfMemory is returned when the host-provided extender callback backing
// a MemWriter cannot satisfy a grow request (spec §4.1, §7).
type ErrOutOfMemory struct{ Context string }

func (e *ErrOutOfMemory) Error() string {
	if e.Context == "" {
		return "out of memory"
	}
	return "out of memory: " + e.Context
}

// ErrImplementationLimitReached reports that compilation would exceed one of
// the hard limits enumerated in spec §6.6.
type ErrImplementationLimitReached struct {
	What LimitKind
	// Detail is a free-form description of what exceeded the limit, e.g.
	// which branch displacement field was too narrow.
	Detail string
}

func (e *ErrImplementationLimitReached) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("implementation limit reached: %s", e.What)
	}
	return fmt.Sprintf("implementation limit reached: %s (%s)", e.What, e.Detail)
}

// ErrFeatureNotSupported reports an opcode or type that belongs to a
// WebAssembly proposal this compiler deliberately does not implement
// (reference types, SIMD, multi-memory, the v2 import ABI for multi-value
// returns), spec §1 Non-goals and §7.
type ErrFeatureNotSupported struct{ What string }

func (e *ErrFeatureNotSupported) Error() string {
	return fmt.Sprintf("feature not supported: %s", e.What)
}

// ErrValidation signals an internal consistency check failing in a debug
// build. In production the parser/validator is assumed correct (spec §6.1)
// and these should be unreachable; they exist so debug builds fail loudly
// instead of emitting miscompiled code.
type ErrValidation struct{ What string }

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error (should be unreachable in production): %s", e.What)
}
