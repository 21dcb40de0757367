package compiler

import "github.com/herrcai0907/wasmjit/internal/wasmtypes"

// wrapLimit is a convenience constructor used throughout the driver for the
// handful of implementation limits enforced during compilation (spec §6.6).
func wrapLimit(what wasmtypes.LimitKind, detail string) error {
	return &wasmtypes.ErrImplementationLimitReached{What: what, Detail: detail}
}

func wrapUnsupported(what string) error {
	return &wasmtypes.ErrFeatureNotSupported{What: what}
}
