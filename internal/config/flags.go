// Package config holds the handful of process-wide flags the backend
// core reads once at startup and never mutates during emission.
// Configuration is threaded through this function-scoped object rather
// than process-global mutables; Flags is passed by pointer (never
// copied mid-translation) into every component constructor.
package config

import "fmt"

// Flags is the complete set of configuration knobs the backend
// accepts. Every field is read-only for the lifetime of one
// driver.EmitModule call.
type Flags struct {
	// PreciseF32 wraps float32 values in Math_fround.
	PreciseF32 bool

	// EnablePthreads routes volatile memory accesses through atomic
	// helpers.
	EnablePthreads bool

	// WarnUnaligned emits one diagnostic per misaligned memory access.
	WarnUnaligned bool

	// WarnNoncanonicalNaNs emits a diagnostic when a float constant's
	// NaN bit pattern differs from the canonical quiet NaN. Default on.
	WarnNoncanonicalNaNs bool

	// ReservedFunctionPointers is the count of pre-reserved slots per
	// function-pointer table.
	ReservedFunctionPointers int

	// EmulatedFunctionPointers is required when Relocatable is set.
	EmulatedFunctionPointers bool

	// Assertions gates abort() guards on stack-top overflow, etc.
	Assertions int

	// NoAliasingFunctionPointers forces monotonic-increasing global
	// indices across all function-pointer tables.
	NoAliasingFunctionPointers bool

	// GlobalBase is the initial data placement address.
	GlobalBase int

	// Relocatable emits (fb + ... | 0) / (gb + ... | 0) wrappers;
	// requires GlobalBase == 0 and EmulatedFunctionPointers.
	Relocatable bool

	// DebugLines appends "//@line N "file"" trailing comments to
	// emitted instructions that carry source locations.
	DebugLines bool
}

// Default returns the documented default configuration: precise-f32
// off, pthreads off, unaligned warnings off, noncanonical-NaN warnings
// on, zero reserved function pointers, assertions off, global base 0,
// not relocatable.
func Default() Flags {
	return Flags{
		WarnNoncanonicalNaNs: true,
	}
}

// Validate enforces the cross-field invariants, chiefly the ones
// Relocatable mode imposes.
func (f Flags) Validate() error {
	if f.Relocatable {
		if f.GlobalBase != 0 {
			return fmt.Errorf("config: relocatable mode requires global-base == 0, got %d", f.GlobalBase)
		}
		if !f.EmulatedFunctionPointers {
			return fmt.Errorf("config: relocatable mode requires emulated-function-pointers")
		}
	}
	if f.ReservedFunctionPointers < 0 {
		return fmt.Errorf("config: reserved-function-pointers must be >= 0, got %d", f.ReservedFunctionPointers)
	}
	if f.Assertions < 0 {
		return fmt.Errorf("config: assertions level must be >= 0, got %d", f.Assertions)
	}
	if f.GlobalBase < 0 {
		return fmt.Errorf("config: global-base must be >= 0, got %d", f.GlobalBase)
	}
	return nil
}
