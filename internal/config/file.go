package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// fileFlags mirrors Flags but with toml tags, decoding into a private
// shadow struct before copying into the public type.
type fileFlags struct {
	Backend struct {
		PreciseF32                 bool `toml:"precise_f32"`
		EnablePthreads             bool `toml:"enable_pthreads"`
		WarnUnaligned              bool `toml:"warn_unaligned"`
		WarnNoncanonicalNaNs       *bool `toml:"warn_noncanonical_nans"`
		ReservedFunctionPointers   int  `toml:"reserved_function_pointers"`
		EmulatedFunctionPointers   bool `toml:"emulated_function_pointers"`
		Assertions                 int  `toml:"assertions"`
		NoAliasingFunctionPointers bool `toml:"no_aliasing_function_pointers"`
		GlobalBase                 int  `toml:"global_base"`
		Relocatable                bool `toml:"relocatable"`
		DebugLines                 bool `toml:"debug_lines"`
	} `toml:"backend"`
}

// LoadFile decodes the [backend] table of a project TOML file into a
// Flags value seeded from Default(), so an unset WarnNoncanonicalNaNs
// preserves its documented default-on behavior.
func LoadFile(path string) (Flags, error) {
	f := Default()
	var shadow fileFlags
	shadow.Backend.WarnNoncanonicalNaNs = nil
	meta, err := toml.DecodeFile(path, &shadow)
	if err != nil {
		return Flags{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if !meta.IsDefined("backend") {
		return f, nil
	}
	f.PreciseF32 = shadow.Backend.PreciseF32
	f.EnablePthreads = shadow.Backend.EnablePthreads
	f.WarnUnaligned = shadow.Backend.WarnUnaligned
	if shadow.Backend.WarnNoncanonicalNaNs != nil {
		f.WarnNoncanonicalNaNs = *shadow.Backend.WarnNoncanonicalNaNs
	}
	f.ReservedFunctionPointers = shadow.Backend.ReservedFunctionPointers
	f.EmulatedFunctionPointers = shadow.Backend.EmulatedFunctionPointers
	f.Assertions = shadow.Backend.Assertions
	f.NoAliasingFunctionPointers = shadow.Backend.NoAliasingFunctionPointers
	f.GlobalBase = shadow.Backend.GlobalBase
	f.Relocatable = shadow.Backend.Relocatable
	f.DebugLines = shadow.Backend.DebugLines
	return f, f.Validate()
}
