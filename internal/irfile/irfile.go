// Package irfile reads and writes modules in a msgpack container, the
// interchange format between an IR producer and the asmcore CLI. The
// encoding is a direct shadow of the in-memory arenas; no legalization
// or validation happens here beyond type checks on decode.
package irfile

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"asmcore/internal/ir"
)

// Current schema version - increment when the container format changes
const schemaVersion uint16 = 1

type fileFunc struct {
	ID     ir.FuncID
	Name   string
	Result ir.Type
	Params []ir.Type
	Entry  ir.BlockID
	Blocks []ir.Block
	Values []ir.Value

	LifetimeStarts map[ir.ValueID][]int
	LifetimeEnds   map[ir.ValueID][]int
	DebugLines     map[ir.ValueID]ir.DebugLoc
}

type fileModule struct {
	Schema       uint16
	Name         string
	TargetTriple string
	Globals      []ir.Global
	Funcs        []fileFunc
	Aliases      map[string]string
	Exports      []string
}

// Encode writes m to w.
func Encode(m *ir.Module, w io.Writer) error {
	fm := fileModule{
		Schema:       schemaVersion,
		Name:         m.Name,
		TargetTriple: m.TargetTriple,
		Globals:      m.Globals,
		Aliases:      m.Aliases,
		Exports:      m.Exports,
	}
	for _, fn := range m.Funcs {
		values := make([]ir.Value, fn.NumValues())
		for i := range values {
			v, _ := fn.Value(ir.ValueID(i))
			values[i] = v
		}
		fm.Funcs = append(fm.Funcs, fileFunc{
			ID:             fn.ID,
			Name:           fn.Name,
			Result:         fn.Result,
			Params:         fn.Params,
			Entry:          fn.Entry,
			Blocks:         fn.Blocks,
			Values:         values,
			LifetimeStarts: fn.LifetimeStarts,
			LifetimeEnds:   fn.LifetimeEnds,
			DebugLines:     fn.DebugLines,
		})
	}
	return msgpack.NewEncoder(w).Encode(&fm)
}

// Decode reads a module from r and validates the type of every global
// and every function value; function signatures and per-instruction
// types are not checked.
func Decode(r io.Reader) (*ir.Module, error) {
	var fm fileModule
	if err := msgpack.NewDecoder(r).Decode(&fm); err != nil {
		return nil, fmt.Errorf("irfile: %w", err)
	}
	if fm.Schema != schemaVersion {
		return nil, fmt.Errorf("irfile: schema %d, expected %d", fm.Schema, schemaVersion)
	}
	m := ir.NewModule(fm.Name)
	m.TargetTriple = fm.TargetTriple
	if fm.Aliases != nil {
		m.Aliases = fm.Aliases
	}
	m.Exports = fm.Exports
	for _, g := range fm.Globals {
		if err := g.Type.Validate(); err != nil {
			return nil, fmt.Errorf("irfile: global %q: %w", g.Name, err)
		}
		m.AddGlobal(g)
	}
	for _, ff := range fm.Funcs {
		fn := ir.NewFunc(ff.ID, ff.Name, ff.Result, ff.Params)
		fn.Entry = ff.Entry
		fn.Blocks = ff.Blocks
		if ff.LifetimeStarts != nil {
			fn.LifetimeStarts = ff.LifetimeStarts
		}
		if ff.LifetimeEnds != nil {
			fn.LifetimeEnds = ff.LifetimeEnds
		}
		fn.DebugLines = ff.DebugLines
		for _, v := range ff.Values {
			if err := v.Type.Validate(); err != nil {
				return nil, fmt.Errorf("irfile: function %q value %d: %w", ff.Name, v.ID, err)
			}
			fn.AddValue(v)
		}
		m.AddFunc(fn)
	}
	return m, nil
}
