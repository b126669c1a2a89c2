// Package relooper defines the structured-control-flow collaborator
// contract: the shape FunctionEmitter hands a CFG
// reconstruction algorithm in, and the shape it gets structured output
// back in. The reconstruction algorithm itself (loop/multi-way-branch
// discovery) is out of scope here — this package is the boundary, not
// an implementation, and is designed so a real algorithm can be
// substituted behind Reconstructor without FunctionEmitter changing.
package relooper

import (
	"errors"

	"asmcore/internal/ir"
)

// ErrEmulatedUnreachable stands in for the emulated-dispatch fallback
// a reconstructor could take for an unstructurable CFG. CanReloop
// below always reports true, so no caller ever observes this error;
// it exists so the branch is representable without being buildable.
var ErrEmulatedUnreachable = errors.New("relooper: emulated control flow requested for reloopable CFG")

// Edge is one outgoing branch from a block, with the label
// StructuredCFG should attach to it (a case string for a switch arm,
// nil for an unconditional/default/indirect edge) and the textual phi
// epilogue FunctionEmitter computed for this (from, to) pair.
type Edge struct {
	Label    *string
	Target   ir.BlockID
	Epilogue string
}

// Block is one basic block's already-rendered textual body plus the
// control data StructuredCFG needs to decide how to stitch it into
// the surrounding structure.
type Block struct {
	ID        ir.BlockID
	Body      string
	Condition string // non-empty for br-cond/switch/indirectbr blocks
	Edges     []Edge
}

// CFG is the complete per-function input to Reconstruct: every block
// in IR order plus the entry point.
type CFG struct {
	Entry  ir.BlockID
	Blocks []Block
}

// Reconstructor turns a CFG into structured control-flow text (nested
// if/else, while/do, and labeled-continue/break loops in place of raw
// branches). FunctionEmitter depends on this interface, not a
// concrete implementation, so the core's own tests can supply a
// trivial reconstructor without pulling in the real algorithm.
type Reconstructor interface {
	Reconstruct(cfg CFG) (string, error)
}

// CanReloop always reports true. The upstream algorithm this contract
// stands in for has an "emulated" fallback path for CFGs it cannot
// structure, but that path is unreachable in practice for
// pre-legalized input.
func CanReloop(CFG) bool { return true }
