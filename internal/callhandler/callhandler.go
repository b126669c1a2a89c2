// Package callhandler dispatches named runtime intrinsics to their
// per-name lowering rules. The table is a closed sum: adding an
// intrinsic means registering one more handler, never patching the
// emitter's control flow.
package callhandler

import (
	"fmt"
	"sort"
	"strings"

	"asmcore/internal/ir"
)

// Handler renders one intrinsic call. args are the already-coerced
// argument expressions; t is the call's result type.
type Handler func(call ir.Callee, args []string, t ir.Type) (string, error)

// Registry maps intrinsic names to handlers. A miss is not an error;
// the function emitter falls back to a plain direct call, so unknown
// runtime functions pass through untouched.
type Registry struct {
	handlers  map[string]Handler
	AsmConsts *AsmConstTable
}

// New builds a Registry preloaded with the default intrinsic set.
func New() *Registry {
	r := &Registry{
		handlers:  make(map[string]Handler),
		AsmConsts: NewAsmConstTable(),
	}
	r.registerDefaults()
	return r
}

// Register installs (or replaces) the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Dispatch renders call if a handler for its name exists. ok reports
// whether one did.
func (r *Registry) Dispatch(call ir.Callee, args []string, t ir.Type) (string, bool, error) {
	h, ok := r.handlers[call.Intrinsic]
	if !ok {
		return "", false, nil
	}
	text, err := h(call, args, t)
	return text, true, err
}

// IsNoOp reports whether name is an intrinsic that lowers to nothing,
// so the metadata block can filter it out of the declared externals.
func IsNoOp(name string) bool {
	switch name {
	case "llvm.lifetime.start", "llvm.lifetime.end",
		"llvm.invariant.start", "llvm.invariant.end",
		"llvm.dbg.declare", "llvm.dbg.value", "llvm.prefetch":
		return true
	}
	return false
}

func (r *Registry) registerDefaults() {
	noop := func(ir.Callee, []string, ir.Type) (string, error) { return "", nil }
	for _, name := range []string{
		"llvm.lifetime.start", "llvm.lifetime.end",
		"llvm.invariant.start", "llvm.invariant.end",
		"llvm.dbg.declare", "llvm.dbg.value", "llvm.prefetch",
	} {
		r.Register(name, noop)
	}

	runtime := func(target string, coerceInt bool) Handler {
		return func(_ ir.Callee, args []string, _ ir.Type) (string, error) {
			text := fmt.Sprintf("%s(%s)", target, strings.Join(args, ", "))
			if coerceInt {
				text += "|0"
			}
			return text, nil
		}
	}
	r.Register("llvm.memcpy.p0i8.p0i8.i32", runtime("_memcpy", true))
	r.Register("llvm.memmove.p0i8.p0i8.i32", runtime("_memmove", true))
	r.Register("llvm.memset.p0i8.i32", runtime("_memset", true))

	math1 := func(target string) Handler {
		return func(_ ir.Callee, args []string, t ir.Type) (string, error) {
			if len(args) != 1 {
				return "", fmt.Errorf("callhandler: %s expects 1 argument, got %d", target, len(args))
			}
			return fmt.Sprintf("%s(%s)", target, args[0]), nil
		}
	}
	r.Register("llvm.sqrt.f32", math1("Math_sqrt"))
	r.Register("llvm.sqrt.f64", math1("Math_sqrt"))
	r.Register("llvm.fabs.f32", math1("Math_abs"))
	r.Register("llvm.fabs.f64", math1("Math_abs"))
	r.Register("llvm.ctlz.i32", math1("Math_clz32"))
	r.Register("llvm.pow.f64", func(_ ir.Callee, args []string, _ ir.Type) (string, error) {
		if len(args) != 2 {
			return "", fmt.Errorf("callhandler: llvm.pow.f64 expects 2 arguments, got %d", len(args))
		}
		return fmt.Sprintf("Math_pow(%s, %s)", args[0], args[1]), nil
	})

	asmConst := func(suffix string) Handler {
		return func(call ir.Callee, args []string, _ ir.Type) (string, error) {
			// The first IR argument is the pointer to the code string;
			// the call site resolved it into call.Literal, and only the
			// remaining arguments travel to the runtime helper.
			rest := args
			if len(rest) > 0 {
				rest = rest[1:]
			}
			id := r.AsmConsts.Add(call.Literal, len(rest))
			all := append([]string{fmt.Sprintf("%d", id)}, rest...)
			return fmt.Sprintf("_emscripten_asm_const_%s(%s)", suffix, strings.Join(all, ", ")), nil
		}
	}
	r.Register("emscripten_asm_const", asmConst("v"))
	r.Register("emscripten_asm_const_int", asmConst("i"))
	r.Register("emscripten_asm_const_double", asmConst("d"))
}

// AsmConstTable assigns ids to asm-const code strings by first-seen
// order and tracks the distinct argument counts observed per string.
type AsmConstTable struct {
	ids     map[string]int
	codes   []string
	arities []map[int]bool
}

// NewAsmConstTable creates an empty table.
func NewAsmConstTable() *AsmConstTable {
	return &AsmConstTable{ids: make(map[string]int)}
}

// Add records one call site of code with the given arity and returns
// the code's id.
func (t *AsmConstTable) Add(code string, arity int) int {
	id, ok := t.ids[code]
	if !ok {
		id = len(t.codes)
		t.ids[code] = id
		t.codes = append(t.codes, code)
		t.arities = append(t.arities, make(map[int]bool))
	}
	t.arities[id][arity] = true
	return id
}

// Len reports the number of distinct code strings.
func (t *AsmConstTable) Len() int { return len(t.codes) }

// Code returns the source string for id.
func (t *AsmConstTable) Code(id int) string { return t.codes[id] }

// Arities returns the sorted distinct arities observed for id.
func (t *AsmConstTable) Arities(id int) []int {
	var out []int
	for a := range t.arities[id] {
		out = append(out, a)
	}
	sort.Ints(out)
	return out
}
