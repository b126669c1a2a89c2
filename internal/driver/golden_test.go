package driver

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"asmcore/internal/diag"
	"asmcore/internal/ir"
)

// addModule builds: define i32 @add(i32 %a, i32 %b) { %r = add; ret %r }
func addModule() *ir.Module {
	m := ir.NewModule("add")
	fn := ir.NewFunc(0, "add", ir.I32, []ir.Type{ir.I32, ir.I32})
	a := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.I32, Name: "a"})
	b := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.I32, Name: "b"})
	r := fn.AddValue(ir.Value{Kind: ir.ValInstr, Type: ir.I32, Name: "r", Block: 0, Opcode: ir.OpAdd})
	fn.Entry = 0
	fn.Blocks = []ir.Block{{
		ID:     0,
		Instrs: []ir.Instr{{Result: r, Op: ir.OpAdd, A: a, B: b}},
		Term:   ir.Terminator{Kind: ir.TermRet, HasRetVal: true, RetVal: r},
	}}
	m.AddFunc(fn)
	return m
}

func emit(t *testing.T, m *ir.Module, opts Options) (string, *diag.Bag) {
	t.Helper()
	var buf bytes.Buffer
	bag, err := EmitModule(m, opts, &buf)
	if err != nil {
		t.Fatalf("EmitModule: %v\ndiagnostics: %v", err, bag.Items())
	}
	return buf.String(), bag
}

func TestEmit_AddFunction(t *testing.T) {
	out, _ := emit(t, addModule(), Options{})

	for _, frag := range []string{
		"// EMSCRIPTEN_START_FUNCTIONS",
		"function _add($a,$b){",
		"$a = $a|0;",
		"$b = $b|0;",
		"$r = ($a + $b)|0;",
		"return $r|0;",
		"// EMSCRIPTEN_END_FUNCTIONS",
		"// EMSCRIPTEN_METADATA",
		`"implementedFunctions": ["_add"]`,
	} {
		if !strings.Contains(out, frag) {
			t.Errorf("missing %q in output:\n%s", frag, out)
		}
	}

	funcs := strings.Index(out, "// EMSCRIPTEN_START_FUNCTIONS")
	end := strings.Index(out, "// EMSCRIPTEN_END_FUNCTIONS")
	meta := strings.Index(out, "// EMSCRIPTEN_METADATA")
	if !(funcs < end && end < meta) {
		t.Fatalf("output sections out of order: %d %d %d", funcs, end, meta)
	}
}

// Global @g = i32 42 at alignment 4 with global-base 8 lands at
// address 8 and leads the memory initializer with [42,0,0,0].
func TestEmit_GlobalImage(t *testing.T) {
	m := addModule()
	m.AddGlobal(ir.Global{Name: "g", Type: ir.I32, Align: 4,
		Init: &ir.Const{Kind: ir.ConstInt, Type: ir.I32, IntVal: 42}})

	opts := Options{}
	opts.Flags.WarnNoncanonicalNaNs = true
	opts.Flags.GlobalBase = 8
	out, _ := emit(t, m, opts)

	if !strings.Contains(out, `allocate([42,0,0,0], "i8", ALLOC_NONE, Runtime.GLOBAL_BASE);`) {
		t.Errorf("memory initializer missing or wrong:\n%s", out)
	}
	if !strings.Contains(out, `"namedGlobals": {"_g": 8}`) {
		t.Errorf("named global address wrong:\n%s", out)
	}
}

// A store wider than its declared alignment decomposes into the
// byte-by-byte OR pattern with shifts 0/8/16/24.
func TestEmit_MisalignedStore(t *testing.T) {
	m := ir.NewModule("mis")
	fn := ir.NewFunc(0, "put", ir.Void, []ir.Type{ir.I32, ir.I32})
	p := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.PtrTy, Name: "p"})
	v := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.I32, Name: "v"})
	fn.Entry = 0
	fn.Blocks = []ir.Block{{
		ID: 0,
		Instrs: []ir.Instr{{
			Op: ir.OpStore, Ptr: p, Val: v, Type: ir.I32, Mem: ir.MemAttrs{Align: 1},
		}},
		Term: ir.Terminator{Kind: ir.TermRet},
	}}
	m.AddFunc(fn)

	out, _ := emit(t, m, Options{})
	for _, frag := range []string{">>>8", ">>>16", ">>>24"} {
		if !strings.Contains(out, frag) {
			t.Errorf("missing shift %q in:\n%s", frag, out)
		}
	}
}

// The switch scenario: three distinct cases on one successor fold
// into a single OR-labeled branch.
func TestEmit_SwitchDedup(t *testing.T) {
	m := ir.NewModule("sw")
	fn := ir.NewFunc(0, "pick", ir.I32, []ir.Type{ir.I32})
	x := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.I32, Name: "x"})
	one := fn.AddValue(ir.Value{Kind: ir.ValConst, Type: ir.I32, Const: ir.Const{Kind: ir.ConstInt, Type: ir.I32, IntVal: 1}})
	zero := fn.AddValue(ir.Value{Kind: ir.ValConst, Type: ir.I32, Const: ir.Const{Kind: ir.ConstInt, Type: ir.I32, IntVal: 0}})
	fn.Entry = 0
	fn.Blocks = []ir.Block{
		{ID: 0, Term: ir.Terminator{
			Kind: ir.TermSwitch, SwitchVal: x,
			SwitchCases: []ir.SwitchCase{
				{Value: 1, Dest: 1}, {Value: 2, Dest: 1}, {Value: 3, Dest: 1},
			},
			SwitchDefault: 2,
		}},
		{ID: 1, Term: ir.Terminator{Kind: ir.TermRet, HasRetVal: true, RetVal: one}},
		{ID: 2, Term: ir.Terminator{Kind: ir.TermRet, HasRetVal: true, RetVal: zero}},
	}
	m.AddFunc(fn)

	out, _ := emit(t, m, Options{})
	want := "($x|0) == 1 | ($x|0) == 2 | ($x|0) == 3"
	if !strings.Contains(out, want) {
		t.Errorf("missing OR-folded case test %q in:\n%s", want, out)
	}
	if strings.Count(out, "label = 1;") != 1 {
		t.Errorf("successor 1 must be targeted exactly once:\n%s", out)
	}
}

// A non-canonical NaN constant produces a warning diagnostic and the
// literal "nan".
func TestEmit_NoncanonicalNaNWarns(t *testing.T) {
	m := ir.NewModule("nan")
	fn := ir.NewFunc(0, "f", ir.F32, nil)
	c := fn.AddValue(ir.Value{Kind: ir.ValConst, Type: ir.F32,
		Const: ir.Const{Kind: ir.ConstFloat, Type: ir.F32, FloatBits: 0x7FC00001}})
	fn.Entry = 0
	fn.Blocks = []ir.Block{{
		ID:   0,
		Term: ir.Terminator{Kind: ir.TermRet, HasRetVal: true, RetVal: c},
	}}
	m.AddFunc(fn)

	opts := Options{}
	opts.Flags.WarnNoncanonicalNaNs = true
	out, bag := emit(t, m, opts)

	if !strings.Contains(out, "nan") {
		t.Errorf("missing nan literal:\n%s", out)
	}
	found := false
	for _, d := range bag.Items() {
		if d.Code == diag.CodeNoncanonicalNaN {
			found = true
		}
	}
	if !found {
		t.Errorf("expected non-canonical NaN diagnostic, got %v", bag.Items())
	}
}

// An indirect call allocates a table slot; the table definition is
// padded to a power of two and the call's mask placeholder is patched.
func TestEmit_FunctionTable(t *testing.T) {
	m := ir.NewModule("tbl")

	callee := ir.NewFunc(0, "target", ir.I32, []ir.Type{ir.I32})
	ca := callee.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.I32, Name: "n"})
	callee.Entry = 0
	callee.Blocks = []ir.Block{{
		ID:   0,
		Term: ir.Terminator{Kind: ir.TermRet, HasRetVal: true, RetVal: ca},
	}}
	m.AddFunc(callee)

	caller := ir.NewFunc(1, "go", ir.I32, []ir.Type{ir.I32})
	fp := caller.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.PtrTy, Name: "fp"})
	arg := caller.AddValue(ir.Value{Kind: ir.ValConst, Type: ir.I32, Const: ir.Const{Kind: ir.ConstInt, Type: ir.I32, IntVal: 9}})
	res := caller.AddValue(ir.Value{Kind: ir.ValInstr, Type: ir.I32, Name: "res", Block: 0, Opcode: ir.OpCall})
	caller.Entry = 0
	caller.Blocks = []ir.Block{{
		ID: 0,
		Instrs: []ir.Instr{{
			Result: res, Op: ir.OpCall,
			Call: ir.Callee{Kind: ir.CalleeIndirect, Indirect: fp, TableSig: "ii"},
			Args: []ir.ValueID{arg}, CallType: ir.I32,
		}},
		Term: ir.Terminator{Kind: ir.TermRet, HasRetVal: true, RetVal: res},
	}}
	m.AddFunc(caller)

	// A function-address global forces target into the ii table.
	m.AddGlobal(ir.Global{Name: "fptr", Type: ir.PtrTy, Align: 4,
		Init: &ir.Const{Kind: ir.ConstFuncAddr, Type: ir.PtrTy, Func: 0, GlobalSig: "ii"}})

	out, _ := emit(t, m, Options{})
	if strings.Contains(out, "#FM_") {
		t.Errorf("unpatched mask placeholder in:\n%s", out)
	}
	if !strings.Contains(out, "FUNCTION_TABLE_ii[") {
		t.Errorf("missing indirect call in:\n%s", out)
	}
	if !strings.Contains(out, `"tables": {"ii": "var FUNCTION_TABLE_ii = [0,0,_target,0];"}`) {
		t.Errorf("table definition wrong in:\n%s", out)
	}
}

func TestEmit_WrongTripleWarns(t *testing.T) {
	m := addModule()
	m.TargetTriple = "x86_64-unknown-linux"
	_, bag := emit(t, m, Options{})
	found := false
	for _, d := range bag.Items() {
		if d.Code == diag.CodeWrongTargetTriple {
			found = true
		}
	}
	if !found {
		t.Errorf("expected wrong-triple warning, got %v", bag.Items())
	}
}

func TestEmit_RelocatableRequiresEmulatedPointers(t *testing.T) {
	opts := Options{}
	opts.Flags.Relocatable = true
	var buf bytes.Buffer
	if _, err := EmitModule(addModule(), opts, &buf); err == nil {
		t.Fatal("relocatable without emulated function pointers must fail validation")
	}
}

func TestEmitModules_Concurrent(t *testing.T) {
	var out1, out2 bytes.Buffer
	units := []Unit{
		{Name: "a", Module: addModule(), Out: &out1},
		{Name: "b", Module: addModule(), Out: &out2},
	}
	var events []Event
	var mu sync.Mutex
	bag, err := EmitModules(context.Background(), units, Options{}, 2, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("EmitModules: %v (%v)", err, bag.Items())
	}
	if out1.Len() == 0 || out2.Len() == 0 {
		t.Fatal("both modules must produce output")
	}
	done := 0
	for _, ev := range events {
		if ev.Status == StatusDone {
			done++
		}
	}
	if done != 2 {
		t.Fatalf("done events = %d, want 2", done)
	}
}
