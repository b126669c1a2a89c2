package callhandler

import (
	"testing"

	"asmcore/internal/ir"
)

func TestDispatch_UnknownNameFallsThrough(t *testing.T) {
	r := New()
	_, ok, err := r.Dispatch(ir.Callee{Kind: ir.CalleeIntrinsic, Intrinsic: "totally_unknown"}, nil, ir.Void)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("unknown intrinsic must not be handled")
	}
}

func TestDispatch_LifetimeMarkersLowerToNothing(t *testing.T) {
	r := New()
	text, ok, err := r.Dispatch(ir.Callee{Kind: ir.CalleeIntrinsic, Intrinsic: "llvm.lifetime.start"}, []string{"16", "$p|0"}, ir.Void)
	if err != nil || !ok {
		t.Fatalf("lifetime.start must be handled, ok=%v err=%v", ok, err)
	}
	if text != "" {
		t.Fatalf("lifetime.start must lower to nothing, got %q", text)
	}
	if !IsNoOp("llvm.lifetime.start") || IsNoOp("llvm.memcpy.p0i8.p0i8.i32") {
		t.Fatal("IsNoOp classification wrong")
	}
}

func TestDispatch_Memcpy(t *testing.T) {
	r := New()
	text, ok, err := r.Dispatch(ir.Callee{Kind: ir.CalleeIntrinsic, Intrinsic: "llvm.memcpy.p0i8.p0i8.i32"},
		[]string{"$d|0", "$s|0", "12"}, ir.PtrTy)
	if err != nil || !ok {
		t.Fatalf("memcpy must be handled, ok=%v err=%v", ok, err)
	}
	if text != "_memcpy($d|0, $s|0, 12)|0" {
		t.Fatalf("memcpy text = %q", text)
	}
}

func TestDispatch_RegisterOverrides(t *testing.T) {
	r := New()
	r.Register("llvm.sqrt.f64", func(_ ir.Callee, args []string, _ ir.Type) (string, error) {
		return "custom(" + args[0] + ")", nil
	})
	text, ok, _ := r.Dispatch(ir.Callee{Kind: ir.CalleeIntrinsic, Intrinsic: "llvm.sqrt.f64"}, []string{"+$x"}, ir.F64)
	if !ok || text != "custom(+$x)" {
		t.Fatalf("override not applied: %q", text)
	}
}

func TestAsmConst_IdsByFirstSeenOrderAndArities(t *testing.T) {
	r := New()
	call := func(code string, args ...string) string {
		text, ok, err := r.Dispatch(ir.Callee{
			Kind: ir.CalleeIntrinsic, Intrinsic: "emscripten_asm_const_int", Literal: code,
		}, args, ir.I32)
		if err != nil || !ok {
			t.Fatalf("asm const dispatch failed: ok=%v err=%v", ok, err)
		}
		return text
	}

	first := call("console.log('a')", "$ptr|0")
	second := call("alert(1)", "$ptr|0", "$x|0")
	again := call("console.log('a')", "$ptr|0", "$x|0", "$y|0")

	if first != "_emscripten_asm_const_i(0)" {
		t.Errorf("first = %q", first)
	}
	if second != "_emscripten_asm_const_i(1, $x|0)" {
		t.Errorf("second = %q", second)
	}
	if again != "_emscripten_asm_const_i(0, $x|0, $y|0)" {
		t.Errorf("repeat code must reuse id 0: %q", again)
	}

	if r.AsmConsts.Len() != 2 {
		t.Fatalf("distinct codes = %d, want 2", r.AsmConsts.Len())
	}
	arities := r.AsmConsts.Arities(0)
	if len(arities) != 2 || arities[0] != 0 || arities[1] != 2 {
		t.Fatalf("arities of id 0 = %v, want [0 2]", arities)
	}
}
