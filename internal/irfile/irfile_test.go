package irfile

import (
	"bytes"
	"testing"

	"asmcore/internal/ir"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := ir.NewModule("demo")
	m.TargetTriple = ir.ExpectedTargetTriple
	m.Aliases["dup"] = "orig"
	m.AddGlobal(ir.Global{Name: "g", Type: ir.I32, Align: 4,
		Init: &ir.Const{Kind: ir.ConstInt, Type: ir.I32, IntVal: 7}})

	fn := ir.NewFunc(0, "f", ir.I32, []ir.Type{ir.I32})
	a := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.I32, Name: "a"})
	fn.Entry = 0
	fn.Blocks = []ir.Block{{
		ID:   0,
		Term: ir.Terminator{Kind: ir.TermRet, HasRetVal: true, RetVal: a},
	}}
	m.AddFunc(fn)

	var buf bytes.Buffer
	if err := Encode(m, &buf); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if got.Name != "demo" || got.TargetTriple != ir.ExpectedTargetTriple {
		t.Fatalf("module header mismatch: %+v", got)
	}
	if got.Aliases["dup"] != "orig" {
		t.Fatalf("aliases lost: %v", got.Aliases)
	}
	if len(got.Globals) != 1 || got.Globals[0].Init == nil || got.Globals[0].Init.IntVal != 7 {
		t.Fatalf("globals mismatch: %+v", got.Globals)
	}
	gf := got.Func(0)
	if gf == nil || gf.Name != "f" || gf.NumValues() != 1 {
		t.Fatalf("function mismatch: %+v", gf)
	}
	if v, ok := gf.Value(a); !ok || v.Name != "a" || v.Kind != ir.ValArg {
		t.Fatalf("value arena mismatch: %+v", v)
	}
	if got.FuncByName["f"] != 0 {
		t.Fatal("FuncByName not rebuilt")
	}
}

func TestDecode_RejectsBadType(t *testing.T) {
	m := ir.NewModule("bad")
	m.AddGlobal(ir.Global{Name: "g", Type: ir.Vec(ir.LaneInt, 7, 4)})
	var buf bytes.Buffer
	if err := Encode(m, &buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(&buf); err == nil {
		t.Fatal("invalid lane width must fail decode")
	}
}
