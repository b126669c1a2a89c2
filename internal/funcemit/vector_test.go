package funcemit

import (
	"strings"
	"testing"

	"asmcore/internal/alloca"
	"asmcore/internal/config"
	"asmcore/internal/ir"
)

// chainFunc builds an insertelement chain filling all four lanes of a
// <4 x i32> from the given per-lane source values, consumed by a
// store so the head has a user.
func chainFunc(t *testing.T, laneVals func(fn *ir.Func) [4]ir.ValueID) (*ir.Func, ir.ValueID) {
	t.Helper()
	fn := ir.NewFunc(0, "vec", ir.Void, nil)
	vt := ir.Vec(ir.LaneInt, 32, 4)

	vals := laneVals(fn)
	undef := fn.AddValue(ir.Value{Kind: ir.ValUndef, Type: vt})
	ptr := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.PtrTy, Name: "p"})

	var idxIDs [4]ir.ValueID
	for i := range idxIDs {
		idxIDs[i] = fn.AddValue(ir.Value{Kind: ir.ValConst, Type: ir.I32,
			Const: ir.Const{Kind: ir.ConstInt, Type: ir.I32, IntVal: int64(i)}})
	}

	prev := undef
	var results [4]ir.ValueID
	var instrs []ir.Instr
	for i := 0; i < 4; i++ {
		results[i] = fn.AddValue(ir.Value{Kind: ir.ValInstr, Type: vt, Block: 0, Opcode: ir.OpInsertElement})
		instrs = append(instrs, ir.Instr{
			Result: results[i], Op: ir.OpInsertElement,
			VecBase: prev, VecElem: vals[i], VecIndex: idxIDs[i],
		})
		prev = results[i]
	}
	instrs = append(instrs, ir.Instr{
		Op: ir.OpStore, Ptr: ptr, Val: prev, Type: vt, Mem: ir.MemAttrs{Align: 16},
	})
	fn.Entry = 0
	fn.Blocks = []ir.Block{{ID: 0, Instrs: instrs, Term: ir.Terminator{Kind: ir.TermRet}}}
	return fn, prev
}

// An insertelement chain filling all four lanes with the same operand
// collapses to a splat.
func TestInsertChain_SameOperandIsSplat(t *testing.T) {
	fn, _ := chainFunc(t, func(fn *ir.Func) [4]ir.ValueID {
		x := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.I32, Name: "x"})
		return [4]ir.ValueID{x, x, x, x}
	})

	flags := config.Default()
	e := newTestEmitter(&flags)
	ctx := NewContext(fn, &alloca.Plan{})
	body, err := e.RenderBlockBody(ctx, &fn.Blocks[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "SIMD_Int32x4_splat($x)") {
		t.Fatalf("expected splat, got:\n%s", body)
	}
	if strings.Contains(body, "replaceLane") {
		t.Fatalf("interior chain links must fold away:\n%s", body)
	}
}

// Four distinct operands collapse to a constructor.
func TestInsertChain_DistinctOperandsIsConstructor(t *testing.T) {
	fn, _ := chainFunc(t, func(fn *ir.Func) [4]ir.ValueID {
		var out [4]ir.ValueID
		for i, name := range []string{"x", "y", "z", "w"} {
			out[i] = fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.I32, Name: name})
		}
		return out
	})

	flags := config.Default()
	e := newTestEmitter(&flags)
	ctx := NewContext(fn, &alloca.Plan{})
	body, err := e.RenderBlockBody(ctx, &fn.Blocks[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "SIMD_Int32x4($x, $y, $z, $w)") {
		t.Fatalf("expected constructor, got:\n%s", body)
	}
}

func TestVectorBinOpAndXorNot(t *testing.T) {
	fn := ir.NewFunc(0, "v", ir.Void, nil)
	vt := ir.Vec(ir.LaneInt, 32, 4)
	a := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: vt, Name: "a"})
	b := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: vt, Name: "b"})
	ones := fn.AddValue(ir.Value{Kind: ir.ValConst, Type: vt, Const: ir.Const{
		Kind: ir.ConstVector, Type: vt, Lanes: []ir.Const{
			{Kind: ir.ConstInt, IntVal: -1}, {Kind: ir.ConstInt, IntVal: -1},
			{Kind: ir.ConstInt, IntVal: -1}, {Kind: ir.ConstInt, IntVal: -1},
		}}})
	sum := fn.AddValue(ir.Value{Kind: ir.ValInstr, Type: vt, Name: "sum", Block: 0, Opcode: ir.OpAdd})
	inv := fn.AddValue(ir.Value{Kind: ir.ValInstr, Type: vt, Name: "inv", Block: 0, Opcode: ir.OpXor})
	ptr := fn.AddValue(ir.Value{Kind: ir.ValArg, Type: ir.PtrTy, Name: "p"})
	fn.Entry = 0
	fn.Blocks = []ir.Block{{
		ID: 0,
		Instrs: []ir.Instr{
			{Result: sum, Op: ir.OpAdd, A: a, B: b},
			{Result: inv, Op: ir.OpXor, A: sum, B: ones},
			{Op: ir.OpStore, Ptr: ptr, Val: inv, Type: vt, Mem: ir.MemAttrs{Align: 16}},
		},
		Term: ir.Terminator{Kind: ir.TermRet},
	}}

	flags := config.Default()
	e := newTestEmitter(&flags)
	ctx := NewContext(fn, &alloca.Plan{})
	body, err := e.RenderBlockBody(ctx, &fn.Blocks[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body, "SIMD_Int32x4_add($a, $b)") {
		t.Errorf("missing vector add:\n%s", body)
	}
	if !strings.Contains(body, "SIMD_Int32x4_not($sum)") {
		t.Errorf("xor with all-ones must lower to not:\n%s", body)
	}
	if !strings.Contains(body, "SIMD_Int32x4_store(HEAPU8, $p, $inv)") {
		t.Errorf("missing vector store:\n%s", body)
	}
}
