package funcptr

import (
	"strings"
	"testing"

	"asmcore/internal/config"
	"asmcore/internal/ir"
)

type fakeNamer map[ir.FuncID]string

func (n fakeNamer) Name(fn ir.FuncID) string { return n[fn] }

func TestSignatureOf(t *testing.T) {
	tests := []struct {
		name    string
		result  ir.Type
		params  []ir.Type
		precise bool
		want    string
	}{
		{"void no args", ir.Void, nil, false, "v"},
		{"int int", ir.I32, []ir.Type{ir.I32}, false, "ii"},
		{"pointer counts as i", ir.PtrTy, []ir.Type{ir.PtrTy, ir.I8}, false, "iii"},
		{"double", ir.F64, []ir.Type{ir.F64}, false, "dd"},
		{"float collapses to d without precise-f32", ir.F32, []ir.Type{ir.F32}, false, "dd"},
		{"float stays f with precise-f32", ir.F32, []ir.Type{ir.F32}, true, "ff"},
		{"int vector", ir.Vec(ir.LaneInt, 32, 4), []ir.Type{ir.Vec(ir.LaneFloat, 32, 4)}, false, "IF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SignatureOf(tt.result, tt.params, tt.precise)
			if got != tt.want {
				t.Errorf("SignatureOf = %q, want %q", got, tt.want)
			}
		})
	}
}

// The same function indirectly called twice must land on the same
// index; signature strings depend only on the type and the
// precise-f32 configuration.
func TestIndexOf_Stable(t *testing.T) {
	flags := config.Default()
	tbl := New(&flags)
	first := tbl.IndexOf(ir.FuncID(3), "ii")
	second := tbl.IndexOf(ir.FuncID(3), "ii")
	if first != second {
		t.Fatalf("IndexOf not stable: %d then %d", first, second)
	}
	other := tbl.IndexOf(ir.FuncID(4), "ii")
	if other == first {
		t.Fatalf("distinct functions share index %d", first)
	}
}

func TestIndexOf_ReservedSlotsShiftStart(t *testing.T) {
	flags := config.Default()
	flags.ReservedFunctionPointers = 2
	tbl := New(&flags)
	// 2 reserved entries occupy aligned pairs: 2*(2+1) = 6 leading
	// empty slots.
	if got := tbl.IndexOf(ir.FuncID(1), "v"); got != 6 {
		t.Fatalf("first index with 2 reserved = %d, want 6", got)
	}
}

func TestIndexOf_NoReservedStartsAtTwo(t *testing.T) {
	flags := config.Default()
	tbl := New(&flags)
	if got := tbl.IndexOf(ir.FuncID(1), "v"); got != 2 {
		t.Fatalf("first index = %d, want 2", got)
	}
}

func TestIndexOf_NoAliasingIsGloballyMonotonic(t *testing.T) {
	flags := config.Default()
	flags.NoAliasingFunctionPointers = true
	tbl := New(&flags)

	a := tbl.IndexOf(ir.FuncID(1), "ii")
	b := tbl.IndexOf(ir.FuncID(2), "v")
	c := tbl.IndexOf(ir.FuncID(3), "ii")
	if !(a < b && b < c) {
		t.Fatalf("indices not globally increasing: %d, %d, %d", a, b, c)
	}
}

func TestDefinition_PadsToPowerOfTwo(t *testing.T) {
	flags := config.Default()
	tbl := New(&flags)
	tbl.IndexOf(ir.FuncID(1), "ii") // index 2; table has 3 entries -> padded to 4
	def := tbl.Definition("ii", fakeNamer{1: "_add"})
	want := "var FUNCTION_TABLE_ii = [0,0,_add,0];"
	if def != want {
		t.Fatalf("Definition = %q, want %q", def, want)
	}
	if tbl.Mask("ii") != 3 {
		t.Fatalf("Mask = %d, want 3", tbl.Mask("ii"))
	}
}

func TestCallExpr_UsesPlaceholderThenPatches(t *testing.T) {
	flags := config.Default()
	tbl := New(&flags)
	expr, err := tbl.CallExpr("ii", "$p|0", []string{"$x|0"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(expr, "FUNCTION_TABLE_ii[($p|0)&#FM_ii#]($x|0)") {
		t.Fatalf("CallExpr = %q", expr)
	}
	patched := tbl.PatchMasks(expr)
	if strings.Contains(patched, "#FM_") {
		t.Fatalf("mask placeholder survived patching: %q", patched)
	}
}
