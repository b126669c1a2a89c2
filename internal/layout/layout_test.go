package layout

import (
	"strings"
	"testing"

	"asmcore/internal/config"
	"asmcore/internal/diag"
	"asmcore/internal/ir"
	"asmcore/internal/postinit"
)

type fakeIndexer struct{}

func (fakeIndexer) IndexOf(fn ir.FuncID, sig string) int { return 7 }

func newEngine(t *testing.T, flags config.Flags) (*Engine, *postinit.Queue) {
	t.Helper()
	post := postinit.New()
	return New(&flags, diag.NewBag(), post), post
}

func i32Const(v int64) *ir.Const {
	return &ir.Const{Kind: ir.ConstInt, Type: ir.I32, IntVal: v}
}

// A single i32 global at alignment 4 with global base 8 lands exactly
// at address 8, and its image bytes are the little-endian word.
func TestSingleGlobalAtBase(t *testing.T) {
	flags := config.Default()
	flags.GlobalBase = 8

	m := ir.NewModule("m")
	id := m.AddGlobal(ir.Global{Name: "g", Type: ir.I32, Align: 4, Init: i32Const(42)})

	eng, _ := newEngine(t, flags)
	if err := eng.Calculate(m); err != nil {
		t.Fatal(err)
	}
	eng.Assign()

	addr, ok := eng.AbsoluteAddress(id)
	if !ok || addr != 8 {
		t.Fatalf("AbsoluteAddress = %d, %v; want 8, true", addr, ok)
	}

	img, err := eng.Serialize(m, fakeIndexer{})
	if err != nil {
		t.Fatal(err)
	}
	if len(img) != 4 {
		t.Fatalf("image size = %d, want 4", len(img))
	}
	want := []byte{42, 0, 0, 0}
	for i, b := range want {
		if img[i] != b {
			t.Fatalf("img = %v, want %v", img, want)
		}
	}
}

// Every global's absolute address is a multiple of its alignment.
func TestAddressAlignment(t *testing.T) {
	flags := config.Default()
	flags.GlobalBase = 3 // deliberately misaligned base

	m := ir.NewModule("m")
	specs := []struct {
		name  string
		typ   ir.Type
		align int
	}{
		{"a", ir.I8, 1},
		{"b", ir.F64, 8},
		{"c", ir.I16, 2},
		{"d", ir.I32, 4},
		{"e", ir.I8, 1},
		{"f", ir.F64, 8},
	}
	ids := make([]ir.GlobalID, len(specs))
	for i, s := range specs {
		ids[i] = m.AddGlobal(ir.Global{Name: s.name, Type: s.typ, Align: s.align, Init: i32Const(1)})
	}

	eng, _ := newEngine(t, flags)
	if err := eng.Calculate(m); err != nil {
		t.Fatal(err)
	}
	eng.Assign()

	for i, s := range specs {
		addr, ok := eng.AbsoluteAddress(ids[i])
		if !ok {
			t.Fatalf("global %q not laid out", s.name)
		}
		if addr%s.align != 0 {
			t.Errorf("global %q at %d violates alignment %d", s.name, addr, s.align)
		}
	}
}

// Buckets are laid out in decreasing alignment order: the start of a
// larger-aligned bucket precedes the start of any smaller-aligned one.
func TestBucketOrdering(t *testing.T) {
	flags := config.Default()
	m := ir.NewModule("m")
	small := m.AddGlobal(ir.Global{Name: "s", Type: ir.I8, Align: 1, Init: i32Const(1)})
	big := m.AddGlobal(ir.Global{Name: "b", Type: ir.F64, Align: 8, Init: &ir.Const{Kind: ir.ConstFloat, Type: ir.F64}})

	eng, _ := newEngine(t, flags)
	if err := eng.Calculate(m); err != nil {
		t.Fatal(err)
	}
	eng.Assign()

	bigAddr, _ := eng.AbsoluteAddress(big)
	smallAddr, _ := eng.AbsoluteAddress(small)
	if bigAddr >= smallAddr {
		t.Fatalf("align-8 bucket (%d) must precede align-1 bucket (%d)", bigAddr, smallAddr)
	}
	if eng.MaxGlobalAlign() != 8 {
		t.Fatalf("MaxGlobalAlign = %d, want 8", eng.MaxGlobalAlign())
	}
}

// Offsets within one alignment class accumulate monotonically in
// module order.
func TestOffsetsMonotonicWithinClass(t *testing.T) {
	flags := config.Default()
	m := ir.NewModule("m")
	var ids []ir.GlobalID
	for i := 0; i < 4; i++ {
		ids = append(ids, m.AddGlobal(ir.Global{Name: "g", Type: ir.I32, Align: 4, Init: i32Const(int64(i))}))
	}
	eng, _ := newEngine(t, flags)
	if err := eng.Calculate(m); err != nil {
		t.Fatal(err)
	}
	eng.Assign()
	prev := -1
	for _, id := range ids {
		addr, _ := eng.AbsoluteAddress(id)
		if addr <= prev {
			t.Fatalf("addresses not monotonic: %d after %d", addr, prev)
		}
		prev = addr
	}
}

// An extern-pointing initializer word stays zero in the image and
// becomes a post-init statement instead.
func TestExternReferenceDefers(t *testing.T) {
	flags := config.Default()
	m := ir.NewModule("m")
	ext := m.AddGlobal(ir.Global{Name: "env_thing", Type: ir.I32, IsExtern: true})
	ptr := m.AddGlobal(ir.Global{
		Name: "p", Type: ir.PtrTy, Align: 4,
		Init: &ir.Const{Kind: ir.ConstGlobalAddr, Type: ir.PtrTy, Global: ext},
	})

	eng, post := newEngine(t, flags)
	if err := eng.Calculate(m); err != nil {
		t.Fatal(err)
	}
	eng.Assign()
	img, err := eng.Serialize(m, fakeIndexer{})
	if err != nil {
		t.Fatal(err)
	}

	addr, _ := eng.AbsoluteAddress(ptr)
	off := addr - flags.GlobalBase
	for i := 0; i < 4; i++ {
		if img[off+i] != 0 {
			t.Fatalf("deferred word must stay zero, image = %v", img)
		}
	}
	if post.Len() != 1 {
		t.Fatalf("post-init statements = %d, want 1", post.Len())
	}
	if _, ok := eng.AbsoluteAddress(ext); ok {
		t.Fatal("extern global must not get an address")
	}
}

// In relocatable mode even defined-global references defer, wrapped
// in the runtime-base arithmetic.
func TestRelocatableGlobalRefDefers(t *testing.T) {
	flags := config.Default()
	flags.Relocatable = true
	flags.EmulatedFunctionPointers = true

	m := ir.NewModule("m")
	target := m.AddGlobal(ir.Global{Name: "t", Type: ir.I32, Align: 4, Init: i32Const(9)})
	m.AddGlobal(ir.Global{
		Name: "p", Type: ir.PtrTy, Align: 4,
		Init: &ir.Const{Kind: ir.ConstGlobalAddr, Type: ir.PtrTy, Global: target},
	})

	eng, post := newEngine(t, flags)
	if err := eng.Calculate(m); err != nil {
		t.Fatal(err)
	}
	eng.Assign()
	if _, err := eng.Serialize(m, fakeIndexer{}); err != nil {
		t.Fatal(err)
	}
	if post.Len() != 1 {
		t.Fatalf("post-init statements = %d, want 1", post.Len())
	}
	stmt := post.Statements()[0]
	if want := "gb"; !strings.Contains(stmt, want) {
		t.Fatalf("relocatable deferred write must mention %q: %s", want, stmt)
	}
}

// __init_array_start contributes startup functions, not data bytes;
// __fini_array_start is ignored outright.
func TestInitArrayCollected(t *testing.T) {
	flags := config.Default()
	m := ir.NewModule("m")
	m.AddGlobal(ir.Global{
		Name: "__init_array_start", InitArrayStart: true,
		Init: &ir.Const{Kind: ir.ConstArray, Lanes: []ir.Const{
			{Kind: ir.ConstFuncAddr, Type: ir.PtrTy, Func: 1, GlobalSig: "v"},
			{Kind: ir.ConstFuncAddr, Type: ir.PtrTy, Func: 2, GlobalSig: "v"},
		}},
	})
	m.AddGlobal(ir.Global{Name: "__fini_array_start", FiniArrayStart: true})

	eng, _ := newEngine(t, flags)
	if err := eng.Calculate(m); err != nil {
		t.Fatal(err)
	}
	eng.Assign()
	inits := eng.Initializers()
	if len(inits) != 2 || inits[0] != 1 || inits[1] != 2 {
		t.Fatalf("Initializers = %v, want [1 2]", inits)
	}
	if eng.ImageSize() != 0 {
		t.Fatalf("init/fini arrays must not occupy data space, got %d bytes", eng.ImageSize())
	}
}

// A string-like i8 array serializes back-to-back.
func TestArraySerialization(t *testing.T) {
	flags := config.Default()
	m := ir.NewModule("m")
	lanes := []ir.Const{}
	for _, b := range []byte("hi\x00") {
		lanes = append(lanes, ir.Const{Kind: ir.ConstInt, Type: ir.I8, IntVal: int64(b)})
	}
	m.AddGlobal(ir.Global{
		Name: "str", Type: ir.I8, Align: 1,
		Init: &ir.Const{Kind: ir.ConstArray, Lanes: lanes},
	})

	eng, _ := newEngine(t, flags)
	if err := eng.Calculate(m); err != nil {
		t.Fatal(err)
	}
	eng.Assign()
	img, err := eng.Serialize(m, fakeIndexer{})
	if err != nil {
		t.Fatal(err)
	}
	if string(img[:2]) != "hi" || img[2] != 0 {
		t.Fatalf("image = %v", img)
	}
}
