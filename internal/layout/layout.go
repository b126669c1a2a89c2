// Package layout assigns addresses to module globals and serializes
// their initializer bytes. Globals are grouped into buckets by
// alignment class; each bucket accumulates offsets monotonically, and
// once every global is known the buckets are laid out in decreasing
// alignment order starting at the (padded) global base. Initializer
// words that cannot be computed at emit time become zero bytes plus a
// deferred post-init statement.
package layout

import (
	"fmt"
	"sort"

	"asmcore/internal/config"
	"asmcore/internal/diag"
	"asmcore/internal/ir"
	"asmcore/internal/postinit"
)

// Slot is one laid-out global: its alignment class and its byte
// offset within that class's bucket. The absolute address is
// bucketStart(align) + Offset once Assign has run.
type Slot struct {
	Align  int
	Offset int
	Size   int
}

// Engine runs the two-pass layout: Calculate reserves space, Assign
// fixes bucket bases, Serialize fills the byte image and defers
// relocations.
type Engine struct {
	Flags *config.Flags
	Bag   *diag.Bag
	Post  *postinit.Queue

	slots    map[ir.GlobalID]Slot
	buckets  map[int]int // alignment class -> bytes reserved so far
	starts   map[int]int // alignment class -> absolute base address
	assigned bool

	maxAlign     int
	imageEnd     int
	initializers []ir.FuncID
}

// New creates an Engine that records deferred writes into post.
func New(flags *config.Flags, bag *diag.Bag, post *postinit.Queue) *Engine {
	return &Engine{
		Flags:   flags,
		Bag:     bag,
		Post:    post,
		slots:   make(map[ir.GlobalID]Slot),
		buckets: make(map[int]int),
		starts:  make(map[int]int),
	}
}

// sizeOfConst is the serialized byte size of c, given the declared
// type t it initializes.
func sizeOfConst(c ir.Const, t ir.Type) int {
	switch c.Kind {
	case ir.ConstArray:
		total := 0
		for _, el := range c.Lanes {
			total = alignUp(total, naturalAlign(el.Type))
			total += sizeOfConst(el, el.Type)
		}
		return total
	case ir.ConstVector:
		return ir.VectorBits / 8
	default:
		return scalarSize(t)
	}
}

func scalarSize(t ir.Type) int {
	switch t.Kind {
	case ir.KindI1, ir.KindI8:
		return 1
	case ir.KindI16:
		return 2
	case ir.KindI32, ir.KindPtr, ir.KindF32:
		return 4
	case ir.KindF64:
		return 8
	case ir.KindVec:
		return ir.VectorBits / 8
	default:
		return 0
	}
}

func naturalAlign(t ir.Type) int {
	s := scalarSize(t)
	if s == 0 {
		return 1
	}
	return s
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + align - rem
}

// globalSize is the storage size of g: the explicit Size when set,
// otherwise derived from the initializer or the declared type.
func globalSize(g *ir.Global) int {
	if g.Size > 0 {
		return g.Size
	}
	if g.Init != nil {
		if s := sizeOfConst(*g.Init, g.Type); s > 0 {
			return s
		}
	}
	return scalarSize(g.Type)
}

// Calculate is the first pass: iterate globals in module order,
// reserving space in the bucket for each one's alignment class.
// Extern declarations and "__fini_array_start" take no space;
// "__init_array_start" is consumed as the list of startup functions.
func (e *Engine) Calculate(m *ir.Module) error {
	for i := range m.Globals {
		g := &m.Globals[i]
		if g.IsExtern || g.FiniArrayStart {
			continue
		}
		if g.InitArrayStart {
			if err := e.collectInitializers(g); err != nil {
				return err
			}
			continue
		}
		align := g.Align
		if align <= 0 {
			align = naturalAlign(g.Type)
		}
		size := globalSize(g)
		if size <= 0 {
			return fmt.Errorf("layout: global %q has no computable size", g.Name)
		}
		offset := alignUp(e.buckets[align], align)
		e.buckets[align] = offset + size
		e.slots[g.ID] = Slot{Align: align, Offset: offset, Size: size}
		if align > e.maxAlign {
			e.maxAlign = align
		}
	}
	return nil
}

// collectInitializers reads the element function addresses of the
// "__init_array_start" struct; they run once at startup rather than
// occupying data space.
func (e *Engine) collectInitializers(g *ir.Global) error {
	if g.Init == nil {
		return nil
	}
	switch g.Init.Kind {
	case ir.ConstFuncAddr:
		e.initializers = append(e.initializers, g.Init.Func)
	case ir.ConstArray:
		for _, el := range g.Init.Lanes {
			if el.Kind != ir.ConstFuncAddr {
				return fmt.Errorf("layout: %q element is not a function address", g.Name)
			}
			e.initializers = append(e.initializers, el.Func)
		}
	case ir.ConstAggregateZero, ir.ConstNull:
		// Empty init array.
	default:
		return fmt.Errorf("layout: unsupported %q initializer kind %v", g.Name, g.Init.Kind)
	}
	return nil
}

// Assign is the second pass's address fixing: pad the global base up
// to the maximum alignment, then lay buckets out largest-aligned
// first so every bucket base (and hence every member) honors its
// class.
func (e *Engine) Assign() {
	aligns := make([]int, 0, len(e.buckets))
	for a := range e.buckets {
		aligns = append(aligns, a)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(aligns)))

	base := e.Flags.GlobalBase
	if e.maxAlign > 0 {
		base = alignUp(base, e.maxAlign)
	}
	cursor := base
	for _, a := range aligns {
		cursor = alignUp(cursor, a)
		e.starts[a] = cursor
		cursor += e.buckets[a]
	}
	e.imageEnd = cursor
	e.assigned = true
}

// AbsoluteAddress resolves a laid-out global to its absolute address.
// Valid only after Assign.
func (e *Engine) AbsoluteAddress(id ir.GlobalID) (int, bool) {
	if !e.assigned {
		return 0, false
	}
	s, ok := e.slots[id]
	if !ok {
		return 0, false
	}
	return e.starts[s.Align] + s.Offset, true
}

// MaxGlobalAlign reports the largest alignment class seen.
func (e *Engine) MaxGlobalAlign() int {
	if e.maxAlign == 0 {
		return 1
	}
	return e.maxAlign
}

// Initializers lists the startup functions collected from
// "__init_array_start", in element order.
func (e *Engine) Initializers() []ir.FuncID { return e.initializers }

// ImageSize is the byte length of the memory-initializer image,
// measured from the configured global base.
func (e *Engine) ImageSize() int {
	if e.imageEnd < e.Flags.GlobalBase {
		return 0
	}
	return e.imageEnd - e.Flags.GlobalBase
}

// NamedGlobals maps every laid-out global's source name to its
// absolute address, for the metadata block.
func (e *Engine) NamedGlobals(m *ir.Module) map[string]int {
	out := make(map[string]int, len(e.slots))
	for i := range m.Globals {
		g := &m.Globals[i]
		if addr, ok := e.AbsoluteAddress(g.ID); ok && g.Name != "" {
			out[g.Name] = addr
		}
	}
	return out
}
