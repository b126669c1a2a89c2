// Package alloca assigns frame offsets to static entry-block
// allocas, with lifetime-interval
// sharing of those offsets, and "nativized" alloca detection (an
// alloca whose address is never captured becomes a scalar variable
// instead of a frame slot).
package alloca

import (
	"math"
	"sort"

	"asmcore/internal/ir"
)

// noLifetimeEndSentinel stands in for "lives until the function
// returns" when an alloca has no explicit lifetime.end marker.
const noLifetimeEndSentinel = math.MaxInt32

// Slot describes one planned alloca: either a frame-offset slot, or a
// nativized scalar variable that needs no frame space.
type Slot struct {
	ID        ir.ValueID
	Type      ir.Type
	Align     int
	Size      int
	Nativized bool
	Offset    int // meaningful only when !Nativized
}

// Plan is AllocaPlanner's output for one function.
type Plan struct {
	Slots []Slot

	// Dynamic holds allocas that are not entry-block-and-constant-size;
	// the caller lowers these as stack bumps at their own site rather
	// than through the frame layout below.
	Dynamic []ir.ValueID

	FrameSize    int
	MaxAlign     int
	NeedsSPAlign bool
}

// byteSize returns the storage size in bytes of one instance of t, the
// unit AllocaPlanner reasons about frame offsets in.
func byteSize(t ir.Type) int {
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

// Planner computes frame layouts. PlatformStackAlign is the baseline
// alignment the runtime's stack pointer is already guaranteed to have
// on entry (commonly 8 or 16); any static alloca whose alignment
// exceeds it forces an extra sp_a rounding step.
type Planner struct {
	PlatformStackAlign int
}

// Plan analyzes fn's entry-block allocas and produces a frame layout.
func (p *Planner) Plan(fn *ir.Func) (*Plan, error) {
	plan := &Plan{}
	entry, ok := fn.Block(fn.Entry)
	if !ok {
		return plan, nil
	}

	type candidate struct {
		id    ir.ValueID
		typ   ir.Type
		align int
		size  int
		start int
		end   int
	}
	var candidates []candidate

	for pos := 0; pos < len(entry.Instrs); pos++ {
		instr := entry.Instrs[pos]
		if instr.Op != ir.OpAlloca {
			continue
		}
		align := instr.AllocaAlign
		if align <= 0 {
			align = byteSize(instr.AllocaType)
			if align <= 0 {
				align = 1
			}
		}
		candidates = append(candidates, candidate{
			id:    instr.Result,
			typ:   instr.AllocaType,
			align: align,
			size:  byteSize(instr.AllocaType),
			start: lifetimeStart(fn, instr.Result, pos),
			end:   lifetimeEnd(fn, instr.Result, noLifetimeEndSentinel),
		})
	}

	// Allocas outside the entry block are dynamic stack bumps at their
	// own site.
	for bi := range fn.Blocks {
		bb := &fn.Blocks[bi]
		if bb.ID == entry.ID {
			continue
		}
		for _, instr := range bb.Instrs {
			if instr.Op == ir.OpAlloca {
				plan.Dynamic = append(plan.Dynamic, instr.Result)
			}
		}
	}

	captured := capturedSet(fn)

	// Split into nativized scalars and frame-offset candidates.
	var framed []candidate
	for _, c := range candidates {
		if !captured[c.id] && !c.typ.IsVector() {
			plan.Slots = append(plan.Slots, Slot{ID: c.id, Type: c.typ, Align: c.align, Size: c.size, Nativized: true})
			if c.align > plan.MaxAlign {
				plan.MaxAlign = c.align
			}
			continue
		}
		framed = append(framed, c)
	}

	// Bucket by alignment class (descending, so the largest-aligned
	// slots land first and keep the frame itself aligned), and within
	// each bucket run a linear-scan interval allocator that reuses an
	// offset once every alloca occupying it has gone out of lifetime —
	// the same alignment-bucketing the global layout uses, applied to
	// stack slots instead of heap globals.
	buckets := map[int][]candidate{}
	var aligns []int
	for _, c := range framed {
		if _, ok := buckets[c.align]; !ok {
			aligns = append(aligns, c.align)
		}
		buckets[c.align] = append(buckets[c.align], c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(aligns)))

	frameCursor := 0
	for _, align := range aligns {
		bucket := buckets[align]
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].start < bucket[j].start })

		type active struct {
			end    int
			offset int
			size   int
		}
		var live []active
		var free []active
		cursor := frameCursor

		for _, c := range bucket {
			// Expire and free any interval that ended before c starts.
			kept := live[:0]
			for _, a := range live {
				if a.end <= c.start {
					free = append(free, a)
				} else {
					kept = append(kept, a)
				}
			}
			live = kept

			offset := -1
			for i, f := range free {
				if f.size >= c.size {
					offset = f.offset
					free = append(free[:i], free[i+1:]...)
					break
				}
			}
			if offset < 0 {
				offset = cursor
				cursor += c.size
			}

			plan.Slots = append(plan.Slots, Slot{
				ID: c.id, Type: c.typ, Align: align, Size: c.size, Offset: offset,
			})
			live = append(live, active{end: c.end, offset: offset, size: c.size})
		}

		if align > plan.MaxAlign {
			plan.MaxAlign = align
		}
		if cursor > frameCursor {
			frameCursor = roundUp(cursor, align)
		}
	}

	plan.FrameSize = frameCursor
	plan.NeedsSPAlign = plan.MaxAlign > p.PlatformStackAlign
	return plan, nil
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// lifetimeStart/lifetimeEnd fall back to "live for the whole function"
// when the IR carries no explicit lifetime markers for id; sharing is
// only safe when markers prove non-overlap.
func lifetimeStart(fn *ir.Func, id ir.ValueID, allocaPos int) int {
	starts := fn.LifetimeStarts[id]
	if len(starts) == 0 {
		return allocaPos
	}
	min := starts[0]
	for _, s := range starts[1:] {
		if s < min {
			min = s
		}
	}
	return min
}

func lifetimeEnd(fn *ir.Func, id ir.ValueID, fallback int) int {
	ends := fn.LifetimeEnds[id]
	if len(ends) == 0 {
		return fallback
	}
	max := ends[0]
	for _, e := range ends[1:] {
		if e > max {
			max = e
		}
	}
	return max
}

// capturedSet finds every alloca ValueID whose address escapes beyond
// plain load-through/store-through use. Only the operand fields each
// opcode actually defines are inspected — Instr is a flat struct
// shared across opcodes, so a blind scan of every field would treat
// an unrelated opcode's unused zero-valued field as a reference to
// value 0. The Ptr operand of OpLoad/OpStore is a "use through" and
// never counts as capture; every other appearance of the alloca's id
// does.
func capturedSet(fn *ir.Func) map[ir.ValueID]bool {
	captured := map[ir.ValueID]bool{}
	mark := func(id ir.ValueID) {
		if id != ir.NoValueID {
			captured[id] = true
		}
	}

	for bi := range fn.Blocks {
		bb := &fn.Blocks[bi]
		for _, instr := range bb.Phis {
			for _, v := range instr.PhiVals {
				mark(v)
			}
		}
		for _, instr := range bb.Instrs {
			switch instr.Op {
			case ir.OpLoad, ir.OpAlloca:
				// Ptr is a use-through; Alloca has no value operands.
			case ir.OpStore:
				mark(instr.Val)
			case ir.OpCast:
				mark(instr.A)
			case ir.OpSelect:
				mark(instr.A)
				mark(instr.B)
				mark(instr.C)
			case ir.OpCall:
				for _, a := range instr.Args {
					mark(a)
				}
				if instr.Call.Kind == ir.CalleeIndirect {
					mark(instr.Call.Indirect)
				}
			case ir.OpInsertElement:
				mark(instr.VecBase)
				mark(instr.VecElem)
				mark(instr.VecIndex)
			case ir.OpExtractElement:
				mark(instr.VecBase)
				mark(instr.VecIndex)
			case ir.OpShuffleVector:
				mark(instr.A)
				mark(instr.B)
			default:
				// Arithmetic, bitwise, float arithmetic, icmp/fcmp: A, B.
				mark(instr.A)
				mark(instr.B)
			}
		}
		t := bb.Term
		switch t.Kind {
		case ir.TermRet:
			if t.HasRetVal {
				mark(t.RetVal)
			}
		case ir.TermCondBr:
			mark(t.Cond)
		case ir.TermSwitch:
			mark(t.SwitchVal)
		case ir.TermIndirectBr:
			mark(t.IndirectAddr)
		}
	}
	return captured
}
