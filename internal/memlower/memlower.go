// Package memlower lowers typed loads/stores to heap-array indexed
// reads/writes, with misaligned
// splitting via a scratch double-word buffer, and volatile/atomic
// routing.
package memlower

import (
	"fmt"

	"fortio.org/safecast"

	"asmcore/internal/config"
	"asmcore/internal/diag"
	"asmcore/internal/ir"
)

// Scratch is the sentinel name of the fixed double-word buffer
// misaligned accesses stage through.
const Scratch = "tempDoublePtr"

// heapName/heapShift: byte width maps to heap-view name and
// log2(width).
func heapName(bytes int, integer bool) (string, error) {
	switch bytes {
	case 8:
		return "HEAPF64", nil
	case 4:
		if integer {
			return "HEAP32", nil
		}
		return "HEAPF32", nil
	case 2:
		return "HEAP16", nil
	case 1:
		return "HEAP8", nil
	default:
		return "", fmt.Errorf("memlower: unsupported access width %d", bytes)
	}
}

func heapShift(bytes int) (int, error) {
	switch bytes {
	case 8:
		return 3, nil
	case 4:
		return 2, nil
	case 2:
		return 1, nil
	case 1:
		return 0, nil
	default:
		return 0, fmt.Errorf("memlower: unsupported access width %d", bytes)
	}
}

// Lowerer performs memory-access lowering for one function emission.
type Lowerer struct {
	Flags *config.Flags
	Bag   *diag.Bag
}

// Access describes one load or store in terms already resolved by the
// caller: the pointer expression, the access type, and its attributes.
type Access struct {
	PtrExpr string
	Type    ir.Type
	Mem     ir.MemAttrs
	// AbsoluteConst is set when the pointer is a provably absolute
	// constant (null, or int-to-ptr of a constant); such accesses are
	// intentional traps.
	AbsoluteConst bool
	AbsoluteAddr  int
}

func bytesOf(t ir.Type) int {
	switch t.Kind {
	case ir.KindI8, ir.KindI1:
		return 1
	case ir.KindI16:
		return 2
	case ir.KindI32, ir.KindPtr, ir.KindF32:
		return 4
	case ir.KindF64:
		return 8
	default:
		return 0
	}
}

func isIntegerHeap(t ir.Type) bool {
	return t.Kind == ir.KindI8 || t.Kind == ir.KindI1 || t.Kind == ir.KindI16 || t.Kind == ir.KindI32 || t.Kind == ir.KindPtr
}

// Load renders a.Type-typed load from a.PtrExpr as a target-dialect
// expression.
func (l *Lowerer) Load(a Access) (string, error) {
	bytes := bytesOf(a.Type)
	if bytes == 0 {
		return "", fmt.Errorf("memlower: cannot load type %v", a.Type.Kind)
	}
	if a.AbsoluteConst {
		return l.absoluteTrap(), nil
	}
	if a.Mem.Volatile && l.Flags.EnablePthreads {
		return l.atomicLoad(a, bytes)
	}
	if bytes <= a.Mem.Align || a.Mem.Align == 0 {
		return l.alignedLoad(a, bytes)
	}
	if a.Mem.Volatile {
		l.warnUnalignedVolatile()
	}
	return l.misalignedLoad(a, bytes)
}

// Store renders a store of valExpr to a.PtrExpr.
func (l *Lowerer) Store(a Access, valExpr string) (string, error) {
	bytes := bytesOf(a.Type)
	if bytes == 0 {
		return "", fmt.Errorf("memlower: cannot store type %v", a.Type.Kind)
	}
	if a.AbsoluteConst {
		return l.absoluteTrap(), nil
	}
	if a.Mem.Volatile && l.Flags.EnablePthreads {
		return l.atomicStore(a, bytes, valExpr)
	}
	if bytes <= a.Mem.Align || a.Mem.Align == 0 {
		return l.alignedStore(a, bytes, valExpr)
	}
	if a.Mem.Volatile {
		l.warnUnalignedVolatile()
	}
	return l.misalignedStore(a, bytes, valExpr)
}

func (l *Lowerer) absoluteTrap() string {
	return "abort() /* load/store through an absolute address */"
}

func (l *Lowerer) warnUnaligned() {
	if l.Bag == nil || !l.Flags.WarnUnaligned {
		return
	}
	l.Bag.Add(diag.New(diag.Warning, diag.CodeUnalignedAccess, "unaligned memory access"))
}

// warnUnalignedVolatile reports a volatile access that cannot be
// atomic because it is unaligned — a distinct code from plain unaligned access,
// and unconditional (unlike WarnUnaligned) since it reports a
// semantic downgrade, not a cosmetic style nit.
func (l *Lowerer) warnUnalignedVolatile() {
	if l.Bag == nil {
		return
	}
	l.Bag.Add(diag.New(diag.Warning, diag.CodeUnalignedVolatileAccess, "unaligned volatile access cannot be atomic"))
}

func (l *Lowerer) indexExpr(a Access, bytes int) (string, string, error) {
	name, err := heapName(bytes, isIntegerHeap(a.Type))
	if err != nil {
		return "", "", err
	}
	shift, err := heapShift(bytes)
	if err != nil {
		return "", "", err
	}
	if a.AbsoluteConst {
		addr, err := safecast.Conv[uint32](a.AbsoluteAddr)
		if err != nil {
			return "", "", fmt.Errorf("memlower: absolute address overflow: %w", err)
		}
		return name, fmt.Sprintf("%d", addr>>uint(shift)), nil
	}
	if shift == 0 {
		return name, a.PtrExpr, nil
	}
	return name, fmt.Sprintf("%s>>%d", a.PtrExpr, shift), nil
}

func (l *Lowerer) alignedLoad(a Access, bytes int) (string, error) {
	heap, idx, err := l.indexExpr(a, bytes)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s[%s]", heap, idx), nil
}

func (l *Lowerer) alignedStore(a Access, bytes int, valExpr string) (string, error) {
	heap, idx, err := l.indexExpr(a, bytes)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s[%s] = %s", heap, idx, valExpr), nil
}

func (l *Lowerer) atomicLoad(a Access, bytes int) (string, error) {
	if isIntegerHeap(a.Type) {
		heap, idx, err := l.indexExpr(a, bytes)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Atomics_load(%s, %s)", heap, idx), nil
	}
	helper := "_emscripten_atomic_load_f32"
	if bytes == 8 {
		helper = "_emscripten_atomic_load_f64"
	}
	return fmt.Sprintf("%s(%s)", helper, a.PtrExpr), nil
}

func (l *Lowerer) atomicStore(a Access, bytes int, valExpr string) (string, error) {
	if isIntegerHeap(a.Type) {
		heap, idx, err := l.indexExpr(a, bytes)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Atomics_store(%s, %s, %s)", heap, idx, valExpr), nil
	}
	helper := "_emscripten_atomic_store_f32"
	if bytes == 8 {
		helper = "_emscripten_atomic_store_f64"
	}
	return fmt.Sprintf("%s(%s, %s)", helper, a.PtrExpr, valExpr), nil
}

// misalignedLoad decomposes a load wider than the declared alignment
// into a sequence of alignment-sized sub-accesses staged through
// Scratch.
func (l *Lowerer) misalignedLoad(a Access, bytes int) (string, error) {
	l.warnUnaligned()
	align := a.Mem.Align
	if align <= 0 {
		align = 1
	}
	switch {
	case bytes == 8:
		return l.misalignedLoad8(a, align)
	case bytes == 4 && isIntegerHeap(a.Type):
		return l.misalignedLoadOr(a, 4, align)
	case bytes == 4:
		return l.misalignedLoadFloat4(a, align)
	case bytes == 2:
		return l.misalignedLoadOr(a, 2, align)
	default:
		return "", fmt.Errorf("memlower: cannot misalign-decompose width %d", bytes)
	}
}

// misalignedLoadFloat4 stages a misaligned float32 load through the
// scratch buffer's HEAP32 alias: assemble the 4 bytes as an i32 in
// Scratch, then reinterpret as HEAPF32.
func (l *Lowerer) misalignedLoadFloat4(a Access, align int) (string, error) {
	bits, err := l.misalignedLoadOr(Access{PtrExpr: a.PtrExpr, Type: ir.I32, Mem: a.Mem}, 4, align)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(HEAP32[%s>>2]=%s,HEAPF32[%s>>2])", Scratch, bits, Scratch), nil
}

func (l *Lowerer) misalignedLoadOr(a Access, bytes, align int) (string, error) {
	n := bytes / align
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		byteBytes := align
		heap, err := heapName(byteBytes, true)
		if err != nil {
			return "", err
		}
		offset := i * align
		idx := fmt.Sprintf("(%s+%d)", a.PtrExpr, offset)
		if byteBytes > 1 {
			sh, err := heapShift(byteBytes)
			if err != nil {
				return "", err
			}
			idx = fmt.Sprintf("(%s+%d)>>%d", a.PtrExpr, offset, sh)
		}
		term := fmt.Sprintf("%s[%s]&%d", heap, idx, (1<<uint(byteBytes*8))-1)
		bitShift := i * align * 8
		if bitShift > 0 {
			term = fmt.Sprintf("(%s)<<%d", term, bitShift)
		}
		parts = append(parts, term)
	}
	expr := parts[0]
	for _, p := range parts[1:] {
		expr = expr + "|" + p
	}
	return "(" + expr + ")", nil
}

func (l *Lowerer) misalignedLoad8(a Access, align int) (string, error) {
	lo, err := l.misalignedLoadOr(Access{PtrExpr: a.PtrExpr, Type: ir.I32, Mem: a.Mem}, 4, align)
	if err != nil {
		return "", err
	}
	hiPtr := fmt.Sprintf("(%s+4)", a.PtrExpr)
	hi, err := l.misalignedLoadOr(Access{PtrExpr: hiPtr, Type: ir.I32, Mem: a.Mem}, 4, align)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(HEAP32[%s>>2]=%s,HEAP32[(%s+4)>>2]=%s,HEAPF64[%s>>3])",
		Scratch, lo, Scratch, hi, Scratch), nil
}

// misalignedStore decomposes a store wider than the declared alignment
// into byte/halfword sequences with shifts at positions 0/8/16/24.
func (l *Lowerer) misalignedStore(a Access, bytes int, valExpr string) (string, error) {
	l.warnUnaligned()
	align := a.Mem.Align
	if align <= 0 {
		align = 1
	}
	switch {
	case bytes == 8:
		return l.misalignedStore8(a, align, valExpr)
	case bytes == 4 && !isIntegerHeap(a.Type):
		return l.misalignedStoreFloat4(a, align, valExpr)
	case bytes == 4:
		return l.misalignedStoreOr(a, 4, align, valExpr)
	case bytes == 2:
		return l.misalignedStoreOr(a, 2, align, valExpr)
	default:
		return "", fmt.Errorf("memlower: cannot misalign-decompose width %d", bytes)
	}
}

// misalignedStoreFloat4 stages valExpr (a float32 expression) through
// the scratch buffer's HEAPF32 alias, then writes the resulting bits
// out byte-by-byte via misalignedStoreOr.
func (l *Lowerer) misalignedStoreFloat4(a Access, align int, valExpr string) (string, error) {
	stage := fmt.Sprintf("HEAPF32[%s>>2]=%s", Scratch, valExpr)
	bitsExpr := fmt.Sprintf("HEAP32[%s>>2]", Scratch)
	store, err := l.misalignedStoreOr(Access{PtrExpr: a.PtrExpr, Mem: a.Mem}, 4, align, bitsExpr)
	if err != nil {
		return "", err
	}
	return joinStatements([]string{stage, store}), nil
}

func (l *Lowerer) misalignedStoreOr(a Access, bytes, align int, valExpr string) (string, error) {
	n := bytes / align
	stmts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		shiftAmt := i * align * 8
		heap, err := heapName(align, true)
		if err != nil {
			return "", err
		}
		offset := i * align
		idx := fmt.Sprintf("(%s+%d)", a.PtrExpr, offset)
		if align > 1 {
			sh, _ := heapShift(align)
			idx = fmt.Sprintf("(%s+%d)>>%d", a.PtrExpr, offset, sh)
		}
		byteExpr := valExpr
		if shiftAmt > 0 {
			byteExpr = fmt.Sprintf("%s>>>%d", valExpr, shiftAmt)
		}
		mask := (1 << uint(align*8)) - 1
		stmts = append(stmts, fmt.Sprintf("%s[%s]=(%s)&%d", heap, idx, byteExpr, mask))
	}
	return joinStatements(stmts), nil
}

func (l *Lowerer) misalignedStore8(a Access, align int, valExpr string) (string, error) {
	lowStore, err := l.misalignedStoreOr(Access{PtrExpr: a.PtrExpr, Mem: a.Mem}, 4, align, fmt.Sprintf("HEAP32[%s>>2]", Scratch))
	if err != nil {
		return "", err
	}
	hiPtr := fmt.Sprintf("(%s+4)", a.PtrExpr)
	hiStore, err := l.misalignedStoreOr(Access{PtrExpr: hiPtr, Mem: a.Mem}, 4, align, fmt.Sprintf("HEAP32[(%s+4)>>2]", Scratch))
	if err != nil {
		return "", err
	}
	stage := fmt.Sprintf("HEAPF64[%s>>3]=%s", Scratch, valExpr)
	return joinStatements([]string{stage, lowStore, hiStore}), nil
}

func joinStatements(stmts []string) string {
	out := stmts[0]
	for _, s := range stmts[1:] {
		out += ";" + s
	}
	return out
}
