// Package funcemit renders each basic block's non-terminator
// instructions as target-dialect statement text, computes phi
// epilogues for each branch edge with cycle-breaking temporaries, and
// assembles the function prologue and epilogue. Terminators
// themselves are translated into relooper.Edge values for the
// structured-control-flow collaborator, never emitted directly.
package funcemit

import (
	"fmt"
	"strings"

	"asmcore/internal/alloca"
	"asmcore/internal/coerce"
	"asmcore/internal/config"
	"asmcore/internal/constant"
	"asmcore/internal/diag"
	"asmcore/internal/ir"
	"asmcore/internal/mangle"
	"asmcore/internal/memlower"
	"asmcore/internal/simd"
)

// FuncNamer resolves a direct-call or function-value callee to its
// mangled name and single-letter signature string. Defined locally
// (rather than importing package funcptr) for the same reason
// constant.GlobalAddresser is local to package constant: funcptr's
// table builder needs FunctionEmitter's rendering to size its tables,
// so the dependency can only run one way.
type FuncNamer interface {
	Name(fn ir.FuncID) string
	Signature(fn ir.FuncID) string
}

// TableCaller renders an indirect call through a per-signature
// function-pointer table.
type TableCaller interface {
	CallExpr(sig, indexExpr string, args []string) (string, error)
}

// IntrinsicDispatcher renders a named runtime intrinsic call. ok is
// false when the callee's name is not a recognized intrinsic, in
// which case the caller falls back to a plain direct call by that
// name.
type IntrinsicDispatcher interface {
	Dispatch(call ir.Callee, args []string, t ir.Type) (text string, ok bool, err error)
}

// Emitter renders one function's body. One Emitter is shared across
// every function in a module; per-function mutable state lives in
// Context.
type Emitter struct {
	Flags      *config.Flags
	Mangler    *mangle.Mangler
	Constants  *constant.Emitter
	Memory     *memlower.Lowerer
	Vector     *simd.Lowerer
	Funcs      FuncNamer
	Tables     TableCaller
	Intrinsics IntrinsicDispatcher
	Bag        *diag.Bag
}

// Context holds the per-function state FunctionEmitter threads
// through block rendering: the function itself and its alloca plan.
type Context struct {
	Fn   *ir.Func
	Plan *alloca.Plan

	slotByID  map[ir.ValueID]alloca.Slot
	used      map[ir.ValueID]bool
	useCount  map[ir.ValueID]int
	defs      map[ir.ValueID]ir.Instr
	chainBase map[ir.ValueID]bool
	phiTemps  map[string]ir.Type
}

// NewContext builds rendering context for fn, given its already
// computed alloca plan.
func NewContext(fn *ir.Func, plan *alloca.Plan) *Context {
	ctx := &Context{
		Fn: fn, Plan: plan,
		slotByID:  map[ir.ValueID]alloca.Slot{},
		defs:      map[ir.ValueID]ir.Instr{},
		chainBase: map[ir.ValueID]bool{},
	}
	for _, s := range plan.Slots {
		ctx.slotByID[s.ID] = s
	}
	ctx.useCount = computeUses(fn)
	ctx.used = make(map[ir.ValueID]bool, len(ctx.useCount))
	for id, n := range ctx.useCount {
		ctx.used[id] = n > 0
	}
	for bi := range fn.Blocks {
		for _, instr := range fn.Blocks[bi].Instrs {
			if instr.Result != ir.NoValueID {
				ctx.defs[instr.Result] = instr
			}
			if instr.Op == ir.OpInsertElement {
				ctx.chainBase[instr.VecBase] = true
			}
		}
	}
	return ctx
}

// def looks up the defining instruction of an instruction-result
// value.
func (c *Context) def(id ir.ValueID) (ir.Instr, bool) {
	instr, ok := c.defs[id]
	return instr, ok
}

func (c *Context) slot(id ir.ValueID) (alloca.Slot, bool) {
	s, ok := c.slotByID[id]
	return s, ok
}

// noteTemp records a phi-cycle temporary so the prologue declares it.
func (c *Context) noteTemp(name string, t ir.Type) {
	if c.phiTemps == nil {
		c.phiTemps = make(map[string]ir.Type)
	}
	c.phiTemps[name] = t
}

// computeUses counts every operand reference anywhere in fn
// (including the pointer operand of load/store, unlike package
// alloca's narrower capturedSet), for the "lhs is the mangled local
// only if the value has users" rule and for single-use
// insertelement-chain folding. Only the
// operand fields each opcode/terminator kind actually defines are
// read, for the same reason package alloca's capturedSet is careful
// about it: Instr and Terminator are flat structs shared across many
// shapes, and an opcode's unused field is a zero ValueID, not a "no
// value" sentinel.
func computeUses(fn *ir.Func) map[ir.ValueID]int {
	used := map[ir.ValueID]int{}
	mark := func(id ir.ValueID) {
		if id != ir.NoValueID {
			used[id]++
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
			case ir.OpAlloca:
			case ir.OpLoad:
				mark(instr.Ptr)
			case ir.OpStore:
				mark(instr.Ptr)
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
	return used
}

// zeroInit renders the zero-initializer text for t in variable
// declarations: integer 0, double +0, precise float32
// Math_fround(0), vector a zero splat.
func zeroInit(f *config.Flags, t ir.Type) string {
	switch {
	case t.IsVector():
		return fmt.Sprintf("SIMD_%s_splat(0)", t.SIMDTag())
	case t.Kind == ir.KindF64:
		return "+0"
	case t.Kind == ir.KindF32:
		if f.PreciseF32 {
			return "Math_fround(0)"
		}
		return "+0"
	default:
		return "0"
	}
}

// Operand renders id, an operand reference within fn, as target
// dialect text, coerced per flags at the use site.
func (e *Emitter) Operand(fn *ir.Func, id ir.ValueID, flags coerce.Flags) (string, error) {
	v, ok := fn.Value(id)
	if !ok {
		return "", fmt.Errorf("funcemit: value %d not found in function %q", id, fn.Name)
	}
	switch v.Kind {
	case ir.ValConst, ir.ValUndef:
		c := v.Const
		if v.Kind == ir.ValUndef {
			c = ir.Const{Kind: ir.ConstUndef, Type: v.Type}
		}
		return e.Constants.Emit(c, flags)
	case ir.ValInstr, ir.ValArg:
		// Locals were coerced at their declaration and assignment
		// sites; a use only re-coerces when the context demands a
		// specific signedness or an FFI boundary, so "$a + $b" stays
		// "$a + $b" and not "($a|0) + ($b|0)".
		name := e.Mangler.NameOfLocal(fn.ID, v)
		if flags&(coerce.Signed|coerce.Unsigned|coerce.FFIIn|coerce.FFIOut|coerce.MustCast) == 0 {
			return name, nil
		}
		return coerce.Cast(e.Flags, name, v.Type, flags)
	case ir.ValGlobal:
		addr, err := e.Constants.EmitGlobalRef(v.Global)
		if err != nil {
			return "", err
		}
		return coerce.Cast(e.Flags, addr, ir.PtrTy, flags)
	case ir.ValFunc:
		sig := e.Funcs.Signature(v.Func)
		ref, err := e.Constants.EmitFuncRef(v.Func, sig)
		if err != nil {
			return "", err
		}
		return coerce.Cast(e.Flags, ref, ir.PtrTy, flags)
	case ir.ValAlias:
		return e.Operand(fn, v.AliasOf, flags)
	case ir.ValBlockAddr:
		return "", fmt.Errorf("funcemit: blockaddress operands are not supported")
	default:
		return "", fmt.Errorf("funcemit: unsupported value kind %v", v.Kind)
	}
}

// RenderBlockBody walks blk's non-terminator instructions (Phis are
// handled separately by PhiEdge, never here) and produces the block's
// textual body.
func (e *Emitter) RenderBlockBody(ctx *Context, blk *ir.Block) (string, error) {
	var b strings.Builder
	for _, instr := range blk.Instrs {
		text, err := e.renderInstr(ctx, instr)
		if err != nil {
			return "", err
		}
		if text == "" {
			continue
		}
		b.WriteString(text)
		if ctx.Fn.DebugLines != nil && e.Flags.DebugLines && instr.Result != ir.NoValueID {
			if loc, ok := ctx.Fn.DebugLines[instr.Result]; ok {
				fmt.Fprintf(&b, "//@line %d %q", loc.Line, loc.File)
			}
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (e *Emitter) renderInstr(ctx *Context, instr ir.Instr) (string, error) {
	if instr.Op == ir.OpAlloca {
		return e.renderAlloca(ctx, instr)
	}
	if instr.Op == ir.OpInsertElement && instr.Result != ir.NoValueID &&
		ctx.useCount[instr.Result] == 1 && ctx.chainBase[instr.Result] {
		// Interior link of a single-use insertelement chain; folded
		// into the chain head's rendering.
		return "", nil
	}
	hasUser := instr.Result != ir.NoValueID && ctx.used[instr.Result]

	rhs, isStatement, err := e.rhsFor(ctx, instr)
	if err != nil {
		return "", err
	}
	if isStatement {
		// Store: the rendered text is already the complete statement.
		return rhs + ";", nil
	}
	if instr.Result == ir.NoValueID || !hasUser {
		if instr.Op == ir.OpCall {
			// A void-discarded call result still needs its side effect.
			return rhs + ";", nil
		}
		return "", nil
	}
	v, _ := ctx.Fn.Value(instr.Result)
	lhs := e.Mangler.NameOfLocal(ctx.Fn.ID, v)
	return lhs + " = " + rhs + ";", nil
}

// renderAlloca renders a static alloca's declaration-time text: a
// nativized alloca needs nothing here (it's declared with its own
// zero-initializer in the prologue and never assigned at its alloca
// site); a framed alloca's "value" is a computed stack address.
func (e *Emitter) renderAlloca(ctx *Context, instr ir.Instr) (string, error) {
	slot, ok := ctx.slot(instr.Result)
	if !ok || slot.Nativized {
		return "", nil
	}
	if !ctx.used[instr.Result] {
		return "", nil
	}
	v, _ := ctx.Fn.Value(instr.Result)
	lhs := e.Mangler.NameOfLocal(ctx.Fn.ID, v)
	return fmt.Sprintf("%s = (sp + %d) | 0;", lhs, slot.Offset), nil
}

// rhsFor renders the right-hand side (or, for Store, the complete
// statement) of instr. isStatement is true when the returned text is
// already a full statement (Store) rather than an expression needing
// an lhs assignment wrapped around it by the caller.
func (e *Emitter) rhsFor(ctx *Context, instr ir.Instr) (text string, isStatement bool, err error) {
	fn := ctx.Fn
	switch instr.Op {
	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpLShr, ir.OpAShr:
		text, err = e.intBinOp(fn, instr)
	case ir.OpMul:
		text, err = e.mulOp(fn, instr)
	case ir.OpUDiv, ir.OpSDiv, ir.OpURem, ir.OpSRem:
		text, err = e.divRemOp(fn, instr)
	case ir.OpFAdd, ir.OpFSub, ir.OpFMul, ir.OpFDiv, ir.OpFRem:
		text, err = e.floatBinOp(fn, instr)
	case ir.OpICmp:
		text, err = e.icmpOp(fn, instr)
	case ir.OpFCmp:
		text, err = e.fcmpOp(fn, instr)
	case ir.OpLoad:
		text, err = e.loadOp(ctx, instr)
	case ir.OpStore:
		text, err = e.storeOp(ctx, instr)
		isStatement = err == nil
	case ir.OpCast:
		text, err = e.castOp(fn, instr)
	case ir.OpSelect:
		text, err = e.selectOp(fn, instr)
	case ir.OpCall:
		text, err = e.callOp(fn, instr)
	case ir.OpInsertElement:
		text, err = e.insertElementOp(ctx, instr)
	case ir.OpExtractElement:
		text, err = e.extractElementOp(fn, instr)
	case ir.OpShuffleVector:
		text, err = e.shuffleOp(fn, instr)
	default:
		err = fmt.Errorf("funcemit: unsupported opcode %v", instr.Op)
	}
	return text, isStatement, err
}

func (e *Emitter) intBinOp(fn *ir.Func, instr ir.Instr) (string, error) {
	if t := resultType(fn, instr); t.IsVector() {
		return e.vecIntOp(fn, instr, t)
	}
	a, err := e.Operand(fn, instr.A, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	b, err := e.Operand(fn, instr.B, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	op := map[ir.Opcode]string{
		ir.OpAdd: "+", ir.OpSub: "-", ir.OpAnd: "&", ir.OpOr: "|", ir.OpXor: "^",
		ir.OpShl: "<<", ir.OpLShr: ">>>", ir.OpAShr: ">>",
	}[instr.Op]
	raw := fmt.Sprintf("(%s %s %s)", a, op, b)
	return coerce.Cast(e.Flags, raw, resultType(fn, instr), coerce.Nonspecific)
}

// mulOp renders an integer multiply. A constant right-hand operand
// gets shift strength reduction; otherwise it falls back to
// Math_imul.
func (e *Emitter) mulOp(fn *ir.Func, instr ir.Instr) (string, error) {
	if t := resultType(fn, instr); t.IsVector() {
		return e.vecIntOp(fn, instr, t)
	}
	a, err := e.Operand(fn, instr.A, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	if bv, ok := fn.Value(instr.B); ok && bv.Kind == ir.ValConst && bv.Const.Kind == ir.ConstInt {
		if reduced, ok := strengthReduceMul(a, bv.Const.IntVal); ok {
			return coerce.Cast(e.Flags, reduced, resultType(fn, instr), coerce.Nonspecific)
		}
	}
	b, err := e.Operand(fn, instr.B, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	raw := fmt.Sprintf("Math_imul(%s, %s)", a, b)
	return coerce.Cast(e.Flags, raw, resultType(fn, instr), coerce.Nonspecific)
}

// strengthReduceMul implements getIMul's cheap cases: multiply by a
// power of two is a shift; multiply by zero is zero; multiply by one
// is a no-op. Anything else declines (ok=false) so the caller falls
// back to Math_imul rather than a general shift-and-add expansion.
func strengthReduceMul(aText string, n int64) (string, bool) {
	if n == 0 {
		return "0", true
	}
	if n == 1 {
		return aText, true
	}
	neg := n < 0
	abs := n
	if neg {
		abs = -n
	}
	if abs&(abs-1) != 0 {
		return "", false
	}
	shift := 0
	for v := abs; v > 1; v >>= 1 {
		shift++
	}
	text := fmt.Sprintf("(%s<<%d)", aText, shift)
	if neg {
		text = fmt.Sprintf("(-%s)", text)
	}
	return text, true
}

func (e *Emitter) divRemOp(fn *ir.Func, instr ir.Instr) (string, error) {
	if t := resultType(fn, instr); t.IsVector() {
		return e.vecIntOp(fn, instr, t)
	}
	signed := instr.Op == ir.OpSDiv || instr.Op == ir.OpSRem
	flag := coerce.Unsigned
	op := "/"
	if instr.Op == ir.OpURem || instr.Op == ir.OpSRem {
		op = "%"
	}
	if signed {
		flag = coerce.Signed
	}
	a, err := e.Operand(fn, instr.A, flag)
	if err != nil {
		return "", err
	}
	b, err := e.Operand(fn, instr.B, flag)
	if err != nil {
		return "", err
	}
	raw := fmt.Sprintf("(%s %s %s)", a, op, b)
	return coerce.Cast(e.Flags, raw, resultType(fn, instr), flag)
}

func (e *Emitter) floatBinOp(fn *ir.Func, instr ir.Instr) (string, error) {
	if t := resultType(fn, instr); t.IsVector() {
		return e.vecFloatOp(fn, instr, t)
	}
	a, err := e.Operand(fn, instr.A, 0)
	if err != nil {
		return "", err
	}
	b, err := e.Operand(fn, instr.B, 0)
	if err != nil {
		return "", err
	}
	op := map[ir.Opcode]string{
		ir.OpFAdd: "+", ir.OpFSub: "-", ir.OpFMul: "*", ir.OpFDiv: "/", ir.OpFRem: "%",
	}[instr.Op]
	raw := fmt.Sprintf("(%s %s %s)", a, op, b)
	return coerce.Cast(e.Flags, raw, resultType(fn, instr), 0)
}

var icmpOperator = map[ir.Predicate]string{
	ir.CmpEQ: "==", ir.CmpNE: "!=",
	ir.CmpULT: "<", ir.CmpULE: "<=", ir.CmpUGT: ">", ir.CmpUGE: ">=",
	ir.CmpSLT: "<", ir.CmpSLE: "<=", ir.CmpSGT: ">", ir.CmpSGE: ">=",
}

func icmpFlag(p ir.Predicate) coerce.Flags {
	switch p {
	case ir.CmpULT, ir.CmpULE, ir.CmpUGT, ir.CmpUGE:
		return coerce.Unsigned
	case ir.CmpSLT, ir.CmpSLE, ir.CmpSGT, ir.CmpSGE:
		return coerce.Signed
	default:
		return coerce.Nonspecific
	}
}

func (e *Emitter) icmpOp(fn *ir.Func, instr ir.Instr) (string, error) {
	if valueType(fn, instr.A).IsVector() {
		return e.vecCompare(fn, instr, false)
	}
	op, ok := icmpOperator[instr.Pred]
	if !ok {
		return "", fmt.Errorf("funcemit: unsupported icmp predicate %v", instr.Pred)
	}
	flag := icmpFlag(instr.Pred)
	a, err := e.Operand(fn, instr.A, flag)
	if err != nil {
		return "", err
	}
	b, err := e.Operand(fn, instr.B, flag)
	if err != nil {
		return "", err
	}
	raw := fmt.Sprintf("(%s%s%s)", a, op, b)
	return coerce.Cast(e.Flags, raw, ir.I1, coerce.Nonspecific)
}

func (e *Emitter) fcmpOp(fn *ir.Func, instr ir.Instr) (string, error) {
	if valueType(fn, instr.A).IsVector() {
		return e.vecCompare(fn, instr, true)
	}
	a, err := e.Operand(fn, instr.A, 0)
	if err != nil {
		return "", err
	}
	b, err := e.Operand(fn, instr.B, 0)
	if err != nil {
		return "", err
	}
	eq := func() string { return fmt.Sprintf("(%s==%s)", a, b) }
	ne := func() string { return fmt.Sprintf("(%s!=%s)", a, b) }
	var raw string
	switch instr.Pred {
	case ir.CmpFalse:
		raw = "0"
	case ir.CmpTrue:
		raw = "1"
	case ir.CmpOEQ:
		raw = eq()
	case ir.CmpONE:
		raw = fmt.Sprintf("((%s==%s)&(%s==%s)&%s)", a, a, b, b, ne())
	case ir.CmpOLT:
		raw = fmt.Sprintf("(%s<%s)", a, b)
	case ir.CmpOLE:
		raw = fmt.Sprintf("(%s<=%s)", a, b)
	case ir.CmpOGT:
		raw = fmt.Sprintf("(%s>%s)", a, b)
	case ir.CmpOGE:
		raw = fmt.Sprintf("(%s>=%s)", a, b)
	case ir.CmpORD:
		raw = fmt.Sprintf("((%s==%s)&(%s==%s))", a, a, b, b)
	case ir.CmpUNO:
		raw = fmt.Sprintf("((%s!=%s)|(%s!=%s))", a, a, b, b)
	case ir.CmpUEQ:
		raw = fmt.Sprintf("((%s!=%s)|(%s!=%s)|%s)", a, a, b, b, eq())
	case ir.CmpUNE:
		raw = ne()
	case ir.CmpULTF:
		raw = fmt.Sprintf("!(%s>=%s)", a, b)
	case ir.CmpULEF:
		raw = fmt.Sprintf("!(%s>%s)", a, b)
	case ir.CmpUGTF:
		raw = fmt.Sprintf("!(%s<=%s)", a, b)
	case ir.CmpUGEF:
		raw = fmt.Sprintf("!(%s<%s)", a, b)
	default:
		return "", fmt.Errorf("funcemit: unsupported fcmp predicate %v", instr.Pred)
	}
	return coerce.Cast(e.Flags, raw, ir.I1, coerce.Nonspecific)
}

func (e *Emitter) loadOp(ctx *Context, instr ir.Instr) (string, error) {
	fn := ctx.Fn
	if slot, ok := ctx.slot(instr.Ptr); ok && slot.Nativized {
		v, _ := fn.Value(instr.Ptr)
		return e.Mangler.NameOfLocal(fn.ID, v), nil
	}
	ptr, err := e.Operand(fn, instr.Ptr, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	if instr.Type.IsVector() {
		return e.Vector.Load(instr.Type, ptr, partialLanes(instr.Type)), nil
	}
	return e.Memory.Load(memlower.Access{PtrExpr: ptr, Type: instr.Type, Mem: instr.Mem})
}

func (e *Emitter) storeOp(ctx *Context, instr ir.Instr) (string, error) {
	fn := ctx.Fn
	val, err := e.Operand(fn, instr.Val, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	if slot, ok := ctx.slot(instr.Ptr); ok && slot.Nativized {
		v, _ := fn.Value(instr.Ptr)
		return e.Mangler.NameOfLocal(fn.ID, v) + " = " + val, nil
	}
	ptr, err := e.Operand(fn, instr.Ptr, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	if instr.Type.IsVector() {
		return e.Vector.Store(instr.Type, ptr, val, partialLanes(instr.Type)), nil
	}
	return e.Memory.Store(memlower.Access{PtrExpr: ptr, Type: instr.Type, Mem: instr.Mem}, val)
}

func (e *Emitter) castOp(fn *ir.Func, instr ir.Instr) (string, error) {
	a, err := e.Operand(fn, instr.A, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	t := resultType(fn, instr)
	if t.IsVector() && valueType(fn, instr.A).IsVector() && instr.Cast != ir.CastBitcast {
		return e.vecCast(fn, instr, a, t)
	}
	switch instr.Cast {
	case ir.CastTrunc, ir.CastZExt:
		return coerce.Cast(e.Flags, a, t, coerce.Unsigned)
	case ir.CastSExt:
		return coerce.Cast(e.Flags, a, t, coerce.Signed)
	case ir.CastBitcast, ir.CastIntToPtr, ir.CastPtrToInt:
		return e.bitcastOp(fn, instr, a)
	case ir.CastSIToFP:
		return coerce.Cast(e.Flags, "("+a+"|0)", t, coerce.Signed)
	case ir.CastUIToFP:
		return coerce.Cast(e.Flags, "("+a+">>>0)", t, coerce.Unsigned)
	case ir.CastFPToSI:
		return coerce.Cast(e.Flags, coerce.DoubleToInt(a), t, coerce.Signed)
	case ir.CastFPToUI:
		return coerce.Cast(e.Flags, coerce.DoubleToInt(a)+">>>0", t, coerce.Unsigned)
	case ir.CastFPTrunc, ir.CastFPExt:
		return coerce.Cast(e.Flags, a, t, 0)
	default:
		return "", fmt.Errorf("funcemit: unsupported cast kind %v", instr.Cast)
	}
}

// bitcastOp handles same-width reinterpretation. ptr<->int share a
// representation in the target dialect (both are plain numbers), so
// those two just re-coerce; a float<->int scalar bitcast stages
// through the memory lowerer's scratch buffer the same way a
// misaligned access does, since there is no dedicated reinterpret
// intrinsic.
func (e *Emitter) bitcastOp(fn *ir.Func, instr ir.Instr, aText string) (string, error) {
	t := resultType(fn, instr)
	srcType := valueType(fn, instr.A)
	if t.Kind == ir.KindPtr || srcType.Kind == ir.KindPtr {
		return coerce.Cast(e.Flags, aText, t, coerce.Nonspecific)
	}
	if srcType.IsFloat() && t.IsInt() {
		if srcType.Kind == ir.KindF32 {
			return fmt.Sprintf("(HEAPF32[%s>>2]=%s,HEAP32[%s>>2]|0)", memlower.Scratch, aText, memlower.Scratch), nil
		}
		return fmt.Sprintf("(HEAPF64[%s>>3]=%s,HEAP32[%s>>2]|0)", memlower.Scratch, aText, memlower.Scratch), nil
	}
	if srcType.IsInt() && t.IsFloat() {
		if t.Kind == ir.KindF32 {
			return fmt.Sprintf("(HEAP32[%s>>2]=%s,HEAPF32[%s>>2])", memlower.Scratch, aText, memlower.Scratch), nil
		}
		return fmt.Sprintf("(HEAP32[%s>>2]=%s,HEAPF64[%s>>3])", memlower.Scratch, aText, memlower.Scratch), nil
	}
	if srcType.IsVector() || t.IsVector() {
		return e.Vector.FromBits(t, srcType, aText), nil
	}
	return coerce.Cast(e.Flags, aText, t, coerce.Nonspecific)
}

func (e *Emitter) selectOp(fn *ir.Func, instr ir.Instr) (string, error) {
	cond, err := e.Operand(fn, instr.A, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	t := resultType(fn, instr)
	if t.IsVector() {
		trueV, err := e.Operand(fn, instr.B, 0)
		if err != nil {
			return "", err
		}
		falseV, err := e.Operand(fn, instr.C, 0)
		if err != nil {
			return "", err
		}
		return e.Vector.Select(t, cond, trueV, falseV), nil
	}
	trueV, err := e.Operand(fn, instr.B, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	falseV, err := e.Operand(fn, instr.C, coerce.Nonspecific)
	if err != nil {
		return "", err
	}
	raw := fmt.Sprintf("(%s ? %s : %s)", cond, trueV, falseV)
	return coerce.Cast(e.Flags, raw, t, coerce.Nonspecific)
}

func (e *Emitter) callOp(fn *ir.Func, instr ir.Instr) (string, error) {
	args := make([]string, len(instr.Args))
	for i, a := range instr.Args {
		text, err := e.Operand(fn, a, coerce.Nonspecific|coerce.FFIOut|coerce.MustCast)
		if err != nil {
			return "", err
		}
		args[i] = text
	}
	switch instr.Call.Kind {
	case ir.CalleeFunc:
		name := e.Funcs.Name(instr.Call.Func)
		return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", ")), nil
	case ir.CalleeIndirect:
		idx, err := e.Operand(fn, instr.Call.Indirect, coerce.Nonspecific)
		if err != nil {
			return "", err
		}
		return e.Tables.CallExpr(instr.Call.TableSig, idx, args)
	case ir.CalleeIntrinsic:
		text, ok, err := e.Intrinsics.Dispatch(instr.Call, args, instr.CallType)
		if err != nil {
			return "", err
		}
		if ok {
			return text, nil
		}
		return fmt.Sprintf("%s(%s)", instr.Call.Intrinsic, strings.Join(args, ", ")), nil
	default:
		return "", fmt.Errorf("funcemit: unsupported callee kind %v", instr.Call.Kind)
	}
}

// insertElementOp renders the head of an insertelement chain: the
// chain of single-use insertelements feeding this one collapses into
// one splat, constructor, or replaceLane sequence. Interior links
// render nothing (renderInstr skips them).
func (e *Emitter) insertElementOp(ctx *Context, instr ir.Instr) (string, error) {
	fn := ctx.Fn
	var lanes []simd.LaneValue
	cur := instr
	baseID := instr.VecBase
	for {
		idx, err := constIndex(fn, cur.VecIndex)
		if err != nil {
			return "", err
		}
		val, err := e.Operand(fn, cur.VecElem, 0)
		if err != nil {
			return "", err
		}
		lanes = append(lanes, simd.LaneValue{Index: idx, Expr: val})
		baseID = cur.VecBase
		prev, ok := ctx.def(baseID)
		if !ok || prev.Op != ir.OpInsertElement || ctx.useCount[baseID] != 1 {
			break
		}
		cur = prev
	}
	// lanes were collected outermost-first; ResolveInsertChain lets a
	// later entry win a lane, so restore chain order.
	for i, j := 0, len(lanes)-1; i < j; i, j = i+1, j-1 {
		lanes[i], lanes[j] = lanes[j], lanes[i]
	}
	base, err := e.Operand(fn, baseID, 0)
	if err != nil {
		return "", err
	}
	return e.Vector.ResolveInsertChain(resultType(fn, instr), base, lanes), nil
}

func (e *Emitter) extractElementOp(fn *ir.Func, instr ir.Instr) (string, error) {
	base, err := e.Operand(fn, instr.VecBase, 0)
	if err != nil {
		return "", err
	}
	idx, err := constIndex(fn, instr.VecIndex)
	if err != nil {
		return "", err
	}
	return e.Vector.ExtractLane(valueType(fn, instr.VecBase), base, idx), nil
}

func (e *Emitter) shuffleOp(fn *ir.Func, instr ir.Instr) (string, error) {
	t := resultType(fn, instr)
	aExpr, err := e.Operand(fn, instr.A, 0)
	if err != nil {
		return "", err
	}
	laneCount := valueType(fn, instr.A).PaddedLanes()
	if simd.IsZeroSwizzleOfLaneZero(instr.VecMask) {
		return e.Vector.Splat(t, e.Vector.ExtractLane(t, aExpr, 0)), nil
	}
	if simd.UsesSingleOperand(instr.VecMask, laneCount) {
		return e.Vector.Swizzle(t, aExpr, instr.VecMask), nil
	}
	bExpr, err := e.Operand(fn, instr.B, 0)
	if err != nil {
		return "", err
	}
	return e.Vector.Shuffle(t, aExpr, bExpr, instr.VecMask), nil
}

func constIndex(fn *ir.Func, id ir.ValueID) (int, error) {
	v, ok := fn.Value(id)
	if !ok || v.Kind != ir.ValConst || v.Const.Kind != ir.ConstInt {
		return 0, fmt.Errorf("funcemit: insertelement/extractelement index must be a constant")
	}
	return int(v.Const.IntVal), nil
}

func valueType(fn *ir.Func, id ir.ValueID) ir.Type {
	v, _ := fn.Value(id)
	return v.Type
}

// resultType looks up instr's own result type via its Result ValueID,
// since Instr itself only carries operand types explicitly for
// load/store/alloca/cast.
func resultType(fn *ir.Func, instr ir.Instr) ir.Type {
	v, _ := fn.Value(instr.Result)
	return v.Type
}
