package funcemit

import (
	"fmt"
	"sort"
	"strings"

	"asmcore/internal/coerce"
	"asmcore/internal/diag"
	"asmcore/internal/ir"
	"asmcore/internal/relooper"
)

// largeVariableCount is the per-function local count past which a
// diagnostic warns that the downstream optimizer will struggle.
const largeVariableCount = 2000

// EmitFunction renders one complete function: every block's body and
// branch edges go to the reconstructor, and the structured result is
// wrapped in the prologue (argument coercions, variable declarations,
// stack bump) and epilogue (default return).
func (e *Emitter) EmitFunction(ctx *Context, recon relooper.Reconstructor) (string, error) {
	fn := ctx.Fn
	cfg := relooper.CFG{Entry: fn.Entry}
	for i := range fn.Blocks {
		bb := &fn.Blocks[i]
		body, err := e.RenderBlockBody(ctx, bb)
		if err != nil {
			return "", err
		}
		blk := relooper.Block{ID: bb.ID, Body: body}
		if err := e.terminatorEdges(ctx, bb, &blk); err != nil {
			return "", err
		}
		cfg.Blocks = append(cfg.Blocks, blk)
	}
	if !relooper.CanReloop(cfg) {
		return "", relooper.ErrEmulatedUnreachable
	}
	inner, err := recon.Reconstruct(cfg)
	if err != nil {
		return "", err
	}
	return e.wrapFunction(ctx, inner)
}

// terminatorEdges translates bb's terminator into the block's
// condition expression and outgoing edges, each edge carrying its phi
// epilogue. The terminator itself never lands in the block body; only
// return does, since it transfers control out of the CFG entirely.
func (e *Emitter) terminatorEdges(ctx *Context, bb *ir.Block, blk *relooper.Block) error {
	fn := ctx.Fn
	t := bb.Term
	addEdge := func(label *string, dst ir.BlockID) error {
		ep, err := e.PhiEdge(ctx, bb.ID, dst)
		if err != nil {
			return err
		}
		blk.Edges = append(blk.Edges, relooper.Edge{Label: label, Target: dst, Epilogue: ep})
		return nil
	}
	switch t.Kind {
	case ir.TermRet:
		text, err := e.returnText(ctx, t)
		if err != nil {
			return err
		}
		blk.Body += text
		return nil
	case ir.TermUnreachable:
		return nil
	case ir.TermBr:
		return addEdge(nil, t.Dest)
	case ir.TermCondBr:
		cond, err := e.Operand(fn, t.Cond, coerce.Nonspecific)
		if err != nil {
			return err
		}
		blk.Condition = cond
		if err := addEdge(nil, t.True); err != nil {
			return err
		}
		return addEdge(nil, t.Fals)
	case ir.TermSwitch:
		return e.switchEdges(ctx, bb, blk, addEdge)
	case ir.TermIndirectBr:
		cond, err := e.Operand(fn, t.IndirectAddr, coerce.Nonspecific|coerce.MustCast)
		if err != nil {
			return err
		}
		blk.Condition = cond
		seen := make(map[ir.BlockID]bool)
		for _, dst := range t.IndirectDest {
			if seen[dst] {
				continue
			}
			seen[dst] = true
			if err := addEdge(nil, dst); err != nil {
				return err
			}
		}
		return nil
	default:
		e.Bag.Add(diag.New(diag.Fatal, diag.CodeInvalidTerminator,
			fmt.Sprintf("invalid terminator kind %d", t.Kind)).WithWhere(fn.Name))
		return fmt.Errorf("funcemit: invalid terminator kind %d in %q", t.Kind, fn.Name)
	}
}

// switchEdges adds one edge per distinct successor: a successor
// shared by several cases gets a single edge whose label is the OR of
// the individual case tests. The default successor's edge carries a
// nil label.
func (e *Emitter) switchEdges(ctx *Context, bb *ir.Block, blk *relooper.Block, addEdge func(*string, ir.BlockID) error) error {
	t := bb.Term
	cond, err := e.Operand(ctx.Fn, t.SwitchVal, coerce.Signed|coerce.MustCast)
	if err != nil {
		return err
	}
	blk.Condition = cond

	tests := make(map[ir.BlockID][]string)
	var order []ir.BlockID
	for _, c := range t.SwitchCases {
		if c.Dest == t.SwitchDefault {
			continue // already covered by the default edge
		}
		if _, ok := tests[c.Dest]; !ok {
			order = append(order, c.Dest)
		}
		tests[c.Dest] = append(tests[c.Dest], fmt.Sprintf("(%s) == %d", cond, c.Value))
	}
	for _, dst := range order {
		label := strings.Join(tests[dst], " | ")
		if err := addEdge(&label, dst); err != nil {
			return err
		}
	}
	return addEdge(nil, t.SwitchDefault)
}

func (e *Emitter) returnText(ctx *Context, t ir.Terminator) (string, error) {
	if !t.HasRetVal || t.RetVal == ir.NoValueID {
		return "return;\n", nil
	}
	val, err := e.Operand(ctx.Fn, t.RetVal, coerce.Nonspecific|coerce.MustCast)
	if err != nil {
		return "", err
	}
	return "return " + val + ";\n", nil
}

// wrapFunction surrounds the reconstructed body with the function
// header, argument re-coercions, zero-initialized declarations, the
// stack-frame setup, and the fall-off default return.
func (e *Emitter) wrapFunction(ctx *Context, body string) (string, error) {
	fn := ctx.Fn
	var b strings.Builder

	args := fn.Args()
	params := make([]string, len(args))
	for i, a := range args {
		params[i] = e.Mangler.NameOfLocal(fn.ID, a)
	}
	fmt.Fprintf(&b, "function %s(%s){\n", e.Funcs.Name(fn.ID), strings.Join(params, ","))
	for i, a := range args {
		cast, err := coerce.Cast(e.Flags, params[i], a.Type, coerce.Nonspecific)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " %s = %s;\n", params[i], cast)
	}

	decls := e.collectDecls(ctx)
	if len(decls) > largeVariableCount {
		e.Bag.Add(diag.New(diag.Warning, diag.CodeLargeVariableCount,
			fmt.Sprintf("%d local variables; expect slow downstream optimization", len(decls))).WithWhere(fn.Name))
	}
	if len(decls) > 0 {
		fmt.Fprintf(&b, " var %s;\n", strings.Join(decls, ", "))
	}
	b.WriteString(" var label = 0;\n")
	b.WriteString(" var sp = 0;\n")
	if ctx.Plan.NeedsSPAlign {
		b.WriteString(" var sp_a = 0;\n")
	}
	b.WriteString(" sp = STACKTOP;\n")
	if ctx.Plan.NeedsSPAlign {
		align := ctx.Plan.MaxAlign
		fmt.Fprintf(&b, " sp_a = (STACKTOP + %d) & %d;\n", align-1, -align)
		b.WriteString(" STACKTOP = sp_a;\n")
	}
	if ctx.Plan.FrameSize > 0 {
		fmt.Fprintf(&b, " STACKTOP = STACKTOP + %d|0;\n", ctx.Plan.FrameSize)
		if e.Flags.Assertions > 0 {
			b.WriteString(" if ((STACKTOP|0) >= (STACK_MAX|0)) abort();\n")
		}
	}

	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") && body != "" {
		b.WriteString("\n")
	}
	if fn.Result.Kind != ir.KindVoid {
		fmt.Fprintf(&b, " return %s;\n", zeroInit(e.Flags, fn.Result))
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// collectDecls builds the zero-initialized declaration list: every
// used instruction result (a nativized alloca declares its allocated
// type, not the pointer it never materializes) plus the phi-cycle
// temporaries.
func (e *Emitter) collectDecls(ctx *Context) []string {
	fn := ctx.Fn
	var decls []string
	for i := 0; i < fn.NumValues(); i++ {
		v, _ := fn.Value(ir.ValueID(i))
		if v.Kind != ir.ValInstr || !ctx.used[v.ID] {
			continue
		}
		t := v.Type
		if slot, ok := ctx.slot(v.ID); ok && slot.Nativized {
			t = slot.Type
		}
		name := e.Mangler.NameOfLocal(fn.ID, v)
		decls = append(decls, fmt.Sprintf("%s = %s", name, zeroInit(e.Flags, t)))
	}
	temps := make([]string, 0, len(ctx.phiTemps))
	for name := range ctx.phiTemps {
		temps = append(temps, name)
	}
	sort.Strings(temps)
	for _, name := range temps {
		decls = append(decls, fmt.Sprintf("%s = %s", name, zeroInit(e.Flags, ctx.phiTemps[name])))
	}
	return decls
}
