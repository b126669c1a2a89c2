package funcemit

import (
	"fmt"
	"sort"
	"strings"

	"asmcore/internal/coerce"
	"asmcore/internal/ir"
)

// PhiEdge renders the epilogue for the branch edge (from, to): the
// assignments induced by to's phi nodes whose incoming block is from.
// The assignments are conceptually parallel — each reads the
// pre-epilogue value of its incoming operand — so any assignment
// whose operand is itself a phi target of this edge is routed through
// a "<name>$phi" temporary: the temporaries all capture their values
// in a prefix segment, before any target is overwritten, which breaks
// dependency cycles and ordering hazards in one stroke.
func (e *Emitter) PhiEdge(ctx *Context, from, to ir.BlockID) (string, error) {
	blk, ok := ctx.Fn.Block(to)
	if !ok {
		return "", fmt.Errorf("funcemit: phi edge into unknown block %d", to)
	}
	if len(blk.Phis) == 0 {
		return "", nil
	}

	targetName := make(map[ir.ValueID]string, len(blk.Phis))
	for _, phi := range blk.Phis {
		v, ok := ctx.Fn.Value(phi.Result)
		if !ok {
			return "", fmt.Errorf("funcemit: phi result %d not found", phi.Result)
		}
		targetName[phi.Result] = e.Mangler.NameOfLocal(ctx.Fn.ID, v)
	}

	type assign struct {
		name string
		val  ir.ValueID
		typ  ir.Type
		dep  bool // operand is another phi target of this same edge
	}
	byName := make(map[string]*assign)
	var names []string
	for _, phi := range blk.Phis {
		if !ctx.used[phi.Result] {
			continue
		}
		for i, pb := range phi.PhiBlocks {
			if pb != from {
				continue
			}
			in := phi.PhiVals[i]
			if in == phi.Result {
				break // self-assignment, nothing to do
			}
			name := targetName[phi.Result]
			v, _ := ctx.Fn.Value(phi.Result)
			_, isTarget := targetName[in]
			byName[name] = &assign{name: name, val: in, typ: v.Type, dep: isTarget}
			names = append(names, name)
			break
		}
	}
	sort.Strings(names)

	var pre, post strings.Builder
	pending := names
	for len(pending) > 0 {
		emitted := false
		var next []string
		for idx, name := range pending {
			a := byName[name]
			last := idx == len(pending)-1
			if a.dep && !(last && !emitted) {
				next = append(next, name)
				continue
			}
			rhs, err := e.Operand(ctx.Fn, a.val, coerce.Nonspecific)
			if err != nil {
				return "", err
			}
			if a.dep {
				temp := a.name + "$phi"
				ctx.noteTemp(temp, a.typ)
				fmt.Fprintf(&pre, "%s = %s;", temp, rhs)
				rhs = temp
			}
			fmt.Fprintf(&post, "%s = %s;", a.name, rhs)
			emitted = true
		}
		pending = next
	}
	return pre.String() + post.String(), nil
}
