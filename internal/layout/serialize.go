package layout

import (
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"

	"asmcore/internal/constant"
	"asmcore/internal/ir"
	"asmcore/internal/mangle"
)

// Serialize is the second pass's byte filling: every laid-out global's
// initializer is written into a flat image whose byte 0 sits at the
// configured global base. Words that cannot be computed now (function
// pointers and global addresses in relocatable mode, extern symbol
// references) stay zero and enqueue a post-init statement instead.
// funcs resolves function-pointer table indices; it must be the same
// table set the rest of the emission uses or indices drift.
func (e *Engine) Serialize(m *ir.Module, funcs constant.FuncIndexer) ([]byte, error) {
	if !e.assigned {
		return nil, fmt.Errorf("layout: Serialize before Assign")
	}
	img := make([]byte, e.ImageSize())
	for i := range m.Globals {
		g := &m.Globals[i]
		addr, ok := e.AbsoluteAddress(g.ID)
		if !ok {
			continue
		}
		if g.Init == nil {
			continue // zerofill
		}
		if _, err := e.serializeConst(m, funcs, img, addr, *g.Init, g.Type); err != nil {
			return nil, fmt.Errorf("layout: global %q: %w", g.Name, err)
		}
	}
	return img, nil
}

// serializeConst writes c at absolute address addr and returns the
// number of bytes covered.
func (e *Engine) serializeConst(m *ir.Module, funcs constant.FuncIndexer, img []byte, addr int, c ir.Const, t ir.Type) (int, error) {
	off := addr - e.Flags.GlobalBase
	if off < 0 || off > len(img) {
		return 0, fmt.Errorf("address %d outside image", addr)
	}
	switch c.Kind {
	case ir.ConstNull:
		return 4, nil // already zero
	case ir.ConstAggregateZero, ir.ConstUndef:
		return sizeOfConst(c, t), nil
	case ir.ConstInt:
		size := scalarSize(t)
		if size == 0 {
			size = 4
		}
		putLE(img[off:], uint64(c.IntVal), size)
		return size, nil
	case ir.ConstFloat:
		size := scalarSize(t)
		putLE(img[off:], c.FloatBits, size)
		return size, nil
	case ir.ConstVector:
		cur := addr
		laneBytes := t.LaneBits / 8
		for _, lane := range c.Lanes {
			if _, err := e.serializeConst(m, funcs, img, cur, lane, lane.Type); err != nil {
				return 0, err
			}
			cur += laneBytes
		}
		return ir.VectorBits / 8, nil
	case ir.ConstArray:
		cur := addr
		for _, el := range c.Lanes {
			cur = alignUp(cur-e.Flags.GlobalBase, naturalAlign(el.Type)) + e.Flags.GlobalBase
			n, err := e.serializeConst(m, funcs, img, cur, el, el.Type)
			if err != nil {
				return 0, err
			}
			cur += n
		}
		return cur - addr, nil
	case ir.ConstFuncAddr:
		if e.Flags.Relocatable {
			e.deferWord(addr, fmt.Sprintf("(fb + (%d) | 0)", funcs.IndexOf(c.Func, c.GlobalSig)))
			return 4, nil
		}
		idx, err := safecast.Conv[uint64](funcs.IndexOf(c.Func, c.GlobalSig))
		if err != nil {
			return 0, err
		}
		putLE(img[off:], idx, 4)
		return 4, nil
	case ir.ConstGlobalAddr:
		return e.serializeGlobalAddr(m, img, addr, c)
	case ir.ConstExpr:
		if c.Expr == nil {
			return 0, fmt.Errorf("nil constant-expression payload")
		}
		inner := c.Expr.Operand
		inner.Offset += c.Expr.Offset
		return e.serializeConst(m, funcs, img, addr, inner, t)
	default:
		return 0, fmt.Errorf("unsupported initializer kind %v", c.Kind)
	}
}

// serializeGlobalAddr writes a pointer-to-global word. Extern targets
// have no address at emit time and always defer; defined targets
// defer only in relocatable mode, where the runtime base is unknown.
func (e *Engine) serializeGlobalAddr(m *ir.Module, img []byte, addr int, c ir.Const) (int, error) {
	target, ok := m.Global(c.Global)
	if !ok {
		return 0, fmt.Errorf("reference to unknown global %d", c.Global)
	}
	if target.IsExtern {
		expr := mangle.GlobalName(target.Name) + "|0"
		if c.Offset != 0 {
			expr = fmt.Sprintf("(%s + %d)|0", mangle.GlobalName(target.Name), c.Offset)
		}
		e.deferWord(addr, expr)
		return 4, nil
	}
	targetAddr, ok := e.AbsoluteAddress(c.Global)
	if !ok {
		return 0, fmt.Errorf("reference to un-laid-out global %q", target.Name)
	}
	if e.Flags.Relocatable {
		e.deferWord(addr, fmt.Sprintf("(gb + (%d) | 0)", targetAddr+int(c.Offset)))
		return 4, nil
	}
	v, err := safecast.Conv[uint64](targetAddr + int(c.Offset))
	if err != nil {
		return 0, err
	}
	putLE(img[addr-e.Flags.GlobalBase:], v, 4)
	return 4, nil
}

// deferWord enqueues the post-init store of expr into the 32-bit word
// at addr. In relocatable mode the destination itself shifts by the
// runtime global base.
func (e *Engine) deferWord(addr int, expr string) {
	if e.Flags.Relocatable {
		e.Post.Add(fmt.Sprintf("HEAP32[(gb + %d) >> 2] = %s", addr, expr))
		return
	}
	e.Post.Add(fmt.Sprintf("HEAP32[%d >> 2] = %s", addr, expr))
}

func putLE(dst []byte, v uint64, size int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(dst, buf[:size])
}
