package funcemit

import (
	"fmt"

	"asmcore/internal/ir"
)

// partialLanes reports how many lanes a vector load/store actually
// moves: 0 means all of them, 1..3 selects the partial-lane helper
// for a 32-bit-lane vector declared narrower than 128 bits.
func partialLanes(t ir.Type) int {
	if t.Lanes < t.PaddedLanes() {
		return t.Lanes
	}
	return 0
}

// vecIntOp lowers an integer-lane vector arithmetic, bitwise, shift,
// or division instruction. Division and remainder have no native
// vector form and unroll per lane; shifts unroll unless the amount is
// a uniform splat.
func (e *Emitter) vecIntOp(fn *ir.Func, instr ir.Instr, t ir.Type) (string, error) {
	a, err := e.Operand(fn, instr.A, 0)
	if err != nil {
		return "", err
	}
	switch instr.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor:
		if instr.Op == ir.OpXor && isAllOnesConst(fn, instr.B) {
			return e.Vector.Not(t, a), nil
		}
		name := map[ir.Opcode]string{
			ir.OpAdd: "add", ir.OpSub: "sub", ir.OpMul: "mul",
			ir.OpAnd: "and", ir.OpOr: "or", ir.OpXor: "xor",
		}[instr.Op]
		b, err := e.Operand(fn, instr.B, 0)
		if err != nil {
			return "", err
		}
		return e.Vector.BinOp(name, t, a, b), nil
	case ir.OpShl, ir.OpLShr, ir.OpAShr:
		name := map[ir.Opcode]string{
			ir.OpShl: "shiftLeft", ir.OpLShr: "shiftRightLogical", ir.OpAShr: "shiftRightArithmetic",
		}[instr.Op]
		if amt, ok := splatIntConst(fn, instr.B); ok {
			return e.Vector.ShiftByScalar(name, t, a, amt), nil
		}
		scalarOp := map[ir.Opcode]string{ir.OpShl: "<<", ir.OpLShr: ">>>", ir.OpAShr: ">>"}[instr.Op]
		b, err := e.Operand(fn, instr.B, 0)
		if err != nil {
			return "", err
		}
		return e.Vector.UnrollScalar(t, a, b, func(al, bl string) string {
			return fmt.Sprintf("(%s %s %s)|0", al, scalarOp, bl)
		}), nil
	case ir.OpUDiv, ir.OpSDiv, ir.OpURem, ir.OpSRem:
		scalarOp := "/"
		if instr.Op == ir.OpURem || instr.Op == ir.OpSRem {
			scalarOp = "%"
		}
		cast := ">>>0"
		if instr.Op == ir.OpSDiv || instr.Op == ir.OpSRem {
			cast = "|0"
		}
		b, err := e.Operand(fn, instr.B, 0)
		if err != nil {
			return "", err
		}
		return e.Vector.UnrollScalar(t, a, b, func(al, bl string) string {
			return fmt.Sprintf("((%s%s) %s (%s%s))|0", al, cast, scalarOp, bl, cast)
		}), nil
	default:
		return "", fmt.Errorf("funcemit: unsupported vector integer opcode %v", instr.Op)
	}
}

// vecFloatOp lowers a float-lane vector arithmetic instruction. An
// fsub whose first operand is a -0.0 splat is a negation.
func (e *Emitter) vecFloatOp(fn *ir.Func, instr ir.Instr, t ir.Type) (string, error) {
	if instr.Op == ir.OpFSub && isNegZeroConst(fn, instr.A) {
		b, err := e.Operand(fn, instr.B, 0)
		if err != nil {
			return "", err
		}
		return e.Vector.Neg(t, b), nil
	}
	a, err := e.Operand(fn, instr.A, 0)
	if err != nil {
		return "", err
	}
	b, err := e.Operand(fn, instr.B, 0)
	if err != nil {
		return "", err
	}
	switch instr.Op {
	case ir.OpFAdd:
		return e.Vector.BinOp("add", t, a, b), nil
	case ir.OpFSub:
		return e.Vector.BinOp("sub", t, a, b), nil
	case ir.OpFMul:
		return e.Vector.BinOp("mul", t, a, b), nil
	case ir.OpFDiv:
		return e.Vector.BinOp("div", t, a, b), nil
	case ir.OpFRem:
		return e.Vector.UnrollScalar(t, a, b, func(al, bl string) string {
			return fmt.Sprintf("(%s %% %s)", al, bl)
		}), nil
	default:
		return "", fmt.Errorf("funcemit: unsupported vector float opcode %v", instr.Op)
	}
}

// vecCompare lowers a vector icmp or fcmp; the result is a boolean
// vector represented as integer lanes of -1/0.
func (e *Emitter) vecCompare(fn *ir.Func, instr ir.Instr, isFloat bool) (string, error) {
	a, err := e.Operand(fn, instr.A, 0)
	if err != nil {
		return "", err
	}
	b, err := e.Operand(fn, instr.B, 0)
	if err != nil {
		return "", err
	}
	operandType := valueType(fn, instr.A)
	result := resultType(fn, instr)
	if isFloat {
		return e.Vector.FloatCompare(instr.Pred, operandType, result, a, b)
	}
	return e.Vector.IntCompare(instr.Pred, operandType, result, a, b)
}

// vecCast lowers a vector-to-vector width/interpretation change that
// is not a plain bitcast: a boolean vector widening renders through
// the equal-width fromBits form, since boolean vectors already live
// as integer lanes.
func (e *Emitter) vecCast(fn *ir.Func, instr ir.Instr, aText string, t ir.Type) (string, error) {
	src := valueType(fn, instr.A)
	if src.SIMDTag() == t.SIMDTag() {
		return aText, nil
	}
	switch instr.Cast {
	case ir.CastSExt, ir.CastZExt, ir.CastTrunc:
		return e.Vector.FromBits(t, src, aText), nil
	default:
		return "", fmt.Errorf("funcemit: unsupported vector cast kind %v", instr.Cast)
	}
}

// isAllOnesConst reports whether id is an all-ones constant (scalar
// -1 or a vector whose lanes are all -1), the xor operand shape that
// means bitwise-not.
func isAllOnesConst(fn *ir.Func, id ir.ValueID) bool {
	v, ok := fn.Value(id)
	if !ok || v.Kind != ir.ValConst {
		return false
	}
	c := v.Const
	if c.Kind == ir.ConstInt {
		return c.IntVal == -1
	}
	if c.Kind != ir.ConstVector || len(c.Lanes) == 0 {
		return false
	}
	for _, lane := range c.Lanes {
		if lane.Kind != ir.ConstInt || lane.IntVal != -1 {
			return false
		}
	}
	return true
}

// isNegZeroConst reports whether id is a -0.0 constant (scalar or
// splat), the fsub operand shape that means negation.
func isNegZeroConst(fn *ir.Func, id ir.ValueID) bool {
	const negZero32 = uint64(0x80000000)
	const negZero64 = uint64(0x8000000000000000)
	isNegZero := func(c ir.Const) bool {
		return c.Kind == ir.ConstFloat && (c.FloatBits == negZero32 || c.FloatBits == negZero64)
	}
	v, ok := fn.Value(id)
	if !ok || v.Kind != ir.ValConst {
		return false
	}
	c := v.Const
	if isNegZero(c) {
		return true
	}
	if c.Kind != ir.ConstVector || len(c.Lanes) == 0 {
		return false
	}
	for _, lane := range c.Lanes {
		if !isNegZero(lane) {
			return false
		}
	}
	return true
}

// splatIntConst detects a shift-amount operand that is a uniform
// integer splat and returns the scalar amount text.
func splatIntConst(fn *ir.Func, id ir.ValueID) (string, bool) {
	v, ok := fn.Value(id)
	if !ok || v.Kind != ir.ValConst {
		return "", false
	}
	c := v.Const
	if c.Kind == ir.ConstInt {
		return fmt.Sprintf("%d", c.IntVal), true
	}
	if c.Kind != ir.ConstVector || len(c.Lanes) == 0 {
		return "", false
	}
	first := c.Lanes[0]
	if first.Kind != ir.ConstInt {
		return "", false
	}
	for _, lane := range c.Lanes[1:] {
		if lane.Kind != ir.ConstInt || lane.IntVal != first.IntVal {
			return "", false
		}
	}
	return fmt.Sprintf("%d", first.IntVal), true
}
