// Package simd lowers vector-typed SSA instructions to SIMD.js-style
// "SIMD_<Tag>_<op>"
// call expressions, including lane-padding, insertelement-chain
// pattern detection, and the per-lane unrolling required for
// operations the target dialect has no native vector form for.
package simd

import (
	"fmt"
	"strings"

	"asmcore/internal/ir"
)

// UsageFlags tracks which SIMD tags a module actually uses, so the
// metadata block can report simd/simdInt8x16/
// simdInt16x8/simdInt32x4/simdFloat32x4/simdFloat64x2 without
// re-scanning every function after the fact.
type UsageFlags struct {
	Any        bool
	Int8x16    bool
	Int16x8    bool
	Int32x4    bool
	Float32x4  bool
	Float64x2  bool
}

func (u *UsageFlags) mark(t ir.Type) {
	if u == nil || !t.IsVector() {
		return
	}
	u.Any = true
	switch t.SIMDTag() {
	case "Int8x16":
		u.Int8x16 = true
	case "Int16x8":
		u.Int16x8 = true
	case "Int32x4":
		u.Int32x4 = true
	case "Float32x4":
		u.Float32x4 = true
	case "Float64x2":
		u.Float64x2 = true
	}
}

// Lowerer renders vector operations as target-dialect expressions.
// Usage may be nil when a caller doesn't need MetadataEmitter's SIMD
// flags (e.g. a unit test).
type Lowerer struct {
	Usage *UsageFlags
}

func (l *Lowerer) tag(t ir.Type) string {
	l.Usage.mark(t)
	return t.SIMDTag()
}

// LaneValue is one (index, textual-expression) pair collected while
// walking an insertelement chain.
type LaneValue struct {
	Index int
	Expr  string
}

// Splat renders a splat of one scalar expression across every lane of
// t.
func (l *Lowerer) Splat(t ir.Type, valExpr string) string {
	return fmt.Sprintf("SIMD_%s_splat(%s)", l.tag(t), valExpr)
}

// Constructor renders a full lane-by-lane vector construction,
// padding any lanes beyond len(laneExprs) with the type's zero lane.
func (l *Lowerer) Constructor(t ir.Type, laneExprs []string) string {
	padded := t.PaddedLanes()
	parts := make([]string, padded)
	zero := "0"
	if t.LaneKind == ir.LaneFloat {
		zero = "0.0"
	}
	for i := 0; i < padded; i++ {
		if i < len(laneExprs) {
			parts[i] = laneExprs[i]
		} else {
			parts[i] = zero
		}
	}
	return fmt.Sprintf("SIMD_%s(%s)", l.tag(t), strings.Join(parts, ", "))
}

// ResolveInsertChain classifies a fully-collected insertelement
// chain: all lanes filled and equal is a splat; all lanes
// filled and distinct is a constructor; a partially-filled chain is a
// sequence of replaceLane calls applied to base.
func (l *Lowerer) ResolveInsertChain(t ir.Type, base string, lanes []LaneValue) string {
	n := t.PaddedLanes()
	byIndex := make(map[int]string, len(lanes))
	for _, lv := range lanes {
		byIndex[lv.Index] = lv.Expr
	}
	if len(byIndex) == n {
		ordered := make([]string, n)
		for i := 0; i < n; i++ {
			ordered[i] = byIndex[i]
		}
		if allEqual(ordered) {
			return l.Splat(t, ordered[0])
		}
		return l.Constructor(t, ordered)
	}
	expr := base
	for _, lv := range lanes {
		expr = l.ReplaceLane(t, expr, lv.Index, lv.Expr)
	}
	return expr
}

func allEqual(exprs []string) bool {
	for _, e := range exprs[1:] {
		if e != exprs[0] {
			return false
		}
	}
	return true
}

// ReplaceLane renders a single-lane update.
func (l *Lowerer) ReplaceLane(t ir.Type, vecExpr string, index int, valExpr string) string {
	return fmt.Sprintf("SIMD_%s_replaceLane(%s, %d, %s)", l.tag(t), vecExpr, index, valExpr)
}

// ExtractLane renders a constant-index lane extraction. extractelement
// with a non-constant index is a fatal translation error the caller
// must have already rejected,
// so ExtractLane itself never returns one.
func (l *Lowerer) ExtractLane(t ir.Type, vecExpr string, index int) string {
	return fmt.Sprintf("SIMD_%s_extractLane(%s, %d)", l.tag(t), vecExpr, index)
}

// IsZeroSwizzleOfLaneZero reports whether mask is the all-zero mask
// over a single operand, the "splat via shuffle" pattern: a
// shufflevector with an all-zero mask whose operand is
// itself an insertelement of lane 0 should render as a splat rather
// than a swizzle.
func IsZeroSwizzleOfLaneZero(mask []int32) bool {
	for _, m := range mask {
		if m != 0 {
			return false
		}
	}
	return len(mask) > 0
}

// UsesSingleOperand reports whether every mask entry (ignoring -1
// "don't care" entries) indexes into the first operand's lane range,
// distinguishing a swizzle from a two-operand shuffle.
func UsesSingleOperand(mask []int32, laneCount int) bool {
	for _, m := range mask {
		if m >= int32(laneCount) {
			return false
		}
	}
	return true
}

// Swizzle renders a single-operand lane permutation.
func (l *Lowerer) Swizzle(t ir.Type, vecExpr string, lanes []int32) string {
	args := make([]string, len(lanes))
	for i, m := range lanes {
		if m < 0 {
			m = 0
		}
		args[i] = fmt.Sprintf("%d", m)
	}
	return fmt.Sprintf("SIMD_%s_swizzle(%s, %s)", l.tag(t), vecExpr, strings.Join(args, ", "))
}

// Shuffle renders a two-operand lane permutation, both operands cast
// to the result type first.
func (l *Lowerer) Shuffle(t ir.Type, aExpr, bExpr string, lanes []int32) string {
	tag := l.tag(t)
	args := make([]string, len(lanes))
	for i, m := range lanes {
		if m < 0 {
			m = 0
		}
		args[i] = fmt.Sprintf("%d", m)
	}
	return fmt.Sprintf("SIMD_%s_shuffle(SIMD_%s_check(%s), SIMD_%s_check(%s), %s)",
		tag, tag, aExpr, tag, bExpr, strings.Join(args, ", "))
}

// BinOp renders one of the native elementwise operations: add, sub,
// mul, div, and, or, xor.
func (l *Lowerer) BinOp(op string, t ir.Type, aExpr, bExpr string) string {
	return fmt.Sprintf("SIMD_%s_%s(%s, %s)", l.tag(t), op, aExpr, bExpr)
}

// Not renders a bitwise-not, synthesized when an xor's second operand
// is an all-ones constant.
func (l *Lowerer) Not(t ir.Type, aExpr string) string {
	return fmt.Sprintf("SIMD_%s_not(%s)", l.tag(t), aExpr)
}

// Neg renders a float negate, synthesized when an fsub's first
// operand is a -0.0 constant.
func (l *Lowerer) Neg(t ir.Type, aExpr string) string {
	return fmt.Sprintf("SIMD_%s_neg(%s)", l.tag(t), aExpr)
}

// UnrollScalar performs the lane-at-a-time fallback for operations
// the dialect has no native vector form for
// (integer division/remainder, and any shift whose amount is not a
// uniform splat): extract every lane of a (and, if bExpr is non-empty,
// the matching lane of b), apply laneOp, and reconstruct via
// Constructor.
func (l *Lowerer) UnrollScalar(t ir.Type, aExpr, bExpr string, laneOp func(a, b string) string) string {
	n := t.PaddedLanes()
	lanes := make([]string, n)
	for i := 0; i < n; i++ {
		aLane := l.ExtractLane(t, aExpr, i)
		bLane := ""
		if bExpr != "" {
			bLane = l.ExtractLane(t, bExpr, i)
		}
		lanes[i] = laneOp(aLane, bLane)
	}
	return l.Constructor(t, lanes)
}

// ShiftByScalar renders a native scalar-amount shift, used when the
// shift-amount operand is a splat (every lane equal); amountExpr is
// the single scalar shift amount, not a vector.
func (l *Lowerer) ShiftByScalar(op string, t ir.Type, aExpr, amountExpr string) string {
	return fmt.Sprintf("SIMD_%s_%sByScalar(%s, %s)", l.tag(t), op, aExpr, amountExpr)
}

// Select renders a lane-wise vector select.
func (l *Lowerer) Select(t ir.Type, condExpr, trueExpr, falseExpr string) string {
	return fmt.Sprintf("SIMD_%s_select(%s, %s, %s)", l.tag(t), condExpr, trueExpr, falseExpr)
}

// FromBits renders a same-width bitcast between two vector tags
// (bitcast, or sext/zext of an i1-lane boolean vector to a wider
// integer lane width via fromXxxBits).
func (l *Lowerer) FromBits(to, from ir.Type, expr string) string {
	toTag, fromTag := l.tag(to), l.tag(from)
	return fmt.Sprintf("SIMD_%s_from%sBits(%s)", toTag, fromTag, expr)
}

// BoolToIntSelect renders a bool-lane (i1 vector, represented as -1/0
// integer lanes) to wider-integer-lane conversion as a select between
// splats of -1 and 0.
func (l *Lowerer) BoolToIntSelect(to ir.Type, condExpr string) string {
	return l.Select(to, condExpr, l.Splat(to, "-1"), l.Splat(to, "0"))
}

// Load renders a typed heap load of n lanes (n < the type's full lane
// count for a partially-used 32-bit-lane vector).
func (l *Lowerer) Load(t ir.Type, ptrExpr string, n int) string {
	tag := l.tag(t)
	if n <= 0 || n >= t.PaddedLanes() {
		return fmt.Sprintf("SIMD_%s_load(HEAPU8, %s)", tag, ptrExpr)
	}
	return fmt.Sprintf("SIMD_%s_load%d(HEAPU8, %s)", tag, n, ptrExpr)
}

// Store renders a typed heap store of n lanes.
func (l *Lowerer) Store(t ir.Type, ptrExpr, valExpr string, n int) string {
	tag := l.tag(t)
	if n <= 0 || n >= t.PaddedLanes() {
		return fmt.Sprintf("SIMD_%s_store(HEAPU8, %s, %s)", tag, ptrExpr, valExpr)
	}
	return fmt.Sprintf("SIMD_%s_store%d(HEAPU8, %s, %s)", tag, n, ptrExpr, valExpr)
}

// IntCompare renders a named integer comparison. ne/sle/sge have no
// native op and are synthesized as not(equal)/not(greaterThan)/
// not(lessThan).
func (l *Lowerer) IntCompare(pred ir.Predicate, t, resultType ir.Type, aExpr, bExpr string) (string, error) {
	tag := l.tag(t)
	switch pred {
	case ir.CmpEQ:
		return fmt.Sprintf("SIMD_%s_equal(%s, %s)", tag, aExpr, bExpr), nil
	case ir.CmpNE:
		return l.Not(resultType, fmt.Sprintf("SIMD_%s_equal(%s, %s)", tag, aExpr, bExpr)), nil
	case ir.CmpSLT, ir.CmpULT:
		return fmt.Sprintf("SIMD_%s_lessThan(%s, %s)", tag, aExpr, bExpr), nil
	case ir.CmpSLE, ir.CmpULE:
		return l.Not(resultType, fmt.Sprintf("SIMD_%s_greaterThan(%s, %s)", tag, aExpr, bExpr)), nil
	case ir.CmpSGT, ir.CmpUGT:
		return fmt.Sprintf("SIMD_%s_greaterThan(%s, %s)", tag, aExpr, bExpr), nil
	case ir.CmpSGE, ir.CmpUGE:
		return l.Not(resultType, fmt.Sprintf("SIMD_%s_lessThan(%s, %s)", tag, aExpr, bExpr)), nil
	default:
		return "", fmt.Errorf("simd: unsupported integer vector predicate %v", pred)
	}
}

// FloatCompare renders a named float comparison, synthesizing the
// NaN-aware predicates: FALSE/TRUE are constant
// splats; ORD/UNO/UEQ/ONE combine equal/notEqual over (a,a), (b,b),
// and (a,b); ordered comparisons map directly; the remaining
// unordered comparisons are not(opposite-ordered).
func (l *Lowerer) FloatCompare(pred ir.Predicate, t, resultType ir.Type, aExpr, bExpr string) (string, error) {
	tag := l.tag(t)
	equal := func(x, y string) string { return fmt.Sprintf("SIMD_%s_equal(%s, %s)", tag, x, y) }
	notEqual := func(x, y string) string { return fmt.Sprintf("SIMD_%s_notEqual(%s, %s)", tag, x, y) }
	and := func(x, y string) string { return l.BinOp("and", resultType, x, y) }
	or := func(x, y string) string { return l.BinOp("or", resultType, x, y) }

	switch pred {
	case ir.CmpFalse:
		return l.Splat(resultType, "0"), nil
	case ir.CmpTrue:
		return l.Splat(resultType, "-1"), nil
	case ir.CmpOEQ:
		return equal(aExpr, bExpr), nil
	case ir.CmpONE:
		return and(and(equal(aExpr, aExpr), equal(bExpr, bExpr)), notEqual(aExpr, bExpr)), nil
	case ir.CmpOLT:
		return fmt.Sprintf("SIMD_%s_lessThan(%s, %s)", tag, aExpr, bExpr), nil
	case ir.CmpOLE:
		return fmt.Sprintf("SIMD_%s_lessThanOrEqual(%s, %s)", tag, aExpr, bExpr), nil
	case ir.CmpOGT:
		return fmt.Sprintf("SIMD_%s_greaterThan(%s, %s)", tag, aExpr, bExpr), nil
	case ir.CmpOGE:
		return fmt.Sprintf("SIMD_%s_greaterThanOrEqual(%s, %s)", tag, aExpr, bExpr), nil
	case ir.CmpORD:
		return and(equal(aExpr, aExpr), equal(bExpr, bExpr)), nil
	case ir.CmpUNO:
		return or(notEqual(aExpr, aExpr), notEqual(bExpr, bExpr)), nil
	case ir.CmpUEQ:
		return or(or(notEqual(aExpr, aExpr), notEqual(bExpr, bExpr)), equal(aExpr, bExpr)), nil
	case ir.CmpUNE:
		return notEqual(aExpr, bExpr), nil
	case ir.CmpULTF:
		return l.Not(resultType, fmt.Sprintf("SIMD_%s_greaterThanOrEqual(%s, %s)", tag, aExpr, bExpr)), nil
	case ir.CmpULEF:
		return l.Not(resultType, fmt.Sprintf("SIMD_%s_greaterThan(%s, %s)", tag, aExpr, bExpr)), nil
	case ir.CmpUGTF:
		return l.Not(resultType, fmt.Sprintf("SIMD_%s_lessThanOrEqual(%s, %s)", tag, aExpr, bExpr)), nil
	case ir.CmpUGEF:
		return l.Not(resultType, fmt.Sprintf("SIMD_%s_lessThan(%s, %s)", tag, aExpr, bExpr)), nil
	default:
		return "", fmt.Errorf("simd: unsupported float vector predicate %v", pred)
	}
}
