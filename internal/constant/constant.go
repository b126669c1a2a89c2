// Package constant renders any constant IR value as a target-dialect
// expression: integers with sign/width handling, floats with
// canonical-NaN diagnostics, pointer constants via the global layout,
// vectors via SIMD constructors.
package constant

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"asmcore/internal/coerce"
	"asmcore/internal/config"
	"asmcore/internal/diag"
	"asmcore/internal/ir"
)

// GlobalAddresser resolves a global's absolute address once
// GlobalLayout has run. Defined here (rather than depending on
// package layout directly) so constant has no import-cycle risk with
// layout, which itself never needs to render a constant.
type GlobalAddresser interface {
	AbsoluteAddress(id ir.GlobalID) (int, bool)
}

// FuncIndexer resolves an indirectly-referenced function to its
// function-pointer-table index, mirroring FunctionTable.indexOf.
type FuncIndexer interface {
	IndexOf(fn ir.FuncID, sig string) int
}

// Emitter renders constants to text. It holds no per-translation
// mutable state of its own beyond its collaborators; one Emitter
// value is cheap to construct per module.
type Emitter struct {
	Flags   *config.Flags
	Globals GlobalAddresser
	Funcs   FuncIndexer
	Bag     *diag.Bag
}

const (
	canonicalF32NaN uint32 = 0x7FC00000
	canonicalF64NaN uint64 = 0x7FF8000000000000
)

// Emit renders c as a target-dialect expression, applying the given
// coerce.Flags where the constant's own shape needs a coercion
// decision (e.g. FORCE_FLOAT_AS_INT_BITS).
func (e *Emitter) Emit(c ir.Const, flags coerce.Flags) (string, error) {
	switch c.Kind {
	case ir.ConstNull:
		return "0", nil
	case ir.ConstUndef:
		return e.emitUndef(c.Type), nil
	case ir.ConstAggregateZero:
		if c.Type.IsVector() {
			return fmt.Sprintf("SIMD_%s_splat(0)", c.Type.SIMDTag()), nil
		}
		return "0", nil
	case ir.ConstInt:
		return e.emitInt(c, flags)
	case ir.ConstFloat:
		return e.emitFloat(c, flags)
	case ir.ConstVector:
		return e.emitVector(c)
	case ir.ConstExpr:
		return e.emitExpr(c)
	case ir.ConstGlobalAddr:
		base, err := e.EmitGlobalRef(c.Global)
		if err != nil {
			return "", err
		}
		if c.Offset != 0 {
			return fmt.Sprintf("(%s + %d)|0", base, c.Offset), nil
		}
		return base, nil
	case ir.ConstFuncAddr:
		return e.EmitFuncRef(c.Func, c.GlobalSig)
	case ir.ConstArray:
		return "", fmt.Errorf("constant: aggregate constant in expression context")
	default:
		return "", fmt.Errorf("constant: unsupported const kind %v", c.Kind)
	}
}

// EmitGlobalRef renders a reference to a global with an initializer:
// its absolute address, wrapped as "(gb + (N) | 0)" in relocatable
// mode.
func (e *Emitter) EmitGlobalRef(id ir.GlobalID) (string, error) {
	addr, ok := e.Globals.AbsoluteAddress(id)
	if !ok {
		return "", fmt.Errorf("constant: no layout address for global %d", id)
	}
	if e.Flags.Relocatable {
		return fmt.Sprintf("(gb + (%d) | 0)", addr), nil
	}
	return strconv.Itoa(addr), nil
}

// EmitFuncRef renders a reference to a function, i.e. its table
// index, wrapped as "(fb + (N) | 0)" in relocatable mode.
func (e *Emitter) EmitFuncRef(fn ir.FuncID, sig string) (string, error) {
	idx := e.Funcs.IndexOf(fn, sig)
	if e.Flags.Relocatable {
		return fmt.Sprintf("(fb + (%d) | 0)", idx), nil
	}
	return strconv.Itoa(idx), nil
}

func (e *Emitter) emitUndef(t ir.Type) string {
	if t.IsVector() {
		return fmt.Sprintf("SIMD_%s_splat(0)", t.SIMDTag())
	}
	if t.IsFloat() {
		return "+0"
	}
	return "0"
}

// emitInt renders an integer constant in decimal. Width-1 (i.e. i1)
// values are always unsigned.
func (e *Emitter) emitInt(c ir.Const, flags coerce.Flags) (string, error) {
	if c.Type.Kind == ir.KindI1 {
		if c.IntVal != 0 {
			return "1", nil
		}
		return "0", nil
	}
	if flags.Has(coerce.Unsigned) {
		bits := c.Type.IntBits()
		if bits == 0 {
			bits = 32
		}
		mask := uint64(1)<<bits - 1
		return strconv.FormatUint(uint64(c.IntVal)&mask, 10), nil
	}
	return strconv.FormatInt(c.IntVal, 10), nil
}

// emitFloat renders a floating-point constant, handling infinities,
// NaN canonicalization diagnostics, DECIMAL_DIG-precision printing,
// integral-value "+"-prefixing, and the force-bits mode that renders
// the raw bit pattern as an integer.
func (e *Emitter) emitFloat(c ir.Const, flags coerce.Flags) (string, error) {
	is64 := c.Type.Kind == ir.KindF64
	var f float64
	var rawBits uint64
	if is64 {
		f = math.Float64frombits(c.FloatBits)
		rawBits = c.FloatBits
	} else {
		f32 := math.Float32frombits(uint32(c.FloatBits))
		f = float64(f32)
		rawBits = uint64(c.FloatBits)
	}

	if flags.Has(coerce.ForceFloatAsIntBits) {
		return strconv.FormatUint(rawBits, 10), nil
	}

	if math.IsInf(f, 1) {
		return "inf", nil
	}
	if math.IsInf(f, -1) {
		return "-inf", nil
	}
	if math.IsNaN(f) {
		e.checkCanonicalNaN(is64, rawBits)
		return "nan", nil
	}

	digits := 17
	if !is64 {
		digits = 9
	}
	text := strconv.FormatFloat(f, 'g', digits, 64)
	if isIntegralText(f) {
		if !strings.HasPrefix(text, "-") {
			text = "+" + text
		} else {
			// Negative integral values still need the float marker;
			// "-3" without a decimal point would parse as an integer
			// literal downstream, so force a trailing ".0".
			if !strings.ContainsAny(text, ".eE") {
				text += ".0"
			}
		}
	}
	return text, nil
}

func isIntegralText(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0)
}

// checkCanonicalNaN emits a warning diagnostic when the NaN bit
// pattern differs from the canonical quiet NaN, unless suppressed.
func (e *Emitter) checkCanonicalNaN(is64 bool, bits uint64) {
	if e.Flags == nil || !e.Flags.WarnNoncanonicalNaNs || e.Bag == nil {
		return
	}
	canonical := uint64(canonicalF32NaN)
	if is64 {
		canonical = canonicalF64NaN
	}
	if bits == canonical {
		return
	}
	e.Bag.Add(diag.New(diag.Warning, diag.CodeNoncanonicalNaN,
		fmt.Sprintf("non-canonical NaN bit pattern 0x%X", bits)))
}

// emitVector detects a splat (all lanes equal) and otherwise emits a
// full constructor padded with zero lanes up to 128 bits. A vector
// with any non-canonical-NaN float lane is instead constructed as an
// integer-lane vector and cast, since the target dialect's float SIMD
// constructors do not reliably preserve NaN payload bits.
func (e *Emitter) emitVector(c ir.Const) (string, error) {
	if len(c.Lanes) == 0 {
		return fmt.Sprintf("SIMD_%s_splat(0)", c.Type.SIMDTag()), nil
	}
	if c.Type.LaneKind == ir.LaneFloat {
		if hasNonCanonicalNaNLane(c) {
			return e.emitVectorViaIntDetour(c)
		}
	}
	if splat, ok := splatValue(c); ok {
		val, err := e.Emit(splat, 0)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("SIMD_%s_splat(%s)", c.Type.SIMDTag(), val), nil
	}
	return e.emitConstructor(c)
}

func (e *Emitter) emitConstructor(c ir.Const) (string, error) {
	padded := c.Type.PaddedLanes()
	parts := make([]string, 0, padded)
	for i := 0; i < padded; i++ {
		var lane ir.Const
		if i < len(c.Lanes) {
			lane = c.Lanes[i]
		} else {
			lane = zeroLane(c.Type)
		}
		text, err := e.Emit(lane, 0)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return fmt.Sprintf("SIMD_%s(%s)", c.Type.SIMDTag(), strings.Join(parts, ", ")), nil
}

// emitVectorViaIntDetour renders a float vector with non-canonical
// NaN payloads by constructing the equivalent integer-lane vector
// from raw bits and bitcasting, since SIMD_Float*_splat/constructor
// in the target runtime may canonicalize NaN payloads otherwise.
func (e *Emitter) emitVectorViaIntDetour(c ir.Const) (string, error) {
	intType := ir.Vec(ir.LaneInt, c.Type.LaneBits, c.Type.Lanes)
	padded := intType.PaddedLanes()
	parts := make([]string, 0, padded)
	for i := 0; i < padded; i++ {
		var lane ir.Const
		if i < len(c.Lanes) {
			lane = c.Lanes[i]
		} else {
			lane = zeroLane(c.Type)
		}
		bits := lane.FloatBits
		parts = append(parts, strconv.FormatUint(bits, 10))
	}
	ctor := fmt.Sprintf("SIMD_%s(%s)", intType.SIMDTag(), strings.Join(parts, ", "))
	return fmt.Sprintf("SIMD_%s_fromInt%dx%dBits(%s)", c.Type.SIMDTag(), intType.LaneBits, intType.Lanes, ctor), nil
}

func hasNonCanonicalNaNLane(c ir.Const) bool {
	is64 := c.Type.LaneBits == 64
	canonical := uint64(canonicalF32NaN)
	if is64 {
		canonical = canonicalF64NaN
	}
	for _, lane := range c.Lanes {
		var f float64
		if is64 {
			f = math.Float64frombits(lane.FloatBits)
		} else {
			f = float64(math.Float32frombits(uint32(lane.FloatBits)))
		}
		if math.IsNaN(f) && lane.FloatBits != canonical {
			return true
		}
	}
	return false
}

func splatValue(c ir.Const) (ir.Const, bool) {
	if len(c.Lanes) == 0 {
		return ir.Const{}, false
	}
	first := c.Lanes[0]
	for _, lane := range c.Lanes[1:] {
		if !laneEqual(lane, first) {
			return ir.Const{}, false
		}
	}
	if c.Type.Lanes != c.Type.PaddedLanes() && !laneIsZero(first, c.Type) {
		// Padding lanes would be zero, not `first`, so this isn't a
		// true splat once padded unless first is itself zero.
		return ir.Const{}, false
	}
	return first, true
}

func laneEqual(a, b ir.Const) bool {
	if a.Kind != b.Kind {
		return false
	}
	return a.IntVal == b.IntVal && a.FloatBits == b.FloatBits
}

func laneIsZero(c ir.Const, t ir.Type) bool {
	if t.LaneKind == ir.LaneFloat {
		return c.FloatBits == 0
	}
	return c.IntVal == 0
}

func zeroLane(t ir.Type) ir.Const {
	if t.LaneKind == ir.LaneFloat {
		return ir.Const{Kind: ir.ConstFloat}
	}
	return ir.Const{Kind: ir.ConstInt}
}

// emitExpr delegates a ConstantExpr to the nested expression it
// represents. Only the restricted "base + offset"
// shape the core's relocation model needs is supported; anything else
// is a fatal translation error.
func (e *Emitter) emitExpr(c ir.Const) (string, error) {
	if c.Expr == nil {
		return "", fmt.Errorf("constant: nil ConstantExpr payload")
	}
	base, err := e.Emit(c.Expr.Operand, 0)
	if err != nil {
		return "", err
	}
	if c.Expr.Offset == 0 {
		return base, nil
	}
	return fmt.Sprintf("(%s + %d)|0", base, c.Expr.Offset), nil
}
