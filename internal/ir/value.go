package ir

// ValueID, BlockID, FuncID, and GlobalID are arena indices, not
// pointers: the core never owns the IR graph, only borrows it, and
// indices keep lookups stable regardless of how the upstream producer
// stores its own arenas.
type ValueID int32
type BlockID int32
type FuncID int32
type GlobalID int32

const (
	NoValueID  ValueID  = -1
	NoBlockID  BlockID  = -1
	NoFuncID   FuncID   = -1
	NoGlobalID GlobalID = -1
)

// ValueKind distinguishes the origin of a Value.
type ValueKind uint8

const (
	ValConst ValueKind = iota
	ValInstr
	ValArg
	ValGlobal
	ValFunc
	ValBlockAddr
	ValAlias
	ValUndef
)

// Value is an opaque IR value handle: a type, a kind, an
// optional source name, and (for instruction results) the owning
// block. The mangler's injectivity invariant is keyed off the pair
// (value-identity, first-seen-name); identity here is the ValueID
// within a Func's or Module's arena.
type Value struct {
	ID     ValueID
	Kind   ValueKind
	Type   Type
	Name   string
	Block  BlockID // only meaningful for ValInstr
	Opcode Opcode  // only meaningful for ValInstr

	// Const carries the literal payload when Kind == ValConst.
	Const Const

	// Global/Func/BlockAddrFunc/BlockAddrBlock resolve a symbolic
	// value back to the module entity it names.
	Global         GlobalID
	Func           FuncID
	BlockAddrFunc  FuncID
	BlockAddrBlock BlockID

	// AliasOf resolves a ValAlias to its target value.
	AliasOf ValueID
}

// ConstKind enumerates the shapes a Const payload can take.
type ConstKind uint8

const (
	ConstNull ConstKind = iota
	ConstInt
	ConstFloat
	ConstVector
	ConstAggregateZero
	ConstUndef
	ConstExpr
	// ConstGlobalAddr is the address of a global (plus a byte offset),
	// ConstFuncAddr the table index of a function; both may need
	// deferral to post-init in relocatable mode.
	ConstGlobalAddr
	ConstFuncAddr
	// ConstArray is an aggregate initializer: elements serialized
	// back-to-back, each padded to its own natural alignment. Struct
	// initializers use the same shape.
	ConstArray
)

// Const is a literal IR constant. IntVal is stored as the raw bit
// pattern (sign-extended to int64 for signed types is the caller's
// job at emission time; i1 values are always emitted unsigned).
// FloatBits holds the IEEE-754 bit pattern so NaN payloads survive
// exactly, which ConstantEmitter needs to detect non-canonical NaNs.
type Const struct {
	Kind ConstKind
	Type Type

	IntVal    int64
	FloatBits uint64 // raw bits: 32-bit pattern for F32, 64-bit for F64

	// Lanes holds one Const per vector lane when Kind == ConstVector,
	// and one Const per element when Kind == ConstArray.
	Lanes []Const

	// Global/Func/Offset resolve ConstGlobalAddr and ConstFuncAddr.
	// GlobalSig is the table signature a ConstFuncAddr indexes into.
	Global    GlobalID
	Func      FuncID
	Offset    int64
	GlobalSig string

	// Expr is set when Kind == ConstExpr: a constant expression that
	// must be re-lowered as a nested expression (e.g. a pointer
	// constant computed from a global plus an offset).
	Expr *ConstExprNode
}

// ConstExprNode models a constant expression tree (e.g. "global + N"),
// the only ConstantExpr shape the core needs for pointer relocation
// purposes.
type ConstExprNode struct {
	Op      Opcode
	Operand Const
	Offset  int64
}
