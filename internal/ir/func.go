package ir

// Func is one function's IR: its signature, its arena of values (one
// entry per instruction result and per argument), and its basic
// blocks in module order. Values are looked up by ValueID through
// Func.Value, arena-style.
type Func struct {
	ID     FuncID
	Name   string
	Result Type
	Params []Type

	Entry  BlockID
	Blocks []Block

	// values is the per-function value arena: instruction results and
	// arguments. Globals and other functions live in Module's arenas
	// instead, since they outlive any one function.
	values []Value

	// LifetimeStarts/LifetimeEnds record llvm.lifetime.start/end
	// markers keyed by the alloca's ValueID, consumed by the alloca
	// planner for interval coloring.
	LifetimeStarts map[ValueID][]int
	LifetimeEnds   map[ValueID][]int

	// DebugLines optionally maps an instruction result to a source
	// line/file, reproduced in emitted output as a trailing
	// "//@line N "file"" comment when config.Flags.DebugLines is set.
	DebugLines map[ValueID]DebugLoc
}

// DebugLoc is a source line/file pair attached to an instruction.
type DebugLoc struct {
	Line int
	File string
}

// NewFunc constructs an empty function arena.
func NewFunc(id FuncID, name string, result Type, params []Type) *Func {
	return &Func{
		ID:             id,
		Name:           name,
		Result:         result,
		Params:         params,
		Entry:          NoBlockID,
		LifetimeStarts: make(map[ValueID][]int),
		LifetimeEnds:   make(map[ValueID][]int),
	}
}

// AddValue appends a value to the function's arena and returns its
// freshly assigned ValueID, which it also stores in the value's ID
// field.
func (f *Func) AddValue(v Value) ValueID {
	id := ValueID(len(f.values))
	v.ID = id
	f.values = append(f.values, v)
	return id
}

// Value looks up a value by id. Returns the zero Value and false if
// id is out of range, which a well-formed IR producer should never
// trigger; the core treats it as a fatal translation error when it
// does.
func (f *Func) Value(id ValueID) (Value, bool) {
	if id < 0 || int(id) >= len(f.values) {
		return Value{}, false
	}
	return f.values[id], true
}

// NumValues reports the size of the function's value arena.
func (f *Func) NumValues() int {
	return len(f.values)
}

// Args returns the function's argument values in declaration order.
func (f *Func) Args() []Value {
	var args []Value
	for _, v := range f.values {
		if v.Kind == ValArg {
			args = append(args, v)
		}
	}
	return args
}

// Block looks up a basic block by id within this function.
func (f *Func) Block(id BlockID) (*Block, bool) {
	for i := range f.Blocks {
		if f.Blocks[i].ID == id {
			return &f.Blocks[i], true
		}
	}
	return nil, false
}

// Preds computes the set of predecessor blocks of `to` by scanning
// every terminator in the function.
func (f *Func) Preds(to BlockID) []BlockID {
	var preds []BlockID
	for i := range f.Blocks {
		bb := &f.Blocks[i]
		for _, dst := range bb.Term.successors() {
			if dst == to {
				preds = append(preds, bb.ID)
				break
			}
		}
	}
	return preds
}

func (t *Terminator) successors() []BlockID {
	switch t.Kind {
	case TermBr:
		return []BlockID{t.Dest}
	case TermCondBr:
		return []BlockID{t.True, t.Fals}
	case TermSwitch:
		dests := make([]BlockID, 0, len(t.SwitchCases)+1)
		for _, c := range t.SwitchCases {
			dests = append(dests, c.Dest)
		}
		dests = append(dests, t.SwitchDefault)
		return dests
	case TermIndirectBr:
		return t.IndirectDest
	default:
		return nil
	}
}
