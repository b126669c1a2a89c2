package ir

// Global is one module-level global variable: its declared type, an
// optional initializer constant, alignment, and whether it is merely
// declared (extern) rather than defined in this module.
type Global struct {
	ID         GlobalID
	Name       string
	Type       Type
	Align      int
	Init       *Const // nil for an external declaration
	IsConstant bool
	IsExtern   bool
	// Size is the byte size of the global's storage; 0 derives it
	// from Type (scalars/vectors) or from Init (aggregates).
	Size int
	// InitArrayStart marks the special "__init_array_start" struct,
	// a list of startup-function addresses run once at startup.
	InitArrayStart bool
	// FiniArrayStart marks "__fini_array_start", which the layout
	// engine ignores outright.
	FiniArrayStart bool
}

// Module is the top-level translation unit: globals, functions, and
// the indices the core needs to resolve symbolic references between
// them. The core borrows a *Module for the lifetime of one
// translation; it never mutates Funcs/Globals/Values themselves, only
// its own derived state (name maps, tables, queues).
type Module struct {
	Name    string
	Globals []Global
	Funcs   []*Func

	// FuncByName resolves a call-by-name Callee (used by indirect
	// calls that were only ever given a textual target, and by the
	// reachability walk in Driver) to its FuncID.
	FuncByName map[string]FuncID

	// TargetTriple is checked, non-fatally, against the expected
	// value.
	TargetTriple string

	// Aliases maps an alias name to the defined function or global
	// name it redirects to.
	Aliases map[string]string

	// Exports lists the function names to export. Empty means every
	// implemented function is exported.
	Exports []string
}

// NewModule constructs an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:       name,
		FuncByName: make(map[string]FuncID),
		Aliases:    make(map[string]string),
	}
}

// AddFunc registers a function and indexes it by name.
func (m *Module) AddFunc(f *Func) {
	m.Funcs = append(m.Funcs, f)
	if f.Name != "" {
		m.FuncByName[f.Name] = f.ID
	}
}

// AddGlobal appends a global and returns its freshly assigned
// GlobalID.
func (m *Module) AddGlobal(g Global) GlobalID {
	id := GlobalID(len(m.Globals))
	g.ID = id
	m.Globals = append(m.Globals, g)
	return id
}

// Func looks up a function by id.
func (m *Module) Func(id FuncID) *Func {
	if id < 0 || int(id) >= len(m.Funcs) {
		return nil
	}
	return m.Funcs[id]
}

// Global looks up a global by id.
func (m *Module) Global(id GlobalID) (*Global, bool) {
	if id < 0 || int(id) >= len(m.Globals) {
		return nil, false
	}
	return &m.Globals[id], true
}

const ExpectedTargetTriple = "asmjs-unknown-emscripten"
