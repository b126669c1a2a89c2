// Package mangle maps IR values injectively to textual identifiers
// in two namespaces, global-prefixed ("_") and local-prefixed ("$"),
// memoized per value.
package mangle

import (
	"strconv"
	"strings"

	"asmcore/internal/ir"
)

// Mangler is a pure function of (value-identity, first-seen-name),
// memoized so repeated calls for the same value return the identical
// string.
type Mangler struct {
	names   map[key]string
	counter int
}

type key struct {
	fn FuncID
	id ir.ValueID
}

// FuncID scopes local names to a function; globals use FuncID(-1)
// since they are module-wide.
type FuncID = ir.FuncID

const globalScope FuncID = -1

// New creates an empty Mangler.
func New() *Mangler {
	return &Mangler{names: make(map[key]string)}
}

// NameOfLocal mangles an instruction/argument value into its
// local-prefixed identifier, scoped to fn so that two different
// functions' "%0" don't collide.
func (m *Mangler) NameOfLocal(fn ir.FuncID, v ir.Value) string {
	return m.nameOf(fn, v, sanitizeLocal)
}

// NameOfGlobal mangles a global/function value into its
// global-prefixed identifier.
func (m *Mangler) NameOfGlobal(v ir.Value) string {
	return m.nameOf(globalScope, v, sanitizeGlobal)
}

func (m *Mangler) nameOf(scope FuncID, v ir.Value, sanitize func(string) string) string {
	k := key{fn: scope, id: v.ID}
	if existing, ok := m.names[k]; ok {
		return existing
	}
	raw := v.Name
	if raw == "" {
		raw = strconv.Itoa(m.counter)
		m.counter++
	}
	name := sanitize(raw)
	m.names[k] = name
	return name
}

// sanitizeGlobal prepends "_" and replaces every character after
// position 0 that is not [A-Za-z0-9_] with "_". Collisions are
// silently accepted; distinct non-identifier byte sequences can map
// to the same global name. TODO: make this escaping reversible like
// the local form.
func sanitizeGlobal(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 1)
	b.WriteByte('_')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isIdentByte(c) {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// sanitizeLocal prepends "$" and rewrites the remainder so the
// mapping is injective:
//   - alphanumerics and '_' pass through unchanged,
//   - every illegal byte becomes '$' in place,
//   - for an illegal byte other than '.', two hex digits of the byte
//     are appended at the end of the string, preceded by one 'Z' for
//     each '.' replaced since the last such byte.
//
// A '.' on its own appends nothing, so "x.a" -> "$x$a" stays distinct
// from "$x_a" (which sanitizes to itself, since '_' is already legal)
// and from "x.a\x01" -> "$x$a$Z01". A run of dots with no later
// illegal byte stays queued forever: "x.a." -> "$x$a$", no 'Z'.
func sanitizeLocal(name string) string {
	var b, tail strings.Builder
	b.Grow(len(name) + 1)
	b.WriteByte('$')
	queuedZ := 0
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case isIdentByte(c):
			b.WriteByte(c)
		case c == '.':
			b.WriteByte('$')
			queuedZ++
		default:
			b.WriteByte('$')
			for ; queuedZ > 0; queuedZ-- {
				tail.WriteByte('Z')
			}
			tail.WriteByte(halfToHex(c >> 4))
			tail.WriteByte(halfToHex(c & 0xf))
		}
	}
	return b.String() + tail.String()
}

// GlobalName sanitizes a raw symbol name into the global namespace
// without going through a Mangler's memo table, for callers that hold
// only a name (extern references, metadata keys) rather than a value.
func GlobalName(name string) string {
	return sanitizeGlobal(name)
}

func isIdentByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

func halfToHex(half byte) byte {
	if half <= 9 {
		return '0' + half
	}
	return 'A' + half - 10
}
