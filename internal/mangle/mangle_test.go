package mangle

import (
	"testing"

	"asmcore/internal/ir"
)

func TestSanitizeLocal_DotVsUnderscoreStayDistinct(t *testing.T) {
	a := sanitizeLocal("x.a")
	b := sanitizeLocal("x_a")
	if a == b {
		t.Fatalf("expected distinct mangled names, got both %q", a)
	}
	if a != "$x$a" {
		t.Fatalf("sanitizeLocal(x.a) = %q, want $x$a", a)
	}
	if b != "$x_a" {
		t.Fatalf("sanitizeLocal(x_a) = %q, want $x_a", b)
	}
}

func TestSanitizeLocal_QueuedDotFlushedOnIllegalByte(t *testing.T) {
	got := sanitizeLocal("x.a\x01")
	want := "$x$a$Z01"
	if got != want {
		t.Fatalf("sanitizeLocal(x.a\\x01) = %q, want %q", got, want)
	}
}

func TestSanitizeLocal_MultipleDotsQueueMultipleZ(t *testing.T) {
	got := sanitizeLocal("x..a\x01")
	want := "$x$$a$ZZ01"
	if got != want {
		t.Fatalf("sanitizeLocal(x..a\\x01) = %q, want %q", got, want)
	}
}

// Dots queued at the end of the name never flush: with no later
// illegal byte there is nothing to disambiguate against, so no 'Z'
// suffix appears.
func TestSanitizeLocal_TrailingDotsStayQueued(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"x.", "$x$"},
		{"x.a.", "$x$a$"},
		{"x..", "$x$$"},
	}
	for _, c := range cases {
		if got := sanitizeLocal(c.in); got != c.want {
			t.Errorf("sanitizeLocal(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// The hex run lands at the end of the string, not inline after the
// replaced byte.
func TestSanitizeLocal_HexAppendedAtEnd(t *testing.T) {
	got := sanitizeLocal("a\x01b")
	want := "$a$b01"
	if got != want {
		t.Fatalf("sanitizeLocal(a\\x01b) = %q, want %q", got, want)
	}
}

func TestSanitizeGlobal_PrefixAndEscaping(t *testing.T) {
	got := sanitizeGlobal("foo.bar")
	want := "_foo_bar"
	if got != want {
		t.Fatalf("sanitizeGlobal(foo.bar) = %q, want %q", got, want)
	}
}

// Distinct IR values in the same namespace must mangle to distinct
// identifiers, including names with dots, underscores, and arbitrary
// high bytes.
func TestInjectivity_RandomASCIIWithDotsAndHighBytes(t *testing.T) {
	names := []string{
		"a", "a.b", "a_b", "a..b", "a.b.c", "a\x01", "a.\x01", "a\x01.", "", "",
		"x$y", "x.y.z", "x.y.z\xff", "foo", "f_oo", "f.oo", "f..oo", "weird\x7fbyte",
		"x.", "x..", "x.a.", "x.a",
	}
	m := New()
	seen := make(map[string]string)
	for i, n := range names {
		v := ir.Value{ID: ir.ValueID(i), Kind: ir.ValInstr, Name: n, Type: ir.I32}
		got := m.NameOfLocal(0, v)
		if prev, ok := seen[got]; ok {
			t.Fatalf("collision: names %q and %q both mangle to %q", prev, n, got)
		}
		seen[got] = n
	}
}

func TestMangler_Memoized(t *testing.T) {
	m := New()
	v := ir.Value{ID: 5, Kind: ir.ValInstr, Name: "foo", Type: ir.I32}
	a := m.NameOfLocal(0, v)
	b := m.NameOfLocal(0, v)
	if a != b {
		t.Fatalf("expected memoized name, got %q then %q", a, b)
	}
}

func TestMangler_AnonymousValuesGetFreshCounterNames(t *testing.T) {
	m := New()
	v1 := ir.Value{ID: 1, Kind: ir.ValInstr, Type: ir.I32}
	v2 := ir.Value{ID: 2, Kind: ir.ValInstr, Type: ir.I32}
	n1 := m.NameOfLocal(0, v1)
	n2 := m.NameOfLocal(0, v2)
	if n1 == n2 {
		t.Fatalf("expected distinct anonymous names, got %q for both", n1)
	}
}
