package postinit

import (
	"fmt"
	"strings"
	"testing"
)

func TestRender_EmptyQueueStillDefinesRunPostSets(t *testing.T) {
	q := New()
	out := q.Render(false)
	if !strings.Contains(out, "function runPostSets() {") {
		t.Fatalf("empty queue must still define runPostSets, got:\n%s", out)
	}
	if strings.Contains(out, "runPostSets1") {
		t.Fatalf("empty queue must not chain, got:\n%s", out)
	}
}

func TestRender_OrderPreserved(t *testing.T) {
	q := New()
	q.Add("HEAP32[2] = 10")
	q.Add("HEAP32[3] = 20")
	out := q.Render(false)
	first := strings.Index(out, "HEAP32[2] = 10;")
	second := strings.Index(out, "HEAP32[3] = 20;")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("statements out of order:\n%s", out)
	}
}

func TestRender_ChunksAt100AndChains(t *testing.T) {
	q := New()
	for i := 0; i < 250; i++ {
		q.Add(fmt.Sprintf("HEAP32[%d] = %d", i, i))
	}
	out := q.Render(false)

	for _, name := range []string{"function runPostSets() {", "function runPostSets1() {", "function runPostSets2() {"} {
		if !strings.Contains(out, name) {
			t.Errorf("missing chunk %q", name)
		}
	}
	if strings.Contains(out, "function runPostSets3") {
		t.Errorf("250 statements should produce exactly 3 chunks")
	}
	// Chunks chain by a trailing call to the next one.
	if !strings.Contains(out, " runPostSets1();\n}") {
		t.Errorf("runPostSets must chain to runPostSets1:\n%s", out[:400])
	}
	if !strings.Contains(out, " runPostSets2();\n}") {
		t.Errorf("runPostSets1 must chain to runPostSets2")
	}
}

func TestRender_RelocatableChunksDeclareTemp(t *testing.T) {
	q := New()
	q.Add("temp = 1")
	out := q.Render(true)
	if !strings.Contains(out, "function runPostSets() {\n var temp = 0;\n") {
		t.Fatalf("relocatable chunk must begin with temp declaration:\n%s", out)
	}
}

func TestChunkName(t *testing.T) {
	if got := ChunkName(0); got != "runPostSets" {
		t.Errorf("ChunkName(0) = %q", got)
	}
	if got := ChunkName(2); got != "runPostSets2" {
		t.Errorf("ChunkName(2) = %q", got)
	}
}
