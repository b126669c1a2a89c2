package driver

import (
	"fmt"
	"strings"

	"asmcore/internal/relooper"
)

// SimpleReconstructor is a minimal implementation of the
// structured-control-flow contract: a label-driven dispatch loop over
// the blocks. Output is structured (no raw branches) but makes no
// attempt to discover loops or if-ladders; embedders substitute the
// real reconstruction algorithm behind the same interface when output
// quality matters.
type SimpleReconstructor struct{}

// Reconstruct renders cfg as a while(1)/switch(label) dispatch body.
// A single block with no outgoing edges renders as itself, without
// the loop scaffolding.
func (SimpleReconstructor) Reconstruct(cfg relooper.CFG) (string, error) {
	if len(cfg.Blocks) == 0 {
		return "", nil
	}
	if len(cfg.Blocks) == 1 && len(cfg.Blocks[0].Edges) == 0 {
		return indent(cfg.Blocks[0].Body), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, " label = %d;\n", cfg.Entry)
	b.WriteString(" L: while(1) {\n  switch(label|0) {\n")
	for _, blk := range cfg.Blocks {
		fmt.Fprintf(&b, "  case %d: {\n", blk.ID)
		if blk.Body != "" {
			b.WriteString(indentN(blk.Body, "   "))
		}
		if err := emitDispatch(&b, blk); err != nil {
			return "", err
		}
		b.WriteString("  }\n")
	}
	b.WriteString("  default: break L;\n  }\n }\n")
	return b.String(), nil
}

func emitDispatch(b *strings.Builder, blk relooper.Block) error {
	goTo := func(e relooper.Edge) string {
		var s strings.Builder
		if e.Epilogue != "" {
			s.WriteString(e.Epilogue)
		}
		fmt.Fprintf(&s, "label = %d;", e.Target)
		return s.String()
	}

	switch {
	case len(blk.Edges) == 0:
		b.WriteString("   break L;\n")
		return nil
	case len(blk.Edges) == 1:
		fmt.Fprintf(b, "   %s break;\n", goTo(blk.Edges[0]))
		return nil
	}

	labeled := false
	for _, e := range blk.Edges {
		if e.Label != nil {
			labeled = true
		}
	}
	if !labeled {
		if len(blk.Edges) != 2 || blk.Condition == "" {
			return fmt.Errorf("driver: block %d has %d unlabeled edges", blk.ID, len(blk.Edges))
		}
		fmt.Fprintf(b, "   if (%s) { %s } else { %s } break;\n",
			blk.Condition, goTo(blk.Edges[0]), goTo(blk.Edges[1]))
		return nil
	}

	// Labeled edges (a lowered switch): an else-if ladder over the
	// per-successor tests, with the nil-labeled default last.
	first := true
	var deflt *relooper.Edge
	for i := range blk.Edges {
		e := blk.Edges[i]
		if e.Label == nil {
			deflt = &blk.Edges[i]
			continue
		}
		if first {
			fmt.Fprintf(b, "   if (%s) { %s }", *e.Label, goTo(e))
			first = false
		} else {
			fmt.Fprintf(b, " else if (%s) { %s }", *e.Label, goTo(e))
		}
	}
	if deflt != nil {
		if first {
			fmt.Fprintf(b, "   { %s }", goTo(*deflt))
		} else {
			fmt.Fprintf(b, " else { %s }", goTo(*deflt))
		}
	}
	b.WriteString(" break;\n")
	return nil
}

func indent(body string) string {
	return indentN(body, " ")
}

func indentN(body, prefix string) string {
	lines := strings.Split(strings.TrimSuffix(body, "\n"), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
