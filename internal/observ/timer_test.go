package observ

import (
	"strings"
	"testing"
)

func TestTimer_PhasesAndSummary(t *testing.T) {
	tm := NewTimer()
	idx := tm.Begin("layout")
	tm.End(idx, "3 buckets")
	tm.Observe("functions", func() string { return "2 functions" })

	report := tm.Report()
	if len(report.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(report.Phases))
	}
	if report.Phases[0].Name != "layout" || report.Phases[0].Note != "3 buckets" {
		t.Fatalf("phase 0 = %+v", report.Phases[0])
	}

	s := tm.Summary()
	for _, frag := range []string{"emit timings:", "layout", "functions", "total", "// 2 functions"} {
		if !strings.Contains(s, frag) {
			t.Errorf("summary missing %q:\n%s", frag, s)
		}
	}
}

func TestTimer_EndOutOfRangeIsIgnored(t *testing.T) {
	tm := NewTimer()
	tm.End(3, "nope")
	if len(tm.Report().Phases) != 0 {
		t.Fatal("out-of-range End must not create phases")
	}
}
