package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"asmcore/internal/config"
	"asmcore/internal/diag"
	"asmcore/internal/diskcache"
	"asmcore/internal/driver"
	"asmcore/internal/irfile"
	"asmcore/internal/observ"
	"asmcore/internal/ui"
)

var (
	emitOutDir     string
	emitConfigPath string
	emitJobs       int
	emitNoCache    bool
	emitNoUI       bool

	emitPreciseF32    bool
	emitPthreads      bool
	emitWarnUnaligned bool
	emitNoNaNWarnings bool
	emitReservedFPs   int
	emitEmulatedFPs   bool
	emitAssertions    int
	emitNoAliasingFPs bool
	emitGlobalBase    int
	emitRelocatable   bool
	emitDebugLines    bool
)

func init() {
	f := emitCmd.Flags()
	f.StringVarP(&emitOutDir, "out-dir", "o", "", "directory for emitted output (default: next to input)")
	f.StringVar(&emitConfigPath, "config", "", "project TOML with a [backend] table")
	f.IntVarP(&emitJobs, "jobs", "j", 0, "concurrent modules (0 = number of CPUs)")
	f.BoolVar(&emitNoCache, "no-cache", false, "skip the on-disk plan cache")
	f.BoolVar(&emitNoUI, "no-ui", false, "disable the progress display")

	f.BoolVar(&emitPreciseF32, "precise-f32", false, "wrap float32 values in Math_fround")
	f.BoolVar(&emitPthreads, "enable-pthreads", false, "route volatile accesses through atomics")
	f.BoolVar(&emitWarnUnaligned, "warn-unaligned", false, "warn on each misaligned access")
	f.BoolVar(&emitNoNaNWarnings, "no-nan-warnings", false, "suppress non-canonical NaN warnings")
	f.IntVar(&emitReservedFPs, "reserved-function-pointers", 0, "pre-reserved slots per function-pointer table")
	f.BoolVar(&emitEmulatedFPs, "emulated-function-pointers", false, "emulate function pointers (required when relocatable)")
	f.IntVar(&emitAssertions, "assertions", 0, "assertion level; >0 adds stack-overflow guards")
	f.BoolVar(&emitNoAliasingFPs, "no-aliasing-function-pointers", false, "globally unique function-pointer indices")
	f.IntVar(&emitGlobalBase, "global-base", 0, "initial data placement address")
	f.BoolVar(&emitRelocatable, "relocatable", false, "emit position-relocatable output")
	f.BoolVar(&emitDebugLines, "debug-lines", false, "append //@line comments from IR debug info")
}

var emitCmd = &cobra.Command{
	Use:   "emit <module.mp> [more modules...]",
	Short: "Translate SSA modules to asm.js",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := loadFlags(cmd)
		if err != nil {
			return err
		}
		quiet, _ := cmd.Flags().GetBool("quiet")
		timings, _ := cmd.Flags().GetBool("timings")

		units, outs, err := loadUnits(args)
		if err != nil {
			return err
		}
		defer func() {
			for _, f := range outs {
				f.Close()
			}
		}()

		opts := driver.Options{Flags: flags}
		if !emitNoCache {
			if cache, err := diskcache.Open("asmcore"); err == nil {
				opts.Cache = cache
			}
		}
		var timer *observ.Timer
		if timings && len(units) == 1 {
			timer = observ.NewTimer()
			opts.Timer = timer
		}

		bag, runErr := runBatch(units, opts, quiet)

		bag.Sort()
		for _, d := range bag.Items() {
			fmt.Fprintln(cmd.ErrOrStderr(), d.String())
		}
		if timer != nil {
			fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
		}
		return runErr
	},
}

// loadFlags layers CLI flags over the optional project file over the
// defaults.
func loadFlags(cmd *cobra.Command) (config.Flags, error) {
	flags := config.Default()
	if emitConfigPath != "" {
		loaded, err := config.LoadFile(emitConfigPath)
		if err != nil {
			return flags, err
		}
		flags = loaded
	}
	set := cmd.Flags().Changed
	if set("precise-f32") {
		flags.PreciseF32 = emitPreciseF32
	}
	if set("enable-pthreads") {
		flags.EnablePthreads = emitPthreads
	}
	if set("warn-unaligned") {
		flags.WarnUnaligned = emitWarnUnaligned
	}
	if set("no-nan-warnings") {
		flags.WarnNoncanonicalNaNs = !emitNoNaNWarnings
	}
	if set("reserved-function-pointers") {
		flags.ReservedFunctionPointers = emitReservedFPs
	}
	if set("emulated-function-pointers") {
		flags.EmulatedFunctionPointers = emitEmulatedFPs
	}
	if set("assertions") {
		flags.Assertions = emitAssertions
	}
	if set("no-aliasing-function-pointers") {
		flags.NoAliasingFunctionPointers = emitNoAliasingFPs
	}
	if set("global-base") {
		flags.GlobalBase = emitGlobalBase
	}
	if set("relocatable") {
		flags.Relocatable = emitRelocatable
	}
	if set("debug-lines") {
		flags.DebugLines = emitDebugLines
	}
	return flags, flags.Validate()
}

func loadUnits(paths []string) ([]driver.Unit, []*os.File, error) {
	var units []driver.Unit
	var outs []*os.File
	for _, path := range paths {
		in, err := os.Open(path)
		if err != nil {
			return nil, outs, err
		}
		m, err := irfile.Decode(in)
		in.Close()
		if err != nil {
			return nil, outs, fmt.Errorf("%s: %w", path, err)
		}

		outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".asm.js"
		if emitOutDir != "" {
			outPath = filepath.Join(emitOutDir, filepath.Base(outPath))
		}
		out, err := os.Create(outPath)
		if err != nil {
			return nil, outs, err
		}
		outs = append(outs, out)
		units = append(units, driver.Unit{Name: filepath.Base(path), Module: m, Out: out})
	}
	return units, outs, nil
}

// runBatch emits every unit, attaching the progress UI when stderr is
// a terminal and there is more than one module to watch.
func runBatch(units []driver.Unit, opts driver.Options, quiet bool) (*diag.Bag, error) {
	useUI := !emitNoUI && !quiet && len(units) > 1 && isTerminal(os.Stderr)
	if !useUI {
		return driver.EmitModules(context.Background(), units, opts, emitJobs, nil)
	}

	events := make(chan driver.Event, len(units)*4)
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	model := ui.NewProgressModel("emitting", names, events)
	prog := tea.NewProgram(model, tea.WithOutput(os.Stderr))

	type result struct {
		bag *diag.Bag
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		bag, err := driver.EmitModules(context.Background(), units, opts, emitJobs, func(ev driver.Event) {
			events <- ev
		})
		close(events)
		resCh <- result{bag, err}
	}()
	if _, err := prog.Run(); err != nil {
		// The UI failing never fails the build; fall through to the
		// emission result.
		fmt.Fprintln(os.Stderr, "progress display error:", err)
	}
	res := <-resCh
	return res.bag, res.err
}
