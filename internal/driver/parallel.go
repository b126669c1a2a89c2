package driver

import (
	"context"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"asmcore/internal/diag"
	"asmcore/internal/ir"
)

// Stage identifies the phase a module is in, for progress reporting.
type Stage uint8

const (
	StageQueued Stage = iota
	StageEmit
	StageDone
)

// Status qualifies a progress event.
type Status uint8

const (
	StatusQueued Status = iota
	StatusWorking
	StatusDone
	StatusError
)

// Event is one progress update from a batch emission.
type Event struct {
	Module string
	Stage  Stage
	Status Status
}

// Unit is one module to translate and where its output goes.
type Unit struct {
	Name   string
	Module *ir.Module
	Out    io.Writer
}

// EmitModules translates independent modules concurrently, one
// goroutine per module up to jobs (0 means NumCPU). Each module gets
// its own diagnostic bag; the merged bag is returned along with the
// first error, if any. progress may be nil.
func EmitModules(ctx context.Context, units []Unit, opts Options, jobs int, progress func(Event)) (*diag.Bag, error) {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	report := func(ev Event) {
		if progress != nil {
			progress(ev)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	var mu sync.Mutex
	merged := diag.NewBag()

	for i := range units {
		u := units[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			report(Event{Module: u.Name, Stage: StageEmit, Status: StatusWorking})
			unitOpts := opts
			unitOpts.Timer = nil // a Timer is single-owner; each module gets its own
			bag, err := EmitModule(u.Module, unitOpts, u.Out)
			mu.Lock()
			merged.Merge(bag)
			mu.Unlock()
			if err != nil {
				report(Event{Module: u.Name, Stage: StageDone, Status: StatusError})
				return err
			}
			report(Event{Module: u.Name, Stage: StageDone, Status: StatusDone})
			return nil
		})
	}
	err := g.Wait()
	merged.Sort()
	return merged, err
}
