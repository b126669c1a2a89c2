// Package driver orchestrates one translation: alloca planning,
// per-function emission, global data layout and serialization,
// post-init chaining, and the metadata block, streamed to a single
// sink in the fixed three-part framing the downstream tool expects.
package driver

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"asmcore/internal/alloca"
	"asmcore/internal/callhandler"
	"asmcore/internal/config"
	"asmcore/internal/constant"
	"asmcore/internal/diag"
	"asmcore/internal/diskcache"
	"asmcore/internal/funcemit"
	"asmcore/internal/funcptr"
	"asmcore/internal/ir"
	"asmcore/internal/layout"
	"asmcore/internal/mangle"
	"asmcore/internal/memlower"
	"asmcore/internal/metadata"
	"asmcore/internal/observ"
	"asmcore/internal/postinit"
	"asmcore/internal/relooper"
	"asmcore/internal/simd"
)

// platformStackAlign is the guaranteed alignment of STACKTOP on
// function entry.
const platformStackAlign = 16

// Options configures one EmitModule run.
type Options struct {
	Flags config.Flags

	// Reconstructor is the structured-control-flow collaborator. Nil
	// selects SimpleReconstructor.
	Reconstructor relooper.Reconstructor

	// Handlers is the intrinsic dispatch table. Nil selects the
	// default set.
	Handlers *callhandler.Registry

	// Cache, when non-nil, is consulted for alloca plans and updated
	// after planning.
	Cache *diskcache.Cache

	// Timer, when non-nil, records per-phase durations.
	Timer *observ.Timer
}

// funcNamer resolves FuncIDs to mangled names and signature strings
// for the function emitter and the table renderer.
type funcNamer struct {
	m     *ir.Module
	flags *config.Flags
}

func (n funcNamer) Name(fn ir.FuncID) string {
	f := n.m.Func(fn)
	if f == nil {
		return "_"
	}
	return mangle.GlobalName(f.Name)
}

func (n funcNamer) Signature(fn ir.FuncID) string {
	f := n.m.Func(fn)
	if f == nil {
		return "v"
	}
	return funcptr.SignatureOf(f.Result, f.Params, n.flags.PreciseF32)
}

// EmitModule translates m into w. The returned Bag carries warnings
// even on success; a non-nil error means translation aborted and the
// output is incomplete.
func EmitModule(m *ir.Module, opts Options, w io.Writer) (*diag.Bag, error) {
	bag := diag.NewBag()
	flags := opts.Flags
	if err := flags.Validate(); err != nil {
		return bag, err
	}
	recon := opts.Reconstructor
	if recon == nil {
		recon = SimpleReconstructor{}
	}
	handlers := opts.Handlers
	if handlers == nil {
		handlers = callhandler.New()
	}
	timer := opts.Timer
	if timer == nil {
		timer = observ.NewTimer()
	}

	if m.TargetTriple != "" && m.TargetTriple != ir.ExpectedTargetTriple {
		bag.Add(diag.New(diag.Warning, diag.CodeWrongTargetTriple,
			fmt.Sprintf("target triple %q differs from expected %q", m.TargetTriple, ir.ExpectedTargetTriple)))
	}

	post := postinit.New()
	layoutEng := layout.New(&flags, bag, post)
	tables := funcptr.New(&flags)
	namer := funcNamer{m: m, flags: &flags}
	usage := &simd.UsageFlags{}

	phase := timer.Begin("layout")
	if err := layoutEng.Calculate(m); err != nil {
		return bag, err
	}
	layoutEng.Assign()
	timer.End(phase, "")

	consts := &constant.Emitter{Flags: &flags, Globals: layoutEng, Funcs: tables, Bag: bag}
	femit := &funcemit.Emitter{
		Flags:      &flags,
		Mangler:    mangle.New(),
		Constants:  consts,
		Memory:     &memlower.Lowerer{Flags: &flags, Bag: bag},
		Vector:     &simd.Lowerer{Usage: usage},
		Funcs:      namer,
		Tables:     tables,
		Intrinsics: handlers,
		Bag:        bag,
	}

	phase = timer.Begin("functions")
	plans, err := planAllocas(m, opts.Cache)
	if err != nil {
		return bag, err
	}
	var bodies strings.Builder
	var implemented []string
	for _, fn := range m.Funcs {
		if len(fn.Blocks) == 0 {
			continue
		}
		ctx := funcemit.NewContext(fn, plans[fn.ID])
		text, err := femit.EmitFunction(ctx, recon)
		if err != nil {
			return bag, fmt.Errorf("driver: function %q: %w", fn.Name, err)
		}
		bodies.WriteString(text)
		implemented = append(implemented, namer.Name(fn.ID))
	}
	timer.End(phase, fmt.Sprintf("%d functions", len(implemented)))

	phase = timer.Begin("data")
	img, err := layoutEng.Serialize(m, tables)
	if err != nil {
		return bag, err
	}
	timer.End(phase, fmt.Sprintf("%d bytes", len(img)))

	functionsText := tables.PatchMasks(bodies.String() + post.Render(flags.Relocatable))

	out := bufio.NewWriter(w)
	fmt.Fprintln(out, "// EMSCRIPTEN_START_FUNCTIONS")
	out.WriteString(functionsText)
	fmt.Fprintln(out, "// EMSCRIPTEN_END_FUNCTIONS")
	writeMemoryInitializer(out, &flags, img)

	phase = timer.Begin("metadata")
	doc := buildMetadata(m, &flags, layoutEng, tables, namer, handlers, usage, post, implemented)
	fmt.Fprintln(out, "// EMSCRIPTEN_METADATA")
	out.WriteString(doc.Render())
	timer.End(phase, "")

	if err := out.Flush(); err != nil {
		return bag, err
	}
	if bag.HasFatal() {
		return bag, fmt.Errorf("driver: translation of %q failed", m.Name)
	}
	return bag, nil
}

// planAllocas computes (or restores from cache) every implemented
// function's frame plan.
func planAllocas(m *ir.Module, cache *diskcache.Cache) (map[ir.FuncID]*alloca.Plan, error) {
	planner := &alloca.Planner{PlatformStackAlign: platformStackAlign}
	plans := make(map[ir.FuncID]*alloca.Plan, len(m.Funcs))

	var cached map[string]diskcache.FuncPlan
	var digest diskcache.Digest
	if cache != nil {
		digest = diskcache.HashModule(m)
		var payload diskcache.Payload
		if hit, err := cache.Get(digest, &payload); err == nil && hit {
			cached = make(map[string]diskcache.FuncPlan, len(payload.Funcs))
			for _, fp := range payload.Funcs {
				cached[fp.Name] = fp
			}
		}
	}

	var payload diskcache.Payload
	for _, fn := range m.Funcs {
		if len(fn.Blocks) == 0 {
			continue
		}
		if fp, ok := cached[fn.Name]; ok {
			if plan, err := diskcache.RestorePlan(fn, fp); err == nil {
				plans[fn.ID] = plan
				payload.Funcs = append(payload.Funcs, fp)
				continue
			}
		}
		plan, err := planner.Plan(fn)
		if err != nil {
			return nil, err
		}
		plans[fn.ID] = plan
		payload.Funcs = append(payload.Funcs, diskcache.RecordPlan(fn.Name, plan))
	}

	if cache != nil && cached == nil {
		payload.ModuleName = m.Name
		// Best-effort: a failed cache write never fails the build.
		_ = cache.Put(digest, &payload)
	}
	return plans, nil
}

// writeMemoryInitializer emits the allocate statement that loads the
// static data image, guarded so that under threading only the main
// thread populates shared memory.
func writeMemoryInitializer(out *bufio.Writer, flags *config.Flags, img []byte) {
	if len(img) == 0 {
		return
	}
	parts := make([]string, len(img))
	for i, b := range img {
		parts[i] = fmt.Sprintf("%d", b)
	}
	stmt := fmt.Sprintf("allocate([%s], \"i8\", ALLOC_NONE, Runtime.GLOBAL_BASE);", strings.Join(parts, ","))
	if flags.EnablePthreads {
		fmt.Fprintf(out, "if (!ENVIRONMENT_IS_PTHREAD) %s\n", stmt)
		return
	}
	fmt.Fprintln(out, stmt)
}

func buildMetadata(m *ir.Module, flags *config.Flags, layoutEng *layout.Engine,
	tables *funcptr.Tables, namer funcNamer, handlers *callhandler.Registry,
	usage *simd.UsageFlags, post *postinit.Queue, implemented []string) *metadata.Doc {

	doc := &metadata.Doc{
		Redirects:            map[string]string{},
		ImplementedFunctions: implemented,
		Tables:               map[string]string{},
		Aliases:              map[string]string{},
		Simd:                 *usage,
		MaxGlobalAlign:       layoutEng.MaxGlobalAlign(),
		NamedGlobals:         map[string]int{},
		AsmConsts:            map[int]string{},
		AsmConstArities:      map[int][]int{},
	}

	for _, fn := range m.Funcs {
		if len(fn.Blocks) > 0 {
			continue
		}
		if callhandler.IsNoOp(fn.Name) || strings.HasPrefix(fn.Name, "llvm.") {
			continue
		}
		doc.Declares = append(doc.Declares, fn.Name)
	}
	for i := range m.Globals {
		if m.Globals[i].IsExtern {
			doc.Externs = append(doc.Externs, mangle.GlobalName(m.Globals[i].Name))
		}
	}
	for _, sig := range tables.Signatures() {
		doc.Tables[sig] = tables.Definition(sig, namer)
	}
	for _, fn := range layoutEng.Initializers() {
		doc.Initializers = append(doc.Initializers, namer.Name(fn))
	}
	if post.Len() > 0 {
		doc.Initializers = append(doc.Initializers, postinit.ChunkName(0))
	}
	if len(m.Exports) > 0 {
		for _, name := range m.Exports {
			doc.Exports = append(doc.Exports, mangle.GlobalName(name))
		}
	} else {
		doc.Exports = append(doc.Exports, implemented...)
	}
	if post.Len() > 0 {
		doc.Exports = append(doc.Exports, postinit.ChunkName(0))
	}
	for alias, target := range m.Aliases {
		doc.Aliases[mangle.GlobalName(alias)] = mangle.GlobalName(target)
	}
	for name, addr := range layoutEng.NamedGlobals(m) {
		doc.NamedGlobals[mangle.GlobalName(name)] = addr
	}
	for id := 0; id < handlers.AsmConsts.Len(); id++ {
		doc.AsmConsts[id] = handlers.AsmConsts.Code(id)
		doc.AsmConstArities[id] = handlers.AsmConsts.Arities(id)
	}
	return doc
}
