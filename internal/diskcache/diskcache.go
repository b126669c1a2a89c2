// Package diskcache persists per-module emission artifacts (alloca
// plans, layout measurements) keyed by a content digest, so repeated
// runs over an unchanged module skip recomputation.
package diskcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"asmcore/internal/alloca"
	"asmcore/internal/ir"
)

// Current schema version - increment when Payload format changes
const schemaVersion uint16 = 1

// Digest identifies one module's content.
type Digest [sha256.Size]byte

// Cache stores payloads by Digest on disk.
// Thread-safe for concurrent access.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// SlotRecord is one cached alloca slot.
type SlotRecord struct {
	ID        int32
	Align     int
	Size      int
	Offset    int
	Nativized bool
}

// FuncPlan is one function's cached frame layout.
type FuncPlan struct {
	Name         string
	FrameSize    int
	MaxAlign     int
	NeedsSPAlign bool
	Slots        []SlotRecord
}

// Payload stores cached per-module results for fast re-emission.
type Payload struct {
	// Schema version for safe invalidation when format changes
	Schema uint16

	ModuleName     string
	MaxGlobalAlign int
	ImageSize      int

	Funcs []FuncPlan
}

// Open initializes and returns a cache at the standard location.
func Open(app string) (*Cache, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, app)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// OpenAt returns a cache rooted at an explicit directory.
func OpenAt(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) pathFor(key Digest) string {
	hexKey := hex.EncodeToString(key[:])
	return filepath.Join(c.dir, "mods", hexKey+".mp")
}

// Put serializes and writes a payload to the cache.
func (c *Cache) Put(key Digest, payload *Payload) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	payload.Schema = schemaVersion
	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}

// Get reads and deserializes a payload from the cache. A schema
// mismatch reads as a miss, not an error.
func (c *Cache) Get(key Digest, out *Payload) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	dec := msgpack.NewDecoder(f)
	if err := dec.Decode(out); err != nil {
		return false, err
	}
	if out.Schema != schemaVersion {
		return false, nil
	}
	return true, nil
}

// DropAll invalidates the cache, useful after format changes.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		return err
	}
	return os.RemoveAll(old)
}

// HashModule digests the observable structure of m: names, types,
// block shapes, constants. Two modules with the same digest produce
// the same plans.
func HashModule(m *ir.Module) Digest {
	h := sha256.New()
	writeInt := func(v int64) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	h.Write([]byte(m.Name))
	for i := range m.Globals {
		g := &m.Globals[i]
		h.Write([]byte(g.Name))
		writeInt(int64(g.Type.Kind))
		writeInt(int64(g.Align))
		writeInt(int64(g.Size))
		if g.Init != nil {
			hashConst(writeInt, *g.Init)
		}
	}
	for _, fn := range m.Funcs {
		h.Write([]byte(fn.Name))
		writeInt(int64(fn.Result.Kind))
		writeInt(int64(len(fn.Params)))
		writeInt(int64(len(fn.Blocks)))
		for bi := range fn.Blocks {
			bb := &fn.Blocks[bi]
			writeInt(int64(bb.ID))
			writeInt(int64(len(bb.Phis)))
			writeInt(int64(len(bb.Instrs)))
			for _, instr := range bb.Instrs {
				writeInt(int64(instr.Op))
				writeInt(int64(instr.A))
				writeInt(int64(instr.B))
			}
			writeInt(int64(bb.Term.Kind))
		}
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

func hashConst(writeInt func(int64), c ir.Const) {
	writeInt(int64(c.Kind))
	writeInt(c.IntVal)
	writeInt(int64(c.FloatBits))
	writeInt(c.Offset)
	for _, lane := range c.Lanes {
		hashConst(writeInt, lane)
	}
}

// RecordPlan converts a computed alloca plan into its cacheable form.
func RecordPlan(name string, plan *alloca.Plan) FuncPlan {
	fp := FuncPlan{
		Name:         name,
		FrameSize:    plan.FrameSize,
		MaxAlign:     plan.MaxAlign,
		NeedsSPAlign: plan.NeedsSPAlign,
	}
	for _, s := range plan.Slots {
		fp.Slots = append(fp.Slots, SlotRecord{
			ID: int32(s.ID), Align: s.Align, Size: s.Size, Offset: s.Offset, Nativized: s.Nativized,
		})
	}
	return fp
}

// RestorePlan rebuilds an alloca plan from its cached form. Slot
// types are re-resolved from the function arena, since the cache
// stores only layout facts.
func RestorePlan(fn *ir.Func, fp FuncPlan) (*alloca.Plan, error) {
	plan := &alloca.Plan{
		FrameSize:    fp.FrameSize,
		MaxAlign:     fp.MaxAlign,
		NeedsSPAlign: fp.NeedsSPAlign,
	}
	for _, s := range fp.Slots {
		if _, ok := fn.Value(ir.ValueID(s.ID)); !ok {
			return nil, fmt.Errorf("diskcache: cached slot %d not in function %q", s.ID, fn.Name)
		}
		slot := alloca.Slot{
			ID: ir.ValueID(s.ID), Align: s.Align, Size: s.Size, Offset: s.Offset, Nativized: s.Nativized,
		}
		for bi := range fn.Blocks {
			for _, instr := range fn.Blocks[bi].Instrs {
				if instr.Op == ir.OpAlloca && instr.Result == slot.ID {
					slot.Type = instr.AllocaType
				}
			}
		}
		plan.Slots = append(plan.Slots, slot)
	}
	return plan, nil
}
