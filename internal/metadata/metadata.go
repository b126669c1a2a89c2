// Package metadata emits the JSON-shaped side-band document appended
// after the function bodies: externals, tables, initializers,
// exports, aliases, SIMD usage flags, and the named-global address
// map a downstream tool needs to link the output.
package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"asmcore/internal/simd"
)

// Doc carries everything the metadata block reports. Field order here
// is the emission order; Render never reorders keys, so diffs between
// two translations of the same module stay byte-stable.
type Doc struct {
	Declares             []string
	Redirects            map[string]string
	Externs              []string
	ImplementedFunctions []string
	Tables               map[string]string
	Initializers         []string
	Exports              []string
	Aliases              map[string]string
	CantValidate         string
	Simd                 simd.UsageFlags
	MaxGlobalAlign       int
	NamedGlobals         map[string]int
	AsmConsts            map[int]string
	AsmConstArities      map[int][]int
}

// Render serializes the document. Array values keep caller order; map
// values are emitted with sorted keys so output is deterministic.
func (d *Doc) Render() string {
	var b strings.Builder
	b.WriteString("{\n")
	writeStringArray(&b, "declares", d.Declares)
	writeStringMap(&b, "redirects", d.Redirects)
	writeStringArray(&b, "externs", d.Externs)
	writeStringArray(&b, "implementedFunctions", d.ImplementedFunctions)
	writeStringMap(&b, "tables", d.Tables)
	writeStringArray(&b, "initializers", d.Initializers)
	writeStringArray(&b, "exports", d.Exports)
	writeStringMap(&b, "aliases", d.Aliases)
	writeEntry(&b, "cantValidate", quote(d.CantValidate))
	writeEntry(&b, "simd", boolBit(d.Simd.Any))
	writeEntry(&b, "simdInt8x16", boolBit(d.Simd.Int8x16))
	writeEntry(&b, "simdInt16x8", boolBit(d.Simd.Int16x8))
	writeEntry(&b, "simdInt32x4", boolBit(d.Simd.Int32x4))
	writeEntry(&b, "simdFloat32x4", boolBit(d.Simd.Float32x4))
	writeEntry(&b, "simdFloat64x2", boolBit(d.Simd.Float64x2))
	writeEntry(&b, "maxGlobalAlign", strconv.Itoa(d.MaxGlobalAlign))
	writeNamedGlobals(&b, d.NamedGlobals)
	writeAsmConsts(&b, d.AsmConsts)
	writeAsmConstArities(&b, d.AsmConstArities)
	// Trim the trailing ",\n" of the last entry.
	out := b.String()
	out = strings.TrimSuffix(out, ",\n") + "\n}\n"
	return out
}

func quote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func writeEntry(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "  %s: %s,\n", quote(key), value)
}

func writeStringArray(b *strings.Builder, key string, values []string) {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	writeEntry(b, key, "["+strings.Join(quoted, ", ")+"]")
}

// writeStringMap emits a map with sorted keys.
func writeStringMap(b *strings.Builder, key string, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", quote(k), quote(m[k]))
	}
	writeEntry(b, key, "{"+strings.Join(parts, ", ")+"}")
}

func writeNamedGlobals(b *strings.Builder, m map[string]int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", quote(k), m[k])
	}
	writeEntry(b, "namedGlobals", "{"+strings.Join(parts, ", ")+"}")
}

func writeAsmConsts(b *strings.Builder, m map[int]string) {
	ids := sortedIDs(m)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s: %s", quote(strconv.Itoa(id)), quote(m[id]))
	}
	writeEntry(b, "asmConsts", "{"+strings.Join(parts, ", ")+"}")
}

func writeAsmConstArities(b *strings.Builder, m map[int][]int) {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		nums := make([]string, len(m[id]))
		for j, n := range m[id] {
			nums[j] = strconv.Itoa(n)
		}
		parts[i] = fmt.Sprintf("%s: [%s]", quote(strconv.Itoa(id)), strings.Join(nums, ", "))
	}
	writeEntry(b, "asmConstArities", "{"+strings.Join(parts, ", ")+"}")
}

func sortedIDs(m map[int]string) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func boolBit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
