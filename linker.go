package dyc

import (
	"sort"
	"unsafe"

	"github.com/samber/lo"
	"modernc.org/sortutil"
)

// Fixup is one unresolved reference inside a unit's assembled code: the
// byte offset (into that unit's CodeImage.Code, before it is mapped) to
// patch, the symbol name to resolve it against, and a constant addend
// (§3, §4.7). Grounded on dyibicc's FileLinkData.fixups (link.c's
// link_all_files) — AtOffset plays the role of dyibicc's `void *addr`,
// deferred to an offset because dyc doesn't know the final mapped base
// address until after every unit in the batch has assembled.
type Fixup struct {
	AtOffset int64
	Name     string
	Addend   int64
}

// dataReloc ties one Relocation recorded against a global's initializer
// bytes (§3) back to the global's name, so the linker can resolve it once
// it knows which storage slice (fresh or preserved across an update) that
// name ultimately lives in.
type dataReloc struct {
	Name string
	Rel  *Relocation
}

// CodeImage is one translation unit's assembled output, handed to the
// linker by the code generator (§4.7).
type CodeImage struct {
	Unit *translationUnit

	Code     []byte
	CodeBase uintptr // filled in once mapped executable

	// PData holds the Win64 RUNTIME_FUNCTION array built during codegen_win64.go's
	// unwind-info emission (§4.6, §6); empty on SysV targets.
	PData []byte

	GlobalData map[string][]byte  // name -> freshly assembled storage for this unit's globals
	Exports    map[string]uintptr // function name -> code offset pre-link, +CodeBase after mapping

	Fixups     []Fixup
	DataRelocs []dataReloc
}

// execMemory abstracts the OS-specific executable-memory primitives named
// as external collaborators in §1/§6; memhost_unix.go and
// memhost_windows.go provide the concrete implementation selected by
// build tag.
type execMemory struct {
	mappings map[string]*mappedUnit // unit file name -> its current mapping
}

type mappedUnit struct {
	base uintptr
	mem  []byte

	// unwindHandle is the opaque handle returned by RtlAddFunctionTable on
	// Windows (§4.6/§6); unused (always zero) on other hosts.
	unwindHandle uintptr
}

// linkState is the Go analogue of dyibicc's combined UserContext +
// linker_state: it holds, across repeated Update calls, the memory
// allocated for each file's code and the global data that must survive a
// recompile (§4.7's "preserve mutable globals" guarantee).
type linkState struct {
	ctx *Context

	exec *execMemory

	units map[string]*CodeImage // unit file name -> most recent CodeImage

	// globalData holds storage for every non-rodata global byte-for-byte
	// across updates, keyed by name: a later Update that redefines the same
	// global keeps the old storage (and hence its current value) instead of
	// reallocating, exactly as dyibicc's incremental relink preserves
	// mutable global state across edits (§8 invariant 5).
	globalData map[string][]byte
	rodata     map[string]bool // names currently backed by rodata (always realloc'd, §4.7 step 2)
	dataAddr   map[string]uintptr

	// exports holds every function this link knows about, keyed by
	// mangledKey: externally-visible (is_root) functions under their plain
	// name, internal-linkage (static) functions namespaced to their
	// defining unit. publicExports mirrors only the is_root subset, under
	// the same plain names, and is what FindExport/UpdateResult.Exports
	// actually hand the embedder — a static function is resolvable by a
	// same-unit fixup but, correctly, invisible to the outside world.
	exports       map[string]uintptr
	publicExports map[string]uintptr
}

func newLinkState(ctx *Context) *linkState {
	return &linkState{
		ctx:           ctx,
		exec:          newExecMemory(),
		units:         make(map[string]*CodeImage),
		globalData:    make(map[string][]byte),
		rodata:        make(map[string]bool),
		dataAddr:      make(map[string]uintptr),
		exports:       make(map[string]uintptr),
		publicExports: make(map[string]uintptr),
	}
}

// update assembles every live unit, allocates/preserves global storage,
// maps the new code executable, resolves fixups (global data under the
// unit-mangled key, then exports under that key, then host lookup; see
// resolveIn below), and returns the updated export table (§4.7, §5's
// all-or-nothing guarantee: an error here leaves the previous image,
// still referenced by l.units/l.globalData, untouched).
func (l *linkState) update(units []*translationUnit) (map[string]uintptr, []string, error) {
	var warnings []string
	var images []*CodeImage

	for _, u := range units {
		img, err := l.ctx.assembleUnit(u)
		if err != nil {
			return nil, nil, err
		}
		images = append(images, img)
	}

	// Allocate or reuse persistent storage for every global this batch
	// defines. The sorted, deduplicated names list below is built but not
	// used; allocation walks each image's GlobalData map directly. Names are mangled through mangledKey before they ever reach
	// l.globalData/l.dataAddr, so two units' same-named `static` globals
	// land in distinct slots instead of aliasing one flat map entry.
	var names []string
	for _, img := range images {
		for name := range img.GlobalData {
			names = append(names, mangledKey(img.Unit, name))
		}
	}
	sort.Strings(names)
	names = names[:sortutil.Dedupe(sort.StringSlice(names))]

	for _, img := range images {
		for rawName := range img.GlobalData {
			key := mangledKey(img.Unit, rawName)
			data := img.GlobalData[rawName]
			isRodata := isRodataGlobal(img.Unit, rawName)
			if existing, ok := l.globalData[key]; ok && len(existing) == len(data) && !isRodata && !l.rodata[key] {
				continue // preserve the live (mutable) value across this relink
			}
			l.globalData[key] = data
			l.rodata[key] = isRodata
		}
	}
	for name, data := range l.globalData {
		if len(data) == 0 {
			l.dataAddr[name] = 0
			continue
		}
		l.dataAddr[name] = uintptr(unsafe.Pointer(&data[0]))
	}

	if err := l.exec.reset(images); err != nil {
		return nil, nil, err
	}

	exports := make(map[string]uintptr)
	for k, v := range l.exports {
		exports[k] = v
	}
	publicExports := make(map[string]uintptr)
	for k, v := range l.publicExports {
		publicExports[k] = v
	}
	for _, img := range images {
		for name, addr := range img.Exports {
			key := mangledKey(img.Unit, name)
			exports[key] = addr
			if key == name {
				publicExports[key] = addr
			}
		}
	}

	// Resolution order per §4.7 step 4 / spec.md §3's per-unit-then-global
	// split: for a name referenced from inside unit u, mangledKey(u, name)
	// first checks whether u itself defines name as an internal-linkage
	// (`static`) symbol — if so the unit-scoped key is tried first, ahead
	// of anything another unit or the host exposes under the same plain
	// name. A name that isn't one of u's own statics passes through
	// unchanged and resolves in the flat, cross-unit data/export tables,
	// then finally the host lookup.
	resolveIn := func(u *translationUnit) func(name string) (uintptr, bool) {
		return func(name string) (uintptr, bool) {
			key := mangledKey(u, name)
			if addr, ok := l.dataAddr[key]; ok {
				return addr, true
			}
			if addr, ok := exports[key]; ok {
				return addr, true
			}
			if l.ctx.hostLookup != nil {
				return l.ctx.hostLookup(name)
			}
			return 0, false
		}
	}

	// Relocations embedded in global initializer bytes (§3's Relocation
	// list) need both code exports (function addresses, now absolute after
	// exec.reset) and data addresses, so they resolve through the same
	// function as code fixups, after mapping.
	for _, img := range images {
		resolve := resolveIn(img.Unit)
		for _, dr := range img.DataRelocs {
			storage := l.globalData[mangledKey(img.Unit, dr.Name)]
			if err := l.writeDataReloc(storage, dr.Rel, resolve); err != nil {
				return nil, nil, err
			}
		}
	}

	for _, img := range images {
		resolve := resolveIn(img.Unit)
		for _, fx := range img.Fixups {
			addr, ok := resolve(fx.Name)
			if !ok {
				return nil, nil, &LinkError{Symbol: fx.Name, Msg: "not found in any unit, export table, global data, or host lookup"}
			}
			target := addr + uintptr(fx.Addend)
			ptr := (*uintptr)(unsafe.Pointer(uintptr(unsafe.Pointer(&img.Code[0])) + uintptr(fx.AtOffset)))
			*ptr = target
		}
	}

	if err := l.exec.protectExecutable(images); err != nil {
		return nil, nil, err
	}

	for k, v := range exports {
		l.exports[k] = v
	}
	for k, v := range publicExports {
		l.publicExports[k] = v
	}
	for _, img := range images {
		l.units[img.Unit.File.Name] = img
	}

	// liveNames is the deterministic, deduplicated list of every name
	// publicly exported so far (this batch and earlier ones) — handed to the debug-info
	// writer below (§4.7 step 5) alongside the per-unit line tables.
	liveNames := lo.Uniq(lo.Map(lo.Keys(publicExports), func(n string, _ int) string { return n }))
	sort.Strings(liveNames)

	if l.ctx.emitDebug {
		l.emitDebugInfo(images, publicExports, liveNames)
	}

	return publicExports, warnings, nil
}

// emitDebugInfo hands the just-linked image to ctx.debugInfo (§4.7 step 5,
// §6's -g contract): one line-table write per unit (grounded on each
// unit's own token positions) plus one consolidated symbol-table write
// covering every publicly exported name with its address. DebugSymbol.Size
// is left zero: no extent is computed.
func (l *linkState) emitDebugInfo(images []*CodeImage, publicExports map[string]uintptr, liveNames []string) {
	for _, img := range images {
		var lines []LineTableEntry
		for _, obj := range img.Unit.Globals {
			if !isFuncObj(obj) || obj.Body == nil || obj.Tok == nil {
				continue
			}
			addr, ok := img.Exports[obj.Name]
			if !ok {
				continue
			}
			lines = append(lines, LineTableEntry{Line: obj.Tok.Line, Address: uint64(addr)})
		}
		if len(lines) > 0 {
			l.ctx.debugInfo.WriteLineTable(img.Unit.File.Name, lines)
		}
	}

	symbols := make([]DebugSymbol, 0, len(liveNames))
	for _, name := range liveNames {
		symbols = append(symbols, DebugSymbol{Name: name, Address: uint64(publicExports[name])})
	}
	l.ctx.debugInfo.WriteSymbols(symbols)
}

// writeDataReloc patches one relocation's 8-byte slot inside storage
// (itself a global's final, possibly-preserved, byte slice) by resolving
// the relocation's target symbol the same way a code fixup would (§3,
// §4.7 step 2: "relocations referring to a symbol are resolved at write
// time").
func (l *linkState) writeDataReloc(storage []byte, rel *Relocation, resolve func(string) (uintptr, bool)) error {
	var target uintptr
	if rel.SymbolLabel != nil {
		name := *rel.SymbolLabel
		addr, ok := resolve(name)
		if !ok {
			return &LinkError{Symbol: name, Msg: "not found while relocating global initializer"}
		}
		target = addr
	}
	target += uintptr(rel.Addend)
	if int(rel.Offset)+8 > len(storage) {
		return &LinkError{Msg: "relocation offset out of bounds for its global's storage"}
	}
	*(*uintptr)(unsafe.Pointer(&storage[rel.Offset])) = target
	return nil
}

func isRodataGlobal(u *translationUnit, name string) bool {
	for _, g := range u.Globals {
		if g.Name == name {
			return g.IsRodata
		}
	}
	return false
}

// unitObj finds name among u's own globals, the same linear scan
// isRodataGlobal already does (a translation unit's global scope is small
// enough that this needs no index).
func unitObj(u *translationUnit, name string) (*Obj, bool) {
	for _, g := range u.Globals {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// mangledKey implements §3's "is_root (externally visible)" distinction at
// link time: a name that resolves, within u, to an internal-linkage
// (`static`) Obj is given a unit-unique key so two units each declaring
// `static int x;` (legal C, no ODR violation) never alias the same storage
// slot or export entry; an externally-visible name (the common case: every
// non-static global/function, and any name u merely declares rather than
// defines) passes through unchanged, since only one unit may define it and
// dyc's flat per-process address space lets every other unit see it under
// its own plain name. This is the per-unit/global split spec.md §3's "an
// array of per-unit static data maps plus one global data map" calls for,
// collapsed into one map with disambiguated keys instead of two parallel
// map types.
func mangledKey(u *translationUnit, name string) string {
	obj, ok := unitObj(u, name)
	if !ok || obj.IsRoot {
		return name
	}
	return name + "$" + u.File.Name
}

// findExport looks up name in the externally-visible (is_root) export
// table only: an internal-linkage (`static`) function's mangledKey entry
// lives in l.exports for same-unit fixup resolution, but is deliberately
// not reachable here, matching "static" meaning invisible outside its own
// translation unit.
func (l *linkState) findExport(name string) (uintptr, bool) {
	addr, ok := l.publicExports[name]
	return addr, ok
}

// unitNames returns every currently-linked unit's file name in
// deterministic (sorted) order, for debug tooling that walks l.units
// (§4.8's reproducible-output preference applies here too).
func (l *linkState) unitNames() []string {
	names := make([]string, 0, len(l.units))
	for name := range l.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *linkState) close() error {
	return l.exec.close()
}
