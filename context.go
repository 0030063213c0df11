package dyc

import "path/filepath"

// LoadedSource is one file handed back by a Loader (§6).
type LoadedSource struct {
	Path     string
	Contents string
}

// Loader resolves #include search per §4.3/§6: dyc never touches the
// filesystem itself, the CLI driver (or any embedder) supplies one. Resolve
// is asked to find name relative to the including file's directory first
// (unless angled is true), then walk searchDirs in order; isNext restricts
// the search to directories after the one that produced the including
// file, implementing #include_next.
type Loader interface {
	Resolve(name string, angled bool, fromDir string, searchDirs []string, isNext bool, afterDir string) (*LoadedSource, bool)
}

// FSLoader is the default filesystem-backed Loader.
type FSLoader struct{}

func (FSLoader) Resolve(name string, angled bool, fromDir string, searchDirs []string, isNext bool, afterDir string) (*LoadedSource, bool) {
	try := func(dir string) (*LoadedSource, bool) {
		p := name
		if dir != "" {
			p = filepath.Join(dir, name)
		}
		data, err := readFileFunc(p)
		if err != nil {
			return nil, false
		}
		return &LoadedSource{Path: p, Contents: string(data)}, true
	}
	if !angled && fromDir != "" {
		if src, ok := try(fromDir); ok {
			return src, true
		}
	}
	skipping := isNext
	for _, dir := range searchDirs {
		if skipping {
			if dir == afterDir {
				skipping = false
			}
			continue
		}
		if src, ok := try(dir); ok {
			return src, true
		}
	}
	return nil, false
}

// readFileFunc is a package variable (rather than a direct os.ReadFile
// call) so embedders and tests can substitute an in-memory filesystem
// without dyc importing "os" into its core compile path.
var readFileFunc = defaultReadFile

// HostSymbolLookup resolves a name dyc could not find among the compiled
// units' own exports, typically into the embedding host program's address
// space (§4.7, §6).
type HostSymbolLookup func(name string) (uintptr, bool)

// DiagLevel classifies one OutputCallback message.
type DiagLevel int

const (
	DiagNote DiagLevel = iota
	DiagWarning
	DiagError
)

// OutputCallback receives formatted diagnostics as they're produced (§4.8,
// §6); the CLI driver's implementation writes each message unchanged to
// stderr, one per line.
type OutputCallback func(level DiagLevel, formatted string)

// DebugInfoWriter receives the per-update debug info dyc can produce
// (currently line tables and symbol-to-address maps); an embedder wanting
// DWARF/PDB output implements this against its own writer (§6).
type DebugInfoWriter interface {
	WriteLineTable(unit string, entries []LineTableEntry)
	WriteSymbols(symbols []DebugSymbol)
}

type LineTableEntry struct {
	Address uint64
	File    string
	Line    int
}

type DebugSymbol struct {
	Name    string
	Address uint64
	Size    uint64
}

// nopDebugInfoWriter is installed by default so Context never has to nil-check.
type nopDebugInfoWriter struct{}

func (nopDebugInfoWriter) WriteLineTable(string, []LineTableEntry) {}
func (nopDebugInfoWriter) WriteSymbols([]DebugSymbol)              {}

// Context is the embedding API (§1, §6): it owns one compiled program's
// accumulated state across incremental Update calls — parsed units, linked
// globals preserved across recompiles, and the live executable image.
// It is the Go analogue of dyibicc's combined UserContext/CompilerState/
// LinkerState.
type Context struct {
	ABI ABI

	arena     *Arena
	fileTable *FileTable

	IncludeDirs []string

	loader     Loader
	hostLookup HostSymbolLookup
	output     OutputCallback
	debugInfo  DebugInfoWriter
	emitDebug  bool
	ansi       bool // §4.8/§6: caret diagnostics use ANSI color escapes when set

	baseFile  string
	buildDate string
	buildTime string

	tempCounter int

	link *linkState
}

// NewContext creates an embedding Context with sane defaults: a filesystem
// Loader, no host symbol lookup, and diagnostics discarded until
// SetEnvironment installs real collaborators.
func NewContext() *Context {
	ctx := &Context{
		arena:     NewArena(),
		fileTable: NewFileTable(),
		loader:    FSLoader{},
		output:    func(DiagLevel, string) {},
		debugInfo: nopDebugInfoWriter{},
		buildDate: "??? ?? ????",
		buildTime: "??:??:??",
	}
	ctx.link = newLinkState(ctx)
	return ctx
}

// SetEnvironment wires the external collaborators named in §6: the
// Loader, the host symbol lookup, the diagnostic output callback, an
// (optionally) a debug info writer, and the ANSI-coloring flag for caret
// diagnostics (§4.8). The pointer-ish arguments follow the "nil keeps its
// current value" convention so embedders can call this more than once to
// update one collaborator at a time; ansi has no such sentinel (false is a
// legitimate request to disable color) and is always applied.
func (ctx *Context) SetEnvironment(loader Loader, hostLookup HostSymbolLookup, output OutputCallback, debugInfo DebugInfoWriter, ansi bool) {
	if loader != nil {
		ctx.loader = loader
	}
	if hostLookup != nil {
		ctx.hostLookup = hostLookup
	}
	if output != nil {
		ctx.output = output
	}
	if debugInfo != nil {
		ctx.debugInfo = debugInfo
		ctx.emitDebug = true
	}
	ctx.ansi = ansi
}

// ANSIEnabled reports whether diagnostics should carry ANSI color escapes
// (§4.8, §6's `DYC_ANSI` override).
func (ctx *Context) ANSIEnabled() bool {
	return ctx.ansi
}

// UpdateResult reports what one Update call produced (§4.7, §8).
type UpdateResult struct {
	Exports  map[string]uintptr
	Warnings []string
}

// Update compiles and links the given source files into the running
// image (§4.7): parse each file, run static-inline liveness, generate
// code via the assembler, then hand the whole batch to the linker, which
// preserves previously-defined mutable globals and replaces everything
// else. On any compile error the previous good image is left untouched
// and the error is returned (§5's ordering guarantee; §7's error model).
func (ctx *Context) Update(sources []LoadedSource) (result *UpdateResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()

	ctx.arena.Reset(LifetimeTemp)

	var units []*translationUnit
	for _, src := range sources {
		f := ctx.fileTable.NewFile(src.Path, src.Contents)
		pp := newPreprocessor(ctx)
		pp.baseFileOverride(src.Path)
		toks := ctx.Tokenize(f)
		expanded := pp.Preprocess(toks)
		expanded = JoinAdjacentStrings(expanded)
		for _, syn := range pp.synthesized {
			synToks := ctx.Tokenize(syn)
			synToks = pp.Preprocess(synToks)
			synToks = JoinAdjacentStrings(synToks)
			synUnit := ctx.parseProgram(synToks)
			units = append(units, synUnit)
		}
		unit := ctx.parseProgram(expanded)
		units = append(units, unit)
	}

	markLiveFunctions(units)

	exports, warnings, linkErr := ctx.link.update(units)
	if linkErr != nil {
		return nil, linkErr
	}
	return &UpdateResult{Exports: exports, Warnings: warnings}, nil
}

// FindExport looks up a symbol exported by any compiled unit.
func (ctx *Context) FindExport(name string) (uintptr, bool) {
	return ctx.link.findExport(name)
}

// Close releases the executable image held by the linker (§1's lifetime
// model); the arenas are left to the Go garbage collector. The Context
// must not be used afterward.
func (ctx *Context) Close() error {
	return ctx.link.close()
}

func (pp *Preprocessor) baseFileOverride(name string) {
	pp.ctx.baseFile = name
}
