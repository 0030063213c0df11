// Command dycc is a reference driver for the dyc in-process C compiler
// and linker (§6): it loads one or more C source files from disk,
// compiles and links them into the dycc process's own address space, and
// optionally jumps into a named entry point, reporting its return value
// as the process exit code.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"

	"github.com/xyproto/dyc"
)

const (
	exitCompileError = 255
	exitEntryMissing = 254
)

var (
	includeDirs []string
	entryName   string
	syntaxOnly  bool
	debugSyms   bool
	ansiColor   bool
	dumpAST     bool
)

// stderrDebugInfoWriter is the reference driver's DebugInfoWriter: it has
// no PDB/DWARF emitter of its own, so -g/--debug-symbols prints the line
// table and symbol map dycc's linker produced to stderr instead of
// discarding them.
type stderrDebugInfoWriter struct{}

func (stderrDebugInfoWriter) WriteLineTable(unit string, entries []dyc.LineTableEntry) {
	for _, e := range entries {
		fmt.Fprintf(os.Stderr, "debug: %s:%d -> 0x%x\n", unit, e.Line, e.Address)
	}
}

func (stderrDebugInfoWriter) WriteSymbols(symbols []dyc.DebugSymbol) {
	for _, s := range symbols {
		fmt.Fprintf(os.Stderr, "debug: symbol %s @ 0x%x\n", s.Name, s.Address)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dycc [flags] file.c [file.c ...]",
	Short: "compile and run C source in-process via dyc",
	Args:  cobra.MinimumNArgs(1),
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringArrayVarP(&includeDirs, "include", "I", nil, "additional #include search directory (repeatable)")
	rootCmd.Flags().StringVarP(&entryName, "entry", "e", "main", "exported symbol to invoke after linking")
	rootCmd.Flags().BoolVarP(&syntaxOnly, "syntax-only", "c", false, "compile and link only; do not run the entry point")
	rootCmd.Flags().BoolVarP(&debugSyms, "debug-symbols", "g", false, "emit debug symbols (line table and symbol map, to stderr)")
	rootCmd.Flags().BoolVar(&ansiColor, "ansi", false, "colorize caret diagnostics with ANSI escapes")
	rootCmd.Flags().BoolVar(&dumpAST, "dump-ast", false, "dump the parsed AST of every function to stderr before running")
}

func run(cmd *cobra.Command, args []string) error {
	if env.Bool("DYC_DEBUG_SYMBOLS") {
		debugSyms = true
	}
	if env.Bool("DYC_ANSI") {
		ansiColor = true
	}

	ctx := dyc.NewContext()
	if runtime.GOOS == "windows" {
		ctx.ABI = dyc.ABIWin64
	} else {
		ctx.ABI = dyc.ABISysV
	}
	ctx.IncludeDirs = includeDirs

	output := func(level dyc.DiagLevel, msg string) {
		fmt.Fprintln(os.Stderr, msg)
	}
	var debugInfo dyc.DebugInfoWriter
	if debugSyms {
		debugInfo = stderrDebugInfoWriter{}
	}
	ctx.SetEnvironment(nil, nil, output, debugInfo, ansiColor)
	defer ctx.Close()

	var sources []dyc.LoadedSource
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sources = append(sources, dyc.LoadedSource{Path: path, Contents: string(data)})
	}

	result, err := ctx.Update(sources)
	if err != nil {
		fmt.Fprintln(os.Stderr, dyc.FormatDiagnostic(err, ansiColor))
		os.Exit(exitCompileError)
	}
	for _, w := range result.Warnings {
		fmt.Fprintln(os.Stderr, "warning: "+w)
	}

	if dumpAST {
		fmt.Fprint(os.Stderr, ctx.DumpAST())
	}

	if syntaxOnly {
		return nil
	}

	addr, ok := ctx.FindExport(entryName)
	if !ok {
		fmt.Fprintf(os.Stderr, "dycc: entry symbol %q not found\n", entryName)
		os.Exit(exitEntryMissing)
	}

	os.Exit(int(dyc.CallEntry(addr)))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
