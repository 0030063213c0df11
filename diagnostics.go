package dyc

import (
	"strings"

	"modernc.org/strutil"
)

// diagnostics.go turns one of errors.go's structured error values into the
// caret-annotated, human-readable text handed to Context's OutputCallback
// (§4.8, §6): "path:line: kind: message" followed by the offending source
// line and a caret marking where the token starts, the same shape a
// terminal C compiler's diagnostics take.

// FormatDiagnostic renders err (anything returned by a phase in errors.go)
// as caret-annotated text suitable for OutputCallback. Errors without a
// source location (LinkError, InternalError) fall back to err's plain
// one-line message. When ansi is set the caret line carries an ANSI color
// escape (§4.8, §6's `DYC_ANSI` override) — callers typically pass
// ctx.ANSIEnabled() here.
func FormatDiagnostic(err error, ansi bool) string {
	head := err.Error()
	tok := tokenOf(err)
	if tok == nil || tok.File == nil {
		return head
	}
	ctxLines := caretContext(tok, ansi)
	if ctxLines == "" {
		return head
	}
	return head + "\n" + ctxLines
}

func tokenOf(err error) *Token {
	switch e := err.(type) {
	case *ParseError:
		return e.Tok
	case *TypeError:
		return e.Tok
	case *PreprocessorError:
		return e.Tok
	case *ConstEvalError:
		return e.Tok
	}
	return nil
}

// ansiCaretColor/ansiReset bracket the caret in bold red, the same color a
// terminal C compiler (clang, gcc with -fdiagnostics-color) uses for the
// point of error.
const (
	ansiCaretColor = "\x1b[1;31m"
	ansiReset      = "\x1b[0m"
)

// caretContext reproduces the source line a token came from plus a caret
// beneath it. Token carries no column, so the column is recovered on a
// best-effort basis by locating the token's own spelling within its line
// — exact for any token that appears once on its line, which in practice
// covers the overwhelming majority of diagnostics.
func caretContext(tok *Token, ansi bool) string {
	lines := strings.Split(tok.File.Contents, "\n")
	idx := tok.Line - 1
	if idx < 0 || idx >= len(lines) {
		return ""
	}
	source := lines[idx]
	byteCol := strings.Index(source, tok.Text)
	if byteCol < 0 {
		byteCol = 0
	}
	col := displayWidth(source[:byteCol])
	caret := "^"
	if ansi {
		caret = ansiCaretColor + "^" + ansiReset
	}
	return source + "\n" + strings.Repeat(" ", col) + caret
}

// DumpNode renders an AST node's structure for -v-style debug tracing,
// built on modernc.org/strutil's reflective pretty-printer — the same
// tool modernc.org/cc's own diagnostics use to dump intermediate trees
// (§4.8's debug-output hook), rather than a hand-rolled %#v walk.
func DumpNode(n *Node) string {
	if n == nil {
		return "<nil>"
	}
	return strutil.PrettyString(n)
}

// DumpAST renders the body of every function defined in the most recently
// linked units, one DumpNode call per function, for the CLI's
// `--dump-ast` debug flag (§4.8, §6). Units not touched by the most
// recent Update still appear, since ctx.link.units retains every unit's
// CodeImage across incremental updates.
func (ctx *Context) DumpAST() string {
	var b strings.Builder
	for _, name := range ctx.link.unitNames() {
		img := ctx.link.units[name]
		for _, obj := range img.Unit.Globals {
			if !isFuncObj(obj) || obj.Body == nil {
				continue
			}
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(obj.Name)
			b.WriteString("\n")
			b.WriteString(DumpNode(obj.Body))
			b.WriteString("\n")
		}
	}
	return b.String()
}
