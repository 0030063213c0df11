package dyc

import "fmt"

// Error taxonomy, §7. Every fallible compiler phase panics with one of
// these concrete types; Context.Update recovers the panic at the top level
// (the Go analogue of dyibicc's setjmp/longjmp) and turns it back into a
// returned error.

// LexError reports a problem tokenizing source text.
type LexError struct {
	Loc  string
	File *File
	Line int
	Msg  string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s:%d: lex error: %s", e.Loc, e.Line, e.Msg)
}

// PreprocessorError reports a problem in macro expansion or conditional
// inclusion.
type PreprocessorError struct {
	Tok *Token
	Msg string
}

func (e *PreprocessorError) Error() string {
	return fmt.Sprintf("%s: preprocessor error: %s", tokLoc(e.Tok), e.Msg)
}

// ParseError reports a syntax error.
type ParseError struct {
	Tok *Token
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error: %s", tokLoc(e.Tok), e.Msg)
}

// TypeError reports a type-checking failure.
type TypeError struct {
	Tok *Token
	Msg string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: type error: %s", tokLoc(e.Tok), e.Msg)
}

// ConstEvalError reports a constant expression that could not be evaluated
// (used by pp_const_expr for #if, enumerators, case labels, bitfield
// widths, and static initializers).
type ConstEvalError struct {
	Tok *Token
	Msg string
}

func (e *ConstEvalError) Error() string {
	return fmt.Sprintf("%s: not a constant expression: %s", tokLoc(e.Tok), e.Msg)
}

// LinkError reports an undefined symbol or executable-memory failure during
// Context.Update's link phase. Unlike the lexer/parser/codegen errors above,
// a LinkError is not fatal to the Context: the previous good image stays
// installed (§7, §5 ordering guarantee).
type LinkError struct {
	Symbol string
	Msg    string
}

func (e *LinkError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("link error: undefined symbol %q: %s", e.Symbol, e.Msg)
	}
	return fmt.Sprintf("link error: %s", e.Msg)
}

// InternalError marks an unreachable/should-never-happen condition — a bug
// in dyc itself, not in the compiled program.
type InternalError struct {
	File string
	Line int
	Msg  string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error at %s:%d: %s", e.File, e.Line, e.Msg)
}

func tokLoc(t *Token) string {
	if t == nil || t.File == nil {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", t.Filename, t.Line)
}

// unreachable panics with an InternalError, mirroring dyibicc's unreachable()
// macro. file/line should be the call site, passed explicitly since Go has
// no __FILE__/__LINE__.
func unreachable(file string, line int, msg string) {
	panic(&InternalError{File: file, Line: line, Msg: msg})
}
