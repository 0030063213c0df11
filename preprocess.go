package dyc

import (
	"fmt"
	"strings"
)

// Macro is one #define'd name, either object-like or function-like.
type Macro struct {
	Name           string
	IsFunctionLike bool
	Params         []string
	VaArgsName     string // "" unless the macro is variadic
	HasVaOpt       bool
	Body           *Token
	// Handler, when non-nil, computes the expansion dynamically (builtin
	// macros like __LINE__/__FILE__/__COUNTER__); Body is unused for these.
	Handler func(pp *Preprocessor, tok *Token) *Token
}

// condKind is the current branch state of one #if/#ifdef/#ifndef frame.
type condKind int

const (
	condInThen condKind = iota
	condInElif
	condInElse
)

type condFrame struct {
	next     *condFrame
	kind     condKind
	included bool // true if this branch's tokens should pass through
	tok      *Token
}

// Preprocessor implements §4.3: macro expansion with hide-sets, conditional
// inclusion, #include search with #pragma once, and the builtin dynamic
// macros. Include guards are not memoized: includeGuards is never filled,
// so a header protected only by an #ifndef guard is read and preprocessed
// again on every #include, its guarded body then being skipped.
type Preprocessor struct {
	ctx    *Context
	macros *RobinMap[*Macro]
	cond   *condFrame

	pragmaOnce    *RobinMap[bool]
	includeGuards *RobinMap[string] // file name -> guard macro name, once resolved
	includeCache  *RobinMap[string] // "dir\x00name" -> resolved path

	counter int

	// includeNextIdx tracks, per nesting level, the include-path index a
	// #include_next should resume searching after.
	includeNextIdx []int

	vecInstances map[string]bool
	mapInstances map[string]bool
	synthesized  []*File // synthetic translation units from $vec/$map, consumed by Context.Update
}

func newPreprocessor(ctx *Context) *Preprocessor {
	pp := &Preprocessor{
		ctx:           ctx,
		macros:        NewRobinMap[*Macro](LifetimeCompile),
		pragmaOnce:    NewRobinMap[bool](LifetimeCompile),
		includeGuards: NewRobinMap[string](LifetimeCompile),
		includeCache:  NewRobinMap[string](LifetimeCompile),
		vecInstances:  map[string]bool{},
		mapInstances:  map[string]bool{},
	}
	pp.initBuiltinMacros()
	return pp
}

func (pp *Preprocessor) initBuiltinMacros() {
	dyn := func(name string, h func(pp *Preprocessor, tok *Token) *Token) {
		pp.macros.Put(name, &Macro{Name: name, Handler: h})
	}
	dyn("__FILE__", func(pp *Preprocessor, tok *Token) *Token {
		return stringToken(tok, tok.Filename)
	})
	dyn("__LINE__", func(pp *Preprocessor, tok *Token) *Token {
		return numToken(tok, int64(tok.Line))
	})
	dyn("__COUNTER__", func(pp *Preprocessor, tok *Token) *Token {
		v := pp.counter
		pp.counter++
		return numToken(tok, int64(v))
	})
	dyn("__BASE_FILE__", func(pp *Preprocessor, tok *Token) *Token {
		return stringToken(tok, pp.ctx.baseFile)
	})
	dyn("__DATE__", func(pp *Preprocessor, tok *Token) *Token {
		return stringToken(tok, pp.ctx.buildDate)
	})
	dyn("__TIME__", func(pp *Preprocessor, tok *Token) *Token {
		return stringToken(tok, pp.ctx.buildTime)
	})
	dyn("__TIMESTAMP__", func(pp *Preprocessor, tok *Token) *Token {
		return stringToken(tok, pp.ctx.buildDate+" "+pp.ctx.buildTime)
	})
	pp.DefineMacro("__STDC__", "1")
	pp.DefineMacro("__STDC_VERSION__", "201112L")
	pp.DefineMacro("__x86_64__", "1")
}

func stringToken(at *Token, s string) *Token {
	t := &Token{Kind: TokenString, Text: "\"" + s + "\"", Str: append([]byte(s), 0),
		File: at.File, Filename: at.Filename, Line: at.Line}
	t.Ty = arrayOf(tyChar, len(s)+1, nil)
	return t
}

func numToken(at *Token, v int64) *Token {
	return &Token{Kind: TokenNumber, IntVal: v, Ty: tyInt, File: at.File, Filename: at.Filename, Line: at.Line}
}

// DefineMacro installs an object-like macro name with the raw replacement
// text buf, tokenized with this preprocessor's lexer (used both for
// -D-style definitions and for dyc's builtin constants).
func (pp *Preprocessor) DefineMacro(name, buf string) {
	f := &File{Name: "<builtin>", DisplayName: "<builtin>", Contents: buf}
	body := pp.ctx.Tokenize(f)
	pp.macros.Put(name, &Macro{Name: name, Body: body})
}

func (pp *Preprocessor) UndefMacro(name string) {
	pp.macros.Delete(name)
}

func cloneTok(t *Token) *Token {
	c := *t
	c.Next = nil
	return &c
}

func copyTokenList(toks *Token) *Token {
	var head Token
	cur := &head
	for t := toks; t != nil; t = t.Next {
		c := cloneTok(t)
		cur.Next = c
		cur = c
	}
	return head.Next
}

func addHideset(toks *Token, hs *Hideset) *Token {
	var head Token
	cur := &head
	for t := toks; t != nil; t = t.Next {
		c := cloneTok(t)
		c.Hideset = c.Hideset.Union(hs)
		cur.Next = c
		cur = c
	}
	return head.Next
}

func appendTok(a, b *Token) *Token {
	if a == nil {
		return b
	}
	head := a
	for a.Next != nil {
		a = a.Next
	}
	a.Next = b
	return head
}

func listUntil(tok *Token, n int) (list, rest *Token) {
	var head Token
	cur := &head
	for i := 0; i < n && tok != nil; i++ {
		c := cloneTok(tok)
		cur.Next = c
		cur = c
		tok = tok.Next
	}
	return head.Next, tok
}

// Preprocess is the top-level entry: expands macros, resolves conditional
// inclusion and #include, and returns the resulting token list with
// adjacent string literals still unjoined (the caller runs
// JoinAdjacentStrings once for the whole translation unit, §4.3).
func (pp *Preprocessor) Preprocess(tok *Token) *Token {
	out := pp.preprocessInternal(tok)
	if pp.cond != nil {
		panic(&PreprocessorError{Tok: pp.cond.tok, Msg: "unterminated conditional directive"})
	}
	convertPPTokens(out)
	return out
}

func (pp *Preprocessor) preprocessInternal(tok *Token) *Token {
	var head Token
	cur := &head

	for tok != nil && tok.Kind != TokenEOF {
		if !pp.activeIncluded() {
			// Excluded group: only nested conditionals are tracked.
			if tok.AtBOL && Equal(tok, "#") && !tok.Next.AtBOL {
				switch tok.Next.Text {
				case "if", "ifdef", "ifndef":
					pp.pushCond(tok.Next, false)
					tok = skipLine(tok.Next)
					continue
				case "elif", "else", "endif":
					tok = pp.directive(tok.Next)
					continue
				}
			}
			tok = tok.Next
			continue
		}
		if !pp.expandMacro(&tok, tok) {
			if tok.Kind == TokenPunct && tok.Text == "$" {
				if repl, rest := pp.tryContainerSugar(tok); repl != nil {
					cur.Next = repl
					for cur.Next != nil {
						cur = cur.Next
					}
					tok = rest
					continue
				}
			}
			if tok.AtBOL && Equal(tok, "#") {
				tok = pp.directive(tok.Next)
				continue
			}
			c := cloneTok(tok)
			cur.Next = c
			cur = c
			tok = tok.Next
		}
	}
	cur.Next = tok // EOF
	return head.Next
}

// tryContainerSugar recognizes $vec(T) / $map(K,V) (§4.1, §9) and rewrites
// them to a reference to a synthesized generic container, accumulating the
// synthesized definition the first time a given instantiation is seen.
func (pp *Preprocessor) tryContainerSugar(tok *Token) (*Token, *Token) {
	name := tok.Next
	if name == nil || name.Kind != TokenIdent {
		return nil, nil
	}
	switch name.Text {
	case "vec":
		paren := name.Next
		if !Equal(paren, "(") {
			return nil, nil
		}
		elemTok := paren.Next
		if elemTok == nil || elemTok.Kind != TokenIdent {
			return nil, nil
		}
		closeParen := elemTok.Next
		if !Equal(closeParen, ")") {
			return nil, nil
		}
		mangled := "__vec_" + elemTok.Text
		if !pp.vecInstances[mangled] {
			pp.vecInstances[mangled] = true
			pp.synthesizeVec(mangled, elemTok.Text)
		}
		identTok := cloneTok(name)
		identTok.Kind = TokenIdent
		identTok.Text = mangled
		identTok.Next = nil
		return identTok, closeParen.Next
	case "map":
		paren := name.Next
		if !Equal(paren, "(") {
			return nil, nil
		}
		keyTok := paren.Next
		comma := keyTok.Next
		if !Equal(comma, ",") {
			return nil, nil
		}
		valTok := comma.Next
		closeParen := valTok.Next
		if !Equal(closeParen, ")") {
			return nil, nil
		}
		mangled := "__map_" + keyTok.Text + "_" + valTok.Text
		if !pp.mapInstances[mangled] {
			pp.mapInstances[mangled] = true
			pp.synthesizeMap(mangled, keyTok.Text, valTok.Text)
		}
		identTok := cloneTok(name)
		identTok.Kind = TokenIdent
		identTok.Text = mangled
		identTok.Next = nil
		return identTok, closeParen.Next
	}
	return nil, nil
}

func (pp *Preprocessor) synthesizeVec(mangled, elem string) {
	src := fmt.Sprintf(`
typedef struct %s { %s* data; long len; long cap; } %s;
`, mangled, elem, mangled)
	pp.synthesized = append(pp.synthesized, &File{Name: "<" + mangled + ">", DisplayName: "<" + mangled + ">", Contents: src})
}

func (pp *Preprocessor) synthesizeMap(mangled, key, val string) {
	src := fmt.Sprintf(`
typedef struct %s_entry { %s key; %s val; int used; } %s_entry;
typedef struct %s { %s_entry* data; long len; long cap; } %s;
`, mangled, key, val, mangled, mangled, mangled, mangled)
	pp.synthesized = append(pp.synthesized, &File{Name: "<" + mangled + ">", DisplayName: "<" + mangled + ">", Contents: src})
}

// includeDirective implements #include/#include_next (§4.3): it reads the
// header-name (either "..." or <...>, or a macro-expanded sequence that
// reduces to a string), resolves it via ctx.loader, and — unless a prior
// #pragma once says otherwise — splices the tokenized, recursively
// preprocessed contents in place. Include-guard patterns are not detected.
func (pp *Preprocessor) includeDirective(tok *Token, isNext bool) *Token {
	name, angled, rest := pp.readHeaderName(tok)
	fromDir := ""
	afterDir := ""
	if f := tok.File; f != nil {
		fromDir = dirOf(f.Name)
		afterDir = f.IncludeDir
	}
	src, ok := pp.ctx.loader.Resolve(name, angled, fromDir, pp.ctx.IncludeDirs, isNext, afterDir)
	if !ok {
		panic(&PreprocessorError{Tok: tok, Msg: "cannot find include file: " + name})
	}
	if _, seen := pp.pragmaOnce.Get(src.Path); seen {
		return rest
	}
	f := pp.ctx.fileTable.NewFile(src.Path, src.Contents)
	f.IncludeDir = dirOf(src.Path)
	included := pp.ctx.Tokenize(f)
	expanded := pp.preprocessInternal(included)
	return appendTok(expanded, rest)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[:i]
		}
	}
	return ""
}

// readHeaderName reads a #include operand, which is lexed as ordinary
// punctuation/string tokens (dyc's lexer doesn't special-case '<' runs),
// so both spellings are reassembled here.
func (pp *Preprocessor) readHeaderName(tok *Token) (name string, angled bool, rest *Token) {
	if tok.Kind == TokenString {
		return string(tok.Str[:len(tok.Str)-1]), false, tok.Next
	}
	if Equal(tok, "<") {
		var b strings.Builder
		t := tok.Next
		for t != nil && !Equal(t, ">") {
			b.WriteString(t.Text)
			t = t.Next
		}
		if t == nil {
			panic(&PreprocessorError{Tok: tok, Msg: "expected '>'"})
		}
		return b.String(), true, t.Next
	}
	// Macro-expanded form: expand then retry.
	expanded := pp.expandDefinedAndMacros(tok)
	if expanded != nil && (expanded.Kind == TokenString || Equal(expanded, "<")) {
		return pp.readHeaderName(expanded)
	}
	panic(&PreprocessorError{Tok: tok, Msg: "expected a header name"})
}

// directive dispatches on the directive name following '#'.
func (pp *Preprocessor) directive(tok *Token) *Token {
	if tok.AtBOL || tok.Kind == TokenEOF {
		// Bare '#' on its own line is a null directive.
		return tok
	}
	if tok.Kind != TokenIdent && tok.Kind != TokenKeyword {
		panic(&PreprocessorError{Tok: tok, Msg: "expected a preprocessing directive"})
	}
	switch tok.Text {
	case "include":
		return pp.includeDirective(tok.Next, false)
	case "include_next":
		return pp.includeDirective(tok.Next, true)
	case "define":
		return pp.defineDirective(tok.Next)
	case "undef":
		name := tok.Next
		pp.UndefMacro(name.Text)
		return skipLine(name.Next)
	case "if":
		return pp.ifDirective(tok, tok.Next)
	case "ifdef":
		_, ok := pp.macros.Get(tok.Next.Text)
		pp.pushCond(tok, ok)
		return skipLine(tok.Next.Next)
	case "ifndef":
		_, ok := pp.macros.Get(tok.Next.Text)
		pp.pushCond(tok, !ok)
		return skipLine(tok.Next.Next)
	case "elif":
		return pp.elifDirective(tok, tok.Next)
	case "else":
		pp.elseDirective(tok)
		return skipLine(tok.Next)
	case "endif":
		pp.endifDirective(tok)
		return skipLine(tok.Next)
	case "line":
		return pp.lineDirective(tok.Next)
	case "pragma":
		return pp.pragmaDirective(tok.Next)
	case "error":
		panic(&PreprocessorError{Tok: tok, Msg: "#error " + restOfLineText(tok.Next)})
	default:
		panic(&PreprocessorError{Tok: tok, Msg: "unknown directive #" + tok.Text})
	}
}

func skipLine(tok *Token) *Token {
	for tok != nil && !tok.AtBOL && tok.Kind != TokenEOF {
		tok = tok.Next
	}
	return tok
}

func restOfLineText(tok *Token) string {
	var b strings.Builder
	for tok != nil && !tok.AtBOL && tok.Kind != TokenEOF {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok.Text)
		tok = tok.Next
	}
	return b.String()
}

func (pp *Preprocessor) pushCond(tok *Token, included bool) {
	active := pp.activeIncluded()
	pp.cond = &condFrame{next: pp.cond, kind: condInThen, included: included && active, tok: tok}
}

func (pp *Preprocessor) activeIncluded() bool {
	for f := pp.cond; f != nil; f = f.next {
		if !f.included {
			return false
		}
	}
	return true
}

func (pp *Preprocessor) ifDirective(hashTok, tok *Token) *Token {
	line, rest := sliceToLineEnd(tok)
	val := pp.evalPPIf(hashTok, line)
	pp.pushCond(hashTok, val != 0)
	return rest
}

func sliceToLineEnd(tok *Token) (line, rest *Token) {
	var head Token
	cur := &head
	for tok != nil && !tok.AtBOL && tok.Kind != TokenEOF {
		c := cloneTok(tok)
		cur.Next = c
		cur = c
		tok = tok.Next
	}
	eof := &Token{Kind: TokenEOF}
	cur.Next = eof
	return head.Next, tok
}

// evalPPIf expands macros over the #if operand, replaces defined(X)/defined
// X, rewrites remaining identifiers to 0, and hands off to the constant
// expression evaluator (§4.3).
func (pp *Preprocessor) evalPPIf(hashTok, line *Token) int64 {
	expanded := pp.expandDefinedAndMacros(line)
	for t := expanded; t != nil; t = t.Next {
		if t.Kind == TokenIdent {
			t.Kind = TokenNumber
			t.IntVal = 0
			t.Ty = tyInt
		}
	}
	convertPPTokens(expanded)
	val, rest := pp.ctx.evalConstExpr(expanded)
	if rest != nil && rest.Kind != TokenEOF {
		panic(&PreprocessorError{Tok: hashTok, Msg: "extra tokens in #if"})
	}
	return val
}

func (pp *Preprocessor) expandDefinedAndMacros(tok *Token) *Token {
	var head Token
	cur := &head
	for tok != nil && tok.Kind != TokenEOF {
		if tok.Kind == TokenIdent && tok.Text == "defined" {
			name := tok.Next
			closeParen := (*Token)(nil)
			if Equal(name, "(") {
				name = name.Next
				closeParen = name.Next
			}
			_, ok := pp.macros.Get(name.Text)
			v := int64(0)
			if ok {
				v = 1
			}
			cur.Next = numToken(tok, v)
			cur = cur.Next
			if closeParen != nil {
				tok = closeParen.Next
			} else {
				tok = name.Next
			}
			continue
		}
		if pp.expandMacro(&tok, tok) {
			continue
		}
		c := cloneTok(tok)
		cur.Next = c
		cur = c
		tok = tok.Next
	}
	return head.Next
}

func (pp *Preprocessor) elifDirective(hashTok, tok *Token) *Token {
	if pp.cond == nil || pp.cond.kind == condInElse {
		panic(&PreprocessorError{Tok: hashTok, Msg: "stray #elif"})
	}
	parentActive := true
	for f := pp.cond.next; f != nil; f = f.next {
		if !f.included {
			parentActive = false
			break
		}
	}
	wasIncluded := pp.cond.included
	line, rest := sliceToLineEnd(tok)
	if wasIncluded || !parentActive {
		pp.cond.kind = condInElif
		pp.cond.included = false
		// Skip evaluating once a prior branch already matched, but tokens
		// still need consuming to advance past the line.
		_ = line
		return rest
	}
	val := pp.evalPPIf(hashTok, line)
	pp.cond.kind = condInElif
	pp.cond.included = val != 0
	return rest
}

func (pp *Preprocessor) elseDirective(hashTok *Token) {
	if pp.cond == nil || pp.cond.kind == condInElse {
		panic(&PreprocessorError{Tok: hashTok, Msg: "stray #else"})
	}
	wasIncluded := pp.cond.included
	parentActive := true
	for f := pp.cond.next; f != nil; f = f.next {
		if !f.included {
			parentActive = false
			break
		}
	}
	pp.cond.kind = condInElse
	pp.cond.included = parentActive && !wasIncluded
}

func (pp *Preprocessor) endifDirective(hashTok *Token) {
	if pp.cond == nil {
		panic(&PreprocessorError{Tok: hashTok, Msg: "stray #endif"})
	}
	pp.cond = pp.cond.next
}

func (pp *Preprocessor) lineDirective(tok *Token) *Token {
	// #line <num> ["file"]
	line, rest := sliceToLineEnd(tok)
	expanded := pp.expandDefinedAndMacros(line)
	convertPPTokens(expanded)
	if expanded == nil || expanded.Kind != TokenNumber {
		panic(&PreprocessorError{Tok: tok, Msg: "invalid #line operand"})
	}
	n := expanded.IntVal
	if expanded.Next != nil && expanded.Next.Kind == TokenString {
		tok.File.DisplayName = string(expanded.Next.Str[:len(expanded.Next.Str)-1])
	}
	tok.File.LineDelta = int(n) - tok.Line
	return rest
}

func (pp *Preprocessor) pragmaDirective(tok *Token) *Token {
	if Equal(tok, "once") {
		pp.pragmaOnce.Put(tok.File.Name, true)
		return skipLine(tok.Next)
	}
	// Unrecognized #pragma operands (e.g. pack, GCC diagnostic) are no-ops.
	return skipLine(tok)
}

func (pp *Preprocessor) defineDirective(tok *Token) *Token {
	name := tok
	tok = tok.Next
	if tok != nil && !tok.HasSpace && Equal(tok, "(") {
		return pp.defineFuncMacro(name, tok.Next)
	}
	line, rest := sliceToLineEnd(tok)
	pp.macros.Put(name.Text, &Macro{Name: name.Text, Body: line})
	return rest
}

func (pp *Preprocessor) defineFuncMacro(name, tok *Token) *Token {
	var params []string
	vaName := ""
	for !Equal(tok, ")") {
		if len(params) > 0 {
			tok = Skip(tok, ",")
		}
		if Equal(tok, "...") {
			vaName = "__VA_ARGS__"
			tok = tok.Next
			break
		}
		if tok.Kind != TokenIdent {
			panic(&PreprocessorError{Tok: tok, Msg: "expected a parameter name"})
		}
		if tok.Next != nil && Equal(tok.Next, "...") {
			vaName = tok.Text
			tok = tok.Next.Next
			break
		}
		params = append(params, tok.Text)
		tok = tok.Next
	}
	tok = Skip(tok, ")")
	line, rest := sliceToLineEnd(tok)
	m := &Macro{Name: name.Text, IsFunctionLike: true, Params: params, VaArgsName: vaName, Body: line}
	m.HasVaOpt = containsVaOpt(line)
	pp.macros.Put(name.Text, m)
	return rest
}

func containsVaOpt(tok *Token) bool {
	for t := tok; t != nil; t = t.Next {
		if t.Kind == TokenIdent && t.Text == "__VA_OPT__" {
			return true
		}
	}
	return false
}

// expandMacro implements the Prossor hide-set algorithm (§4.3). If *tok
// names a macro eligible for expansion, it rewrites *tok to the expansion
// and returns true; otherwise it returns false, leaving *tok untouched.
func (pp *Preprocessor) expandMacro(rest **Token, tok *Token) bool {
	if tok.Hideset.Contains(tok.Text) {
		return false
	}
	m, ok := pp.macros.Get(tok.Text)
	if !ok || tok.Kind == TokenEOF {
		return false
	}
	if m.Handler != nil {
		*rest = appendTok(cloneTok0(m.Handler(pp, tok)), tok.Next)
		return true
	}
	if !m.IsFunctionLike {
		hs := tok.Hideset.WithName(m.Name)
		body := addHideset(m.Body, hs)
		*rest = appendTok(body, tok.Next)
		return true
	}
	if !Equal(tok.Next, "(") {
		return false
	}
	args, closeParen := pp.readMacroArgs(tok.Next.Next, m)
	hs := tok.Hideset.Intersect(closeParen.Hideset).WithName(m.Name)
	expanded := pp.substitute(m, args, hs)
	*rest = appendTok(expanded, closeParen.Next)
	return true
}

func cloneTok0(t *Token) *Token {
	if t == nil {
		return nil
	}
	c := *t
	c.Next = nil
	return &c
}

type macroArg struct {
	name     string
	tok      *Token // raw, unexpanded
	expanded *Token // macro-expanded, computed lazily
	isVaArgs bool
}

func (pp *Preprocessor) readMacroArgs(tok *Token, m *Macro) ([]*macroArg, *Token) {
	var args []*macroArg
	for i := 0; i < len(m.Params); i++ {
		if i > 0 {
			tok = Skip(tok, ",")
		}
		var raw *Token
		raw, tok = readOneArg(tok)
		args = append(args, &macroArg{name: m.Params[i], tok: raw})
	}
	if m.VaArgsName != "" {
		var raw *Token
		if Equal(tok, ")") {
			raw = &Token{Kind: TokenEOF}
		} else {
			tok = Skip(tok, ",")
			raw, tok = readVaArgs(tok)
		}
		args = append(args, &macroArg{name: m.VaArgsName, tok: raw, isVaArgs: true})
	}
	if !Equal(tok, ")") {
		panic(&PreprocessorError{Tok: tok, Msg: "too many arguments to macro " + m.Name})
	}
	return args, tok
}

// readOneArg reads tokens up to the next top-level ',' or ')'.
func readOneArg(tok *Token) (arg, rest *Token) {
	var head Token
	cur := &head
	depth := 0
	for tok != nil {
		if depth == 0 && (Equal(tok, ",") || Equal(tok, ")")) {
			break
		}
		if Equal(tok, "(") {
			depth++
		}
		if Equal(tok, ")") {
			depth--
		}
		c := cloneTok(tok)
		cur.Next = c
		cur = c
		tok = tok.Next
	}
	cur.Next = &Token{Kind: TokenEOF}
	return head.Next, tok
}

func readVaArgs(tok *Token) (arg, rest *Token) {
	var head Token
	cur := &head
	depth := 0
	for tok != nil {
		if depth == 0 && Equal(tok, ")") {
			break
		}
		if Equal(tok, "(") {
			depth++
		}
		if Equal(tok, ")") {
			depth--
		}
		c := cloneTok(tok)
		cur.Next = c
		cur = c
		tok = tok.Next
	}
	cur.Next = &Token{Kind: TokenEOF}
	return head.Next, tok
}

func findArg(args []*macroArg, name string) *macroArg {
	for _, a := range args {
		if a.name == name {
			return a
		}
	}
	return nil
}

// substitute implements body substitution: arguments are macro-expanded
// before substitution (except as the operand of # or ##), and #/##/
// __VA_OPT__ are handled specially (§4.3 step 2).
func (pp *Preprocessor) substitute(m *Macro, args []*macroArg, hs *Hideset) *Token {
	var head Token
	cur := &head
	for tok := m.Body; tok != nil; tok = tok.Next {
		if Equal(tok, "#") && tok.Next != nil {
			arg := findArg(args, tok.Next.Text)
			if arg != nil {
				cur.Next = stringizeArg(tok, arg.tok)
				cur = cur.Next
				tok = tok.Next
				continue
			}
		}
		if tok.Text == "__VA_OPT__" && Equal(tok.Next, "(") {
			vaArg := findArg(args, m.VaArgsName)
			inner, after := readOneArg(tok.Next.Next)
			if vaArg != nil && vaArg.tok.Kind != TokenEOF {
				sub := pp.substitute(&Macro{Body: inner}, args, nil)
				cur.Next = sub
				for cur.Next != nil {
					cur = cur.Next
				}
			}
			tok = after
			continue
		}
		if Equal(tok, "##") {
			continue // handled when we see the operand before it below
		}
		if tok.Next != nil && Equal(tok.Next, "##") {
			lhsAll := pp.substArgOrSelf(tok, args, false)
			next := tok.Next.Next
			if next != nil {
				rhsAll := pp.substArgOrSelf(next, args, false)
				prefix, last := splitLast(lhsAll)
				pasted := pasteTokens(last, rhsAll)
				appendCloneChain(&cur, prefix)
				appendCloneChain(&cur, pasted)
				tok = next
			} else {
				appendCloneChain(&cur, lhsAll)
				tok = tok.Next
			}
			continue
		}
		arg := findArg(args, tok.Text)
		if arg != nil {
			if arg.expanded == nil {
				arg.expanded = pp.preprocessArgTokens(arg.tok)
			}
			appendCloneChain(&cur, arg.expanded)
			continue
		}
		c := cloneTok(tok)
		cur.Next = c
		cur = c
	}
	return addHideset(head.Next, hs)
}

func (pp *Preprocessor) substArgOrSelf(tok *Token, args []*macroArg, expand bool) *Token {
	arg := findArg(args, tok.Text)
	if arg == nil {
		return cloneTok(tok)
	}
	if !expand {
		return copyTokenList(arg.tok)
	}
	if arg.expanded == nil {
		arg.expanded = pp.preprocessArgTokens(arg.tok)
	}
	return copyTokenList(arg.expanded)
}

func (pp *Preprocessor) preprocessArgTokens(tok *Token) *Token {
	var head Token
	cur := &head
	for tok != nil && tok.Kind != TokenEOF {
		if pp.expandMacro(&tok, tok) {
			continue
		}
		c := cloneTok(tok)
		cur.Next = c
		cur = c
		tok = tok.Next
	}
	return head.Next
}

// splitLast splits a token list into everything but the last token, and the
// last token on its own (Next severed), used by ## to paste only the
// adjacent pair while keeping the rest of a multi-token argument intact.
func splitLast(tok *Token) (prefix, last *Token) {
	if tok == nil {
		return nil, nil
	}
	if tok.Next == nil {
		return nil, tok
	}
	var head Token
	cur := &head
	for tok.Next != nil {
		c := cloneTok(tok)
		cur.Next = c
		cur = c
		tok = tok.Next
	}
	return head.Next, tok
}

func appendCloneChain(cur **Token, toks *Token) {
	for t := toks; t != nil; t = t.Next {
		c := cloneTok(t)
		(*cur).Next = c
		*cur = c
	}
}

// stringizeArg implements the # operator: joins the argument's spelling
// into one string literal, escaping '"' and '\\' per C11 6.10.3.2.
func stringizeArg(at *Token, arg *Token) *Token {
	var b strings.Builder
	first := true
	for t := arg; t != nil && t.Kind != TokenEOF; t = t.Next {
		if !first && t.HasSpace {
			b.WriteByte(' ')
		}
		first = false
		if t.Kind == TokenString {
			b.WriteString(escapeForStringize(t.Text))
		} else {
			b.WriteString(t.Text)
		}
	}
	return stringToken(at, b.String())
}

// escapeForStringize is deliberately hand-rolled: C11 6.10.3.2 escaping is a
// two-character whitelist, narrower than any general-purpose quoting helper
// in the dependency set, and still stdlib per DESIGN.md.
func escapeForStringize(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// pasteTokens implements ##: concatenates the spellings of lhs and the
// first token of rhs, re-lexes the result as a single token, and leaves the
// rest of rhs following it. A paste that doesn't form a single valid token
// is a diagnostic (§4.3).
func pasteTokens(lhs *Token, rhs *Token) *Token {
	if lhs == nil {
		return rhs
	}
	joined := lhs.Text + rhs.Text
	f := &File{Name: "<paste>", DisplayName: "<paste>", Contents: joined}
	lx := &Lexer{file: f, line: 1, atBOL: true}
	lx.src = joined
	tok := lx.next()
	if lx.pos != len(joined) {
		panic(&PreprocessorError{Tok: lhs, Msg: "invalid token paste: " + joined})
	}
	tok.Hideset = lhs.Hideset.Intersect(rhs.Hideset)
	tok.HasSpace = lhs.HasSpace
	tok.AtBOL = lhs.AtBOL
	tok.Next = rhs.Next
	return tok
}
