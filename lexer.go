package dyc

import (
	"fmt"
	"strconv"
	"strings"
)

// punctuators lists every multi-character punctuator dyc recognizes, longest
// first within each starting byte so a simple linear scan implements maximal
// munch without a trie. The extension punctuator ".." (§4.1, method-call
// sugar "x..f(args)") is included alongside the standard C11 set.
var punctuators = []string{
	"<<=", ">>=", "...", "->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=",
	"&&", "||", "*=", "/=", "%=", "+=", "-=", "&=", "|=", "^=", "##", "::", "..",
	"{", "}", "(", ")", "[", "]", ".", "&", "*", "+", "-", "~", "!", "/", "%",
	"<", ">", "^", "|", "?", ":", ";", "=", ",", "#", "$",
}

var keywords = map[string]bool{
	"void": true, "_Bool": true, "char": true, "short": true, "int": true,
	"long": true, "struct": true, "union": true, "typedef": true, "enum": true,
	"static": true, "extern": true, "_Alignof": true, "_Alignas": true,
	"do": true, "for": true, "while": true, "if": true, "else": true,
	"return": true, "goto": true, "break": true, "continue": true,
	"switch": true, "case": true, "default": true, "sizeof": true,
	"const": true, "volatile": true, "auto": true, "register": true,
	"restrict": true, "__restrict": true, "__restrict__": true, "_Noreturn": true,
	"float": true, "double": true, "typeof": true, "asm": true,
	"_Thread_local": true, "__thread": true, "_Atomic": true, "__attribute__": true,
	"inline": true, "__inline": true, "__inline__": true,
	"_Generic": true, "_Static_assert": true, "__declspec": true, "__pragma": true,
	"_Alignof_": true, "__builtin_alloca": true, "__builtin_va_start": true,
	"__builtin_reg_class": true, "__builtin_types_compatible_p": true,
	"__has_feature": true, "__has_builtin": true, "__has_include": true,
	"__extension__": true, "__signed__": true, "signed": true, "unsigned": true,
}

// Lexer turns one File's contents into a linked list of Tokens, reusable by
// the preprocessor (§4.2).
type Lexer struct {
	ctx  *Context
	file *File
	src  string // line-spliced, trigraph-resolved copy of file.Contents
	pos  int
	line int
	atBOL bool
	hasSpace bool
}

// Tokenize lexes file into a null-terminated token list ending in TokenEOF.
func (ctx *Context) Tokenize(file *File) *Token {
	lx := &Lexer{ctx: ctx, file: file, line: 1, atBOL: true}
	lx.src = spliceLines(resolveTrigraphs(file.Contents))

	var head Token
	cur := &head
	for {
		tok := lx.next()
		if tok == nil {
			break
		}
		cur.Next = tok
		cur = tok
		if tok.Kind == TokenEOF {
			break
		}
	}
	return head.Next
}

// resolveTrigraphs rewrites the nine standard trigraphs (??=, ??(, etc.)
// before any other processing, as C11 §5.1.1.2 requires.
func resolveTrigraphs(s string) string {
	if !strings.Contains(s, "??") {
		return s
	}
	repl := map[byte]byte{
		'=': '#', '(': '[', '/': '\\', ')': ']', '\'': '^',
		'<': '{', '!': '|', '>': '}', '-': '~',
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if i+2 < len(s) && s[i] == '?' && s[i+1] == '?' {
			if r, ok := repl[s[i+2]]; ok {
				b.WriteByte(r)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// spliceLines removes backslash-newline sequences (and backslash-CRLF),
// joining continued logical lines before tokenization, and re-emits the
// removed newlines right after the end of the logical line, so the
// physical line count (and every later line's number) stays that of the
// original source (dyibicc instead tracks a separate line-delta table;
// dyc folds the delta directly into the output since Go strings don't
// need in-place editing).
func spliceLines(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := 0
	flush := func() {
		for ; pending > 0; pending-- {
			b.WriteByte('\n')
		}
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			j := i + 1
			if s[j] == '\r' && j+1 < len(s) && s[j+1] == '\n' {
				pending++
				i = j + 1
				continue
			}
			if s[j] == '\n' {
				pending++
				i = j
				continue
			}
		}
		if s[i] == '\r' {
			if i+1 < len(s) && s[i+1] == '\n' {
				continue
			}
			b.WriteByte('\n')
			flush()
			continue
		}
		b.WriteByte(s[i])
		if s[i] == '\n' {
			flush()
		}
	}
	flush()
	return b.String()
}

func (lx *Lexer) errorAt(msg string, args ...any) {
	panic(&LexError{Loc: lx.file.DisplayName, File: lx.file, Line: lx.line, Msg: fmt.Sprintf(msg, args...)})
}

func (lx *Lexer) mk(kind TokenKind, text string) *Token {
	t := &Token{
		Kind:      kind,
		Text:      text,
		File:      lx.file,
		Filename:  lx.file.DisplayName,
		Line:      lx.line,
		AtBOL:     lx.atBOL,
		HasSpace:  lx.hasSpace,
	}
	lx.atBOL = false
	lx.hasSpace = false
	return t
}

// next returns the next token, or nil only internally never (EOF is itself
// a token, per §3).
func (lx *Lexer) next() *Token {
	lx.skipWhitespaceAndComments()
	if lx.pos >= len(lx.src) {
		return lx.mk(TokenEOF, "")
	}

	c := lx.src[lx.pos]

	if c == '"' || (c == 'L' && lx.peekIs(1, '"')) {
		return lx.lexString()
	}
	if c == '\'' || (c == 'L' && lx.peekIs(1, '\'')) {
		return lx.lexChar()
	}
	if (c == 'u' || c == 'U') && (lx.peekIs(1, '"') || lx.peekIs(1, '\'') ||
		(c == 'u' && lx.peekIs(1, '8') && (lx.peekIs(2, '"')))) {
		return lx.lexPrefixedLiteral()
	}
	if c >= '0' && c <= '9' || (c == '.' && lx.peekDigit(1)) {
		return lx.lexNumber()
	}
	if strings.HasPrefix(lx.src[lx.pos:], "__declspec(") {
		return lx.consumeBalancedNoop("__declspec")
	}
	if strings.HasPrefix(lx.src[lx.pos:], "__pragma(") {
		return lx.consumeBalancedNoop("__pragma")
	}
	if r, _ := decodeUTF8(lx.src, lx.pos); isIdent1(r) {
		return lx.lexIdent()
	}
	return lx.lexPunct()
}

func (lx *Lexer) peekIs(off int, b byte) bool {
	return lx.pos+off < len(lx.src) && lx.src[lx.pos+off] == b
}

func (lx *Lexer) peekDigit(off int) bool {
	return lx.pos+off < len(lx.src) && lx.src[lx.pos+off] >= '0' && lx.src[lx.pos+off] <= '9'
}

func (lx *Lexer) skipWhitespaceAndComments() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '\n':
			lx.pos++
			lx.line++
			lx.atBOL = true
			lx.hasSpace = false
		case c == ' ' || c == '\t' || c == '\v' || c == '\f' || c == '\r':
			lx.pos++
			lx.hasSpace = true
		case c == '/' && lx.peekIs(1, '/'):
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
			lx.hasSpace = true
		case c == '/' && lx.peekIs(1, '*'):
			start := lx.line
			lx.pos += 2
			closed := false
			for lx.pos < len(lx.src) {
				if lx.src[lx.pos] == '\n' {
					lx.line++
				}
				if lx.src[lx.pos] == '*' && lx.peekIs(1, '/') {
					lx.pos += 2
					closed = true
					break
				}
				lx.pos++
			}
			if !closed {
				lx.line = start
				lx.errorAt("unterminated comment")
			}
			lx.hasSpace = true
		default:
			return
		}
	}
}

// consumeBalancedNoop swallows __declspec(...) / __pragma(...) as a single
// balanced-paren span (§4.2's accepted extensions) and yields nothing: the
// caller's loop simply calls next() again.
func (lx *Lexer) consumeBalancedNoop(name string) *Token {
	lx.pos += len(name)
	lx.skipWhitespaceAndComments()
	if lx.pos >= len(lx.src) || lx.src[lx.pos] != '(' {
		lx.errorAt("expected '(' after %s", name)
	}
	depth := 0
	for lx.pos < len(lx.src) {
		switch lx.src[lx.pos] {
		case '(':
			depth++
		case ')':
			depth--
		case '\n':
			lx.line++
		}
		lx.pos++
		if depth == 0 {
			break
		}
	}
	lx.hasSpace = true
	return lx.next()
}

func (lx *Lexer) lexPunct() *Token {
	rest := lx.src[lx.pos:]
	for _, p := range punctuators {
		if strings.HasPrefix(rest, p) {
			lx.pos += len(p)
			return lx.mk(TokenPunct, p)
		}
	}
	lx.errorAt("invalid token starting with %q", rest[:1])
	return nil
}

func (lx *Lexer) lexIdent() *Token {
	start := lx.pos
	for lx.pos < len(lx.src) {
		r, next := decodeUTF8(lx.src, lx.pos)
		if !isIdent2(r) {
			break
		}
		lx.pos = next
	}
	text := lx.src[start:lx.pos]
	kind := TokenIdent
	if keywords[text] {
		kind = TokenKeyword
	}
	return lx.mk(kind, text)
}

// lexNumber lexes a preprocessing-number per C11 6.4.8: it is deliberately
// permissive (digits, '.', and any of e/E/p/P followed by a sign, plus
// identifier characters) and converted to a typed TokenNumber by
// convertPPNumber once the preprocessor is done with it (§4.2's two-pass
// keyword/number classification).
func (lx *Lexer) lexNumber() *Token {
	start := lx.pos
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if (c == 'e' || c == 'E' || c == 'p' || c == 'P') && lx.pos+1 < len(lx.src) &&
			(lx.src[lx.pos+1] == '+' || lx.src[lx.pos+1] == '-') {
			lx.pos += 2
			continue
		}
		r, next := decodeUTF8(lx.src, lx.pos)
		if c == '.' || isIdent2(r) {
			lx.pos = next
			continue
		}
		break
	}
	return lx.mk(TokenPPNumber, lx.src[start:lx.pos])
}

// convertPPNumber classifies a TokenPPNumber into a typed integer or
// floating TokenNumber, the second pass of §4.2's "convert_pp_tokens".
func convertPPNumber(tok *Token) {
	s := tok.Text
	if isFloatLiteral(s) {
		f, suffix := parseFloatLiteral(s)
		tok.Kind = TokenNumber
		tok.FloatVal = f
		switch strings.ToLower(suffix) {
		case "f":
			tok.Ty = tyFloat
		case "l":
			tok.Ty = tyLDouble
		default:
			tok.Ty = tyDouble
		}
		return
	}
	v, unsigned, size, ok := parseIntLiteral(s)
	if !ok {
		panic(&LexError{Loc: tok.Filename, File: tok.File, Line: tok.Line, Msg: "invalid numeric constant: " + s})
	}
	tok.Kind = TokenNumber
	tok.IntVal = v
	tok.Ty = integerSuffixType(size, unsigned)
}

func isFloatLiteral(s string) bool {
	lower := strings.ToLower(s)
	if strings.Contains(lower, ".") {
		return true
	}
	isHex := strings.HasPrefix(lower, "0x")
	for i, c := range lower {
		if (c == 'e' && !isHex) || (c == 'p' && isHex) {
			if i > 0 {
				return true
			}
		}
	}
	return false
}

func parseFloatLiteral(s string) (float64, string) {
	body := s
	suffix := ""
	for len(body) > 0 {
		last := body[len(body)-1]
		if last == 'f' || last == 'F' || last == 'l' || last == 'L' {
			suffix = string(last) + suffix
			body = body[:len(body)-1]
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(body, 64)
	if err != nil {
		panic(&LexError{Msg: "invalid floating constant: " + s})
	}
	return f, suffix
}

func parseIntLiteral(s string) (val int64, unsigned bool, size int, ok bool) {
	body := s
	usuffix := 0
	lsuffix := 0
	for len(body) > 0 {
		c := body[len(body)-1]
		switch c {
		case 'u', 'U':
			usuffix++
			body = body[:len(body)-1]
			continue
		case 'l', 'L':
			lsuffix++
			body = body[:len(body)-1]
			continue
		}
		break
	}
	base := 10
	switch {
	case strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X"):
		base = 16
		body = body[2:]
	case strings.HasPrefix(body, "0b") || strings.HasPrefix(body, "0B"):
		base = 2
		body = body[2:]
	case len(body) > 1 && body[0] == '0':
		base = 8
	}
	if body == "" {
		body = "0"
	}
	u, err := strconv.ParseUint(body, base, 64)
	if err != nil {
		return 0, false, 0, false
	}
	size = 4
	if lsuffix >= 2 {
		size = 8
	} else if lsuffix == 1 {
		size = 8
	}
	if u > 0x7fffffff && size == 4 {
		size = 8
	}
	if u > 0x7fffffffffffffff {
		unsigned = true
	}
	return int64(u), usuffix > 0 || unsigned, size, true
}

func integerSuffixType(size int, unsigned bool) *Type {
	switch {
	case size == 8 && unsigned:
		return tyULong
	case size == 8:
		return tyLong
	case unsigned:
		return tyUInt
	default:
		return tyInt
	}
}

// lexPrefixedLiteral handles u"...", u'...', U"...", U'...', u8"...".
func (lx *Lexer) lexPrefixedLiteral() *Token {
	var prefix string
	if strings.HasPrefix(lx.src[lx.pos:], "u8") {
		prefix = "u8"
		lx.pos += 2
	} else {
		prefix = lx.src[lx.pos : lx.pos+1]
		lx.pos++
	}
	var tok *Token
	if lx.src[lx.pos] == '"' {
		tok = lx.lexString()
	} else {
		tok = lx.lexChar()
	}
	tok.Ty = elementTypeForPrefix(prefix, tok.Ty)
	return tok
}

func elementTypeForPrefix(prefix string, base *Type) *Type {
	switch prefix {
	case "u8":
		return arrayOf(tyUChar, 0, nil)
	case "u":
		return arrayOf(tyUShort, 0, nil) // char16_t
	case "U":
		return arrayOf(tyUInt, 0, nil) // char32_t
	case "L":
		return arrayOf(tyInt, 0, nil) // wchar_t (SysV: int)
	default:
		return base
	}
}

// lexString lexes a "..." literal, including the full C escape set and
// universal character names.
func (lx *Lexer) lexString() *Token {
	wide := false
	if lx.src[lx.pos] == 'L' {
		wide = true
		lx.pos++
	}
	start := lx.pos
	lx.pos++ // opening quote
	var decoded []byte
	for {
		if lx.pos >= len(lx.src) {
			lx.errorAt("unterminated string literal")
		}
		c := lx.src[lx.pos]
		if c == '"' {
			lx.pos++
			break
		}
		if c == '\n' {
			lx.errorAt("unterminated string literal")
		}
		if c == '\\' {
			r := lx.readEscape()
			decoded = encodeUTF8(decoded, r)
			continue
		}
		r, next := decodeUTF8(lx.src, lx.pos)
		decoded = encodeUTF8(decoded, r)
		lx.pos = next
	}
	decoded = append(decoded, 0)
	tok := lx.mk(TokenString, lx.src[start:lx.pos])
	tok.Str = decoded
	elemTy := tyChar
	if wide {
		elemTy = tyInt
	}
	tok.Ty = arrayOf(elemTy, len(decoded), nil)
	return tok
}

// lexChar lexes a '...' literal, yielding a TokenNumber of type int (C, not
// C++ char semantics) holding the numeric value of the character.
func (lx *Lexer) lexChar() *Token {
	wide := false
	if lx.src[lx.pos] == 'L' {
		wide = true
		lx.pos++
	}
	start := lx.pos
	lx.pos++ // opening quote
	if lx.pos >= len(lx.src) || lx.src[lx.pos] == '\'' {
		lx.errorAt("empty character constant")
	}
	var r rune
	if lx.src[lx.pos] == '\\' {
		r = lx.readEscape()
	} else {
		var next int
		r, next = decodeUTF8(lx.src, lx.pos)
		lx.pos = next
	}
	if lx.pos >= len(lx.src) || lx.src[lx.pos] != '\'' {
		lx.errorAt("unterminated character constant")
	}
	lx.pos++
	tok := lx.mk(TokenNumber, lx.src[start:lx.pos])
	tok.IntVal = int64(r)
	if !wide {
		tok.IntVal = int64(int8(r))
	}
	tok.Ty = tyInt
	return tok
}

// readEscape decodes one backslash escape sequence (including \uXXXX /
// \UXXXXXXXX universal character names) starting at the backslash.
func (lx *Lexer) readEscape() rune {
	lx.pos++ // backslash
	if lx.pos >= len(lx.src) {
		lx.errorAt("unterminated escape sequence")
	}
	c := lx.src[lx.pos]
	switch c {
	case 'a':
		lx.pos++
		return '\a'
	case 'b':
		lx.pos++
		return '\b'
	case 'f':
		lx.pos++
		return '\f'
	case 'n':
		lx.pos++
		return '\n'
	case 'r':
		lx.pos++
		return '\r'
	case 't':
		lx.pos++
		return '\t'
	case 'v':
		lx.pos++
		return '\v'
	case 'e':
		lx.pos++
		return 0x1b
	case '\\', '\'', '"', '?':
		lx.pos++
		return rune(c)
	case 'x':
		lx.pos++
		v := 0
		start := lx.pos
		for lx.pos < len(lx.src) && isHexDigit(lx.src[lx.pos]) {
			v = v*16 + hexVal(lx.src[lx.pos])
			lx.pos++
		}
		if lx.pos == start {
			lx.errorAt("\\x used with no following hex digits")
		}
		return rune(v)
	case 'u', 'U':
		n := 4
		if c == 'U' {
			n = 8
		}
		lx.pos++
		v := 0
		for i := 0; i < n; i++ {
			if lx.pos >= len(lx.src) || !isHexDigit(lx.src[lx.pos]) {
				lx.errorAt("invalid universal character name")
			}
			v = v*16 + hexVal(lx.src[lx.pos])
			lx.pos++
		}
		return rune(v)
	default:
		if c >= '0' && c <= '7' {
			v := 0
			for i := 0; i < 3 && lx.pos < len(lx.src) && lx.src[lx.pos] >= '0' && lx.src[lx.pos] <= '7'; i++ {
				v = v*8 + int(lx.src[lx.pos]-'0')
				lx.pos++
			}
			return rune(v)
		}
		lx.pos++
		return rune(c)
	}
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}

// convertPPTokens runs convertPPNumber over a whole list and reclassifies
// identifiers that collide with keywords, exactly mirroring the two-pass
// design called out in §4.2.
func convertPPTokens(tok *Token) {
	for t := tok; t != nil; t = t.Next {
		if t.Kind == TokenPPNumber {
			convertPPNumber(t)
		}
		if t.Kind == TokenIdent && keywords[t.Text] {
			t.Kind = TokenKeyword
		}
	}
}

// JoinAdjacentStrings implements §4.3's post-preprocessing string-literal
// concatenation: runs of adjacent TokenString tokens are merged into one,
// widening narrow members to match any wide member present.
func JoinAdjacentStrings(tok *Token) *Token {
	var head Token
	cur := &head
	for t := tok; t != nil; {
		if t.Kind != TokenString {
			cur.Next = t
			cur = t
			t = t.Next
			continue
		}
		run := t
		end := t.Next
		widest := t.Ty.Base
		for end != nil && end.Kind == TokenString {
			if end.Ty.Base.Size > widest.Size {
				widest = end.Ty.Base
			}
			end = end.Next
		}
		merged := mergeStringRun(run, end, widest)
		cur.Next = merged
		cur = merged
		t = end
	}
	return head.Next
}

func mergeStringRun(run, end *Token, widest *Type) *Token {
	if run.Next == end {
		return run
	}
	var data []byte
	for t := run; t != end; t = t.Next {
		body := t.Str[:len(t.Str)-1] // drop this member's own NUL
		if widest.Size == 1 {
			data = append(data, body...)
		} else {
			for i := 0; i < len(body); i += int(run.Ty.Base.Size) {
				data = append(data, body[i:i+int(widest.Size)]...)
			}
		}
	}
	for i := int64(0); i < widest.Size; i++ {
		data = append(data, 0)
	}
	out := *run
	out.Str = data
	out.Ty = arrayOf(widest, len(data), nil)
	out.Next = end
	return &out
}
