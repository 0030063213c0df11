package dyc

import "modernc.org/mathutil"

// evalConstExpr evaluates a constant-expression token list per C11's
// constant-expression grammar restricted to the operators preprocessing
// directives and array bounds/enumerators/bitfield widths actually need
// (§4.3, §4.5): the ternary/logical/bitwise/relational/additive/
// multiplicative chain down to casts/unary/primary. sizeof and _Alignof
// have no case here, so they are not folded. It returns the value and
// whatever token follows the expression (normally the sentinel EOF
// appended by the caller).
func (ctx *Context) evalConstExpr(tok *Token) (int64, *Token) {
	ce := &constEval{ctx: ctx}
	v, rest := ce.conditional(tok)
	return v, rest
}

type constEval struct {
	ctx *Context
	// lookupIdent resolves a bare identifier to an enum-constant value; nil
	// in preprocessor (#if) context, where identifiers are already folded
	// to 0 by the caller before reaching here.
	lookupIdent func(name string) (int64, bool)
}

func (ce *constEval) conditional(tok *Token) (int64, *Token) {
	cond, rest := ce.logOr(tok)
	if !Equal(rest, "?") {
		return cond, rest
	}
	then, rest2 := ce.conditional(rest.Next)
	rest2 = Skip(rest2, ":")
	els, rest3 := ce.conditional(rest2)
	if cond != 0 {
		return then, rest3
	}
	return els, rest3
}

func (ce *constEval) logOr(tok *Token) (int64, *Token) {
	v, rest := ce.logAnd(tok)
	for Equal(rest, "||") {
		rhs, r := ce.logAnd(rest.Next)
		v = boolInt(v != 0 || rhs != 0)
		rest = r
	}
	return v, rest
}

func (ce *constEval) logAnd(tok *Token) (int64, *Token) {
	v, rest := ce.bitOr(tok)
	for Equal(rest, "&&") {
		rhs, r := ce.bitOr(rest.Next)
		v = boolInt(v != 0 && rhs != 0)
		rest = r
	}
	return v, rest
}

func (ce *constEval) bitOr(tok *Token) (int64, *Token) {
	v, rest := ce.bitXor(tok)
	for Equal(rest, "|") {
		rhs, r := ce.bitXor(rest.Next)
		v |= rhs
		rest = r
	}
	return v, rest
}

func (ce *constEval) bitXor(tok *Token) (int64, *Token) {
	v, rest := ce.bitAnd(tok)
	for Equal(rest, "^") {
		rhs, r := ce.bitAnd(rest.Next)
		v ^= rhs
		rest = r
	}
	return v, rest
}

func (ce *constEval) bitAnd(tok *Token) (int64, *Token) {
	v, rest := ce.equality(tok)
	for Equal(rest, "&") {
		rhs, r := ce.equality(rest.Next)
		v &= rhs
		rest = r
	}
	return v, rest
}

func (ce *constEval) equality(tok *Token) (int64, *Token) {
	v, rest := ce.relational(tok)
	for {
		switch {
		case Equal(rest, "=="):
			rhs, r := ce.relational(rest.Next)
			v, rest = boolInt(v == rhs), r
		case Equal(rest, "!="):
			rhs, r := ce.relational(rest.Next)
			v, rest = boolInt(v != rhs), r
		default:
			return v, rest
		}
	}
}

func (ce *constEval) relational(tok *Token) (int64, *Token) {
	v, rest := ce.shift(tok)
	for {
		switch {
		case Equal(rest, "<"):
			rhs, r := ce.shift(rest.Next)
			v, rest = boolInt(v < rhs), r
		case Equal(rest, "<="):
			rhs, r := ce.shift(rest.Next)
			v, rest = boolInt(v <= rhs), r
		case Equal(rest, ">"):
			rhs, r := ce.shift(rest.Next)
			v, rest = boolInt(v > rhs), r
		case Equal(rest, ">="):
			rhs, r := ce.shift(rest.Next)
			v, rest = boolInt(v >= rhs), r
		default:
			return v, rest
		}
	}
}

func (ce *constEval) shift(tok *Token) (int64, *Token) {
	v, rest := ce.additive(tok)
	for {
		switch {
		case Equal(rest, "<<"):
			rhs, r := ce.additive(rest.Next)
			v, rest = v<<uint(mathutil.Clamp(int(rhs), 0, 63)), r
		case Equal(rest, ">>"):
			rhs, r := ce.additive(rest.Next)
			v, rest = v>>uint(mathutil.Clamp(int(rhs), 0, 63)), r
		default:
			return v, rest
		}
	}
}

func (ce *constEval) additive(tok *Token) (int64, *Token) {
	v, rest := ce.multiplicative(tok)
	for {
		switch {
		case Equal(rest, "+"):
			rhs, r := ce.multiplicative(rest.Next)
			v, rest = v+rhs, r
		case Equal(rest, "-"):
			rhs, r := ce.multiplicative(rest.Next)
			v, rest = v-rhs, r
		default:
			return v, rest
		}
	}
}

func (ce *constEval) multiplicative(tok *Token) (int64, *Token) {
	v, rest := ce.cast(tok)
	for {
		switch {
		case Equal(rest, "*"):
			rhs, r := ce.cast(rest.Next)
			v, rest = v*rhs, r
		case Equal(rest, "/"):
			rhs, r := ce.cast(rest.Next)
			if rhs == 0 {
				panic(&ConstEvalError{Tok: rest, Msg: "division by zero in constant expression"})
			}
			v, rest = v/rhs, r
		case Equal(rest, "%"):
			rhs, r := ce.cast(rest.Next)
			if rhs == 0 {
				panic(&ConstEvalError{Tok: rest, Msg: "division by zero in constant expression"})
			}
			v, rest = v%rhs, r
		default:
			return v, rest
		}
	}
}

// cast handles a restricted cast-expression: only casts to an integer type
// named by a single keyword token are recognized (sufficient for #if and
// for the enumerator/bitfield-width contexts that reach this evaluator;
// arbitrary type-names are a parser concern, not a preprocessor one).
func (ce *constEval) cast(tok *Token) (int64, *Token) {
	if Equal(tok, "(") && isBuiltinTypeKeyword(tok.Next) && Equal(tok.Next.Next, ")") {
		v, rest := ce.cast(tok.Next.Next.Next)
		return maskToIntegerKeyword(tok.Next, v), rest
	}
	return ce.unary(tok)
}

func isBuiltinTypeKeyword(tok *Token) bool {
	if tok == nil {
		return false
	}
	switch tok.Text {
	case "int", "unsigned", "long", "short", "char", "_Bool":
		return true
	}
	return false
}

func maskToIntegerKeyword(tok *Token, v int64) int64 {
	switch tok.Text {
	case "char":
		return int64(int8(v))
	case "short":
		return int64(int16(v))
	case "int":
		return int64(int32(v))
	case "unsigned":
		return int64(uint32(v))
	case "_Bool":
		return boolInt(v != 0)
	default:
		return v
	}
}

func (ce *constEval) unary(tok *Token) (int64, *Token) {
	switch {
	case Equal(tok, "+"):
		return ce.cast(tok.Next)
	case Equal(tok, "-"):
		v, rest := ce.cast(tok.Next)
		return -v, rest
	case Equal(tok, "!"):
		v, rest := ce.cast(tok.Next)
		return boolInt(v == 0), rest
	case Equal(tok, "~"):
		v, rest := ce.cast(tok.Next)
		return ^v, rest
	}
	return ce.primary(tok)
}

func (ce *constEval) primary(tok *Token) (int64, *Token) {
	if Equal(tok, "(") {
		v, rest := ce.conditional(tok.Next)
		rest = Skip(rest, ")")
		return v, rest
	}
	if tok.Kind == TokenNumber {
		return tok.IntVal, tok.Next
	}
	if tok.Kind == TokenIdent {
		if ce.lookupIdent != nil {
			if v, ok := ce.lookupIdent(tok.Text); ok {
				return v, tok.Next
			}
		}
		// Bare identifiers reaching here (after defined()/macro expansion,
		// with no enum match) are replaced with 0 per C11 6.10.1p4.
		return 0, tok.Next
	}
	panic(&ConstEvalError{Tok: tok, Msg: "expected a constant expression"})
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
