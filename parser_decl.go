package dyc

// declspec parses a sequence of type-specifiers/qualifiers/storage-class
// keywords into a Type, matching dyibicc's declspec(): it counts
// occurrences of each base-type keyword (so "unsigned long long int" and
// "long long unsigned int" both resolve) rather than matching fixed
// keyword orderings.
type declAttrs struct {
	isTypedef bool
	isStatic  bool
	isExtern  bool
	isInline  bool
	isTLS     bool
}

const (
	specVoid = 1 << (iota * 2)
	specBool
	specChar
	specShort
	specInt
	specLong
	specFloat
	specDouble
	specOther
	specSigned
	specUnsigned
)

func (p *parser) declspec(attrs *declAttrs) *Type {
	var ty *Type
	counter := 0

	for p.isTypename(p.tok) {
		if tok := p.tok; tok.is("typedef") || tok.is("static") || tok.is("extern") ||
			tok.is("inline") || tok.is("__inline") || tok.is("__inline__") ||
			tok.is("_Thread_local") || tok.is("__thread") {
			if attrs == nil {
				panic(&ParseError{Tok: tok, Msg: "storage-class specifier not allowed here"})
			}
			switch {
			case tok.is("typedef"):
				attrs.isTypedef = true
			case tok.is("static"):
				attrs.isStatic = true
			case tok.is("extern"):
				attrs.isExtern = true
			case tok.is("inline"), tok.is("__inline"), tok.is("__inline__"):
				attrs.isInline = true
			default:
				attrs.isTLS = true
			}
			p.tok = p.tok.Next
			continue
		}
		if p.tok.is("const") || p.tok.is("volatile") || p.tok.is("auto") ||
			p.tok.is("register") || p.tok.is("restrict") || p.tok.is("__restrict") ||
			p.tok.is("__restrict__") || p.tok.is("_Noreturn") || p.tok.is("__extension__") {
			p.tok = p.tok.Next
			continue
		}
		if p.tok.is("_Atomic") {
			p.tok = p.tok.Next
			if Equal(p.tok, "(") {
				p.tok = p.tok.Next
				ty = p.typename()
				p.tok = Skip(p.tok, ")")
			}
			continue
		}
		if p.tok.is("__attribute__") {
			p.skipAttribute()
			continue
		}
		if p.tok.is("struct") {
			ty = p.structDecl()
			counter += specOther
			continue
		}
		if p.tok.is("union") {
			ty = p.unionDecl()
			counter += specOther
			continue
		}
		if p.tok.is("enum") {
			ty = p.enumSpecifier()
			counter += specOther
			continue
		}
		if p.tok.is("typeof") {
			ty = p.typeofSpecifier()
			counter += specOther
			continue
		}
		if sc := p.scope.findVar(p.tok.Text); p.tok.Kind == TokenIdent && sc != nil && sc.Typedef != nil && counter == 0 {
			ty = sc.Typedef
			p.tok = p.tok.Next
			counter += specOther
			continue
		}

		switch p.tok.Text {
		case "void":
			counter += specVoid
		case "_Bool":
			counter += specBool
		case "char":
			counter += specChar
		case "short":
			counter += specShort
		case "int":
			counter += specInt
		case "long":
			counter += specLong
		case "float":
			counter += specFloat
		case "double":
			counter += specDouble
		case "signed":
			counter += specSigned
		case "unsigned":
			counter += specUnsigned
		default:
			unreachable("parser_decl.go", 0, "unhandled typename keyword "+p.tok.Text)
		}
		p.tok = p.tok.Next

		ty = p.resolveBaseType(counter)
	}

	if ty == nil {
		ty = tyInt
	}
	return ty
}

func (p *parser) resolveBaseType(counter int) *Type {
	switch counter {
	case specVoid:
		return tyVoid
	case specBool:
		return tyBool
	case specChar, specSigned + specChar:
		return tyChar
	case specUnsigned + specChar:
		return tyUChar
	case specShort, specShort + specInt, specSigned + specShort, specSigned + specShort + specInt:
		return tyShort
	case specUnsigned + specShort, specUnsigned + specShort + specInt:
		return tyUShort
	case specInt, specSigned, specSigned + specInt, 0:
		return tyInt
	case specUnsigned, specUnsigned + specInt:
		return tyUInt
	case specLong, specLong + specInt, specLong + specLong, specLong + specLong + specInt,
		specSigned + specLong, specSigned + specLong + specInt:
		return p.longType()
	case specUnsigned + specLong, specUnsigned + specLong + specInt,
		specUnsigned + specLong + specLong, specUnsigned + specLong + specLong + specInt:
		return p.uLongType()
	case specFloat:
		return tyFloat
	case specDouble:
		return tyDouble
	case specLong + specDouble:
		return ldoubleTypeForABI(p.ctx.ABI)
	default:
		panic(&TypeError{Tok: p.tok, Msg: "invalid type specifier combination"})
	}
}

func (p *parser) longType() *Type {
	if longSizeForABI(p.ctx.ABI) == 4 {
		return &Type{Kind: TyLong, Size: 4, Align: 4}
	}
	return tyLong
}

func (p *parser) uLongType() *Type {
	if longSizeForABI(p.ctx.ABI) == 4 {
		return &Type{Kind: TyLong, Size: 4, Align: 4, IsUnsigned: true}
	}
	return tyULong
}

// skipAttribute consumes __attribute__((...)) as a balanced-paren no-op,
// matching the lexer's similar handling of __declspec/__pragma (§4.2).
func (p *parser) skipAttribute() {
	p.tok = p.tok.Next
	p.tok = Skip(p.tok, "(")
	p.tok = Skip(p.tok, "(")
	depth := 1
	for depth > 0 {
		if Equal(p.tok, "(") {
			depth++
		} else if Equal(p.tok, ")") {
			depth--
		}
		p.tok = p.tok.Next
	}
}

func (p *parser) isTypename(tok *Token) bool {
	switch tok.Text {
	case "void", "_Bool", "char", "short", "int", "long", "float", "double",
		"struct", "union", "enum", "typedef", "static", "extern", "inline",
		"__inline", "__inline__", "_Thread_local", "__thread", "const",
		"volatile", "auto", "register", "restrict", "__restrict", "__restrict__",
		"_Noreturn", "_Atomic", "signed", "unsigned", "typeof", "__attribute__",
		"__extension__":
		return true
	}
	if tok.Kind != TokenIdent {
		return false
	}
	sc := p.scope.findVar(tok.Text)
	return sc != nil && sc.Typedef != nil
}

// declarator parses one declarator: pointer* direct-declarator, matching
// dyibicc's declarator()/type_suffix() pair (§4.5).
func (p *parser) declarator(base *Type) *Type {
	ty := base
	for Consume(&p.tok, p.tok, "*") {
		ty = pointerTo(ty)
		for p.tok.is("const") || p.tok.is("volatile") || p.tok.is("restrict") ||
			p.tok.is("__restrict") || p.tok.is("__restrict__") {
			p.tok = p.tok.Next
		}
	}
	if Equal(p.tok, "(") {
		start := p.tok
		p.tok = start.Next
		dummy := &Type{}
		p.declarator(dummy)
		p.tok = Skip(p.tok, ")")
		ty = p.typeSuffix(ty)
		end := p.tok
		p.tok = start.Next
		ty = p.declarator2(dummy, ty)
		p.tok = end
		return ty
	}
	name := (*Token)(nil)
	namePos := p.tok
	if p.tok.Kind == TokenIdent {
		name = p.tok
		p.tok = p.tok.Next
	}
	ty = p.typeSuffix(ty)
	ty.Name = name
	ty.NamePos = namePos
	return ty
}

// declarator2 fills in the nested declarator parsed behind a parenthesized
// group once the outer suffix type is known, mirroring dyibicc's two-pass
// handling of "(*fp)[3]"-style declarators.
func (p *parser) declarator2(dummyBase *Type, ty *Type) *Type {
	return p.declaratorInto(ty)
}

func (p *parser) declaratorInto(base *Type) *Type {
	ty := base
	for Consume(&p.tok, p.tok, "*") {
		ty = pointerTo(ty)
		for p.tok.is("const") || p.tok.is("volatile") || p.tok.is("restrict") {
			p.tok = p.tok.Next
		}
	}
	if Equal(p.tok, "(") {
		p.tok = p.tok.Next
		inner := p.declaratorInto(&Type{})
		p.tok = Skip(p.tok, ")")
		outer := p.typeSuffix(ty)
		return substituteInnermost(inner, outer)
	}
	name := (*Token)(nil)
	namePos := p.tok
	if p.tok.Kind == TokenIdent {
		name = p.tok
		p.tok = p.tok.Next
	}
	ty = p.typeSuffix(ty)
	ty.Name = name
	ty.NamePos = namePos
	return ty
}

// substituteInnermost walks to the innermost Base of a placeholder type
// chain built by declaratorInto and splices in the real base type, giving
// "pointer to array" vs "array of pointer" its correct nesting for
// parenthesized declarators like (*fp)[3] or (*a)(int).
func substituteInnermost(placeholder, base *Type) *Type {
	if placeholder.Base == nil {
		cp := *base
		cp.Name = placeholder.Name
		cp.NamePos = placeholder.NamePos
		return &cp
	}
	cp := *placeholder
	cp.Base = substituteInnermost(placeholder.Base, base)
	return &cp
}

func (p *parser) typeSuffix(ty *Type) *Type {
	if Equal(p.tok, "(") {
		return p.funcParams(ty)
	}
	if Equal(p.tok, "[") {
		return p.arrayDimensions(ty)
	}
	return ty
}

func (p *parser) funcParams(ty *Type) *Type {
	p.tok = p.tok.Next
	ft := funcType(ty)
	if Equal(p.tok, "void") && Equal(p.tok.Next, ")") {
		p.tok = p.tok.Next.Next
		return ft
	}
	for !Equal(p.tok, ")") {
		if len(ft.Params) > 0 {
			p.tok = Skip(p.tok, ",")
		}
		if Equal(p.tok, "...") {
			ft.IsVariadic = true
			p.tok = p.tok.Next
			break
		}
		pty := p.declspec(nil)
		pty = p.declarator(pty)
		if pty.Kind == TyArray {
			// array parameters decay to pointer (C11 6.7.6.3p7).
			base := pty.Base
			name, namePos := pty.Name, pty.NamePos
			pty = pointerTo(base)
			pty.Name, pty.NamePos = name, namePos
		}
		if pty.Kind == TyFunc {
			name, namePos := pty.Name, pty.NamePos
			pty = pointerTo(pty)
			pty.Name, pty.NamePos = name, namePos
		}
		ft.Params = append(ft.Params, pty)
		name := ""
		if pty.Name != nil {
			name = pty.Name.Text
		}
		ft.ParamNames = append(ft.ParamNames, name)
	}
	p.tok = Skip(p.tok, ")")
	return ft
}

func (p *parser) arrayDimensions(ty *Type) *Type {
	for p.tok.is("static") || p.tok.is("const") {
		p.tok = p.tok.Next
	}
	p.tok = Skip(p.tok, "[")
	if Equal(p.tok, "]") {
		p.tok = p.tok.Next
		base := p.typeSuffix(ty)
		return arrayOf(base, -1, p.tok)
	}
	// A non-constant bound makes this a VLA (§3, §4.5's Open Question
	// resolution — VLAs are supported for locals, sized at runtime).
	start := p.tok
	if !p.isConstExprStart(p.tok) {
		lenExpr := p.assign()
		p.tok = Skip(p.tok, "]")
		base := p.typeSuffix(ty)
		return vlaOf(base, lenExpr)
	}
	n := p.constExpr()
	p.tok = Skip(p.tok, "]")
	base := p.typeSuffix(ty)
	if n < 0 {
		panic(&ParseError{Tok: start, Msg: "array bound must not be negative"})
	}
	return arrayOf(base, int(n), start)
}

// isConstExprStart is a best-effort guard: dyc treats an array bound as a
// VLA unless it can fold to a constant without referencing a variable.
// It reports true when every token up to the first ']' is a number, a
// punctuator, or an enum constant in scope; any other token (a variable,
// a keyword such as sizeof, a string) sends arrayDimensions down the VLA
// path via assign().
func (p *parser) isConstExprStart(tok *Token) bool {
	for t := tok; t != nil && t.Kind != TokenEOF; t = t.Next {
		if Equal(t, "]") {
			return true
		}
		if t.Kind == TokenIdent {
			if e := p.scope.findVar(t.Text); e == nil || e.EnumTy == nil {
				return false
			}
		} else if t.Kind != TokenNumber && t.Kind != TokenPunct {
			return false
		}
	}
	return false
}

// constExpr folds a constant-expression token range starting at p.tok,
// using the scope's enum constants as its identifier table (enumerators
// are the one identifier kind pp_const_expr needs beyond literals).
func (p *parser) constExpr() int64 {
	v, rest := p.evalConstExprWithEnums(p.tok)
	p.tok = rest
	return v
}

func (p *parser) typename() *Type {
	ty := p.declspec(nil)
	return p.abstractDeclarator(ty)
}

func (p *parser) abstractDeclarator(base *Type) *Type {
	ty := base
	for Consume(&p.tok, p.tok, "*") {
		ty = pointerTo(ty)
		for p.tok.is("const") || p.tok.is("volatile") {
			p.tok = p.tok.Next
		}
	}
	if Equal(p.tok, "(") {
		start := p.tok
		p.tok = start.Next
		p.abstractDeclarator(&Type{})
		p.tok = Skip(p.tok, ")")
		outer := p.typeSuffix(ty)
		end := p.tok
		p.tok = start.Next
		inner := p.abstractDeclaratorInner(&Type{})
		p.tok = end
		return substituteInnermost(inner, outer)
	}
	return p.typeSuffix(ty)
}

func (p *parser) abstractDeclaratorInner(base *Type) *Type {
	ty := base
	for Consume(&p.tok, p.tok, "*") {
		ty = pointerTo(ty)
	}
	if Equal(p.tok, "(") {
		p.tok = p.tok.Next
		inner := p.abstractDeclaratorInner(&Type{})
		p.tok = Skip(p.tok, ")")
		outer := p.typeSuffix(ty)
		return substituteInnermost(inner, outer)
	}
	return p.typeSuffix(ty)
}

// structUnionCommon / structMembers implement §4.4's layout rules atop
// the declspec/declarator machinery above, including bitfields.
func (p *parser) structUnionCommon(isUnion bool) *Type {
	p.tok = p.tok.Next // 'struct' / 'union'
	for p.tok.is("__attribute__") {
		p.skipAttribute()
	}
	var tag *Token
	if p.tok.Kind == TokenIdent {
		tag = p.tok
		p.tok = p.tok.Next
	}
	if tag != nil && !Equal(p.tok, "{") {
		entry := p.scope.findTag(tag.Text)
		if entry != nil {
			return entry.Ty
		}
		ty := structType()
		if isUnion {
			ty.Kind = TyUnion
		}
		ty.Size = -1
		p.scope.Tags.Put(tag.Text, &TagScopeEntry{Ty: ty})
		return ty
	}
	p.tok = Skip(p.tok, "{")
	ty := structType()
	if isUnion {
		ty.Kind = TyUnion
	}
	p.structMembers(ty)
	if isUnion {
		layoutUnion(ty)
	} else {
		layoutStruct(ty)
	}
	if tag != nil {
		p.scope.Tags.Put(tag.Text, &TagScopeEntry{Ty: ty})
	}
	return ty
}

func (p *parser) structDecl() *Type { return p.structUnionCommon(false) }
func (p *parser) unionDecl() *Type  { return p.structUnionCommon(true) }

func (p *parser) structMembers(ty *Type) {
	idx := 0
	for !Equal(p.tok, "}") {
		if p.tok.is("_Static_assert") {
			p.staticAssertion()
			continue
		}
		if p.tok.is("__attribute__") {
			p.skipAttribute()
			continue
		}
		base := p.declspec(nil)
		first := true
		for !Consume(&p.tok, p.tok, ";") {
			if !first {
				p.tok = Skip(p.tok, ",")
			}
			first = false
			mty := p.declarator(base)
			m := &Member{Ty: mty, Tok: mty.Name, Idx: idx}
			idx++
			if mty.Name != nil {
				m.Name = mty.Name.Text
			}
			if Equal(p.tok, ":") {
				p.tok = p.tok.Next
				m.IsBitfield = true
				m.BitWidth = p.constExpr()
			}
			if mty.Kind == TyArray && mty.ArrayLen < 0 && p.tok.Next != nil && Equal(p.tok, ";") && Equal(p.tok.Next, "}") {
				ty.IsFlexible = true
			}
			ty.Members = append(ty.Members, m)
		}
	}
	p.tok = p.tok.Next
}

func (p *parser) staticAssertion() {
	p.tok = p.tok.Next
	p.tok = Skip(p.tok, "(")
	val := p.constExpr()
	msg := ""
	if Consume(&p.tok, p.tok, ",") {
		if p.tok.Kind == TokenString {
			msg = string(p.tok.Str[:len(p.tok.Str)-1])
			p.tok = p.tok.Next
		}
	}
	p.tok = Skip(p.tok, ")")
	p.tok = Skip(p.tok, ";")
	if val == 0 {
		panic(&TypeError{Tok: p.tok, Msg: "static assertion failed: " + msg})
	}
}

func (p *parser) enumSpecifier() *Type {
	p.tok = p.tok.Next
	var tag *Token
	if p.tok.Kind == TokenIdent {
		tag = p.tok
		p.tok = p.tok.Next
	}
	if tag != nil && !Equal(p.tok, "{") {
		entry := p.scope.findTag(tag.Text)
		if entry == nil {
			panic(&TypeError{Tok: tag, Msg: "unknown enum type"})
		}
		if entry.Ty.Kind != TyEnum {
			panic(&TypeError{Tok: tag, Msg: "not an enum tag"})
		}
		return entry.Ty
	}
	p.tok = Skip(p.tok, "{")
	ty := enumType()
	var val int64
	first := true
	for !Equal(p.tok, "}") {
		if !first {
			p.tok = Skip(p.tok, ",")
		}
		first = false
		if Equal(p.tok, "}") {
			break
		}
		name := p.tok
		p.tok = p.tok.Next
		if Consume(&p.tok, p.tok, "=") {
			val = p.constExpr()
		}
		p.scope.Vars.Put(name.Text, &VarScopeEntry{EnumTy: ty, EnumVal: val})
		val++
	}
	p.tok = Skip(p.tok, "}")
	if tag != nil {
		p.scope.Tags.Put(tag.Text, &TagScopeEntry{Ty: ty})
	}
	return ty
}

func (p *parser) typeofSpecifier() *Type {
	p.tok = p.tok.Next
	p.tok = Skip(p.tok, "(")
	var ty *Type
	if p.isTypename(p.tok) {
		ty = p.typename()
	} else {
		n := p.expr()
		ty = n.Ty
	}
	p.tok = Skip(p.tok, ")")
	return ty
}

// evalConstExprWithEnums extends the preprocessor's constant evaluator with
// enum-constant identifier lookups, which only make sense once a Scope
// exists (the preprocessor's own #if evaluator has no scope at all).
func (p *parser) evalConstExprWithEnums(tok *Token) (int64, *Token) {
	ce := &constEval{ctx: p.ctx, lookupIdent: func(name string) (int64, bool) {
		if e := p.scope.findVar(name); e != nil && e.EnumTy != nil {
			return e.EnumVal, true
		}
		return 0, false
	}}
	return ce.conditional(tok)
}
