package dyc

// translationUnit is one source file's parse result: the functions and
// globals it defines, in declaration order (§3's Obj linked list,
// flattened to a slice since Go doesn't need the manual free-list
// discipline dyibicc's arena gives the C version).
type translationUnit struct {
	File    *File
	Globals []*Obj
}

// parser holds the state threaded through one translation unit's parse,
// the Go analogue of dyibicc's scattered compiler_state.parse__* globals
// (§4.5): current token, current scope chain, the function being parsed,
// and the goto/label lists resolved once the function body is complete.
type parser struct {
	ctx   *Context
	tok   *Token
	scope *Scope

	globals []*Obj

	currentFn *Obj
	fnParams  []*Obj
	labels    []*Node // goto-label targets in the current function
	gotos     []*Node
	tempCount int

	breakTarget    *Node // enclosing for/while/do/switch node, or nil
	continueTarget *Node // enclosing for/while/do node, or nil
	switchNode     *Node
}

// parseProgram is the parser's entry point: a sequence of top-level
// declarations (§4.5), each either a function definition or one or more
// global variable declarations sharing a declspec.
func (ctx *Context) parseProgram(tok *Token) *translationUnit {
	p := &parser{ctx: ctx, tok: tok, scope: newScope(nil)}
	file := (*File)(nil)
	if tok != nil {
		file = tok.File
	}

	for !p.tok.IsEOF() {
		if p.tok.is("typedef") {
			p.typedefDecl()
			continue
		}
		if p.tok.is("_Static_assert") {
			p.staticAssertion()
			continue
		}
		var attrs declAttrs
		base := p.declspec(&attrs)
		if p.isFuncDefinition(base) {
			p.funcDefinition(base, &attrs)
			continue
		}
		p.globalVarDecl(base, &attrs)
	}

	return &translationUnit{File: file, Globals: p.globals}
}

func (p *parser) typedefDecl() {
	var attrs declAttrs
	attrs.isTypedef = true
	base := p.declspec(&attrs)
	first := true
	for !Consume(&p.tok, p.tok, ";") {
		if !first {
			p.tok = Skip(p.tok, ",")
		}
		first = false
		ty := p.declarator(base)
		if ty.Name == nil {
			panic(&ParseError{Tok: p.tok, Msg: "typedef name omitted"})
		}
		p.scope.Vars.Put(ty.Name.Text, &VarScopeEntry{Typedef: ty})
	}
}

// isFuncDefinition looks ahead past one declarator to see whether a '{'
// follows (a function body) vs ';'/',' (a declaration), without consuming
// tokens — dyibicc's is_function does the same lookahead.
func (p *parser) isFuncDefinition(base *Type) bool {
	if Equal(p.tok, ";") {
		return false
	}
	save := p.tok
	ty := p.declarator(base)
	isFunc := ty.Kind == TyFunc && Equal(p.tok, "{")
	p.tok = save
	return isFunc
}

func (p *parser) funcDefinition(base *Type, attrs *declAttrs) {
	ty := p.declarator(base)
	fn := &Obj{Name: ty.Name.Text, Ty: ty, Tok: ty.Name, IsFunction: true, IsDefinition: true}
	fn.IsStatic = attrs.isStatic
	fn.IsInline = attrs.isInline
	fn.IsRoot = !fn.IsStatic
	p.scope.Vars.Put(fn.Name, &VarScopeEntry{Obj: fn})

	p.currentFn = fn
	p.scope = newScope(p.scope)
	for i, pty := range ty.Params {
		name := ty.ParamNames[i]
		if name == "" {
			panic(&ParseError{Tok: ty.Name, Msg: "parameter name omitted"})
		}
		param := &Obj{Name: name, Ty: pty, IsLocal: true}
		fn.Params = append(fn.Params, param)
		p.scope.Vars.Put(name, &VarScopeEntry{Obj: param})
	}
	if ty.IsVariadic {
		fn.VaArea = &Obj{Name: "__va_area__", Ty: arrayOf(tyChar, 136, nil), IsLocal: true}
	}

	p.tok = Skip(p.tok, "{")
	fn.Body = p.compoundStmtBody()
	fn.Locals = p.collectLocals()
	p.resolveGotos()
	p.scope = p.scope.Parent
	p.globals = append(p.globals, fn)
	p.currentFn = nil
	p.labels = nil
	p.gotos = nil
}

// collectLocals is a placeholder hook: locals are appended directly to
// currentFn.Locals as they're declared (see newLocalVar), so by the time
// the function body is fully parsed fn.Locals already holds them in
// declaration order and this just returns what's there.
func (p *parser) collectLocals() []*Obj {
	return p.currentFn.Locals
}

func (p *parser) globalVarDecl(base *Type, attrs *declAttrs) {
	first := true
	for !Consume(&p.tok, p.tok, ";") {
		if !first {
			p.tok = Skip(p.tok, ",")
		}
		first = false
		ty := p.declarator(base)
		if ty.Name == nil {
			panic(&ParseError{Tok: p.tok, Msg: "variable name omitted"})
		}
		g := &Obj{Name: ty.Name.Text, Ty: ty, Tok: ty.Name}
		g.IsStatic = attrs.isStatic
		g.IsTLS = attrs.isTLS
		g.IsRoot = !g.IsStatic
		if attrs.isExtern {
			g.IsDefinition = false
		} else {
			g.IsDefinition = true
			g.IsTentative = true
		}
		p.scope.Vars.Put(g.Name, &VarScopeEntry{Obj: g})
		if Equal(p.tok, "=") {
			p.tok = p.tok.Next
			g.IsTentative = false
			p.globalVarInitializer(g)
		}
		p.globals = append(p.globals, g)
	}
}

func (p *parser) newLocalVar(name string, ty *Type) *Obj {
	obj := &Obj{Name: name, Ty: ty, IsLocal: true}
	p.scope.Vars.Put(name, &VarScopeEntry{Obj: obj})
	p.currentFn.Locals = append(p.currentFn.Locals, obj)
	return obj
}

func (ctx *Context) tempName() string {
	ctx.tempCounter++
	return ".L.compoundlit"
}

func (p *parser) newStringLiteral(data []byte, ty *Type) *Obj {
	name := p.ctx.nextStringLabel()
	obj := &Obj{Name: name, Ty: ty, IsDefinition: true, IsStatic: true, IsRodata: true, InitData: append([]byte{}, data...)}
	p.globals = append(p.globals, obj)
	return obj
}

func (ctx *Context) nextStringLabel() string {
	ctx.tempCounter++
	return ".L..str" + itoa(ctx.tempCounter)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
