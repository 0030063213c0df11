package dyc

// compoundStmtBody parses statements up to (and consuming) the closing
// '}', returning them as a Node chain linked via Next — dyibicc's
// compound_stmt. A fresh Scope is pushed so block-local declarations and
// labels don't leak to the caller.
func (p *parser) compoundStmtBody() *Node {
	p.scope = newScope(p.scope)
	defer func() { p.scope = p.scope.Parent }()

	var head Node
	cur := &head
	for !Equal(p.tok, "}") {
		var n *Node
		if p.tok.is("typedef") {
			p.typedefDecl()
			continue
		}
		if p.isTypename(p.tok) {
			n = p.declarationStmt()
		} else {
			n = p.stmt()
		}
		p.addType(n)
		cur.Next = n
		cur = n
	}
	p.tok = p.tok.Next // '}'
	return head.Next
}

// declarationStmt parses a block-scope declaration (§4.5): declspec
// followed by zero or more declarator[=initializer] pairs, desugared into
// one NdBlock node whose Body chains an assignment per initialized local.
func (p *parser) declarationStmt() *Node {
	tok := p.tok
	var attrs declAttrs
	base := p.declspec(&attrs)
	var head Node
	cur := &head
	first := true
	for !Equal(p.tok, ";") {
		if !first {
			p.tok = Skip(p.tok, ",")
		}
		first = false
		ty := p.declarator(base)
		if ty.Kind == TyVoid {
			panic(&TypeError{Tok: p.tok, Msg: "variable declared void"})
		}
		if ty.Name == nil {
			panic(&ParseError{Tok: p.tok, Msg: "variable name omitted"})
		}
		if attrs.isStatic {
			g := &Obj{Name: p.ctx.staticLocalName(ty.Name.Text), Ty: ty, Tok: ty.Name, IsStatic: true, IsDefinition: true}
			p.scope.Vars.Put(ty.Name.Text, &VarScopeEntry{Obj: g})
			if Equal(p.tok, "=") {
				p.tok = p.tok.Next
				p.globalVarInitializer(g)
			} else {
				g.IsTentative = true
			}
			p.globals = append(p.globals, g)
			continue
		}
		if ty.Kind == TyVLA {
			p.registerVLA(ty)
		}
		obj := p.newLocalVar(ty.Name.Text, ty)
		if Equal(p.tok, "=") {
			p.tok = p.tok.Next
			init := p.initializer(ty)
			assign := p.localVarInitializer(obj, init, ty.Name)
			s := newUnary(NdExprStmt, assign, ty.Name)
			cur.Next = s
			cur = s
		}
	}
	p.tok = p.tok.Next // ';'
	n := newNode(NdBlock, tok)
	n.Body = head.Next
	return n
}

func (ctx *Context) staticLocalName(base string) string {
	ctx.tempCounter++
	return base + ".static." + itoa(ctx.tempCounter)
}

// registerVLA gives a VLA type's runtime-computed byte size somewhere to
// live (§4.5's Open Question resolution: VLAs are supported for locals).
func (p *parser) registerVLA(ty *Type) {
	size := &Obj{Name: ".vla.size", Ty: tyLong, IsLocal: true}
	p.currentFn.Locals = append(p.currentFn.Locals, size)
	ty.VLASize = size
}

func (p *parser) stmt() *Node {
	tok := p.tok
	switch {
	case Equal(tok, "{"):
		p.tok = tok.Next
		n := newNode(NdBlock, tok)
		n.Body = p.compoundStmtBody()
		return n
	case tok.is("if"):
		return p.ifStmt(tok)
	case tok.is("switch"):
		return p.switchStmt(tok)
	case tok.is("case"):
		return p.caseStmt(tok)
	case tok.is("default"):
		return p.defaultStmt(tok)
	case tok.is("for"):
		return p.forStmt(tok)
	case tok.is("while"):
		return p.whileStmt(tok)
	case tok.is("do"):
		return p.doStmt(tok)
	case tok.is("goto"):
		return p.gotoStmt(tok)
	case tok.is("break"):
		p.tok = tok.Next
		p.tok = Skip(p.tok, ";")
		if p.breakTarget == nil {
			panic(&ParseError{Tok: tok, Msg: "break statement not within a loop or switch"})
		}
		n := newNode(NdBreak, tok)
		n.Loop = p.breakTarget
		return n
	case tok.is("continue"):
		p.tok = tok.Next
		p.tok = Skip(p.tok, ";")
		if p.continueTarget == nil {
			panic(&ParseError{Tok: tok, Msg: "continue statement not within a loop"})
		}
		n := newNode(NdContinue, tok)
		n.Loop = p.continueTarget
		return n
	case tok.is("return"):
		return p.returnStmt(tok)
	case tok.is("asm"):
		return p.asmStmt(tok)
	case tok.Kind == TokenIdent && Equal(tok.Next, ":"):
		p.tok = tok.Next.Next
		n := newNode(NdLabel, tok)
		n.Label = tok.Text
		n.LHS = p.stmt()
		p.labels = append(p.labels, n)
		return n
	case Equal(tok, ";"):
		p.tok = tok.Next
		return newNode(NdBlock, tok)
	}
	return p.exprOnlyStmt()
}

func (p *parser) exprOnlyStmt() *Node {
	tok := p.tok
	n := newNode(NdExprStmt, tok)
	n.LHS = p.expr()
	p.tok = Skip(p.tok, ";")
	return n
}

func (p *parser) ifStmt(tok *Token) *Node {
	p.tok = tok.Next
	p.tok = Skip(p.tok, "(")
	n := newNode(NdIf, tok)
	n.Cond = p.expr()
	p.tok = Skip(p.tok, ")")
	n.Then = p.stmt()
	if p.tok.is("else") {
		p.tok = p.tok.Next
		n.Els = p.stmt()
	}
	return n
}

func (p *parser) whileStmt(tok *Token) *Node {
	p.tok = tok.Next
	p.tok = Skip(p.tok, "(")
	n := newNode(NdFor, tok)
	n.Cond = p.expr()
	p.tok = Skip(p.tok, ")")
	brk, cont := p.pushLoopTargets(n, n)
	n.Then = p.stmt()
	p.popLoopTargets(brk, cont)
	return n
}

func (p *parser) doStmt(tok *Token) *Node {
	p.tok = tok.Next
	n := newNode(NdDo, tok)
	brk, cont := p.pushLoopTargets(n, n)
	n.Then = p.stmt()
	p.popLoopTargets(brk, cont)
	p.tok = Skip(p.tok, "while")
	p.tok = Skip(p.tok, "(")
	n.Cond = p.expr()
	p.tok = Skip(p.tok, ")")
	p.tok = Skip(p.tok, ";")
	return n
}

func (p *parser) forStmt(tok *Token) *Node {
	p.tok = tok.Next
	p.tok = Skip(p.tok, "(")
	p.scope = newScope(p.scope)
	n := newNode(NdFor, tok)
	if p.isTypename(p.tok) {
		n.Init = p.declarationStmt()
	} else if !Equal(p.tok, ";") {
		n.Init = newUnary(NdExprStmt, p.expr(), p.tok)
		p.tok = Skip(p.tok, ";")
	} else {
		p.tok = p.tok.Next
	}
	if !Equal(p.tok, ";") {
		n.Cond = p.expr()
	}
	p.tok = Skip(p.tok, ";")
	if !Equal(p.tok, ")") {
		n.Inc = p.expr()
	}
	p.tok = Skip(p.tok, ")")
	brk, cont := p.pushLoopTargets(n, n)
	n.Then = p.stmt()
	p.popLoopTargets(brk, cont)
	p.scope = p.scope.Parent
	return n
}

func (p *parser) pushLoopTargets(brk, cont *Node) (prevBreak, prevCont *Node) {
	prevBreak, prevCont = p.breakTarget, p.continueTarget
	p.breakTarget, p.continueTarget = brk, cont
	return
}

func (p *parser) popLoopTargets(prevBreak, prevCont *Node) {
	p.breakTarget, p.continueTarget = prevBreak, prevCont
}

func (p *parser) switchStmt(tok *Token) *Node {
	p.tok = tok.Next
	p.tok = Skip(p.tok, "(")
	n := newNode(NdSwitch, tok)
	n.Cond = p.expr()
	p.tok = Skip(p.tok, ")")

	prevSwitch := p.switchNode
	prevBreak := p.breakTarget
	p.breakTarget = n
	p.switchNode = n

	n.Then = p.stmt()

	p.switchNode = prevSwitch
	p.breakTarget = prevBreak
	return n
}

func (p *parser) caseStmt(tok *Token) *Node {
	if p.switchNode == nil {
		panic(&ParseError{Tok: tok, Msg: "case label not within a switch statement"})
	}
	p.tok = tok.Next
	begin := p.constExpr()
	end := begin
	if p.tok.is("...") {
		// GNU/dyibicc case-range extension: "case lo ... hi:".
		p.tok = p.tok.Next
		end = p.constExpr()
	}
	p.tok = Skip(p.tok, ":")
	n := newNode(NdCase, tok)
	n.Begin, n.End = begin, end
	n.LHS = p.stmt()
	n.CaseNext = p.switchNode.CaseNext
	p.switchNode.CaseNext = n
	return n
}

func (p *parser) defaultStmt(tok *Token) *Node {
	if p.switchNode == nil {
		panic(&ParseError{Tok: tok, Msg: "default label not within a switch statement"})
	}
	p.tok = tok.Next
	p.tok = Skip(p.tok, ":")
	n := newNode(NdCase, tok)
	n.LHS = p.stmt()
	p.switchNode.DefaultCase = n
	return n
}

func (p *parser) gotoStmt(tok *Token) *Node {
	p.tok = tok.Next
	if Equal(p.tok, "*") {
		// Computed goto through a label value (§4.5's Open Question
		// resolution, paired with &&label in parser_expr.go).
		p.tok = p.tok.Next
		target := p.expr()
		p.tok = Skip(p.tok, ";")
		n := newNode(NdGotoExpr, tok)
		n.LHS = target
		return n
	}
	name := p.tok
	p.tok = p.tok.Next
	p.tok = Skip(p.tok, ";")
	n := newNode(NdGoto, tok)
	n.Label = name.Text
	p.gotos = append(p.gotos, n)
	return n
}

func (p *parser) returnStmt(tok *Token) *Node {
	p.tok = tok.Next
	n := newNode(NdReturn, tok)
	if !Equal(p.tok, ";") {
		val := p.expr()
		p.addType(val)
		retTy := p.currentFn.Ty.ReturnTy
		if retTy.Kind != TyStruct && retTy.Kind != TyUnion && retTy.Kind != TyVoid {
			val = maybeCast(val, retTy)
		}
		n.LHS = val
	}
	p.tok = Skip(p.tok, ";")
	return n
}

// asmStmt stores the raw string body of an inline-asm statement without
// parsing operand constraints (§9's Open Question resolution: dyc accepts
// and stores top-level `asm("...")` blocks verbatim, but does not parse
// GCC extended-asm operand/clobber lists). The code generator rejects
// NdAsm nodes with an InternalError, so no asm bytes are ever emitted.
func (p *parser) asmStmt(tok *Token) *Node {
	p.tok = tok.Next
	for p.tok.is("volatile") || p.tok.is("const") {
		p.tok = p.tok.Next
	}
	p.tok = Skip(p.tok, "(")
	if p.tok.Kind != TokenString {
		panic(&ParseError{Tok: p.tok, Msg: "expected a string literal in asm statement"})
	}
	body := string(p.tok.Str[:len(p.tok.Str)-1])
	p.tok = p.tok.Next
	// Skip any extended-asm operand/clobber sections separated by ':'.
	for Equal(p.tok, ":") {
		p.tok = p.tok.Next
		for !Equal(p.tok, ":") && !Equal(p.tok, ")") {
			p.tok = p.tok.Next
		}
	}
	p.tok = Skip(p.tok, ")")
	p.tok = Skip(p.tok, ";")
	n := newNode(NdAsm, tok)
	n.AsmStr = body
	return n
}

// resolveGotos links each goto Node.GotoNext to its target
// Label node by name, once the whole function body (and thus every label)
// has been parsed — matching dyibicc's resolve_goto_labels.
func (p *parser) resolveGotos() {
	for _, g := range p.gotos {
		for _, l := range p.labels {
			if g.Label == l.Label {
				g.GotoNext = l
				break
			}
		}
	}
}
