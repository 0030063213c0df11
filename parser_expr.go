package dyc

// Expression grammar, precedence-climbing one level per function exactly as
// dyibicc's parse.c does (§4.5): expr -> assign -> conditional -> logOr ->
// logAnd -> bitOr -> bitXor -> bitAnd -> equality -> relational -> shift ->
// add -> mul -> cast -> unary -> postfix -> primary.

func (p *parser) expr() *Node {
	n := p.assign()
	for Equal(p.tok, ",") {
		tok := p.tok
		p.tok = p.tok.Next
		n = newBinary(NdComma, n, p.assign(), tok)
	}
	return n
}

var compoundAssignOps = map[string]NodeKind{
	"+=": NdAdd, "-=": NdSub, "*=": NdMul, "/=": NdDiv, "%=": NdMod,
	"&=": NdBitAnd, "|=": NdBitOr, "^=": NdBitXor, "<<=": NdShl, ">>=": NdShr,
}

func (p *parser) assign() *Node {
	n := p.conditional()
	if Equal(p.tok, "=") {
		tok := p.tok
		p.tok = p.tok.Next
		return newBinary(NdAssign, n, p.assign(), tok)
	}
	if kind, ok := compoundAssignOps[p.tok.Text]; ok && p.tok.Kind == TokenPunct {
		tok := p.tok
		p.tok = p.tok.Next
		rhs := p.assign()
		var op *Node
		switch kind {
		case NdAdd:
			op = p.newAdd(n, rhs, tok)
		case NdSub:
			op = p.newSub(n, rhs, tok)
		default:
			op = newBinary(kind, n, rhs, tok)
		}
		return newBinary(NdAssign, n, op, tok)
	}
	return n
}

func (p *parser) conditional() *Node {
	cond := p.logOr()
	if !Equal(p.tok, "?") {
		return cond
	}
	tok := p.tok
	p.tok = p.tok.Next
	then := p.expr()
	p.tok = Skip(p.tok, ":")
	els := p.conditional()
	n := newNode(NdCond, tok)
	n.Cond, n.Then, n.Els = cond, then, els
	return n
}

func (p *parser) logOr() *Node {
	n := p.logAnd()
	for Equal(p.tok, "||") {
		tok := p.tok
		p.tok = p.tok.Next
		n = newBinary(NdLogOr, n, p.logAnd(), tok)
	}
	return n
}

func (p *parser) logAnd() *Node {
	n := p.bitOr()
	for Equal(p.tok, "&&") {
		tok := p.tok
		p.tok = p.tok.Next
		n = newBinary(NdLogAnd, n, p.bitOr(), tok)
	}
	return n
}

func (p *parser) bitOr() *Node {
	n := p.bitXor()
	for Equal(p.tok, "|") {
		tok := p.tok
		p.tok = p.tok.Next
		n = newBinary(NdBitOr, n, p.bitXor(), tok)
	}
	return n
}

func (p *parser) bitXor() *Node {
	n := p.bitAnd()
	for Equal(p.tok, "^") {
		tok := p.tok
		p.tok = p.tok.Next
		n = newBinary(NdBitXor, n, p.bitAnd(), tok)
	}
	return n
}

func (p *parser) bitAnd() *Node {
	n := p.equality()
	for Equal(p.tok, "&") {
		tok := p.tok
		p.tok = p.tok.Next
		n = newBinary(NdBitAnd, n, p.equality(), tok)
	}
	return n
}

func (p *parser) equality() *Node {
	n := p.relational()
	for {
		tok := p.tok
		switch {
		case Equal(tok, "=="):
			p.tok = tok.Next
			n = newBinary(NdEq, n, p.relational(), tok)
		case Equal(tok, "!="):
			p.tok = tok.Next
			n = newBinary(NdNe, n, p.relational(), tok)
		default:
			return n
		}
	}
}

func (p *parser) relational() *Node {
	n := p.shift()
	for {
		tok := p.tok
		switch {
		case Equal(tok, "<"):
			p.tok = tok.Next
			n = newBinary(NdLt, n, p.shift(), tok)
		case Equal(tok, "<="):
			p.tok = tok.Next
			n = newBinary(NdLe, n, p.shift(), tok)
		case Equal(tok, ">"):
			p.tok = tok.Next
			n = newBinary(NdLt, p.shift(), n, tok)
		case Equal(tok, ">="):
			p.tok = tok.Next
			n = newBinary(NdLe, p.shift(), n, tok)
		default:
			return n
		}
	}
}

func (p *parser) shift() *Node {
	n := p.add()
	for {
		tok := p.tok
		switch {
		case Equal(tok, "<<"):
			p.tok = tok.Next
			n = newBinary(NdShl, n, p.add(), tok)
		case Equal(tok, ">>"):
			p.tok = tok.Next
			n = newBinary(NdShr, n, p.add(), tok)
		default:
			return n
		}
	}
}

func (p *parser) add() *Node {
	n := p.mul()
	for {
		tok := p.tok
		switch {
		case Equal(tok, "+"):
			p.tok = tok.Next
			n = p.newAdd(n, p.mul(), tok)
		case Equal(tok, "-"):
			p.tok = tok.Next
			n = p.newSub(n, p.mul(), tok)
		default:
			return n
		}
	}
}

func (p *parser) mul() *Node {
	n := p.cast()
	for {
		tok := p.tok
		switch {
		case Equal(tok, "*"):
			p.tok = tok.Next
			n = newBinary(NdMul, n, p.cast(), tok)
		case Equal(tok, "/"):
			p.tok = tok.Next
			n = newBinary(NdDiv, n, p.cast(), tok)
		case Equal(tok, "%"):
			p.tok = tok.Next
			n = newBinary(NdMod, n, p.cast(), tok)
		default:
			return n
		}
	}
}

func (p *parser) cast() *Node {
	if Equal(p.tok, "(") && p.isTypename(p.tok.Next) {
		tok := p.tok
		p.tok = tok.Next
		ty := p.typename()
		p.tok = Skip(p.tok, ")")
		if Equal(p.tok, "{") {
			// Compound literal: treated as a braced initializer for an
			// anonymous object of ty (§4.5's initializer grammar covers the
			// braces); compoundLiteral gives it its own temporary local Obj.
			return p.compoundLiteral(ty, tok)
		}
		return newCast(p.cast(), ty)
	}
	return p.unary()
}

func (p *parser) unary() *Node {
	tok := p.tok
	switch {
	case Equal(tok, "+"):
		p.tok = tok.Next
		return p.cast()
	case Equal(tok, "-"):
		p.tok = tok.Next
		return newUnary(NdNeg, p.cast(), tok)
	case Equal(tok, "&"):
		p.tok = tok.Next
		return newUnary(NdAddr, p.cast(), tok)
	case Equal(tok, "*"):
		p.tok = tok.Next
		return newUnary(NdDeref, p.cast(), tok)
	case Equal(tok, "!"):
		p.tok = tok.Next
		return newUnary(NdNot, p.cast(), tok)
	case Equal(tok, "~"):
		p.tok = tok.Next
		return newUnary(NdBitNot, p.cast(), tok)
	case Equal(tok, "++"):
		p.tok = tok.Next
		operand := p.unary()
		return p.toAssign(p.newAdd(operand, newNum(1, tok), tok))
	case Equal(tok, "--"):
		p.tok = tok.Next
		operand := p.unary()
		return p.toAssign(p.newSub(operand, newNum(1, tok), tok))
	case tok.is("&&"):
		// Labels-as-values: parsed into an NdLabelVal node, which the code
		// generator rejects with an InternalError.
		p.tok = tok.Next
		label := p.tok
		p.tok = p.tok.Next
		n := newNode(NdLabelVal, tok)
		n.Label = label.Text
		return n
	case tok.is("sizeof"):
		return p.sizeofExpr(tok)
	case tok.is("_Alignof"), tok.is("_Alignof_"):
		p.tok = tok.Next
		p.tok = Skip(p.tok, "(")
		ty := p.typename()
		p.tok = Skip(p.tok, ")")
		return newLong(ty.Align, tok)
	}
	return p.postfix()
}

func (p *parser) sizeofExpr(tok *Token) *Node {
	p.tok = tok.Next
	if Equal(p.tok, "(") && p.isTypename(p.tok.Next) {
		p.tok = p.tok.Next
		ty := p.typename()
		p.tok = Skip(p.tok, ")")
		if ty.Kind == TyVLA {
			return p.vlaRuntimeSize(ty, tok)
		}
		return newLong(ty.Size, tok)
	}
	n := p.unary()
	p.addType(n)
	if n.Ty.Kind == TyVLA {
		return p.vlaRuntimeSize(n.Ty, tok)
	}
	return newLong(n.Ty.Size, tok)
}

func (p *parser) vlaRuntimeSize(ty *Type, tok *Token) *Node {
	n := newNode(NdVar, tok)
	n.Var = ty.VLASize
	n.Ty = tyLong
	return n
}

// toAssign rewrites "x += 1"-shaped desugarings for prefix ++/--, matching
// dyibicc's to_assign helper: a compound binary op wrapped as an assignment
// back into its own LHS.
func (p *parser) toAssign(binary *Node) *Node {
	n := newBinary(NdAssign, binary.LHS, binary, binary.Tok)
	return n
}

func (p *parser) postfix() *Node {
	n := p.primary()
	for {
		tok := p.tok
		switch {
		case Equal(tok, "["):
			p.tok = tok.Next
			idx := p.expr()
			p.tok = Skip(p.tok, "]")
			n = newUnary(NdDeref, p.newAdd(n, idx, tok), tok)
		case Equal(tok, "."):
			p.tok = tok.Next
			n = p.memberAccess(n, tok, false)
		case Equal(tok, "->"):
			p.tok = tok.Next
			n = p.memberAccess(n, tok, true)
		case Equal(tok, "++"):
			p.tok = tok.Next
			n = p.newIncDec(n, tok, true)
		case Equal(tok, "--"):
			p.tok = tok.Next
			n = p.newIncDec(n, tok, false)
		default:
			return n
		}
	}
}

func (p *parser) memberAccess(lhs *Node, tok *Token, deref bool) *Node {
	base := lhs
	if deref {
		base = newUnary(NdDeref, lhs, tok)
	}
	p.addType(base)
	if base.Ty.Kind != TyStruct && base.Ty.Kind != TyUnion {
		panic(&TypeError{Tok: tok, Msg: "not a struct or union"})
	}
	name := p.tok
	p.tok = p.tok.Next
	for _, m := range base.Ty.Members {
		if m.Name == name.Text {
			n := newUnary(NdMember, base, tok)
			n.Member = m
			return n
		}
	}
	panic(&TypeError{Tok: name, Msg: "no member named " + name.Text})
}

// newIncDec desugars postfix ++/-- into ((x += 1) - 1) so the result of the
// expression is the pre-increment value, matching dyibicc's new_inc_dec.
func (p *parser) newIncDec(operand *Node, tok *Token, inc bool) *Node {
	p.addType(operand)
	var delta *Node
	if inc {
		delta = newNum(1, tok)
	} else {
		delta = newNum(-1, tok)
	}
	var added *Node
	if inc {
		added = p.toAssign(p.newAdd(operand, delta, tok))
	} else {
		added = p.toAssign(p.newSub(operand, newNum(1, tok), tok))
	}
	back := newNum(1, tok)
	if inc {
		return p.newSub(added, back, tok)
	}
	return p.newAdd(added, back, tok)
}

func (p *parser) compoundLiteral(ty *Type, tok *Token) *Node {
	obj := p.newLocalVar(p.ctx.tempName(), ty)
	init := p.initializer(ty)
	assigns := p.localVarInitializer(obj, init, tok)
	n := newNode(NdStmtExpr, tok)
	n.Body = p.exprStmt(assigns, tok)
	last := newUnary(NdExprStmt, newVarNode(obj, tok), tok)
	n.Body.Next = last
	return n
}

func (p *parser) exprStmt(n *Node, tok *Token) *Node {
	s := newUnary(NdExprStmt, n, tok)
	return s
}

func (p *parser) funcallArgs(fnTy *Type, tok *Token) *Node {
	var head Node
	cur := &head
	i := 0
	for !Equal(p.tok, ")") {
		if i > 0 {
			p.tok = Skip(p.tok, ",")
		}
		arg := p.assign()
		p.addType(arg)
		if fnTy != nil && i < len(fnTy.Params) {
			arg = maybeCast(arg, fnTy.Params[i])
		}
		cur.Next = arg
		cur = arg
		i++
	}
	p.tok = Skip(p.tok, ")")
	return head.Next
}

func (p *parser) primary() *Node {
	tok := p.tok
	switch {
	case Equal(tok, "("):
		if Equal(tok.Next, "{") {
			p.tok = tok.Next.Next
			n := newNode(NdStmtExpr, tok)
			n.Body = p.compoundStmtBody()
			p.tok = Skip(p.tok, ")")
			return n
		}
		p.tok = tok.Next
		n := p.expr()
		p.tok = Skip(p.tok, ")")
		return n
	case tok.is("sizeof"), tok.is("_Alignof"):
		return p.unary()
	case tok.Kind == TokenNumber:
		p.tok = tok.Next
		if isFlonum(tok.Ty) {
			return newFloatNum(tok.FloatVal, tok.Ty, tok)
		}
		n := newNode(NdNum, tok)
		n.IntVal = tok.IntVal
		n.Ty = tok.Ty
		return n
	case tok.Kind == TokenString:
		p.tok = tok.Next
		obj := p.newStringLiteral(tok.Str, tok.Ty)
		return newVarNode(obj, tok)
	case tok.Kind == TokenIdent:
		p.tok = tok.Next
		if Equal(p.tok, "(") {
			return p.funcall(tok)
		}
		sc := p.scope.findVar(tok.Text)
		if sc == nil || (sc.Obj == nil && sc.EnumTy == nil) {
			panic(&ParseError{Tok: tok, Msg: "undefined variable: " + tok.Text})
		}
		if sc.EnumTy != nil {
			return newNum(sc.EnumVal, tok)
		}
		if p.currentFn != nil && sc.Obj != nil {
			p.currentFn.Refs = append(p.currentFn.Refs, sc.Obj.Name)
		}
		return newVarNode(sc.Obj, tok)
	}
	panic(&ParseError{Tok: tok, Msg: "expected an expression"})
}

func (p *parser) funcall(nameTok *Token) *Node {
	p.tok = p.tok.Next // '('
	sc := p.scope.findVar(nameTok.Text)
	var fnTy *Type
	var callee *Node
	if sc != nil && sc.Obj != nil {
		fnTy = sc.Obj.Ty
		if fnTy.Kind == TyPtr {
			fnTy = fnTy.Base
		}
		callee = newVarNode(sc.Obj, nameTok)
		if p.currentFn != nil {
			p.currentFn.Refs = append(p.currentFn.Refs, sc.Obj.Name)
		}
	} else {
		// Implicit-int-returning undeclared function (a pre-C99 extension
		// dyibicc's test suite still exercises); typed as () -> int.
		fnTy = funcType(tyInt)
		fnTy.IsVariadic = true
	}
	args := p.funcallArgs(fnTy, nameTok)
	n := newNode(NdFuncall, nameTok)
	n.LHS = callee
	n.Args = args
	n.FuncTy = fnTy
	n.Ty = fnTy.ReturnTy
	return n
}
