package dyc

// Node constructor helpers, factored out of the parser so parser_expr.go and
// parser.go stay focused on grammar. Mirrors the small new_node/new_binary/
// new_unary helper family at the top of dyibicc's parse.c.

func newNode(kind NodeKind, tok *Token) *Node {
	return &Node{Kind: kind, Tok: tok}
}

func newBinary(kind NodeKind, lhs, rhs *Node, tok *Token) *Node {
	n := newNode(kind, tok)
	n.LHS, n.RHS = lhs, rhs
	return n
}

func newUnary(kind NodeKind, expr *Node, tok *Token) *Node {
	n := newNode(kind, tok)
	n.LHS = expr
	return n
}

func newNum(val int64, tok *Token) *Node {
	n := newNode(NdNum, tok)
	n.IntVal = val
	n.Ty = tyInt
	return n
}

func newLong(val int64, tok *Token) *Node {
	n := newNode(NdNum, tok)
	n.IntVal = val
	n.Ty = tyLong
	return n
}

func newFloatNum(val float64, ty *Type, tok *Token) *Node {
	n := newNode(NdNum, tok)
	n.FloatVal = val
	n.Ty = ty
	return n
}

func newVarNode(obj *Obj, tok *Token) *Node {
	n := newNode(NdVar, tok)
	n.Var = obj
	return n
}

func newCast(expr *Node, ty *Type) *Node {
	n := newNode(NdCast, expr.Tok)
	n.LHS = expr
	n.Ty = copyType(ty)
	return n
}

// newAdd/newSub implement C's pointer arithmetic rules (§4.6's Design
// Notes): adding/subtracting an integer to a pointer scales by the
// pointee size, and subtracting two pointers yields an element count.
func (p *parser) newAdd(lhs, rhs *Node, tok *Token) *Node {
	p.addType(lhs)
	p.addType(rhs)
	if isNumeric(lhs.Ty) && isNumeric(rhs.Ty) {
		return newBinary(NdAdd, lhs, rhs, tok)
	}
	if isPtrOrArray(lhs.Ty) && isPtrOrArray(rhs.Ty) {
		panic(&TypeError{Tok: tok, Msg: "invalid operands for pointer addition"})
	}
	if !isPtrOrArray(lhs.Ty) && isPtrOrArray(rhs.Ty) {
		lhs, rhs = rhs, lhs
	}
	rhs = newBinary(NdMul, rhs, newLong(lhs.Ty.Base.Size, tok), tok)
	return newBinary(NdAdd, lhs, rhs, tok)
}

func (p *parser) newSub(lhs, rhs *Node, tok *Token) *Node {
	p.addType(lhs)
	p.addType(rhs)
	if isNumeric(lhs.Ty) && isNumeric(rhs.Ty) {
		return newBinary(NdSub, lhs, rhs, tok)
	}
	if isPtrOrArray(lhs.Ty) && isPtrOrArray(rhs.Ty) {
		n := newBinary(NdSub, lhs, rhs, tok)
		n.Ty = tyLong
		return newBinary(NdDiv, n, newLong(lhs.Ty.Base.Size, tok), tok)
	}
	scaled := newBinary(NdMul, rhs, newLong(lhs.Ty.Base.Size, tok), tok)
	return newBinary(NdSub, lhs, scaled, tok)
}
