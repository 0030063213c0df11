package dyc

// addType recursively assigns a Ty to node and its children, implementing
// C11's usual arithmetic conversions (6.3.1.8) and the handful of
// operator-specific result-type rules dyibicc's type.c encodes. Idempotent:
// a node with Ty already set is left alone, so re-running it after AST
// rewrites (as the parser does when it folds ?: branches, etc.) is safe.
func (p *parser) addType(n *Node) {
	if n == nil || n.Ty != nil {
		return
	}
	p.addType(n.LHS)
	p.addType(n.RHS)
	p.addType(n.Cond)
	p.addType(n.Then)
	p.addType(n.Els)
	p.addType(n.Init)
	p.addType(n.Inc)
	for b := n.Body; b != nil; b = b.Next {
		p.addType(b)
	}
	for a := n.Args; a != nil; a = a.Next {
		p.addType(a)
	}

	switch n.Kind {
	case NdNum:
		if n.Ty == nil {
			n.Ty = tyInt
		}
	case NdAdd, NdSub, NdMul, NdDiv, NdMod, NdBitAnd, NdBitOr, NdBitXor:
		usualArithConv(n)
		n.Ty = n.LHS.Ty
	case NdNeg:
		ty := usualArithUnary(n.LHS.Ty)
		n.LHS = maybeCast(n.LHS, ty)
		n.Ty = ty
	case NdAssign:
		if n.LHS.Ty.Kind == TyArray {
			panic(&TypeError{Tok: n.Tok, Msg: "array is not an lvalue"})
		}
		if n.LHS.Ty.Kind != TyStruct && n.LHS.Ty.Kind != TyUnion {
			n.RHS = maybeCast(n.RHS, n.LHS.Ty)
		}
		n.Ty = n.LHS.Ty
	case NdEq, NdNe, NdLt, NdLe:
		if isNumeric(n.LHS.Ty) && isNumeric(n.RHS.Ty) {
			usualArithConv(n)
		}
		n.Ty = tyInt
	case NdShl, NdShr:
		n.LHS = maybeCast(n.LHS, usualArithUnary(n.LHS.Ty))
		n.Ty = n.LHS.Ty
	case NdLogAnd, NdLogOr, NdNot:
		n.Ty = tyInt
	case NdBitNot:
		n.Ty = n.LHS.Ty
	case NdVar:
		n.Ty = n.Var.Ty
	case NdCond:
		if n.Then.Ty.Kind == TyVoid || n.Els.Ty.Kind == TyVoid {
			n.Ty = tyVoid
		} else {
			n.Ty = n.Then.Ty
		}
	case NdComma:
		n.Ty = n.RHS.Ty
	case NdMember:
		n.Ty = n.Member.Ty
	case NdAddr:
		if n.LHS.Ty.Kind == TyArray {
			n.Ty = pointerTo(n.LHS.Ty.Base)
		} else {
			n.Ty = pointerTo(n.LHS.Ty)
		}
	case NdDeref:
		if n.LHS.Ty.Base == nil {
			panic(&TypeError{Tok: n.Tok, Msg: "invalid pointer dereference"})
		}
		if n.LHS.Ty.Base.Kind == TyVoid {
			panic(&TypeError{Tok: n.Tok, Msg: "dereferencing a void pointer"})
		}
		n.Ty = n.LHS.Ty.Base
	case NdStmtExpr:
		if n.Body != nil {
			last := n.Body
			for last.Next != nil {
				last = last.Next
			}
			if last.Kind == NdExprStmt {
				n.Ty = last.LHS.Ty
				break
			}
		}
		n.Ty = tyVoid
	case NdFuncall:
		if n.FuncTy != nil {
			n.Ty = n.FuncTy.ReturnTy
		} else {
			n.Ty = tyInt
		}
	case NdCast, NdVLAPtr, NdReflectTypePtr:
		// Ty already set by the caller.
	case NdMemzero, NdExprStmt, NdReturn, NdIf, NdFor, NdDo, NdSwitch, NdCase,
		NdBlock, NdGoto, NdGotoExpr, NdBreak, NdContinue, NdLabel, NdLabelVal,
		NdAsm, NdCAS, NdLockCE, NdExch, NdNullExpr:
		// statements and a few special nodes carry no expression type
	}
}

// usualArithConv implements C11 6.3.1.8's binary conversion rule: the wider
// or floating operand wins, with unsigned beating signed at equal rank.
func usualArithConv(n *Node) {
	t1, t2 := usualArithUnary(n.LHS.Ty), usualArithUnary(n.RHS.Ty)
	ty := dominantArithType(t1, t2)
	n.LHS = maybeCast(n.LHS, ty)
	n.RHS = maybeCast(n.RHS, ty)
}

// usualArithUnary applies C11 6.3.1.1p2's integer promotions: anything
// narrower than int promotes to int (or unsigned int if it wouldn't fit).
func usualArithUnary(ty *Type) *Type {
	if ty.Kind == TyArray {
		return pointerTo(ty.Base)
	}
	if ty.Kind == TyFunc {
		return pointerTo(ty)
	}
	if isInteger(ty) && ty.Size < 4 {
		return tyInt
	}
	return ty
}

func dominantArithType(t1, t2 *Type) *Type {
	if t1.Kind == TyPtr || t2.Kind == TyPtr {
		if t1.Kind == TyPtr {
			return t1
		}
		return t2
	}
	if t1.Kind == TyLDouble {
		return t1
	}
	if t2.Kind == TyLDouble {
		return t2
	}
	if t1.Kind == TyDouble || t2.Kind == TyDouble {
		return tyDouble
	}
	if t1.Kind == TyFloat || t2.Kind == TyFloat {
		return tyFloat
	}
	if t1.Size < t2.Size {
		t1 = t2
	}
	if t1.IsUnsigned || t2.IsUnsigned {
		if !t1.IsUnsigned {
			cp := copyType(t1)
			cp.IsUnsigned = true
			return cp
		}
	}
	return t1
}

func maybeCast(n *Node, ty *Type) *Node {
	if n.Ty != nil && isCompatible(n.Ty, ty) {
		return n
	}
	return newCast(n, ty)
}
