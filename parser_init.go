package dyc

import "math"

func f32bits(f float32) uint32 { return math.Float32bits(f) }
func f64bits(f float64) uint64 { return math.Float64bits(f) }

// Initializer is an intermediate tree shaped like the type being
// initialized, built while parsing a braced initializer list (§4.5): a
// scalar leaf carries Expr, an aggregate node carries Children indexed the
// same way as the type's elements/members. It is flattened into either a
// sequence of assignment expressions (locals) or constant bytes plus
// relocations (globals) once parsing finishes.
type Initializer struct {
	Ty       *Type
	Expr     *Node
	StrData  []byte // set instead of Expr/Children for a string-literal array initializer
	Children []*Initializer
}

// initializer parses a (possibly braced, possibly designated) initializer
// for ty. Brace elision for nested aggregates is not supported — every
// aggregate level must be explicitly braced, a simplification of C11
// 6.7.9's full elision rules.
func (p *parser) initializer(ty *Type) *Initializer {
	if ty.Kind == TyArray && isCharLike(ty.Base) && p.tok.Kind == TokenString {
		tok := p.tok
		p.tok = p.tok.Next
		data := append([]byte{}, tok.Str...)
		if ty.ArrayLen < 0 {
			ty.ArrayLen = int64(len(data))
			ty.Size = ty.Base.Size * ty.ArrayLen
		}
		return &Initializer{Ty: ty, StrData: data}
	}

	if ty.Kind == TyArray {
		return p.arrayInitializer(ty)
	}
	if ty.Kind == TyStruct || ty.Kind == TyUnion {
		return p.structInitializer(ty)
	}

	init := &Initializer{Ty: ty}
	if Equal(p.tok, "{") {
		// Scalar wrapped in redundant braces, e.g. `int x = {3};`.
		p.tok = p.tok.Next
		init.Expr = p.assign()
		Consume(&p.tok, p.tok, ",")
		p.tok = Skip(p.tok, "}")
		return init
	}
	init.Expr = p.assign()
	return init
}

func isCharLike(ty *Type) bool {
	return ty.Kind == TyChar
}

func (p *parser) arrayInitializer(ty *Type) *Initializer {
	p.tok = Skip(p.tok, "{")
	init := &Initializer{Ty: ty}
	idx := 0
	for !Equal(p.tok, "}") {
		if idx > 0 {
			p.tok = Skip(p.tok, ",")
		}
		if Equal(p.tok, "}") {
			break
		}
		if Equal(p.tok, "[") {
			p.tok = p.tok.Next
			idx = int(p.constExpr())
			p.tok = Skip(p.tok, "]")
			p.tok = Skip(p.tok, "=")
		}
		for len(init.Children) <= idx {
			init.Children = append(init.Children, nil)
		}
		init.Children[idx] = p.initializer(ty.Base)
		idx++
	}
	p.tok = p.tok.Next // '}'
	if ty.ArrayLen < 0 {
		ty.ArrayLen = int64(len(init.Children))
		ty.Size = ty.Base.Size * ty.ArrayLen
	}
	return init
}

func (p *parser) structInitializer(ty *Type) *Initializer {
	p.tok = Skip(p.tok, "{")
	init := &Initializer{Ty: ty, Children: make([]*Initializer, len(ty.Members))}
	idx := 0
	first := true
	for !Equal(p.tok, "}") {
		if !first {
			p.tok = Skip(p.tok, ",")
		}
		first = false
		if Equal(p.tok, "}") {
			break
		}
		if Equal(p.tok, ".") {
			p.tok = p.tok.Next
			name := p.tok
			p.tok = p.tok.Next
			p.tok = Skip(p.tok, "=")
			for i, m := range ty.Members {
				if m.Name == name.Text {
					idx = i
					break
				}
			}
		}
		if idx >= len(ty.Members) {
			panic(&TypeError{Tok: p.tok, Msg: "excess initializer elements"})
		}
		init.Children[idx] = p.initializer(ty.Members[idx].Ty)
		idx++
		if ty.Kind == TyUnion {
			break // a union initializer only ever initializes one member
		}
	}
	p.tok = Skip(p.tok, "}")
	return init
}

// localVarInitializer flattens init into a zero-then-assign statement
// sequence for a local variable (§4.5): the whole object is memzero'd
// first (C11 6.7.9p21's implicit zero-init for partially-specified
// aggregates) and then each explicitly given leaf is assigned in order.
func (p *parser) localVarInitializer(obj *Obj, init *Initializer, tok *Token) *Node {
	base := newVarNode(obj, tok)
	var stmts []*Node
	if init.Ty.Kind == TyArray || init.Ty.Kind == TyStruct || init.Ty.Kind == TyUnion {
		zero := newUnary(NdMemzero, base, tok)
		zero.Var = obj
		stmts = append(stmts, zero)
	}
	p.flattenInit(base, init, tok, &stmts)
	var chain *Node
	for i := len(stmts) - 1; i >= 0; i-- {
		if chain == nil {
			chain = stmts[i]
		} else {
			chain = newBinary(NdComma, stmts[i], chain, tok)
		}
	}
	if chain == nil {
		chain = newNode(NdNullExpr, tok)
	}
	return chain
}

func (p *parser) flattenInit(lvalue *Node, init *Initializer, tok *Token, out *[]*Node) {
	if init == nil {
		return
	}
	if init.StrData != nil {
		for i, b := range init.StrData {
			elem := p.arrayElem(lvalue, i, tok)
			*out = append(*out, newBinary(NdAssign, elem, newNum(int64(int8(b)), tok), tok))
		}
		return
	}
	if init.Ty.Kind == TyArray {
		for i, child := range init.Children {
			if child == nil {
				continue
			}
			elem := p.arrayElem(lvalue, i, tok)
			p.flattenInit(elem, child, tok, out)
		}
		return
	}
	if init.Ty.Kind == TyStruct || init.Ty.Kind == TyUnion {
		for i, child := range init.Children {
			if child == nil {
				continue
			}
			m := init.Ty.Members[i]
			member := newUnary(NdMember, lvalue, tok)
			member.Member = m
			member.Ty = m.Ty
			p.flattenInit(member, child, tok, out)
		}
		return
	}
	*out = append(*out, newBinary(NdAssign, lvalue, maybeCastInit(init.Expr, init.Ty), tok))
}

func maybeCastInit(expr *Node, ty *Type) *Node {
	if expr.Ty == nil {
		return expr
	}
	return maybeCast(expr, ty)
}

func (p *parser) arrayElem(base *Node, idx int, tok *Token) *Node {
	addr := newUnary(NdAddr, base, tok)
	p.addType(addr)
	idxNode := p.newAdd(addr, newNum(int64(idx), tok), tok)
	elem := newUnary(NdDeref, idxNode, tok)
	p.addType(elem)
	return elem
}

// globalVarInitializer folds init into g's static InitData bytes plus any
// relocations for address-of-global references (§4.7's data model). Only
// constant-expression initializers are supported for globals, matching
// C11's requirement that file-scope initializers be constant.
func (p *parser) globalVarInitializer(g *Obj) {
	init := p.initializer(g.Ty)
	g.Ty = dropIncompleteArrayLen(g.Ty, init)
	data := make([]byte, g.Ty.Size)
	var head Relocation
	relCur := &head
	p.writeGlobalData(data, 0, g.Ty, init, &relCur)
	g.InitData = data
	g.Rel = head.Next
}

func dropIncompleteArrayLen(ty *Type, init *Initializer) *Type {
	if ty.Kind == TyArray && ty.ArrayLen < 0 {
		return init.Ty
	}
	return ty
}

func (p *parser) writeGlobalData(data []byte, offset int64, ty *Type, init *Initializer, relCur **Relocation) {
	if init == nil {
		return
	}
	if init.StrData != nil {
		copy(data[offset:], init.StrData)
		return
	}
	if ty.Kind == TyArray {
		for i, child := range init.Children {
			if child == nil {
				continue
			}
			p.writeGlobalData(data, offset+int64(i)*ty.Base.Size, ty.Base, child, relCur)
		}
		return
	}
	if ty.Kind == TyStruct || ty.Kind == TyUnion {
		for i, child := range init.Children {
			if child == nil {
				continue
			}
			m := ty.Members[i]
			p.writeGlobalData(data, offset+m.Offset, m.Ty, child, relCur)
		}
		return
	}
	p.writeGlobalScalar(data, offset, ty, init.Expr, relCur)
}

// writeGlobalScalar stores a scalar initializer expression: literal
// numbers (possibly under casts) store directly; &global[+const] and bare
// array/function names produce a Relocation resolved at link time (§4.7).
// It does not fold arithmetic: any other expression, such as -1 or 1+2,
// is rejected as not constant.
func (p *parser) writeGlobalScalar(data []byte, offset int64, ty *Type, expr *Node, relCur **Relocation) {
	p.addType(expr)
	switch expr.Kind {
	case NdNum:
		putIntBytes(data, offset, ty, expr.IntVal, expr.FloatVal, isFlonum(ty))
		return
	case NdCast:
		p.writeGlobalScalar(data, offset, ty, expr.LHS, relCur)
		return
	case NdAddr:
		name, addend := p.resolveGlobalAddr(expr.LHS, 0)
		rel := &Relocation{Offset: offset, SymbolLabel: &name, Addend: addend}
		*relCur = appendRel(*relCur, rel)
		return
	case NdVar:
		if expr.Var.Ty.Kind == TyArray || expr.Var.Ty.Kind == TyFunc {
			name := expr.Var.Name
			rel := &Relocation{Offset: offset, SymbolLabel: &name}
			*relCur = appendRel(*relCur, rel)
			return
		}
	case NdAdd, NdSub:
		name, addend := p.resolveGlobalAddr(expr, 0)
		if name != "" {
			n := name
			rel := &Relocation{Offset: offset, SymbolLabel: &n, Addend: addend}
			*relCur = appendRel(*relCur, rel)
			return
		}
	}
	panic(&ConstEvalError{Tok: expr.Tok, Msg: "initializer element is not constant"})
}

func appendRel(cur *Relocation, rel *Relocation) *Relocation {
	cur.Next = rel
	return rel
}

// resolveGlobalAddr walks &expr / (&expr + const) shapes down to the named
// global object, accumulating a byte addend.
func (p *parser) resolveGlobalAddr(expr *Node, addend int64) (string, int64) {
	switch expr.Kind {
	case NdVar:
		return expr.Var.Name, addend
	case NdAdd:
		if expr.RHS.Kind == NdNum {
			return p.resolveGlobalAddr(expr.LHS, addend+expr.RHS.IntVal)
		}
	case NdSub:
		if expr.RHS.Kind == NdNum {
			return p.resolveGlobalAddr(expr.LHS, addend-expr.RHS.IntVal)
		}
	case NdDeref:
		return p.resolveGlobalAddr(expr.LHS, addend)
	case NdMember:
		name, base := p.resolveGlobalAddr(expr.LHS, addend)
		if name != "" {
			return name, base + expr.Member.Offset
		}
	}
	return "", 0
}

func putIntBytes(data []byte, offset int64, ty *Type, ival int64, fval float64, flo bool) {
	if flo {
		switch ty.Kind {
		case TyFloat:
			putU32(data, offset, f32bits(float32(fval)))
		default:
			putU64(data, offset, f64bits(fval))
		}
		return
	}
	switch ty.Size {
	case 1:
		data[offset] = byte(ival)
	case 2:
		putU16(data, offset, uint16(ival))
	case 4:
		putU32(data, offset, uint32(ival))
	default:
		putU64(data, offset, uint64(ival))
	}
}

func putU16(data []byte, off int64, v uint16) {
	data[off] = byte(v)
	data[off+1] = byte(v >> 8)
}
func putU32(data []byte, off int64, v uint32) {
	for i := int64(0); i < 4; i++ {
		data[off+i] = byte(v >> (8 * i))
	}
}
func putU64(data []byte, off int64, v uint64) {
	for i := int64(0); i < 8; i++ {
		data[off+i] = byte(v >> (8 * i))
	}
}
