package dyc

// genStmt walks one statement node, following dyibicc's gen_stmt dispatch
// (§3/§4.6). Block and label-bearing statements are linked through Next
// (top-level sequencing) or LHS (a label/case's attached statement), per
// ast.go's comment on Node.Body.
func (g *Generator) genStmt(n *Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case NdBlock:
		for c := n.Body; c != nil; c = c.Next {
			g.genStmt(c)
		}
	case NdExprStmt:
		g.genExpr(n.LHS)
	case NdReturn:
		g.genReturn(n)
	case NdIf:
		g.genIf(n)
	case NdFor:
		g.genFor(n)
	case NdDo:
		g.genDo(n)
	case NdSwitch:
		g.genSwitch(n)
	case NdCase:
		g.asm.Bind(g.caseLabel(n))
		g.genStmt(n.LHS)
	case NdLabel:
		g.asm.Bind(g.namedLabel(n.Label))
		g.genStmt(n.LHS)
	case NdGoto:
		g.asm.Jmp(g.namedLabel(n.GotoNext.Label))
	case NdGotoExpr:
		panic(&InternalError{File: "codegen_stmt.go", Msg: "computed goto is not supported by this code generator"})
	case NdBreak:
		g.asm.Jmp(g.brkLabel(n.Loop))
	case NdContinue:
		g.asm.Jmp(g.contLabel(n.Loop))
	case NdAsm:
		panic(&InternalError{File: "codegen_stmt.go", Msg: "inline asm statements are not supported by this code generator"})
	default:
		g.genExpr(n)
	}
}

func (g *Generator) genReturn(n *Node) {
	if n.LHS != nil {
		if n.LHS.Ty.Kind == TyStruct || n.LHS.Ty.Kind == TyUnion {
			g.genAddr(n.LHS)
			if n.LHS.Ty.Size <= 16 {
				g.loadSmallStructReturn(n.LHS.Ty)
			} else {
				// The hidden return-pointer argument was homed to
				// retBufOffset during the prologue (§4.6's by-caller-
				// allocated return buffer); reload it here instead of
				// pinning a callee-saved register across the whole body.
				g.asm.MovRegReg(R11, RAX, true)
				g.asm.LoadMem(RAX, RBP, int32(g.retBufOffset), 8, true)
				g.copyStruct(RAX, R11, n.LHS.Ty.Size)
			}
		} else {
			g.genExpr(n.LHS)
		}
	}
	g.asm.Jmp(g.retLabel)
}

// loadSmallStructReturn packs a <=16-byte struct's bytes, whose address is
// in rax, into rax:rdx (or xmm0:xmm1 for all-float members), the SysV
// eightbyte-classified return convention (§4.6). dyc classifies
// conservatively: a struct is returned in SSE registers only when every
// member is float/double, otherwise in general registers, which covers
// the common cases without a full per-eightbyte classifier.
func (g *Generator) loadSmallStructReturn(ty *Type) {
	if allFloatMembers(ty) {
		g.asm.LoadXmmMem(XMM0, RAX, 0)
		if ty.Size > 8 {
			g.asm.LoadXmmMem(XMM1, RAX, 8)
		}
		return
	}
	addr := RAX
	g.asm.MovRegReg(R11, addr, true)
	g.asm.LoadMem(RAX, R11, 0, minI(ty.Size, 8), true)
	if ty.Size > 8 {
		g.asm.LoadMem(RDX, R11, 8, ty.Size-8, true)
	}
}

func allFloatMembers(ty *Type) bool {
	for _, m := range ty.Members {
		if m.Ty.Kind != TyFloat && m.Ty.Kind != TyDouble {
			return false
		}
	}
	return len(ty.Members) > 0
}

func minI(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (g *Generator) genIf(n *Node) {
	elseLbl := g.asm.NewLabel()
	endLbl := g.asm.NewLabel()
	g.genExpr(n.Cond)
	g.cmpZero(n.Cond.Ty)
	g.asm.Je(elseLbl)
	g.genStmt(n.Then)
	g.asm.Jmp(endLbl)
	g.asm.Bind(elseLbl)
	g.genStmt(n.Els)
	g.asm.Bind(endLbl)
}

func (g *Generator) genFor(n *Node) {
	startLbl := g.asm.NewLabel()
	brkLbl := g.brkLabel(n)
	contLbl := g.contLabel(n)

	g.genStmt(n.Init)
	g.asm.Bind(startLbl)
	if n.Cond != nil {
		g.genExpr(n.Cond)
		g.cmpZero(n.Cond.Ty)
		g.asm.Je(brkLbl)
	}
	g.genStmt(n.Then)
	g.asm.Bind(contLbl)
	if n.Inc != nil {
		g.genExpr(n.Inc)
	}
	g.asm.Jmp(startLbl)
	g.asm.Bind(brkLbl)
}

func (g *Generator) genDo(n *Node) {
	startLbl := g.asm.NewLabel()
	brkLbl := g.brkLabel(n)
	contLbl := g.contLabel(n)

	g.asm.Bind(startLbl)
	g.genStmt(n.Then)
	g.asm.Bind(contLbl)
	g.genExpr(n.Cond)
	g.cmpZero(n.Cond.Ty)
	g.asm.Jne(startLbl)
	g.asm.Bind(brkLbl)
}

// genSwitch builds a linear compare-and-branch dispatch rather than a
// jump table, matching dyibicc's straightforward (not table-driven)
// switch lowering; GNU case-ranges (§4.5) compare Begin/End inclusively.
func (g *Generator) genSwitch(n *Node) {
	brkLbl := g.brkLabel(n)
	g.genExpr(n.Cond)
	g.asm.MovRegReg(g.utilReg(), RAX, true)

	for c := n.CaseNext; c != nil; c = c.CaseNext {
		lbl := g.caseLabel(c)
		g.asm.MovImm64(RAX, uint64(c.Begin))
		g.asm.Alu(AluCmp, g.utilReg(), RAX, true)
		if c.Begin == c.End {
			g.asm.Je(lbl)
			continue
		}
		skipLbl := g.asm.NewLabel()
		g.asm.JccLabel(CCL, skipLbl)
		g.asm.MovImm64(RAX, uint64(c.End))
		g.asm.Alu(AluCmp, g.utilReg(), RAX, true)
		g.asm.JccLabel(CCLE, lbl)
		g.asm.Bind(skipLbl)
	}

	if n.DefaultCase != nil {
		g.asm.Jmp(g.caseLabel(n.DefaultCase))
	} else {
		g.asm.Jmp(brkLbl)
	}

	g.genStmt(n.Then)
	g.asm.Bind(brkLbl)
}

func (g *Generator) brkLabel(n *Node) *Label {
	if l, ok := g.brkLabels[n]; ok {
		return l
	}
	l := g.asm.NewLabel()
	g.brkLabels[n] = l
	return l
}

func (g *Generator) contLabel(n *Node) *Label {
	if l, ok := g.contLabels[n]; ok {
		return l
	}
	l := g.asm.NewLabel()
	g.contLabels[n] = l
	return l
}

func (g *Generator) caseLabel(n *Node) *Label {
	return g.brkLabel(n) // distinct map not needed: keyed by case-node identity, same lazy map works
}

// namedLabel resolves a textual goto target within the current function,
// allocating it on first reference regardless of whether that reference
// is the goto or the label definition (§4.5's forward-goto support).
func (g *Generator) namedLabel(name string) *Label {
	if g.namedLabels == nil {
		g.namedLabels = make(map[string]*Label)
	}
	if l, ok := g.namedLabels[name]; ok {
		return l
	}
	l := g.asm.NewLabel()
	g.namedLabels[name] = l
	return l
}
