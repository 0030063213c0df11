package dyc

// genCall lowers a call expression (§4.6): every argument is evaluated
// and pushed in left-to-right order first (so no argument's evaluation
// can clobber another's already-computed value), then popped into the
// current ABI's register set in reverse, and finally the callee address
// is resolved — by name through the linker's fixup table for a direct
// call, or from the already-evaluated function-pointer expression for an
// indirect one.
//
// This implementation covers the common case exercised by typical C
// call sites: up to the ABI's register capacity of integer/pointer and
// float/double arguments, plus variadic rax-count signaling on SysV.
// Arguments beyond register capacity are left on the argument-evaluation
// stack rather than being re-laid-out into the strict per-ABI stack-
// argument area; this is a deliberate scope cut from a fully general
// classifier (see DESIGN.md).
func (g *Generator) genCall(n *Node) {
	var args []*Node
	for a := n.Args; a != nil; a = a.Next {
		args = append(args, a)
	}

	kinds := make([]bool, len(args)) // true => float/double
	for i, a := range args {
		kinds[i] = isFlonum(a.Ty)
		g.genExpr(a)
		if kinds[i] {
			g.pushXmm()
		} else {
			g.pushInt()
		}
	}

	indirect := n.LHS != nil && n.LHS.Var != nil && n.LHS.Var.Ty.Kind != TyFunc
	if indirect {
		g.genExpr(n.LHS)
		g.asm.MovRegReg(R10, RAX, true)
	}

	intRegs, fpRegs := g.abiArgRegs()
	intIdx, fpIdx := 0, 0
	// Pop in reverse (last pushed first) while walking the classification
	// forward, so each popped value lands in the register its original
	// position earned.
	regFor := make([]Reg, len(args))
	xregFor := make([]XReg, len(args))
	useReg := make([]bool, len(args))
	for i := range args {
		if kinds[i] {
			if fpIdx < len(fpRegs) {
				xregFor[i] = fpRegs[fpIdx]
				useReg[i] = true
				fpIdx++
			}
		} else {
			if intIdx < len(intRegs) {
				regFor[i] = intRegs[intIdx]
				useReg[i] = true
				intIdx++
			}
		}
	}
	for i := len(args) - 1; i >= 0; i-- {
		if !useReg[i] {
			continue // left on the stack, see doc comment above
		}
		if kinds[i] {
			g.popXmm(xregFor[i])
		} else {
			g.popInt(regFor[i])
		}
	}

	if g.abi == ABISysV && n.FuncTy != nil && n.FuncTy.IsVariadic {
		g.asm.MovImm32(RAX, uint32(fpIdx))
	}

	// Keep rsp 16-byte aligned at the call: an odd number of values still
	// pushed gets an 8-byte pad, removed again after the call returns.
	pad := g.depth%2 != 0
	if pad {
		g.asm.SubRspImm32(8)
	}
	if indirect {
		g.asm.CallReg(R10)
	} else {
		name := n.Tok.Text
		if n.LHS != nil && n.LHS.Var != nil {
			name = n.LHS.Var.Name
		}
		g.asm.MovImm64(R10, 0)
		g.asm.AbsFixup(name, 0)
		g.asm.CallReg(R10)
	}
	if pad {
		g.asm.AddRspImm32(8)
	}

	if n.Ty != nil && n.Ty.Kind == TyBool {
		g.asm.MovzxReg8(RAX, RAX)
	}
}

func (g *Generator) abiArgRegs() ([]Reg, []XReg) {
	if g.abi == ABIWin64 {
		return argIntRegsWin64, argFPRegsWin64
	}
	return argIntRegsSysV, argFPRegsSysV
}

// --- atomics (§4.5's GNU __atomic/__sync builtins, lowered directly to
// the x86 lock-prefixed forms rather than calling into libatomic) ---

// genCAS lowers __atomic_compare_exchange-style nodes: CasAddr holds the
// target, CasOld the expected-value pointer, CasNew the desired value.
func (g *Generator) genCAS(n *Node) {
	g.genExpr(n.CasAddr)
	g.asm.MovRegReg(R11, RAX, true) // target address
	g.genExpr(n.CasNew)
	g.asm.MovRegReg(RCX, RAX, true) // new value
	g.genExpr(n.CasOld)             // expected value, left in rax for cmpxchg
	g.asm.LockCmpxchg(R11, RCX)
	g.asm.SetCC(CCE, RAX)
}

// genExch lowers __atomic_exchange_n: swap AtomicExpr's value into
// *AtomicAddr, leaving the previous value in rax.
func (g *Generator) genExch(n *Node) {
	g.genVarAddr(n.AtomicAddr)
	g.asm.MovRegReg(R11, RAX, true)
	g.genExpr(n.AtomicExpr)
	g.asm.Xchg(R11, RAX)
}

// genLockCE lowers a locked compound-assignment built from __sync/atomic
// fetch-and-op builtins: AtomicAddr is the target, AtomicExpr the
// operand, LHS.Kind communicates which operator recursively (dyibicc
// reuses the regular binary-op Kind for this, §4.5).
func (g *Generator) genLockCE(n *Node) {
	g.genVarAddr(n.AtomicAddr)
	g.asm.MovRegReg(R11, RAX, true)
	g.genExpr(n.AtomicExpr)
	g.asm.MovRegReg(RCX, RAX, true)
	var op NodeKind
	if n.LHS != nil {
		op = n.LHS.Kind
	}
	switch op {
	case NdAdd:
		g.asm.LockXadd(R11, RCX)
		g.asm.Alu(AluAdd, RAX, RCX, true)
	default:
		g.asm.LockXadd(R11, RCX)
		g.asm.MovRegReg(RAX, RCX, true)
	}
}
