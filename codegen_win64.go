package dyc

// Win64 calling-convention and unwind-info lowering (§4.6, §6). Unlike
// SysV, argument position (not class) picks the register: the Nth
// parameter always goes through the Nth slot, as an integer register or
// xmm register depending on that parameter's type, and the caller
// reserves a 32-byte "shadow space" above the return address that the
// callee treats as its parameters' permanent home — dyc copies incoming
// register values there during the prologue instead of allocating fresh
// negative-offset slots the way SysV does.

const win64ShadowSpace = 32

// win64AssignFrame lays out fn's locals below rbp and its (at most four)
// register parameters in the shadow space above it; overflow parameters
// already live in the caller's stack-argument area past the shadow
// space, so they also get positive offsets, contiguous with it.
func (g *Generator) win64AssignFrame(fn *Obj) {
	var offset int64
	reserve := func(ty *Type) int64 {
		sz := ty.Size
		if sz < 8 {
			sz = 8
		}
		al := ty.Align
		if al < 8 {
			al = 8
		}
		offset += sz
		offset = alignUp(offset, al)
		return -offset
	}

	if fn.Ty.ReturnTy != nil && (fn.Ty.ReturnTy.Kind == TyStruct || fn.Ty.ReturnTy.Kind == TyUnion) && fn.Ty.ReturnTy.Size > 16 {
		g.retBufOffset = reserve(tyLong)
	}

	for i, p := range fn.Params {
		p.IsLocal = true
		// slot i lives at rbp+16 (return addr + saved rbp) + 8*i, whether
		// it arrived in a register (i<4) or on the caller's stack (i>=4).
		p.Offset = 16 + int64(i)*8
		if p.Ty.Kind == TyStruct || p.Ty.Kind == TyUnion {
			if p.Ty.Size != 1 && p.Ty.Size != 2 && p.Ty.Size != 4 && p.Ty.Size != 8 {
				// Passed by reference: the slot holds a pointer to a
				// caller-allocated copy (§4.6's Win64 struct-passing rule).
				p.ParamIsByReference = true
			}
		}
	}

	for _, v := range fn.Locals {
		if v.IsLocal && v.Offset != 0 {
			continue // already assigned as a parameter above
		}
		v.IsLocal = true
		v.Offset = reserve(v.Ty)
	}

	if fn.AllocaBottom != nil && fn.AllocaBottom.Offset == 0 {
		fn.AllocaBottom.IsLocal = true
		fn.AllocaBottom.Offset = reserve(tyLong)
	}

	fn.StackSize = alignUp(offset+win64ShadowSpace, 16)
}

// win64ReserveFrame subtracts the frame size from rsp, probing one page
// at a time via __chkstk when the frame is large enough to step over an
// unmapped guard page in a single touch (§4.6/§6).
func (g *Generator) win64ReserveFrame(fn *Obj) {
	size := uint32(fn.StackSize)
	if fn.StackSize < 4096 {
		g.asm.SubRspImm32(size)
		return
	}
	g.asm.MovImm32(RAX, size)
	g.asm.MovImm64(R10, 0)
	g.asm.AbsFixup("__chkstk", 0)
	g.asm.CallReg(R10)
	g.asm.Alu(AluSub, RSP, RAX, true)
}

// win64HomeParams copies every parameter's register value into its
// shadow-space home slot; stack-passed overflow parameters (i>=4) are
// already in their final position courtesy of the caller and need no
// copy.
func (g *Generator) win64HomeParams(fn *Obj) {
	for i, p := range fn.Params {
		if i >= 4 {
			break
		}
		if isFlonum(p.Ty) {
			g.asm.StoreXmmMem(RBP, argFPRegsWin64[i], int32(p.Offset))
		} else {
			g.asm.StoreMem(RBP, argIntRegsWin64[i], int32(p.Offset), 8)
		}
	}
}

func (g *Generator) win64Epilogue(fn *Obj) {
	g.asm.AddRspImm32(uint32(fn.StackSize))
	g.asm.Pop(RBP)
}

// win64EmitUnwindInfo appends one UNWIND_INFO record (Microsoft x64 ABI)
// to the tail of the code buffer — not to a separate section — so that
// its RVA is addressable relative to the same CodeBase the function
// itself is mapped at (§4.7's exec.reset maps one contiguous buffer per
// unit; there is no separate .xdata allocation to relocate against).
// Control flow never reaches these trailing bytes, since every function
// body ends in a ret just before EndFunctionLabel.
//
// The record is a minimal but structurally valid one: a single
// UWOP_SET_FPREG code marking where `mov rbp, rsp` completes. It does
// not describe the `sub rsp, N` allocation itself, so an unwind that
// needs to account for stack size precisely (rather than just locating
// saved rbp) is out of scope here — acceptable for dyc's purpose of
// registering JIT-ed frames for a host-side SEH handler to walk past,
// rather than full Windows structured-exception propagation through
// them (see DESIGN.md).
func (g *Generator) win64EmitUnwindInfo(fn *Obj) {
	entryOff := uint32(g.funcLabels[fn.Name].offset)
	endOff := uint32(g.endLabel.offset)
	prologSize := byte(g.prologueEndOff - g.funcLabels[fn.Name].offset)

	const frameRegRBP = 5
	const movRbpRspEnd = 4 // push rbp (1 byte) + mov rbp, rsp (3 bytes)
	var uw []byte
	uw = append(uw, 0x01)                 // version 1, no flags
	uw = append(uw, prologSize)           // size of prolog in bytes
	uw = append(uw, 0x01)                 // one unwind code
	uw = append(uw, frameRegRBP)          // frame register rbp, offset 0
	uw = append(uw, movRbpRspEnd, 0x03)   // UNWIND_CODE: offset, UWOP_SET_FPREG(3)|OpInfo(0)<<4
	for len(uw)%4 != 0 {
		uw = append(uw, 0) // pad to a 4-byte boundary
	}

	unwindInfoOff := uint32(len(g.asm.Code))
	g.asm.Code = append(g.asm.Code, uw...)

	g.asm.PData = append(g.asm.PData, u32le(entryOff)...)
	g.asm.PData = append(g.asm.PData, u32le(endOff)...)
	g.asm.PData = append(g.asm.PData, u32le(unwindInfoOff)...)
}

func u32le(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
