package dyc

// SysV x86-64 argument classification and frame layout (§4.6). dyc uses a
// simplified classifier: every parameter is either integer-class (ints,
// pointers, and — as a documented scope cut, see DESIGN.md — struct/union
// values, passed as a pointer to a temporary copy rather than unpacked
// into eightbytes) or float-class (float/double, double standing in for
// long double per this implementation's scope). Six integer and eight
// float registers are available before a parameter spills to the stack,
// matching the real ABI's register counts even though the struct-
// classification itself is reduced.

// sysvAssignFrame lays out fn's locals and parameters relative to rbp,
// and reserves retBufOffset when the function returns a large struct.
func (g *Generator) sysvAssignFrame(fn *Obj) {
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

	intN, fpN := 0, 0
	for _, p := range fn.Params {
		if isFlonum(p.Ty) {
			fpN++
		} else {
			intN++
		}
		if (isFlonum(p.Ty) && fpN <= 8) || (!isFlonum(p.Ty) && intN <= 6) {
			p.IsLocal = true
			p.Offset = reserve(p.Ty)
		}
	}

	// Stack-passed overflow parameters live above the return address,
	// at positive offsets from rbp, in declaration order.
	stackOff := int64(16)
	intN, fpN = 0, 0
	for _, p := range fn.Params {
		var overflow bool
		if isFlonum(p.Ty) {
			fpN++
			overflow = fpN > 8
		} else {
			intN++
			overflow = intN > 6
		}
		if overflow {
			p.IsLocal = true
			p.Offset = stackOff
			stackOff += 8
		}
	}

	if fn.VaArea != nil {
		fn.VaArea.IsLocal = true
		fn.VaArea.Offset = reserve(&Type{Size: 176, Align: 16})
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

	fn.StackSize = alignUp(offset, 16)
}

// sysvHomeParams copies every register-passed parameter from its
// argument register into its stack home, and (for a variadic function)
// spills the remaining argument registers into the va_area register-save
// area, mirroring dyibicc's codegen.c var-arg prologue.
func (g *Generator) sysvHomeParams(fn *Obj) {
	intN, fpN := 0, 0
	for _, p := range fn.Params {
		if isFlonum(p.Ty) {
			if fpN < len(argFPRegsSysV) {
				g.asm.StoreXmmMem(RBP, argFPRegsSysV[fpN], int32(p.Offset))
			}
			fpN++
		} else {
			if intN < len(argIntRegsSysV) {
				g.asm.StoreMem(RBP, argIntRegsSysV[intN], int32(p.Offset), 8)
			}
			intN++
		}
	}

	if fn.VaArea == nil {
		return
	}
	base := fn.VaArea.Offset
	for i := intN; i < len(argIntRegsSysV); i++ {
		g.asm.StoreMem(RBP, argIntRegsSysV[i], int32(base+int64(i-intN)*8), 8)
	}
	fpBase := base + 48
	for i := fpN; i < len(argFPRegsSysV); i++ {
		g.asm.StoreXmmMem(RBP, argFPRegsSysV[i], int32(fpBase+int64(i-fpN)*16))
	}
}
