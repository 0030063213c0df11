package dyc

// TypeKind tags a Type's variant. Mirrors dyibicc's TypeKind (§3, §4.4).
type TypeKind int

const (
	TyVoid TypeKind = iota
	TyBool
	TyChar
	TyShort
	TyInt
	TyLong
	TyFloat
	TyDouble
	TyLDouble
	TyEnum
	TyPtr
	TyFunc
	TyArray
	TyVLA
	TyStruct
	TyUnion
)

// Type is a C type. Array and pointer share Base (an array decays to
// pointer by examining Base, not Kind, as §3 specifies) so that code which
// only cares about "pointee type" doesn't need a TyArray/TyPtr switch.
type Type struct {
	Kind       TypeKind
	Size       int64
	Align      int64
	IsUnsigned bool
	IsAtomic   bool
	Origin     *Type // for compatibility tracking across qualified copies

	Base *Type // pointer-to or array-of

	Name    *Token
	NamePos *Token

	ArrayLen int64

	VLALen  *Node  // # of elements, for TyVLA
	VLASize *Obj   // sizeof() value, computed at runtime

	Members     []*Member
	IsFlexible  bool
	IsPacked    bool

	ReturnTy    *Type
	Params      []*Type
	ParamNames  []string
	IsVariadic  bool
}

// Member is one struct/union field.
type Member struct {
	Ty     *Type
	Tok    *Token
	Name   string
	Idx    int
	Align  int64
	Offset int64

	IsBitfield bool
	BitOffset  int64
	BitWidth   int64
}

// ABI selects which calling convention layout rules apply (§4.6).
type ABI int

const (
	ABISysV ABI = iota
	ABIWin64
)

// Package-level singleton base types. Win64's long is 4 bytes and long
// double is a synonym for double (§4.4); dyc keeps a single set of vars,
// laid out for SysV, and longSizeForABI / ldoubleTypeForABI below give
// the Win64 size of long and type of long double.
var (
	tyVoid   = &Type{Kind: TyVoid, Size: 1, Align: 1}
	tyBool   = &Type{Kind: TyBool, Size: 1, Align: 1}
	tyChar   = &Type{Kind: TyChar, Size: 1, Align: 1}
	tyShort  = &Type{Kind: TyShort, Size: 2, Align: 2}
	tyInt    = &Type{Kind: TyInt, Size: 4, Align: 4}
	tyLong   = &Type{Kind: TyLong, Size: 8, Align: 8}
	tyUChar  = &Type{Kind: TyChar, Size: 1, Align: 1, IsUnsigned: true}
	tyUShort = &Type{Kind: TyShort, Size: 2, Align: 2, IsUnsigned: true}
	tyUInt   = &Type{Kind: TyInt, Size: 4, Align: 4, IsUnsigned: true}
	tyULong  = &Type{Kind: TyLong, Size: 8, Align: 8, IsUnsigned: true}
	tyFloat  = &Type{Kind: TyFloat, Size: 4, Align: 4}
	tyDouble = &Type{Kind: TyDouble, Size: 8, Align: 8}
	tyLDouble = &Type{Kind: TyLDouble, Size: 16, Align: 16}
)

// longSizeForABI returns the size/align of `long` for the given ABI: 8 on
// SysV, 4 on Win64 (§4.4's layout rules).
func longSizeForABI(abi ABI) int64 {
	if abi == ABIWin64 {
		return 4
	}
	return 8
}

// ldoubleTypeForABI returns the `long double` type for the ABI: a distinct
// 16-byte x87 type on SysV, a synonym for double on Win64.
func ldoubleTypeForABI(abi ABI) *Type {
	if abi == ABIWin64 {
		return tyDouble
	}
	return tyLDouble
}

func isInteger(ty *Type) bool {
	switch ty.Kind {
	case TyBool, TyChar, TyShort, TyInt, TyLong, TyEnum:
		return true
	}
	return false
}

func isFlonum(ty *Type) bool {
	switch ty.Kind {
	case TyFloat, TyDouble, TyLDouble:
		return true
	}
	return false
}

func isNumeric(ty *Type) bool { return isInteger(ty) || isFlonum(ty) }
func isVoid(ty *Type) bool    { return ty.Kind == TyVoid }

func isPtrOrArray(ty *Type) bool {
	return ty.Base != nil && (ty.Kind == TyPtr || ty.Kind == TyArray || ty.Kind == TyVLA)
}

// copyType performs a shallow structural copy preserving Origin, used to
// attach qualifiers without aliasing the canonical type (§4.4).
func copyType(ty *Type) *Type {
	cp := *ty
	cp.Origin = ty
	return &cp
}

func pointerTo(base *Type) *Type {
	return &Type{Kind: TyPtr, Size: 8, Align: 8, Base: base}
}

func funcType(returnTy *Type) *Type {
	return &Type{Kind: TyFunc, ReturnTy: returnTy}
}

func arrayOf(base *Type, length int, errTok *Token) *Type {
	if base.Size < 0 {
		panic(&TypeError{Tok: errTok, Msg: "array of incomplete element type"})
	}
	return &Type{
		Kind:     TyArray,
		Size:     base.Size * int64(length),
		Align:    base.Align,
		Base:     base,
		ArrayLen: int64(length),
	}
}

func vlaOf(base *Type, lenExpr *Node) *Type {
	return &Type{Kind: TyVLA, Size: 8, Align: 8, Base: base, VLALen: lenExpr}
}

func enumType() *Type {
	return &Type{Kind: TyEnum, Size: 4, Align: 4}
}

func structType() *Type {
	return &Type{Kind: TyStruct, Size: 0, Align: 1}
}

// isCompatible implements C11 type compatibility by structure (§4.4),
// ignoring qualifier rank for pointer targets (C11 permits this for
// assignment/comparison even though strict compatibility cares).
func isCompatible(t1, t2 *Type) bool {
	if t1 == t2 {
		return true
	}
	if t1.Origin != nil {
		return isCompatible(t1.Origin, t2)
	}
	if t2.Origin != nil {
		return isCompatible(t1, t2.Origin)
	}
	if t1.Kind != t2.Kind {
		return false
	}
	switch t1.Kind {
	case TyChar, TyShort, TyInt, TyLong:
		return t1.IsUnsigned == t2.IsUnsigned
	case TyFloat, TyDouble, TyLDouble, TyVoid, TyBool:
		return true
	case TyEnum:
		return true
	case TyPtr:
		return isCompatible(t1.Base, t2.Base)
	case TyArray:
		if !isCompatible(t1.Base, t2.Base) {
			return false
		}
		return t1.ArrayLen < 0 || t2.ArrayLen < 0 || t1.ArrayLen == t2.ArrayLen
	case TyFunc:
		if !isCompatible(t1.ReturnTy, t2.ReturnTy) {
			return false
		}
		if len(t1.Params) != len(t2.Params) {
			return false
		}
		for i := range t1.Params {
			if !isCompatible(t1.Params[i], t2.Params[i]) {
				return false
			}
		}
		return true
	case TyStruct, TyUnion:
		return false // distinct tags are never compatible unless identical (t1==t2 above)
	}
	return false
}

// --- Layout (§4.4) ---

// layoutStruct assigns Offset (and BitOffset/BitWidth for bitfields) to
// every member of a struct type and computes the struct's own Size/Align,
// matching dyibicc's struct_decl layout pass.
func layoutStruct(ty *Type) {
	var offset int64
	var align int64 = 1
	var bitOffset int64 // bit position within the current storage unit
	var unitTy *Type    // type of the storage unit currently being packed

	for _, m := range ty.Members {
		if m.IsBitfield {
			if m.BitWidth == 0 {
				// A zero-width bitfield forces alignment to the next unit.
				offset = alignUp(offset, int64(m.Ty.Align))
				bitOffset = 0
				unitTy = nil
				continue
			}
			if unitTy == nil || unitTy != m.Ty || bitOffset+m.BitWidth > m.Ty.Size*8 {
				offset = alignUp(offset, int64(m.Ty.Align))
				unitTy = m.Ty
				bitOffset = 0
			}
			m.Offset = offset
			m.BitOffset = bitOffset
			bitOffset += m.BitWidth
			if !ty.IsPacked && int64(m.Ty.Align) > align {
				align = int64(m.Ty.Align)
			}
			continue
		}
		unitTy = nil
		bitOffset = 0
		memberAlign := int64(1)
		if !ty.IsPacked {
			memberAlign = m.Ty.Align
		}
		offset = alignUp(offset, memberAlign)
		m.Offset = offset
		if !m.Ty.IsFlexible {
			offset += m.Ty.Size
		}
		if memberAlign > align {
			align = memberAlign
		}
	}
	ty.Align = align
	ty.Size = alignUp(offset, align)
}

// layoutUnion overlays every member at offset 0; size is the widest member
// rounded up to the union's alignment (§4.4).
func layoutUnion(ty *Type) {
	var size int64
	var align int64 = 1
	for _, m := range ty.Members {
		m.Offset = 0
		if m.Ty.Size > size {
			size = m.Ty.Size
		}
		if m.Ty.Align > align {
			align = m.Ty.Align
		}
	}
	ty.Align = align
	ty.Size = alignUp(size, align)
}

// arrayLayoutAlign implements §4.4's SysV rule: arrays of >=16 bytes get
// alignment max(16, base align).
func arrayLayoutAlign(ty *Type) int64 {
	if ty.Size >= 16 && ty.Base.Align < 16 {
		return 16
	}
	return ty.Base.Align
}

func alignUp(n, align int64) int64 {
	if align <= 0 {
		align = 1
	}
	return (n + align - 1) / align * align
}
