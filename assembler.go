package dyc

// A minimal x86-64 macro-assembler: labels, PC-relative fixups, and a
// handful of instruction encoders. This stands in for the external
// "assembler dependency" named in §9's Design Notes (new_label,
// bind_label, emit, patch_rel32, base_address, size) — dyc owns its
// encoder instead of shelling out to one, since the whole point of the
// exercise is to produce executable bytes directly into mapped memory.
//
// Codegen only ever emits into the Code buffer; BaseAddress is filled in
// once the linker has mapped that buffer into executable memory (§4.7),
// at which point AbsFixups are the only outstanding patches — every
// PC-relative jump/call inside one Assembler's buffer is resolved by
// Finalize before the buffer ever leaves Go-managed memory, because a
// same-buffer relative displacement survives being copied to a new base
// address unchanged.

// Reg is a general-purpose register, numbered the way the x86-64 ModRM/SIB
// encoding wants it (0-7 for the legacy set, 8-15 needing REX.B/X/R).
type Reg int

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// XReg is an xmm register, 0-15, used for float/double values (§4.6).
type XReg int

const (
	XMM0 XReg = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
)

// argIntRegsSysV / argIntRegsWin64 are the integer argument-passing
// registers in order, per §4.6's calling-convention tables.
var argIntRegsSysV = []Reg{RDI, RSI, RDX, RCX, R8, R9}
var argIntRegsWin64 = []Reg{RCX, RDX, R8, R9}
var argFPRegsSysV = []XReg{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7}
var argFPRegsWin64 = []XReg{XMM0, XMM1, XMM2, XMM3}

// Label is a position in an Assembler's code buffer, either still pending
// (referenced before it is known, e.g. a forward goto) or bound.
type Label struct {
	bound  bool
	offset int
}

type pendingRel32 struct {
	at  int // byte offset in code where the rel32 placeholder begins
	lbl *Label
}

// symFixup is an absolute 8-byte patch recorded against a byte offset in
// the code buffer, resolved once the buffer's final base address and the
// symbol's address are both known (§3's Link fixup, §4.7).
type symFixup struct {
	at     int
	name   string
	addend int64
}

// Assembler accumulates one translation unit's machine code plus, on
// Win64, its pdata (unwind info) section (§4.6, §6's RUNTIME_FUNCTION).
type Assembler struct {
	Code  []byte
	PData []byte

	labels  []*Label
	pending []pendingRel32
	fixups  []symFixup

	base uintptr // filled in by the linker once mapped (§4.7)
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// NewLabel allocates an unbound label (dyibicc's codegen_pclabel).
func (a *Assembler) NewLabel() *Label {
	l := &Label{}
	a.labels = append(a.labels, l)
	return l
}

// Bind fixes a label's address to the assembler's current write position.
func (a *Assembler) Bind(l *Label) {
	l.bound = true
	l.offset = len(a.Code)
}

func (a *Assembler) Size() int { return len(a.Code) }

// BaseAddress returns the address this buffer was mapped at, valid after
// the linker has called SetBase.
func (a *Assembler) BaseAddress() uintptr { return a.base }
func (a *Assembler) SetBase(base uintptr) { a.base = base }

func (a *Assembler) emit(b ...byte) { a.Code = append(a.Code, b...) }

func (a *Assembler) emit32(v uint32) {
	a.emit(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *Assembler) emit64(v uint64) {
	a.emit32(uint32(v))
	a.emit32(uint32(v >> 32))
}

// rel32To emits a 4-byte placeholder and records a pending patch against
// lbl, resolved by Finalize once every label referenced is bound.
func (a *Assembler) rel32To(lbl *Label) {
	a.pending = append(a.pending, pendingRel32{at: len(a.Code), lbl: lbl})
	a.emit32(0)
}

// AbsFixup records a byte offset whose 8-byte contents must be patched at
// link time to `symbol + addend` (§3's Relocation / Link fixup). Used for
// address-of a global/external function and for every direct call target,
// including functions defined in the same unit.
func (a *Assembler) AbsFixup(name string, addend int64) {
	a.fixups = append(a.fixups, symFixup{at: len(a.Code), name: name, addend: addend})
	a.emit64(0)
}

// Fixups returns the accumulated absolute fixups, to be attached to a
// CodeImage once the code buffer's final mapped address is known.
func (a *Assembler) Fixups() []symFixup { return a.fixups }

// Finalize patches every pending rel32 branch now that all labels visited
// during one function's (or one unit's) codegen are bound. Must run before
// the buffer is handed to the linker for mapping.
func (a *Assembler) Finalize() error {
	for _, p := range a.pending {
		if !p.lbl.bound {
			return &InternalError{File: "assembler.go", Line: 0, Msg: "unbound label referenced by rel32 patch"}
		}
		disp := int32(p.lbl.offset - (p.at + 4))
		a.Code[p.at] = byte(disp)
		a.Code[p.at+1] = byte(disp >> 8)
		a.Code[p.at+2] = byte(disp >> 16)
		a.Code[p.at+3] = byte(disp >> 24)
	}
	a.pending = nil
	return nil
}

// --- REX / ModRM helpers ---

func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm int) byte {
	return byte(mod<<6 | (reg&7)<<3 | (rm & 7))
}

// regBits splits a Reg into its low 3 bits and whether it needs the
// extension bit (r8-r15).
func regBits(r Reg) (byte, bool) { return byte(r & 7), r >= R8 }

// --- Data movement ---

// MovRegReg: mov dst, src (64-bit by default, or 32-bit if !wide).
func (a *Assembler) MovRegReg(dst, src Reg, wide bool) {
	dl, dx := regBits(dst)
	sl, sx := regBits(src)
	a.emit(rex(wide, sx, false, dx))
	a.emit(0x89)
	a.emit(modrm(3, int(sl), int(dl)))
}

// MovImm64 loads a full 64-bit immediate (movabs), used both for literal
// constants and as the placeholder instruction patched by an AbsFixup
// (§4.6's address-of lowering rule).
func (a *Assembler) MovImm64(dst Reg, val uint64) {
	dl, dx := regBits(dst)
	a.emit(rex(true, false, false, dx))
	a.emit(0xB8 + dl)
	a.emit64(val)
}

// MovImm32 zero-extends a 32-bit immediate into a 64-bit register.
func (a *Assembler) MovImm32(dst Reg, val uint32) {
	dl, dx := regBits(dst)
	if dx {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xB8 + dl) // mov r32, imm32: the upper 32 bits are cleared
	a.emit32(val)
}

// LoadMem: mov dst, [base+disp32], sized 1/2/4/8 bytes with sign or zero
// extension to fill the 64-bit register (§4.6's load/store convention:
// chibicc-style "always carry values in full registers, truncate on
// store").
func (a *Assembler) LoadMem(dst, base Reg, disp int32, size int64, unsigned bool) {
	dl, dx := regBits(dst)
	bl, bx := regBits(base)
	switch size {
	case 1:
		if unsigned {
			a.emit(rex(true, dx, false, bx), 0x0F, 0xB6)
		} else {
			a.emit(rex(true, dx, false, bx), 0x0F, 0xBE)
		}
	case 2:
		if unsigned {
			a.emit(rex(true, dx, false, bx), 0x0F, 0xB7)
		} else {
			a.emit(rex(true, dx, false, bx), 0x0F, 0xBF)
		}
	case 4:
		if unsigned {
			a.emit(rex(false, dx, false, bx))
			a.emit(0x8B)
		} else {
			a.emit(rex(true, dx, false, bx), 0x63) // movsxd
		}
	default: // 8
		a.emit(rex(true, dx, false, bx))
		a.emit(0x8B)
	}
	a.emitModRMDisp(int(dl), bl, base, disp)
}

// StoreMem: mov [base+disp32], src, truncated to size bytes.
func (a *Assembler) StoreMem(base, src Reg, disp int32, size int64) {
	sl, sx := regBits(src)
	bl, bx := regBits(base)
	switch size {
	case 1:
		a.emit(rex(false, sx, false, bx))
		a.emit(0x88)
	case 2:
		a.emit(0x66)
		a.emit(rex(false, sx, false, bx))
		a.emit(0x89)
	case 4:
		a.emit(rex(false, sx, false, bx))
		a.emit(0x89)
	default:
		a.emit(rex(true, sx, false, bx))
		a.emit(0x89)
	}
	a.emitModRMDisp(int(sl), bl, base, disp)
}

// Lea: lea dst, [base+disp32].
func (a *Assembler) Lea(dst, base Reg, disp int32) {
	dl, dx := regBits(dst)
	bl, bx := regBits(base)
	a.emit(rex(true, dx, false, bx))
	a.emit(0x8D)
	a.emitModRMDisp(int(dl), bl, base, disp)
}

// emitModRMDisp writes the ModRM(+SIB if rsp)+disp32 bytes addressing
// [base+disp]; always uses the disp32 form for simplicity (never the
// disp0/disp8 short forms), which is correct, just not size-optimal.
func (a *Assembler) emitModRMDisp(reg int, baseLow byte, base Reg, disp int32) {
	a.emit(modrm(2, reg, int(baseLow)))
	if base&7 == 4 { // rsp/r12 need a SIB byte
		a.emit(0x24)
	}
	a.emit32(uint32(disp))
}

// --- Stack ---

func (a *Assembler) Push(r Reg) {
	l, x := regBits(r)
	if x {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 + l)
}

func (a *Assembler) Pop(r Reg) {
	l, x := regBits(r)
	if x {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 + l)
}

// SubRspImm32 / AddRspImm32: sub/add rsp, imm32 (frame reservation §4.6).
func (a *Assembler) SubRspImm32(v uint32) { a.arithRspImm32(0x2D, v) }
func (a *Assembler) AddRspImm32(v uint32) { a.arithRspImm32(0x05, v) }
func (a *Assembler) arithRspImm32(op byte, v uint32) {
	a.emit(rex(true, false, false, false))
	a.emit(0x81)
	a.emit(modrm(3, int(opDigit(op)), int(RSP)))
	a.emit32(v)
}
func opDigit(op byte) byte {
	switch op {
	case 0x2D:
		return 5 // sub
	case 0x05:
		return 0 // add
	}
	return 0
}

// --- Integer ALU, reg,reg form ---

type AluOp int

const (
	AluAdd AluOp = iota
	AluSub
	AluAnd
	AluOr
	AluXor
	AluCmp
)

var aluOpcode = map[AluOp]byte{AluAdd: 0x01, AluSub: 0x29, AluAnd: 0x21, AluOr: 0x09, AluXor: 0x31, AluCmp: 0x39}

func (a *Assembler) Alu(op AluOp, dst, src Reg, wide bool) {
	dl, dx := regBits(dst)
	sl, sx := regBits(src)
	a.emit(rex(wide, sx, false, dx))
	a.emit(aluOpcode[op])
	a.emit(modrm(3, int(sl), int(dl)))
}

// IMul: imul dst, src (two-operand form).
func (a *Assembler) IMul(dst, src Reg) {
	dl, dx := regBits(dst)
	sl, sx := regBits(src)
	a.emit(rex(true, dx, false, sx))
	a.emit(0x0F, 0xAF)
	a.emit(modrm(3, int(dl), int(sl)))
}

// Cqo sign-extends rax into rdx:rax ahead of idiv.
func (a *Assembler) Cqo() { a.emit(rex(true, false, false, false), 0x99) }

// IDiv/Div: idiv/div rdx:rax by src, quotient in rax, remainder in rdx.
func (a *Assembler) IDiv(src Reg) { a.divOp(src, 7) }
func (a *Assembler) Div(src Reg)  { a.divOp(src, 6) }
func (a *Assembler) divOp(src Reg, digit int) {
	sl, sx := regBits(src)
	a.emit(rex(true, false, false, sx))
	a.emit(0xF7)
	a.emit(modrm(3, digit, int(sl)))
}

func (a *Assembler) Neg(r Reg) {
	l, x := regBits(r)
	a.emit(rex(true, false, false, x), 0xF7, modrm(3, 3, int(l)))
}

func (a *Assembler) Not(r Reg) {
	l, x := regBits(r)
	a.emit(rex(true, false, false, x), 0xF7, modrm(3, 2, int(l)))
}

// ShiftCL: shl/shr/sar dst, cl. kind: 4=shl 5=shr 7=sar.
func (a *Assembler) ShiftCL(dst Reg, kind int) {
	l, x := regBits(dst)
	a.emit(rex(true, false, false, x), 0xD3, modrm(3, kind, int(l)))
}
func (a *Assembler) Shl(dst Reg) { a.ShiftCL(dst, 4) }
func (a *Assembler) Shr(dst Reg) { a.ShiftCL(dst, 5) }
func (a *Assembler) Sar(dst Reg) { a.ShiftCL(dst, 7) }

func (a *Assembler) Test(dst, src Reg) {
	dl, dx := regBits(dst)
	sl, sx := regBits(src)
	a.emit(rex(true, sx, false, dx), 0x85, modrm(3, int(sl), int(dl)))
}

func (a *Assembler) CmpImm32(dst Reg, v int32) {
	l, x := regBits(dst)
	a.emit(rex(true, false, false, x), 0x81, modrm(3, 7, int(l)))
	a.emit32(uint32(v))
}

// SetCC sets an 8-bit register to 0/1 per condition code cc, then zero
// extends it into the full register (§4.6's comparison lowering).
type CC int

const (
	CCE CC = iota
	CCNE
	CCL
	CCLE
	CCG
	CCGE
	CCB
	CCBE
	CCA
	CCAE
)

var ccCode = map[CC]byte{CCE: 0x94, CCNE: 0x95, CCL: 0x9C, CCLE: 0x9E, CCG: 0x9F, CCGE: 0x9D, CCB: 0x92, CCBE: 0x96, CCA: 0x97, CCAE: 0x93}

func (a *Assembler) SetCC(cc CC, dst Reg) {
	l, x := regBits(dst)
	if x {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x0F, ccCode[cc])
	a.emit(modrm(3, 0, int(l)))
	a.MovzxReg8(dst, dst)
}

// MovzxReg8: movzx dst(64), src(8) — zero-extend an 8-bit register (the
// output of SetCC) into a full 64-bit one (§4.6's comparison lowering).
func (a *Assembler) MovzxReg8(dst, src Reg) {
	dl, dx := regBits(dst)
	sl, sx := regBits(src)
	a.emit(rex(true, dx, false, sx), 0x0F, 0xB6)
	a.emit(modrm(3, int(dl), int(sl)))
}

// --- Control flow ---

func (a *Assembler) Jmp(l *Label)        { a.emit(0xE9); a.rel32To(l) }
func (a *Assembler) JccLabel(cc CC, l *Label) {
	a.emit(0x0F, ccCode[cc]-0x10) // Jcc rel32 is 0F 8x; ccCode holds the SETcc 0F 9x byte
	a.rel32To(l)
}
func (a *Assembler) Je(l *Label)  { a.JccLabel(CCE, l) }
func (a *Assembler) Jne(l *Label) { a.JccLabel(CCNE, l) }

// CallReg: call through a register (used for every call: a direct target
// is loaded beforehand via MovImm64+AbsFixup, an indirect one is the
// evaluated function pointer, §4.6).
func (a *Assembler) CallReg(r Reg) {
	l, x := regBits(r)
	if x {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF, modrm(3, 2, int(l)))
}

// CallRel32 is a direct call to a label inside this same buffer. genCall
// does not use it; every call it emits goes through CallReg.
func (a *Assembler) CallRel32(l *Label) { a.emit(0xE8); a.rel32To(l) }

func (a *Assembler) Ret() { a.emit(0xC3) }

func (a *Assembler) Leave() { a.emit(0xC9) }

// --- SSE2 scalar double/float ops, used for double/float arithmetic §4.6 ---

func (a *Assembler) sseOp(prefix byte, op byte, dst, src XReg) {
	a.emit(prefix)
	dx := dst >= 8
	sx := src >= 8
	if dx || sx {
		a.emit(rex(false, dx, false, sx))
	}
	a.emit(0x0F, op)
	a.emit(modrm(3, int(dst&7), int(src&7)))
}

func (a *Assembler) MovsdXX(dst, src XReg)  { a.sseOp(0xF2, 0x10, dst, src) }
func (a *Assembler) AddsdXX(dst, src XReg)  { a.sseOp(0xF2, 0x58, dst, src) }
func (a *Assembler) SubsdXX(dst, src XReg)  { a.sseOp(0xF2, 0x5C, dst, src) }
func (a *Assembler) MulsdXX(dst, src XReg)  { a.sseOp(0xF2, 0x59, dst, src) }
func (a *Assembler) DivsdXX(dst, src XReg)  { a.sseOp(0xF2, 0x5E, dst, src) }
func (a *Assembler) UComisdXX(a1, a2 XReg)  { a.sseOp(0x66, 0x2E, a1, a2) }

// CvtsiSd: cvtsi2sd xmm dst, reg src (int64 -> double).
func (a *Assembler) CvtsiSd(dst XReg, src Reg) {
	sl, sx := regBits(src)
	a.emit(0xF2, rex(true, dst >= 8, false, sx), 0x0F, 0x2A, modrm(3, int(dst&7), int(sl)))
}

// CvttsdSi: cvttsd2si reg dst, xmm src (double -> int64, truncating).
func (a *Assembler) CvttsdSi(dst Reg, src XReg) {
	dl, dx := regBits(dst)
	a.emit(0xF2, rex(true, dx, false, src >= 8), 0x0F, 0x2C, modrm(3, int(dl), int(src&7)))
}

func (a *Assembler) LoadXmmMem(dst XReg, base Reg, disp int32) {
	bl, bx := regBits(base)
	a.emit(0xF2)
	if dst >= 8 || bx {
		a.emit(rex(false, dst >= 8, false, bx))
	}
	a.emit(0x0F, 0x10)
	a.emitModRMDisp(int(dst&7), bl, base, disp)
}

func (a *Assembler) StoreXmmMem(base Reg, src XReg, disp int32) {
	bl, bx := regBits(base)
	a.emit(0xF2)
	if src >= 8 || bx {
		a.emit(rex(false, src >= 8, false, bx))
	}
	a.emit(0x0F, 0x11)
	a.emitModRMDisp(int(src&7), bl, base, disp)
}

// Nop emits a single-byte no-op, used to pad alignment-sensitive sites.
func (a *Assembler) Nop() { a.emit(0x90) }

// --- locked RMW forms, used by the GNU __atomic/__sync builtin lowering
// in codegen_call.go (§4.5) ---

// LockCmpxchg: lock cmpxchg [mem], src — compares rax against [mem],
// stores src on success, loads the actual value into rax on failure.
func (a *Assembler) LockCmpxchg(mem, src Reg) {
	ml, mx := regBits(mem)
	sl, sx := regBits(src)
	a.emit(0xF0) // lock
	a.emit(rex(true, sx, false, mx))
	a.emit(0x0F, 0xB1)
	a.emitModRMDisp(int(sl), ml, mem, 0)
}

// Xchg: xchg [mem], reg — atomically swaps reg with the value at [mem]
// (memory-operand xchg carries an implicit lock).
func (a *Assembler) Xchg(mem, reg Reg) {
	ml, mx := regBits(mem)
	rl, rx := regBits(reg)
	a.emit(rex(true, rx, false, mx))
	a.emit(0x87)
	a.emitModRMDisp(int(rl), ml, mem, 0)
}

// LockXadd: lock xadd [mem], reg — atomically adds reg to [mem], leaving
// the prior value of [mem] in reg.
func (a *Assembler) LockXadd(mem, reg Reg) {
	ml, mx := regBits(mem)
	rl, rx := regBits(reg)
	a.emit(0xF0)
	a.emit(rex(true, rx, false, mx))
	a.emit(0x0F, 0xC1)
	a.emitModRMDisp(int(rl), ml, mem, 0)
}
