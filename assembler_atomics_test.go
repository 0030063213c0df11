package dyc

import "testing"

// TestLockCmpxchgEncoding checks that `lock cmpxchg [rax], rcx` emits the
// documented byte sequence: lock prefix, REX.W, two-byte opcode, ModRM and
// a zero disp32 (the assembler always uses the disp32 addressing form).
func TestLockCmpxchgEncoding(t *testing.T) {
	a := NewAssembler()
	a.LockCmpxchg(RAX, RCX)
	want := []byte{0xF0, 0x48, 0x0F, 0xB1, 0x88, 0x00, 0x00, 0x00, 0x00}
	if string(a.Code) != string(want) {
		t.Errorf("LockCmpxchg(RAX, RCX) = % x, want % x", a.Code, want)
	}
}

// TestXchgEncoding checks that `xchg [rax], rdx` emits REX.W + 0x87 + ModRM
// + a zero disp32 with no lock prefix byte (xchg against memory is
// implicitly locked).
func TestXchgEncoding(t *testing.T) {
	a := NewAssembler()
	a.Xchg(RAX, RDX)
	want := []byte{0x48, 0x87, 0x90, 0x00, 0x00, 0x00, 0x00}
	if string(a.Code) != string(want) {
		t.Errorf("Xchg(RAX, RDX) = % x, want % x", a.Code, want)
	}
}

// TestLockXaddEncoding checks that `lock xadd [rax], rcx` emits the lock
// prefix, REX.W, two-byte opcode, ModRM, and a zero disp32.
func TestLockXaddEncoding(t *testing.T) {
	a := NewAssembler()
	a.LockXadd(RAX, RCX)
	want := []byte{0xF0, 0x48, 0x0F, 0xC1, 0x88, 0x00, 0x00, 0x00, 0x00}
	if string(a.Code) != string(want) {
		t.Errorf("LockXadd(RAX, RCX) = % x, want % x", a.Code, want)
	}
}

// TestLockCmpxchgExtendedRegs checks that REX.R/B bits are set for an
// r8-or-above memory base or source register.
func TestLockCmpxchgExtendedRegs(t *testing.T) {
	a := NewAssembler()
	a.LockCmpxchg(R11, R9)
	if a.Code[0] != 0xF0 {
		t.Fatalf("expected lock prefix byte, got %x", a.Code[0])
	}
	rexByte := a.Code[1]
	if rexByte&0x4D != 0x4D { // W, R, B all set
		t.Errorf("REX byte = %x, want W|R|B bits set", rexByte)
	}
}
