package dyc

// CallEntry jumps into a compiled, zero-argument function at addr and
// returns whatever it left in rax, truncated to int64 (§6's driver
// contract). This is the one place dyc actually executes code it just
// linked, rather than only producing addresses for an embedder to call
// however they like — callEntry0 is a tiny hand-written assembly
// trampoline (invoke_amd64.s) because Go cannot call an arbitrary raw
// function pointer without either cgo or an assembly shim, and a shim is
// the lighter-weight, dependency-free option for a JIT that already owns
// its own executable-memory management.
func CallEntry(addr uintptr) int64 {
	return callEntry0(addr)
}

func callEntry0(addr uintptr) int64
