//go:build windows

package dyc

import (
	"syscall"
	"unsafe"
)

// Executable-memory primitives for Windows (§1/§6): VirtualAlloc/
// VirtualProtect/VirtualFree via kernel32, plus RtlAddFunctionTable to
// register each unit's RUNTIME_FUNCTION array (§4.6's Win64 unwind info,
// §6) so the OS can unwind through JIT-ed frames during SEH (e.g. a
// host-side exception handler walking the stack through compiled code).

var (
	kernel32            = syscall.NewLazyDLL("kernel32.dll")
	ntdll                = syscall.NewLazyDLL("ntdll.dll")
	procVirtualAlloc     = kernel32.NewProc("VirtualAlloc")
	procVirtualProtect   = kernel32.NewProc("VirtualProtect")
	procVirtualFree      = kernel32.NewProc("VirtualFree")
	procAddFunctionTable = kernel32.NewProc("RtlAddFunctionTable")
	procDelFunctionTable = kernel32.NewProc("RtlDeleteFunctionTable")
)

const (
	memCommit     = 0x1000
	memReserve    = 0x2000
	memRelease    = 0x8000
	pageReadWrite = 0x04
	pageExecRead  = 0x20
)

func newExecMemory() *execMemory {
	return &execMemory{mappings: make(map[string]*mappedUnit)}
}

func virtualAlloc(size int) ([]byte, error) {
	addr, _, err := procVirtualAlloc.Call(0, uintptr(size), memCommit|memReserve, pageReadWrite)
	if addr == 0 {
		return nil, err
	}
	var b []byte
	h := (*sliceHeader)(unsafe.Pointer(&b))
	h.Data = addr
	h.Len = size
	h.Cap = size
	return b, nil
}

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

// reset mirrors memhost_unix.go's semantics on Windows: free any prior
// mapping for this unit, commit fresh RW pages, copy the assembled code
// in, and repoint img.Code at the committed pages (§4.7 step 1).
func (e *execMemory) reset(images []*CodeImage) error {
	for _, img := range images {
		name := img.Unit.File.Name
		if old, ok := e.mappings[name]; ok {
			if old.unwindHandle != 0 {
				procDelFunctionTable.Call(old.unwindHandle)
			}
			procVirtualFree.Call(sliceAddr(old.mem), 0, memRelease)
			delete(e.mappings, name)
		}

		size := len(img.Code)
		if size == 0 {
			img.CodeBase = 0
			continue
		}
		mem, err := virtualAlloc(size)
		if err != nil {
			return &LinkError{Msg: "VirtualAlloc failed for " + name + ": " + err.Error()}
		}
		copy(mem, img.Code)
		img.Code = mem
		img.CodeBase = sliceAddr(mem)

		for fn := range img.Exports {
			img.Exports[fn] += img.CodeBase
		}

		e.mappings[name] = &mappedUnit{base: img.CodeBase, mem: mem}
	}
	return nil
}

func (e *execMemory) protectExecutable(images []*CodeImage) error {
	for _, img := range images {
		if len(img.Code) == 0 {
			continue
		}
		var old uintptr
		ok, _, err := procVirtualProtect.Call(sliceAddr(img.Code), uintptr(len(img.Code)), pageExecRead, uintptr(unsafe.Pointer(&old)))
		if ok == 0 {
			return &LinkError{Msg: "VirtualProtect(RX) failed: " + err.Error()}
		}
		if m, found := e.mappings[img.Unit.File.Name]; found && len(img.PData) > 0 {
			m.unwindHandle, _, _ = procAddFunctionTable.Call(
				sliceAddr(img.PData), uintptr(len(img.PData)/unwindEntrySize), img.CodeBase)
		}
	}
	return nil
}

// unwindEntrySize is sizeof(RUNTIME_FUNCTION): three 32-bit RVAs
// (BeginAddress, EndAddress, UnwindInfoAddress), §4.6/§6.
const unwindEntrySize = 12

func (e *execMemory) close() error {
	var firstErr error
	for name, m := range e.mappings {
		if m.unwindHandle != 0 {
			procDelFunctionTable.Call(m.unwindHandle)
		}
		_, _, err := procVirtualFree.Call(sliceAddr(m.mem), 0, memRelease)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.mappings, name)
	}
	return firstErr
}
