//go:build linux || darwin

package dyc

import "syscall"

// Executable-memory primitives for Unix-like hosts: §1/§6 treat virtual
// allocation and page protection as an external per-OS collaborator; this
// file is dyc's concrete implementation of that collaborator for
// linux/darwin, built on the standard library's syscall.Mmap/Mprotect
// rather than a hand-rolled cgo wrapper.

func newExecMemory() *execMemory {
	return &execMemory{mappings: make(map[string]*mappedUnit)}
}

// reset (re)maps every image's assembled code into fresh RW pages, freeing
// any prior mapping for the same unit first (§4.7 step 1: "If a prior code
// page exists for this unit, it is freed first"). The mapping stays
// read-write until protectExecutable flips it to read-execute once fixups
// have been written into it — img.Code is repointed at the mapped bytes so
// that subsequent fixup writes land in the pages that will actually run.
func (e *execMemory) reset(images []*CodeImage) error {
	for _, img := range images {
		name := img.Unit.File.Name
		if old, ok := e.mappings[name]; ok {
			if err := syscall.Munmap(old.mem); err != nil {
				return &LinkError{Msg: "munmap of prior code page for " + name + " failed: " + err.Error()}
			}
			delete(e.mappings, name)
		}

		size := len(img.Code)
		if size == 0 {
			img.CodeBase = 0
			continue
		}
		mem, err := syscall.Mmap(-1, 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_PRIVATE|syscall.MAP_ANON)
		if err != nil {
			return &LinkError{Msg: "mmap of executable memory for " + name + " failed: " + err.Error()}
		}
		copy(mem, img.Code)
		img.Code = mem
		img.CodeBase = uintptr(sliceAddr(mem))

		for fn := range img.Exports {
			img.Exports[fn] += img.CodeBase
		}

		e.mappings[name] = &mappedUnit{base: img.CodeBase, mem: mem}
	}
	return nil
}

// protectExecutable flips every newly mapped unit's pages from RW to RX
// (§4.7 step 5), the final step before the linker hands addresses back to
// the caller.
func (e *execMemory) protectExecutable(images []*CodeImage) error {
	for _, img := range images {
		if len(img.Code) == 0 {
			continue
		}
		if err := syscall.Mprotect(img.Code, syscall.PROT_READ|syscall.PROT_EXEC); err != nil {
			return &LinkError{Msg: "mprotect(RX) failed: " + err.Error()}
		}
	}
	return nil
}

func (e *execMemory) close() error {
	var firstErr error
	for name, m := range e.mappings {
		if err := syscall.Munmap(m.mem); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.mappings, name)
	}
	return firstErr
}
