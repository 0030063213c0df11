package dyc

import "unsafe"

// sliceAddr returns a byte slice's backing array address, used by the
// memhost_* files to record a mapping's base address once the OS hands
// back the mapped pages (§4.7).
func sliceAddr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
