package console

import "unsafe"

// sliceAddr returns the address backing fb so tests can exercise Init with a
// plain Go slice instead of a real physical framebuffer address.
func sliceAddr(fb []uint16) uintptr {
	return uintptr(unsafe.Pointer(&fb[0]))
}
