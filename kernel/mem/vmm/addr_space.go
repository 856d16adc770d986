package vmm

import (
	"memkern/kernel"
	"memkern/kernel/mem"
)

// earlyReserveLastUsed tracks the lowest address reserved so far. It starts
// at tempMappingAddr, the end of the address space the kernel is willing to
// hand out via EarlyReserveRegion, and decreases with each reservation.
var earlyReserveLastUsed uintptr = tempMappingAddr

var errEarlyReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}

// EarlyReserveRegion reserves a page-aligned contiguous virtual memory
// region of the requested size (rounded up to a page boundary) and returns
// its start address. Regions are handed out from the top of the kernel's
// address space downward; this is meant for use during early boot only,
// before a general-purpose virtual address space allocator exists.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	size = (size + (mem.PageSize - 1)) &^ (mem.PageSize - 1)

	if uintptr(size) > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= uintptr(size)
	return earlyReserveLastUsed, nil
}
