package vmm

import (
	"memkern/kernel/mem"
	"unsafe"
)

// ptePtrFn returns a pointer to the supplied entry address. It is
// overridden by tests so walk() can be exercised without real page tables.
// When compiling the kernel this function is automatically inlined.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// pageTableWalker is invoked by walk with the current page level (0 for P4
// through pageLevels-1 for P1) and the page table entry at that level. If it
// returns false, the walk stops immediately.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address, invoking
// walkFn once per paging level via the recursively-mapped P4. Realizing the
// type-indexed Table<L> hierarchy as a single runtime-checked walk (rather
// than a phantom-typed table per level) keeps the non-leaf/leaf distinction
// in walkFn's pteLevel argument instead of the type system.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
		ok                               bool
	)

	// tableAddr starts out as the recursively-mapped virtual address of
	// the top-level table. Shifting it left by 9 bits per level adds one
	// more level of indirection through the recursive P4[511] slot.
	for level, tableAddr = uint8(0), pdtVirtualAddr; level < pageLevels; level, tableAddr = level+1, entryAddr {
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + (entryIndex << mem.PointerShift)

		if ok = walkFn(level, (*pageTableEntry)(ptePtrFn(entryAddr))); !ok {
			return
		}

		entryAddr <<= pageLevelBits[level]
	}
}
