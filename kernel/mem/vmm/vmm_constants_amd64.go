package vmm

import "memkern/kernel/mem"

const (
	// pageLevels is the depth of the amd64 paging hierarchy: P4, P3, P2, P1.
	pageLevels = 4

	// entryCount is the number of entries in a single page table.
	entryCount = 512

	// recursiveIndex is the P4 slot that the boot assembly (and, once
	// rebuilt, InactivePageTable) points back at the P4 frame itself.
	recursiveIndex = 511

	// pdtVirtualAddr is the virtual address at which the active P4 table
	// is reachable: P4[511] -> P4, P3[511][511] -> P3, and so on. Walking
	// one level down simply means shifting this address left by 9 bits
	// and OR-ing in the next level's table index.
	pdtVirtualAddr = ^uintptr(0) &^ uintptr(mem.PageSize-1)

	// tempMappingAddr is the fixed virtual address TemporaryPage and
	// MapTemporary use to establish a scratch mapping. It decodes to
	// indices {510, 511, 511, 511}, one short of the fully recursive
	// address so it never aliases a real table.
	tempMappingAddr = 0xffffff7ffffff000

	// ptePhysPageMask isolates the physical frame address bits (12-51)
	// of a page table entry.
	ptePhysPageMask = 0x000ffffffffff000

	// pageIndexMask isolates a single 9-bit paging-level index.
	pageIndexMask = 0x1ff

	// hugePage2MiBFrames is the number of 4 KiB frames spanned by a
	// 2 MiB P2-level huge page; a huge page's start frame must be a
	// multiple of this.
	hugePage2MiBFrames = 512

	// hugePage1GiBFrames is the number of 4 KiB frames spanned by a
	// 1 GiB P3-level huge page.
	hugePage1GiBFrames = 512 * 512

	// vgaBufferPhysAddr is the physical address of the VGA text-mode
	// buffer that remap_kernel identity-maps so the console keeps working
	// after the switch to the new address space.
	vgaBufferPhysAddr = 0xb8000
)

// pageLevelShifts holds, for each paging level (P4, P3, P2, P1), the number
// of bits a virtual address must be shifted right to isolate that level's
// 9-bit table index.
var pageLevelShifts = [pageLevels]uint{39, 30, 21, 12}

// pageLevelBits holds the width, in bits, of each paging level's table
// index. All four levels use 9-bit indices on amd64.
var pageLevelBits = [pageLevels]uint{9, 9, 9, 9}
