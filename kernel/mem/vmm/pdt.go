package vmm

import (
	"memkern/kernel"
	"memkern/kernel/cpu"
	"memkern/kernel/mem"
	"memkern/kernel/mem/pmm"
	"unsafe"
)

var (
	// activePDTFn and switchPDTFn are overridden by tests; calling the
	// real cpu functions from a hosted test would fault.
	activePDTFn = cpu.ActivePDT
	switchPDTFn = cpu.SwitchPDT

	// flushTLBFn is overridden by tests.
	flushTLBFn = cpu.FlushTLB
)

// ActivePageTable is the unique mutation token for the currently live page
// tables, reached through the recursive P4 mapping. Its zero value is ready
// to use: it carries no state of its own beyond "whichever page table is
// currently active".
type ActivePageTable struct{}

// Translate returns the physical address the given virtual address
// currently translates to.
func (apt *ActivePageTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return Translate(virtAddr)
}

// TranslatePage returns the physical frame the given page currently
// translates to.
func (apt *ActivePageTable) TranslatePage(page Page) (pmm.Frame, *kernel.Error) {
	return TranslatePage(page)
}

// Map allocates a fresh frame via alloc and maps page to it.
func (apt *ActivePageTable) Map(page Page, flags PageTableEntryFlag, alloc FrameAllocatorFn) *kernel.Error {
	frame, err := alloc()
	if err != nil {
		return err
	}
	return apt.mapWithAllocator(page, frame, flags, alloc)
}

// MapTo maps page to frame, routing any intermediate-table allocations
// through alloc.
func (apt *ActivePageTable) MapTo(page Page, frame pmm.Frame, flags PageTableEntryFlag, alloc FrameAllocatorFn) *kernel.Error {
	return apt.mapWithAllocator(page, frame, flags, alloc)
}

// mapWithAllocator is the unexported entry point TemporaryPage uses to
// route through its own TinyAllocator instead of the package-level one.
func (apt *ActivePageTable) mapWithAllocator(page Page, frame pmm.Frame, flags PageTableEntryFlag, alloc FrameAllocatorFn) *kernel.Error {
	return mapWithAllocator(page, frame, flags, alloc)
}

// IdentityMap maps the page with the same number as frame.
func (apt *ActivePageTable) IdentityMap(frame pmm.Frame, flags PageTableEntryFlag, alloc FrameAllocatorFn) *kernel.Error {
	return apt.mapWithAllocator(PageFromAddress(frame.Address()), frame, flags, alloc)
}

// Unmap removes the mapping for page.
func (apt *ActivePageTable) Unmap(page Page) *kernel.Error {
	return Unmap(page)
}

// With temporarily redirects the active P4's recursive slot to point at
// inactive's P4 frame, invokes fn with apt now reaching into inactive's
// tables, then restores the original recursive slot. tmp is used to reach
// the currently active P4 frame (which, once the recursive slot is
// redirected, is itself no longer reachable through recursive mapping).
//
// The active address space is structurally identical on entry and exit;
// only during fn is the recursive slot redirected.
func (apt *ActivePageTable) With(inactive *InactivePageTable, tmp *TemporaryPage, fn func(*ActivePageTable)) *kernel.Error {
	original := pmm.ContainingAddress(activePDTFn())

	// Map tmp to the currently active P4 frame. Once its recursive slot
	// is redirected below, pdtVirtualAddr no longer reaches this frame,
	// so this mapping is the only way to restore it afterwards.
	backupAddr, err := tmp.Map(original, apt)
	if err != nil {
		return err
	}
	backupTable := (*[entryCount]pageTableEntry)(unsafe.Pointer(backupAddr))
	savedRecursiveEntry := backupTable[recursiveIndex]

	backupTable[recursiveIndex] = 0
	backupTable[recursiveIndex].SetFlags(FlagPresent | FlagRW)
	backupTable[recursiveIndex].SetFrame(inactive.p4Frame)
	flushTLBFn()

	fn(apt)

	backupTable[recursiveIndex] = savedRecursiveEntry
	flushTLBFn()

	return tmp.Unmap(apt)
}

// Switch activates new as the current address space, returning the
// previously active one as an InactivePageTable.
func (apt *ActivePageTable) Switch(new *InactivePageTable) InactivePageTable {
	old := InactivePageTable{p4Frame: pmm.ContainingAddress(activePDTFn())}
	switchPDTFn(new.p4Frame.Address())
	return old
}

// InactivePageTable holds the P4 frame of an address space that is not
// currently active. Its tables can only be reached by redirecting the
// active recursive slot at them via ActivePageTable.With.
type InactivePageTable struct {
	p4Frame pmm.Frame
}

// NewInactivePageTable builds a fresh, empty address space in frame: it
// temporarily maps frame, zeroes it, and re-establishes the recursive P4[511]
// mapping so the new table is self-describing once activated.
func NewInactivePageTable(frame pmm.Frame, apt *ActivePageTable, tmp *TemporaryPage) (InactivePageTable, *kernel.Error) {
	tableAddr, err := tmp.MapTableFrame(frame, apt)
	if err != nil {
		return InactivePageTable{}, err
	}

	mem.Memset(tableAddr, 0, mem.PageSize)

	table := (*[entryCount]pageTableEntry)(unsafe.Pointer(tableAddr))
	table[recursiveIndex] = 0
	table[recursiveIndex].SetFlags(FlagPresent | FlagRW)
	table[recursiveIndex].SetFrame(frame)

	if err := tmp.Unmap(apt); err != nil {
		return InactivePageTable{}, err
	}

	return InactivePageTable{p4Frame: frame}, nil
}
