package vmm

import (
	"memkern/kernel"
	"memkern/kernel/hal/multiboot"
	"memkern/kernel/mem"
	"memkern/kernel/mem/pmm"
	"unsafe"
)

// tempRemapPage is the page RemapKernel's TemporaryPage uses while building
// the new P4. Its number is chosen well outside any real mapping.
const tempRemapPage = Page(0xffffffff)

var (
	// visitElfSectionsFn is overridden by tests and automatically inlined
	// by the compiler when compiling the kernel.
	visitElfSectionsFn = multiboot.VisitElfSections

	remapped bool
)

// RemapKernel is a one-shot switch from the bootloader-supplied page tables
// to a fresh address space that honors each ELF section's permissions
// (W^X, NX) instead of mapping the whole kernel image writable and
// executable. It identity-maps the VGA text buffer and the Multiboot info
// structure, then unmaps the old P4 so that any stack overflowing into the
// region it used to occupy faults instead of corrupting memory silently.
func RemapKernel() *kernel.Error {
	if remapped {
		panic("vmm: RemapKernel called twice")
	}
	remapped = true

	apt := &ActivePageTable{}

	tmp, err := NewTemporaryPage(tempRemapPage, frameAllocator)
	if err != nil {
		return err
	}

	newP4Frame, err := frameAllocator()
	if err != nil {
		return err
	}

	newTable, err := NewInactivePageTable(newP4Frame, apt, tmp)
	if err != nil {
		return err
	}

	var mapErr *kernel.Error
	withErr := apt.With(&newTable, tmp, func(mapper *ActivePageTable) {
		var visitor = func(_ string, secFlags multiboot.ElfSectionFlag, secAddr uintptr, secSize uint64) {
			if mapErr != nil || secSize == 0 || secFlags&multiboot.ElfSectionAllocated == 0 {
				return
			}

			if secAddr&(uintptr(mem.PageSize)-1) != 0 {
				panic("vmm: ELF section start address is not page aligned")
			}

			flags := elfSectionMapFlags(secFlags)

			start := pmm.ContainingAddress(secAddr)
			end := pmm.ContainingAddress(secAddr + uintptr(secSize) - 1)
			for f := start; f <= end; f++ {
				if err := mapper.IdentityMap(f, flags, frameAllocator); err != nil {
					mapErr = err
					return
				}
			}
		}

		// Use the noescape hack to prevent the compiler from leaking the
		// visitor function literal to the heap, which does not exist yet
		// at this point in boot.
		visitElfSectionsFn(
			*(*multiboot.ElfSectionVisitor)(noEscape(unsafe.Pointer(&visitor))),
		)
		if mapErr != nil {
			return
		}

		if err := mapper.IdentityMap(pmm.ContainingAddress(vgaBufferPhysAddr), FlagPresent|FlagRW, frameAllocator); err != nil {
			mapErr = err
			return
		}

		mbStart := pmm.ContainingAddress(multiboot.InfoPtr())
		mbEnd := pmm.ContainingAddress(multiboot.InfoPtr() + uintptr(multiboot.InfoSize()) - 1)
		for f := mbStart; f <= mbEnd; f++ {
			if err := mapper.IdentityMap(f, FlagPresent, frameAllocator); err != nil {
				mapErr = err
				return
			}
		}
	})
	if withErr != nil {
		return withErr
	}
	if mapErr != nil {
		return mapErr
	}

	oldTable := apt.Switch(&newTable)

	return apt.Unmap(PageFromAddress(oldTable.p4Frame.Address()))
}

// elfSectionMapFlags derives the page table flags an ELF section should be
// identity-mapped with: writable sections get FlagRW, and any section the
// linker didn't mark executable gets FlagNoExecute. A section that is both
// writable and executable is never produced by this derivation.
func elfSectionMapFlags(secFlags multiboot.ElfSectionFlag) PageTableEntryFlag {
	flags := FlagPresent
	if secFlags&multiboot.ElfSectionWritable != 0 {
		flags |= FlagRW
	}
	if secFlags&multiboot.ElfSectionExecutable == 0 {
		flags |= FlagNoExecute
	}
	return flags
}

// noEscape hides a pointer from escape analysis. Copied over from
// runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
