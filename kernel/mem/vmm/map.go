package vmm

import (
	"memkern/kernel"
	"memkern/kernel/cpu"
	"memkern/kernel/mem"
	"memkern/kernel/mem/pmm"
	"unsafe"
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// frameAllocator is the allocator Map and MapRegion use when none is
// supplied explicitly. It is registered once, early in boot, via
// SetFrameAllocator.
var frameAllocator FrameAllocatorFn

// SetFrameAllocator registers the frame allocator Map uses for intermediate
// page tables and newly-mapped pages.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

var (
	// nextAddrFn lets tests override the address mapWithAllocator zeroes
	// a freshly allocated table through. When compiling the kernel this
	// function is automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// flushTLBEntryFn is overridden by tests; calling the real
	// cpu.FlushTLBEntry from a hosted test would fault.
	flushTLBEntryFn = cpu.FlushTLBEntry

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not created by this allocator"}
	errAlreadyMapped     = &kernel.Error{Module: "vmm", Message: "page is already mapped"}
)

// mapWithAllocator establishes a mapping between page and frame using alloc
// to satisfy any intermediate P3/P2/P1 table that does not yet exist. Map and
// TemporaryPage both funnel through this so TemporaryPage can route
// intermediate-table allocations through its own TinyAllocator instead of
// the main physical allocator.
//
// Double-mapping a page and walking through a huge page panic immediately:
// both are programming-invariant violations, not recoverable conditions.
// Running out of physical frames for an intermediate table is returned as a
// normal error instead, since callers such as the Go runtime's allocator
// shim need to degrade gracefully rather than halt the kernel outright.
func mapWithAllocator(page Page, frame pmm.Frame, flags PageTableEntryFlag, alloc FrameAllocatorFn) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				panic(errAlreadyMapped)
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags | FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			panic(errNoHugePageSupport)
		}

		if !pte.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = alloc()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			nextTableAddr := uintptr(unsafe.Pointer(pte)) << pageLevelBits[pteLevel+1]
			mem.Memset(nextAddrFn(nextTableAddr), 0, mem.PageSize)
		}

		return true
	})

	return err
}

// Map establishes a mapping between a virtual page and a physical frame
// using the currently active page directory table and the registered frame
// allocator. Mapping a page that is already present panics: the caller is
// expected to Unmap it first.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return mapWithAllocator(page, frame, flags, frameAllocator)
}

// MapRegion establishes a mapping for the physical region [frame,
// frame+pages(size)) at the next available virtual address, reserved via
// EarlyReserveRegion. It returns the Page the region starts at.
func MapRegion(frame pmm.Frame, size mem.Size, flags PageTableEntryFlag) (Page, *kernel.Error) {
	size = (size + (mem.PageSize - 1)) &^ (mem.PageSize - 1)
	startAddr, err := earlyReserveRegionFn(size)
	if err != nil {
		return 0, err
	}

	pageCount := size >> mem.PageShift
	for page := PageFromAddress(startAddr); pageCount > 0; pageCount, page, frame = pageCount-1, page+1, frame+1 {
		if err := mapFn(page, frame, flags); err != nil {
			return 0, err
		}
	}

	return PageFromAddress(startAddr), nil
}

// MapTemporary establishes a RW mapping of frame at the fixed temporary
// mapping address, overwriting whatever was mapped there before. It is used
// to reach the contents of a frame that is not otherwise part of any
// currently accessible address space.
func MapTemporary(frame pmm.Frame) (Page, *kernel.Error) {
	page := PageFromAddress(tempMappingAddr)
	if _, err := pteForAddress(page.Address()); err == nil {
		if err := unmapFn(page); err != nil {
			return 0, err
		}
	}

	if err := mapWithAllocator(page, frame, FlagRW, frameAllocator); err != nil {
		return 0, err
	}

	return page, nil
}

// Unmap removes a mapping previously installed via Map, MapRegion or
// MapTemporary. Unmapping a page that is not present, or whose path walks
// through a huge page, panics.
func Unmap(page Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			if !pte.HasFlags(FlagPresent) {
				err = ErrInvalidMapping
				return false
			}
			pte.ClearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	if err != nil {
		panic(err)
	}
	return nil
}

var (
	// mapFn, unmapFn and earlyReserveRegionFn are overridden by tests and
	// automatically inlined by the compiler when compiling the kernel.
	mapFn                = Map
	unmapFn              = Unmap
	earlyReserveRegionFn = EarlyReserveRegion
)
