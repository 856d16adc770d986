// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator. The functions here are wired into the runtime via
// go:linkname so the stock runtime calls them instead of the syscalls it
// normally relies on, which do not exist in a freestanding kernel.
package goruntime

import (
	"unsafe"

	"memkern/kernel"
	"memkern/kernel/mem"
	"memkern/kernel/mem/pmm/allocator"
	"memkern/kernel/mem/vmm"
)

var (
	mapFn                = vmm.Map
	earlyReserveRegionFn = vmm.EarlyReserveRegion
	frameAllocFn         = allocator.AllocFrame
	memsetFn             = mem.Memset

	mallocInitFn     = mallocInit
	algInitFn        = algInit
	modulesInitFn    = modulesInit
	typeLinksInitFn  = typeLinksInit
	itabsInitFn      = itabsInit
	procResizeFn     = procResize
	initGoPackagesFn = initGoPackages

	// prngSeed seeds the pseudo-random number generator used by getRandomData.
	prngSeed = 0xdeadc0de
)

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

//go:linkname procResize runtime.procresize
func procResize(int32) uintptr

// initGoPackages runs the package-level init functions that the bootloader
// trampoline skipped by jumping straight into kmain.Kmain. It is a thin
// rename of the compiler-generated runtime.main_init so that tests can stub
// it out.
//
//go:linkname initGoPackages runtime.main_init
func initGoPackages()

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)
	regionStartAddr, err := earlyReserveRegionFn(regionSize)
	if err != nil {
		panic(err)
	}

	*reserved = true
	return unsafe.Pointer(regionStartAddr)
}

// sysMap establishes a page mapping for a memory region that has been
// reserved previously via a call to sysReserve, backing it with freshly
// allocated, zeroed frames. Unlike systems that support copy-on-write
// demand paging, every page is mapped and zeroed eagerly since this kernel
// never handles a page fault to fault pages in lazily.
//
// This function replaces runtime.sysMap and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	// We trust the allocator to call sysMap with an address inside a reserved region.
	regionStartAddr := (uintptr(virtAddr) + uintptr(mem.PageSize-1)) & ^uintptr(mem.PageSize-1)
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)

	if mapped := mapEagerly(regionStartAddr, regionSize); !mapped {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// sysAlloc reserves enough physical frames to satisfy the allocation request
// and establishes a contiguous virtual page mapping for them, returning back
// the pointer to the virtual region start.
//
// This function replaces runtime.sysAlloc and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)
	regionStartAddr, err := earlyReserveRegionFn(regionSize)
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	if mapped := mapEagerly(regionStartAddr, regionSize); !mapped {
		return unsafe.Pointer(uintptr(0))
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// mapEagerly allocates and maps pageCount frames starting at regionStartAddr,
// zeroing each one as it is mapped.
func mapEagerly(regionStartAddr uintptr, regionSize mem.Size) bool {
	mapFlags := vmm.FlagPresent | vmm.FlagNoExecute | vmm.FlagRW

	pageCount := regionSize >> mem.PageShift
	for page := vmm.PageFromAddress(regionStartAddr); pageCount > 0; pageCount, page = pageCount-1, page+1 {
		frame, err := frameAllocFn()
		if err != nil {
			return false
		}

		if err := mapFn(page, frame, mapFlags); err != nil {
			return false
		}

		memsetFn(frame.Address(), 0, mem.PageSize)
	}

	return true
}

// nanotime is a dummy clock: after a short busy loop it always returns the
// constant value 1.
//
// This function replaces runtime.nanotime and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime
//go:nosplit
func nanotime() uint64 {
	// Use a dummy loop to prevent the compiler from inlining this function.
	for i := 0; i < 100; i++ {
	}
	return 1
}

// getRandomData populates the given slice with random data. The runtime
// normally reads a random stream from /dev/random but since that is not
// available, we use a PRNG instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. After a call to Init
// the following runtime features become available for use:
//   - heap memory allocation (new, make e.t.c)
//   - map primitives
//   - interfaces
//   - goroutines (with GOMAXPROCS pinned to 1; this kernel has no scheduler
//     hook for additional Ps)
func Init() *kernel.Error {
	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules
	procResizeFn(1)
	initGoPackagesFn()

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, reserved, &stat)
	sysAlloc(0, &stat)
	getRandomData(nil)
	stat = nanotime()
}
