// Package allocator implements the physical frame allocator used while
// bootstrapping the kernel, before a heap exists and before any allocator
// capable of freeing frames is wired up.
package allocator

import (
	"memkern/kernel"
	"memkern/kernel/hal/multiboot"
	"memkern/kernel/kfmt/early"
	"memkern/kernel/mem"
	"memkern/kernel/mem/pmm"
)

var (
	// earlyAllocator is the sole frame allocator instance; the kernel
	// never constructs a second one since frames it hands out are never
	// returned to it.
	earlyAllocator bootMemAllocator

	errOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// memArea is a cached, available (multiboot.MemAvailable) memory region.
// The allocator needs to re-scan the set of areas every time it exhausts
// one, so the regions are read out of the multiboot tag once, up front,
// rather than re-walked from the tag list on every AllocFrame call.
type memArea struct {
	baseAddr uint64
	length   uint64
}

func (a memArea) lastFrame() pmm.Frame {
	return pmm.ContainingAddress(uintptr(a.baseAddr + a.length - 1))
}

func (a memArea) firstFrame() pmm.Frame {
	return pmm.ContainingAddress(uintptr(a.baseAddr))
}

// bootMemAllocator hands out physical frames by walking the bootloader's
// memory map in order, skipping the frames occupied by the kernel image and
// by the multiboot info structure itself. It never reclaims a frame: once
// handed out, a frame is never seen again.
type bootMemAllocator struct {
	areas       []memArea
	curAreaIdx  int // -1 once no area can satisfy further allocations
	nextFree    pmm.Frame
	allocCount  uint64

	kernelStart, kernelEnd         pmm.Frame
	multibootStart, multibootEnd   pmm.Frame
}

// init records the kernel and multiboot info extents, collects the
// available memory regions reported by the bootloader and selects the
// first area allocations will be served from.
func (a *bootMemAllocator) init(kernelStart, kernelEnd, multibootStart, multibootEnd uintptr) {
	a.areas = a.areas[:0]
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type == multiboot.MemAvailable {
			a.areas = append(a.areas, memArea{baseAddr: region.PhysAddress, length: region.Length})
		}
		return true
	})

	a.kernelStart = pmm.ContainingAddress(kernelStart)
	a.kernelEnd = pmm.ContainingAddress(kernelEnd)
	a.multibootStart = pmm.ContainingAddress(multibootStart)
	a.multibootEnd = pmm.ContainingAddress(multibootEnd)

	a.nextFree = pmm.ContainingAddress(0)
	a.allocCount = 0
	a.chooseNextArea()
}

// chooseNextArea selects, among the areas whose last frame is at or past
// nextFree, the one with the smallest base address. If none qualifies, no
// further allocation can succeed.
func (a *bootMemAllocator) chooseNextArea() {
	best := -1
	for i := range a.areas {
		if a.areas[i].lastFrame() < a.nextFree {
			continue
		}
		if best == -1 || a.areas[i].baseAddr < a.areas[best].baseAddr {
			best = i
		}
	}

	a.curAreaIdx = best
	if best == -1 {
		return
	}

	if start := a.areas[best].firstFrame(); a.nextFree < start {
		a.nextFree = start
	}
}

// AllocFrame returns the next available physical frame, skipping the
// frames used by the kernel image and the multiboot info structure. It
// returns errOutOfMemory once every available region has been exhausted.
//
// There is deliberately no deallocateFrame: the caller that eventually
// needs to reclaim frames is expected to replace this allocator entirely
// rather than extend it, since the scan above assumes frames are only ever
// consumed in increasing order.
func (a *bootMemAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	for {
		if a.curAreaIdx == -1 {
			return pmm.InvalidFrame, errOutOfMemory
		}

		frame := a.nextFree
		area := a.areas[a.curAreaIdx]

		switch {
		case frame > area.lastFrame():
			a.chooseNextArea()
		case frame >= a.kernelStart && frame <= a.kernelEnd:
			a.nextFree = a.kernelEnd + 1
		case frame >= a.multibootStart && frame <= a.multibootEnd:
			a.nextFree = a.multibootEnd + 1
		default:
			a.nextFree++
			a.allocCount++
			return frame, nil
		}
	}
}

// printMemoryMap logs the regions the bootloader reported, for diagnosing
// memory layout problems before a real console is necessarily attached.
func (a *bootMemAllocator) printMemoryMap() {
	early.Printf("[boot_mem_alloc] available regions:\n")
	var totalFree mem.Size
	for _, region := range a.areas {
		early.Printf("\t[0x%10x - 0x%10x], size: %10d\n", region.baseAddr, region.baseAddr+region.length, region.length)
		totalFree += mem.Size(region.length)
	}
	early.Printf("[boot_mem_alloc] available memory: %dKb\n", uint64(totalFree/mem.Kb))
	early.Printf("[boot_mem_alloc] kernel frames [%d - %d], multiboot frames [%d - %d]\n",
		uint64(a.kernelStart), uint64(a.kernelEnd), uint64(a.multibootStart), uint64(a.multibootEnd))
}

// Init prepares the package-level allocator instance. It must be called
// once, early in boot, before any call to AllocFrame.
func Init(kernelStart, kernelEnd, multibootStart, multibootEnd uintptr) {
	earlyAllocator.init(kernelStart, kernelEnd, multibootStart, multibootEnd)
	earlyAllocator.printMemoryMap()
}

// AllocFrame reserves and returns the next available physical frame from
// the package-level allocator.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return earlyAllocator.AllocFrame()
}
