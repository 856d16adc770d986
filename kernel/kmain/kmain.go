// Package kmain wires the kernel's subsystems together into the boot
// sequence: console, physical frame allocator, kernel remap, Go runtime
// bootstrap, a guard-paged stack for the double-fault handler, and finally
// the interrupt descriptor table itself.
package kmain

import (
	"memkern/kernel"
	"memkern/kernel/goruntime"
	"memkern/kernel/hal"
	"memkern/kernel/hal/multiboot"
	"memkern/kernel/irq"
	"memkern/kernel/kfmt"
	"memkern/kernel/mem"
	"memkern/kernel/mem/pmm/allocator"
	"memkern/kernel/mem/vmm"
)

// doubleFaultStackPages is the number of 4 KiB pages reserved for the
// stack the double-fault handler runs on via the TSS's IST mechanism. It
// is kept separate from any other kernel stack so that a double fault
// triggered by exhausting the normal kernel stack still has somewhere
// safe to run.
const doubleFaultStackPages = 4

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go symbol the rt0 bootstrap code calls into. It is
// invoked after the bootloader trampoline has set up a GDT just good
// enough to run Go code on a small, statically allocated stack.
//
// The trampoline passes the physical address of the Multiboot info
// payload together with the physical extents of the loaded kernel image;
// Kmain uses both to initialize the physical frame allocator before any
// other subsystem can run.
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()

	multibootStart := multibootInfoPtr
	multibootEnd := multibootInfoPtr + uintptr(multiboot.InfoSize()) - 1
	allocator.Init(kernelStart, kernelEnd, multibootStart, multibootEnd)
	vmm.SetFrameAllocator(allocator.AllocFrame)

	if err := vmm.RemapKernel(); err != nil {
		panic(err)
	}

	vmm.Init()

	if err := goruntime.Init(); err != nil {
		panic(err)
	}

	apt := &vmm.ActivePageTable{}
	doubleFaultStackTop := allocDoubleFaultStack(apt)
	irq.Init(doubleFaultStackTop)

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating this call as dead code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// allocDoubleFaultStack reserves a guard page followed by
// doubleFaultStackPages mapped pages out of the kernel's early virtual
// address space and returns the resulting stack's top address.
func allocDoubleFaultStack(apt *vmm.ActivePageTable) uintptr {
	regionSize := mem.Size(doubleFaultStackPages+1) * mem.PageSize
	regionStart, err := vmm.EarlyReserveRegion(regionSize)
	if err != nil {
		panic(err)
	}

	startPage := vmm.PageFromAddress(regionStart)
	sa := vmm.NewStackAllocator(startPage, startPage+vmm.Page(doubleFaultStackPages))

	stack, ok := sa.AllocStack(apt, allocator.AllocFrame, doubleFaultStackPages)
	if !ok {
		panic(&kernel.Error{Module: "kmain", Message: "failed to allocate double-fault stack"})
	}

	return stack.Top
}
