// Package vmm implements the kernel's virtual memory manager: the
// four-level recursively-mapped page tables, the physical-to-virtual
// mapping operations built on top of them, the kernel remap step that
// replaces the bootloader's page tables with permission-correct ones, and
// the page/general-protection fault handlers that keep the kernel running
// once paging is live.
package vmm

import (
	"memkern/kernel"
	"memkern/kernel/cpu"
	"memkern/kernel/irq"
	"memkern/kernel/kfmt"
)

var (
	// handleExceptionWithCodeFn and readCR2Fn are overridden by tests and
	// automatically inlined by the compiler when compiling the kernel.
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode
	readCR2Fn                 = cpu.ReadCR2

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page fault or general protection fault"}
)

// Init installs the page-fault and general-protection-fault handlers. It
// must be called after RemapKernel has switched to the permission-correct
// kernel address space.
func Init() {
	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler reports an unrecoverable page fault and halts. This
// kernel performs no demand paging and no copy-on-write, so every page
// fault after boot indicates either a genuine bug or a stack overflow into
// a guard page; there is nothing to recover.
func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	faultAddress := readCR2Fn()

	kfmt.Printf("\npage fault while accessing address: 0x%16x\nreason: ", faultAddress)
	switch errorCode {
	case 0:
		kfmt.Printf("read from non-present page")
	case 1:
		kfmt.Printf("page protection violation (read)")
	case 2:
		kfmt.Printf("write to non-present page")
	case 3:
		kfmt.Printf("page protection violation (write)")
	case 4:
		kfmt.Printf("page fault in user mode")
	case 8:
		kfmt.Printf("page table has reserved bit set")
	case 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nregisters:\n")
	regs.Print()
	frame.Print()

	panic(errUnrecoverableFault)
}

func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\ngeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("registers:\n")
	regs.Print()
	frame.Print()

	panic(errUnrecoverableFault)
}
