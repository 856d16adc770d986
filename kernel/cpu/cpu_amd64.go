// Package cpu exposes the small set of amd64 primitives that Go itself
// cannot express: reading and writing control registers, flushing TLB
// entries and halting the processor. Each function below is implemented in
// the accompanying .s file.
package cpu

// EnableInterrupts enables interrupt handling (sti).
func EnableInterrupts()

// DisableInterrupts disables interrupt handling (cli).
func DisableInterrupts()

// Halt stops instruction execution until the next interrupt (hlt), looping
// forever since the kernel never returns from a halted state intentionally.
func Halt()

// FlushTLBEntry flushes the TLB entry for a single virtual address.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLB reloads CR3 with its current value, flushing every non-global
// TLB entry. Used when the recursive P4 slot is repointed at a different
// address space and invalidating a single address is not enough.
func FlushTLB()

// SwitchPDT writes pdtPhysAddr into CR3, activating a new top-level page
// table and implicitly flushing the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active top-level
// page table, i.e. the current value of CR3.
func ActivePDT() uintptr

// ReadCR2 returns the faulting address recorded by the CPU on the most
// recent page fault.
func ReadCR2() uintptr

// LoadGDT loads a new Global Descriptor Table from the descriptor pointed
// to by ptr (a pointer to a 10-byte GDTR-format descriptor: 2-byte limit
// followed by an 8-byte base) and reloads the code segment register.
func LoadGDT(ptr uintptr, codeSegment uint16)

// LoadTSS loads the Task Register with the given segment selector (ltr).
func LoadTSS(tssSegment uint16)

// LoadIDT loads the Interrupt Descriptor Table from the descriptor pointed
// to by ptr (same GDTR-style layout as LoadGDT's argument).
func LoadIDT(ptr uintptr)
