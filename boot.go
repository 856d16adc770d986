package main

import "memkern/kernel/kmain"

// multibootInfoPtr, kernelStartPtr and kernelEndPtr are populated by the
// long-mode entry stub (rt0) before jumping into main. They are declared as
// package-level variables, rather than passed as literal constants, so the
// compiler cannot constant-fold the call to Kmain and strip it from the
// generated object file.
var (
	multibootInfoPtr uintptr
	kernelStartPtr   uintptr
	kernelEndPtr     uintptr
)

// main is the only Go symbol the rt0 assembly calls directly. It exists
// purely as a trampoline into kmain.Kmain: the rt0 code has already built a
// minimal g0 and switched onto the boot stack by the time this runs.
//
// main never returns. If Kmain somehow does, the rt0 code halts the CPU.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStartPtr, kernelEndPtr)
}
