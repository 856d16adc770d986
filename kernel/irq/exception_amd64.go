package irq

import (
	"unsafe"

	"memkern/kernel/cpu"
	"memkern/kernel/kfmt"
)

// ExceptionNum identifies one of the CPU-defined exception vectors that this
// package installs a trampoline for.
type ExceptionNum uint8

const (
	// Breakpoint is raised by the INT3 instruction.
	Breakpoint = ExceptionNum(3)

	// DoubleFault occurs when an exception is unhandled or when an
	// exception occurs while the CPU is trying to call an exception
	// handler. Routed through the IST so it always runs on a known-good
	// stack.
	DoubleFault = ExceptionNum(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = ExceptionNum(13)

	// PageFaultException is raised when a page directory table or one of
	// its entries is not present, or a privilege/RW protection check
	// fails. The faulting address is read separately via cpu.ReadCR2.
	PageFaultException = ExceptionNum(14)
)

// ExceptionHandler handles an exception that does not push an error code.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode handles an exception that pushes an error code.
type ExceptionHandlerWithCode func(uint64, *Frame, *Regs)

var (
	handlers         [256]ExceptionHandler
	handlersWithCode [256]ExceptionHandlerWithCode

	// pendingRegsAddr is set by the trampoline (commonStub, in
	// irq_amd64.s) right before it calls into dispatchException. Passing
	// the address through a package variable rather than as a Go
	// argument sidesteps the stack-argument layout the assembler would
	// otherwise require the trampoline to reproduce exactly.
	pendingRegsAddr uintptr

	cpuHaltFn = cpu.Halt
)

// regsSize is the number of bytes the trampoline reserves for a Regs value;
// the vector number, error code and Frame immediately follow it on the
// stack.
const regsSize = unsafe.Sizeof(Regs{})

// HandleException registers an exception handler (without an error code) for
// the given exception number, replacing any handler registered previously.
func HandleException(exceptionNum ExceptionNum, handler ExceptionHandler) {
	handlers[exceptionNum] = handler
}

// HandleExceptionWithCode registers an exception handler (with an error
// code) for the given exception number, replacing any handler registered
// previously.
func HandleExceptionWithCode(exceptionNum ExceptionNum, handler ExceptionHandlerWithCode) {
	handlersWithCode[exceptionNum] = handler
}

// dispatchException is invoked by the assembly trampoline after it has
// saved the general purpose registers and pushed the exception vector and
// error code. It looks up a registered handler and calls it, falling back
// to a diagnostic dump and a halt when no handler is installed.
func dispatchException() {
	regs := (*Regs)(unsafe.Pointer(pendingRegsAddr))
	vector := ExceptionNum(*(*uint64)(unsafe.Pointer(pendingRegsAddr + regsSize)))
	errCode := *(*uint64)(unsafe.Pointer(pendingRegsAddr + regsSize + 8))
	frame := (*Frame)(unsafe.Pointer(pendingRegsAddr + regsSize + 16))

	if handler := handlersWithCode[vector]; handler != nil {
		handler(errCode, frame, regs)
		return
	}

	if handler := handlers[vector]; handler != nil {
		handler(frame, regs)
		return
	}

	kfmt.Printf("\nunhandled exception %d (error code: %d)\n", uint8(vector), errCode)
	frame.Print()
	regs.Print()
	cpuHaltFn()
}

// isrBreakpoint, isrDoubleFault, isrGPFException and isrPageFaultException
// are the trampoline entry points installed into the IDT. They are
// implemented in irq_amd64.s.
func isrBreakpoint()
func isrDoubleFault()
func isrGPFException()
func isrPageFaultException()
