package irq

import (
	"unsafe"

	"memkern/kernel/cpu"
)

// idtEntries is the architectural size of the IDT; amd64 defines 256
// possible vectors even though this kernel only ever populates four of
// them.
const idtEntries = 256

// idtPresentInterruptGate marks a gate descriptor present, ring 0,
// 64-bit interrupt gate (type 0xE).
const idtPresentInterruptGate = 0x8e

// doubleFaultIST is the zero-based Interrupt Stack Table slot reserved for
// the double-fault handler.
const doubleFaultIST = 0

// idtGate is a single 64-bit-mode interrupt gate descriptor.
type idtGate struct {
	offsetLow  uint16
	selector   uint16
	istIndex   uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	_          uint32
}

var idtTable [idtEntries]idtGate

// setGate installs a present interrupt gate for vector, pointing at
// handlerAddr on codeSelector. istIndex is the 1-based Interrupt Stack
// Table slot to switch to, or 0 to keep using whatever stack was active.
func setGate(vector uint8, handlerAddr uintptr, codeSelector uint16, istIndex uint8) {
	idtTable[vector] = idtGate{
		offsetLow:  uint16(handlerAddr),
		selector:   codeSelector,
		istIndex:   istIndex,
		typeAttr:   idtPresentInterruptGate,
		offsetMid:  uint16(handlerAddr >> 16),
		offsetHigh: uint32(handlerAddr >> 32),
	}
}

func loadIDT() {
	ptr := descriptorPointer(uintptr(unsafe.Pointer(&idtTable[0])), uint16(unsafe.Sizeof(idtTable)-1))
	loadIDTFn(uintptr(unsafe.Pointer(&ptr[0])))
}

var (
	loadGDTFn = cpu.LoadGDT
	loadTSSFn = cpu.LoadTSS
	loadIDTFn = cpu.LoadIDT
)

var initialized bool

// Init builds the GDT, a TSS whose single IST entry points at the top of
// the (already allocated and mapped) double-fault stack, and an IDT wired
// for breakpoint, double-fault, general-protection and page-fault
// exceptions, then installs all three. Init must be called at most once;
// a second call panics, matching the "process-wide, constructed exactly
// once" contract the GDT/TSS/IDT share.
func Init(doubleFaultStackTop uintptr) {
	if initialized {
		panic("irq: Init called more than once")
	}
	initialized = true

	tss := &taskStateSegment{}
	tss.ist[doubleFaultIST] = uint64(doubleFaultStackTop)

	table := newGDT()
	codeSelector := table.addUserSegment(kernelCodeSegment())
	tssSelector := table.addTSSSegment(tss)

	table.load(codeSelector)
	loadTSSFn(tssSelector)

	setGate(uint8(Breakpoint), funcAddr(isrBreakpoint), codeSelector, 0)
	setGate(uint8(DoubleFault), funcAddr(isrDoubleFault), codeSelector, doubleFaultIST+1)
	setGate(uint8(GPFException), funcAddr(isrGPFException), codeSelector, 0)
	setGate(uint8(PageFaultException), funcAddr(isrPageFaultException), codeSelector, 0)

	loadIDT()
}

// funcAddr returns the entry address of a top-level function implemented in
// assembly. A func value is, under the hood, a pointer to a record whose
// first word is the function's code pointer; dereferencing twice recovers
// it without needing reflect, which is unavailable this early.
func funcAddr(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}
