package irq

import "testing"

func TestInit(t *testing.T) {
	defer func() {
		loadGDTFn = loadGDTNoop
		loadTSSFn = loadTSSNoop
		loadIDTFn = loadIDTNoop
		initialized = false
	}()

	var gotGDTPtr uintptr
	var gotCodeSel uint16
	loadGDTFn = func(ptr uintptr, codeSegment uint16) {
		gotGDTPtr = ptr
		gotCodeSel = codeSegment
	}

	var gotTSSSel uint16
	loadTSSFn = func(tssSegment uint16) { gotTSSSel = tssSegment }

	idtLoaded := false
	loadIDTFn = func(ptr uintptr) { idtLoaded = true }

	initialized = false
	Init(0xdeadbeef)

	if gotGDTPtr == 0 {
		t.Fatal("expected LoadGDT to be called with a non-zero pointer")
	}
	if gotCodeSel == 0 {
		t.Fatal("expected a non-null code segment selector")
	}
	if gotTSSSel == 0 {
		t.Fatal("expected a non-null TSS segment selector")
	}
	if !idtLoaded {
		t.Fatal("expected LoadIDT to be called")
	}

	if gate := idtTable[DoubleFault]; gate.istIndex != doubleFaultIST+1 {
		t.Fatalf("expected double fault gate IST index %d; got %d", doubleFaultIST+1, gate.istIndex)
	}
	if gate := idtTable[Breakpoint]; gate.istIndex != 0 {
		t.Fatalf("expected breakpoint gate to not use an IST; got %d", gate.istIndex)
	}
	if gate := idtTable[GPFException]; gate.typeAttr != idtPresentInterruptGate {
		t.Fatalf("expected present interrupt gate flags on GPF entry; got 0x%x", gate.typeAttr)
	}
}

func TestInitPanicsOnSecondCall(t *testing.T) {
	defer func() {
		loadGDTFn = loadGDTNoop
		loadTSSFn = loadTSSNoop
		loadIDTFn = loadIDTNoop
		initialized = false
	}()

	loadGDTFn = loadGDTNoop
	loadTSSFn = loadTSSNoop
	loadIDTFn = loadIDTNoop

	initialized = false
	Init(0)

	defer func() {
		if recover() == nil {
			t.Fatal("expected second call to Init to panic")
		}
	}()
	Init(0)
}

func loadGDTNoop(uintptr, uint16) {}
func loadTSSNoop(uint16)          {}
func loadIDTNoop(uintptr)         {}
