package vmm

import (
	"memkern/kernel/mem/pmm"
	"testing"
	"unsafe"
)

func TestTranslate(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { ptePtrFn = orig }(ptePtrFn)

	virtAddr := uintptr(1234)
	expFrame := pmm.Frame(42)
	expPhysAddr := expFrame.Address() + virtAddr

	specs := [][pageLevels]bool{
		{true, true, true, true},
		{false, true, true, true},
		{true, false, true, true},
		{true, true, false, true},
		{true, true, true, false},
	}

	for specIndex, spec := range specs {
		pteCallCount := 0
		ptePtrFn = func(_ uintptr) unsafe.Pointer {
			var pte pageTableEntry
			pte.SetFrame(expFrame)
			if spec[pteCallCount] {
				pte.SetFlags(FlagPresent)
			}
			pteCallCount++
			return unsafe.Pointer(&pte)
		}

		expError := false
		for _, present := range spec {
			if !present {
				expError = true
				break
			}
		}

		physAddr, err := Translate(virtAddr)
		switch {
		case expError && err != ErrInvalidMapping:
			t.Errorf("[spec %d] expected ErrInvalidMapping; got %v", specIndex, err)
		case !expError && err != nil:
			t.Errorf("[spec %d] unexpected error %v", specIndex, err)
		case !expError && physAddr != expPhysAddr:
			t.Errorf("[spec %d] expected phys addr 0x%x; got 0x%x", specIndex, expPhysAddr, physAddr)
		}
	}
}

func TestTranslatePageHuge1GiB(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { ptePtrFn = orig }(ptePtrFn)

	// P4 and P3 present; P3 entry is a 1 GiB huge page starting at a
	// 1 GiB aligned frame.
	hugeStart := pmm.Frame(hugePage1GiBFrames * 3)
	callCount := 0
	ptePtrFn = func(_ uintptr) unsafe.Pointer {
		var pte pageTableEntry
		pte.SetFlags(FlagPresent)
		if callCount == 1 {
			pte.SetFlags(FlagHugePage)
			pte.SetFrame(hugeStart)
		}
		callCount++
		return unsafe.Pointer(&pte)
	}

	page := PageFromAddress(0x8080604400) // P2=3, P1=4
	frame, err := TranslatePage(page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := hugeStart + pmm.Frame(3)*hugePage2MiBFrames + pmm.Frame(4)
	if frame != want {
		t.Fatalf("expected frame %d; got %d", want, frame)
	}
	if callCount != 2 {
		t.Fatalf("expected walk to stop at level 1; called ptePtrFn %d times", callCount)
	}
}

func TestTranslatePageHuge2MiB(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { ptePtrFn = orig }(ptePtrFn)

	hugeStart := pmm.Frame(hugePage2MiBFrames * 7)
	callCount := 0
	ptePtrFn = func(_ uintptr) unsafe.Pointer {
		var pte pageTableEntry
		pte.SetFlags(FlagPresent)
		if callCount == 2 {
			pte.SetFlags(FlagHugePage)
			pte.SetFrame(hugeStart)
		}
		callCount++
		return unsafe.Pointer(&pte)
	}

	page := PageFromAddress(0x8080604400) // P1=4
	frame, err := TranslatePage(page)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := hugeStart + pmm.Frame(4)
	if frame != want {
		t.Fatalf("expected frame %d; got %d", want, frame)
	}
	if callCount != 3 {
		t.Fatalf("expected walk to stop at level 2; called ptePtrFn %d times", callCount)
	}
}

func TestTranslatePageMisalignedHugePagePanics(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { ptePtrFn = orig }(ptePtrFn)

	callCount := 0
	ptePtrFn = func(_ uintptr) unsafe.Pointer {
		var pte pageTableEntry
		pte.SetFlags(FlagPresent)
		if callCount == 1 {
			pte.SetFlags(FlagHugePage)
			pte.SetFrame(pmm.Frame(3)) // not 1 GiB aligned
		}
		callCount++
		return unsafe.Pointer(&pte)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a misaligned huge page frame")
		}
	}()

	_, _ = TranslatePage(PageFromAddress(0x1000))
}

func TestPageOffset(t *testing.T) {
	addr := uintptr(123*4096 + 42)
	if got := PageOffset(addr); got != 42 {
		t.Errorf("expected offset 42; got %d", got)
	}
}
