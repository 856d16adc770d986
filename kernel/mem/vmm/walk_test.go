package vmm

import (
	"memkern/kernel/mem"
	"testing"
	"unsafe"
)

func TestPtePtrFn(t *testing.T) {
	if exp, got := unsafe.Pointer(uintptr(123)), ptePtrFn(uintptr(123)); exp != got {
		t.Fatalf("expected ptePtrFn to return %v; got %v", exp, got)
	}
}

func TestWalk(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { ptePtrFn = orig }(ptePtrFn)

	// This address breaks down to:
	// p4 index: 1
	// p3 index: 2
	// p2 index: 3
	// p1 index: 4
	targetAddr := uintptr(0x8080604400)

	sizeofPteEntry := uintptr(unsafe.Sizeof(pageTableEntry(0)))
	expEntryAddrBits := [pageLevels][pageLevels + 1]uintptr{
		{511, 511, 511, 511, 1 * sizeofPteEntry},
		{511, 511, 511, 1, 2 * sizeofPteEntry},
		{511, 511, 1, 2, 3 * sizeofPteEntry},
		{511, 1, 2, 3, 4 * sizeofPteEntry},
	}

	pteCallCount := 0
	ptePtrFn = func(entry uintptr) unsafe.Pointer {
		if pteCallCount >= pageLevels {
			t.Fatalf("unexpected call to ptePtrFn; already called %d times", pageLevels)
		}

		for i := 0; i < pageLevels; i++ {
			pteIndex := (entry >> pageLevelShifts[i]) & ((1 << pageLevelBits[i]) - 1)
			if pteIndex != expEntryAddrBits[pteCallCount][i] {
				t.Errorf("[ptePtrFn call %d] expected index for level %d to be %d; got %d", pteCallCount, i, expEntryAddrBits[pteCallCount][i], pteIndex)
			}
		}

		pteOffset := entry & ((1 << mem.PageShift) - 1)
		if pteOffset != expEntryAddrBits[pteCallCount][pageLevels] {
			t.Errorf("[ptePtrFn call %d] expected pte offset %d; got %d", pteCallCount, expEntryAddrBits[pteCallCount][pageLevels], pteOffset)
		}

		pteCallCount++
		return unsafe.Pointer(uintptr(0xf00))
	}

	walkFnCallCount := 0
	walk(targetAddr, func(level uint8, entry *pageTableEntry) bool {
		if level != uint8(walkFnCallCount) {
			t.Errorf("expected walkFn to be invoked with level %d; got %d", walkFnCallCount, level)
		}
		walkFnCallCount++
		return walkFnCallCount != pageLevels
	})

	if pteCallCount != pageLevels {
		t.Errorf("expected ptePtrFn to be called %d times; got %d", pageLevels, pteCallCount)
	}
}

func TestWalkStopsEarly(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { ptePtrFn = orig }(ptePtrFn)

	var dummy pageTableEntry
	ptePtrFn = func(_ uintptr) unsafe.Pointer { return unsafe.Pointer(&dummy) }

	calls := 0
	walk(0x1000, func(level uint8, pte *pageTableEntry) bool {
		calls++
		return false
	})

	if calls != 1 {
		t.Fatalf("expected walk to stop after the first false return; got %d calls", calls)
	}
}
