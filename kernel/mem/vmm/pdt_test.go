package vmm

import (
	"memkern/kernel"
	"memkern/kernel/mem/pmm"
	"testing"
	"unsafe"
)

func TestActivePageTableMap(t *testing.T) {
	defer func(origPte func(uintptr) unsafe.Pointer, origNext func(uintptr) uintptr, origFlush func(uintptr)) {
		ptePtrFn = origPte
		nextAddrFn = origNext
		flushTLBEntryFn = origFlush
	}(ptePtrFn, nextAddrFn, flushTLBEntryFn)

	var chain entryChain
	for i := 0; i < pageLevels-1; i++ {
		chain.entries[i].SetFlags(FlagPresent | FlagRW)
	}
	ptePtrFn = chain.ptePtrFn
	nextAddrFn = func(addr uintptr) uintptr { return addr }
	flushTLBEntryFn = func(_ uintptr) {}

	apt := &ActivePageTable{}
	frame := pmm.Frame(5)
	if err := apt.Map(Page(1), FlagRW, fixedAlloc(frame)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chain.entries[pageLevels-1].Frame() != frame {
		t.Fatalf("expected leaf to point at the allocated frame %d", frame)
	}
}

func TestActivePageTableMapAllocFailure(t *testing.T) {
	defer func(origPte func(uintptr) unsafe.Pointer) { ptePtrFn = origPte }(ptePtrFn)

	var chain entryChain
	for i := range chain.entries {
		chain.entries[i].SetFlags(FlagPresent | FlagRW)
	}
	ptePtrFn = chain.ptePtrFn

	apt := &ActivePageTable{}
	expErr := &kernel.Error{Module: "test", Message: "out of memory"}
	err := apt.Map(Page(1), FlagRW, func() (pmm.Frame, *kernel.Error) { return pmm.InvalidFrame, expErr })
	if err != expErr {
		t.Fatalf("expected error %v; got %v", expErr, err)
	}
}

func TestActivePageTableIdentityMap(t *testing.T) {
	defer func(origPte func(uintptr) unsafe.Pointer, origNext func(uintptr) uintptr, origFlush func(uintptr)) {
		ptePtrFn = origPte
		nextAddrFn = origNext
		flushTLBEntryFn = origFlush
	}(ptePtrFn, nextAddrFn, flushTLBEntryFn)

	var chain entryChain
	for i := 0; i < pageLevels-1; i++ {
		chain.entries[i].SetFlags(FlagPresent | FlagRW)
	}
	ptePtrFn = chain.ptePtrFn
	nextAddrFn = func(addr uintptr) uintptr { return addr }
	flushTLBEntryFn = func(_ uintptr) {}

	apt := &ActivePageTable{}
	frame := pmm.Frame(12)
	if err := apt.IdentityMap(frame, FlagRW, fixedAlloc(99)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chain.entries[pageLevels-1].Frame() != frame {
		t.Fatalf("expected identity-mapped leaf to point at frame %d", frame)
	}
}

// backedTemporaryPage returns a TemporaryPage whose page address is the real
// address of backing, so that code under test which dereferences the
// "virtual" address Map/MapTableFrame return actually touches addressable
// memory instead of an arbitrary page number.
func backedTemporaryPage(backing []pageTableEntry, alloc FrameAllocatorFn) *TemporaryPage {
	tiny, err := NewTinyAllocator(alloc)
	if err != nil {
		panic(err)
	}
	return &TemporaryPage{
		page: PageFromAddress(uintptr(unsafe.Pointer(&backing[0]))),
		tiny: tiny,
	}
}

func TestNewInactivePageTable(t *testing.T) {
	defer func(origPte func(uintptr) unsafe.Pointer, origNext func(uintptr) uintptr, origFlush func(uintptr)) {
		ptePtrFn = origPte
		nextAddrFn = origNext
		flushTLBEntryFn = origFlush
	}(ptePtrFn, nextAddrFn, flushTLBEntryFn)

	backing := make([]pageTableEntry, entryCount)
	for i := range backing {
		backing[i] = pageTableEntry(0xff)
	}

	var chain entryChain
	for i := 0; i < pageLevels-1; i++ {
		chain.entries[i].SetFlags(FlagPresent | FlagRW)
	}
	ptePtrFn = chain.ptePtrFn
	nextAddrFn = func(addr uintptr) uintptr { return addr }
	flushTLBEntryFn = func(_ uintptr) {}

	apt := &ActivePageTable{}
	tmp := backedTemporaryPage(backing, fixedAlloc(1, 2, 3))

	frame := pmm.Frame(200)
	inactive, err := NewInactivePageTable(frame, apt, tmp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inactive.p4Frame != frame {
		t.Fatalf("expected p4Frame to be %d; got %d", frame, inactive.p4Frame)
	}

	for i := 0; i < entryCount-1; i++ {
		if backing[i] != 0 {
			t.Fatalf("expected entry %d to be cleared; got %x", i, backing[i])
		}
	}

	last := backing[recursiveIndex]
	if !last.HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected the recursive slot to have FlagPresent|FlagRW set")
	}
	if last.Frame() != frame {
		t.Fatalf("expected the recursive slot to point at frame %d; got %d", frame, last.Frame())
	}
}

func TestActivePageTableSwitch(t *testing.T) {
	defer func(origActive func() uintptr, origSwitch func(uintptr)) {
		activePDTFn = origActive
		switchPDTFn = origSwitch
	}(activePDTFn, switchPDTFn)

	oldFrame := pmm.Frame(3)
	activePDTFn = func() uintptr { return oldFrame.Address() }

	var switchedTo uintptr
	switchPDTFn = func(addr uintptr) { switchedTo = addr }

	apt := &ActivePageTable{}
	newTable := InactivePageTable{p4Frame: pmm.Frame(9)}

	old := apt.Switch(&newTable)
	if old.p4Frame != oldFrame {
		t.Fatalf("expected returned InactivePageTable to hold the old frame %d; got %d", oldFrame, old.p4Frame)
	}
	if switchedTo != newTable.p4Frame.Address() {
		t.Fatal("expected switchPDTFn to be called with the new frame's address")
	}
}

func TestActivePageTableWith(t *testing.T) {
	defer func(origActive func() uintptr, origFlush func(), origPte func(uintptr) unsafe.Pointer) {
		activePDTFn = origActive
		flushTLBFn = origFlush
		ptePtrFn = origPte
	}(activePDTFn, flushTLBFn, ptePtrFn)

	backing := make([]pageTableEntry, entryCount)
	originalFrame := pmm.Frame(1)
	backing[recursiveIndex].SetFlags(FlagPresent | FlagRW)
	backing[recursiveIndex].SetFrame(originalFrame)

	activePDTFn = func() uintptr { return originalFrame.Address() }
	flushTLBFn = func() {}

	var chain entryChain
	for i := 0; i < pageLevels-1; i++ {
		chain.entries[i].SetFlags(FlagPresent | FlagRW)
	}
	ptePtrFn = chain.ptePtrFn

	apt := &ActivePageTable{}
	tmp := backedTemporaryPage(backing, fixedAlloc(1, 2, 3))
	inactive := InactivePageTable{p4Frame: pmm.Frame(77)}

	invoked := false
	err := apt.With(&inactive, tmp, func(a *ActivePageTable) {
		invoked = true
		if backing[recursiveIndex].Frame() != inactive.p4Frame {
			t.Fatal("expected recursive slot to point at the inactive table while inside With")
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !invoked {
		t.Fatal("expected fn to be invoked")
	}
	if backing[recursiveIndex].Frame() != originalFrame {
		t.Fatal("expected the recursive slot to be restored after With returns")
	}
}
