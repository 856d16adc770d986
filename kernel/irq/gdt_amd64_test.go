package irq

import (
	"testing"
	"unsafe"
)

func TestGDTAddEntryMonotonic(t *testing.T) {
	g := newGDT()

	codeSel := g.addUserSegment(kernelCodeSegment())
	if codeSel != 1<<3 {
		t.Fatalf("expected code segment selector 0x%x; got 0x%x", 1<<3, codeSel)
	}

	tss := &taskStateSegment{}
	tssSel := g.addTSSSegment(tss)
	if tssSel != 2<<3 {
		t.Fatalf("expected TSS selector 0x%x; got 0x%x", 2<<3, tssSel)
	}

	if g.nextFree != 4 {
		t.Fatalf("expected next free slot 4 (TSS descriptor consumes two slots); got %d", g.nextFree)
	}
}

func TestGDTFullPanics(t *testing.T) {
	g := newGDT()
	for g.nextFree < gdtEntries {
		g.push(0)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected push on a full GDT to panic")
		}
	}()
	g.push(0)
}

func TestTSSDescriptorEncodesBase(t *testing.T) {
	g := newGDT()
	tss := &taskStateSegment{}
	g.addTSSSegment(tss)

	low := g.table[1]
	high := g.table[2]

	base := uint64(uintptr(unsafe.Pointer(tss)))
	decodedLow := (low >> 16) & 0xffffff
	decodedHigh := (low >> 56) & 0xff
	decoded := decodedLow | (decodedHigh << 24) | (high << 32)

	if decoded != base {
		t.Fatalf("expected decoded TSS base 0x%x; got 0x%x", base, decoded)
	}

	if limit := low & 0xffff; limit != uint64(unsafe.Sizeof(taskStateSegment{}))-1 {
		t.Fatalf("expected limit %d; got %d", unsafe.Sizeof(taskStateSegment{})-1, limit)
	}

	if typeNibble := (low >> 40) & 0xf; typeNibble != tssAvailableType {
		t.Fatalf("expected type nibble %x; got %x", tssAvailableType, typeNibble)
	}
}
