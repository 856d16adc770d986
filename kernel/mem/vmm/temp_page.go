package vmm

import (
	"memkern/kernel"
	"memkern/kernel/mem/pmm"
)

// tinyAllocatorSize is the number of frames a TinyAllocator prefetches: the
// maximum number of intermediate P3/P2/P1 tables a single map call can need
// to allocate.
const tinyAllocatorSize = 3

// TinyAllocator is a fixed pool of at most tinyAllocatorSize frames, used to
// satisfy the intermediate-table allocations that editing an inactive page
// table requires without reentering the main physical frame allocator.
// Editing an inactive P4 requires a TemporaryPage; mapping through a
// TemporaryPage can itself need to allocate P3/P2/P1 tables; routing that
// allocation back through the main allocator would be fine in principle,
// but using a small dedicated pool instead keeps the two concerns
// independent and bounds how many frames a single mapping operation can
// consume.
type TinyAllocator struct {
	frames [tinyAllocatorSize]pmm.Frame
}

// NewTinyAllocator fills a TinyAllocator by pulling tinyAllocatorSize frames
// from alloc.
func NewTinyAllocator(alloc FrameAllocatorFn) (*TinyAllocator, *kernel.Error) {
	var ta TinyAllocator
	for i := range ta.frames {
		frame, err := alloc()
		if err != nil {
			return nil, err
		}
		ta.frames[i] = frame
	}
	return &ta, nil
}

// AllocFrame returns one of the pool's frames. It panics if all
// tinyAllocatorSize frames are already checked out, since that would mean a
// single mapping operation needed more intermediate tables than the paging
// hierarchy has levels.
func (ta *TinyAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	for i := range ta.frames {
		if ta.frames[i].IsValid() {
			frame := ta.frames[i]
			ta.frames[i] = pmm.InvalidFrame
			return frame, nil
		}
	}
	panic("vmm: tiny allocator exhausted")
}

// Deallocate returns frame to the pool.
func (ta *TinyAllocator) Deallocate(frame pmm.Frame) {
	for i := range ta.frames {
		if !ta.frames[i].IsValid() {
			ta.frames[i] = frame
			return
		}
	}
	panic("vmm: tiny allocator deallocate called with a full pool")
}

// TemporaryPage is a single virtual page, conventionally chosen outside any
// real mapping, used together with a TinyAllocator to edit a P4 frame that
// is not currently reachable through the recursive mapping.
type TemporaryPage struct {
	page Page
	tiny *TinyAllocator
}

// NewTemporaryPage constructs a TemporaryPage at the given page, prefetching
// the backing TinyAllocator's frames from alloc.
func NewTemporaryPage(page Page, alloc FrameAllocatorFn) (*TemporaryPage, *kernel.Error) {
	tiny, err := NewTinyAllocator(alloc)
	if err != nil {
		return nil, err
	}
	return &TemporaryPage{page: page, tiny: tiny}, nil
}

// Map establishes a mapping from this TemporaryPage's page to frame using
// the active page table, routing any intermediate table allocations through
// the TinyAllocator, and returns the page's virtual address.
func (tp *TemporaryPage) Map(frame pmm.Frame, active *ActivePageTable) (uintptr, *kernel.Error) {
	if err := active.mapWithAllocator(tp.page, frame, FlagRW, tp.tiny.AllocFrame); err != nil {
		return 0, err
	}
	return tp.page.Address(), nil
}

// MapTableFrame behaves like Map; the distinction the original design draws
// (that the returned pointer should be interpreted as a page table) is not
// expressible in Go's type system without a cast the caller has to do
// anyway, so both accessors share this implementation.
func (tp *TemporaryPage) MapTableFrame(frame pmm.Frame, active *ActivePageTable) (uintptr, *kernel.Error) {
	return tp.Map(frame, active)
}

// Unmap removes the mapping previously installed by Map.
func (tp *TemporaryPage) Unmap(active *ActivePageTable) *kernel.Error {
	return active.Unmap(tp.page)
}
