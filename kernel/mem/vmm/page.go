package vmm

import "memkern/kernel/mem"

const (
	// canonicalHoleStart is the first address of the non-canonical gap
	// that amd64's 48-bit virtual address space leaves in its middle.
	canonicalHoleStart = uintptr(1) << 47

	// canonicalHoleEnd is the first address past the non-canonical gap;
	// addresses at or above it belong to the higher half.
	canonicalHoleEnd = 0xffff800000000000
)

// Page identifies a 4 KiB virtual memory page by its number: the page
// covers the virtual range [number*PageSize, (number+1)*PageSize).
type Page uintptr

// isCanonical reports whether addr lies outside the 48-bit canonical
// address hole, i.e. addr < 2^47 or addr >= 0xffff_8000_0000_0000.
func isCanonical(addr uintptr) bool {
	return addr < canonicalHoleStart || addr >= canonicalHoleEnd
}

// PageFromAddress returns the Page containing the given virtual address,
// rounding down to the nearest page boundary. It panics if addr is not a
// canonical address, since a non-canonical pointer can never be dereferenced
// on this architecture and is always a programming error.
func PageFromAddress(virtAddr uintptr) Page {
	if !isCanonical(virtAddr) {
		panic("vmm: non-canonical virtual address")
	}
	return Page(virtAddr >> mem.PageShift)
}

// Address returns the virtual address at the start of this page.
func (p Page) Address() uintptr {
	return uintptr(p) << mem.PageShift
}

// P4Index returns this page's index into the top-level (P4) page table.
func (p Page) P4Index() uintptr {
	return (uintptr(p) >> 27) & pageIndexMask
}

// P3Index returns this page's index into its P3 page table.
func (p Page) P3Index() uintptr {
	return (uintptr(p) >> 18) & pageIndexMask
}

// P2Index returns this page's index into its P2 page table.
func (p Page) P2Index() uintptr {
	return (uintptr(p) >> 9) & pageIndexMask
}

// P1Index returns this page's index into its P1 page table.
func (p Page) P1Index() uintptr {
	return uintptr(p) & pageIndexMask
}

// PageIter walks a contiguous, inclusive range of pages [cur, end].
type PageIter struct {
	cur, end Page
	done     bool
}

// NewPageIter returns an iterator over the inclusive page range [start, end].
func NewPageIter(start, end Page) PageIter {
	return PageIter{cur: start, end: end, done: start > end}
}

// Next returns the next page in the range, or (0, false) once the range is
// exhausted.
func (it *PageIter) Next() (Page, bool) {
	if it.done {
		return 0, false
	}

	page := it.cur
	if page == it.end {
		it.done = true
	} else {
		it.cur++
	}
	return page, true
}
