package vmm

import "memkern/kernel/mem"

// Stack describes a kernel stack's extent. It grows downward from Top; Top
// is always greater than Bottom.
type Stack struct {
	Top, Bottom uintptr
}

// StackAllocator carves guard-page-protected stacks out of a reserved
// virtual page range. Each allocation consumes one unmapped guard page
// followed by the requested number of mapped stack pages, so that a stack
// overflowing downward faults against the guard page instead of silently
// corrupting the neighboring stack.
type StackAllocator struct {
	pages PageIter
}

// NewStackAllocator returns a StackAllocator that carves stacks out of the
// inclusive page range [rangeStart, rangeEnd].
func NewStackAllocator(rangeStart, rangeEnd Page) StackAllocator {
	return StackAllocator{pages: NewPageIter(rangeStart, rangeEnd)}
}

// AllocStack reserves a guard page followed by sizeInPages mapped pages and
// returns the resulting Stack. It returns (Stack{}, false) if sizeInPages is
// zero or the allocator's range is exhausted, in which case the range is
// left untouched.
func (sa *StackAllocator) AllocStack(apt *ActivePageTable, alloc FrameAllocatorFn, sizeInPages uint) (Stack, bool) {
	if sizeInPages == 0 {
		return Stack{}, false
	}

	it := sa.pages

	guard, ok := it.Next()
	if !ok {
		return Stack{}, false
	}
	_ = guard // deliberately left unmapped

	start, ok := it.Next()
	if !ok {
		return Stack{}, false
	}

	end := start
	if sizeInPages > 1 {
		for i := uint(0); i < sizeInPages-1; i++ {
			p, ok := it.Next()
			if !ok {
				return Stack{}, false
			}
			end = p
		}
	}

	sa.pages = it

	for page := start; page <= end; page++ {
		if err := apt.Map(page, FlagPresent|FlagRW, alloc); err != nil {
			panic(err)
		}
	}

	return Stack{Top: end.Address() + uintptr(mem.PageSize), Bottom: start.Address()}, true
}
