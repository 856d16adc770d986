package vmm

import (
	"memkern/kernel"
	"memkern/kernel/mem/pmm"
)

// Translate returns the physical address that corresponds to the supplied
// virtual address, or ErrInvalidMapping if it does not correspond to a
// mapped physical address.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	frame, err := TranslatePage(PageFromAddress(virtAddr))
	if err != nil {
		return 0, err
	}

	return frame.Address() + PageOffset(virtAddr), nil
}

// PageOffset returns the offset within its page of a virtual address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1)
}

// TranslatePage resolves the physical frame a virtual page is mapped to. It
// special-cases 1 GiB (P3-level) and 2 MiB (P2-level) huge page leaves,
// which a plain P1-leaf walk cannot express: a huge page entry never has a
// present child table, so the frame number has to be reconstructed from the
// huge page's own start frame plus the indices the walk would otherwise have
// used to descend further.
func TranslatePage(page Page) (pmm.Frame, *kernel.Error) {
	var (
		frame pmm.Frame
		err   = ErrInvalidMapping
		found bool
	)

	walk(page.Address(), func(level uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		switch {
		case level == 1 && pte.HasFlags(FlagHugePage):
			// P3-level entry: a 1 GiB huge page.
			start := pte.Frame()
			if uint64(start)%hugePage1GiBFrames != 0 {
				panic("vmm: 1 GiB huge page frame is not 1 GiB aligned")
			}
			frame = start + pmm.Frame(page.P2Index())*hugePage2MiBFrames + pmm.Frame(page.P1Index())
			found = true
			return false

		case level == 2 && pte.HasFlags(FlagHugePage):
			// P2-level entry: a 2 MiB huge page.
			start := pte.Frame()
			if uint64(start)%hugePage2MiBFrames != 0 {
				panic("vmm: 2 MiB huge page frame is not 2 MiB aligned")
			}
			frame = start + pmm.Frame(page.P1Index())
			found = true
			return false

		case level == pageLevels-1:
			frame = pte.Frame()
			found = true
			return true
		}

		return true
	})

	if !found {
		return pmm.InvalidFrame, err
	}
	return frame, nil
}
