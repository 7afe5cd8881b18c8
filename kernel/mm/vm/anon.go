package vm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
)

// SwapSpace stores the contents of evicted anonymous pages.
type SwapSpace interface {
	// Store copies data into a free slot and returns the slot index.
	Store(data []byte) (uint32, *kernel.Error)

	// Load copies the contents of slot into data and frees the slot.
	Load(slot uint32, data []byte) *kernel.Error

	// Free discards the contents of slot.
	Free(slot uint32)
}

var (
	// swapSpace is the device used by anonymous pages. It is registered
	// via SetSwapSpace.
	swapSpace SwapSpace
)

// SetSwapSpace registers the swap device used for evicting anonymous pages.
// Without a swap device anonymous pages cannot be swapped out.
func SetSwapSpace(s SwapSpace) {
	swapSpace = s
}

// AnonPage is the variant of pages that are not backed by a file.
type AnonPage struct {
	stack bool

	// slot is valid while swapped is true.
	slot    uint32
	swapped bool
}

// anonInitializer turns an uninit page into a zero-filled anonymous page.
func anonInitializer(p *Page, t Type, f *Frame) bool {
	if f == nil || f.KVA == nil {
		return false
	}

	kernel.Memset(f.KVA, 0)
	return p.Transmute(&AnonPage{stack: t.Has(MarkerStack)}, f) == nil
}

// IsStack returns true if the page belongs to a stack.
func (a *AnonPage) IsStack() bool {
	return a.stack
}

// Swapped returns true if the page contents currently live in swap space.
func (a *AnonPage) Swapped() bool {
	return a.swapped
}

// SwapIn loads the page contents from swap space into f. Pages that were
// never swapped out come back zero-filled.
func (a *AnonPage) SwapIn(p *Page, f *Frame) bool {
	if f == nil || f.KVA == nil || p.frame != nil {
		return false
	}

	if a.swapped {
		if swapSpace == nil {
			return false
		}

		if err := swapSpace.Load(a.slot, f.KVA); err != nil {
			kfmt.Printf("[vm] anon page 0x%x: swap in failed: %s\n", p.va, err.Message)
			return false
		}
		a.swapped = false
	} else {
		kernel.Memset(f.KVA, 0)
	}

	p.attachFrame(f)
	return true
}

// SwapOut stores the page contents in swap space and releases its frame.
func (a *AnonPage) SwapOut(p *Page) bool {
	f := p.frame
	if f == nil || swapSpace == nil {
		return false
	}

	slot, err := swapSpace.Store(f.KVA)
	if err != nil {
		kfmt.Printf("[vm] anon page 0x%x: swap out failed: %s\n", p.va, err.Message)
		return false
	}

	a.slot, a.swapped = slot, true
	p.dirty = false
	p.detachFrame()
	f.Release()
	return true
}

// Destroy releases the swap slot or the frame held by the page.
func (a *AnonPage) Destroy(p *Page) {
	if a.swapped {
		if swapSpace != nil {
			swapSpace.Free(a.slot)
		}
		a.swapped = false
	}

	if f := p.detachFrame(); f != nil {
		f.Release()
	}
}

// Type implements Operations.
func (a *AnonPage) Type() Type {
	return TypeAnon
}
