package vmm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/mm"
	"lazyvm/kernel/mm/vm"
	"lazyvm/kernel/sync"
)

var (
	errStackSetup   = &kernel.Error{Module: "vmm", Message: "stack has already been set up"}
	errNotResident  = &kernel.Error{Module: "vmm", Message: "page is not resident"}
	errEvictFailed  = &kernel.Error{Module: "vmm", Message: "unable to swap out page"}
	errSwapInFailed = &kernel.Error{Module: "vmm", Message: "unable to swap in page"}
	errCopyFailed   = &kernel.Error{Module: "vmm", Message: "unable to copy page into child address space"}
)

// AddressSpace describes the user portion of a process' virtual memory. All
// operations are serialized by a per address space lock; this is also what
// guarantees that a page is never faulted in by two threads at once.
type AddressSpace struct {
	lock sync.Spinlock

	cfg    Config
	frames *vm.FrameTable
	spt    *vm.SupplementalPageTable

	// ptes is the software page table. An entry is present iff the
	// corresponding page is resident.
	ptes map[mm.Page]*pageTableEntry

	// mappings tracks the file mappings created by Mmap keyed by their
	// start address.
	mappings map[uintptr]*mapping

	// stackLow is the lowest stack page allocated so far or 0 if the
	// stack has not been set up.
	stackLow uintptr
}

// NewAddressSpace creates an empty address space whose resident pages are
// backed by frames from ft.
func NewAddressSpace(cfg Config, ft *vm.FrameTable) *AddressSpace {
	return &AddressSpace{
		cfg:      cfg,
		frames:   ft,
		spt:      vm.NewSupplementalPageTable(),
		ptes:     make(map[mm.Page]*pageTableEntry),
		mappings: make(map[uintptr]*mapping),
	}
}

// PageTable returns the supplemental page table of the address space.
func (as *AddressSpace) PageTable() *vm.SupplementalPageTable {
	return as.spt
}

// AllocPage reserves a lazily initialized page of type t at va. See
// vm.SupplementalPageTable.AllocPageWithInitializer for details.
func (as *AddressSpace) AllocPage(t vm.Type, va uintptr, writable bool, init vm.Initializer, aux interface{}) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	return as.spt.AllocPageWithInitializer(t, va, writable, init, aux)
}

// SetupStack allocates the topmost stack page and faults it in.
func (as *AddressSpace) SetupStack() *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	if as.stackLow != 0 {
		return errStackSetup
	}

	va := as.cfg.StackTop - mm.PageSize
	if err := as.spt.AllocPage(vm.TypeAnon|vm.MarkerStack, va, true); err != nil {
		return err
	}
	as.stackLow = va

	return as.claim(as.spt.Find(va))
}

// HandleFault resolves a page fault at addr. rsp is the stack pointer of the
// faulting context; user, write and notPresent describe the access that
// caused the fault. On success the faulting access can be retried. A
// ErrUnrecoverableFault error means that the faulting context must be
// terminated.
func (as *AddressSpace) HandleFault(addr, rsp uintptr, user, write, notPresent bool) *kernel.Error {
	flags := faultAllowStackGrowth
	if user {
		flags |= faultUser
	}
	if write {
		flags |= faultWrite
	}
	if notPresent {
		flags |= faultNotPresent
	}

	as.lock.Acquire()
	defer as.lock.Release()

	return as.handleFault(addr, rsp, flags)
}

// handleFault implements HandleFault. The caller must hold the address space
// lock.
func (as *AddressSpace) handleFault(addr, rsp uintptr, flags faultFlag) *kernel.Error {
	if addr == 0 {
		return nonRecoverablePageFault(addr, flags, "null pointer access")
	}

	if flags&faultUser != 0 && addr >= kernelSpaceStart {
		return nonRecoverablePageFault(addr, flags, "user access to kernel address")
	}

	p := as.spt.Find(addr)
	if p == nil && flags&faultAllowStackGrowth != 0 && as.isStackAccess(addr, rsp) {
		if err := as.growStack(addr); err != nil {
			return nonRecoverablePageFault(addr, flags, err.Message)
		}
		p = as.spt.Find(addr)
	}

	if p == nil {
		return nonRecoverablePageFault(addr, flags, "address is not mapped")
	}

	if flags&faultWrite != 0 && !p.Writable() {
		return nonRecoverablePageFault(addr, flags, "write to read-only page")
	}

	// Another thread may have brought the page in while we were waiting
	// for the lock.
	if pte := as.ptes[mm.PageFromAddress(addr)]; pte != nil && pte.HasFlags(FlagPresent) {
		return nil
	}

	if err := as.claim(p); err != nil {
		return nonRecoverablePageFault(addr, flags, err.Message)
	}

	return nil
}

// isStackAccess returns true if an access to addr with the given stack
// pointer should grow the stack.
func (as *AddressSpace) isStackAccess(addr, rsp uintptr) bool {
	if as.stackLow == 0 || addr >= as.cfg.StackTop || addr < as.cfg.stackBottom() {
		return false
	}
	return addr+stackSlack >= rsp
}

// growStack allocates the stack pages between addr and the current lowest
// stack page. Only the page containing addr is faulted in by the caller.
func (as *AddressSpace) growStack(addr uintptr) *kernel.Error {
	target := mm.PageFromAddress(addr).Address()
	for va := as.stackLow - mm.PageSize; va >= target && va < as.stackLow; va -= mm.PageSize {
		if err := as.spt.AllocPage(vm.TypeAnon|vm.MarkerStack, va, true); err != nil {
			return err
		}
		as.stackLow = va
	}
	return nil
}

// ClaimPage faults in the page at va.
func (as *AddressSpace) ClaimPage(va uintptr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	p := as.spt.Find(va)
	if p == nil {
		return ErrInvalidMapping
	}

	if pte := as.ptes[mm.PageFromAddress(va)]; pte != nil && pte.HasFlags(FlagPresent) {
		return nil
	}

	return as.claim(p)
}

// claim obtains a frame for p, swaps the page in and maps it.
func (as *AddressSpace) claim(p *vm.Page) *kernel.Error {
	f, err := as.frames.GetFrame()
	if err != nil {
		return err
	}

	if !p.SwapIn(f) {
		// A page whose type initializer failed never linked the frame.
		if f.Page() == nil {
			f.Release()
		}
		kfmt.Printf("[vmm] swap in failed for %s page at 0x%x\n", p.TargetType(), p.VirtualAddress())
		return errSwapInFailed
	}

	as.mapPage(p)
	return nil
}

// mapPage installs a present entry for the resident page p.
func (as *AddressSpace) mapPage(p *vm.Page) {
	pte := new(pageTableEntry)
	pte.SetFrame(p.Frame().Number)
	pte.SetFlags(FlagPresent | FlagUserAccessible)
	if p.Writable() {
		pte.SetFlags(FlagRW)
	}
	as.ptes[mm.PageFromAddress(p.VirtualAddress())] = pte
}

// unmapPage removes the entry for p after folding its dirty bit into the page.
func (as *AddressSpace) unmapPage(p *vm.Page) {
	page := mm.PageFromAddress(p.VirtualAddress())
	as.syncDirty(p)
	delete(as.ptes, page)
}

// syncDirty propagates the dirty bit of the page table entry for p into the
// page itself and clears it.
func (as *AddressSpace) syncDirty(p *vm.Page) {
	if pte := as.ptes[mm.PageFromAddress(p.VirtualAddress())]; pte != nil && pte.HasFlags(FlagDirty) {
		p.SetDirty(true)
		pte.ClearFlags(FlagDirty)
	}
}

// Translate returns the physical frame that va is mapped to.
func (as *AddressSpace) Translate(va uintptr) (mm.Frame, *kernel.Error) {
	as.lock.Acquire()
	defer as.lock.Release()

	pte := as.ptes[mm.PageFromAddress(va)]
	if pte == nil || !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame, ErrInvalidMapping
	}
	return pte.Frame(), nil
}

// Read copies len(buf) bytes starting at addr into buf, faulting in pages
// as needed.
func (as *AddressSpace) Read(addr uintptr, buf []byte) *kernel.Error {
	return as.access(addr, buf, false)
}

// Write copies data to the address space starting at addr, faulting in pages
// as needed and marking them dirty.
func (as *AddressSpace) Write(addr uintptr, data []byte) *kernel.Error {
	return as.access(addr, data, true)
}

func (as *AddressSpace) access(addr uintptr, buf []byte, write bool) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	flags := faultUser
	if write {
		flags |= faultWrite
	}

	for len(buf) > 0 {
		var (
			page   = mm.PageFromAddress(addr)
			offset = addr & mm.PageOffsetMask
			pte    = as.ptes[page]
		)

		if pte == nil || !pte.HasFlags(FlagPresent) {
			if err := as.handleFault(addr, 0, flags|faultNotPresent); err != nil {
				return err
			}
			pte = as.ptes[page]
		} else if write && !pte.HasFlags(FlagRW) {
			return nonRecoverablePageFault(addr, flags, "write to read-only page")
		}

		kva := as.spt.Find(addr).Frame().KVA[offset:]

		var n int
		if write {
			n = kernel.Memcopy(kva, buf)
			pte.SetFlags(FlagAccessed | FlagDirty)
		} else {
			n = kernel.Memcopy(buf, kva)
			pte.SetFlags(FlagAccessed)
		}

		addr += uintptr(n)
		buf = buf[n:]
	}

	return nil
}

// Evict swaps out the resident page at va. Choosing which page to evict is
// up to the caller.
func (as *AddressSpace) Evict(va uintptr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	p := as.spt.Find(va)
	if p == nil {
		return ErrInvalidMapping
	}

	pte := as.ptes[mm.PageFromAddress(va)]
	if pte == nil || !pte.HasFlags(FlagPresent) {
		return errNotResident
	}

	as.syncDirty(p)
	if !p.SwapOut() {
		return errEvictFailed
	}

	delete(as.ptes, mm.PageFromAddress(va))
	return nil
}

// Fork returns a copy of the address space. Pages that were never faulted in
// are copied lazily with the same initializers; all other pages are
// faulted in on both sides and their contents copied.
func (as *AddressSpace) Fork() (*AddressSpace, *kernel.Error) {
	as.lock.Acquire()
	defer as.lock.Release()

	child := NewAddressSpace(as.cfg, as.frames)
	child.stackLow = as.stackLow
	for start, m := range as.mappings {
		child.mappings[start] = m.clone()
	}

	for _, p := range as.spt.Pages() {
		if err := as.copyPage(child, p); err != nil {
			child.destroy()
			return nil, err
		}
	}

	return child, nil
}

// copyPage duplicates p into child.
func (as *AddressSpace) copyPage(child *AddressSpace, p *vm.Page) *kernel.Error {
	if p.Type() == vm.TypeUninit {
		clone, ok := p.CloneUninit()
		if !ok {
			return errCopyFailed
		}
		return child.spt.Insert(clone)
	}

	var (
		init vm.Initializer
		aux  interface{}
	)
	if seg, ok := vm.Segment(p); ok {
		init, aux = vm.LoadSegment, seg
	}

	va := p.VirtualAddress()
	if err := child.spt.AllocPageWithInitializer(p.TargetType(), va, p.Writable(), init, aux); err != nil {
		return err
	}

	if p.Frame() == nil {
		if err := as.claim(p); err != nil {
			return err
		}
	}

	childPage := child.spt.Find(va)
	if err := child.claim(childPage); err != nil {
		return err
	}

	as.syncDirty(p)
	kernel.Memcopy(childPage.Frame().KVA, p.Frame().KVA)
	childPage.SetDirty(p.Dirty())
	return nil
}

// Destroy releases every page of the address space. Dirty file pages are
// written back.
func (as *AddressSpace) Destroy() {
	as.lock.Acquire()
	defer as.lock.Release()

	as.destroy()
}

func (as *AddressSpace) destroy() {
	for _, p := range as.spt.Pages() {
		as.syncDirty(p)
	}

	as.spt.Kill()
	as.ptes = make(map[mm.Page]*pageTableEntry)
	as.mappings = make(map[uintptr]*mapping)
	as.stackLow = 0
}

// PrintStats prints a summary of the address space.
func (as *AddressSpace) PrintStats() {
	as.lock.Acquire()
	defer as.lock.Release()

	counts := make(map[vm.Type]int)
	for _, p := range as.spt.Pages() {
		counts[p.Type()]++
	}

	kfmt.Printf(
		"[vmm] address space: %d pages (%d uninit, %d anon, %d file, %d page cache), %d resident\n",
		as.spt.Len(),
		counts[vm.TypeUninit],
		counts[vm.TypeAnon],
		counts[vm.TypeFile],
		counts[vm.TypePageCache],
		len(as.ptes),
	)
}
