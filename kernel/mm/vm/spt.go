package vm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/mm"

	"github.com/benbjohnson/immutable"
)

var (
	errUninitAlloc    = &kernel.Error{Module: "vm", Message: "pages cannot be allocated with the uninit type"}
	errUnknownType    = &kernel.Error{Module: "vm", Message: "unknown page type"}
	errUnalignedVA    = &kernel.Error{Module: "vm", Message: "virtual address is not page-aligned"}
	errAlreadyMapped  = &kernel.Error{Module: "vm", Message: "virtual address is already mapped"}
	errNilPage        = &kernel.Error{Module: "vm", Message: "nil page"}
	errPageNotInTable = &kernel.Error{Module: "vm", Message: "page does not belong to the table"}

	// typeInitializers selects the type initializer for each page kind.
	typeInitializers = map[Type]TypeInitializer{
		TypeAnon:      anonInitializer,
		TypeFile:      fileInitializer,
		TypePageCache: cachePageInitializer,
	}
)

// addrComparer orders page addresses.
type addrComparer struct{}

// Compare implements immutable.Comparer.
func (addrComparer) Compare(a, b interface{}) int {
	x, y := a.(uintptr), b.(uintptr)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// SupplementalPageTable maps the virtual pages of an address space to their
// page objects. It is not safe for concurrent mutation; the owning address
// space serializes updates. Iteration works on a snapshot of the table so
// pages may be removed while iterating.
type SupplementalPageTable struct {
	pages *immutable.SortedMap
}

// NewSupplementalPageTable returns an empty table.
func NewSupplementalPageTable() *SupplementalPageTable {
	return &SupplementalPageTable{
		pages: immutable.NewSortedMap(addrComparer{}),
	}
}

// AllocPageWithInitializer creates an uninit page of type t at address va and
// inserts it into the table. When the page is first faulted in, it is turned
// into a page of type t and init is called with aux. On failure the caller
// keeps ownership of aux.
func (spt *SupplementalPageTable) AllocPageWithInitializer(t Type, va uintptr, writable bool, init Initializer, aux interface{}) *kernel.Error {
	if t.Base() == TypeUninit {
		return errUninitAlloc
	}

	typeInit, ok := typeInitializers[t.Base()]
	if !ok {
		return errUnknownType
	}

	if !mm.IsPageAligned(va) {
		return errUnalignedVA
	}

	if spt.Find(va) != nil {
		return errAlreadyMapped
	}

	p := NewUninitPage(va, init, t, aux, typeInit)
	p.writable = writable
	return spt.Insert(p)
}

// AllocPage creates an uninit page of type t at va that needs no further
// initialization after being transmuted.
func (spt *SupplementalPageTable) AllocPage(t Type, va uintptr, writable bool) *kernel.Error {
	return spt.AllocPageWithInitializer(t, va, writable, nil, nil)
}

// Find returns the page that contains va or nil.
func (spt *SupplementalPageTable) Find(va uintptr) *Page {
	v, ok := spt.pages.Get(pageAddress(va))
	if !ok {
		return nil
	}
	return v.(*Page)
}

// Insert adds p to the table. It fails if the page address is already mapped.
func (spt *SupplementalPageTable) Insert(p *Page) *kernel.Error {
	if p == nil {
		return errNilPage
	}

	if !mm.IsPageAligned(p.va) {
		return errUnalignedVA
	}

	if _, exists := spt.pages.Get(p.va); exists {
		return errAlreadyMapped
	}

	spt.pages = spt.pages.Set(p.va, p)
	return nil
}

// Remove deletes p from the table and destroys it.
func (spt *SupplementalPageTable) Remove(p *Page) *kernel.Error {
	if p == nil {
		return errNilPage
	}

	if cur := spt.Find(p.va); cur != p {
		return errPageNotInTable
	}

	spt.pages = spt.pages.Delete(p.va)
	p.Destroy()
	return nil
}

// Range invokes fn, in address order, for every page whose address falls in
// [start, end). Iteration stops when fn returns false.
func (spt *SupplementalPageTable) Range(start, end uintptr, fn func(*Page) bool) {
	itr := spt.pages.Iterator()
	itr.Seek(pageAddress(start))

	for !itr.Done() {
		k, v := itr.Next()
		if k.(uintptr) >= end {
			return
		}

		if !fn(v.(*Page)) {
			return
		}
	}
}

// Pages returns all pages in address order.
func (spt *SupplementalPageTable) Pages() []*Page {
	list := make([]*Page, 0, spt.pages.Len())
	itr := spt.pages.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		list = append(list, v.(*Page))
	}
	return list
}

// Len returns the number of pages in the table.
func (spt *SupplementalPageTable) Len() int {
	return spt.pages.Len()
}

// Kill destroys every page in the table and empties it. Pages that were never
// faulted in are released through their uninit variant.
func (spt *SupplementalPageTable) Kill() {
	pages := spt.Pages()
	spt.pages = immutable.NewSortedMap(addrComparer{})

	for _, p := range pages {
		p.Destroy()
	}
}
